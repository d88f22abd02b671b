// Command browserbridge-server is the browserbridge entrypoint (spec.md §6,
// SPEC_FULL.md's DOMAIN STACK): a Cobra command tree with serve, migrate,
// export, and import subcommands, following the teacher's
// cmd/dev-console single-binary layout and the pack's goclaw-style
// multi-file Cobra command tree (one file per subcommand, each returning a
// *cobra.Command, wired together in init()).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is the server's reported build version; overridable at build
// time via -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "browserbridge-server",
	Short: "Local browser-debugging bridge: ingest, storage, and MCP tool runtime",
}

func init() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("browserbridge-server %s\n", version)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
