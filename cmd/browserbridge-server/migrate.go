package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basinlabs/browserbridge/internal/state"
	"github.com/basinlabs/browserbridge/internal/store"
)

// migrateCmd applies every pending goose migration and exits — store.Open
// already does this on every server start, so this subcommand exists purely
// for operators who want migrations applied (and errors surfaced) without
// also starting the ingest/admin/stdio loops, the same split the pack's
// goclaw `migrate` command tree draws between schema changes and running
// the service.
func migrateCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(false)

			dir := dataDir
			if dir == "" {
				resolved, err := state.DataDir()
				if err != nil {
					return fmt.Errorf("resolve data dir: %w", err)
				}
				dir = resolved
			}
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			st, err := store.Open(cmd.Context(), dir, log)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer st.Close()

			fmt.Printf("database at %s is up to date\n", st.DBPath())
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the Store's data directory")
	return cmd
}
