package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/basinlabs/browserbridge/internal/state"
	"github.com/basinlabs/browserbridge/internal/store"
)

// exportCmd writes one session's export bundle to a file, offline against
// the on-disk database — the CLI counterpart to POST /sessions/:id/export
// (internal/admin), for operators scripting backups without standing up
// the server.
func exportCmd() *cobra.Command {
	var (
		dataDir    string
		out        string
		format     string
		includePNG bool
	)

	cmd := &cobra.Command{
		Use:   "export <sessionId>",
		Short: "Export one session to a ZIP or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := args[0]
			log := newLogger(false)

			dir := dataDir
			if dir == "" {
				resolved, err := state.DataDir()
				if err != nil {
					return fmt.Errorf("resolve data dir: %w", err)
				}
				dir = resolved
			}

			st, err := store.Open(cmd.Context(), dir, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			switch format {
			case "zip":
				zipBytes, err := st.ExportSessionZIP(cmd.Context(), sessionID)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				if out == "" {
					out = sessionID + ".zip"
				}
				if err := os.WriteFile(out, zipBytes, 0o640); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			case "json":
				payload, err := st.ExportSessionJSON(cmd.Context(), sessionID, includePNG)
				if err != nil {
					return fmt.Errorf("export: %w", err)
				}
				data, err := json.MarshalIndent(payload, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal: %w", err)
				}
				if out == "" {
					out = sessionID + ".json"
				}
				if err := os.WriteFile(out, data, 0o640); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			default:
				return fmt.Errorf("unknown format: %s (want zip or json)", format)
			}

			fmt.Printf("exported %s -> %s\n", sessionID, out)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&dataDir, "data-dir", "", "override the Store's data directory")
	f.StringVar(&out, "out", "", "output file path (default: <sessionId>.<format>)")
	f.StringVar(&format, "format", "zip", "zip or json")
	f.BoolVar(&includePNG, "include-png", false, "inline snapshot PNGs as base64 (json format only)")

	return cmd
}
