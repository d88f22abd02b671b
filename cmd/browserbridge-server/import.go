package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/basinlabs/browserbridge/internal/state"
	"github.com/basinlabs/browserbridge/internal/store"
)

// importCmd re-creates a session (under a fresh session id) from a file
// produced by export — the CLI counterpart to POST /sessions/import.
func importCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a session export (ZIP or JSON) produced by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
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
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}

			now := time.Now().UnixMilli()
			var newSessionID string
			if strings.HasSuffix(strings.ToLower(path), ".json") {
				var payload store.ExportPayload
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("parse %s: %w", path, err)
				}
				newSessionID, err = st.ImportSessionJSON(cmd.Context(), payload, now)
			} else {
				newSessionID, err = st.ImportSessionZIP(cmd.Context(), data, now)
			}
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			fmt.Printf("imported %s -> session %s\n", path, newSessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the Store's data directory")
	return cmd
}
