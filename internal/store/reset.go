package store

import (
	"context"
	"os"
	"path/filepath"
)

// ResetAll wipes every session (cascading to events, network_records,
// error_fingerprints, and snapshots per the schema's ON DELETE CASCADE) and
// removes the on-disk snapshot asset tree, leaving server_settings intact.
// Used by the admin /db/reset endpoint (spec.md §6) — a destructive,
// operator-triggered action, never called from the ingest or tool paths.
func (s *Store) ResetAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return err
	}
	assetDir := filepath.Join(s.dataDir, AssetDirName)
	if err := os.RemoveAll(assetDir); err != nil {
		return err
	}
	return os.MkdirAll(assetDir, 0o750)
}
