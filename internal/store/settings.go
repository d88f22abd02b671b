package store

import (
	"context"
	"database/sql"
	"fmt"
)

// GetSettings reads the singleton server_settings row.
func (s *Store) GetSettings(ctx context.Context) (*ServerSettings, error) {
	var st ServerSettings
	var exportOverride sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT retention_days, max_db_mb, max_sessions, cleanup_interval_minutes, last_cleanup_at, export_path_override
		FROM server_settings WHERE id = 1`).Scan(
		&st.RetentionDays, &st.MaxDBMb, &st.MaxSessions, &st.CleanupIntervalMinutes, &st.LastCleanupAt, &exportOverride)
	if err != nil {
		return nil, fmt.Errorf("store: get settings: %w", err)
	}
	st.ExportPathOverride = exportOverride.String
	return &st, nil
}

// UpdateSettings replaces the mutable retention knobs; last_cleanup_at is
// managed separately via MarkCleanupRan.
func (s *Store) UpdateSettings(ctx context.Context, st ServerSettings) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE server_settings SET retention_days = ?, max_db_mb = ?, max_sessions = ?,
			cleanup_interval_minutes = ?, export_path_override = ? WHERE id = 1`,
		st.RetentionDays, st.MaxDBMb, st.MaxSessions, st.CleanupIntervalMinutes, nullableString(st.ExportPathOverride))
	if err != nil {
		return fmt.Errorf("store: update settings: %w", err)
	}
	return nil
}

// MarkCleanupRan stamps last_cleanup_at after a retention pass completes.
func (s *Store) MarkCleanupRan(ctx context.Context, ranAt int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE server_settings SET last_cleanup_at = ? WHERE id = 1`, ranAt)
	return err
}
