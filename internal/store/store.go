// Package store is the Store component from spec.md §4.1: the single
// persistence authority for sessions, events, network records, error
// fingerprints, and snapshot metadata, plus the on-disk snapshot PNG asset
// tree that lives alongside the database file.
//
// Schema evolves through append-only, versioned goose migrations (see
// internal/store/migrations); on Open, every migration whose version
// exceeds the current schema_version runs in order, each in its own
// transaction. A migration that fails aborts the process — the caller of
// Open should treat a non-nil error as fatal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/basinlabs/browserbridge/internal/store/migrations"
)

// DBFileName is the on-disk database file name inside the data directory.
const DBFileName = "browser-debug.db"

// AssetDirName is the on-disk snapshot PNG asset tree directory name.
const AssetDirName = "snapshot-assets"

// Store owns the relational database and the snapshot asset tree rooted at
// the same data directory. All field access goes through its methods; the
// Session Registry and Ingest Pipeline never open the database directly.
type Store struct {
	db      *sql.DB
	dataDir string
	dbPath  string
	log     zerolog.Logger
}

// Open creates (if absent) and migrates the database at
// <dataDir>/browser-debug.db, enabling WAL journaling and foreign keys.
func Open(ctx context.Context, dataDir string, log zerolog.Logger) (*Store, error) {
	dbPath := filepath.Join(dataDir, DBFileName)

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer, single-host per spec.md §1
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping sqlite: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	s := &Store{
		db:      db,
		dataDir: dataDir,
		dbPath:  dbPath,
		log:     log.With().Str("component", "store").Logger(),
	}
	return s, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DataDir returns the data directory the Store and its asset tree live under.
func (s *Store) DataDir() string {
	return s.dataDir
}

// DBPath returns the absolute path of the database file.
func (s *Store) DBPath() string {
	return s.dbPath
}

// DBSizeBytes stats the database file (main + WAL) for the retention engine's
// size phase.
func (s *Store) DBSizeBytes() (int64, error) {
	return dbFileSize(s.dbPath)
}

// Compact runs VACUUM, reclaiming space after retention deletions. The sqlite
// driver requires this to run outside any open transaction.
func (s *Store) Compact(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// withTx runs fn inside a single transaction, committing on success and
// rolling back on any error (including a panic, which is re-raised).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
