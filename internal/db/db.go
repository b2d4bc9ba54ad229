package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/simracekit/pitwall/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/pitwall.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.pitwall.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "pitwall.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS laps (
		  lap_id        TEXT PRIMARY KEY,
		  source_path   TEXT NOT NULL,
		  game          TEXT,
		  track         TEXT,
		  session_type  TEXT,
		  driver        TEXT,
		  session_uid   TEXT,
		  recorded_at   INTEGER NOT NULL,
		  tyre          TEXT,
		  fuel_start    REAL,
		  fuel_end      REAL,
		  lap_time_s    REAL NOT NULL,
		  wear_fl       REAL,
		  wear_fr       REAL,
		  wear_rl       REAL,
		  wear_rr       REAL,
		  weather       TEXT,
		  sample_count  INTEGER NOT NULL DEFAULT 0,
		  skipped_rows  INTEGER NOT NULL DEFAULT 0,
		  speed_min     REAL, speed_max REAL, speed_avg REAL,
		  throttle_min  REAL, throttle_max REAL, throttle_avg REAL,
		  brake_min     REAL, brake_max REAL, brake_avg REAL,
		  rpm_min       REAL, rpm_max REAL, rpm_avg REAL,
		  import_run_id TEXT,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_laps_track_time
		ON laps(track, recorded_at);

		CREATE INDEX IF NOT EXISTS idx_laps_session
		ON laps(session_uid, recorded_at);

		CREATE INDEX IF NOT EXISTS idx_laps_source_path
		ON laps(source_path);

		CREATE TABLE IF NOT EXISTS cached_files (
		  rel_path    TEXT NOT NULL,
		  fingerprint TEXT NOT NULL,
		  size        INTEGER NOT NULL,
		  modified_at INTEGER NOT NULL,
		  cache_path  TEXT NOT NULL,
		  status      TEXT NOT NULL DEFAULT 'pending',
		  created_at  INTEGER NOT NULL,
		  PRIMARY KEY (rel_path, fingerprint)
		);

		CREATE INDEX IF NOT EXISTS idx_cached_files_path
		ON cached_files(rel_path, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_cached_files_status
		ON cached_files(status);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
