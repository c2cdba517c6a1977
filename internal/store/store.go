// Package store implements the SQLite content store: subjects, raw scraped
// items, derived retrieval units with embeddings, and the per-subject stage
// history.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"personalens/internal/logging"
)

// ContentStore is the single persistence layer for the pipeline. All writes
// go through one connection; SQLite serializes them.
type ContentStore struct {
	db        *sql.DB
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*ContentStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening content store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// PRAGMA synchronous=NORMAL provides 5-10x write speedup with WAL mode
	// (vs FULL which is default). Safe because WAL already provides crash recovery.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &ContentStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected and enabled")
	} else {
		logging.StoreDebug("sqlite-vec extension not available; using in-process similarity")
	}

	logging.Store("Content store ready")
	return s, nil
}

// Close closes the underlying database.
func (s *ContentStore) Close() error {
	return s.db.Close()
}

// DB exposes the raw database handle for maintenance tooling.
func (s *ContentStore) DB() *sql.DB {
	return s.db
}

// initialize creates the required tables.
func (s *ContentStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS subjects (
			key TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			stage TEXT NOT NULL DEFAULT 'DISCOVERED',
			degraded INTEGER NOT NULL DEFAULT 0,
			base_image TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS discovered_profiles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_key TEXT NOT NULL REFERENCES subjects(key),
			platform TEXT NOT NULL,
			url TEXT NOT NULL,
			title TEXT,
			handle TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(subject_key, platform, url)
		)`,
		`CREATE TABLE IF NOT EXISTS raw_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_key TEXT NOT NULL REFERENCES subjects(key),
			platform TEXT NOT NULL,
			item_id TEXT NOT NULL,
			text TEXT NOT NULL,
			url TEXT,
			media_path TEXT,
			posted_at DATETIME,
			scraped_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(subject_key, platform, item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS derived_units (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_key TEXT NOT NULL REFERENCES subjects(key),
			raw_item_id INTEGER,
			platform TEXT NOT NULL,
			category TEXT NOT NULL,
			text TEXT NOT NULL,
			summary TEXT,
			embedding TEXT,
			engine TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(subject_key, raw_item_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_key TEXT NOT NULL REFERENCES subjects(key),
			stage TEXT NOT NULL,
			outcomes TEXT,
			detail TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(subject_key, stage)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_items_subject ON raw_items(subject_key, platform)`,
		`CREATE INDEX IF NOT EXISTS idx_units_subject ON derived_units(subject_key)`,
		`CREATE INDEX IF NOT EXISTS idx_records_subject ON stage_records(subject_key, recorded_at)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes for the sqlite-vec vec0 virtual table module.
func (s *ContentStore) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		s.vectorExt = false
		return
	}
	s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	s.vectorExt = true
}

// HasVectorExt reports whether native vector search is available.
func (s *ContentStore) HasVectorExt() bool {
	return s.vectorExt
}
