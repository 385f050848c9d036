package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS brands (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		website_url TEXT NOT NULL,
		description TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_brands_created ON brands(created_at);

	CREATE TABLE IF NOT EXISTS brand_social_media (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		brand_id TEXT NOT NULL REFERENCES brands(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		platform TEXT NOT NULL,
		handle TEXT NOT NULL,
		url TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_brand_social_media_brand ON brand_social_media(brand_id);

	CREATE TABLE IF NOT EXISTS brand_keywords (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		brand_id TEXT NOT NULL REFERENCES brands(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		keyword TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_brand_keywords_brand ON brand_keywords(brand_id);
	`

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newSQLStore(db, dialect{name: "sqlite", schema: sqliteSchema})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Open picks the backend: a postgres:// or postgresql:// databaseURL selects
// Postgres, anything else falls back to SQLite at dbPath.
func Open(databaseURL, dbPath string) (*SQLStore, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return NewPostgres(databaseURL)
	}
	return NewSQLite(dbPath)
}
