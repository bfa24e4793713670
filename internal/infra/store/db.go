// Package store provides the SQLite database holding lyric timings and play counts.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the database.
	DefaultDBPath = "data/hymnal.db"
)

var (
	// ErrNotFound is returned when a track has no stored rows.
	ErrNotFound = errors.New("not found")

	errNotOpen = errors.New("database not open")
)

// DB represents the SQLite database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Stats summarises the database contents.
type Stats struct {
	LyricTracks   int    `json:"lyricTracks"`
	LyricLines    int    `json:"lyricLines"`
	PlayedTracks  int    `json:"playedTracks"`
	SchemaVersion string `json:"schemaVersion"`
}

// NewDB creates a new database instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{
		path: path,
	}
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir := filepath.Dir(d.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	if err := d.createSchema(); err != nil {
		return err
	}

	currentVersion := d.getSchemaVersion()
	if currentVersion == "" {
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating database schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}
	return nil
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS lyric_lines (
		track_id TEXT NOT NULL,
		line_number INTEGER NOT NULL,
		start_time REAL,
		end_time REAL,
		text TEXT NOT NULL,
		is_chorus INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (track_id, line_number)
	);

	CREATE TABLE IF NOT EXISTS play_counts (
		track_id TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		last_played TEXT
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *DB) getSchemaVersion() string {
	version, err := d.getMeta("schema_version")
	if err != nil {
		return ""
	}
	return version
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

func (d *DB) getMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetStats returns database statistics.
func (d *DB) GetStats() (*Stats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, errNotOpen
	}

	stats := &Stats{}
	row := d.db.QueryRow("SELECT COUNT(DISTINCT track_id), COUNT(*) FROM lyric_lines")
	if err := row.Scan(&stats.LyricTracks, &stats.LyricLines); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM play_counts").Scan(&stats.PlayedTracks); err != nil {
		return nil, err
	}
	stats.SchemaVersion, _ = d.getMeta("schema_version")
	return stats, nil
}

// DB returns the underlying connection, nil when closed.
func (d *DB) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}
