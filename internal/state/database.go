package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database manages the SQLite database for state persistence
type Database struct {
	db     *sql.DB
	dbPath string
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (*Database, error) {
	dir := filepath.Dir(dbPath)
	if err := ensureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	database := &Database{
		db:     db,
		dbPath: dbPath,
	}

	if err := database.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.dbPath
}

// initSchema initializes the database schema
func (d *Database) initSchema() error {
	schema := `
	-- System state table
	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- One row per cycle that produced detections
	CREATE TABLE IF NOT EXISTS detection_history (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		detection_count INTEGER NOT NULL,
		detections TEXT NOT NULL, -- JSON array
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Viewer connections, for visitor stats
	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		viewer_id TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT 'unknown',
		remote_addr TEXT,
		user_agent TEXT,
		visited_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_detection_history_timestamp ON detection_history(timestamp, seq);
	CREATE INDEX IF NOT EXISTS idx_visits_country ON visits(country);
	`

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// ensureDir ensures a directory exists
func ensureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}
