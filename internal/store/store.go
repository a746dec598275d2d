// Package store provides persistent storage for wosbot using SQLite.
// It owns the process queue, alliance and player rosters, change-history
// tables, gift-code usage, settings, and system/admin logs.
//
// Writes are serialized through a single mutex on top of WAL journal mode:
// readers never block writers beyond an individual commit.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrActiveExists is returned when a write would violate the
	// single-active-process invariant. This indicates a scheduler bug.
	ErrActiveExists = errors.New("store: another process is already active")
)

// Store provides durable storage backed by a single SQLite database.
type Store struct {
	db   *sql.DB
	path string

	// writeMu funnels all mutating statements through one writer.
	writeMu chanMutex

	logSubs *logSubscribers
}

// NewStore opens (creating if needed) the database under dataPath and runs
// migrations.
func NewStore(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataPath, "wosbot.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:      db,
		path:    dataPath,
		writeMu: newChanMutex(),
		logSubs: newLogSubscribers(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS processes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			action TEXT NOT NULL,
			target INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'queued',
			priority INTEGER NOT NULL,
			details TEXT,
			progress TEXT,
			resume_after INTEGER,
			preempted_by INTEGER,
			created_by TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS alliances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			priority INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL,
			channel_id TEXT,
			interval TEXT,
			auto_redeem BOOLEAN DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS players (
			fid INTEGER PRIMARY KEY,
			alliance_id INTEGER NOT NULL,
			nickname TEXT NOT NULL DEFAULT 'Unknown',
			furnace_level INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			exist INTEGER NOT NULL DEFAULT 0,
			is_rich BOOLEAN DEFAULT FALSE,
			vip_count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (alliance_id) REFERENCES alliances(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS furnace_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fid INTEGER NOT NULL,
			old_value TEXT NOT NULL,
			new_value TEXT NOT NULL,
			changed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS nickname_changes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fid INTEGER NOT NULL,
			old_value TEXT NOT NULL,
			new_value TEXT NOT NULL,
			changed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS giftcode_usage (
			fid INTEGER NOT NULL,
			gift_code TEXT NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (fid, gift_code)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS system_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			component TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS admin_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_processes_status_priority ON processes(status, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_processes_resume_after ON processes(resume_after)`,
		`CREATE INDEX IF NOT EXISTS idx_processes_preempted_by ON processes(preempted_by)`,
		`CREATE INDEX IF NOT EXISTS idx_players_alliance ON players(alliance_id)`,
		`CREATE INDEX IF NOT EXISTS idx_furnace_changes_fid ON furnace_changes(fid)`,
		`CREATE INDEX IF NOT EXISTS idx_nickname_changes_fid ON nickname_changes(fid)`,
		`CREATE INDEX IF NOT EXISTS idx_giftcode_usage_code ON giftcode_usage(gift_code)`,
		`CREATE INDEX IF NOT EXISTS idx_system_logs_created ON system_logs(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection and releases resources.
func (s *Store) Close() error {
	s.logSubs.closeAll()
	return s.db.Close()
}

// chanMutex is a channel-based mutex so writers can honor context cancellation
// if that ever becomes necessary; for now it is used as a plain lock.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) lock()   { <-m }
func (m chanMutex) unlock() { m <- struct{}{} }

// withWriteTx runs fn inside a transaction while holding the single-writer
// lock. The transaction is rolled back if fn returns an error.
func (s *Store) withWriteTx(fn func(tx *sql.Tx) error) error {
	s.writeMu.lock()
	defer s.writeMu.unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// exec runs a single mutating statement under the writer lock.
func (s *Store) exec(query string, args ...any) (sql.Result, error) {
	s.writeMu.lock()
	defer s.writeMu.unlock()
	return s.db.Exec(query, args...)
}
