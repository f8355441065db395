// Package database is the SQLite store for users, time slots and bookings.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps the SQLite connection pool.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens (creating if needed) the database at path and applies the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets LIST_SLOTS readers run while a booking commits. Immediate
	// transactions take the write lock up front so busy_timeout applies.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS time_slots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			description TEXT NOT NULL,
			available BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_token TEXT NOT NULL,
			user_id INTEGER,
			time_slot_id INTEGER NOT NULL,
			booked_at DATETIME NOT NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			FOREIGN KEY(user_id) REFERENCES users(id),
			FOREIGN KEY(time_slot_id) REFERENCES time_slots(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_time_slots_available ON time_slots(available, start_time)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_time_slots_identity ON time_slots(start_time, end_time, description)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner ON bookings(owner_token, active)`,
		// At most one active booking per slot, whatever the application does.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_one_active ON bookings(time_slot_id) WHERE active = 1`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Path is the database file location.
func (db *DB) Path() string {
	return db.path
}

// Ping is used by readiness checks.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func isUniqueViolation(err error, column string) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	if sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return column == "" || strings.Contains(sqliteErr.Error(), column)
}
