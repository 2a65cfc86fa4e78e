// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package sqlite opens SQLite databases with the pragmas every avbridge store
// relies on (WAL, busy timeout, foreign keys) and checks existing files
// before a store adopts them.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Config tunes the connection pool behind a store.
type Config struct {
	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration

	// MaxOpenConns also caps idle connections. WAL allows concurrent
	// readers next to the single writer.
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections; zero keeps them forever.
	ConnMaxLifetime time.Duration

	// Synchronous is the PRAGMA synchronous level. NORMAL is durable
	// enough under WAL for device records.
	Synchronous string
}

// DefaultConfig suits the device store: small rows, rare writes on
// registry changes, frequent reads from the HTTP API.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:     5 * time.Second,
		MaxOpenConns:    8,
		ConnMaxLifetime: time.Hour,
		Synchronous:     "NORMAL",
	}
}

// dsn puts the pragmas into the connection string so that every pooled
// connection gets them, not just the first one.
func (c Config) dsn(path string) string {
	sync := c.Synchronous
	if sync == "" {
		sync = "NORMAL"
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(%s)&_pragma=foreign_keys(ON)",
		path, c.BusyTimeout.Milliseconds(), sync)
}

// Open returns a pinged pool for path, creating the file if needed.
func Open(path string, cfg Config) (*sql.DB, error) {
	db, err := sql.Open("sqlite", cfg.dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return db, nil
}
