// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/avbridge/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore persists device records in SQLite (WAL mode).
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens dbPath and applies pending migrations. An existing
// database that fails the quick integrity check is refused.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	if err := sqlite.EnsureHealthy(dbPath, sqlite.VerifyQuick); err != nil {
		return nil, fmt.Errorf("device store: %w", err)
	}

	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("device store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		protocol TEXT NOT NULL,
		address TEXT NOT NULL,
		settings TEXT NOT NULL DEFAULT '{}',
		updated_at_ms INTEGER NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, type, protocol, address, settings FROM devices ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("device store: load: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var raw string
		if err := rows.Scan(&r.ID, &r.Type, &r.Protocol, &r.Address, &raw); err != nil {
			return nil, fmt.Errorf("device store: scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Settings); err != nil {
			return nil, fmt.Errorf("device store: decode settings for %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SqliteStore) Save(ctx context.Context, rec Record) error {
	settings := rec.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("device store: encode settings: %w", err)
	}

	query := `
	INSERT INTO devices (id, type, protocol, address, settings, updated_at_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		type = excluded.type,
		protocol = excluded.protocol,
		address = excluded.address,
		settings = excluded.settings,
		updated_at_ms = excluded.updated_at_ms
	`
	if _, err := s.DB.ExecContext(ctx, query,
		rec.ID, rec.Type, rec.Protocol, rec.Address, string(raw), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("device store: save %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id); err != nil {
		return fmt.Errorf("device store: delete %s: %w", id, err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}
