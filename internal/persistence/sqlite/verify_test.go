// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesPragmas(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "p.sqlite"), DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestVerifyIntegrity_DetectsCorruption(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "corruptible.sqlite")

	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, data TEXT)")
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err = db.Exec("INSERT INTO t (data) VALUES (?)", strings.Repeat("A", 200))
		require.NoError(t, err)
	}
	_, err = db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	issues, err := VerifyIntegrity(dbPath, VerifyQuick)
	require.NoError(t, err)
	require.Nil(t, issues)

	f, err := os.OpenFile(dbPath, os.O_RDWR, 0o644)
	require.NoError(t, err)
	garbage := make([]byte, 512)
	for i := range garbage {
		garbage[i] = 0xFF
	}
	_, err = f.WriteAt(garbage, 4096+100)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	issues, err = VerifyIntegrity(dbPath, VerifyFull)
	if err != nil {
		// a mangled page can also surface as a query error
		return
	}
	assert.NotEmpty(t, issues)

	var corrupt *CorruptError
	require.ErrorAs(t, EnsureHealthy(dbPath, VerifyFull), &corrupt)
	assert.Equal(t, dbPath, corrupt.Path)
	assert.Equal(t, issues, corrupt.Problems)
}

func TestEnsureHealthy_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, EnsureHealthy(filepath.Join(t.TempDir(), "absent.sqlite"), VerifyQuick))
}

func TestEnsureHealthy_FreshStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "devices.db")
	db, err := Open(dbPath, DefaultConfig())
	require.NoError(t, err)
	_, err = db.Exec("CREATE TABLE devices (id TEXT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	assert.NoError(t, EnsureHealthy(dbPath, VerifyQuick))
}

func TestConfigDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, cfg.dsn("/data/devices.db"), "busy_timeout(5000)")
	assert.Contains(t, cfg.dsn("/data/devices.db"), "synchronous(NORMAL)")

	cfg.Synchronous = ""
	assert.Contains(t, cfg.dsn("x.db"), "synchronous(NORMAL)")
	cfg.Synchronous = "FULL"
	assert.Contains(t, cfg.dsn("x.db"), "synchronous(FULL)")
}
