// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// VerifyMode picks the integrity pragma.
type VerifyMode string

const (
	// VerifyQuick runs PRAGMA quick_check; used on every store open.
	VerifyQuick VerifyMode = "quick"
	// VerifyFull runs PRAGMA integrity_check, which also validates indexes.
	VerifyFull VerifyMode = "full"
)

func (m VerifyMode) pragma() string {
	if m == VerifyFull {
		return "PRAGMA integrity_check;"
	}
	return "PRAGMA quick_check;"
}

// CorruptError reports a database that failed its integrity check.
type CorruptError struct {
	Path     string
	Problems []string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("sqlite: %s is corrupt: %s", e.Path, strings.Join(e.Problems, "; "))
}

// VerifyIntegrity opens path read-only and runs the pragma for mode.
// A healthy database yields nil problems.
func VerifyIntegrity(path string, mode VerifyMode) ([]string, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(2000)", path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s for verify: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(mode.pragma())
	if err != nil {
		return nil, fmt.Errorf("sqlite: %s check on %s: %w", mode, path, err)
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s check row: %w", mode, err)
		}
		problems = append(problems, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: %s check on %s: %w", mode, path, err)
	}

	// healthy is exactly one row reading "ok"
	switch {
	case len(problems) == 1 && strings.EqualFold(problems[0], "ok"):
		return nil, nil
	case len(problems) == 0:
		return []string{"integrity check returned no rows"}, nil
	}
	return problems, nil
}

// EnsureHealthy verifies path if it exists. A missing file is fine since
// Open will create it. Problems come back as *CorruptError.
func EnsureHealthy(path string, mode VerifyMode) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	problems, err := VerifyIntegrity(path, mode)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &CorruptError{Path: path, Problems: problems}
	}
	return nil
}
