// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Consumption is one recorded debit.
type Consumption struct {
	ProviderID string
	At         time.Time
	Consumed   int
	Balance    int
}

// Transition is one adjacent status step.
type Transition struct {
	ProviderID string
	At         time.Time
	From       Status
	To         Status
	Credits    int
}

// RecordKind distinguishes history rows.
type RecordKind string

const (
	RecordConsumption RecordKind = "consumption"
	RecordTransition  RecordKind = "transition"
)

// Record is one history row.
type Record struct {
	Kind       RecordKind `json:"kind"`
	ProviderID string     `json:"provider_id"`
	At         time.Time  `json:"at"`
	Consumed   int        `json:"consumed,omitempty"`
	Balance    int        `json:"balance"`
	From       *Status    `json:"from,omitempty"`
	To         *Status    `json:"to,omitempty"`
}

// Store persists ledger history.
type Store interface {
	RecordConsumption(ctx context.Context, c Consumption) error
	RecordTransition(ctx context.Context, t Transition) error
	History(ctx context.Context, providerID string, since time.Time) ([]Record, error)
	Close() error
}

// =============================================================================
// SQLITE STORE
// =============================================================================

const historySchema = `
CREATE TABLE IF NOT EXISTS consumption (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    at INTEGER NOT NULL,       -- Unix nanoseconds
    consumed INTEGER NOT NULL,
    balance INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_consumption_provider_at ON consumption(provider, at);

CREATE TABLE IF NOT EXISTS transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    at INTEGER NOT NULL,       -- Unix nanoseconds
    from_status TEXT NOT NULL,
    to_status TEXT NOT NULL,
    balance INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_provider_at ON transitions(provider, at);
`

// SQLiteStore keeps history in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and creates if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("history database path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// RecordConsumption implements Store.
func (s *SQLiteStore) RecordConsumption(ctx context.Context, c Consumption) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO consumption (provider, at, consumed, balance) VALUES (?, ?, ?, ?)",
		c.ProviderID, c.At.UnixNano(), c.Consumed, c.Balance)
	return err
}

// RecordTransition implements Store.
func (s *SQLiteStore) RecordTransition(ctx context.Context, t Transition) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transitions (provider, at, from_status, to_status, balance) VALUES (?, ?, ?, ?, ?)",
		t.ProviderID, t.At.UnixNano(), t.From.String(), t.To.String(), t.Credits)
	return err
}

// History returns consumption and transition rows for a provider at or
// after since, oldest first. Rows at the same instant keep insertion order
// with consumption before transitions.
func (s *SQLiteStore) History(ctx context.Context, providerID string, since time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT kind, at, consumed, balance, from_status, to_status FROM (
    SELECT 'consumption' AS kind, 0 AS k, id, at, consumed, balance, '' AS from_status, '' AS to_status
      FROM consumption WHERE provider = ? AND at >= ?
    UNION ALL
    SELECT 'transition' AS kind, 1 AS k, id, at, 0, balance, from_status, to_status
      FROM transitions WHERE provider = ? AND at >= ?
) ORDER BY at, k, id`,
		providerID, since.UnixNano(), providerID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			kind     string
			at       int64
			rec      = Record{ProviderID: providerID}
			from, to string
		)
		if err := rows.Scan(&kind, &at, &rec.Consumed, &rec.Balance, &from, &to); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec.Kind = RecordKind(kind)
		rec.At = time.Unix(0, at).UTC()
		if rec.Kind == RecordTransition {
			f, err := ParseStatus(from)
			if err != nil {
				return nil, err
			}
			t, err := ParseStatus(to)
			if err != nil {
				return nil, err
			}
			rec.From, rec.To = &f, &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
