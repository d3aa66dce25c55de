// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/NVIDIA/fleet-ledger/pkg/defaults"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const (
	sqliteBackend  = "sqlite"
	sqlitePoolSize = 4
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	document   TEXT    NOT NULL,
	revision   INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT    NOT NULL
);
`

// SQLiteStore keeps the ledger as a single row in a sqlite database. Update
// runs inside an IMMEDIATE transaction, so concurrent writers from any
// process are serialized by the database.
type SQLiteStore struct {
	pool *sqlitex.Pool
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite ledger: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite ledger: create directory: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    sqlitePoolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: opening %s: %w", path, err)
	}

	s := &SQLiteStore{pool: pool, path: path}

	// Touch one connection so schema errors surface here rather than on first use.
	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite ledger: take: %w", err)
	}
	pool.Put(conn)

	slog.Debug("sqlite ledger opened", "path", path)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaults.LedgerSQLiteBusyTimeout.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite ledger: %s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (*Document, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: take: %w", err)
	}
	defer s.pool.Put(conn)

	return s.load(conn)
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, doc *Document) error {
	return s.Update(ctx, func(cur *Document) error {
		*cur = *doc
		return nil
	})
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, fn func(*Document) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite ledger: take: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite ledger: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	doc, err := s.load(conn)
	if err != nil {
		return err
	}
	if err = fn(doc); err != nil {
		return err
	}

	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("sqlite ledger: encode: %w", err)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO ledger (id, document, revision, updated_at) VALUES (1, ?, 1, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   document = excluded.document,
		   revision = ledger.revision + 1,
		   updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{Args: []any{string(data), Now()}})
	recordWrite(sqliteBackend, err)
	if err != nil {
		return fmt.Errorf("sqlite ledger: write: %w", err)
	}
	return nil
}

// Revision returns how many times the document has been written.
func (s *SQLiteStore) Revision(ctx context.Context) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("sqlite ledger: take: %w", err)
	}
	defer s.pool.Put(conn)

	var rev int64
	err = sqlitex.Execute(conn, "SELECT revision FROM ledger WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rev = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite ledger: read revision: %w", err)
	}
	return rev, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite ledger: closing %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) load(conn *sqlite.Conn) (*Document, error) {
	var (
		raw   string
		found bool
	)
	err := sqlitex.Execute(conn, "SELECT document FROM ledger WHERE id = 1", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite ledger: read: %w", err)
	}
	if !found {
		return DefaultDocument(), nil
	}

	doc, err := decode([]byte(raw))
	if err != nil {
		ledgerCorruptions.Inc()
		slog.Error("ledger corruption, continuing with empty ledger",
			"path", s.path,
			"error", err)
		return DefaultDocument(), nil
	}
	return doc, nil
}
