// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pool is a fixed-size SQLite connection pool with the bridge's
// standard pragmas and schema applied to every connection. The pool
// is safe for concurrent use; individual connections are not, so
// each caller takes its own connection and puts it back when done.
type pool struct {
	inner *sqlitex.Pool
	path  string
}

// openPool opens the database file, creating it if missing. The
// schema script runs once per connection; it must be restartable
// (CREATE TABLE IF NOT EXISTS and friends).
func openPool(path, schema string, logger *slog.Logger) (*pool, error) {
	if path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}

	inner, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		// Bridge databases are small and write-light. SQLite
		// serializes writes anyway, so a handful of connections
		// covers concurrent reads from the relay and admin paths.
		PoolSize: 4,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, schema)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}

	logger.Info("store opened", "path", path)
	return &pool{inner: inner, path: path}, nil
}

// take borrows a connection. The caller must put it back:
//
//	conn, err := p.take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.put(conn)
func (p *pool) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	return conn, nil
}

func (p *pool) put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

func (p *pool) close() error {
	if err := p.inner.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", p.path, err)
	}
	return nil
}

// prepareConnection applies the standard pragmas, then the schema.
// WAL keeps readers unblocked during relay writes; the busy timeout
// covers the brief writer contention that remains.
func prepareConnection(conn *sqlite.Conn, schema string) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}
	return nil
}
