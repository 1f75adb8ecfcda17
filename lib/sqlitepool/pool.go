// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a Warren-standard SQLite connection pool.
//
// It wraps zombiezen.com/go/sqlite with production defaults: WAL
// journal mode, NORMAL synchronous for process-crash durability without
// fsync-per-commit overhead, and a busy timeout to absorb write
// contention. The task archive is the primary consumer; the source of
// truth for live state is the in-memory session registry, so losing the
// last transaction to an OS crash is acceptable.
//
// The pool is built on sqlitex.Pool, which manages a fixed-size set of
// connections. Callers [Pool.Take] a connection, perform work, and
// [Pool.Put] it back. Connections are NOT safe for concurrent use, so
// each goroutine must hold its own connection for the duration of its
// work.
//
// The package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. Consumers write SQL,
// use sqlitex.Execute for cached statements, and manage transactions
// with sqlitex.ImmediateTransaction. No query builder, no ORM.
package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Config holds the parameters for opening a SQLite connection pool.
// Path is required; all other fields have sensible defaults.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does not
	// exist. Use ":memory:" for an in-memory database (useful in
	// tests, but the pool size must be 1 since each in-memory
	// connection is independent).
	Path string

	// PoolSize is the number of connections in the pool. If zero or
	// negative, defaults to min(runtime.NumCPU(), 4). SQLite
	// serializes writes regardless of pool size; extra connections
	// only help concurrent readers, and the task archive sees far
	// more writes than reads.
	PoolSize int

	// Logger receives operational messages (pool open/close, pragma
	// errors). If nil, a no-op logger is used.
	Logger *slog.Logger

	// OnConnect is called once per connection after standard pragmas
	// are applied. Use this for schema creation and additional
	// pragmas. If OnConnect returns an error, the connection is
	// discarded and the error is returned to the caller of Take.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections with Warren-standard
// pragmas. It wraps sqlitex.Pool and exposes the same Take/Put API.
//
// Pool is safe for concurrent use. Individual connections are not.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates a new connection pool and applies Warren-standard
// pragmas to every connection. The database file is created if it does
// not exist. Connections are initialized lazily on first Take.
//
// The caller must call Close when the pool is no longer needed.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
		if poolSize > 4 {
			poolSize = 4
		}
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)

	return &Pool{
		inner:  inner,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Take borrows a connection from the pool. Blocks until a connection
// is available or ctx is cancelled. The caller MUST call Put when done
// with the connection, typically via defer:
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil (no-op).
// After Put, the caller must not use the connection.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections in the pool. Blocks until all borrowed
// connections are returned. After Close, Take returns an error.
func (p *Pool) Close() error {
	err := p.inner.Close()
	if err != nil {
		p.logger.Error("sqlite pool close error",
			"path", p.path,
			"error", err,
		)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies Warren-standard pragmas and then calls the
// optional OnConnect callback. This runs once per connection in the
// pool, on first use.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	// WAL mode: concurrent readers, single writer, no reader
	// blocking. busy_timeout covers the retention sweep contending
	// with task inserts.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=OFF",
		"PRAGMA cache_size=-4096",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlitepool: OnConnect: %w", err)
		}
	}

	return nil
}
