// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package taskstore archives task records in SQLite.
//
// The store exists for two consumers: daemon restart recovery (tasks
// recorded as running when the process died are marked failed on the
// next start) and operator forensics (the warren CLI reads the
// database directly, read-only, without going through the daemon).
// Live state never comes from here — the in-memory session registry is
// the source of truth while the daemon runs.
//
// Each row splits a task in two. Scalar columns (container, status,
// prompt, timestamps, exit code) are authoritative and queryable
// without touching the blob; the record column holds the full task —
// transcript included — as a compressed, deterministically CBOR-encoded
// record, so a row is also a self-contained archival export. Reads
// trust the columns and use the blob only for the transcript.
//
// Retention is per container: after each terminal write, rows beyond
// the newest N for that container are deleted opportunistically.
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/warren/lib/codec"
	"github.com/bureau-foundation/warren/lib/sqlitepool"
	"github.com/bureau-foundation/warren/query"
)

// ErrTaskNotFound reports a task ID with no archived record.
var ErrTaskNotFound = errors.New("taskstore: task not found")

// errReadOnly rejects writes on a store opened with OpenReader.
var errReadOnly = errors.New("taskstore: store is read-only")

// schema runs once per connection; IF NOT EXISTS keeps it idempotent.
const schema = `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id      TEXT PRIMARY KEY,
		container    TEXT NOT NULL,
		status       TEXT NOT NULL,
		prompt       TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		timeout      INTEGER NOT NULL,
		duration     INTEGER NOT NULL,
		exit_code    INTEGER NOT NULL,
		record_tag   INTEGER NOT NULL,
		record_size  INTEGER NOT NULL,
		record       BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_container ON tasks(container, submitted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

// taskRecord is the archived form of a task: the payload of the
// compressed record blob. CBOR-only. Times are explicit unix
// nanoseconds — CBOR's native time encoding is seconds-granular, which
// would break ID re-derivation from the archived fields.
type taskRecord struct {
	ID          string `cbor:"task_id"`
	Container   string `cbor:"container"`
	Prompt      string `cbor:"prompt"`
	SubmittedAt int64  `cbor:"submitted_at"`
	Timeout     int64  `cbor:"timeout"`
	Status      string `cbor:"status"`
	Output      string `cbor:"output,omitempty"`
	ExitCode    int    `cbor:"exit_code"`
	Duration    int64  `cbor:"duration"`
}

func recordFromTask(task query.Task) taskRecord {
	return taskRecord{
		ID:          task.ID,
		Container:   task.Container,
		Prompt:      task.Prompt,
		SubmittedAt: task.SubmittedAt.UnixNano(),
		Timeout:     int64(task.Timeout),
		Status:      string(task.Status),
		Output:      task.Output,
		ExitCode:    task.ExitCode,
		Duration:    int64(task.Duration),
	}
}

// Config holds the parameters for opening a task store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist; the file is created if it does not. Required.
	Path string

	// PoolSize is the connection pool size. Zero uses the sqlitepool
	// default.
	PoolSize int

	// Retention is the number of records kept per container. Older
	// rows are pruned opportunistically after each terminal write.
	// Default 100.
	Retention int

	// Compression selects the record blob algorithm, zstd when unset.
	// The writer falls back to raw per record when compression does
	// not shrink it.
	Compression Compression

	// Logger receives operational messages. Defaults to discard.
	Logger *slog.Logger
}

// Store archives task records. Safe for concurrent use. It implements
// query.Recorder.
type Store struct {
	pool        *sqlitepool.Pool
	retention   int
	compression Compression
	readOnly    bool
	logger      *slog.Logger
}

// Open creates or opens the task database for the daemon's write path.
// The caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("taskstore: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 100
	}
	compression := cfg.Compression
	if compression == CompressionRaw {
		compression = CompressionZstd
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}

	return &Store{
		pool:        pool,
		retention:   retention,
		compression: compression,
		logger:      logger,
	}, nil
}

// OpenReader opens an existing task database for read-only access. The
// warren CLI uses it to inspect task history without going through the
// daemon. Write methods on the returned store fail.
func OpenReader(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("taskstore: no task database at %s (has the daemon run?): %w", path, err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     path,
		PoolSize: 1,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			// No schema statements: the daemon owns the schema. The
			// pragma hard-stops writes at the connection level.
			return sqlitex.ExecuteTransient(conn, "PRAGMA query_only=ON", nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}

	return &Store{
		pool:     pool,
		readOnly: true,
		logger:   logger,
	}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// TaskStarted persists the running row before the executor's first
// poll. A later TaskFinished for the same ID replaces it; a daemon
// crash leaves it for RecoverStranded.
func (s *Store) TaskStarted(ctx context.Context, task query.Task) error {
	if s.readOnly {
		return errReadOnly
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taskstore: task started: %w", err)
	}
	defer s.pool.Put(conn)

	return s.insertTask(conn, task)
}

// TaskFinished replaces the task's row with its terminal record and
// prunes the container's history past the retention horizon. The
// insert and the prune share one transaction so readers never observe
// more than retention rows.
func (s *Store) TaskFinished(ctx context.Context, task query.Task) (err error) {
	if s.readOnly {
		return errReadOnly
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("taskstore: task finished: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("taskstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	if err = s.insertTask(conn, task); err != nil {
		return err
	}
	s.pruneContainer(conn, task.Container)
	return nil
}

// insertTask writes one row, replacing any previous row for the ID.
func (s *Store) insertTask(conn *sqlite.Conn, task query.Task) error {
	encoded, err := codec.Marshal(recordFromTask(task))
	if err != nil {
		return fmt.Errorf("taskstore: encode record %s: %w", task.ID, err)
	}
	tag, blob, err := compressRecord(encoded, s.compression)
	if err != nil {
		return fmt.Errorf("taskstore: compress record %s: %w", task.ID, err)
	}

	err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO tasks
		(task_id, container, status, prompt, submitted_at, timeout,
		 duration, exit_code, record_tag, record_size, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			task.ID,
			task.Container,
			string(task.Status),
			task.Prompt,
			task.SubmittedAt.UnixNano(),
			int64(task.Timeout),
			int64(task.Duration),
			task.ExitCode,
			int64(tag),
			len(encoded),
			blob,
		},
	})
	if err != nil {
		return fmt.Errorf("taskstore: insert task %s: %w", task.ID, err)
	}
	return nil
}

// pruneContainer deletes the container's rows past the newest
// retention entries. Opportunistic: failure is logged, never returned,
// because losing a sweep costs disk, not correctness.
func (s *Store) pruneContainer(conn *sqlite.Conn, container string) {
	err := sqlitex.Execute(conn, `DELETE FROM tasks
		WHERE container = ? AND task_id NOT IN (
			SELECT task_id FROM tasks
			WHERE container = ?
			ORDER BY submitted_at DESC, task_id DESC
			LIMIT ?
		)`, &sqlitex.ExecOptions{
		Args: []any{container, container, s.retention},
	})
	if err != nil {
		s.logger.Warn("task retention sweep failed",
			"container", container, "error", err)
		return
	}
	if deleted := conn.Changes(); deleted > 0 {
		s.logger.Debug("pruned task records",
			"container", container, "deleted", deleted)
	}
}

// RecoverStranded marks every task still recorded as running as
// failed. The daemon calls it once at startup: a running row can only
// mean the previous process died mid-query, so the terminal write
// never happened. Returns the number of rows recovered.
func (s *Store) RecoverStranded(ctx context.Context) (int, error) {
	if s.readOnly {
		return 0, errReadOnly
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("taskstore: recover stranded: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE tasks SET status = ?, exit_code = 1
		WHERE status = ?`, &sqlitex.ExecOptions{
		Args: []any{string(query.StatusFailed), string(query.StatusRunning)},
	})
	if err != nil {
		return 0, fmt.Errorf("taskstore: recover stranded: %w", err)
	}

	recovered := conn.Changes()
	if recovered > 0 {
		s.logger.Warn("marked stranded running tasks failed", "count", recovered)
	}
	return recovered, nil
}

// Filter selects task records. Zero fields match everything.
type Filter struct {
	// Container restricts results to one container's history.
	Container string

	// Status restricts results to one status.
	Status query.Status

	// Limit caps the result count, newest first. Default 50.
	Limit int
}

// Tasks lists archived records, newest first, from the scalar columns
// only — transcripts are not loaded. Use Task for the full record.
func (s *Store) Tasks(ctx context.Context, filter Filter) ([]query.Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("taskstore: list tasks: %w", err)
	}
	defer s.pool.Put(conn)

	statement := `SELECT task_id, container, status, prompt, submitted_at,
		timeout, duration, exit_code FROM tasks`
	var conditions []string
	var args []any
	if filter.Container != "" {
		conditions = append(conditions, "container = ?")
		args = append(args, filter.Container)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conditions) > 0 {
		statement += " WHERE " + strings.Join(conditions, " AND ")
	}
	statement += " ORDER BY submitted_at DESC, task_id DESC LIMIT ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	var tasks []query.Task
	err = sqlitex.Execute(conn, statement, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tasks = append(tasks, taskFromColumns(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("taskstore: list tasks: %w", err)
	}
	return tasks, nil
}

// Task loads one task by ID, transcript included. The scalar columns
// are authoritative for status and timing; the blob contributes the
// transcript, and an unreadable blob degrades to an empty transcript
// rather than failing the read.
func (s *Store) Task(ctx context.Context, taskID string) (query.Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return query.Task{}, fmt.Errorf("taskstore: load task: %w", err)
	}
	defer s.pool.Put(conn)

	var task query.Task
	var found bool
	var tag Compression
	var size int
	var blob []byte
	err = sqlitex.Execute(conn, `SELECT task_id, container, status, prompt,
		submitted_at, timeout, duration, exit_code, record_tag, record_size, record
		FROM tasks WHERE task_id = ?`, &sqlitex.ExecOptions{
		Args: []any{taskID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			task = taskFromColumns(stmt)
			found = true
			tag = Compression(stmt.ColumnInt64(8))
			size = stmt.ColumnInt(9)
			blob = make([]byte, stmt.ColumnLen(10))
			stmt.ColumnBytes(10, blob)
			return nil
		},
	})
	if err != nil {
		return query.Task{}, fmt.Errorf("taskstore: load task %s: %w", taskID, err)
	}
	if !found {
		return query.Task{}, ErrTaskNotFound
	}

	encoded, err := decompressRecord(blob, tag, size)
	if err != nil {
		s.logger.Warn("task record blob unreadable", "task_id", taskID, "error", err)
		return task, nil
	}
	var record taskRecord
	if err := codec.Unmarshal(encoded, &record); err != nil {
		s.logger.Warn("task record blob unreadable", "task_id", taskID, "error", err)
		return task, nil
	}
	task.Output = record.Output
	return task, nil
}

// taskFromColumns builds a task from the scalar columns of a row, in
// the column order shared by Tasks and Task. Output is blob-only.
func taskFromColumns(stmt *sqlite.Stmt) query.Task {
	return query.Task{
		ID:          stmt.ColumnText(0),
		Container:   stmt.ColumnText(1),
		Status:      query.Status(stmt.ColumnText(2)),
		Prompt:      stmt.ColumnText(3),
		SubmittedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		Timeout:     time.Duration(stmt.ColumnInt64(5)),
		Duration:    time.Duration(stmt.ColumnInt64(6)),
		ExitCode:    stmt.ColumnInt(7),
	}
}
