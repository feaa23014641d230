package upload

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
)

// SQLiteConfig configures the SQLite queue.
type SQLiteConfig struct {
	// Path is the database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS pending (
	pos       INTEGER PRIMARY KEY AUTOINCREMENT,
	record_id INTEGER NOT NULL,
	payload   TEXT NOT NULL
);
`

// SQLiteQueue is a Queue persisted in a SQLite database, so pending records
// survive restarts. Records are kept in insertion order by an
// autoincrement key.
type SQLiteQueue struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	closeOnce sync.Once
	pushStmt  *sql.Stmt
	peekStmt  *sql.Stmt
	delStmt   *sql.Stmt
	countStmt *sql.Stmt
}

// NewSQLiteQueue opens or creates the queue database at cfg.Path.
func NewSQLiteQueue(cfg SQLiteConfig, logger *slog.Logger) (*SQLiteQueue, error) {
	if cfg.Path == "" {
		return nil, errors.New("queue path cannot be empty")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, newQueueError(BackendSQLite, "mkdir", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newQueueError(BackendSQLite, "open", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	q := &SQLiteQueue{
		db:     db,
		path:   cfg.Path,
		logger: logger.With("component", "upload.queue.sqlite"),
	}
	if err := q.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	q.logger.Debug("upload queue opened", "path", cfg.Path)
	return q, nil
}

func (q *SQLiteQueue) initialize() error {
	if _, err := q.db.Exec(queueSchema); err != nil {
		return newQueueError(BackendSQLite, "create_schema", err)
	}

	var err error
	if q.pushStmt, err = q.db.Prepare(`INSERT INTO pending (record_id, payload) VALUES (?, ?)`); err != nil {
		return newQueueError(BackendSQLite, "prepare_push", err)
	}
	if q.peekStmt, err = q.db.Prepare(`SELECT payload FROM pending ORDER BY pos LIMIT ?`); err != nil {
		return newQueueError(BackendSQLite, "prepare_peek", err)
	}
	if q.delStmt, err = q.db.Prepare(`DELETE FROM pending WHERE pos IN (SELECT pos FROM pending ORDER BY pos LIMIT ?)`); err != nil {
		return newQueueError(BackendSQLite, "prepare_remove", err)
	}
	if q.countStmt, err = q.db.Prepare(`SELECT COUNT(*) FROM pending`); err != nil {
		return newQueueError(BackendSQLite, "prepare_len", err)
	}
	return nil
}

// Push appends records in one transaction.
func (q *SQLiteQueue) Push(ctx context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return newQueueError(BackendSQLite, "push", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := tx.StmtContext(ctx, q.pushStmt)
	for _, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return newQueueError(BackendSQLite, "push", err)
		}
		if _, err := stmt.ExecContext(ctx, int64(r.ID), string(payload)); err != nil {
			return newQueueError(BackendSQLite, "push", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return newQueueError(BackendSQLite, "push", err)
	}
	return nil
}

// Peek returns up to n records from the front.
func (q *SQLiteQueue) Peek(ctx context.Context, n int) ([]audit.Record, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := q.peekStmt.QueryContext(ctx, n)
	if err != nil {
		return nil, newQueueError(BackendSQLite, "peek", err)
	}
	defer rows.Close()

	records := make([]audit.Record, 0, n)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, newQueueError(BackendSQLite, "peek", err)
		}
		var r audit.Record
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, newQueueError(BackendSQLite, "decode", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, newQueueError(BackendSQLite, "peek", err)
	}
	return records, nil
}

// Remove drops the first n records.
func (q *SQLiteQueue) Remove(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if _, err := q.delStmt.ExecContext(ctx, n); err != nil {
		return newQueueError(BackendSQLite, "remove", err)
	}
	return nil
}

// Len returns the number of pending records.
func (q *SQLiteQueue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, newQueueError(BackendSQLite, "len", err)
	}
	return n, nil
}

// Close closes the database. It is safe to call more than once.
func (q *SQLiteQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		for _, stmt := range []*sql.Stmt{q.pushStmt, q.peekStmt, q.delStmt, q.countStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = q.db.Close()
	})
	return err
}
