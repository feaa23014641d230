package upload

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NextGuard-hk/nextguard-endpoint-agent/pkg/audit"
)

// Queue backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Queue holds audit records waiting for upload, oldest first.
//
// Peek and Remove split taking a batch from acknowledging it: records are
// only removed once the server has accepted them. Only one caller may Peek
// and Remove at a time; Push is safe alongside them.
type Queue interface {
	// Push appends records to the back of the queue.
	Push(ctx context.Context, records ...audit.Record) error

	// Peek returns up to n records from the front without removing them.
	Peek(ctx context.Context, n int) ([]audit.Record, error)

	// Remove drops the first n records.
	Remove(ctx context.Context, n int) error

	// Len returns the number of pending records.
	Len(ctx context.Context) (int, error)

	// Close releases the backend.
	Close() error
}

// OpenQueue opens the queue backend named by backend. path is only used by
// the SQLite backend.
func OpenQueue(backend, path string, logger *slog.Logger) (Queue, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryQueue(), nil
	case "", BackendSQLite:
		return NewSQLiteQueue(SQLiteConfig{Path: path}, logger)
	default:
		return nil, fmt.Errorf("unknown queue backend %q (valid: memory, sqlite)", backend)
	}
}

// MemoryQueue is a Queue kept in process memory. Pending records are lost
// on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	records []audit.Record
	closed  bool
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Push appends records to the back of the queue.
func (q *MemoryQueue) Push(ctx context.Context, records ...audit.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.records = append(q.records, records...)
	return nil
}

// Peek returns a copy of up to n records from the front.
func (q *MemoryQueue) Peek(ctx context.Context, n int) ([]audit.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	if n > len(q.records) {
		n = len(q.records)
	}
	if n <= 0 {
		return nil, nil
	}
	return append([]audit.Record(nil), q.records[:n]...), nil
}

// Remove drops the first n records.
func (q *MemoryQueue) Remove(ctx context.Context, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if n > len(q.records) {
		n = len(q.records)
	}
	if n <= 0 {
		return nil
	}
	rest := make([]audit.Record, len(q.records)-n)
	copy(rest, q.records[n:])
	q.records = rest
	return nil
}

// Len returns the number of pending records.
func (q *MemoryQueue) Len(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrQueueClosed
	}
	return len(q.records), nil
}

// Close discards the queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.records = nil
	return nil
}
