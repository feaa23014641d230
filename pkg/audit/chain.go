package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Sink receives every record appended to the chain, typically the upload
// queue. Enqueue must not block on the network.
type Sink interface {
	Enqueue(records ...Record)
}

// Config contains configuration for the audit chain.
type Config struct {
	// Dir is the directory holding the segment files.
	Dir string

	// Key is the HMAC key for link and body hashes.
	Key []byte

	// MaxSegmentBytes starts a new segment once the active one reaches
	// this size.
	// Default: 50 MiB
	MaxSegmentBytes int64

	// MaxSegmentAge starts a new segment once the active one is this old.
	// Default: 1 hour
	MaxSegmentAge time.Duration

	// Clock returns the current time.
	// Default: time.Now
	Clock func() time.Time
}

// Defaults for Config.
const (
	DefaultMaxSegmentBytes = 50 << 20
	DefaultMaxSegmentAge   = time.Hour
)

// Chain is an append-only, hash-linked audit log split into segment files.
// Appends are serialized; the chain continues across segments and restarts.
type Chain struct {
	config Config
	hasher *Hasher
	logger *slog.Logger

	mu       sync.Mutex
	sink     Sink
	file     *os.File
	seq      uint64
	path     string
	size     int64
	records  int
	created  time.Time
	lastID   uint64
	lastLink string
	broken   bool // active segment may end in a partial line
	lastErr  error
	closed   bool
}

// Open opens the chain in config.Dir, resuming after the last record of the
// newest segment.
func Open(config Config, logger *slog.Logger) (*Chain, error) {
	if config.Dir == "" {
		return nil, errors.New("audit directory cannot be empty")
	}
	hasher, err := NewHasher(config.Key)
	if err != nil {
		return nil, err
	}
	if config.MaxSegmentBytes <= 0 {
		config.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if config.MaxSegmentAge <= 0 {
		config.MaxSegmentAge = DefaultMaxSegmentAge
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(config.Dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	c := &Chain{
		config:   config,
		hasher:   hasher,
		logger:   logger.With("component", "audit"),
		lastLink: GenesisHash,
	}
	if err := c.resume(); err != nil {
		return nil, err
	}
	return c, nil
}

// resume recovers the chain tail from the newest readable segment and
// reopens it for appending. A damaged newest segment is left as is and a
// new segment is started after it.
func (c *Chain) resume() error {
	segs, err := ListSegments(c.config.Dir)
	if err != nil {
		return fmt.Errorf("audit: list segments: %w", err)
	}
	if len(segs) == 0 {
		return c.startSegment(1)
	}

	newest := segs[len(segs)-1]
	for i := len(segs) - 1; i >= 0; i-- {
		st, err := readSegmentTail(segs[i].Path)
		if err != nil {
			c.logger.Warn("audit segment unreadable",
				"segment", segs[i].Path,
				"error", err,
			)
			continue
		}
		c.lastID, c.lastLink = st.lastID, st.lastLink

		if segs[i] == newest && st.clean {
			return c.reopen(newest, st)
		}
		break
	}

	c.logger.Warn("audit chain resumed on a new segment",
		"last_id", c.lastID,
		"after_segment", newest.Path,
	)
	return c.startSegment(newest.Seq + 1)
}

func (c *Chain) reopen(seg Segment, st *segmentState) error {
	// #nosec G304 - segment paths are listed from the audit directory.
	f, err := os.OpenFile(seg.Path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open segment: %w", err)
	}
	c.file = f
	c.seq = seg.Seq
	c.path = seg.Path
	c.size = st.size
	c.records = st.records
	c.created = st.header.CreatedAt
	c.logger.Info("audit chain resumed",
		"segment", seg.Path,
		"last_id", c.lastID,
		"records", st.records,
	)
	return nil
}

// startSegment creates segment seq anchored at the current tail.
func (c *Chain) startSegment(seq uint64) error {
	now := c.config.Clock().UTC()
	path := filepath.Join(c.config.Dir, SegmentName(seq))

	header, err := json.Marshal(SegmentHeader{
		Segment:   seq,
		PrevID:    c.lastID,
		PrevLink:  c.lastLink,
		CreatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal segment header: %w", err)
	}
	header = append(header, '\n')

	// #nosec G304 - segment paths are built from the audit directory.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: create segment: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: write segment header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audit: sync segment header: %w", err)
	}

	if c.file != nil {
		if err := c.file.Close(); err != nil {
			c.logger.Warn("failed to close audit segment", "segment", c.path, "error", err)
		}
	}
	c.file = f
	c.seq = seq
	c.path = path
	c.size = int64(len(header))
	c.records = 0
	c.created = now
	c.broken = false

	c.logger.Info("audit segment started",
		"segment", path,
		"prev_id", c.lastID,
	)
	return nil
}

// SetSink sets the sink that receives appended records.
func (c *Chain) SetSink(s Sink) {
	c.mu.Lock()
	c.sink = s
	c.mu.Unlock()
}

// Append assigns the next id to d, links it to the chain tail, writes it to
// the active segment and hands it to the sink.
//
// When the write fails the record is still returned, the tail still
// advances and the sink still receives the record; the error is a
// *WriteError.
func (c *Chain) Append(ctx context.Context, d Draft) (Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Record{}, ErrClosed
	}

	ts := d.Timestamp
	if ts.IsZero() {
		ts = c.config.Clock()
	}
	r := Record{
		ID:            c.lastID + 1,
		Timestamp:     ts.UTC(),
		Category:      d.Category,
		Severity:      d.Severity,
		Outcome:       d.Outcome,
		Actor:         d.Actor,
		Description:   d.Description,
		Metadata:      copyMetadata(d.Metadata),
		ContentHash:   d.ContentHash,
		PolicyVersion: d.PolicyVersion,
		RuleIDs:       append([]string(nil), d.RuleIDs...),
	}
	if err := c.hasher.Seal(&r, c.lastLink); err != nil {
		return Record{}, fmt.Errorf("audit: %w", err)
	}

	line, err := json.Marshal(r)
	if err != nil {
		return Record{}, fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')

	c.lastID = r.ID
	c.lastLink = r.LinkHash

	writeErr := c.write(line)
	if writeErr != nil {
		c.logger.Error("audit record not persisted",
			"id", r.ID,
			"category", r.Category,
			"error", writeErr,
		)
	}

	if c.sink != nil {
		c.sink.Enqueue(r)
	}

	trace.SpanFromContext(ctx).AddEvent("audit.append", trace.WithAttributes(
		attribute.Int64("audit.id", int64(r.ID)),
		attribute.String("audit.category", string(r.Category)),
		attribute.Bool("audit.persisted", writeErr == nil),
	))

	if writeErr != nil {
		return r, writeErr
	}
	return r, nil
}

// write appends one line to the active segment, rotating first when due.
func (c *Chain) write(line []byte) error {
	if c.rotationDue() {
		if err := c.startSegment(c.seq + 1); err != nil {
			c.lastErr = &WriteError{RecordID: c.lastID, Segment: c.path, Cause: err}
			return c.lastErr
		}
	}

	n, err := c.file.Write(line)
	c.size += int64(n)
	if err == nil {
		err = c.file.Sync()
	}
	if err != nil {
		c.broken = true
		c.lastErr = &WriteError{RecordID: c.lastID, Segment: c.path, Cause: err}
		return c.lastErr
	}
	c.records++
	c.lastErr = nil
	return nil
}

func (c *Chain) rotationDue() bool {
	if c.file == nil || c.broken {
		return true
	}
	if c.records == 0 {
		return false
	}
	return c.size >= c.config.MaxSegmentBytes ||
		c.config.Clock().Sub(c.created) >= c.config.MaxSegmentAge
}

// Rotate starts a new segment now.
func (c *Chain) Rotate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.startSegment(c.seq + 1)
}

// Tail returns the id and link hash of the last appended record.
func (c *Chain) Tail() (uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID, c.lastLink
}

// ActiveSegment returns the path of the segment currently written to.
func (c *Chain) ActiveSegment() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// Healthy returns the error of the most recent failed write, or nil when
// the last append was persisted.
func (c *Chain) Healthy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.lastErr
}

// Dir returns the audit directory.
func (c *Chain) Dir() string {
	return c.config.Dir
}

// Verify verifies every segment in the chain directory. Appends wait until
// it completes.
func (c *Chain) Verify() VerifyResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return VerifyDir(c.config.Dir, c.hasher.key)
}

// Close closes the active segment.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.file == nil {
		return nil
	}
	return c.file.Close()
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
