package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	segmentPrefix = "audit-"
	segmentSuffix = ".jsonl"

	// maxLineBytes bounds a single record line.
	maxLineBytes = 4 << 20
)

// SegmentHeader is the first line of every segment. It anchors the chain
// so each segment can be verified on its own.
type SegmentHeader struct {
	Segment   uint64    `json:"segment"`
	PrevID    uint64    `json:"prev_id"`
	PrevLink  string    `json:"prev_link"`
	CreatedAt time.Time `json:"created_at"`
}

// Segment is a segment file in the audit directory.
type Segment struct {
	Seq  uint64
	Path string
}

// SegmentName returns the file name of segment seq.
func SegmentName(seq uint64) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, seq, segmentSuffix)
}

// parseSegmentName extracts the sequence number from a segment file name.
func parseSegmentName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return 0, false
	}
	n := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	seq, err := strconv.ParseUint(n, 10, 64)
	if err != nil || seq == 0 {
		return 0, false
	}
	return seq, true
}

// ListSegments returns the segments in dir ordered by sequence number.
func ListSegments(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []Segment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		segs = append(segs, Segment{Seq: seq, Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Seq < segs[j].Seq })
	return segs, nil
}

// lineReader iterates over the lines of a segment.
type lineReader struct {
	r    *bufio.Reader
	line int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64<<10)}
}

// next returns the next line without its newline, or io.EOF after the last
// line.
func (lr *lineReader) next() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				break
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, fmt.Errorf("line %d exceeds %d bytes", lr.line+1, maxLineBytes)
		}
		if !isPrefix {
			break
		}
	}
	lr.line++
	return buf, nil
}

// segmentState is the chain tail recovered from a segment file.
type segmentState struct {
	header   SegmentHeader
	lastID   uint64
	lastLink string
	records  int
	size     int64

	// clean is false when the file does not end with a newline, i.e. the
	// last write was interrupted.
	clean bool
}

// readSegmentTail reads a segment written by this process or an earlier one
// and returns the last well-formed record position. It does not verify
// hashes.
func readSegmentTail(path string) (*segmentState, error) {
	// #nosec G304 - segment paths are listed from the audit directory.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	st := &segmentState{size: int64(len(data)), clean: len(data) == 0 || data[len(data)-1] == '\n'}

	first := true
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if first {
			first = false
			if err := json.Unmarshal(line, &st.header); err != nil {
				return nil, fmt.Errorf("segment header: %w", err)
			}
			st.lastID = st.header.PrevID
			st.lastLink = st.header.PrevLink
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			// Interrupted or damaged line: the tail stays at the last
			// readable record and verification reports the damage.
			st.clean = false
			continue
		}
		st.lastID = r.ID
		st.lastLink = r.LinkHash
		st.records++
	}
	if first {
		return nil, fmt.Errorf("segment %s has no header", path)
	}
	return st, nil
}

// ReadRecords calls fn for every record in the segments of dir, in chain
// order. Unparsable lines are skipped.
func ReadRecords(dir string, fn func(Record) error) error {
	segs, err := ListSegments(dir)
	if err != nil {
		return err
	}
	for _, seg := range segs {
		if err := readSegmentRecords(seg.Path, fn); err != nil {
			return err
		}
	}
	return nil
}

func readSegmentRecords(path string, fn func(Record) error) error {
	// #nosec G304 - segment paths are listed from the audit directory.
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	lr := newLineReader(f)
	header := true
	for {
		line, err := lr.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if header {
			header = false
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}
