package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// VerifyResult holds the outcome of a chain verification.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Segments int    `json:"segments"`
	Records  int    `json:"records"`
	FirstID  uint64 `json:"first_id,omitempty"`
	LastID   uint64 `json:"last_id,omitempty"`
	LastLink string `json:"last_link,omitempty"`

	Error     string `json:"error,omitempty"`
	Segment   string `json:"segment,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

func (r VerifyResult) fail(segment string, line int, format string, args ...any) VerifyResult {
	r.Valid = false
	r.Segment = segment
	r.ErrorLine = line
	r.Error = fmt.Sprintf(format, args...)
	return r
}

// Verify replays one segment file. The segment header supplies the id and
// link hash the first record must follow; every record must have the next
// id, a link hash matching its predecessor and an intact body hash.
// Verification stops at the first failure.
func Verify(path string, key []byte) VerifyResult {
	hasher, err := NewHasher(key)
	if err != nil {
		return VerifyResult{Error: err.Error(), Segment: path}
	}
	return verifySegment(hasher, path, nil)
}

// VerifyDir verifies every segment in dir and the links between them. The
// oldest surviving segment is trusted to start where its header says, since
// retention removes whole segments from the front; segment 1 must start at
// the genesis hash.
func VerifyDir(dir string, key []byte) VerifyResult {
	hasher, err := NewHasher(key)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	segs, err := ListSegments(dir)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("list segments: %v", err)}
	}

	var total VerifyResult
	var prevSeq uint64
	for i, seg := range segs {
		var expect *SegmentHeader
		if i > 0 {
			if seg.Seq != prevSeq+1 {
				return total.fail(seg.Path, 0, "segment %d follows segment %d: segments missing", seg.Seq, prevSeq)
			}
			expect = &SegmentHeader{PrevID: total.LastID, PrevLink: total.LastLink}
		}

		res := verifySegment(hasher, seg.Path, expect)
		total.Segments++
		total.Records += res.Records
		if total.FirstID == 0 {
			total.FirstID = res.FirstID
		}
		total.LastID, total.LastLink = res.LastID, res.LastLink
		if !res.Valid {
			total.Error = res.Error
			total.Segment = res.Segment
			total.ErrorLine = res.ErrorLine
			return total
		}
		prevSeq = seg.Seq
	}

	total.Valid = true
	return total
}

// verifySegment checks one segment. When expect is non-nil the header must
// continue from expect.PrevID and expect.PrevLink.
func verifySegment(h *Hasher, path string, expect *SegmentHeader) VerifyResult {
	res := VerifyResult{Segments: 1}

	// #nosec G304 - segment paths come from the caller or the audit directory.
	f, err := os.Open(path)
	if err != nil {
		return res.fail(path, 0, "open: %v", err)
	}
	defer f.Close()

	lr := newLineReader(f)

	line, err := lr.next()
	if err == io.EOF {
		return res.fail(path, 1, "segment has no header")
	}
	if err != nil {
		return res.fail(path, 1, "read: %v", err)
	}
	var header SegmentHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return res.fail(path, 1, "parse header: %v", err)
	}
	if seq, ok := parseSegmentName(filepath.Base(path)); ok && seq != header.Segment {
		return res.fail(path, 1, "header names segment %d, file is segment %d", header.Segment, seq)
	}
	if header.Segment == 1 && (header.PrevID != 0 || header.PrevLink != GenesisHash) {
		return res.fail(path, 1, "first segment does not start at the genesis hash")
	}
	if expect != nil && (header.PrevID != expect.PrevID || header.PrevLink != expect.PrevLink) {
		return res.fail(path, 1, "segment starts after record %d, previous segment ended at record %d",
			header.PrevID, expect.PrevID)
	}

	prevID, prevLink := header.PrevID, header.PrevLink
	res.LastID, res.LastLink = prevID, prevLink

	for {
		line, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res.fail(path, lr.line+1, "read: %v", err)
		}
		lineNum := lr.line

		var r Record
		if err := json.Unmarshal(line, &r); err != nil {
			return res.fail(path, lineNum, "parse error: %v", err)
		}
		if r.ID != prevID+1 {
			return res.fail(path, lineNum, "sequence break: record %d follows record %d", r.ID, prevID)
		}
		if err := h.Check(r, prevLink); err != nil {
			return res.fail(path, lineNum, "%v", err)
		}

		if res.FirstID == 0 {
			res.FirstID = r.ID
		}
		res.Records++
		res.LastID, res.LastLink = r.ID, r.LinkHash
		prevID, prevLink = r.ID, r.LinkHash
	}

	res.Valid = true
	return res
}
