/*
Package audit implements the tamper-evident decision log.

Every decision the agent makes is appended to a Chain as a Record. Records
carry a monotonic id and two keyed hashes:

	link_hash = HMAC-SHA256(k, prev.link_hash || decimal(id))
	body_hash = HMAC-SHA256(k, record JSON without link_hash and body_hash)

The first record links to GenesisHash. Replaying the chain with the key
detects any edited, reordered, inserted or removed record.

# Segments

Records are stored as JSON lines in segment files named
audit-00000001.jsonl, audit-00000002.jsonl and so on. The first line of a
segment is a SegmentHeader naming the id and link hash of the record before
it, so one segment can be verified without its predecessors:

	{"segment":2,"prev_id":18211,"prev_link":"9f1c...","created_at":"..."}

A new segment is started when the active one exceeds MaxSegmentBytes or
MaxSegmentAge, after a failed write, and when the chain is reopened on a
segment whose last line is incomplete. The retention package deletes whole
segments from the front of the directory; surviving segments keep their
names.

# Write failures

A record whose write fails still consumes its id and advances the chain
tail. It is returned to the caller together with a *WriteError and handed
to the Sink for upload. The next persisted record then follows a record
that is not on disk, and VerifyDir reports the gap.

# Usage

	chain, err := audit.Open(audit.Config{Dir: dir, Key: key}, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	rec, err := chain.Append(ctx, audit.Draft{
		Category: audit.CategoryScan,
		Severity: policy.SeverityCritical,
		Outcome:  "block",
	})

	result := audit.VerifyDir(dir, key)
*/
package audit
