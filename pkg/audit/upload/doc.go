// Package upload ships audit records to the management server.
//
// The Uploader is the audit chain's sink: Enqueue stores each appended
// record in a pending Queue and returns without touching the network.
// FlushPending sends the oldest batch_size records as one signed JSON POST.
// A batch leaves the queue only after a 2xx response, so a failed, timed
// out or cancelled upload keeps the whole batch at the front in order and
// it is retried on the next flush.
//
// Flushes run on a background worker, triggered every flush_interval by a
// cron schedule and whenever the queue reaches batch_size. The SQLite queue
// keeps pending records across restarts; the memory queue is for tests and
// diskless deployments.
package upload
