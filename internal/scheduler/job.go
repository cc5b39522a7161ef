package scheduler

import (
	"context"
	"time"
)

// Job is one unit of scheduled work: a handler closure admitted to a
// lane, optionally scoped to an inode for per-file ordering and
// optionally keyed for single-flight read deduplication.
type Job struct {
	Lane Lane
	// Inode scopes structural ops (Lane == LaneWriteStructural) to the
	// per-file ordering queue; zero means unscoped. By convention the
	// caller sets this to the resolved parent inode for create/mkdir/
	// symlink/unlink/rmdir, so siblings under the same directory never
	// run out of arrival order.
	Inode uint64
	// Inode2, when non-zero and different from Inode, scopes the job to
	// a second per-file ordering queue as well (rename's destination
	// parent). Both queues are acquired, in a fixed order to avoid
	// deadlock, before Run executes.
	Inode2 uint64
	// DedupKey, when non-empty, single-flights identical concurrent
	// reads (Lane == LaneReadForeground) through one executor job.
	DedupKey string
	// Barrier marks a flush/fsync: it must wait for Inode's in-flight
	// slot and queue to drain before running.
	Barrier bool

	Run func(ctx context.Context) (interface{}, error)

	id       uint64
	enqueued time.Time
	result   chan jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

// Result is the outcome of Submit, returned once the job has run (or been
// rejected at admission).
type Result struct {
	Value interface{}
	Err   error
}
