package scheduler

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// executor runs admitted jobs under a bounded concurrency limit, sized
// clamp(GOMAXPROCS, min, max), following the same acquire-before-work,
// release-after pattern hidrive's chunked uploader uses its transfer
// semaphore for.
type executor struct {
	sem  *semaphore.Weighted
	size int

	running   int64
	completed int64
	failed    int64
	totalNs   int64
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func newExecutor(min, max int) *executor {
	n := clamp(runtime.GOMAXPROCS(0), min, max)
	return &executor{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// run blocks until a slot is free (or ctx is done), then executes job.Run
// and delivers the outcome on job.result.
func (e *executor) run(ctx context.Context, job *Job) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		job.result <- jobResult{err: err}
		return
	}
	atomic.AddInt64(&e.running, 1)
	start := time.Now()

	value, err := job.Run(ctx)

	atomic.AddInt64(&e.totalNs, time.Since(start).Nanoseconds())
	atomic.AddInt64(&e.running, -1)
	atomic.AddInt64(&e.completed, 1)
	if err != nil {
		atomic.AddInt64(&e.failed, 1)
	}
	e.sem.Release(1)

	job.result <- jobResult{value: value, err: err}
}

// freeSlots reports how many executor slots are not currently occupied,
// counted against capacity or the pool's own size, whichever is smaller.
func (e *executor) freeSlots(capacity int) int {
	if capacity > e.size {
		capacity = e.size
	}
	return capacity - int(atomic.LoadInt64(&e.running))
}

func (e *executor) snapshot() ExecutorStats {
	completed := atomic.LoadInt64(&e.completed)
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(atomic.LoadInt64(&e.totalNs) / completed)
	}
	return ExecutorStats{
		Running:     atomic.LoadInt64(&e.running),
		Completed:   completed,
		Failed:      atomic.LoadInt64(&e.failed),
		AverageExec: avg,
	}
}

// ExecutorStats is a point-in-time snapshot of the executor pool.
type ExecutorStats struct {
	Running     int64
	Completed   int64
	Failed      int64
	AverageExec time.Duration
}
