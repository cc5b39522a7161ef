package scheduler

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// dedup single-flights concurrent identical reads keyed by fingerprint,
// matching the list-call dedup rclone's netexplorer backend builds over
// its own singleflight.Group (f.listSF.Do(key, ...)). singleflight itself
// reports only whether a result was shared, not which caller was the
// leader, so a small counted map tracks that distinction for stats.
type dedup struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]int64

	leaders int64
	waiters int64
}

// do runs fn at most once per concurrent burst of identical keys; all
// callers sharing a key receive the same (value, err) result. The
// returned bool is true for every caller except the burst's leader.
func (d *dedup) do(key string, fn func() (interface{}, error)) (interface{}, error, bool) {
	d.mu.Lock()
	if d.inflight == nil {
		d.inflight = make(map[string]int64)
	}
	isWaiter := d.inflight[key] > 0
	d.inflight[key]++
	d.mu.Unlock()

	if isWaiter {
		atomic.AddInt64(&d.waiters, 1)
	} else {
		atomic.AddInt64(&d.leaders, 1)
	}

	v, err, _ := d.group.Do(key, fn)

	d.mu.Lock()
	d.inflight[key]--
	if d.inflight[key] <= 0 {
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	return v, err, isWaiter
}

// DedupStats is a point-in-time snapshot of single-flight effectiveness.
type DedupStats struct {
	Leaders int64
	Waiters int64
	Ratio   float64 // waiters / (leaders + waiters)
}

func (d *dedup) snapshot() DedupStats {
	leaders := atomic.LoadInt64(&d.leaders)
	waiters := atomic.LoadInt64(&d.waiters)
	var ratio float64
	if total := leaders + waiters; total > 0 {
		ratio = float64(waiters) / float64(total)
	}
	return DedupStats{Leaders: leaders, Waiters: waiters, Ratio: ratio}
}
