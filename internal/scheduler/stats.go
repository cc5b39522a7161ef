package scheduler

import (
	"sync/atomic"
	"time"
)

// LaneStats is the per-lane portion of an aggregated Stats snapshot.
type LaneStats struct {
	Lane         Lane
	Accepted     int64
	Rejected     int64
	InFlight     int
	QueueDepth   int
	OldestWait   time.Duration
	LastDispatch time.Time
}

// Stats is the scheduler's aggregated snapshot, combining per-lane
// counters, executor occupancy, dedup effectiveness, and per-file
// ordering counters.
type Stats struct {
	Lanes    [numLanes]LaneStats
	Executor ExecutorStats
	Dedup    DedupStats
	PerFile  PerFileStats
}

// Snapshot returns the scheduler's current aggregated statistics.
func (s *Scheduler) Snapshot() Stats {
	now := time.Now()
	var out Stats
	for i := 0; i < numLanes; i++ {
		s.laneMu[i].Lock()
		oldest := s.waitHeaps[i].oldestWait(now)
		depth := s.waitHeaps[i].Len()
		s.laneMu[i].Unlock()

		var lastDispatch time.Time
		if nanos := atomic.LoadInt64(&s.lastDispatch[i]); nanos != 0 {
			lastDispatch = time.Unix(0, nanos)
		}

		out.Lanes[i] = LaneStats{
			Lane:         Lane(i),
			Accepted:     atomic.LoadInt64(&s.accepted[i]),
			Rejected:     atomic.LoadInt64(&s.rejected[i]),
			InFlight:     int(atomic.LoadInt64(&s.inFlight[i])),
			QueueDepth:   depth,
			OldestWait:   oldest,
			LastDispatch: lastDispatch,
		}
	}
	out.Executor = s.exec.snapshot()
	out.Dedup = s.dd.snapshot()
	out.PerFile = s.perFile.snapshot()
	return out
}
