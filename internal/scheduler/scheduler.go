package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config parameterizes a Scheduler instance. Every vault handle owns an
// independent Scheduler; there is no shared global state.
type Config struct {
	LaneCapacities        [numLanes]int
	ExecutorMin           int
	ExecutorMax           int
	QuietThreshold        int
	ReservedMetadataSlots int
	ReservedWriteSlots    int
	// L2Weight and L3Weight set the weighted round-robin ratio between
	// LaneReadForeground and LaneWriteStructural when both are backlogged.
	// Zero in either defaults to 1 (so a zero-value Config still makes
	// forward progress on both lanes).
	L2Weight int
	L3Weight int
}

// Scheduler admits jobs into one of five priority lanes, dispatches them
// under a fairness rule, deduplicates identical concurrent reads, and
// enforces per-inode structural ordering with barrier semantics.
type Scheduler struct {
	cfg Config

	lanes     [numLanes]chan *Job
	waitHeaps [numLanes]*waitHeap
	laneMu    [numLanes]sync.Mutex

	nextID  uint64
	exec    *executor
	dd      dedup
	perFile *perFileOrdering

	accepted     [numLanes]int64
	rejected     [numLanes]int64
	inFlight     [numLanes]int64 // jobs currently admitted to the executor, per lane
	lastDispatch [numLanes]int64 // UnixNano of the lane's most recent dispatch, per lane

	l2Weight  int
	l3Weight  int
	rrPhaseL2 bool // dispatchLoop-local; only ever touched by the single dispatcher goroutine
	rrCounter int

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Scheduler and starts its dispatcher goroutine, bound to
// parent's lifetime; call Close to stop it.
func New(parent context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)

	l2Weight, l3Weight := cfg.L2Weight, cfg.L3Weight
	if l2Weight <= 0 {
		l2Weight = 1
	}
	if l3Weight <= 0 {
		l3Weight = 1
	}

	s := &Scheduler{
		cfg:       cfg,
		exec:      newExecutor(cfg.ExecutorMin, cfg.ExecutorMax),
		perFile:   newPerFileOrdering(),
		group:     g,
		ctx:       gctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		l2Weight:  l2Weight,
		l3Weight:  l3Weight,
		rrPhaseL2: true,
		rrCounter: l2Weight,
	}
	for i := 0; i < numLanes; i++ {
		s.lanes[i] = make(chan *Job, cfg.LaneCapacities[i])
		s.waitHeaps[i] = newWaitHeap()
	}

	g.Go(func() error {
		s.dispatchLoop()
		return nil
	})
	return s
}

// Close stops the dispatcher and waits for in-flight dispatch bookkeeping
// to settle. Jobs already handed to the executor run to completion.
func (s *Scheduler) Close() {
	s.cancel()
	_ = s.group.Wait()
	close(s.done)
}

// Submit admits job to its lane and blocks until the job has run (or was
// rejected because its lane is full, or the scheduler is shutting down).
func (s *Scheduler) Submit(ctx context.Context, job *Job) Result {
	job.id = atomic.AddUint64(&s.nextID, 1)
	job.enqueued = time.Now()
	job.result = make(chan jobResult, 1)

	lane := job.Lane
	select {
	case s.lanes[lane] <- job:
		s.laneMu[lane].Lock()
		s.waitHeaps[lane].add(job.id, job.enqueued)
		s.laneMu[lane].Unlock()
		atomic.AddInt64(&s.accepted[lane], 1)
	default:
		atomic.AddInt64(&s.rejected[lane], 1)
		return Result{Err: fmt.Errorf("lane %s is full", lane)}
	}

	select {
	case r := <-job.result:
		return Result{Value: r.value, Err: r.err}
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-s.ctx.Done():
		return Result{Err: s.ctx.Err()}
	}
}

// bulkAdmitted implements the L4 admission rule: admitted only if total
// in-flight work across lanes 0-3 is below the quiet threshold and the
// executor has free slots beyond the reserved metadata/write slots.
func (s *Scheduler) bulkAdmitted() bool {
	highPriority := atomic.LoadInt64(&s.inFlight[LaneControl]) +
		atomic.LoadInt64(&s.inFlight[LaneMetadata]) +
		atomic.LoadInt64(&s.inFlight[LaneReadForeground]) +
		atomic.LoadInt64(&s.inFlight[LaneWriteStructural])
	if int(highPriority) >= s.cfg.QuietThreshold {
		return false
	}
	reserved := s.cfg.ReservedMetadataSlots + s.cfg.ReservedWriteSlots
	free := s.exec.freeSlots(s.cfg.ExecutorMax)
	return free > reserved
}

// hasL3Capacity reports whether LaneWriteStructural may dispatch right
// now: it may always dispatch more once it already has work in flight
// (it won't newly exhaust the executor), and otherwise only when the
// executor has strictly more free slots than the reserved write-slot
// count.
func (s *Scheduler) hasL3Capacity() bool {
	if atomic.LoadInt64(&s.inFlight[LaneWriteStructural]) > 0 {
		return true
	}
	return s.exec.freeSlots(s.cfg.ExecutorMax) > s.cfg.ReservedWriteSlots
}

// selectL2L3 picks which of LaneReadForeground/LaneWriteStructural to
// drain next given what each lane actually has queued (len, which is
// non-destructive on a buffered channel), using weighted round-robin
// (default 2:2) when both are backlogged, and falling back to L2
// whenever L3 lacks reserved executor capacity.
func (s *Scheduler) selectL2L3(read, write chan *Job) (Lane, bool) {
	l2HasWork := len(read) > 0
	l3HasWork := len(write) > 0

	switch {
	case !l2HasWork && !l3HasWork:
		return 0, false
	case l2HasWork && !l3HasWork:
		return LaneReadForeground, true
	case !l2HasWork && l3HasWork:
		if s.hasL3Capacity() {
			return LaneWriteStructural, true
		}
		return 0, false
	}

	if s.rrCounter <= 0 {
		s.rrPhaseL2 = !s.rrPhaseL2
		if s.rrPhaseL2 {
			s.rrCounter = s.l2Weight
		} else {
			s.rrCounter = s.l3Weight
		}
	}
	s.rrCounter--

	if s.rrPhaseL2 {
		return LaneReadForeground, true
	}
	if s.hasL3Capacity() {
		return LaneWriteStructural, true
	}
	return LaneReadForeground, true
}

func (s *Scheduler) dispatchLoop() {
	control, metadata, read, write, bulk := s.lanes[LaneControl], s.lanes[LaneMetadata], s.lanes[LaneReadForeground], s.lanes[LaneWriteStructural], s.lanes[LaneBulk]

	tryRecv := func(ch chan *Job) (*Job, bool) {
		select {
		case j := <-ch:
			return j, true
		default:
			return nil, false
		}
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if j, ok := tryRecv(control); ok {
			s.dispatch(LaneControl, j)
			continue
		}
		if j, ok := tryRecv(metadata); ok {
			s.dispatch(LaneMetadata, j)
			continue
		}

		if lane, ok := s.selectL2L3(read, write); ok {
			ch := read
			if lane == LaneWriteStructural {
				ch = write
			}
			if j, ok := tryRecv(ch); ok {
				s.dispatch(lane, j)
				continue
			}
		}

		if s.bulkAdmitted() {
			if j, ok := tryRecv(bulk); ok {
				s.dispatch(LaneBulk, j)
				continue
			}
		}

		var bulkCh chan *Job
		if s.bulkAdmitted() {
			bulkCh = bulk
		}
		select {
		case <-s.ctx.Done():
			return
		case j := <-control:
			s.dispatch(LaneControl, j)
		case j := <-metadata:
			s.dispatch(LaneMetadata, j)
		case j := <-read:
			s.dispatch(LaneReadForeground, j)
		case j := <-write:
			s.dispatch(LaneWriteStructural, j)
		case j := <-bulkCh:
			s.dispatch(LaneBulk, j)
		case <-time.After(10 * time.Millisecond):
			// re-evaluate bulk admission periodically even if no lane
			// has traffic, so a quiet period unblocks queued bulk work.
		}
	}
}

func (s *Scheduler) dispatch(lane Lane, job *Job) {
	s.laneMu[lane].Lock()
	s.waitHeaps[lane].remove(job.id)
	s.laneMu[lane].Unlock()

	atomic.StoreInt64(&s.lastDispatch[lane], time.Now().UnixNano())
	go s.executeJob(job)
}

// structuralInodes returns the distinct, non-zero per-file ordering keys
// a structural job scopes to: just Inode for single-parent ops, or both
// Inode and Inode2 (consistently ordered, to avoid lock-order deadlock)
// for rename, which must serialize against its source and destination
// parent directories at once.
func (job *Job) structuralInodes() []uint64 {
	switch {
	case job.Inode == 0 && job.Inode2 == 0:
		return nil
	case job.Inode2 == 0 || job.Inode2 == job.Inode:
		return []uint64{job.Inode}
	case job.Inode == 0:
		return []uint64{job.Inode2}
	case job.Inode < job.Inode2:
		return []uint64{job.Inode, job.Inode2}
	default:
		return []uint64{job.Inode2, job.Inode}
	}
}

func (s *Scheduler) executeJob(job *Job) {
	if job.Lane == LaneReadForeground && job.DedupKey != "" {
		v, err, _ := s.dd.do(job.DedupKey, func() (interface{}, error) {
			return s.runThroughExecutor(job)
		})
		job.result <- jobResult{value: v, err: err}
		return
	}

	if job.Lane == LaneWriteStructural {
		if inodes := job.structuralInodes(); len(inodes) > 0 {
			states := make([]*fileState, len(inodes))
			for i, inode := range inodes {
				states[i] = s.perFile.state(inode)
			}

			if job.Barrier {
				var inherited error
				for _, fs := range states {
					if err := fs.barrier(); err != nil {
						inherited = err
					}
				}
				var v interface{}
				var err error
				if job.Run != nil {
					v, err = s.runThroughExecutor(job)
				}
				if inherited != nil {
					err = inherited
				}
				job.result <- jobResult{value: v, err: err}
				return
			}

			for _, fs := range states {
				fs.acquire()
			}
			v, err := s.runThroughExecutor(job)
			for i := len(states) - 1; i >= 0; i-- {
				states[i].release(err)
			}
			job.result <- jobResult{value: v, err: err}
			return
		}
	}

	v, err := s.runThroughExecutor(job)
	job.result <- jobResult{value: v, err: err}
}

// runThroughExecutor runs job.Run under the bounded executor pool,
// returning its result directly without touching job.result (the caller
// owns delivering that, e.g. after combining with dedup or barrier
// bookkeeping).
func (s *Scheduler) runThroughExecutor(job *Job) (interface{}, error) {
	atomic.AddInt64(&s.inFlight[job.Lane], 1)
	defer atomic.AddInt64(&s.inFlight[job.Lane], -1)

	inner := make(chan jobResult, 1)
	wrapped := &Job{Run: job.Run, result: inner}
	go s.exec.run(s.ctx, wrapped)
	r := <-inner
	return r.value, r.err
}
