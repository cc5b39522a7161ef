package scheduler

import (
	"time"

	"github.com/aalpar/deheap"
)

// waitItem tracks one admitted-but-not-yet-dispatched job's enqueue time,
// so a lane can report its oldest queued wait without depending on
// channel order (jobs may be pulled out of a lane's channel out of
// arrival order once the dispatcher's fairness rule is applied).
type waitItem struct {
	id        uint64
	enqueued  time.Time
	heapIndex int
}

// waitHeap is a min-heap (by enqueue time) of waitItems, backed by
// aalpar/deheap so the oldest entry can be read in O(1) and any entry
// removed in O(log n) once its job is dispatched, regardless of
// dispatch order.
type waitHeap struct {
	items []*waitItem
	byID  map[uint64]*waitItem
}

func newWaitHeap() *waitHeap {
	return &waitHeap{byID: make(map[uint64]*waitItem)}
}

func (h *waitHeap) Len() int { return len(h.items) }
func (h *waitHeap) Less(i, j int) bool {
	return h.items[i].enqueued.Before(h.items[j].enqueued)
}
func (h *waitHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}
func (h *waitHeap) Push(x interface{}) {
	it := x.(*waitItem)
	it.heapIndex = len(h.items)
	h.items = append(h.items, it)
}
func (h *waitHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// add registers id as newly enqueued at t.
func (h *waitHeap) add(id uint64, t time.Time) {
	it := &waitItem{id: id, enqueued: t}
	h.byID[id] = it
	deheap.Push(h, it)
}

// remove removes id from the heap once its job has been dispatched.
func (h *waitHeap) remove(id uint64) {
	it, ok := h.byID[id]
	if !ok {
		return
	}
	delete(h.byID, id)
	deheap.Remove(h, it.heapIndex)
}

// oldestWait returns how long the oldest still-queued job has been
// waiting, or 0 if the lane is empty.
func (h *waitHeap) oldestWait(now time.Time) time.Duration {
	if len(h.items) == 0 {
		return 0
	}
	return now.Sub(h.items[0].enqueued)
}
