package client

import "container/heap"

// timerEntry is a deferred action keyed by a monotonic nanosecond deadline.
type timerEntry struct {
	deadline int64
	action   func()
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerEntry)) }

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// timerQueue orders actions by deadline. Deadlines are kept unique by
// bumping a colliding one by 1ns, so equal delays run in insertion order.
// Not safe for concurrent use; Client guards it with its mutex.
type timerQueue struct {
	entries timerHeap
	used    map[int64]struct{}
}

func (q *timerQueue) schedule(deadline int64, action func()) int64 {
	if q.used == nil {
		q.used = make(map[int64]struct{})
	}
	for {
		if _, taken := q.used[deadline]; !taken {
			break
		}
		deadline++
	}
	q.used[deadline] = struct{}{}
	heap.Push(&q.entries, &timerEntry{deadline: deadline, action: action})
	return deadline
}

func (q *timerQueue) peekEarliest() (int64, bool) {
	if len(q.entries) == 0 {
		return 0, false
	}
	return q.entries[0].deadline, true
}

func (q *timerQueue) popIfDue(now int64) (func(), bool) {
	if len(q.entries) == 0 || q.entries[0].deadline > now {
		return nil, false
	}
	e := heap.Pop(&q.entries).(*timerEntry)
	delete(q.used, e.deadline)
	return e.action, true
}

func (q *timerQueue) len() int {
	return len(q.entries)
}
