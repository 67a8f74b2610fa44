package scheduler

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// queueEntry is one pending firing. Entries are never removed in place;
// stale ones (schedule changed, disabled, deleted) are dropped when popped,
// after re-checking against the store.
type queueEntry struct {
	at         time.Time
	scheduleID uuid.UUID
}

type runQueue []queueEntry

func (q runQueue) Len() int           { return len(q) }
func (q runQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q runQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *runQueue) Push(x any)        { *q = append(*q, x.(queueEntry)) }
func (q *runQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	*q = old[:n-1]
	return entry
}

func (q *runQueue) push(at time.Time, scheduleID uuid.UUID) {
	heap.Push(q, queueEntry{at: at, scheduleID: scheduleID})
}

// peek returns the earliest entry without removing it.
func (q runQueue) peek() (queueEntry, bool) {
	if len(q) == 0 {
		return queueEntry{}, false
	}
	return q[0], true
}

func (q *runQueue) pop() queueEntry {
	return heap.Pop(q).(queueEntry)
}
