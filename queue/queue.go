// Package queue provides work-item sources for the scheduler: a fixed batch
// and a closable feed. Both report done/total counters for the summary line.
//
// Finish may arrive more than once for the same item when a plan's chain was
// spread across lanes; the counters count finishes, not distinct items.
package queue

import (
	"sync"

	"laneway/scheduler"
)

// Static is a fixed batch of work items. It is terminal once every item has
// been taken.
type Static struct {
	mu       sync.Mutex
	items    []scheduler.WorkItem
	next     int
	finished int
}

// NewStatic creates a queue over a fixed item list.
func NewStatic(items []scheduler.WorkItem) *Static {
	return &Static{items: items}
}

func (q *Static) Take(n int) []scheduler.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.items) {
		return nil
	}
	end := q.next + n
	if end > len(q.items) {
		end = len(q.items)
	}
	taken := q.items[q.next:end]
	q.next = end
	return taken
}

func (q *Static) Finish(item scheduler.WorkItem) {
	q.mu.Lock()
	q.finished++
	q.mu.Unlock()
}

func (q *Static) Terminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.next >= len(q.items)
}

// Status returns finished and total counters.
func (q *Static) Status() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return []int{q.finished, len(q.items)}
}

// Feed is a queue fed from other goroutines. It is terminal once closed and
// drained.
type Feed struct {
	mu       sync.Mutex
	pending  []scheduler.WorkItem
	total    int
	finished int
	closed   bool
}

// NewFeed creates an open feed queue.
func NewFeed() *Feed {
	return &Feed{}
}

// Push adds a work item. Pushing to a closed feed is a no-op.
func (q *Feed) Push(item scheduler.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.pending = append(q.pending, item)
	q.total++
}

// CloseFeed marks that no further items will arrive.
func (q *Feed) CloseFeed() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

func (q *Feed) Take(n int) []scheduler.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil
	}
	taken := make([]scheduler.WorkItem, n)
	copy(taken, q.pending[:n])
	q.pending = q.pending[n:]
	return taken
}

func (q *Feed) Finish(item scheduler.WorkItem) {
	q.mu.Lock()
	q.finished++
	q.mu.Unlock()
}

func (q *Feed) Terminal() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.pending) == 0
}

// Status returns finished and total counters.
func (q *Feed) Status() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return []int{q.finished, q.total}
}
