package events

import (
	"sort"
	"sync"
	"time"
)

// scopeQueue is the bounded, ordered buffer of events for one scope. Events
// are kept oldest first in strictly ascending id order. Each queue is an
// independently lockable unit; the bus never holds its own lock while
// touching a queue.
type scopeQueue struct {
	mu     sync.Mutex
	events []Event
	maxLen int

	// lastEvicted is the highest id this queue has ever dropped, either by
	// the length bound or by the sweeper. Zero means nothing was ever
	// dropped. Used to detect gaps for cursors that predate retention.
	lastEvicted uint64
}

func newScopeQueue(maxLen int) *scopeQueue {
	return &scopeQueue{maxLen: maxLen}
}

// append adds an event in id position, evicting from the head if the length
// bound is exceeded. Ids are assigned before any queue lock is taken, so
// concurrent publishers can reach the queue slightly out of order; those
// arrivals are slotted into place. Returns false only for a duplicate id,
// which indicates a broken id generator.
func (q *scopeQueue) append(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.events)
	if n == 0 || ev.ID > q.events[n-1].ID {
		q.events = append(q.events, ev)
	} else {
		i := sort.Search(n, func(i int) bool { return q.events[i].ID >= ev.ID })
		if i < n && q.events[i].ID == ev.ID {
			return false
		}
		q.events = append(q.events, Event{})
		copy(q.events[i+1:], q.events[i:])
		q.events[i] = ev
	}

	for len(q.events) > q.maxLen {
		q.lastEvicted = q.events[0].ID
		q.events = q.events[1:]
	}
	return true
}

// since returns a copy of all retained events with id greater than cursor,
// oldest first, and whether the cursor predates an eviction (the caller may
// have missed events the queue no longer holds).
func (q *scopeQueue) since(cursor uint64) ([]Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	gap := q.lastEvicted != 0 && cursor < q.lastEvicted

	i := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].ID > cursor
	})
	if i == len(q.events) {
		return nil, gap
	}

	out := make([]Event, len(q.events)-i)
	copy(out, q.events[i:])
	return out, gap
}

// evictOlderThan trims the expired prefix of the queue. The queue is ordered
// by id and therefore by time, so this never scans past the first retained
// entry. Returns the number of evicted events and whether the queue is now
// empty.
func (q *scopeQueue) evictOlderThan(cutoff time.Time) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.events) && q.events[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		q.lastEvicted = q.events[i-1].ID
		q.events = q.events[i:]
	}
	return i, len(q.events) == 0
}

// len returns the number of retained events.
func (q *scopeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
