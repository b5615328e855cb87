package events

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Bus is the single authority for publishing events and registering waiters.
// One Bus instance is created at startup, handed to both dispatchers, and
// torn down with the process.
type Bus struct {
	log         *slog.Logger
	maxQueueLen int

	// lastID is the id of the most recently assigned event. Seeded from the
	// wall clock so ids stay roughly monotonic across restarts; advanced by
	// an atomic increment so ids are strictly monotonic within the process.
	lastID atomic.Uint64

	// publishMu orders id assignment and queue appends as one step. Without
	// it a subscriber could advance its cursor past an id still on its way
	// into the queues and never see that event.
	publishMu sync.Mutex

	mu      sync.RWMutex
	queues  map[Scope]*scopeQueue
	waiters map[Scope]map[*Waiter]struct{}
}

// Options configures a Bus.
type Options struct {
	// MaxQueueLength bounds each scope queue. Defaults to 100.
	MaxQueueLength int
	Logger         *slog.Logger
}

// DefaultMaxQueueLength is the per-scope retention bound applied when
// Options.MaxQueueLength is not set.
const DefaultMaxQueueLength = 100

// NewBus creates an empty Bus. Scope queues are created lazily on first
// publish or first query against a scope.
func NewBus(opts Options) *Bus {
	if opts.MaxQueueLength <= 0 {
		opts.MaxQueueLength = DefaultMaxQueueLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	b := &Bus{
		log:         opts.Logger,
		maxQueueLen: opts.MaxQueueLength,
		queues:      make(map[Scope]*scopeQueue),
		waiters:     make(map[Scope]map[*Waiter]struct{}),
	}
	b.lastID.Store(uint64(time.Now().UnixMilli()) << 20)
	return b
}

// CurrentID returns the most recently assigned event id. A subscriber that
// wants only future events starts its cursor here.
func (b *Bus) CurrentID() uint64 {
	return b.lastID.Load()
}

// Publish assigns an id and timestamp if unset, appends the event to every
// scope queue it belongs to, and wakes matching waiters. It never blocks on
// slow consumers. The returned event carries the assigned id.
func (b *Bus) Publish(ev Event) (Event, error) {
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("publish: unknown event type %q", ev.Type)
	}

	b.publishMu.Lock()
	if ev.ID == 0 {
		ev.ID = b.lastID.Add(1)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	scopes := ev.Scopes()
	for _, scope := range scopes {
		if !b.queue(scope).append(ev) {
			// A duplicate id means the generator is broken. Loud, not
			// silent: downstream cursor arithmetic depends on unique ids.
			b.log.Error("duplicate event id, rejecting append",
				"scope", string(scope),
				"event_id", ev.ID,
				"event_type", string(ev.Type))
		}
	}
	b.publishMu.Unlock()

	b.wake(scopes)
	return ev, nil
}

// Query returns all retained events across the given scopes with id greater
// than cursor, deduplicated, merged, and sorted ascending by id. The result
// is capped at limit (the queue bound when limit <= 0). The second return is
// the gap flag: true when a queue has evicted events the cursor predates.
// An empty scope list means the global scope. Unknown scopes contribute
// nothing; scope existence is owned by the domain layer, not the event core.
func (b *Bus) Query(scopes []Scope, cursor uint64, limit int) ([]Event, bool) {
	if len(scopes) == 0 {
		scopes = []Scope{ScopeGlobal}
	}
	if limit <= 0 {
		limit = b.maxQueueLen
	}

	var merged []Event
	var gap bool
	seen := make(map[uint64]struct{})

	for _, scope := range scopes {
		q := b.lookup(scope)
		if q == nil {
			continue
		}
		evs, g := q.since(cursor)
		gap = gap || g
		for _, ev := range evs {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, gap
}

// Waiter is a registration against one or more scopes. Its signal channel
// has capacity one so concurrent publishes coalesce into a single wake; the
// waiter re-queries on wake and picks up everything at once.
type Waiter struct {
	scopes []Scope
	ch     chan struct{}
}

// Signal returns the channel that receives a wake after a matching publish.
func (w *Waiter) Signal() <-chan struct{} {
	return w.ch
}

// Register adds a waiter for the given scopes (the global scope when empty).
// The caller must Unregister it when done. Registration alone does not
// guarantee delivery of events published before it; callers must follow the
// check, register, re-check, sleep protocol — Wait does this.
func (b *Bus) Register(scopes []Scope) *Waiter {
	if len(scopes) == 0 {
		scopes = []Scope{ScopeGlobal}
	}
	w := &Waiter{scopes: scopes, ch: make(chan struct{}, 1)}

	b.mu.Lock()
	for _, scope := range scopes {
		set := b.waiters[scope]
		if set == nil {
			set = make(map[*Waiter]struct{})
			b.waiters[scope] = set
		}
		set[w] = struct{}{}
	}
	b.mu.Unlock()
	return w
}

// Unregister removes a waiter from every scope it was registered on.
func (b *Bus) Unregister(w *Waiter) {
	b.mu.Lock()
	for _, scope := range w.scopes {
		if set, ok := b.waiters[scope]; ok {
			delete(set, w)
			if len(set) == 0 {
				delete(b.waiters, scope)
			}
		}
	}
	b.mu.Unlock()
}

// Wait blocks until at least one event with id greater than cursor exists in
// the given scopes, the timeout elapses, or ctx is cancelled. A timeout is a
// normal completion with an empty batch; cancellation returns ctx.Err().
//
// The no-missed-wake protocol: query first, register, query again to cover a
// publish that raced the registration, then sleep on the signal channel.
func (b *Bus) Wait(ctx context.Context, scopes []Scope, cursor uint64, timeout time.Duration, limit int) ([]Event, bool, error) {
	if evs, gap := b.Query(scopes, cursor, limit); len(evs) > 0 {
		return evs, gap, nil
	}

	w := b.Register(scopes)
	defer b.Unregister(w)

	if evs, gap := b.Query(scopes, cursor, limit); len(evs) > 0 {
		return evs, gap, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-timer.C:
			return nil, false, nil
		case <-w.Signal():
			if evs, gap := b.Query(scopes, cursor, limit); len(evs) > 0 {
				return evs, gap, nil
			}
			// Coalesced wake with nothing new for this cursor; keep waiting
			// out the remaining timeout.
		}
	}
}

// wake signals every waiter registered on any of the scopes. Waiters are
// collected under the read lock and signalled outside it so a slow consumer
// never stalls a publisher.
func (b *Bus) wake(scopes []Scope) {
	var targets []*Waiter
	b.mu.RLock()
	for _, scope := range scopes {
		for w := range b.waiters[scope] {
			targets = append(targets, w)
		}
	}
	b.mu.RUnlock()

	for _, w := range targets {
		select {
		case w.ch <- struct{}{}:
		default:
			// Already has a pending wake; it will re-query anyway.
		}
	}
}

// queue returns the scope's queue, creating it if absent.
func (b *Bus) queue(scope Scope) *scopeQueue {
	b.mu.RLock()
	q := b.queues[scope]
	b.mu.RUnlock()
	if q != nil {
		return q
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q = b.queues[scope]; q == nil {
		q = newScopeQueue(b.maxQueueLen)
		b.queues[scope] = q
	}
	return q
}

// lookup returns the scope's queue or nil without creating it.
func (b *Bus) lookup(scope Scope) *scopeQueue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queues[scope]
}

// scopesSnapshot returns the keys of all live scope queues.
func (b *Bus) scopesSnapshot() []Scope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	scopes := make([]Scope, 0, len(b.queues))
	for scope := range b.queues {
		scopes = append(scopes, scope)
	}
	return scopes
}

// removeQueueIfEmpty drops a scope queue that holds no events and has no
// registered waiters. Returns whether the queue was removed. The global
// queue is never removed.
func (b *Bus) removeQueueIfEmpty(scope Scope) bool {
	if scope == ScopeGlobal {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[scope]
	if !ok {
		return false
	}
	if len(b.waiters[scope]) > 0 {
		return false
	}
	if q.len() != 0 {
		return false
	}
	delete(b.queues, scope)
	return true
}
