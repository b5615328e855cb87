package events

// Stats is a point-in-time snapshot of the bus. Counts for different scopes
// are taken under per-queue locks, not one global freeze, so the snapshot is
// internally consistent per queue but not across queues.
type Stats struct {
	ActiveQueues   int           `json:"active_queues"`
	TotalEvents    int           `json:"total_events"`
	QueueLengths   map[Scope]int `json:"queue_lengths"`
	BlockedWaiters int           `json:"blocked_waiters"`
}

// Stats reports the current shape of the bus. Waiters registered on several
// scopes are counted once.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	queues := make(map[Scope]*scopeQueue, len(b.queues))
	for scope, q := range b.queues {
		queues[scope] = q
	}
	unique := make(map[*Waiter]struct{})
	for _, set := range b.waiters {
		for w := range set {
			unique[w] = struct{}{}
		}
	}
	b.mu.RUnlock()

	s := Stats{
		ActiveQueues:   len(queues),
		QueueLengths:   make(map[Scope]int, len(queues)),
		BlockedWaiters: len(unique),
	}
	for scope, q := range queues {
		n := q.len()
		s.QueueLengths[scope] = n
		s.TotalEvents += n
	}
	return s
}
