package events

import (
	"context"
	"log/slog"
	"time"
)

// Directory answers whether a scope's backing entity still exists. It is the
// boundary to the domain layer that owns channels and servers; the event core
// only consults it before discarding an emptied queue.
type Directory interface {
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	ServerExists(ctx context.Context, serverID string) (bool, error)
}

// SweepResult summarizes one retention pass.
type SweepResult struct {
	EventsEvicted int `json:"events_evicted"`
	QueuesRemoved int `json:"queues_removed"`
}

// SweepRecorder observes completed sweeps, interval and on-demand alike.
// Implemented by the metrics package; nil disables recording.
type SweepRecorder interface {
	SweepCompleted(eventsEvicted, queuesRemoved int)
}

// Sweeper periodically evicts events older than the retention bound and
// removes queues left empty for scopes the domain layer no longer knows.
type Sweeper struct {
	bus      *Bus
	dir      Directory
	interval time.Duration
	maxAge   time.Duration
	rec      SweepRecorder
	log      *slog.Logger
}

// NewSweeper builds a sweeper over the bus. dir decides queue removal; pass
// a StaticDirectory-style implementation to keep all queues alive. rec may
// be nil.
func NewSweeper(bus *Bus, dir Directory, interval, maxAge time.Duration, rec SweepRecorder, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{bus: bus, dir: dir, interval: interval, maxAge: maxAge, rec: rec, log: log}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("retention sweeper started",
		"interval", s.interval.String(),
		"max_age", s.maxAge.String())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			res := s.Sweep(ctx, s.maxAge)
			if res.EventsEvicted > 0 || res.QueuesRemoved > 0 {
				s.log.Info("retention sweep completed",
					"events_evicted", res.EventsEvicted,
					"queues_removed", res.QueuesRemoved)
			}
		}
	}
}

// Sweep evicts events older than maxAge from every queue, then removes
// emptied queues whose scope no longer exists. The global queue is never
// removed. If the directory lookup fails the queue is kept; losing a queue
// for a live scope is worse than keeping one for a dead scope until the
// next pass.
func (s *Sweeper) Sweep(ctx context.Context, maxAge time.Duration) SweepResult {
	cutoff := time.Now().UTC().Add(-maxAge)

	var res SweepResult
	for _, scope := range s.bus.scopesSnapshot() {
		q := s.bus.lookup(scope)
		if q == nil {
			continue
		}
		evicted, empty := q.evictOlderThan(cutoff)
		res.EventsEvicted += evicted

		if !empty || scope == ScopeGlobal {
			continue
		}
		if !s.scopeGone(ctx, scope) {
			continue
		}
		if s.bus.removeQueueIfEmpty(scope) {
			res.QueuesRemoved++
			s.log.Debug("removed queue for vanished scope", "scope", string(scope))
		}
	}

	if s.rec != nil {
		s.rec.SweepCompleted(res.EventsEvicted, res.QueuesRemoved)
	}
	return res
}

// scopeGone reports whether the domain layer has forgotten the scope's
// entity. Errors and unparseable scopes count as still alive.
func (s *Sweeper) scopeGone(ctx context.Context, scope Scope) bool {
	if s.dir == nil {
		return false
	}
	if id, ok := scope.ChannelID(); ok {
		exists, err := s.dir.ChannelExists(ctx, id)
		if err != nil {
			s.log.Warn("channel existence check failed, keeping queue",
				"channel_id", id, "error", err)
			return false
		}
		return !exists
	}
	if id, ok := scope.ServerID(); ok {
		exists, err := s.dir.ServerExists(ctx, id)
		if err != nil {
			s.log.Warn("server existence check failed, keeping queue",
				"server_id", id, "error", err)
			return false
		}
		return !exists
	}
	return false
}
