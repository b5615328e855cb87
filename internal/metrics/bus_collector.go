// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yogapratama/chatwire/backend/internal/events"
)

// BusStatsSource supplies bus snapshots for the gauge collector.
type BusStatsSource interface {
	Stats() events.Stats
}

// ConnectionCounter supplies the number of open SSE connections.
type ConnectionCounter interface {
	TotalConnections() int
}

// BusStatsCollector periodically copies bus, stream, and pool statistics
// into Prometheus gauges.
type BusStatsCollector struct {
	bus     BusStatsSource
	streams ConnectionCounter
	pgxPool *pgxpool.Pool
	log     *slog.Logger
	stopCh  chan struct{}
}

// NewBusStatsCollector creates a new stats collector. streams and pgxPool
// may be nil.
func NewBusStatsCollector(bus BusStatsSource, streams ConnectionCounter, pgxPool *pgxpool.Pool, log *slog.Logger) *BusStatsCollector {
	if log == nil {
		log = slog.Default()
	}
	return &BusStatsCollector{
		bus:     bus,
		streams: streams,
		pgxPool: pgxPool,
		log:     log,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting statistics at regular intervals.
func (c *BusStatsCollector) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.log.Info("bus stats collector started", "interval", interval.String())
}

// Stop stops the collector.
func (c *BusStatsCollector) Stop() {
	close(c.stopCh)
	c.log.Info("bus stats collector stopped")
}

// collect gathers statistics and updates Prometheus gauges.
func (c *BusStatsCollector) collect() {
	if c.bus != nil {
		stats := c.bus.Stats()
		ActiveQueues.Set(float64(stats.ActiveQueues))
		BufferedEvents.Set(float64(stats.TotalEvents))
		BlockedPollWaiters.Set(float64(stats.BlockedWaiters))
	}

	if c.streams != nil {
		StreamConnectionsActive.Set(float64(c.streams.TotalConnections()))
	}

	if c.pgxPool != nil {
		stat := c.pgxPool.Stat()
		DBConnectionsOpen.Set(float64(stat.TotalConns()))
		DBConnectionsInUse.Set(float64(stat.AcquiredConns()))
		DBConnectionsIdle.Set(float64(stat.IdleConns()))
	}
}
