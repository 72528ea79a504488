package metrics

import (
	"time"
)

// PoolSource exposes pool occupancy for collection.
type PoolSource interface {
	Counts() (total, pooled, assigned, released int)
}

// SessionSource exposes session counts for collection.
type SessionSource interface {
	Counts() (credential, auth int)
}

// Collector periodically snapshots pool and session gauges.
type Collector struct {
	pool     PoolSource
	sessions SessionSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(pool PoolSource, sessions SessionSource) *Collector {
	return &Collector{
		pool:     pool,
		sessions: sessions,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.pool != nil {
		_, pooled, assigned, released := c.pool.Counts()
		PoolContainers.WithLabelValues("pooled").Set(float64(pooled))
		PoolContainers.WithLabelValues("assigned").Set(float64(assigned))
		PoolContainers.WithLabelValues("released").Set(float64(released))
	}

	if c.sessions != nil {
		credential, auth := c.sessions.Counts()
		SessionsActive.WithLabelValues("credential").Set(float64(credential))
		SessionsActive.WithLabelValues("auth").Set(float64(auth))
	}
}
