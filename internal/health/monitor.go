// Package health runs the periodic backend health probe.
package health

import (
	"context"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
)

// DefaultInterval is the probe period.
const DefaultInterval = 30 * time.Second

// Monitor pings the backend on a fixed interval, independent of other
// state, and broadcasts health flips.
type Monitor struct {
	client   *client.Client
	bus      *events.Broadcaster
	interval time.Duration

	healthy bool
	probed  bool
}

// NewMonitor creates a monitor. A zero interval uses DefaultInterval.
func NewMonitor(c *client.Client, bus *events.Broadcaster, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		client:   c,
		bus:      bus,
		interval: interval,
	}
}

// Run probes until ctx is cancelled. It probes once immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := m.client.Ping(probeCtx)
	cancel()

	healthy := err == nil
	metrics.SetBackendUp(healthy)

	if m.probed && healthy == m.healthy {
		return
	}
	flipped := m.probed
	m.healthy = healthy
	m.probed = true

	if flipped || !healthy {
		if healthy {
			logging.Info("backend health restored")
		} else {
			logging.Warn("backend health probe failed", logging.Err(err))
		}
		m.bus.Publish(events.Event{
			Type:    events.EventDBHealth,
			Healthy: healthy,
		})
	}
}
