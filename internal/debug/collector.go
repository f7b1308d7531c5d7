// Package debug forwards captured errors to the external debug collector.
// Reporting is best-effort: a failed report is logged and dropped so that no
// error-capture path can itself fail the caller.
package debug

import (
	"context"
	"sync"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// Reporter is the error-capture boundary handed to components that must
// swallow failures (storage writes, module loads).
type Reporter interface {
	Capture(source, message string, err error)
}

// Collector posts captured errors to the backend collector endpoint.
type Collector struct {
	client   *client.Client
	agentID  string
	deviceID string
	timeout  time.Duration

	mu sync.RWMutex
}

// NewCollector creates a collector. agentID may be empty until sign-in.
func NewCollector(c *client.Client, deviceID string) *Collector {
	return &Collector{
		client:   c,
		deviceID: deviceID,
		timeout:  5 * time.Second,
	}
}

// SetAgentID attributes subsequent reports to an agent.
func (c *Collector) SetAgentID(agentID string) {
	c.mu.Lock()
	c.agentID = agentID
	c.mu.Unlock()
}

// Capture sends one report in the background. It never blocks the caller
// and never returns an error.
func (c *Collector) Capture(source, message string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	logging.Warn("captured error",
		logging.String("source", source),
		logging.String("message", message),
		logging.String("detail", detail))

	c.mu.RLock()
	agentID := c.agentID
	c.mu.RUnlock()

	report := protocol.DebugReport{
		Source:    source,
		Message:   message,
		Detail:    detail,
		AgentID:   agentID,
		DeviceID:  c.deviceID,
		Timestamp: time.Now().Unix(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.client.ReportDebug(ctx, report); err != nil {
			logging.Debug("debug report dropped", logging.Err(err))
		}
	}()
}

// Discard is a Reporter that only logs, for tests and tools that run
// without a backend.
type Discard struct{}

func (Discard) Capture(source, message string, err error) {
	logging.Debug("captured error (discarded)",
		logging.String("source", source),
		logging.String("message", message),
		logging.Err(err))
}
