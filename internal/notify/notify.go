// Package notify dispatches desktop notifications, throttled so a burst of
// events cannot flood the agent.
package notify

import (
	"sync"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
)

// MinInterval is the minimum spacing between dispatched notifications.
const MinInterval = 700 * time.Millisecond

// Notifier throttles notification dispatch to at most one per MinInterval.
// A notification arriving inside the window is dropped; callers observing a
// false return may retry later with fresher content.
type Notifier struct {
	bus *events.Broadcaster

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// New creates a notifier publishing on bus.
func New(bus *events.Broadcaster) *Notifier {
	return &Notifier{
		bus: bus,
		now: time.Now,
	}
}

// Send dispatches one notification. Returns false when the throttle
// swallowed it.
func (n *Notifier) Send(title, body string) bool {
	n.mu.Lock()
	if now := n.now(); now.Sub(n.last) >= MinInterval {
		n.last = now
		n.mu.Unlock()

		metrics.RecordNotification("sent")
		logging.Info("notification", logging.String("title", title), logging.String("body", body))
		n.bus.Publish(events.Event{
			Type:    events.EventNotice,
			Message: title + ": " + body,
		})
		return true
	}
	n.mu.Unlock()

	metrics.RecordNotification("throttled")
	return false
}
