// Package events provides the in-process event bus that lets console
// components resynchronize after tree, route, auth and health changes.
package events

import (
	"sync"
	"time"
)

const (
	EventTreeReloaded = "tree-reloaded"
	EventRouteChanged = "route-changed"
	EventAuthChanged  = "auth-changed"
	EventDBHealth     = "db-health"
	EventNotice       = "notice"
)

// Event is one bus message. Fields beyond Type are populated per event kind:
// tree-reloaded carries Fallback/Cached, route-changed carries Tab and Hash,
// auth-changed carries AgentID, db-health carries Healthy.
type Event struct {
	Type      string `json:"type"`
	Tab       string `json:"tab,omitempty"`
	Hash      string `json:"hash,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Fallback  bool   `json:"fallback,omitempty"`
	Cached    bool   `json:"cached,omitempty"`
	Healthy   bool   `json:"healthy,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcaster manages subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
