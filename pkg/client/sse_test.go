package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

func TestSSE_DeliversEvents(t *testing.T) {
	var gotAuth atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: sidebar-changed\n")
		fmt.Fprint(w, `data: {"type":"sidebar-changed","entry_id":"tickets"}`+"\n\n")
		fmt.Fprint(w, "event: agent-state-changed\n")
		fmt.Fprint(w, `data: {"type":"agent-state-changed","agent_id":"a2"}`+"\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewSSEClient(ts.URL)
	c.SetAuthToken("tok-123")
	events := c.Subscribe(ctx)

	var got []protocol.ChangeEvent
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timed out, got %d events", len(got))
		}
	}

	if got[0].Type != protocol.EventSidebarChanged || got[0].EntryID != "tickets" {
		t.Errorf("unexpected first event %+v", got[0])
	}
	if got[1].Type != protocol.EventAgentState || got[1].AgentID != "a2" {
		t.Errorf("unexpected second event %+v", got[1])
	}
	if auth, _ := gotAuth.Load().(string); auth != "Bearer tok-123" {
		t.Errorf("expected bearer header, got %q", auth)
	}
}

func TestSSE_ReconnectsAfterDisconnect(t *testing.T) {
	var connects int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&connects, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "event: sidebar-changed\ndata: {\"type\":\"sidebar-changed\",\"entry_id\":\"conn-%d\"}\n\n", n)
		flusher.Flush()
		// First connection drops immediately; later ones stay open.
		if n > 1 {
			<-r.Context().Done()
		}
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewSSEClient(ts.URL)
	c.reconnectMin = 5 * time.Millisecond
	events := c.Subscribe(ctx)

	seen := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen[ev.EntryID] = true
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen["conn-1"] || !seen["conn-2"] {
		t.Errorf("expected events from two connections, saw %v", seen)
	}
}

func TestSSE_ChannelClosesOnCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := NewSSEClient(ts.URL).Subscribe(ctx)
	cancel()

	select {
	case _, open := <-events:
		if open {
			// Drain any event; the close must still follow.
			for range events {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed")
	}
}
