package dragdrop

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/retry"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/sidebar"
)

// dropBackend is a minimal sidebar API: tree buckets keyed by
// "level|parent", a flat library, attach acting as detach-plus-attach.
type dropBackend struct {
	mu         sync.Mutex
	buckets    map[string][]*protocol.TreeEntry
	library    []*protocol.LibraryEntry
	mutations  []string
	failAttach bool
}

func newDropBackend() *dropBackend {
	return &dropBackend{
		buckets: map[string][]*protocol.TreeEntry{
			"0|": {
				{EntryID: "chat", Label: "Chat", Hash: "#/modules/conversation-hub"},
				{EntryID: "more", Label: "More"},
			},
			"1|more": {
				{EntryID: "tickets", Label: "Tickets", Hash: "#/modules/tickets"},
				{EntryID: "docs", Label: "Docs", Hash: "#wiki"},
			},
		},
		library: []*protocol.LibraryEntry{
			{EntryID: "chat", Label: "Chat", Attached: true},
			{EntryID: "more", Label: "More", Attached: true},
			{EntryID: "tickets", Label: "Tickets", Attached: true},
			{EntryID: "docs", Label: "Docs", Attached: true},
			{EntryID: "drafts", Label: "Drafts"},
		},
	}
}

func (b *dropBackend) removeEverywhere(entryID string) {
	for key, bucket := range b.buckets {
		kept := bucket[:0]
		for _, e := range bucket {
			if e.EntryID != entryID {
				kept = append(kept, e)
			}
		}
		b.buckets[key] = kept
	}
}

func (b *dropBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sidebar/tree", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		key := r.URL.Query().Get("level") + "|" + r.URL.Query().Get("parent_entry_id")
		json.NewEncoder(w).Encode(protocol.TreeLevelResponse{Items: b.buckets[key]})
	})
	mux.HandleFunc("/api/sidebar/tree/add", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failAttach {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "attach refused"})
			return
		}
		var req protocol.TreeAddRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mutations = append(b.mutations, "attach:"+req.EntryID)
		b.removeEverywhere(req.EntryID)
		key := fmt.Sprintf("%d|%s", req.Level, req.ParentEntryID)
		b.buckets[key] = append(b.buckets[key], &protocol.TreeEntry{
			EntryID: req.EntryID,
			Label:   req.Label,
			Hash:    req.Hash,
		})
		for _, le := range b.library {
			if le.EntryID == req.EntryID {
				le.Attached = true
			}
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/sidebar/tree/reorder", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		var req protocol.ReorderRequest
		json.NewDecoder(r.Body).Decode(&req)
		b.mutations = append(b.mutations, "reorder")
		key := fmt.Sprintf("%d|%s", req.Level, req.ParentEntryID)
		byID := make(map[string]*protocol.TreeEntry)
		for _, e := range b.buckets[key] {
			byID[e.EntryID] = e
		}
		ordered := make([]*protocol.TreeEntry, 0, len(req.Order))
		for _, id := range req.Order {
			if e, ok := byID[id]; ok {
				ordered = append(ordered, e)
			}
		}
		b.buckets[key] = ordered
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sidebar/submenus", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "admin only"})
	})
	mux.HandleFunc("/api/sidebar/links", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "admin only"})
	})
	mux.HandleFunc("/api/sidebar", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(protocol.LibraryResponse{Items: b.library})
	})
	return mux
}

func dropStore(t *testing.T, backend *dropBackend) (*sidebar.Store, func()) {
	t.Helper()
	ts := httptest.NewServer(backend.handler())
	c := client.New(client.Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 1,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	store := sidebar.NewStore(c, events.NewBroadcaster(), nil)
	if _, err := store.LoadFullTree(context.Background()); err != nil {
		t.Fatalf("initial load: %v", err)
	}
	return store, ts.Close
}

func (b *dropBackend) recorded() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.mutations...)
}

func TestPerformDrop_NilPayloadIsNoOp(t *testing.T) {
	if err := PerformDrop(context.Background(), nil, nil, Target{Level: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPerformDrop_OutOfRangeTargetIsNoOp(t *testing.T) {
	backend := newDropBackend()
	store, done := dropStore(t, backend)
	defer done()

	p := &Payload{Kind: KindCustom, EntryID: "drafts", Label: "Drafts", Hash: "#x"}
	if err := PerformDrop(context.Background(), store, p, Target{Level: 3, ParentEntryID: "docs"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := backend.recorded(); len(got) != 0 {
		t.Errorf("expected no mutations, got %v", got)
	}
}

func TestPerformDrop_ReparentThenReorder(t *testing.T) {
	backend := newDropBackend()
	store, done := dropStore(t, backend)
	defer done()

	// Move tickets from level 1 under "more" to level 0, before "chat".
	p := &Payload{
		Kind:         KindTreeMove,
		EntryID:      "tickets",
		Label:        "Tickets",
		Hash:         "#/modules/tickets",
		FromLevel:    1,
		FromParentID: "more",
	}
	if err := PerformDrop(context.Background(), store, p, Target{Level: 0, Before: "chat"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	muts := backend.recorded()
	if !reflect.DeepEqual(muts, []string{"attach:tickets", "reorder"}) {
		t.Fatalf("expected attach then reorder, got %v", muts)
	}
	roots := sidebar.SiblingIDs(store.Snapshot().Roots, 0, "")
	if !reflect.DeepEqual(roots, []string{"tickets", "chat", "more"}) {
		t.Errorf("expected [tickets chat more], got %v", roots)
	}
	if got := sidebar.SiblingIDs(store.Snapshot().Roots, 1, "more"); !reflect.DeepEqual(got, []string{"docs"}) {
		t.Errorf("expected old bucket reduced to [docs], got %v", got)
	}
}

func TestPerformDrop_SameBucketSkipsAttach(t *testing.T) {
	backend := newDropBackend()
	store, done := dropStore(t, backend)
	defer done()

	p := &Payload{
		Kind:         KindTreeMove,
		EntryID:      "docs",
		Label:        "Docs",
		Hash:         "#wiki",
		FromLevel:    1,
		FromParentID: "more",
	}
	if err := PerformDrop(context.Background(), store, p, Target{Level: 1, ParentEntryID: "more", Before: "tickets"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	muts := backend.recorded()
	if !reflect.DeepEqual(muts, []string{"reorder"}) {
		t.Fatalf("expected a pure reorder, got %v", muts)
	}
	got := sidebar.SiblingIDs(store.Snapshot().Roots, 1, "more")
	if !reflect.DeepEqual(got, []string{"docs", "tickets"}) {
		t.Errorf("expected [docs tickets], got %v", got)
	}
}

func TestPerformDrop_AppendSkipsReorder(t *testing.T) {
	backend := newDropBackend()
	store, done := dropStore(t, backend)
	defer done()

	p := &Payload{Kind: KindSubmenu, EntryID: "drafts", Label: "Drafts"}
	if err := PerformDrop(context.Background(), store, p, Target{Level: 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	muts := backend.recorded()
	if !reflect.DeepEqual(muts, []string{"attach:drafts"}) {
		t.Fatalf("expected a single attach, got %v", muts)
	}
	roots := sidebar.SiblingIDs(store.Snapshot().Roots, 0, "")
	if !reflect.DeepEqual(roots, []string{"chat", "more", "drafts"}) {
		t.Errorf("expected drafts appended, got %v", roots)
	}
}

func TestPerformDrop_FailedReparentAbortsReorder(t *testing.T) {
	backend := newDropBackend()
	store, done := dropStore(t, backend)
	defer done()
	backend.mu.Lock()
	backend.failAttach = true
	backend.mu.Unlock()

	p := &Payload{
		Kind:         KindTreeMove,
		EntryID:      "tickets",
		Label:        "Tickets",
		Hash:         "#/modules/tickets",
		FromLevel:    1,
		FromParentID: "more",
	}
	err := PerformDrop(context.Background(), store, p, Target{Level: 0, Before: "chat"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, op := range backend.recorded() {
		if op == "reorder" {
			t.Error("reorder must not run after a failed reparent")
		}
	}
	roots := sidebar.SiblingIDs(store.Snapshot().Roots, 0, "")
	if !reflect.DeepEqual(roots, []string{"chat", "more"}) {
		t.Errorf("held tree changed after failed reparent: %v", roots)
	}
}

func TestChildTarget(t *testing.T) {
	node := &protocol.TreeEntry{EntryID: "more", Level: 0}
	target, ok := ChildTarget(node)
	if !ok {
		t.Fatal("expected a child target")
	}
	if target.Level != 1 || target.ParentEntryID != "more" {
		t.Errorf("unexpected target %+v", target)
	}

	leaf := &protocol.TreeEntry{EntryID: "deep", Level: protocol.LevelMax}
	if _, ok := ChildTarget(leaf); ok {
		t.Error("max-depth node must not accept children")
	}
	if _, ok := ChildTarget(nil); ok {
		t.Error("nil node must not yield a target")
	}
}

func TestSiblingTarget(t *testing.T) {
	node := &protocol.TreeEntry{EntryID: "docs", Level: 1, ParentEntryID: "more"}

	before := SiblingTarget(node, true)
	if before.Level != 1 || before.ParentEntryID != "more" || before.Before != "docs" || before.After != "" {
		t.Errorf("unexpected before target %+v", before)
	}
	after := SiblingTarget(node, false)
	if after.After != "docs" || after.Before != "" {
		t.Errorf("unexpected after target %+v", after)
	}
}
