package sidebar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/retry"
)

// fakeBackend serves the sidebar API from in-memory buckets keyed by
// "level|parent_entry_id", so mutations are visible on the next reload.
type fakeBackend struct {
	mu             sync.Mutex
	buckets        map[string][]*protocol.TreeEntry
	library        []*protocol.LibraryEntry
	submenus       []*protocol.LibraryEntry
	links          []*protocol.LibraryEntry
	fallback       bool
	cached         bool
	filteredStatus int // non-zero: submenus/links endpoints fail with it
	submenusStatus int // non-zero: only the submenus endpoint fails
	mutations      []string
}

func bucketKey(level int, parent string) string {
	return fmt.Sprintf("%d|%s", level, parent)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		buckets: map[string][]*protocol.TreeEntry{
			bucketKey(0, ""): {
				{EntryID: "chat", Label: "Chat", Hash: "#/modules/conversation-hub"},
				{EntryID: "more", Label: "More"},
			},
			bucketKey(1, "more"): {
				{EntryID: "tickets", Label: "Tickets", Hash: "#/modules/tickets"},
				{EntryID: "docs", Label: "Docs", Hash: "#wiki"},
			},
		},
		library: []*protocol.LibraryEntry{
			{EntryID: "chat", Label: "Chat", Hash: "#/modules/conversation-hub", Attached: true},
			{EntryID: "more", Label: "More", Attached: true},
			{EntryID: "tickets", Label: "Tickets", Hash: "#/modules/tickets", Attached: true},
			{EntryID: "docs", Label: "Docs", Hash: "#wiki", Attached: true},
			{EntryID: "drafts", Label: "Drafts"},
			{EntryID: "status", Label: "Status", Hash: "#status-page"},
		},
		submenus: []*protocol.LibraryEntry{
			{EntryID: "drafts", Label: "Drafts"},
		},
		links: []*protocol.LibraryEntry{
			{EntryID: "status", Label: "Status", Hash: "#status-page"},
		},
	}
}

func (f *fakeBackend) record(op string) {
	f.mutations = append(f.mutations, op)
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()

	writeItems := func(w http.ResponseWriter, items []*protocol.LibraryEntry) {
		json.NewEncoder(w).Encode(protocol.LibraryResponse{Items: items})
	}

	mux.HandleFunc("/api/sidebar/tree", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == "GET" {
			level := r.URL.Query().Get("level")
			parent := r.URL.Query().Get("parent_entry_id")
			json.NewEncoder(w).Encode(protocol.TreeLevelResponse{
				Items:    f.buckets[level+"|"+parent],
				Fallback: f.fallback,
				Cached:   f.cached,
			})
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/sidebar/tree/add", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req protocol.TreeAddRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.record("attach:" + req.EntryID)
		key := bucketKey(req.Level, req.ParentEntryID)
		for _, e := range f.buckets[key] {
			if e.EntryID == req.EntryID {
				e.Label = req.Label
				e.Hash = req.Hash
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		f.buckets[key] = append(f.buckets[key], &protocol.TreeEntry{
			EntryID: req.EntryID,
			Label:   req.Label,
			Hash:    req.Hash,
		})
		for _, le := range f.library {
			if le.EntryID == req.EntryID {
				le.Attached = true
			}
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/sidebar/tree/detach", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req protocol.DetachRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.record("detach:" + req.EntryID)
		key := bucketKey(req.Level, req.ParentEntryID)
		kept := f.buckets[key][:0]
		for _, e := range f.buckets[key] {
			if e.EntryID != req.EntryID {
				kept = append(kept, e)
			}
		}
		f.buckets[key] = kept
		for _, le := range f.library {
			if le.EntryID == req.EntryID {
				le.Attached = false
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sidebar/tree/reorder", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req protocol.ReorderRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.record("reorder")
		key := bucketKey(req.Level, req.ParentEntryID)
		byID := make(map[string]*protocol.TreeEntry)
		for _, e := range f.buckets[key] {
			byID[e.EntryID] = e
		}
		ordered := make([]*protocol.TreeEntry, 0, len(req.Order))
		for _, id := range req.Order {
			if e, ok := byID[id]; ok {
				ordered = append(ordered, e)
			}
		}
		f.buckets[key] = ordered
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sidebar/add", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req protocol.AddRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.record("add:" + req.Label)
		f.library = append(f.library, &protocol.LibraryEntry{
			EntryID: strings.ToLower(req.Label),
			Label:   req.Label,
			Hash:    req.Hash,
			Type:    req.Type,
		})
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/api/sidebar/delete", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var req protocol.DeleteRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.record("delete:" + req.EntryID)
		kept := f.library[:0]
		for _, le := range f.library {
			if le.EntryID != req.EntryID {
				kept = append(kept, le)
			}
		}
		f.library = kept
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/sidebar/submenus", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status := f.filteredStatus
		if f.submenusStatus != 0 {
			status = f.submenusStatus
		}
		if status != 0 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "filtered list unavailable"})
			return
		}
		writeItems(w, f.submenus)
	})
	mux.HandleFunc("/api/sidebar/links", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.filteredStatus != 0 {
			w.WriteHeader(f.filteredStatus)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "filtered list unavailable"})
			return
		}
		writeItems(w, f.links)
	})
	mux.HandleFunc("/api/sidebar", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeItems(w, f.library)
	})
	return mux
}

func testStore(t *testing.T, backend *fakeBackend) (*Store, func()) {
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
	store := NewStore(c, events.NewBroadcaster(), nil)
	return store, ts.Close
}

func TestLoadFullTree_AssemblesLevels(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	snap, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(snap.Roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(snap.Roots))
	}
	more := FindByID(snap.Roots, "more")
	if more == nil || len(more.Children) != 2 {
		t.Fatalf("expected entry more with 2 children, got %+v", more)
	}
	tickets := FindByID(snap.Roots, "tickets")
	if tickets.Level != 1 || tickets.ParentEntryID != "more" {
		t.Errorf("expected tickets at level 1 under more, got level %d parent %q",
			tickets.Level, tickets.ParentEntryID)
	}
	if len(snap.Library) != 6 {
		t.Errorf("expected 6 library entries, got %d", len(snap.Library))
	}
	if len(snap.Submenus) != 1 || snap.Submenus[0].EntryID != "drafts" {
		t.Errorf("expected filtered sub-menu list [drafts], got %+v", snap.Submenus)
	}
	if len(snap.Links) != 1 || snap.Links[0].EntryID != "status" {
		t.Errorf("expected filtered link list [status], got %+v", snap.Links)
	}
	if snap.Fallback || snap.Cached {
		t.Error("expected a clean load, got degraded flags")
	}
}

func TestLoadFullTree_FallbackNeverOverwritesHeldTree(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	first, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	backend.mu.Lock()
	backend.fallback = true
	backend.buckets[bucketKey(0, "")] = []*protocol.TreeEntry{
		{EntryID: "seed", Label: "Seed"},
	}
	backend.mu.Unlock()

	second, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Error("fallback load should return the held snapshot unchanged")
	}
	if FindByID(store.Snapshot().Roots, "seed") != nil {
		t.Error("fallback tree must not replace the held tree")
	}
}

func TestLoadFullTree_FallbackAcceptedWithoutHeldTree(t *testing.T) {
	backend := newFakeBackend()
	backend.fallback = true
	store, done := testStore(t, backend)
	defer done()

	snap, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snap.Fallback {
		t.Error("expected snapshot flagged as fallback")
	}
	if len(snap.Roots) != 2 {
		t.Errorf("expected the fallback tree to be held, got %d roots", len(snap.Roots))
	}
}

func TestLoadFullTree_CachedAcceptedAndFlagged(t *testing.T) {
	backend := newFakeBackend()
	backend.cached = true
	store, done := testStore(t, backend)
	defer done()

	first, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Cached {
		t.Error("expected snapshot flagged as cached")
	}

	// Unlike fallback, a cached tree replaces the held tree.
	second, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second == first {
		t.Error("cached load should commit a fresh snapshot")
	}
}

func TestFetchFiltered_AuthErrorLeavesListsEmpty(t *testing.T) {
	backend := newFakeBackend()
	backend.filteredStatus = http.StatusForbidden
	store, done := testStore(t, backend)
	defer done()

	snap, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Submenus != nil || snap.Links != nil {
		t.Errorf("non-admin agent must not derive filtered lists, got %d/%d",
			len(snap.Submenus), len(snap.Links))
	}
}

func TestFetchFiltered_ServerErrorDerivesFromLibrary(t *testing.T) {
	backend := newFakeBackend()
	backend.filteredStatus = http.StatusInternalServerError
	store, done := testStore(t, backend)
	defer done()

	snap, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Submenus) != 1 || snap.Submenus[0].EntryID != "drafts" {
		t.Errorf("expected derived sub-menu list [drafts], got %+v", snap.Submenus)
	}
	if len(snap.Links) != 1 || snap.Links[0].EntryID != "status" {
		t.Errorf("expected derived link list [status], got %+v", snap.Links)
	}
}

func TestFetchFiltered_PartialFailureKeepsLoadedList(t *testing.T) {
	backend := newFakeBackend()
	backend.submenusStatus = http.StatusInternalServerError
	// The admin-curated link list differs from what the hash heuristic
	// would derive, so a derived value is distinguishable.
	backend.links = []*protocol.LibraryEntry{
		{EntryID: "runbook", Label: "Runbook", Hash: "#runbook"},
	}
	store, done := testStore(t, backend)
	defer done()

	snap, err := store.LoadFullTree(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Links) != 1 || snap.Links[0].EntryID != "runbook" {
		t.Errorf("link list that loaded must be kept, got %+v", snap.Links)
	}
	if len(snap.Submenus) != 1 || snap.Submenus[0].EntryID != "drafts" {
		t.Errorf("expected derived sub-menu list [drafts], got %+v", snap.Submenus)
	}
}

func TestReorder_RejectsNonPermutationBeforeNetwork(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	if _, err := store.LoadFullTree(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.Reorder(context.Background(), 1, "more", []string{"tickets", "intruder"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	for _, op := range backend.mutations {
		if op == "reorder" {
			t.Error("rejected reorder must not reach the server")
		}
	}
}

func TestReorder_RoundTripThenReload(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	if _, err := store.LoadFullTree(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Reorder(context.Background(), 1, "more", []string{"docs", "tickets"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := SiblingIDs(store.Snapshot().Roots, 1, "more")
	want := []string{"docs", "tickets"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v after reload, got %v", want, got)
		}
	}
}

func TestAttach_ValidatesSlot(t *testing.T) {
	store, done := testStore(t, newFakeBackend())
	defer done()

	tests := []struct {
		name string
		req  protocol.TreeAddRequest
	}{
		{"level below range", protocol.TreeAddRequest{EntryID: "x", Level: -1}},
		{"level above range", protocol.TreeAddRequest{EntryID: "x", Level: 3, ParentEntryID: "p"}},
		{"root with parent", protocol.TreeAddRequest{EntryID: "x", Level: 0, ParentEntryID: "p"}},
		{"child without parent", protocol.TreeAddRequest{EntryID: "x", Level: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Attach(context.Background(), tt.req); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestDetach_EntrySurvivesInLibrary(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	if _, err := store.LoadFullTree(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Detach(context.Background(), "docs", 1, "more"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := store.Snapshot()
	if FindByID(snap.Roots, "docs") != nil {
		t.Error("detached entry still present in tree")
	}
	found := false
	for _, le := range snap.Library {
		if le.EntryID == "docs" {
			found = true
			if le.Attached {
				t.Error("detached entry still flagged attached")
			}
		}
	}
	if !found {
		t.Error("detached entry missing from library")
	}
}

func TestDestroy_RejectsAttachedEntry(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	if _, err := store.LoadFullTree(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Destroy(context.Background(), "tickets"); err == nil {
		t.Fatal("expected error deleting an attached entry, got nil")
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	for _, op := range backend.mutations {
		if strings.HasPrefix(op, "delete:") {
			t.Error("rejected delete must not reach the server")
		}
	}
}

func TestAddDetached_ClassifiesType(t *testing.T) {
	backend := newFakeBackend()
	store, done := testStore(t, backend)
	defer done()

	if err := store.AddDetached(context.Background(), protocol.AddRequest{Label: "Wiki", Hash: "#team-wiki"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := store.Snapshot()
	for _, le := range snap.Library {
		if le.EntryID == "wiki" {
			if le.Type != protocol.TypeLink {
				t.Errorf("expected type %q, got %q", protocol.TypeLink, le.Type)
			}
			return
		}
	}
	t.Error("created entry missing from reloaded library")
}
