package sidebar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// Snapshot is one fully loaded state of the sidebar: the attached tree, the
// generic library, and the filtered unattached sub-lists. Fallback and
// Cached carry the backend's degraded-mode flags for this load.
type Snapshot struct {
	Roots    []*protocol.TreeEntry
	Library  []*protocol.LibraryEntry
	Submenus []*protocol.LibraryEntry
	Links    []*protocol.LibraryEntry
	Fallback bool
	Cached   bool
	LoadedAt time.Time
}

// Store fetches and holds the sidebar tree and library. Mutations are a
// network round-trip followed by a full reload and a broadcast; the store
// never mutates the held tree optimistically.
type Store struct {
	client      *client.Client
	bus         *events.Broadcaster
	knownModule func(string) bool

	mu   sync.RWMutex
	snap *Snapshot
	gen  uint64
}

// NewStore creates a tree store. knownModule resolves whether a hash
// segment names a known module id (used for entry classification); it may
// be nil.
func NewStore(c *client.Client, bus *events.Broadcaster, knownModule func(string) bool) *Store {
	return &Store{
		client:      c,
		bus:         bus,
		knownModule: knownModule,
	}
}

// Snapshot returns the currently held snapshot, or nil before the first
// successful load.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// LoadFullTree fetches level 0, then each node's children down to level 2,
// plus the library and the filtered sub-lists, and commits the result as
// the held snapshot.
//
// Degraded-backend rules: a fallback tree never overwrites a previously
// good held tree (the held snapshot is returned unchanged and a warning is
// broadcast); a cached tree is accepted and flagged.
//
// A load that is overtaken by a newer load commits nothing.
func (s *Store) LoadFullTree(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	s.gen++
	myGen := s.gen
	s.mu.Unlock()

	start := time.Now()
	snap, err := s.fetchAll(ctx)
	if err != nil {
		metrics.RecordTreeReload("error", time.Since(start))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != myGen {
		// A newer load started while this one was in flight.
		logging.Debug("tree load superseded, discarding result")
		return s.snap, nil
	}

	if snap.Fallback && s.snap != nil {
		metrics.RecordFallbackTree()
		metrics.RecordTreeReload("fallback-suppressed", time.Since(start))
		logging.Warn("backend served a fallback tree, keeping held tree",
			logging.Int("held_entries", CountEntries(s.snap.Roots)))
		s.bus.Publish(events.Event{
			Type:     events.EventNotice,
			Message:  "sidebar backend degraded, showing last known tree",
			Fallback: true,
		})
		return s.snap, nil
	}
	if snap.Fallback {
		metrics.RecordFallbackTree()
	}

	s.snap = snap
	metrics.RecordTreeReload("ok", time.Since(start))
	metrics.SetTreeSize(CountEntries(snap.Roots))
	s.bus.Publish(events.Event{
		Type:     events.EventTreeReloaded,
		Fallback: snap.Fallback,
		Cached:   snap.Cached,
	})
	return snap, nil
}

func (s *Store) fetchAll(ctx context.Context) (*Snapshot, error) {
	rootResp, err := s.client.FetchTreeLevel(ctx, protocol.LevelRoot, "")
	if err != nil {
		return nil, fmt.Errorf("fetch tree level 0: %w", err)
	}

	snap := &Snapshot{
		Roots:    rootResp.Items,
		Fallback: rootResp.Fallback,
		Cached:   rootResp.Cached,
		LoadedAt: time.Now(),
	}

	for _, root := range snap.Roots {
		root.Level = protocol.LevelRoot
		root.ParentEntryID = ""
		if err := s.fetchChildren(ctx, root, snap); err != nil {
			return nil, err
		}
	}

	snap.Library, err = s.client.FetchLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch library: %w", err)
	}

	s.fetchFiltered(ctx, snap)

	if err := ValidateTree(snap.Roots, snap.Library); err != nil {
		return nil, fmt.Errorf("tree invariant violated: %w", err)
	}
	return snap, nil
}

func (s *Store) fetchChildren(ctx context.Context, parent *protocol.TreeEntry, snap *Snapshot) error {
	if parent.Level >= protocol.LevelMax {
		parent.Children = nil
		return nil
	}

	resp, err := s.client.FetchTreeLevel(ctx, parent.Level+1, parent.EntryID)
	if err != nil {
		return fmt.Errorf("fetch tree level %d under %s: %w", parent.Level+1, parent.EntryID, err)
	}
	snap.Fallback = snap.Fallback || resp.Fallback
	snap.Cached = snap.Cached || resp.Cached

	parent.Children = resp.Items
	for _, child := range parent.Children {
		child.Level = parent.Level + 1
		child.ParentEntryID = parent.EntryID
		if err := s.fetchChildren(ctx, child, snap); err != nil {
			return err
		}
	}
	return nil
}

// fetchFiltered loads the admin-only filtered sub-lists, falling back to a
// hash-heuristic classification of the generic snapshot when the endpoints
// are unavailable. An auth failure means the agent is not an admin; it must
// not trigger the fallback.
func (s *Store) fetchFiltered(ctx context.Context, snap *Snapshot) {
	submenus, subErr := s.client.FetchSubmenus(ctx)
	links, linkErr := s.client.FetchLinks(ctx)

	if subErr == nil {
		snap.Submenus = submenus
	}
	if linkErr == nil {
		snap.Links = links
	}
	if subErr == nil && linkErr == nil {
		return
	}

	if client.IsAuth(subErr) || client.IsAuth(linkErr) {
		logging.Debug("filtered sidebar lists not permitted for this agent")
		return
	}

	// Derive only the list that failed; a list the endpoint did serve is
	// kept as-is.
	logging.Warn("filtered sidebar lists unavailable, deriving from generic snapshot",
		logging.Err(firstErr(subErr, linkErr)))
	derivedSubmenus, derivedLinks := s.classifyLibrary(snap.Library)
	if subErr != nil {
		snap.Submenus = derivedSubmenus
	}
	if linkErr != nil {
		snap.Links = derivedLinks
	}
}

// classifyLibrary splits the unattached library entries into sub-menus and
// custom links using the hash heuristics; module shortcuts belong to
// neither list.
func (s *Store) classifyLibrary(library []*protocol.LibraryEntry) (submenus, links []*protocol.LibraryEntry) {
	for _, entry := range library {
		if entry.Attached {
			continue
		}
		switch ClassifyHash(entry.Hash, s.knownModule) {
		case protocol.TypeSubmenu:
			submenus = append(submenus, entry)
		case protocol.TypeLink:
			links = append(links, entry)
		}
	}
	return submenus, links
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// AddDetached creates a new entry in the library.
func (s *Store) AddDetached(ctx context.Context, req protocol.AddRequest) error {
	req.Attached = false
	if req.Type == "" {
		req.Type = ClassifyHash(req.Hash, s.knownModule)
	}
	return s.mutate(ctx, "add", func() error {
		return s.client.AddLibraryEntry(ctx, req)
	})
}

// Attach links an entry at a tree slot, or updates it in place.
func (s *Store) Attach(ctx context.Context, req protocol.TreeAddRequest) error {
	normalizeBadge(&req)
	if req.Type == "" {
		req.Type = ClassifyHash(req.Hash, s.knownModule)
	}
	if req.Level < protocol.LevelRoot || req.Level > protocol.LevelMax {
		return fmt.Errorf("level %d out of range", req.Level)
	}
	if req.Level == protocol.LevelRoot && req.ParentEntryID != "" {
		return fmt.Errorf("level 0 entry cannot have a parent")
	}
	if req.Level > protocol.LevelRoot && req.ParentEntryID == "" {
		return fmt.Errorf("level %d entry requires a parent", req.Level)
	}
	return s.mutate(ctx, "attach", func() error {
		return s.client.AttachEntry(ctx, req)
	})
}

// Rename updates an entry's label, hash and badge in place.
func (s *Store) Rename(ctx context.Context, req protocol.TreeAddRequest) error {
	normalizeBadge(&req)
	req.Type = ClassifyHash(req.Hash, s.knownModule)
	return s.mutate(ctx, "rename", func() error {
		return s.client.AttachEntry(ctx, req)
	})
}

// Detach unlinks an entry from its parent. The entry survives in the
// library.
func (s *Store) Detach(ctx context.Context, entryID string, level int, parentEntryID string) error {
	return s.mutate(ctx, "detach", func() error {
		return s.client.DetachEntry(ctx, protocol.DetachRequest{
			EntryID:       entryID,
			Level:         level,
			ParentEntryID: parentEntryID,
		})
	})
}

// Destroy permanently deletes a library entry. An entry still attached to
// the tree must be detached first.
func (s *Store) Destroy(ctx context.Context, entryID string) error {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap != nil && FindByID(snap.Roots, entryID) != nil {
		return fmt.Errorf("entry %q is attached; detach it before deleting", entryID)
	}
	return s.mutate(ctx, "destroy", func() error {
		return s.client.DeleteEntry(ctx, protocol.DeleteRequest{EntryID: entryID})
	})
}

// Reorder applies a new sibling order to one bucket. The order must be an
// exact permutation of the current sibling id set; anything else is
// rejected before any network call.
func (s *Store) Reorder(ctx context.Context, level int, parentEntryID string, orderedIDs []string) error {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	if snap != nil {
		current := SiblingIDs(snap.Roots, level, parentEntryID)
		if err := ValidatePermutation(current, orderedIDs); err != nil {
			metrics.RecordTreeMutation("reorder", "rejected")
			return fmt.Errorf("reorder rejected: %w", err)
		}
	}
	return s.mutate(ctx, "reorder", func() error {
		return s.client.ReorderSiblings(ctx, protocol.ReorderRequest{
			Order:         orderedIDs,
			Level:         level,
			ParentEntryID: parentEntryID,
		})
	})
}

// mutate runs one mutation round-trip, then reloads the full tree and
// broadcasts. A failed mutation surfaces a notice and leaves the held
// snapshot untouched; there is no optimistic state to roll back.
func (s *Store) mutate(ctx context.Context, op string, call func() error) error {
	if err := call(); err != nil {
		metrics.RecordTreeMutation(op, "error")
		s.bus.Publish(events.Event{
			Type:    events.EventNotice,
			Message: fmt.Sprintf("sidebar %s failed: %v", op, err),
		})
		return err
	}
	metrics.RecordTreeMutation(op, "ok")

	if _, err := s.LoadFullTree(ctx); err != nil {
		// The mutation landed; only the refresh failed.
		logging.Warn("tree refresh after mutation failed",
			logging.String("op", op), logging.Err(err))
	}
	return nil
}

// normalizeBadge enforces the icon/logo exclusivity rule: at most one is
// meaningful; setting one clears the other.
func normalizeBadge(req *protocol.TreeAddRequest) {
	if req.Icon != "" {
		req.Logo = ""
	}
}
