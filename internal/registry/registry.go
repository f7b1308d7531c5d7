// Package registry implements the module registry: an explicit manifest
// table of view loaders, lazy error-isolated resolution, active-set gating,
// and idempotent prefetch.
//
// The registry is constructed once per application lifetime and passed by
// reference; there are no ambient globals.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/debug"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/client"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// View is the export a module loader produces for the module surface.
type View interface {
	ModuleID() string
	Title() string
}

// Loader lazily produces a module's view. Loading may hit the network
// (fetching the module chunk) and is only attempted on demand.
type Loader func(ctx context.Context) (View, error)

// Manifest carries the static metadata registered alongside a loader; Name
// feeds breadcrumb titles.
type Manifest struct {
	ID          string
	Name        string
	Description string
}

// Entry pairs a module id with its loader and manifest.
type Entry struct {
	ID       string
	Load     Loader
	Manifest Manifest
}

// Gate is the three-valued renderability of a module id. Pending means the
// active-modules set has not loaded yet: rendering is suppressed rather
// than treated as inactive, to avoid a flash of a false-negative error.
type Gate int

const (
	GatePending Gate = iota
	GateActive
	GateInactive
	GateUnknown
)

// Registry is the process-wide module registry.
type Registry struct {
	reporter     debug.Reporter
	runtimeReady <-chan struct{}

	mu           sync.RWMutex
	entries      map[string]Entry
	active       map[string]bool
	activeLoaded bool
	warmed       map[string]struct{}
	loaded       map[string]View
	sessionAgent string
}

// New creates a registry. runtimeReady gates prefetching: a module chunk
// must not execute before the shared rendering runtime has itself finished
// loading. Pass a closed channel when there is no such constraint.
func New(reporter debug.Reporter, runtimeReady <-chan struct{}) *Registry {
	if runtimeReady == nil {
		ch := make(chan struct{})
		close(ch)
		runtimeReady = ch
	}
	return &Registry{
		reporter:     reporter,
		runtimeReady: runtimeReady,
		entries:      make(map[string]Entry),
		warmed:       make(map[string]struct{}),
		loaded:       make(map[string]View),
	}
}

// Register adds one entry to the manifest table. Ids are unique.
func (r *Registry) Register(entry Entry) error {
	if entry.ID == "" {
		return fmt.Errorf("entry with empty id")
	}
	if entry.Load == nil {
		return fmt.Errorf("entry %q has no loader", entry.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.ID]; exists {
		return fmt.Errorf("module %q already registered", entry.ID)
	}
	if entry.Manifest.ID == "" {
		entry.Manifest.ID = entry.ID
	}
	r.entries[entry.ID] = entry
	return nil
}

// Known reports whether id has a registered loader.
func (r *Registry) Known(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// IDs returns the registered module ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ManifestFor returns the manifest registered for id.
func (r *Registry) ManifestFor(id string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	return entry.Manifest, ok
}

// GateFor reports whether a view for id may render.
func (r *Registry) GateFor(id string) Gate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, known := r.entries[id]; !known {
		return GateUnknown
	}
	if !r.activeLoaded {
		return GatePending
	}
	if r.active[id] {
		return GateActive
	}
	return GateInactive
}

// SetActiveModules installs the externally supplied active set.
func (r *Registry) SetActiveModules(states []protocol.ModuleState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]bool, len(states))
	for _, st := range states {
		if st.Active {
			r.active[st.ID] = true
		}
	}
	r.activeLoaded = true
}

// RefreshActive fetches the active set for the current session agent. It
// fetches at most once per agent; a changed agent id triggers a refetch and
// resets the per-session warmed set.
func (r *Registry) RefreshActive(ctx context.Context, c *client.Client, agentID string) error {
	r.mu.Lock()
	if r.activeLoaded && r.sessionAgent == agentID {
		r.mu.Unlock()
		return nil
	}
	if r.sessionAgent != agentID {
		r.warmed = make(map[string]struct{})
		r.activeLoaded = false
	}
	r.sessionAgent = agentID
	r.mu.Unlock()

	states, err := c.FetchModules(ctx)
	if err != nil {
		return fmt.Errorf("fetch active modules: %w", err)
	}
	r.SetActiveModules(states)
	logging.Info("active modules loaded",
		logging.Int("count", len(states)),
		logging.String("agent_id", agentID))
	return nil
}

// Resolve invokes the loader for id. On load failure or a missing
// registration it returns a deterministic fallback view that reports the
// error and offers a reload action, never propagating the failure to the
// shell. Successful loads are cached.
func (r *Registry) Resolve(ctx context.Context, id string) View {
	r.mu.RLock()
	if view, ok := r.loaded[id]; ok {
		r.mu.RUnlock()
		return view
	}
	entry, known := r.entries[id]
	r.mu.RUnlock()

	if !known {
		err := fmt.Errorf("module %q not registered", id)
		r.reporter.Capture("module-registry", "unknown module", err)
		metrics.RecordModuleLoad(id, "unknown")
		return &FallbackView{ID: id, Err: err, registry: r}
	}

	view, err := entry.Load(ctx)
	if err != nil || view == nil {
		if err == nil {
			err = fmt.Errorf("module %q loader returned no view", id)
		}
		r.reporter.Capture("module-registry", "module load failed", err)
		metrics.RecordModuleLoad(id, "error")
		return &FallbackView{ID: id, Err: err, registry: r}
	}

	r.mu.Lock()
	r.loaded[id] = view
	r.warmed[id] = struct{}{}
	r.mu.Unlock()
	metrics.RecordModuleLoad(id, "ok")
	return view
}

// Prefetch warms a module's chunk ahead of navigation. It is idempotent
// per session and waits for the shared runtime before executing the chunk.
func (r *Registry) Prefetch(ctx context.Context, id string) {
	r.mu.Lock()
	if _, done := r.warmed[id]; done {
		r.mu.Unlock()
		return
	}
	entry, known := r.entries[id]
	if !known {
		r.mu.Unlock()
		return
	}
	r.warmed[id] = struct{}{}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return
	case <-r.runtimeReady:
	}

	metrics.RecordModulePrefetch()
	view, err := entry.Load(ctx)
	if err != nil || view == nil {
		// A failed warmup is not an error the user sees; Resolve will
		// retry and produce the fallback if it still fails.
		logging.Debug("module prefetch failed", logging.String("module", id), logging.Err(err))
		r.mu.Lock()
		delete(r.warmed, id)
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.loaded[id] = view
	r.mu.Unlock()
}

// forget drops a cached view so a reload can retry the loader.
func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.loaded, id)
	delete(r.warmed, id)
	r.mu.Unlock()
}

// FallbackView is the deterministic view returned when a module fails to
// load. It reports the failure and offers a reload action.
type FallbackView struct {
	ID       string
	Err      error
	registry *Registry
}

func (v *FallbackView) ModuleID() string { return v.ID }

func (v *FallbackView) Title() string {
	return fmt.Sprintf("Module %s unavailable", v.ID)
}

// Reload drops the failed state and retries the loader.
func (v *FallbackView) Reload(ctx context.Context) View {
	v.registry.forget(v.ID)
	return v.registry.Resolve(ctx, v.ID)
}
