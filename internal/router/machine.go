package router

import (
	"context"
	"strings"
	"sync"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/events"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/logging"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/metrics"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/registry"
	"github.com/francetechnologie-boop/livechat-app-sub007/internal/uistate"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// State is the machine's top-level state.
type State int

const (
	// StateAwaitingProbes holds until both the auth probe and the
	// sidebar-presence probe have settled; no tab is decided before then.
	StateAwaitingProbes State = iota
	// StateUnauthenticated pins the hash to the login page, preserving any
	// deep link for post-login resume.
	StateUnauthenticated
	// StateReady routes normally.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateAwaitingProbes:
		return "awaiting-probes"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Event is a routing input. The concrete types below are the only inputs
// that drive transitions.
type Event interface{ isRouteEvent() }

// AuthSettled reports the auth probe result. A nil session means no valid
// sign-in.
type AuthSettled struct{ Session *protocol.Session }

// SidebarProbeSettled reports whether the sidebar has any items; sidebar
// presence gates every tab other than the module surface and login.
type SidebarProbeSettled struct{ HasItems bool }

// HashChanged reports an observed hash value.
type HashChanged struct{ Raw string }

// NavigationRequested is the custom in-app navigation event.
type NavigationRequested struct{ Target string }

// SignedOut reports that the session ended.
type SignedOut struct{}

func (AuthSettled) isRouteEvent()         {}
func (SidebarProbeSettled) isRouteEvent() {}
func (HashChanged) isRouteEvent()         {}
func (NavigationRequested) isRouteEvent() {}
func (SignedOut) isRouteEvent()           {}

// Machine reconciles the hash, auth state, persisted UI state and the
// module registry. Transition is not reentrant; callers drive it from a
// single event loop.
type Machine struct {
	hash   *Hash
	ui     *uistate.Store
	reg    *registry.Registry
	bus    *events.Broadcaster
	scroll *ScrollKeeper

	mu                sync.RWMutex
	state             State
	route             Route
	me                *protocol.Session
	authSettled       bool
	sidebarSettled    bool
	hasSidebarItems   bool
	resumed           bool
	preservedDeepLink string
	lastObserved      string
	selectedEntity    string
}

// NewMachine creates the route state machine.
func NewMachine(hash *Hash, ui *uistate.Store, reg *registry.Registry, bus *events.Broadcaster, scroll *ScrollKeeper) *Machine {
	return &Machine{
		hash:   hash,
		ui:     ui,
		reg:    reg,
		bus:    bus,
		scroll: scroll,
		state:  StateAwaitingProbes,
	}
}

// State returns the current machine state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Route returns the current route. Meaningful only in StateReady.
func (m *Machine) Route() Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.route
}

// SelectedEntity returns the restored selected entity id, if any.
func (m *Machine) SelectedEntity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectedEntity
}

// Transition applies one event.
func (m *Machine) Transition(ctx context.Context, ev Event) {
	switch ev := ev.(type) {
	case AuthSettled:
		m.mu.Lock()
		m.me = ev.Session
		m.authSettled = true
		m.mu.Unlock()
		m.maybeDecide(ctx)

	case SidebarProbeSettled:
		m.mu.Lock()
		m.hasSidebarItems = ev.HasItems
		m.sidebarSettled = true
		m.mu.Unlock()
		m.maybeDecide(ctx)

	case HashChanged:
		m.onHash(ctx, ev.Raw)

	case NavigationRequested:
		// A hash this machine just wrote is the source of truth; observe
		// it directly instead of re-deriving from a stale value later.
		m.hash.Set(ev.Target)
		m.onHash(ctx, ev.Target)

	case SignedOut:
		m.mu.Lock()
		m.me = nil
		m.resumed = false
		m.state = StateUnauthenticated
		m.route = Route{}
		m.selectedEntity = ""
		m.lastObserved = ""
		m.mu.Unlock()
		m.hash.Set("#/" + TabLogin)
		m.bus.Publish(events.Event{Type: events.EventAuthChanged})
	}
}

// maybeDecide decides the tab once both boot probes have settled. It also
// handles a later sign-in: from the unauthenticated state a settled session
// moves the machine to ready and runs the resume.
func (m *Machine) maybeDecide(ctx context.Context) {
	m.mu.Lock()
	if !m.authSettled || !m.sidebarSettled || m.state == StateReady {
		m.mu.Unlock()
		return
	}
	signedIn := m.me != nil
	if signedIn {
		m.state = StateReady
	} else {
		m.state = StateUnauthenticated
	}
	m.mu.Unlock()

	if !signedIn {
		raw := m.hash.Get()
		if IsDeepLink(raw) {
			// Preserve the deep link for post-login resume; no tab
			// activates until then.
			m.mu.Lock()
			m.preservedDeepLink = raw
			m.mu.Unlock()
			logging.Info("unauthenticated with deep link, preserving", logging.String("hash", raw))
		} else {
			m.hash.Set("#/" + TabLogin)
		}
		return
	}

	m.resume(ctx)
}

// resume runs the post-auth redirect exactly once per sign-in: away from
// the login page to a preserved deep link, the remembered predicted tab, or
// the default module surface. Persisted per-agent state applies only when
// no explicit deep link is present.
func (m *Machine) resume(ctx context.Context) {
	m.mu.Lock()
	if m.resumed {
		m.mu.Unlock()
		m.onHash(ctx, m.hash.Get())
		return
	}
	m.resumed = true
	deepLink := m.preservedDeepLink
	m.preservedDeepLink = ""
	agentID := m.me.AgentID
	m.mu.Unlock()

	raw := m.hash.Get()

	if IsDeepLink(raw) {
		// An explicit deep link in the URL always wins over remembered
		// state.
		blob := m.ui.Load(ctx, agentID)
		m.scroll.LoadFrom(agentID, blob)
		m.onHash(ctx, raw)
		return
	}

	if deepLink != "" {
		blob := m.ui.Load(ctx, agentID)
		m.scroll.LoadFrom(agentID, blob)
		m.Transition(ctx, NavigationRequested{Target: deepLink})
		return
	}

	target := DefaultSurface
	if predicted := m.ui.TakePredictedTab(agentID); predicted != "" {
		_, canonical := Canonicalize(predicted)
		target = canonical
	}

	blob := m.ui.Load(ctx, agentID)
	m.scroll.LoadFrom(agentID, blob)
	target = m.applyPersisted(blob, target)

	m.Transition(ctx, NavigationRequested{Target: target})
}

// applyPersisted restores remembered selection, and resolves the resume
// target to the module's last sub-route when the target names the module
// bare.
func (m *Machine) applyPersisted(blob map[string]interface{}, target string) string {
	if entity, ok := blob[uistate.KeySelectedEntity].(string); ok && entity != "" {
		m.mu.Lock()
		m.selectedEntity = entity
		m.mu.Unlock()
	}

	route, _ := Canonicalize(target)
	if !route.IsModuleSurface() || route.ModuleID == "" || len(route.SubPath) > 0 || route.View != ViewMain {
		return target
	}
	remembered, ok := blob[uistate.ModuleKeyPrefix+route.ModuleID].(string)
	if !ok || remembered == "" {
		return target
	}
	if rr, _ := Canonicalize(remembered); rr.ModuleID != route.ModuleID {
		return target
	}
	return remembered
}

func (m *Machine) onHash(ctx context.Context, raw string) {
	m.mu.Lock()
	state := m.state
	if state == StateReady && raw == m.lastObserved {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	switch state {
	case StateAwaitingProbes:
		// The initial tab is not decided until both probes settle.
		return

	case StateUnauthenticated:
		if IsDeepLink(raw) {
			m.mu.Lock()
			m.preservedDeepLink = raw
			m.mu.Unlock()
			return
		}
		m.hash.Set("#/" + TabLogin)
		return
	}

	route, canonical := Canonicalize(raw)

	// Legacy aliases are corrected in the URL before anything else reads
	// it.
	if aliasRewritten(raw, canonical) {
		m.hash.Set(canonical)
		raw = canonical
	}

	m.activate(ctx, route, raw)
}

// aliasRewritten reports whether raw's first segment was a legacy alias.
func aliasRewritten(raw, canonical string) bool {
	trimmed := strings.Trim(strings.TrimPrefix(raw, "#"), "/")
	if trimmed == "" {
		return false
	}
	first := strings.SplitN(trimmed, "/", 2)[0]
	first = strings.SplitN(first, "?", 2)[0]
	_, isAlias := legacyAliases[first]
	return isAlias && raw != canonical
}

func (m *Machine) activate(ctx context.Context, route Route, raw string) {
	m.mu.Lock()
	hasSidebar := m.hasSidebarItems
	agentID := ""
	if m.me != nil {
		agentID = m.me.AgentID
	}
	m.mu.Unlock()

	// With an empty sidebar only the module surface (and login) is
	// reachable.
	if !route.IsModuleSurface() && route.ActiveTab != TabLogin && route.ActiveTab != TabLogout && !hasSidebar {
		logging.Debug("sidebar empty, redirecting to module surface",
			logging.String("tab", route.ActiveTab))
		m.Transition(ctx, NavigationRequested{Target: DefaultSurface})
		return
	}

	if !route.IsModuleSurface() {
		// Write-back: the hash becomes exactly #/<tab> unless it already
		// begins with the tab followed by a path or query, which is
		// preserved verbatim.
		if !hashExtends(raw, route.ActiveTab) {
			m.hash.Set("#/" + route.ActiveTab)
		}
	}
	// While the module surface is active the hash is never rewritten; a
	// module owns its own deep link.

	m.mu.Lock()
	m.route = route
	m.lastObserved = m.hash.Get()
	m.mu.Unlock()

	m.scroll.Restore(route.ActiveTab)

	if agentID != "" {
		m.ui.SaveOne(agentID, uistate.KeyLastActiveTab, route.ActiveTab)
		if route.IsModuleSurface() && route.ModuleID != "" {
			// Remember where the agent last was inside this module; the
			// next bare resume to it lands there.
			m.ui.SaveOne(agentID, uistate.ModuleKeyPrefix+route.ModuleID, m.hash.Get())
		}
	}

	metrics.RecordRouteTransition(route.ActiveTab)
	m.bus.Publish(events.Event{
		Type: events.EventRouteChanged,
		Tab:  route.ActiveTab,
		Hash: m.hash.Get(),
	})
}

// hashExtends reports whether raw already begins with #/<tab> followed by
// "/" or "?" (extra path or query the write-back must preserve).
func hashExtends(raw, tab string) bool {
	trimmed := strings.TrimPrefix(raw, "#")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if !strings.HasPrefix(trimmed, tab) {
		return false
	}
	rest := trimmed[len(tab):]
	return rest != "" && (rest[0] == '/' || rest[0] == '?')
}
