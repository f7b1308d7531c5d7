// Package router implements the deep-link routing state machine: it
// reconciles the URL hash, authentication state, persisted UI state and the
// module registry into a canonical route, and writes the result back to the
// hash and to per-agent storage.
package router

import (
	"net/url"
	"strings"
	"sync"
)

// Statically known page ids. Any other first hash segment is a module deep
// link.
const (
	TabLogin   = "login"
	TabLogout  = "logout"
	TabAdmin   = "admin"
	TabModules = "modules"
)

// View values for the module surface.
const (
	ViewMain     = "main"
	ViewSettings = "settings"
)

// DefaultSurface is where a signed-in agent lands when nothing else is
// remembered.
const DefaultSurface = "#/modules/conversation-hub"

var staticPages = map[string]bool{
	TabLogin:   true,
	TabLogout:  true,
	TabAdmin:   true,
	TabModules: true,
}

// Legacy first-segment aliases, rewritten before any other rule applies.
var legacyAliases = map[string]string{
	"agent":         "agents",
	"conversations": "conversation-hub",
}

// Route is the canonical, ephemeral route derived from the hash.
type Route struct {
	ActiveTab string
	ModuleID  string
	SubPath   []string
	View      string
}

// IsModuleSurface reports whether the route renders the module surface.
func (r Route) IsModuleSurface() bool {
	return r.ActiveTab == TabModules
}

// Canonicalize normalizes a raw hash into a route and its canonical hash
// form. Canonicalization is idempotent: feeding the returned hash back in
// yields the same result.
//
// Rules, in order: split off a "?" query, which rides through untouched;
// decode percent-escapes; split on "/", dropping empty segments; rewrite
// legacy aliases; "modules" routes carry the module id in the next segment
// with an optional trailing "settings"; any other unknown first segment is a
// bare module deep link.
func Canonicalize(raw string) (Route, string) {
	trimmed := strings.TrimPrefix(raw, "#")
	path, query, hasQuery := strings.Cut(trimmed, "?")
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}

	route := routeFor(segments)
	canonical := CanonicalHash(route)
	if hasQuery {
		canonical += "?" + query
	}
	return route, canonical
}

func routeFor(segments []string) Route {
	if len(segments) == 0 {
		return Route{ActiveTab: TabLogin}
	}

	if alias, ok := legacyAliases[segments[0]]; ok {
		segments[0] = alias
	}

	first := segments[0]

	if first == TabModules {
		route := Route{ActiveTab: TabModules, View: ViewMain}
		if len(segments) >= 2 {
			route.ModuleID = segments[1]
			rest := segments[2:]
			if len(rest) > 0 && rest[len(rest)-1] == ViewSettings {
				route.View = ViewSettings
				rest = rest[:len(rest)-1]
			}
			if len(rest) > 0 {
				route.SubPath = rest
			}
		}
		return route
	}

	if staticPages[first] {
		return Route{ActiveTab: first}
	}

	// Unknown first segment: a bare module deep link, equivalent to
	// #/modules/<id>.
	route := Route{ActiveTab: TabModules, ModuleID: first, View: ViewMain}
	rest := segments[1:]
	if len(rest) > 0 && rest[len(rest)-1] == ViewSettings {
		route.View = ViewSettings
		rest = rest[:len(rest)-1]
	}
	if len(rest) > 0 {
		route.SubPath = rest
	}
	return route
}

// CanonicalHash renders a route back into its canonical hash form.
func CanonicalHash(r Route) string {
	if r.ActiveTab != TabModules {
		return "#/" + r.ActiveTab
	}
	if r.ModuleID == "" {
		return "#/" + TabModules
	}
	parts := []string{TabModules, r.ModuleID}
	parts = append(parts, r.SubPath...)
	if r.View == ViewSettings {
		parts = append(parts, ViewSettings)
	}
	return "#/" + strings.Join(parts, "/")
}

// IsDeepLink reports whether raw encodes a target worth returning to after
// login (anything beyond an empty hash or the login page itself).
func IsDeepLink(raw string) bool {
	trimmed := strings.Trim(strings.TrimPrefix(raw, "#"), "/")
	return trimmed != "" && trimmed != TabLogin
}

// Hash is the single shared mutable hash resource. All writers go through
// Set, which performs the equality check that prevents redundant
// hashchange storms; watchers receive every committed change.
type Hash struct {
	mu       sync.Mutex
	current  string
	watchers []chan string
}

// NewHash creates the hash resource with an initial value.
func NewHash(initial string) *Hash {
	return &Hash{current: initial}
}

// Get returns the current hash.
func (h *Hash) Get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// Set writes the hash if it differs from the current value. Returns true
// when a change was committed.
func (h *Hash) Set(next string) bool {
	h.mu.Lock()
	if h.current == next {
		h.mu.Unlock()
		return false
	}
	h.current = next
	watchers := make([]chan string, len(h.watchers))
	copy(watchers, h.watchers)
	h.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- next:
		default:
			// Drop for a slow watcher; it will observe the next change.
		}
	}
	return true
}

// Watch returns a channel receiving committed hash changes.
func (h *Hash) Watch() <-chan string {
	ch := make(chan string, 16)
	h.mu.Lock()
	h.watchers = append(h.watchers, ch)
	h.mu.Unlock()
	return ch
}
