// Package protocol defines the API request/response types for the sidebar,
// module and UI-state endpoints.
package protocol

import "time"

// Entry types stored on sidebar entries. The French names are part of the
// wire contract and must not be translated.
const (
	TypeSubmenu = "sous-menu" // container, empty hash, no navigation target
	TypeLink    = "lien"      // custom hash not matching a module route
	TypeModule  = "module"    // hash resolving to a module or page route
)

// Tree depth bounds. Level 0 entries have no parent; level 2 entries are
// leaves.
const (
	LevelRoot = 0
	LevelMax  = 2
)

// TreeEntry is a navigation node attached to the sidebar tree.
type TreeEntry struct {
	EntryID       string       `json:"entry_id"`
	Label         string       `json:"label"`
	Hash          string       `json:"hash"`
	Icon          string       `json:"icon,omitempty"`
	Logo          string       `json:"logo,omitempty"`
	Level         int          `json:"level"`
	ParentEntryID string       `json:"parent_entry_id,omitempty"`
	Type          string       `json:"type,omitempty"`
	Children      []*TreeEntry `json:"children,omitempty"`
}

// LibraryEntry is the same logical entity as a TreeEntry but detached from
// the tree. Attached reports whether the entry is currently also linked into
// the tree.
type LibraryEntry struct {
	EntryID  string `json:"entry_id"`
	Label    string `json:"label"`
	Hash     string `json:"hash"`
	Icon     string `json:"icon,omitempty"`
	Logo     string `json:"logo,omitempty"`
	Type     string `json:"type,omitempty"`
	Attached bool   `json:"attached"`
}

// TreeLevelResponse is returned by GET /api/sidebar/tree?level=N&parent_entry_id=ID.
// Fallback marks a static/seed tree served because the backend's primary
// store was unreachable; Cached marks a tree served from the backend's own
// cache. Neither is an error.
type TreeLevelResponse struct {
	Items    []*TreeEntry `json:"items"`
	Fallback bool         `json:"fallback,omitempty"`
	Cached   bool         `json:"cached,omitempty"`
}

// LibraryResponse is returned by GET /api/sidebar and by the filtered
// /api/sidebar/submenus and /api/sidebar/links endpoints.
type LibraryResponse struct {
	Items []*LibraryEntry `json:"items"`
}

// AddRequest is the body for POST /api/sidebar/add (create a detached
// library entry).
type AddRequest struct {
	Label    string `json:"label"`
	Hash     string `json:"hash"`
	Icon     string `json:"icon,omitempty"`
	Logo     string `json:"logo,omitempty"`
	Type     string `json:"type"`
	Attached bool   `json:"attached"`
}

// TreeAddRequest is the body for POST /api/sidebar/tree/add (attach or
// update an entry at a tree slot).
type TreeAddRequest struct {
	EntryID       string `json:"entry_id,omitempty"`
	Level         int    `json:"level"`
	ParentEntryID string `json:"parent_entry_id,omitempty"`
	Label         string `json:"label"`
	Hash          string `json:"hash"`
	Icon          string `json:"icon,omitempty"`
	Logo          string `json:"logo,omitempty"`
	Type          string `json:"type"`
}

// DetachRequest is the body for POST /api/sidebar/tree/detach. The entry
// survives in the library.
type DetachRequest struct {
	EntryID       string `json:"entry_id"`
	Level         int    `json:"level"`
	ParentEntryID string `json:"parent_entry_id,omitempty"`
}

// ReorderRequest is the body for POST /api/sidebar/tree/reorder. Order must
// be an exact permutation of the sibling bucket identified by level and
// parent.
type ReorderRequest struct {
	Order         []string `json:"order"`
	Level         int      `json:"level"`
	ParentEntryID string   `json:"parent_entry_id,omitempty"`
}

// DeleteRequest is the body for POST /api/sidebar/delete (permanent, library
// only).
type DeleteRequest struct {
	EntryID string `json:"entry_id"`
}

// ModuleState describes one installable module and whether it is active for
// the tenant.
type ModuleState struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// ModulesResponse is returned by GET /api/modules.
type ModulesResponse struct {
	Modules []ModuleState `json:"modules"`
}

// Session is returned by GET /api/me while a session is valid.
type Session struct {
	AgentID  string `json:"agent_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	TenantID string `json:"tenant_id,omitempty"`
}

// UIStateResponse is returned by GET /api/uistate/{agent_id}. Blob is the
// server-held per-agent state object.
type UIStateResponse struct {
	AgentID   string                 `json:"agent_id"`
	Blob      map[string]interface{} `json:"blob"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// UIStatePatch is the body for PUT /api/uistate/{agent_id}; the server
// shallow-merges it into the held blob.
type UIStatePatch struct {
	Blob map[string]interface{} `json:"blob"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// DebugReport is the body for POST /api/debug/report (external error
// collector).
type DebugReport struct {
	Source    string `json:"source"`
	Message   string `json:"message"`
	Detail    string `json:"detail,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Event types carried on the SSE change feed.
const (
	EventSidebarChanged = "sidebar-changed"
	EventModulesChanged = "modules-changed"
	EventAgentState     = "agent-state-changed"
)

// ChangeEvent is a server-sent change notification.
type ChangeEvent struct {
	Type      string `json:"type"`
	EntryID   string `json:"entry_id,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
