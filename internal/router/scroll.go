package router

import (
	"strings"
	"sync"
	"time"

	"github.com/francetechnologie-boop/livechat-app-sub007/internal/uistate"
)

// frameInterval is the coalescing window for scroll writes; at most one
// persisted write per frame.
const frameInterval = 16 * time.Millisecond

// ScrollKeeper remembers per-tab scroll offsets and persists them through
// the UI state store, coalescing the write bursts a scroll produces.
type ScrollKeeper struct {
	ui *uistate.Store

	mu       sync.Mutex
	agentID  string
	offsets  map[string]float64
	dirty    map[string]float64
	flushing bool
}

// NewScrollKeeper creates a scroll keeper.
func NewScrollKeeper(ui *uistate.Store) *ScrollKeeper {
	return &ScrollKeeper{
		ui:      ui,
		offsets: make(map[string]float64),
		dirty:   make(map[string]float64),
	}
}

// LoadFrom seeds remembered offsets from a loaded UI state blob.
func (k *ScrollKeeper) LoadFrom(agentID string, blob map[string]interface{}) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.agentID = agentID
	k.offsets = make(map[string]float64)
	for key, value := range blob {
		if !strings.HasPrefix(key, uistate.ScrollKeyPrefix) {
			continue
		}
		if offset, ok := value.(float64); ok {
			k.offsets[strings.TrimPrefix(key, uistate.ScrollKeyPrefix)] = offset
		}
	}
}

// Restore returns the remembered offset for a tab (0 when none).
func (k *ScrollKeeper) Restore(tab string) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.offsets[tab]
}

// Observe records a new offset for a tab. Writes are coalesced: however
// many observations arrive within one frame, at most one persisted write
// happens, carrying the latest value.
func (k *ScrollKeeper) Observe(tab string, offset float64) {
	k.mu.Lock()
	k.offsets[tab] = offset
	k.dirty[tab] = offset
	if k.flushing || k.agentID == "" {
		k.mu.Unlock()
		return
	}
	k.flushing = true
	k.mu.Unlock()

	time.AfterFunc(frameInterval, k.flush)
}

func (k *ScrollKeeper) flush() {
	k.mu.Lock()
	agentID := k.agentID
	patch := make(map[string]interface{}, len(k.dirty))
	for tab, offset := range k.dirty {
		patch[uistate.ScrollKeyPrefix+tab] = offset
	}
	k.dirty = make(map[string]float64)
	k.flushing = false
	k.mu.Unlock()

	if agentID == "" || len(patch) == 0 {
		return
	}
	k.ui.Save(agentID, patch)
}
