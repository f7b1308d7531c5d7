// Package dragdrop implements the typed transfer payload carried by a
// sidebar drag operation, and the drop resolution that turns a payload plus
// a drop target into tree mutations.
package dragdrop

import (
	"encoding/json"

	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// MIMEType is the single transfer key drag payloads are encoded under.
const MIMEType = "application/x-livechat-sidebar"

// Payload kinds.
const (
	KindTreeMove = "tree-move" // an already-attached entry being moved
	KindSubmenu  = "submenu"   // a library sub-menu building block
	KindCustom   = "custom"    // a library custom link
	KindModule   = "module"    // a module shortcut
)

// Payload describes a pending attach-or-move operation.
//
// A tree-move carries the source slot (FromLevel, FromParentID) so the drop
// handler can tell a reparent from an in-place reorder. Library and module
// payloads carry only the entry identity and display fields.
type Payload struct {
	Kind          string `json:"type"`
	EntryID       string `json:"entry_id,omitempty"`
	ModuleID      string `json:"moduleId,omitempty"`
	Label         string `json:"label"`
	Hash          string `json:"hash,omitempty"`
	Icon          string `json:"icon,omitempty"`
	Logo          string `json:"logo,omitempty"`
	FromLevel     int    `json:"fromLevel,omitempty"`
	FromParentID  string `json:"fromParentId,omitempty"`
}

// Encode serializes a payload for the transfer.
func Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a transfer payload. A malformed payload yields nil (the
// drop becomes a no-op); it is not user-actionable and is never surfaced.
func Decode(data []byte) *Payload {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	switch p.Kind {
	case KindTreeMove, KindSubmenu, KindCustom:
		if p.EntryID == "" {
			return nil
		}
	case KindModule:
		if p.EntryID == "" && p.ModuleID == "" {
			return nil
		}
	default:
		return nil
	}
	return &p
}

// Target identifies where a payload was dropped. Dropping on a node targets
// "as a child of that node". Before/After name a sibling for positional
// drops; with neither set the entry appends at the end of the bucket.
type Target struct {
	Level         int
	ParentEntryID string
	Before        string
	After         string
}

// BuildAddPayload builds the attach request for dropping p at the target
// slot. Returns nil for a malformed or out-of-range combination, in which
// case the drop is a no-op.
func BuildAddPayload(p *Payload, targetLevel int, targetParentID string) *protocol.TreeAddRequest {
	if p == nil {
		return nil
	}
	if targetLevel < protocol.LevelRoot || targetLevel > protocol.LevelMax {
		return nil
	}
	if targetLevel == protocol.LevelRoot && targetParentID != "" {
		return nil
	}
	if targetLevel > protocol.LevelRoot && targetParentID == "" {
		return nil
	}

	req := &protocol.TreeAddRequest{
		EntryID:       p.EntryID,
		Level:         targetLevel,
		ParentEntryID: targetParentID,
		Label:         p.Label,
		Hash:          p.Hash,
		Icon:          p.Icon,
		Logo:          p.Logo,
	}

	switch p.Kind {
	case KindSubmenu:
		req.Type = protocol.TypeSubmenu
		req.Hash = ""
	case KindCustom:
		req.Type = protocol.TypeLink
		if req.Hash == "" {
			return nil
		}
	case KindModule:
		req.Type = protocol.TypeModule
		if req.EntryID == "" {
			req.EntryID = p.ModuleID
		}
		if req.Hash == "" {
			req.Hash = "#/modules/" + firstNonEmpty(p.ModuleID, p.EntryID)
		}
	case KindTreeMove:
		// Keep whatever type the entry already had; the store rederives it
		// from the hash.
	default:
		return nil
	}

	if p.Icon != "" {
		req.Logo = ""
	}
	return req
}

// InsertPosition places moved within siblings according to the tie-break
// rule: "before X" inserts immediately preceding X in the self-excluded
// list, "after X" immediately following X, neither appends at the end. The
// input slice is not modified.
func InsertPosition(siblings []string, moved, before, after string) []string {
	filtered := make([]string, 0, len(siblings))
	for _, id := range siblings {
		if id != moved {
			filtered = append(filtered, id)
		}
	}

	at := len(filtered)
	if before != "" {
		for i, id := range filtered {
			if id == before {
				at = i
				break
			}
		}
	} else if after != "" {
		for i, id := range filtered {
			if id == after {
				at = i + 1
				break
			}
		}
	}

	result := make([]string, 0, len(filtered)+1)
	result = append(result, filtered[:at]...)
	result = append(result, moved)
	result = append(result, filtered[at:]...)
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
