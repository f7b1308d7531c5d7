package dragdrop

import (
	"context"
	"fmt"

	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/sidebar"
)

// PerformDrop applies a decoded payload to a drop target.
//
// The sequence is transactional in order: a tree-move that changes level or
// parent is reparented first (the backend treats the attach as detach plus
// attach), and only if that round-trip succeeds is the new sibling order
// applied, so the reorder always operates on a consistent sibling set. A
// nil payload is a no-op.
func PerformDrop(ctx context.Context, store *sidebar.Store, p *Payload, target Target) error {
	if p == nil {
		return nil
	}

	req := BuildAddPayload(p, target.Level, target.ParentEntryID)
	if req == nil {
		return nil
	}

	needAttach := true
	if p.Kind == KindTreeMove && p.FromLevel == target.Level && p.FromParentID == target.ParentEntryID {
		// Same bucket: pure reorder, no reparent round-trip.
		needAttach = false
	}

	if needAttach {
		if err := store.Attach(ctx, *req); err != nil {
			return fmt.Errorf("reparent %s: %w", req.EntryID, err)
		}
	}

	snap := store.Snapshot()
	if snap == nil {
		return fmt.Errorf("no tree snapshot after attach")
	}

	// Appending with no positional hint needs no reorder call; the backend
	// already appended the entry.
	if target.Before == "" && target.After == "" && needAttach {
		return nil
	}

	siblings := sidebar.SiblingIDs(snap.Roots, target.Level, target.ParentEntryID)
	order := InsertPosition(siblings, req.EntryID, target.Before, target.After)
	if err := store.Reorder(ctx, target.Level, target.ParentEntryID, order); err != nil {
		return fmt.Errorf("reorder after drop: %w", err)
	}
	return nil
}

// ChildTarget resolves a drop on a tree node into the target slot "as a
// child of that node". Returns false when the node is already at max depth.
func ChildTarget(node *protocol.TreeEntry) (Target, bool) {
	if node == nil || node.Level >= protocol.LevelMax {
		return Target{}, false
	}
	return Target{
		Level:         node.Level + 1,
		ParentEntryID: node.EntryID,
	}, true
}

// SiblingTarget resolves a drop on a before/after zone next to a node into
// a positional target within the node's own bucket.
func SiblingTarget(node *protocol.TreeEntry, before bool) Target {
	t := Target{
		Level:         node.Level,
		ParentEntryID: node.ParentEntryID,
	}
	if before {
		t.Before = node.EntryID
	} else {
		t.After = node.EntryID
	}
	return t
}
