// Package sidebar implements the navigation tree store: the 3-level
// attached tree, the detached entry library, and the mutation operations
// the Smart Sidebar Designer performs on them.
package sidebar

import (
	"fmt"
	"strings"

	"github.com/francetechnologie-boop/livechat-app-sub007/pkg/protocol"
)

// FindByID finds an entry by id anywhere under roots (recursive).
func FindByID(roots []*protocol.TreeEntry, entryID string) *protocol.TreeEntry {
	for _, root := range roots {
		if found := findByID(root, entryID); found != nil {
			return found
		}
	}
	return nil
}

func findByID(node *protocol.TreeEntry, entryID string) *protocol.TreeEntry {
	if node == nil {
		return nil
	}
	if node.EntryID == entryID {
		return node
	}
	for _, child := range node.Children {
		if found := findByID(child, entryID); found != nil {
			return found
		}
	}
	return nil
}

// CountEntries counts all entries under roots.
func CountEntries(roots []*protocol.TreeEntry) int {
	count := 0
	for _, root := range roots {
		count += countEntries(root)
	}
	return count
}

func countEntries(node *protocol.TreeEntry) int {
	if node == nil {
		return 0
	}
	count := 1
	for _, child := range node.Children {
		count += countEntries(child)
	}
	return count
}

// Flatten returns all entries in a flat map keyed by entry id.
func Flatten(roots []*protocol.TreeEntry) map[string]*protocol.TreeEntry {
	result := make(map[string]*protocol.TreeEntry)
	for _, root := range roots {
		flattenRecursive(root, result)
	}
	return result
}

func flattenRecursive(node *protocol.TreeEntry, result map[string]*protocol.TreeEntry) {
	if node == nil {
		return
	}
	result[node.EntryID] = node
	for _, child := range node.Children {
		flattenRecursive(child, result)
	}
}

// SiblingIDs returns the ordered entry ids of one sibling bucket. For level
// 0 pass an empty parent id.
func SiblingIDs(roots []*protocol.TreeEntry, level int, parentEntryID string) []string {
	if level == protocol.LevelRoot {
		ids := make([]string, 0, len(roots))
		for _, root := range roots {
			ids = append(ids, root.EntryID)
		}
		return ids
	}
	parent := FindByID(roots, parentEntryID)
	if parent == nil {
		return nil
	}
	ids := make([]string, 0, len(parent.Children))
	for _, child := range parent.Children {
		ids = append(ids, child.EntryID)
	}
	return ids
}

// ValidateTree checks the structural invariants: every child's level is its
// parent's level + 1, no entry is deeper than level 2, parent linkage
// matches nesting, and entry ids are unique across the whole tree plus the
// given library.
func ValidateTree(roots []*protocol.TreeEntry, library []*protocol.LibraryEntry) error {
	seen := make(map[string]bool)

	var walk func(node *protocol.TreeEntry, level int, parentID string) error
	walk = func(node *protocol.TreeEntry, level int, parentID string) error {
		if node.EntryID == "" {
			return fmt.Errorf("entry with empty id at level %d", level)
		}
		if seen[node.EntryID] {
			return fmt.Errorf("duplicate entry id %q", node.EntryID)
		}
		seen[node.EntryID] = true

		if node.Level != level {
			return fmt.Errorf("entry %q: level %d, expected %d", node.EntryID, node.Level, level)
		}
		if level > protocol.LevelMax {
			return fmt.Errorf("entry %q: level %d exceeds max depth", node.EntryID, level)
		}
		if node.ParentEntryID != parentID {
			return fmt.Errorf("entry %q: parent %q, expected %q", node.EntryID, node.ParentEntryID, parentID)
		}
		for _, child := range node.Children {
			if err := walk(child, level+1, node.EntryID); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := walk(root, protocol.LevelRoot, ""); err != nil {
			return err
		}
	}

	// Library entries share the id space with the tree, but an id may be
	// both attached and present in the library snapshot (Attached flag).
	libSeen := make(map[string]bool)
	for _, entry := range library {
		if entry.EntryID == "" {
			return fmt.Errorf("library entry with empty id")
		}
		if libSeen[entry.EntryID] {
			return fmt.Errorf("duplicate library entry id %q", entry.EntryID)
		}
		libSeen[entry.EntryID] = true
		if seen[entry.EntryID] && !entry.Attached {
			return fmt.Errorf("entry %q attached in tree but marked detached in library", entry.EntryID)
		}
	}
	return nil
}

// ValidatePermutation checks that order is an exact permutation of current:
// same ids, no additions, no omissions, no duplicates.
func ValidatePermutation(current, order []string) error {
	if len(order) != len(current) {
		return fmt.Errorf("order has %d ids, bucket has %d", len(order), len(current))
	}
	want := make(map[string]bool, len(current))
	for _, id := range current {
		want[id] = true
	}
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if seen[id] {
			return fmt.Errorf("duplicate id %q in order", id)
		}
		seen[id] = true
		if !want[id] {
			return fmt.Errorf("id %q not in sibling bucket", id)
		}
	}
	return nil
}

// ClassifyHash derives the entry type from a hash target. An empty hash is
// a sub-menu container. A hash is module-like when it routes under
// #/modules/ or when its first segment is a known module id; anything else
// is an opaque custom link.
func ClassifyHash(hash string, knownModule func(string) bool) string {
	if hash == "" {
		return protocol.TypeSubmenu
	}
	trimmed := strings.TrimPrefix(hash, "#")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return protocol.TypeSubmenu
	}
	segments := strings.Split(trimmed, "/")
	if segments[0] == "modules" {
		return protocol.TypeModule
	}
	if knownModule != nil && knownModule(segments[0]) {
		return protocol.TypeModule
	}
	return protocol.TypeLink
}
