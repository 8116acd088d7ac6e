package authz

import (
	"context"
	"fmt"
	"sort"
)

// maxAncestorHops bounds the reparent ancestor walk. A well-formed tree is
// never this deep; hitting the bound means the stored rows are corrupt.
const maxAncestorHops = 100

// BuildForest assembles flat permission rows into a forest rooted at
// ParentID = RootParent. One pass builds the parentId → children adjacency
// map, a second assembles the nodes, so the whole build is O(n).
// Children are ordered by SortOrder, then id for a stable tie-break.
func BuildForest(perms []Permission) []*PermissionNode {
	children := make(map[int64][]Permission, len(perms))
	for _, p := range perms {
		children[p.ParentID] = append(children[p.ParentID], p)
	}
	for parent := range children {
		group := children[parent]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].SortOrder != group[j].SortOrder {
				return group[i].SortOrder < group[j].SortOrder
			}
			return group[i].ID < group[j].ID
		})
	}
	return assemble(RootParent, children)
}

func assemble(parentID int64, children map[int64][]Permission) []*PermissionNode {
	group, ok := children[parentID]
	if !ok {
		return nil
	}
	nodes := make([]*PermissionNode, 0, len(group))
	for _, p := range group {
		nodes = append(nodes, &PermissionNode{
			Permission: p,
			Children:   assemble(p.ID, children),
		})
	}
	return nodes
}

// ensureNoCycle verifies that attaching node id under parentID keeps the
// tenant's hierarchy a forest. It walks the proposed parent's ancestor chain
// upward; if the node's own id appears there the reparent would close a
// cycle. The walk is bounded by maxAncestorHops as a corruption guard.
func ensureNoCycle(ctx context.Context, store PermissionStore, orgID, id, parentID int64) error {
	current := parentID
	for hops := 0; current != RootParent; hops++ {
		if hops >= maxAncestorHops {
			return fmt.Errorf("%w: parent chain exceeds %d levels", ErrInvalidInput, maxAncestorHops)
		}
		if current == id {
			return fmt.Errorf("%w: parent_id would create a cycle", ErrInvalidInput)
		}
		ancestor, err := store.FindPermission(ctx, orgID, current)
		if err != nil {
			return err
		}
		current = ancestor.ParentID
	}
	return nil
}
