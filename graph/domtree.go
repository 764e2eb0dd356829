// ABOUTME: Queries over immediate dominators: dominator chains and dominance tests
// ABOUTME: Used to explain which single object keeps another one alive
package graph

import "sort"

// DominatorPath returns the dominator chain of node, starting with node and
// ending with SuperRoot. Nodes missing from idom yield only themselves.
func DominatorPath(idom map[ObjID]ObjID, node ObjID) []ObjID {
	path := []ObjID{node}
	if _, ok := idom[node]; !ok {
		return path
	}
	for current := node; current != SuperRoot; {
		current = idom[current]
		path = append(path, current)
	}
	return path
}

// IsDominated reports whether every path from the roots to node passes
// through dominator. A node dominates itself.
func IsDominated(idom map[ObjID]ObjID, node, dominator ObjID) bool {
	if node == dominator {
		return true
	}
	current := node
	for {
		dom, ok := idom[current]
		if !ok {
			return false
		}
		if dom == dominator {
			return true
		}
		if dom == SuperRoot {
			return false
		}
		current = dom
	}
}

func sortIDs(ids []ObjID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
