// ABOUTME: Calculates retained sizes from the dominator tree
// ABOUTME: An object retains itself and everything it dominates
package graph

import "sort"

// RetainedSize computes the retained size of each object reachable from the
// roots: the bytes that would become unreachable if that object were gone.
func RetainedSize(g Graph) map[ObjID]uint64 {
	tree := DominatorTree(Dominators(g))
	retained := retainedSizes(g, tree)
	delete(retained, SuperRoot)
	return retained
}

// RetainedSizeSubsets computes retained sizes for targetIDs only. Targets
// that are unreachable or not in the graph are left out.
func RetainedSizeSubsets(g Graph, targetIDs []ObjID) map[ObjID]uint64 {
	result := make(map[ObjID]uint64, len(targetIDs))
	if len(targetIDs) == 0 {
		return result
	}
	tree := DominatorTree(Dominators(g))
	for _, id := range targetIDs {
		if _, ok := tree[id]; !ok || id == SuperRoot {
			continue
		}
		result[id] = subtreeSize(g, tree, id)
	}
	return result
}

// Retainer is an object and the bytes it retains
type Retainer struct {
	ID       ObjID
	Type     string
	Retained uint64
}

// TopRetainers returns the n objects with the largest retained sizes,
// largest first. Ties are broken by ID.
func TopRetainers(g Graph, n int) []Retainer {
	if n <= 0 {
		return nil
	}
	retained := RetainedSize(g)
	out := make([]Retainer, 0, len(retained))
	for id, size := range retained {
		out = append(out, Retainer{ID: id, Type: g.GetObject(id).Type, Retained: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Retained != out[j].Retained {
			return out[i].Retained > out[j].Retained
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// retainedSizes sums sizes bottom-up over the dominator tree without
// recursion, so long chains cannot exhaust the stack.
func retainedSizes(g Graph, tree map[ObjID][]ObjID) map[ObjID]uint64 {
	retained := make(map[ObjID]uint64, len(tree))
	order := make([]ObjID, 0, len(tree))
	stack := []ObjID{SuperRoot}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, id)
		stack = append(stack, tree[id]...)
	}
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		size := objectSize(g, id)
		for _, child := range tree[id] {
			size += retained[child]
		}
		retained[id] = size
	}
	return retained
}

func subtreeSize(g Graph, tree map[ObjID][]ObjID, root ObjID) uint64 {
	var total uint64
	stack := []ObjID{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total += objectSize(g, id)
		stack = append(stack, tree[id]...)
	}
	return total
}

func objectSize(g Graph, id ObjID) uint64 {
	if id == SuperRoot {
		return 0
	}
	if obj := g.GetObject(id); obj != nil {
		return obj.Size
	}
	return 0
}
