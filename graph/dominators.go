// ABOUTME: Implements the Lengauer-Tarjan algorithm for immediate dominators of the heap graph
// ABOUTME: A synthetic super-root (ID 0) points at every GC root
package graph

// SuperRoot is the synthetic node that refers to every root. Heap objects
// never live at address 0, so it cannot collide with a real object.
const SuperRoot ObjID = 0

// Dominators computes the immediate dominator of each object reachable from
// the roots. Roots are dominated by SuperRoot. Objects outside the graph and
// unreachable objects are left out of the result.
func Dominators(g Graph) map[ObjID]ObjID {
	reverse := BuildReverseEdges(g)

	// DFS numbering from the super-root. Index 0 is the super-root.
	index := map[ObjID]int{SuperRoot: 0}
	vertex := []ObjID{SuperRoot}
	parent := []int{-1}

	type frame struct {
		id   ObjID
		next int
	}
	var roots []ObjID
	for _, id := range g.GetRoots().IDs {
		if g.GetObject(id) != nil {
			roots = append(roots, id)
		}
	}
	rootSet := make(map[ObjID]bool, len(roots))
	for _, id := range roots {
		rootSet[id] = true
	}
	successors := func(id ObjID) []ObjID {
		if id == SuperRoot {
			return roots
		}
		refs := g.GetObject(id).Refs
		out := make([]ObjID, 0, len(refs))
		for _, r := range refs {
			if g.GetObject(r.To) != nil {
				out = append(out, r.To)
			}
		}
		return out
	}

	stack := []frame{{id: SuperRoot}}
	succ := [][]ObjID{successors(SuperRoot)}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		children := succ[len(succ)-1]
		if top.next == len(children) {
			stack = stack[:len(stack)-1]
			succ = succ[:len(succ)-1]
			continue
		}
		w := children[top.next]
		top.next++
		if _, seen := index[w]; seen {
			continue
		}
		index[w] = len(vertex)
		vertex = append(vertex, w)
		parent = append(parent, index[top.id])
		stack = append(stack, frame{id: w})
		succ = append(succ, successors(w))
	}

	n := len(vertex)
	semi := make([]int, n)
	idom := make([]int, n)
	ancestor := make([]int, n)
	label := make([]int, n)
	bucket := make([][]int, n)
	for i := range semi {
		semi[i] = i
		ancestor[i] = -1
		label[i] = i
	}

	var compress func(v int)
	compress = func(v int) {
		a := ancestor[v]
		if ancestor[a] == -1 {
			return
		}
		compress(a)
		if semi[label[a]] < semi[label[v]] {
			label[v] = label[a]
		}
		ancestor[v] = ancestor[a]
	}
	eval := func(v int) int {
		if ancestor[v] == -1 {
			return v
		}
		compress(v)
		return label[v]
	}

	for w := n - 1; w > 0; w-- {
		preds := reverse[vertex[w]]
		for _, ref := range preds {
			v, ok := index[ref.From]
			if !ok {
				continue
			}
			if u := eval(v); semi[u] < semi[w] {
				semi[w] = semi[u]
			}
		}
		if rootSet[vertex[w]] {
			semi[w] = 0
		}
		bucket[semi[w]] = append(bucket[semi[w]], w)

		p := parent[w]
		ancestor[w] = p
		for _, v := range bucket[p] {
			if u := eval(v); semi[u] < semi[v] {
				idom[v] = u
			} else {
				idom[v] = p
			}
		}
		bucket[p] = nil
	}

	result := make(map[ObjID]ObjID, n-1)
	for w := 1; w < n; w++ {
		if idom[w] != semi[w] {
			idom[w] = idom[idom[w]]
		}
		result[vertex[w]] = vertex[idom[w]]
	}
	return result
}

// DominatorTree builds a tree structure from immediate dominators.
// Returns a map from each node to its immediately dominated nodes in
// ascending ID order.
func DominatorTree(idom map[ObjID]ObjID) map[ObjID][]ObjID {
	tree := make(map[ObjID][]ObjID, len(idom)+1)
	tree[SuperRoot] = []ObjID{}
	for node := range idom {
		tree[node] = []ObjID{}
	}
	for node, dom := range idom {
		tree[dom] = append(tree[dom], node)
	}
	for _, children := range tree {
		sortIDs(children)
	}
	return tree
}
