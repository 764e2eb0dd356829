// ABOUTME: Exports the reference graph of the heap for offline analysis
// ABOUTME: Each edge keeps the slot offset and whether it is a static field

package gc

import (
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

// BuildGraph records every object of h, or only marked ones when
// markedOnly is set, with its non-null references. roots become the graph
// roots; nil roots are skipped.
func BuildGraph(h *heap.Heap, s *Scanner, markedOnly bool, roots ...*mirror.Object) *graph.MemGraph {
	h.Locks().SharedLockAll()
	defer h.Locks().SharedUnlockAll()

	g := graph.NewMemGraph()
	add := func(obj *mirror.Object) {
		node := &graph.Object{
			ID:   graph.ObjID(obj.Address()),
			Type: typeName(obj),
			Size: uint64(obj.SizeOf()),
		}
		s.VisitObjectReferences(obj, VisitorFunc(func(_, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool) {
			if ref == nil {
				return
			}
			node.Refs = append(node.Refs, graph.Ref{
				To:     graph.ObjID(ref.Address()),
				Offset: offset.Uint32(),
				Static: isStatic,
			})
		}))
		g.AddObject(node)
	}
	if markedOnly {
		h.WalkMarked(add)
	} else {
		h.Walk(add)
	}

	ids := make([]graph.ObjID, 0, len(roots))
	for _, r := range roots {
		if r != nil {
			ids = append(ids, graph.ObjID(r.Address()))
		}
	}
	g.SetRoots(graph.Roots{IDs: ids})
	return g
}

func typeName(obj *mirror.Object) string {
	if obj.IsClass() {
		return "class " + obj.AsClass().PrettyName()
	}
	return obj.GetClass().PrettyName()
}
