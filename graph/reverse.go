// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to the slots that refer to them

package graph

// Referrer is a slot pointing at some object
type Referrer struct {
	From   ObjID
	Offset uint32
	Static bool
}

// ReverseEdges maps each object to the slots that point to it
type ReverseEdges map[ObjID][]Referrer

// BuildReverseEdges creates a map of reverse edges
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges)

	g.ForEachObject(func(obj *Object) {
		for _, ref := range obj.Refs {
			reverse[ref.To] = append(reverse[ref.To], Referrer{
				From:   obj.ID,
				Offset: ref.Offset,
				Static: ref.Static,
			})
		}
	})

	return reverse
}
