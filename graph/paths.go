// ABOUTME: BFS search for the reference chains keeping an object alive
// ABOUTME: Finds up to K shortest paths to GC roots with cycle detection

package graph

// Step is one hop of a path: the object reached and the slot in the next
// object of the path that refers to it
type Step struct {
	ID     ObjID
	Offset uint32 // Slot in the following object; unused for the last step
	Static bool
}

// Path is a chain of references from an object back to a root
type Path struct {
	Steps []Step // From the target object to the root
}

// IDs returns the object IDs along the path
func (p Path) IDs() []ObjID {
	ids := make([]ObjID, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// PathsToRoots finds up to maxPaths shortest paths from an object to GC roots
func PathsToRoots(g Graph, from ObjID, maxPaths int) []Path {
	if maxPaths <= 0 || g.GetObject(from) == nil {
		return nil
	}

	reverse := BuildReverseEdges(g)

	rootSet := make(map[ObjID]bool)
	for _, id := range g.GetRoots().IDs {
		rootSet[id] = true
	}

	if rootSet[from] {
		return []Path{{Steps: []Step{{ID: from}}}}
	}

	var result []Path
	queue := [][]Step{{{ID: from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		path := queue[0]
		queue = queue[1:]
		last := path[len(path)-1]

		for _, ref := range reverse[last.ID] {
			if inPath(path, ref.From) {
				continue
			}

			next := make([]Step, len(path)+1)
			copy(next, path)
			next[len(path)-1].Offset = ref.Offset
			next[len(path)-1].Static = ref.Static
			next[len(path)] = Step{ID: ref.From}

			if rootSet[ref.From] {
				result = append(result, Path{Steps: next})
				if len(result) >= maxPaths {
					break
				}
			} else {
				queue = append(queue, next)
			}
		}
	}

	return result
}

func inPath(path []Step, id ObjID) bool {
	for _, s := range path {
		if s.ID == id {
			return true
		}
	}
	return false
}
