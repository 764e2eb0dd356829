// ABOUTME: The managed heap: spaces, allocation and mark bitmap queries
// ABOUTME: Also prints space diagnostics when a collector invariant breaks

package heap

import (
	"errors"
	"fmt"
	"io"

	"github.com/prateek/heapscan/mirror"
)

// ErrOutOfMemory is returned when no space can hold an allocation
var ErrOutOfMemory = errors.New("out of memory")

const (
	allocSpaceBegin uintptr = 0x12c00000
	spaceGap        uintptr = 1 << 20
)

// Heap owns every space and the guards protecting them.
type Heap struct {
	cfg    Config
	alloc  *Space
	los    *Space
	spaces []*Space
	locks  *Locks
}

// New creates a heap from cfg.
func New(cfg Config) (*Heap, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alloc := newSpace("main", AllocSpace, allocSpaceBegin, uint64(cfg.AllocSpaceSize))
	losBegin := (alloc.Limit() + 2*spaceGap - 1) &^ (spaceGap - 1)
	los := newSpace("large objects", LargeObjectSpace, losBegin, uint64(cfg.LargeObjectSpaceSize))
	return &Heap{
		cfg:    cfg,
		alloc:  alloc,
		los:    los,
		spaces: []*Space{alloc, los},
		locks:  NewLocks(),
	}, nil
}

// Allocate implements mirror.Allocator.
func (h *Heap) Allocate(byteCount uint32, construct func(addr uintptr) *mirror.Object) (*mirror.Object, error) {
	space := h.alloc
	if Size(byteCount) >= h.cfg.LargeObjectThreshold {
		space = h.los
	}
	obj, ok := space.alloc(byteCount, construct)
	if !ok {
		return nil, fmt.Errorf("%w: %d bytes in %s", ErrOutOfMemory, byteCount, space.name)
	}
	return obj, nil
}

// Locks returns the heap's guards.
func (h *Heap) Locks() *Locks { return h.locks }

// Spaces returns every space in address order.
func (h *Heap) Spaces() []*Space { return h.spaces }

// SpaceOf returns the space containing addr, or nil.
func (h *Heap) SpaceOf(addr uintptr) *Space {
	for _, s := range h.spaces {
		if s.Contains(addr) {
			return s
		}
	}
	return nil
}

// ObjectAt returns the object allocated at addr, or nil.
func (h *Heap) ObjectAt(addr uintptr) *mirror.Object {
	if s := h.SpaceOf(addr); s != nil {
		return s.ObjectAt(addr)
	}
	return nil
}

// IsMarked reports whether obj is set in its space's mark bitmap. Objects
// outside the heap are never marked.
func (h *Heap) IsMarked(obj *mirror.Object) bool {
	s := h.SpaceOf(obj.Address())
	return s != nil && s.mark.Test(obj.Address())
}

// TestAndMark marks obj and reports whether it was marked before.
func (h *Heap) TestAndMark(obj *mirror.Object) bool {
	s := h.SpaceOf(obj.Address())
	if s == nil {
		panic(fmt.Sprintf("marking %v outside the heap", obj))
	}
	return s.mark.TestAndSet(obj.Address())
}

// ClearMarks empties every mark bitmap. The caller must hold the heap bitmap
// guard exclusively.
func (h *Heap) ClearMarks() {
	h.locks.HeapBitmap.AssertExclusiveHeld()
	for _, s := range h.spaces {
		s.mark.ClearAll()
	}
}

// Walk calls fn for every allocated object, space by space.
func (h *Heap) Walk(fn func(*mirror.Object)) {
	for _, s := range h.spaces {
		s.Walk(fn)
	}
}

// WalkMarked calls fn for every marked object.
func (h *Heap) WalkMarked(fn func(*mirror.Object)) {
	for _, s := range h.spaces {
		s.mark.Walk(func(addr uintptr) {
			if obj := s.ObjectAt(addr); obj != nil {
				fn(obj)
			}
		})
	}
}

// NumObjects returns the number of allocated objects.
func (h *Heap) NumObjects() int {
	n := 0
	for _, s := range h.spaces {
		n += s.NumObjects()
	}
	return n
}

// NumMarked returns the number of marked objects.
func (h *Heap) NumMarked() int {
	n := 0
	for _, s := range h.spaces {
		n += s.mark.Count()
	}
	return n
}

// DumpSpaces writes one line per space and its bitmaps.
func (h *Heap) DumpSpaces(w io.Writer) {
	for _, s := range h.spaces {
		fmt.Fprintf(w, "%v capacity=%v size=%v objects=%d\n",
			s, Size(s.Capacity()), Size(s.Size()), s.NumObjects())
		for _, b := range []*SpaceBitmap{s.live, s.mark} {
			fmt.Fprintf(w, "    %s [%#x-%#x) set=%d\n", b.name, b.begin, b.limit, b.Count())
		}
	}
}
