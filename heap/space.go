// ABOUTME: Contiguous heap spaces with bump allocation
// ABOUTME: Each space owns a live bitmap and a mark bitmap over its range

package heap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prateek/heapscan/mirror"
)

// SpaceKind says what a space is used for.
type SpaceKind int

const (
	AllocSpace SpaceKind = iota
	LargeObjectSpace
)

func (k SpaceKind) String() string {
	switch k {
	case LargeObjectSpace:
		return "large object space"
	default:
		return "alloc space"
	}
}

// Space is a contiguous address range objects are allocated from.
type Space struct {
	name  string
	kind  SpaceKind
	begin uintptr
	limit uintptr

	mu      sync.Mutex
	top     uintptr
	objects []*mirror.Object

	live *SpaceBitmap
	mark *SpaceBitmap
}

func newSpace(name string, kind SpaceKind, begin uintptr, capacity uint64) *Space {
	return &Space{
		name:  name,
		kind:  kind,
		begin: begin,
		limit: begin + uintptr(capacity),
		top:   begin,
		live:  NewSpaceBitmap(name+" live-bitmap", begin, capacity),
		mark:  NewSpaceBitmap(name+" mark-bitmap", begin, capacity),
	}
}

// Name returns the space's name.
func (s *Space) Name() string { return s.name }

// Kind returns the space's kind.
func (s *Space) Kind() SpaceKind { return s.kind }

// Begin returns the first address of the space.
func (s *Space) Begin() uintptr { return s.begin }

// Limit returns the address just past the space.
func (s *Space) Limit() uintptr { return s.limit }

// Capacity returns the size of the address range.
func (s *Space) Capacity() uint64 { return uint64(s.limit - s.begin) }

// Size returns the number of bytes handed out so far.
func (s *Space) Size() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(s.top - s.begin)
}

// Contains reports whether addr is inside the space.
func (s *Space) Contains(addr uintptr) bool {
	return addr >= s.begin && addr < s.limit
}

// LiveBitmap returns the bitmap of allocated objects.
func (s *Space) LiveBitmap() *SpaceBitmap { return s.live }

// MarkBitmap returns the bitmap of marked objects.
func (s *Space) MarkBitmap() *SpaceBitmap { return s.mark }

// NumObjects returns the number of objects allocated in the space.
func (s *Space) NumObjects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// alloc reserves size bytes, or returns false when the space is full.
func (s *Space) alloc(size uint32, construct func(addr uintptr) *mirror.Object) (*mirror.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := uintptr(size+mirror.ObjectAlignment-1) &^ (mirror.ObjectAlignment - 1)
	if n == 0 {
		n = mirror.ObjectAlignment
	}
	if s.top+n > s.limit || s.top+n < s.top {
		return nil, false
	}
	addr := s.top
	s.top += n
	obj := construct(addr)
	s.objects = append(s.objects, obj)
	s.live.Set(addr)
	return obj, true
}

// ObjectAt returns the object allocated at addr, or nil.
func (s *Space) ObjectAt(addr uintptr) *mirror.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.objects), func(i int) bool {
		return s.objects[i].Address() >= addr
	})
	if i < len(s.objects) && s.objects[i].Address() == addr {
		return s.objects[i]
	}
	return nil
}

// Walk calls fn for every object in address order.
func (s *Space) Walk(fn func(*mirror.Object)) {
	s.mu.Lock()
	objs := make([]*mirror.Object, len(s.objects))
	copy(objs, s.objects)
	s.mu.Unlock()
	for _, o := range objs {
		fn(o)
	}
}

func (s *Space) String() string {
	return fmt.Sprintf("%s %s [%#x-%#x)", s.kind, s.name, s.begin, s.limit)
}
