// ABOUTME: Shared guards protecting the mark bitmaps and mutator-visible heap state
// ABOUTME: Reader/writer locks that can assert they are held in the expected mode

package heap

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// SharedGuard is a reader/writer lock that tracks how it is held so callers
// can assert a precondition instead of only documenting it.
type SharedGuard struct {
	name      string
	mu        sync.RWMutex
	shared    atomic.Int32
	exclusive atomic.Bool
}

// NewSharedGuard returns an unheld guard.
func NewSharedGuard(name string) *SharedGuard {
	return &SharedGuard{name: name}
}

// Name returns the guard's name.
func (g *SharedGuard) Name() string { return g.name }

// SharedLock acquires the guard for reading.
func (g *SharedGuard) SharedLock() {
	g.mu.RLock()
	g.shared.Add(1)
}

// SharedUnlock releases a read hold.
func (g *SharedGuard) SharedUnlock() {
	g.shared.Add(-1)
	g.mu.RUnlock()
}

// ExclusiveLock acquires the guard for writing.
func (g *SharedGuard) ExclusiveLock() {
	g.mu.Lock()
	g.exclusive.Store(true)
}

// ExclusiveUnlock releases the write hold.
func (g *SharedGuard) ExclusiveUnlock() {
	g.exclusive.Store(false)
	g.mu.Unlock()
}

// IsSharedHeld reports whether some reader holds the guard.
func (g *SharedGuard) IsSharedHeld() bool { return g.shared.Load() > 0 }

// IsExclusiveHeld reports whether a writer holds the guard.
func (g *SharedGuard) IsExclusiveHeld() bool { return g.exclusive.Load() }

// AssertSharedHeld panics unless the guard is held for reading.
func (g *SharedGuard) AssertSharedHeld() {
	if !g.IsSharedHeld() {
		panic(fmt.Sprintf("%s not held shared", g.name))
	}
}

// AssertExclusiveHeld panics unless the guard is held for writing.
func (g *SharedGuard) AssertExclusiveHeld() {
	if !g.IsExclusiveHeld() {
		panic(fmt.Sprintf("%s not held exclusively", g.name))
	}
}

// Locks are the two guards a scan requires.
type Locks struct {
	// HeapBitmap guards the live and mark bitmaps' structure.
	HeapBitmap *SharedGuard
	// Mutator guards object contents against mutator writes.
	Mutator *SharedGuard
}

// NewLocks returns unheld guards.
func NewLocks() *Locks {
	return &Locks{
		HeapBitmap: NewSharedGuard("heap bitmap lock"),
		Mutator:    NewSharedGuard("mutator lock"),
	}
}

// SharedLockAll takes both guards for reading, mutator first.
func (l *Locks) SharedLockAll() {
	l.Mutator.SharedLock()
	l.HeapBitmap.SharedLock()
}

// SharedUnlockAll releases both read holds.
func (l *Locks) SharedUnlockAll() {
	l.HeapBitmap.SharedUnlock()
	l.Mutator.SharedUnlock()
}
