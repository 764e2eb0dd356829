// ABOUTME: Space bitmaps with one bit per object-aligned address
// ABOUTME: Used as live and mark bitmaps; safe for concurrent markers

package heap

import (
	"fmt"
	"sync/atomic"

	"github.com/prateek/heapscan/mirror"
)

const bitsPerWord = 64

// SpaceBitmap covers [begin, begin+capacity) with one bit per
// mirror.ObjectAlignment bytes.
type SpaceBitmap struct {
	name  string
	begin uintptr
	limit uintptr
	words []atomic.Uint64
}

// NewSpaceBitmap returns an empty bitmap for the range.
func NewSpaceBitmap(name string, begin uintptr, capacity uint64) *SpaceBitmap {
	n := (capacity/mirror.ObjectAlignment + bitsPerWord - 1) / bitsPerWord
	return &SpaceBitmap{
		name:  name,
		begin: begin,
		limit: begin + uintptr(capacity),
		words: make([]atomic.Uint64, n),
	}
}

// HasAddress reports whether addr lies inside the covered range.
func (b *SpaceBitmap) HasAddress(addr uintptr) bool {
	return addr >= b.begin && addr < b.limit
}

func (b *SpaceBitmap) index(addr uintptr) (int, uint64) {
	if !b.HasAddress(addr) {
		panic(fmt.Sprintf("bitmap %s: address %#x outside [%#x, %#x)", b.name, addr, b.begin, b.limit))
	}
	bit := uint64(addr-b.begin) / mirror.ObjectAlignment
	return int(bit / bitsPerWord), 1 << (bit % bitsPerWord)
}

// Test reports whether addr's bit is set.
func (b *SpaceBitmap) Test(addr uintptr) bool {
	i, mask := b.index(addr)
	return b.words[i].Load()&mask != 0
}

// Set sets addr's bit.
func (b *SpaceBitmap) Set(addr uintptr) {
	b.TestAndSet(addr)
}

// TestAndSet sets addr's bit and reports whether it was already set.
func (b *SpaceBitmap) TestAndSet(addr uintptr) bool {
	i, mask := b.index(addr)
	w := &b.words[i]
	for {
		old := w.Load()
		if old&mask != 0 {
			return true
		}
		if w.CompareAndSwap(old, old|mask) {
			return false
		}
	}
}

// Clear clears addr's bit.
func (b *SpaceBitmap) Clear(addr uintptr) {
	i, mask := b.index(addr)
	w := &b.words[i]
	for {
		old := w.Load()
		if old&mask == 0 || w.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// ClearAll clears every bit. Not safe against concurrent setters.
func (b *SpaceBitmap) ClearAll() {
	for i := range b.words {
		b.words[i].Store(0)
	}
}

// Count returns the number of set bits.
func (b *SpaceBitmap) Count() int {
	n := 0
	for i := range b.words {
		for w := b.words[i].Load(); w != 0; w &= w - 1 {
			n++
		}
	}
	return n
}

// Walk calls fn with the address of every set bit in ascending order.
func (b *SpaceBitmap) Walk(fn func(addr uintptr)) {
	for i := range b.words {
		w := b.words[i].Load()
		for bit := 0; w != 0; bit++ {
			if w&1 != 0 {
				fn(b.begin + uintptr((i*bitsPerWord+bit)*mirror.ObjectAlignment))
			}
			w >>= 1
		}
	}
}
