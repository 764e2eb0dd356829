// ABOUTME: Scan-kind instrumentation counters shared by concurrent marking workers
// ABOUTME: Each counter sits on its own cache line to keep workers from contending

package gc

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// ScanCounts is a snapshot of the scan counters.
type ScanCounts struct {
	Classes uint64
	Arrays  uint64
	Others  uint64
}

// Total returns the number of scanned objects.
func (c ScanCounts) Total() uint64 { return c.Classes + c.Arrays + c.Others }

type scanCounters struct {
	_       cpu.CacheLinePad
	classes atomic.Uint64
	_       cpu.CacheLinePad
	arrays  atomic.Uint64
	_       cpu.CacheLinePad
	others  atomic.Uint64
	_       cpu.CacheLinePad
}

func (c *scanCounters) count(k objectKind) {
	switch k {
	case kindClass:
		c.classes.Add(1)
	case kindArray, kindObjectArray:
		c.arrays.Add(1)
	default:
		c.others.Add(1)
	}
}

func (c *scanCounters) snapshot() ScanCounts {
	return ScanCounts{
		Classes: c.classes.Load(),
		Arrays:  c.arrays.Load(),
		Others:  c.others.Load(),
	}
}

func (c *scanCounters) reset() {
	c.classes.Store(0)
	c.arrays.Store(0)
	c.others.Store(0)
}
