// ABOUTME: Marking driver computing the transitive closure from the roots
// ABOUTME: Runs parallel workers over a shared mark stack, then processes references

package gc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

// Result summarizes one marking cycle.
type Result struct {
	Marked      int
	MarkedBytes uint64
	Counts      ScanCounts
	// Cleared are references whose referents were cleared.
	Cleared []*mirror.Object
	// Finalizable are finalizer references whose referents were revived.
	Finalizable []*mirror.Object
	Duration    time.Duration
}

// MarkSweep marks everything reachable from the roots and the class linker.
// It does not sweep.
type MarkSweep struct {
	heap    *heap.Heap
	linker  *mirror.Linker
	scanner *Scanner
	cfg     Config
	log     *slog.Logger

	pendingMu   sync.Mutex
	pending     []*mirror.Object
	markedBytes atomic.Uint64
	refs        referenceQueues
}

// NewMarkSweep returns a collector for h whose classes come from linker.
func NewMarkSweep(h *heap.Heap, linker *mirror.Linker, cfg Config) *MarkSweep {
	cfg = cfg.normalize()
	m := &MarkSweep{
		heap:   h,
		linker: linker,
		cfg:    cfg,
		log:    cfg.logger(),
	}
	m.scanner = NewScanner(linker.ClassClass(), h, m, cfg)
	return m
}

// Scanner returns the scanner used for marking.
func (m *MarkSweep) Scanner() *Scanner { return m.scanner }

// MarkObject marks obj and queues it for scanning if it was unmarked.
func (m *MarkSweep) MarkObject(obj *mirror.Object) {
	if obj == nil || m.heap.TestAndMark(obj) {
		return
	}
	m.markedBytes.Add(uint64(obj.SizeOf()))
	m.pendingMu.Lock()
	m.pending = append(m.pending, obj)
	m.pendingMu.Unlock()
}

// MarkRoots marks every class object and the given roots.
func (m *MarkSweep) MarkRoots(roots ...*mirror.Object) {
	m.linker.VisitRoots(m.MarkObject)
	for _, r := range roots {
		m.MarkObject(r)
	}
}

func (m *MarkSweep) takePending() []*mirror.Object {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	p := m.pending
	m.pending = nil
	return p
}

// RecursiveMark scans marked objects until no unscanned ones remain. It
// holds both heap guards shared while the workers run. Cancellation is
// noticed between object scans.
func (m *MarkSweep) RecursiveMark(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	locks := m.heap.Locks()
	locks.SharedLockAll()
	defer locks.SharedUnlockAll()

	stack := newMarkStack(m.cfg.Workers)
	pending := m.takePending()
	for len(pending) > 0 {
		n := min(len(pending), m.cfg.MarkStackChunk)
		stack.push(pending[:n:n])
		pending = pending[n:]
	}

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.markWorker(ctx, stack); err != nil {
				errOnce.Do(func() { firstErr = err })
				stack.abort()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

func (m *MarkSweep) markWorker(ctx context.Context, stack *markStack) error {
	chunkSize := m.cfg.MarkStackChunk
	var local []*mirror.Object
	visitor := VisitorFunc(func(_, ref *mirror.Object, _ mirror.MemberOffset, _ bool) {
		if ref == nil || m.heap.TestAndMark(ref) {
			return
		}
		m.markedBytes.Add(uint64(ref.SizeOf()))
		local = append(local, ref)
	})
	for {
		chunk, ok := stack.pop()
		if !ok {
			return nil
		}
		local = append(local, chunk...)
		for len(local) > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := len(local) - 1
			obj := local[n]
			local[n] = nil
			local = local[:n]
			m.scanner.ScanObject(obj, visitor)

			if len(local) >= 2*chunkSize {
				share := make([]*mirror.Object, chunkSize)
				copy(share, local[:chunkSize])
				stack.push(share)
				local = append(local[:0], local[chunkSize:]...)
			}
		}
	}
}

func (m *MarkSweep) reset() {
	locks := m.heap.Locks()
	locks.HeapBitmap.ExclusiveLock()
	m.heap.ClearMarks()
	locks.HeapBitmap.ExclusiveUnlock()

	m.takePending()
	m.markedBytes.Store(0)
	m.refs.reset()
	m.scanner.ResetCounts()
}

// Run performs a full marking cycle from roots.
func (m *MarkSweep) Run(ctx context.Context, roots ...*mirror.Object) (*Result, error) {
	start := time.Now()
	m.reset()
	m.MarkRoots(roots...)
	if err := m.RecursiveMark(ctx); err != nil {
		return nil, err
	}
	cleared, finalizable, err := m.ProcessReferences(ctx, m.cfg.ClearSoftReferences)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Marked:      m.heap.NumMarked(),
		MarkedBytes: m.markedBytes.Load(),
		Counts:      m.scanner.Counts(),
		Cleared:     cleared,
		Finalizable: finalizable,
		Duration:    time.Since(start),
	}
	m.log.Debug("marking finished",
		"marked", res.Marked,
		"marked_bytes", heap.Size(res.MarkedBytes).String(),
		"cleared_references", len(cleared),
		"finalizable", len(finalizable),
		"workers", m.cfg.Workers,
		"duration", res.Duration)
	return res, nil
}
