// ABOUTME: Deferred processing of soft, weak, finalizer and phantom references
// ABOUTME: Referents are decided after the main trace instead of being followed by it

package gc

import (
	"context"
	"sync"

	"github.com/prateek/heapscan/mirror"
)

type referenceQueues struct {
	mu    sync.Mutex
	lists [mirror.PhantomReference + 1][]*mirror.Object
}

func (q *referenceQueues) enqueue(kind mirror.ReferenceKind, ref *mirror.Object) {
	q.mu.Lock()
	q.lists[kind] = append(q.lists[kind], ref)
	q.mu.Unlock()
}

func (q *referenceQueues) take(kind mirror.ReferenceKind) []*mirror.Object {
	q.mu.Lock()
	defer q.mu.Unlock()
	refs := q.lists[kind]
	q.lists[kind] = nil
	return refs
}

func (q *referenceQueues) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.lists {
		q.lists[i] = nil
	}
}

// DelayReferenceReferent queues a reference object whose referent is not
// marked yet. It implements ReferenceDelayer.
func (m *MarkSweep) DelayReferenceReferent(obj *mirror.Object) {
	klass := obj.GetClass()
	referent := obj.GetFieldObject(klass.ReferentOffset())
	if referent == nil || m.heap.IsMarked(referent) {
		return
	}
	m.refs.enqueue(klass.ReferenceKind(), obj)
}

func referent(ref *mirror.Object) *mirror.Object {
	return ref.GetFieldObject(ref.GetClass().ReferentOffset())
}

// preserveSoftReferences marks the referents of queued soft references
// and traces from them until no new soft references turn up.
func (m *MarkSweep) preserveSoftReferences(ctx context.Context) error {
	for {
		soft := m.refs.take(mirror.SoftReference)
		if len(soft) == 0 {
			return nil
		}
		for _, ref := range soft {
			if r := referent(ref); r != nil {
				m.MarkObject(r)
			}
		}
		if err := m.RecursiveMark(ctx); err != nil {
			return err
		}
	}
}

// clearWhiteReferences clears every queued reference of kind whose referent
// is still unmarked. The caller holds the mutator guard exclusively.
func (m *MarkSweep) clearWhiteReferences(kind mirror.ReferenceKind) []*mirror.Object {
	var cleared []*mirror.Object
	for _, ref := range m.refs.take(kind) {
		r := referent(ref)
		if r == nil || m.heap.IsMarked(r) {
			continue
		}
		ref.SetFieldObject(ref.GetClass().ReferentOffset(), nil)
		cleared = append(cleared, ref)
	}
	return cleared
}

// enqueueFinalizerReferences keeps the referents of unreachable finalizer
// references alive so their finalizers can run, and returns those references.
func (m *MarkSweep) enqueueFinalizerReferences(ctx context.Context) ([]*mirror.Object, error) {
	var pending []*mirror.Object
	for _, ref := range m.refs.take(mirror.FinalizerReference) {
		r := referent(ref)
		if r == nil || m.heap.IsMarked(r) {
			continue
		}
		m.MarkObject(r)
		pending = append(pending, ref)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending, m.RecursiveMark(ctx)
}

// ProcessReferences decides the fate of every reference queued during
// marking. Soft referents survive unless clearSoft is set; weak and soft
// references to unmarked objects are cleared; finalizer referents are
// revived and returned as finalizable; phantom references are cleared last.
func (m *MarkSweep) ProcessReferences(ctx context.Context, clearSoft bool) (cleared, finalizable []*mirror.Object, err error) {
	if !clearSoft {
		if err := m.preserveSoftReferences(ctx); err != nil {
			return nil, nil, err
		}
	}

	mutator := m.heap.Locks().Mutator
	mutator.ExclusiveLock()
	cleared = append(cleared, m.clearWhiteReferences(mirror.SoftReference)...)
	cleared = append(cleared, m.clearWhiteReferences(mirror.WeakReference)...)
	mutator.ExclusiveUnlock()

	finalizable, err = m.enqueueFinalizerReferences(ctx)
	if err != nil {
		return nil, nil, err
	}

	mutator.ExclusiveLock()
	defer mutator.ExclusiveUnlock()
	cleared = append(cleared, m.clearWhiteReferences(mirror.SoftReference)...)
	cleared = append(cleared, m.clearWhiteReferences(mirror.WeakReference)...)
	cleared = append(cleared, m.clearWhiteReferences(mirror.PhantomReference)...)
	return cleared, finalizable, nil
}
