// ABOUTME: Shared fixtures for collector tests: a small heap with a few classes
// ABOUTME: Also provides a visitor that records every reported reference

package gc_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prateek/heapscan/gc"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

type world struct {
	t      *testing.T
	heap   *heap.Heap
	linker *mirror.Linker
	node   *mirror.Class
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() gc.Config {
	cfg := gc.DefaultConfig()
	cfg.Logger = quietLogger()
	return cfg
}

func newWorld(t *testing.T, opts ...mirror.LinkerOption) *world {
	t.Helper()
	h, err := heap.New(heap.DefaultConfig())
	require.NoError(t, err)
	l, err := mirror.NewLinker(h, opts...)
	require.NoError(t, err)
	w := &world{t: t, heap: h, linker: l}
	w.node = w.define(mirror.ClassDef{
		Descriptor: "LNode;",
		Fields: []mirror.FieldDef{
			{Name: "next", Type: "LNode;"},
			{Name: "value", Type: "I"},
			{Name: "label", Type: mirror.StringDescriptor},
		},
	})
	return w
}

func (w *world) define(def mirror.ClassDef) *mirror.Class {
	w.t.Helper()
	c, err := w.linker.DefineClass(def)
	require.NoError(w.t, err)
	return c
}

func (w *world) class(desc string) *mirror.Class {
	w.t.Helper()
	c, err := w.linker.FindClass(desc)
	require.NoError(w.t, err)
	return c
}

func (w *world) alloc(c *mirror.Class) *mirror.Object {
	w.t.Helper()
	obj, err := w.linker.AllocObject(c)
	require.NoError(w.t, err)
	return obj
}

func (w *world) str(s string) *mirror.Object {
	w.t.Helper()
	obj, err := w.linker.NewString(s)
	require.NoError(w.t, err)
	return obj
}

func (w *world) array(desc string, elems ...*mirror.Object) *mirror.ObjectArray {
	w.t.Helper()
	arr, err := w.linker.AllocObjectArray(w.class(desc), int32(len(elems)))
	require.NoError(w.t, err)
	for i, e := range elems {
		require.NoError(w.t, arr.Set(int32(i), e))
	}
	return arr
}

// set stores a reference into a field found by name.
func (w *world) set(holder *mirror.Object, field string, ref *mirror.Object) {
	w.t.Helper()
	f := holder.GetClass().FindInstanceField(field)
	require.NotNil(w.t, f, field)
	holder.SetFieldObject(f.GetOffset(), ref)
}

func (w *world) setStatic(c *mirror.Class, field string, ref *mirror.Object) {
	w.t.Helper()
	f := c.FindStaticField(field)
	require.NotNil(w.t, f, field)
	c.AsObject().SetFieldObject(f.GetOffset(), ref)
}

func (w *world) get(holder *mirror.Object, field string) *mirror.Object {
	w.t.Helper()
	f := holder.GetClass().FindInstanceField(field)
	require.NotNil(w.t, f, field)
	return holder.GetFieldObject(f.GetOffset())
}

// newRef allocates a reference object of desc pointing at referent.
func (w *world) newRef(desc string, referent *mirror.Object) *mirror.Object {
	w.t.Helper()
	c := w.class(desc)
	ref := w.alloc(c)
	ref.SetFieldObject(c.ReferentOffset(), referent)
	return ref
}

func (w *world) scanner(cfg gc.Config, delayer gc.ReferenceDelayer) *gc.Scanner {
	return gc.NewScanner(w.linker.ClassClass(), w.heap, delayer, cfg)
}

// locked runs fn with both heap guards held shared.
func (w *world) locked(fn func()) {
	w.heap.Locks().SharedLockAll()
	defer w.heap.Locks().SharedUnlockAll()
	fn()
}

type visit struct {
	Holder *mirror.Object
	Ref    *mirror.Object
	Offset mirror.MemberOffset
	Static bool
}

type recorder struct {
	mu     sync.Mutex
	visits []visit
}

func (r *recorder) VisitReference(holder, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool) {
	r.mu.Lock()
	r.visits = append(r.visits, visit{holder, ref, offset, isStatic})
	r.mu.Unlock()
}

type delayRecorder struct {
	mu      sync.Mutex
	delayed []*mirror.Object
}

func (d *delayRecorder) DelayReferenceReferent(obj *mirror.Object) {
	d.mu.Lock()
	d.delayed = append(d.delayed, obj)
	d.mu.Unlock()
}

// catchInvariant runs fn and returns the *gc.InvariantError it panicked
// with, or nil.
func catchInvariant(fn func()) (err *gc.InvariantError) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(*gc.InvariantError)
			if err == nil {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}
