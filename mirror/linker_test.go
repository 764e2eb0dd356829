// ABOUTME: Tests for the class linker: bootstrap, field layout and allocation
// ABOUTME: Uses a real heap as the allocator

package mirror_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

func newLinker(t *testing.T, opts ...mirror.LinkerOption) *mirror.Linker {
	t.Helper()
	h, err := heap.New(heap.DefaultConfig())
	require.NoError(t, err)
	l, err := mirror.NewLinker(h, opts...)
	require.NoError(t, err)
	return l
}

func defineNode(t *testing.T, l *mirror.Linker) *mirror.Class {
	t.Helper()
	node, err := l.DefineClass(mirror.ClassDef{
		Descriptor: "LNode;",
		Fields: []mirror.FieldDef{
			{Name: "next", Type: "LNode;"},
			{Name: "value", Type: "I"},
			{Name: "label", Type: mirror.StringDescriptor},
		},
	})
	require.NoError(t, err)
	return node
}

func TestBootstrap(t *testing.T) {
	l := newLinker(t)

	classClass := l.ClassClass()
	assert.Same(t, classClass, classClass.GetClass(), "java.lang.Class is its own class")
	assert.Same(t, classClass, l.ObjectClass().GetClass())
	assert.Nil(t, l.ObjectClass().GetSuperClass())
	assert.Same(t, l.ObjectClass(), classClass.GetSuperClass())

	assert.Equal(t, uint32(32), classClass.ObjectSize())
	assert.Equal(t, 3, classClass.NumReferenceInstanceFields())
	assert.Equal(t, []mirror.MemberOffset{8, 12, 16},
		mirror.DecodeReferenceOffsets(classClass.GetReferenceInstanceOffsets()))

	assert.Zero(t, l.ObjectClass().NumReferenceInstanceFields())
	assert.Zero(t, l.ObjectClass().GetReferenceInstanceOffsets())

	for _, desc := range []string{"I", "[I", "[C", "[J", mirror.ObjectArrayDescriptor, mirror.StringDescriptor} {
		c, err := l.FindClass(desc)
		require.NoError(t, err, desc)
		assert.Same(t, classClass, c.GetClass(), desc)
	}
}

func TestClassNames(t *testing.T) {
	l := newLinker(t)
	node := defineNode(t, l)
	nameOff := l.ClassClass().FindInstanceField("name").GetOffset()

	for _, c := range []*mirror.Class{l.ClassClass(), l.ObjectClass(), node} {
		name, ok := l.StringValue(c.GetFieldObject(nameOff))
		require.True(t, ok, c.Descriptor())
		assert.Equal(t, c.PrettyName(), name)
	}
}

func TestInstanceLayout(t *testing.T) {
	l := newLinker(t)
	node := defineNode(t, l)

	next := node.FindInstanceField("next")
	label := node.FindInstanceField("label")
	value := node.FindInstanceField("value")
	require.NotNil(t, next)
	require.NotNil(t, label)
	require.NotNil(t, value)

	assert.Equal(t, mirror.MemberOffset(8), next.GetOffset())
	assert.Equal(t, mirror.MemberOffset(12), label.GetOffset())
	assert.Equal(t, mirror.MemberOffset(16), value.GetOffset())
	assert.Equal(t, uint32(20), node.ObjectSize())
	assert.Equal(t, 2, node.NumReferenceInstanceFields())
	assert.Equal(t, mirror.AllocBit(8)|mirror.AllocBit(12), node.GetReferenceInstanceOffsets())
	assert.Same(t, node, next.DeclaringClass())
	assert.False(t, value.IsReference())
}

func TestSubclassLayout(t *testing.T) {
	l := newLinker(t)
	node := defineNode(t, l)
	sub, err := l.DefineClass(mirror.ClassDef{
		Descriptor: "LLabeledNode;",
		Super:      "LNode;",
		Fields: []mirror.FieldDef{
			{Name: "stamp", Type: "J"},
			{Name: "extra", Type: mirror.ObjectDescriptor},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, mirror.MemberOffset(20), sub.FindInstanceField("extra").GetOffset())
	assert.Equal(t, mirror.MemberOffset(24), sub.FindInstanceField("stamp").GetOffset())
	assert.Equal(t, uint32(32), sub.ObjectSize())
	assert.Equal(t, []mirror.MemberOffset{8, 12, 20},
		mirror.DecodeReferenceOffsets(sub.GetReferenceInstanceOffsets()))
	assert.True(t, sub.IsSubClass(node))
	assert.False(t, node.IsSubClass(sub))
	assert.Same(t, node.FindInstanceField("next"), sub.FindInstanceField("next"))
}

func TestStaticLayout(t *testing.T) {
	l := newLinker(t)
	reg, err := l.DefineClass(mirror.ClassDef{
		Descriptor: "LRegistry;",
		Fields: []mirror.FieldDef{
			{Name: "count", Type: "I", Static: true},
			{Name: "instance", Type: "LRegistry;", Static: true},
			{Name: "size", Type: "I"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, reg.NumStaticFields())
	assert.Equal(t, 1, reg.NumReferenceStaticFields())
	assert.Equal(t, "instance", reg.GetStaticField(0).Name())
	assert.Equal(t, mirror.MemberOffset(32), reg.FindStaticField("instance").GetOffset())
	assert.Equal(t, mirror.AllocBit(32), reg.GetReferenceStaticOffsets())
	assert.Equal(t, uint32(40), reg.ClassSize())
	assert.Equal(t, uint32(40), reg.AsObject().SizeOf())
	assert.Nil(t, reg.FindStaticField("size"))
	assert.Zero(t, reg.NumReferenceInstanceFields())
}

func TestReferenceClasses(t *testing.T) {
	l := newLinker(t)

	ref, err := l.FindClass(mirror.ReferenceDescriptor)
	require.NoError(t, err)
	assert.Equal(t, mirror.MemberOffset(20), ref.ReferentOffset())
	assert.Equal(t, 3, ref.NumReferenceInstanceFields())
	assert.Equal(t, []mirror.MemberOffset{8, 12, 16},
		mirror.DecodeReferenceOffsets(ref.GetReferenceInstanceOffsets()))
	assert.False(t, ref.IsReferenceClass())

	kinds := map[string]mirror.ReferenceKind{
		mirror.SoftReferenceDescriptor:      mirror.SoftReference,
		mirror.WeakReferenceDescriptor:      mirror.WeakReference,
		mirror.FinalizerReferenceDescriptor: mirror.FinalizerReference,
		mirror.PhantomReferenceDescriptor:   mirror.PhantomReference,
	}
	for desc, kind := range kinds {
		c, err := l.FindClass(desc)
		require.NoError(t, err)
		assert.Equal(t, kind, c.ReferenceKind(), desc)
		assert.True(t, c.IsReferenceClass(), desc)
		assert.Equal(t, mirror.MemberOffset(20), c.ReferentOffset(), desc)
	}

	// User subclasses inherit the kind.
	cache, err := l.DefineClass(mirror.ClassDef{
		Descriptor: "LCacheRef;",
		Super:      mirror.WeakReferenceDescriptor,
		Fields:     []mirror.FieldDef{{Name: "key", Type: mirror.ObjectDescriptor}},
	})
	require.NoError(t, err)
	assert.Equal(t, mirror.WeakReference, cache.ReferenceKind())
	assert.Equal(t, mirror.MemberOffset(24), cache.FindInstanceField("key").GetOffset())
	assert.Equal(t, []mirror.MemberOffset{8, 12, 16, 24},
		mirror.DecodeReferenceOffsets(cache.GetReferenceInstanceOffsets()))
}

func TestUnencodableLayoutWalksSuper(t *testing.T) {
	l := newLinker(t)
	var fields []mirror.FieldDef
	for i := 0; i < 30; i++ {
		fields = append(fields, mirror.FieldDef{Name: fmt.Sprintf("f%d", i), Type: mirror.ObjectDescriptor})
	}
	wide, err := l.DefineClass(mirror.ClassDef{Descriptor: "LWide;", Fields: fields})
	require.NoError(t, err)
	assert.Equal(t, 30, wide.NumReferenceInstanceFields())
	assert.Equal(t, mirror.ClassWalkSuper, wide.GetReferenceInstanceOffsets())

	sub, err := l.DefineClass(mirror.ClassDef{Descriptor: "LWider;", Super: "LWide;"})
	require.NoError(t, err)
	assert.Equal(t, mirror.ClassWalkSuper, sub.GetReferenceInstanceOffsets())
}

func TestWithoutReferenceBitmaps(t *testing.T) {
	l := newLinker(t, mirror.WithoutReferenceBitmaps())
	node := defineNode(t, l)
	assert.Equal(t, mirror.ClassWalkSuper, node.GetReferenceInstanceOffsets())
	assert.Equal(t, mirror.ClassWalkSuper, node.GetReferenceStaticOffsets())
	assert.Equal(t, mirror.MemberOffset(8), node.FindInstanceField("next").GetOffset())
}

func TestArrayClasses(t *testing.T) {
	l := newLinker(t)
	defineNode(t, l)

	ints, err := l.FindClass("[I")
	require.NoError(t, err)
	assert.True(t, ints.IsArrayClass())
	assert.False(t, ints.IsObjectArrayClass())
	assert.Equal(t, uint32(4), ints.ComponentSize())
	assert.Equal(t, "int[]", ints.PrettyName())

	nodes, err := l.FindClass("[LNode;")
	require.NoError(t, err)
	assert.True(t, nodes.IsObjectArrayClass())
	assert.Equal(t, "LNode;", nodes.GetComponentType().Descriptor())

	again, err := l.FindClass("[LNode;")
	require.NoError(t, err)
	assert.Same(t, nodes, again)

	grid, err := l.FindClass("[[I")
	require.NoError(t, err)
	assert.True(t, grid.IsObjectArrayClass())
	assert.Same(t, ints, grid.GetComponentType())

	_, err = l.FindClass("[LMissing;")
	assert.ErrorIs(t, err, mirror.ErrClassNotFound)
}

func TestDefineClassErrors(t *testing.T) {
	l := newLinker(t)
	defineNode(t, l)

	_, err := l.DefineClass(mirror.ClassDef{Descriptor: "LNode;"})
	assert.ErrorIs(t, err, mirror.ErrDuplicateClass)

	_, err = l.DefineClass(mirror.ClassDef{Descriptor: "LOrphan;", Super: "LMissing;"})
	assert.ErrorIs(t, err, mirror.ErrClassNotFound)

	_, err = l.DefineClass(mirror.ClassDef{Descriptor: "Node"})
	assert.ErrorIs(t, err, mirror.ErrBadDescriptor)

	_, err = l.DefineClass(mirror.ClassDef{
		Descriptor: "LBad;",
		Fields:     []mirror.FieldDef{{Name: "x", Type: "Q"}},
	})
	assert.ErrorIs(t, err, mirror.ErrBadDescriptor)

	_, err = l.DefineClass(mirror.ClassDef{Descriptor: "LIntArr;", Super: "[I"})
	assert.Error(t, err)
}

func TestAllocation(t *testing.T) {
	l := newLinker(t)
	node := defineNode(t, l)

	n1, err := l.AllocObject(node)
	require.NoError(t, err)
	assert.Same(t, node, n1.GetClass())
	assert.Equal(t, uint32(20), n1.SizeOf())
	assert.Zero(t, n1.Address()%mirror.ObjectAlignment)
	assert.False(t, n1.IsClass())
	assert.False(t, n1.IsArrayInstance())

	n1.SetField32(node.FindInstanceField("value").GetOffset(), 7)
	assert.Equal(t, uint32(7), n1.GetField32(16))

	_, err = l.AllocObject(l.ClassClass())
	assert.ErrorIs(t, err, mirror.ErrNotInstantiable)

	ints, err := l.FindClass("[I")
	require.NoError(t, err)
	_, err = l.AllocObject(ints)
	assert.ErrorIs(t, err, mirror.ErrNotInstantiable)
	_, err = l.AllocObjectArray(ints, 2)
	assert.ErrorIs(t, err, mirror.ErrNotInstantiable)
	_, err = l.AllocArray(ints, -1)
	assert.ErrorIs(t, err, mirror.ErrIndexOutOfBounds)

	longs, err := l.FindClass("[J")
	require.NoError(t, err)
	arr, err := l.AllocArray(longs, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(16+3*8), arr.SizeOf())
	assert.Equal(t, int32(3), arr.AsArray().Length())
}

func TestObjectArray(t *testing.T) {
	l := newLinker(t)
	node := defineNode(t, l)
	nodes, err := l.FindClass("[LNode;")
	require.NoError(t, err)

	arr, err := l.AllocObjectArray(nodes, 3)
	require.NoError(t, err)
	obj := arr.AsObject()
	assert.True(t, obj.IsArrayInstance())
	assert.True(t, obj.IsObjectArray())
	assert.Equal(t, int32(3), arr.Length())
	assert.Equal(t, uint32(12+3*4), obj.SizeOf())

	n, err := l.AllocObject(node)
	require.NoError(t, err)
	require.NoError(t, arr.Set(2, n))

	got, err := arr.Get(2)
	require.NoError(t, err)
	assert.Same(t, n, got)
	assert.Same(t, n, obj.GetFieldObject(mirror.ElementOffset(2)))
	assert.Nil(t, arr.GetWithoutChecks(0))

	assert.ErrorIs(t, arr.Set(3, n), mirror.ErrIndexOutOfBounds)
	_, err = arr.Get(-1)
	assert.ErrorIs(t, err, mirror.ErrIndexOutOfBounds)
}

func TestAllocArrayTooLarge(t *testing.T) {
	l := newLinker(t)

	longs, err := l.FindClass("[J")
	require.NoError(t, err)
	_, err = l.AllocArray(longs, 1<<29)
	assert.ErrorIs(t, err, mirror.ErrIndexOutOfBounds)

	_, err = l.AllocObjectArray(l.ObjectArrayClass(), 1<<30)
	assert.ErrorIs(t, err, mirror.ErrIndexOutOfBounds)

	// Fits in 32 bits but not in the heap.
	_, err = l.AllocObjectArray(l.ObjectArrayClass(), 1<<28)
	assert.ErrorIs(t, err, heap.ErrOutOfMemory)
}

func TestStrings(t *testing.T) {
	l := newLinker(t)

	for _, s := range []string{"", "x", "héllo", "snow ☃ man", "𝄞"} {
		obj, err := l.NewString(s)
		require.NoError(t, err)
		assert.Same(t, l.StringClass(), obj.GetClass())
		got, ok := l.StringValue(obj)
		require.True(t, ok)
		assert.Equal(t, s, got)
	}

	_, ok := l.StringValue(l.ObjectClass().AsObject())
	assert.False(t, ok)
	_, ok = l.StringValue(nil)
	assert.False(t, ok)
}

func TestField64(t *testing.T) {
	l := newLinker(t)
	c, err := l.DefineClass(mirror.ClassDef{
		Descriptor: "LStamp;",
		Fields:     []mirror.FieldDef{{Name: "when", Type: "J"}},
	})
	require.NoError(t, err)
	obj, err := l.AllocObject(c)
	require.NoError(t, err)

	off := c.FindInstanceField("when").GetOffset()
	obj.SetField64(off, 0x1122334455667788)
	assert.Equal(t, uint64(0x1122334455667788), obj.GetField64(off))
	assert.Equal(t, uint32(0x55667788), obj.GetField32(off))
}

func TestPrettyDescriptor(t *testing.T) {
	tests := map[string]string{
		"I":                    "int",
		"[I":                   "int[]",
		"[[Z":                  "boolean[][]",
		"Ljava/lang/String;":   "java.lang.String",
		"[Ljava/lang/Object;":  "java.lang.Object[]",
		"Lcom/example/Node;":   "com.example.Node",
		"[[Lcom/example/Node;": "com.example.Node[][]",
	}
	for desc, want := range tests {
		assert.Equal(t, want, mirror.PrettyDescriptor(desc), desc)
	}
}

func TestValidDescriptor(t *testing.T) {
	for _, d := range []string{"I", "J", "[I", "[[D", "LNode;", "Ljava/lang/Object;", "[LNode;"} {
		assert.True(t, mirror.ValidDescriptor(d), d)
	}
	for _, d := range []string{"", "Q", "II", "L;", "LNode", "[", "Node", "LA;B;"} {
		assert.False(t, mirror.ValidDescriptor(d), d)
	}
}
