// ABOUTME: Class linker that bootstraps core classes and defines new ones
// ABOUTME: Lays out fields and computes the reference-offset bitmaps used by the collector

package mirror

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"unicode/utf16"
)

var (
	// ErrClassNotFound is returned when a descriptor has not been defined
	ErrClassNotFound = errors.New("class not found")

	// ErrDuplicateClass is returned when a descriptor is defined twice
	ErrDuplicateClass = errors.New("class already defined")

	// ErrBadDescriptor is returned for malformed type descriptors
	ErrBadDescriptor = errors.New("bad descriptor")

	// ErrNotInstantiable is returned when allocating an instance of an
	// array or primitive class through the wrong call
	ErrNotInstantiable = errors.New("class is not instantiable this way")

	// ErrIndexOutOfBounds is returned for array accesses past the length
	ErrIndexOutOfBounds = errors.New("array index out of bounds")
)

// Allocator reserves heap memory for new objects. construct receives the
// address and returns the object to record at it.
type Allocator interface {
	Allocate(byteCount uint32, construct func(addr uintptr) *Object) (*Object, error)
}

// ClassDef describes a class to define.
type ClassDef struct {
	Descriptor string
	Super      string // defaults to java.lang.Object
	Fields     []FieldDef
}

// FieldDef describes one declared field.
type FieldDef struct {
	Name   string
	Type   string
	Static bool
}

// LinkerOption configures a Linker.
type LinkerOption func(*Linker)

// WithoutReferenceBitmaps makes every class use ClassWalkSuper, so the
// collector always takes the field-table walk.
func WithoutReferenceBitmaps() LinkerOption {
	return func(l *Linker) { l.noBitmaps = true }
}

// Linker owns every class of a heap.
type Linker struct {
	alloc     Allocator
	noBitmaps bool

	mu      sync.RWMutex
	classes map[string]*Class
	order   []*Class

	classClass       *Class
	objectClass      *Class
	stringClass      *Class
	charArrayClass   *Class
	objectArrayClass *Class
	referenceClass   *Class

	classNameOffset    MemberOffset
	classSuperOffset   MemberOffset
	classCompOffset    MemberOffset
	classObjSizeOffset MemberOffset
	stringValueOffset  MemberOffset
	stringCountOffset  MemberOffset
}

// Instance fields of java.lang.Class objects.
var classFields = []FieldDef{
	{Name: "componentType", Type: ClassDescriptor},
	{Name: "name", Type: StringDescriptor},
	{Name: "superClass", Type: ClassDescriptor},
	{Name: "accessFlags", Type: "I"},
	{Name: "objectSize", Type: "I"},
	{Name: "status", Type: "I"},
}

var stringFields = []FieldDef{
	{Name: "value", Type: CharArrayDescriptor},
	{Name: "count", Type: "I"},
	{Name: "hashCode", Type: "I"},
}

var referenceFields = []FieldDef{
	{Name: "queue", Type: ObjectDescriptor},
	{Name: "queueNext", Type: ReferenceDescriptor},
	{Name: "pendingNext", Type: ReferenceDescriptor},
	{Name: "referent", Type: ObjectDescriptor},
}

// NewLinker bootstraps the core classes into alloc.
func NewLinker(alloc Allocator, opts ...LinkerOption) (*Linker, error) {
	l := &Linker{
		alloc:   alloc,
		classes: make(map[string]*Class),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return l, nil
}

func (l *Linker) bootstrap() error {
	object := &Class{descriptor: ObjectDescriptor}
	if err := l.linkInstanceFields(object, nil); err != nil {
		return err
	}
	class := &Class{descriptor: ClassDescriptor, super: object}
	if err := l.linkInstanceFields(class, classFields); err != nil {
		return err
	}
	l.classClass = class
	l.objectClass = object
	for _, c := range []*Class{class, object} {
		if err := l.linkStaticFields(c, nil); err != nil {
			return err
		}
		if err := l.install(c); err != nil {
			return err
		}
	}
	l.classNameOffset = class.FindInstanceField("name").offset
	l.classSuperOffset = class.FindInstanceField("superClass").offset
	l.classCompOffset = class.FindInstanceField("componentType").offset
	l.classObjSizeOffset = class.FindInstanceField("objectSize").offset

	for i := 0; i < len(primitiveDescriptors); i++ {
		p := &Class{descriptor: primitiveDescriptors[i : i+1], primitive: true}
		if err := l.link(p, nil); err != nil {
			return err
		}
		if err := l.install(p); err != nil {
			return err
		}
		if _, err := l.arrayClass(p); err != nil {
			return err
		}
	}
	l.charArrayClass = l.classes[CharArrayDescriptor]

	var err error
	if l.objectArrayClass, err = l.arrayClass(object); err != nil {
		return err
	}
	if _, err = l.arrayClass(class); err != nil {
		return err
	}
	if l.stringClass, err = l.define(ClassDef{Descriptor: StringDescriptor, Fields: stringFields}); err != nil {
		return err
	}
	l.stringValueOffset = l.stringClass.FindInstanceField("value").offset
	l.stringCountOffset = l.stringClass.FindInstanceField("count").offset

	if l.referenceClass, err = l.define(ClassDef{Descriptor: ReferenceDescriptor, Fields: referenceFields}); err != nil {
		return err
	}
	for _, r := range []struct {
		desc string
		kind ReferenceKind
	}{
		{SoftReferenceDescriptor, SoftReference},
		{WeakReferenceDescriptor, WeakReference},
		{FinalizerReferenceDescriptor, FinalizerReference},
		{PhantomReferenceDescriptor, PhantomReference},
	} {
		c, err := l.define(ClassDef{Descriptor: r.desc, Super: ReferenceDescriptor})
		if err != nil {
			return err
		}
		c.refKind = r.kind
	}

	// Class names need java.lang.String, which did not exist until now.
	for _, c := range l.order {
		if c.GetFieldObject(l.classNameOffset) == nil {
			if err := l.writeName(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// link lays out both field tables of c.
func (l *Linker) link(c *Class, defs []FieldDef) error {
	var inst, stat []FieldDef
	for _, d := range defs {
		if d.Static {
			stat = append(stat, d)
		} else {
			inst = append(inst, d)
		}
	}
	if err := l.linkInstanceFields(c, inst); err != nil {
		return err
	}
	return l.linkStaticFields(c, stat)
}

func (l *Linker) linkInstanceFields(c *Class, defs []FieldDef) error {
	start := uint32(ObjectHeaderSize)
	base := uint32(0)
	if c.super != nil {
		start = c.super.objectSize
		base = c.super.refInstanceOffsets
		c.refKind = c.super.refKind
		c.referentOffset = c.super.referentOffset
	}
	if c.primitive {
		start = 0
	}
	fields, end, err := layoutFields(c, defs, start, false)
	if err != nil {
		return err
	}
	c.ifields = fields
	c.objectSize = end
	c.numRefInstance = countReferences(fields)

	// The referent of java.lang.ref.Reference is laid out as the last
	// reference field but hidden from the collector's reference count.
	if c.descriptor == ReferenceDescriptor {
		idx := -1
		for i := 0; i < c.numRefInstance; i++ {
			if fields[i].name == "referent" {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%s: missing referent field", c.descriptor)
		}
		last := c.numRefInstance - 1
		f := fields[idx]
		copy(fields[idx:last], fields[idx+1:last+1])
		fields[last] = f
		relayoutReferences(fields[:last+1], start)
		c.referentOffset = fields[last].offset
		c.numRefInstance--
	}

	offsets := make([]MemberOffset, c.numRefInstance)
	for i := range offsets {
		offsets[i] = fields[i].offset
	}
	c.refInstanceOffsets = EncodeReferenceOffsets(base, offsets)
	if l.noBitmaps {
		c.refInstanceOffsets = ClassWalkSuper
	}
	return nil
}

func (l *Linker) linkStaticFields(c *Class, defs []FieldDef) error {
	fields, end, err := layoutFields(c, defs, l.classClass.objectSize, true)
	if err != nil {
		return err
	}
	c.sfields = fields
	c.classSize = end
	c.numRefStatic = countReferences(fields)
	offsets := make([]MemberOffset, c.numRefStatic)
	for i := range offsets {
		offsets[i] = fields[i].offset
	}
	c.refStaticOffsets = EncodeReferenceOffsets(0, offsets)
	if l.noBitmaps {
		c.refStaticOffsets = ClassWalkSuper
	}
	return nil
}

// layoutFields orders references first in declaration order, then 64-bit
// primitives, then 32-bit ones, and assigns offsets from start.
func layoutFields(c *Class, defs []FieldDef, start uint32, static bool) ([]*Field, uint32, error) {
	seen := make(map[string]bool, len(defs))
	fields := make([]*Field, 0, len(defs))
	for _, d := range defs {
		if !ValidDescriptor(d.Type) {
			return nil, 0, fmt.Errorf("%w: field %s.%s has type %q", ErrBadDescriptor, c.descriptor, d.Name, d.Type)
		}
		if seen[d.Name] {
			return nil, 0, fmt.Errorf("%s: duplicate field %s", c.descriptor, d.Name)
		}
		seen[d.Name] = true
		fields = append(fields, &Field{name: d.Name, typ: d.Type, static: static, declaring: c})
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fieldRank(fields[i]) < fieldRank(fields[j])
	})
	off := start
	for _, f := range fields {
		size := f.Size()
		off = roundUp(off, size)
		f.offset = MemberOffset(off)
		off += size
	}
	return fields, off, nil
}

func relayoutReferences(refs []*Field, start uint32) {
	for i, f := range refs {
		f.offset = MemberOffset(start + uint32(i)*ReferenceSize)
	}
}

func fieldRank(f *Field) int {
	switch {
	case f.IsReference():
		return 0
	case f.Size() == 8:
		return 1
	}
	return 2
}

func countReferences(fields []*Field) int {
	n := 0
	for _, f := range fields {
		if f.IsReference() {
			n++
		}
	}
	return n
}

// install allocates the class object and registers the class.
func (l *Linker) install(c *Class) error {
	if _, ok := l.classes[c.descriptor]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, c.descriptor)
	}
	_, err := l.alloc.Allocate(c.classSize, func(addr uintptr) *Object {
		c.Object.init(addr, c.classSize, l.classClass)
		c.Object.self = c
		return &c.Object
	})
	if err != nil {
		return fmt.Errorf("allocate class %s: %w", c.descriptor, err)
	}
	if c.super != nil {
		c.SetFieldObject(l.classSuperOffset, &c.super.Object)
	}
	if c.componentType != nil {
		c.SetFieldObject(l.classCompOffset, &c.componentType.Object)
	}
	c.SetField32(l.classObjSizeOffset, c.objectSize)
	l.classes[c.descriptor] = c
	l.order = append(l.order, c)
	if l.stringClass != nil {
		return l.writeName(c)
	}
	return nil
}

func (l *Linker) writeName(c *Class) error {
	name, err := l.newString(c.PrettyName())
	if err != nil {
		return err
	}
	c.SetFieldObject(l.classNameOffset, name)
	return nil
}

// DefineClass links and installs a new class.
func (l *Linker) DefineClass(def ClassDef) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.define(def)
}

func (l *Linker) define(def ClassDef) (*Class, error) {
	if !ValidDescriptor(def.Descriptor) || def.Descriptor[0] != 'L' {
		return nil, fmt.Errorf("%w: %q", ErrBadDescriptor, def.Descriptor)
	}
	if _, ok := l.classes[def.Descriptor]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, def.Descriptor)
	}
	superDesc := def.Super
	if superDesc == "" {
		superDesc = ObjectDescriptor
	}
	super, ok := l.classes[superDesc]
	if !ok {
		return nil, fmt.Errorf("%w: %s (super of %s)", ErrClassNotFound, superDesc, def.Descriptor)
	}
	if super.IsArrayClass() || super.primitive || super == l.classClass {
		return nil, fmt.Errorf("%s: cannot extend %s", def.Descriptor, superDesc)
	}
	c := &Class{descriptor: def.Descriptor, super: super}
	if err := l.link(c, def.Fields); err != nil {
		return nil, err
	}
	if err := l.install(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ArrayClass returns the array class whose elements are component, creating
// it on first use.
func (l *Linker) ArrayClass(component *Class) (*Class, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.arrayClass(component)
}

func (l *Linker) arrayClass(component *Class) (*Class, error) {
	desc := "[" + component.descriptor
	if c, ok := l.classes[desc]; ok {
		return c, nil
	}
	c := &Class{
		descriptor:    desc,
		super:         l.objectClass,
		componentType: component,
		componentSize: ReferenceSize,
	}
	if component.primitive {
		c.componentSize = componentSize(component.descriptor)
	}
	if err := l.link(c, nil); err != nil {
		return nil, err
	}
	if err := l.install(c); err != nil {
		return nil, err
	}
	return c, nil
}

// FindClass looks up a class by descriptor. Array classes of known
// components are created on demand.
func (l *Linker) FindClass(desc string) (*Class, error) {
	l.mu.RLock()
	c, ok := l.classes[desc]
	l.mu.RUnlock()
	if ok {
		return c, nil
	}
	if !ValidDescriptor(desc) {
		return nil, fmt.Errorf("%w: %q", ErrBadDescriptor, desc)
	}
	if desc[0] == '[' {
		comp, err := l.FindClass(desc[1:])
		if err != nil {
			return nil, err
		}
		return l.ArrayClass(comp)
	}
	return nil, fmt.Errorf("%w: %s", ErrClassNotFound, desc)
}

// ClassClass returns java.lang.Class, the class of every class.
func (l *Linker) ClassClass() *Class { return l.classClass }

// ObjectClass returns java.lang.Object.
func (l *Linker) ObjectClass() *Class { return l.objectClass }

// StringClass returns java.lang.String.
func (l *Linker) StringClass() *Class { return l.stringClass }

// ObjectArrayClass returns java.lang.Object[].
func (l *Linker) ObjectArrayClass() *Class { return l.objectArrayClass }

// Classes returns every class in definition order.
func (l *Linker) Classes() []*Class {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Class, len(l.order))
	copy(out, l.order)
	return out
}

// VisitRoots reports every class object. Classes are never unloaded.
func (l *Linker) VisitRoots(fn func(root *Object)) {
	for _, c := range l.Classes() {
		fn(&c.Object)
	}
}

// AllocObject allocates an ordinary instance of klass.
func (l *Linker) AllocObject(klass *Class) (*Object, error) {
	if klass.IsArrayClass() || klass.primitive || klass == l.classClass {
		return nil, fmt.Errorf("%w: %s", ErrNotInstantiable, klass.descriptor)
	}
	size := klass.objectSize
	return l.alloc.Allocate(size, func(addr uintptr) *Object {
		o := &Object{}
		o.init(addr, size, klass)
		return o
	})
}

// AllocArray allocates an array of klass with length elements.
func (l *Linker) AllocArray(klass *Class, length int32) (*Object, error) {
	if !klass.IsArrayClass() {
		return nil, fmt.Errorf("%w: %s is not an array class", ErrNotInstantiable, klass.descriptor)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrIndexOutOfBounds, length)
	}
	total := uint64(DataOffset(klass.componentSize)) + uint64(klass.componentSize)*uint64(length)
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %s of length %d needs %d bytes", ErrIndexOutOfBounds, klass.descriptor, length, total)
	}
	size := uint32(total)
	return l.alloc.Allocate(size, func(addr uintptr) *Object {
		o := &Object{}
		o.init(addr, size, klass)
		o.SetField32(ArrayLengthOffset, uint32(length))
		return o
	})
}

// AllocObjectArray allocates a reference array of klass.
func (l *Linker) AllocObjectArray(klass *Class, length int32) (*ObjectArray, error) {
	if !klass.IsObjectArrayClass() {
		return nil, fmt.Errorf("%w: %s is not a reference array class", ErrNotInstantiable, klass.descriptor)
	}
	o, err := l.AllocArray(klass, length)
	if err != nil {
		return nil, err
	}
	return o.AsObjectArray(), nil
}

// NewString allocates a java.lang.String holding s.
func (l *Linker) NewString(s string) (*Object, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.newString(s)
}

func (l *Linker) newString(s string) (*Object, error) {
	chars := utf16.Encode([]rune(s))
	value, err := l.AllocArray(l.charArrayClass, int32(len(chars)))
	if err != nil {
		return nil, err
	}
	for i, ch := range chars {
		value.AsArray().setChar(int32(i), ch)
	}
	str, err := l.AllocObject(l.stringClass)
	if err != nil {
		return nil, err
	}
	str.SetFieldObject(l.stringValueOffset, value)
	str.SetField32(l.stringCountOffset, uint32(len(chars)))
	return str, nil
}

// StringValue decodes a java.lang.String. ok is false for other objects.
func (l *Linker) StringValue(obj *Object) (s string, ok bool) {
	if obj == nil || obj.GetClass() != l.stringClass {
		return "", false
	}
	value := obj.GetFieldObject(l.stringValueOffset)
	if value == nil {
		return "", true
	}
	arr := value.AsArray()
	chars := make([]uint16, arr.Length())
	for i := range chars {
		chars[i] = arr.getChar(int32(i))
	}
	return string(utf16.Decode(chars)), true
}

func (a *Array) setChar(i int32, ch uint16) {
	off := uint32(DataOffset(2)) + 2*uint32(i)
	w := &a.words[off/ReferenceSize]
	shift := (off % ReferenceSize) * 8
	*w = *w&^(0xffff<<shift) | uint32(ch)<<shift
}

func (a *Array) getChar(i int32) uint16 {
	off := uint32(DataOffset(2)) + 2*uint32(i)
	return uint16(a.words[off/ReferenceSize] >> ((off % ReferenceSize) * 8))
}
