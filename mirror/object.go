// ABOUTME: Heap-resident objects and arrays of the managed heap
// ABOUTME: Field storage is addressed by member offset, one slot per 4 bytes

package mirror

import "fmt"

// Object is an instance on the managed heap. Slot i covers bytes
// [4*i, 4*i+4). A slot holds either a reference or primitive data depending
// on the layout of the object's class; both views share the same index.
type Object struct {
	addr  uintptr
	size  uint32
	refs  []*Object
	words []uint32

	// self is set when this object is a Class.
	self *Class
}

func (o *Object) init(addr uintptr, size uint32, klass *Class) {
	slots := (size + ReferenceSize - 1) / ReferenceSize
	o.addr = addr
	o.size = size
	o.refs = make([]*Object, slots)
	o.words = make([]uint32, slots)
	if klass != nil {
		o.refs[0] = &klass.Object
	}
}

// Address returns the heap address of the object.
func (o *Object) Address() uintptr { return o.addr }

// SizeOf returns the allocated size of the object in bytes.
func (o *Object) SizeOf() uint32 { return o.size }

// GetClass returns the class stored in the object's class slot.
func (o *Object) GetClass() *Class {
	k := o.refs[0]
	if k == nil {
		return nil
	}
	return k.self
}

// GetFieldObject reads the reference stored at offset.
func (o *Object) GetFieldObject(offset MemberOffset) *Object {
	return o.refs[offset/ReferenceSize]
}

// SetFieldObject stores a reference at offset.
func (o *Object) SetFieldObject(offset MemberOffset, ref *Object) {
	o.refs[offset/ReferenceSize] = ref
}

// GetField32 reads 32 bits of primitive data at offset.
func (o *Object) GetField32(offset MemberOffset) uint32 {
	return o.words[offset/ReferenceSize]
}

// SetField32 writes 32 bits of primitive data at offset.
func (o *Object) SetField32(offset MemberOffset, v uint32) {
	o.words[offset/ReferenceSize] = v
}

// GetField64 reads 64 bits of primitive data at offset, low word first.
func (o *Object) GetField64(offset MemberOffset) uint64 {
	i := offset / ReferenceSize
	return uint64(o.words[i]) | uint64(o.words[i+1])<<32
}

// SetField64 writes 64 bits of primitive data at offset, low word first.
func (o *Object) SetField64(offset MemberOffset, v uint64) {
	i := offset / ReferenceSize
	o.words[i] = uint32(v)
	o.words[i+1] = uint32(v >> 32)
}

// IsClass reports whether the object is itself a class.
func (o *Object) IsClass() bool { return o.self != nil }

// AsClass returns the class this object is, or nil.
func (o *Object) AsClass() *Class { return o.self }

// IsArrayInstance reports whether the object is an array.
func (o *Object) IsArrayInstance() bool {
	k := o.GetClass()
	return k != nil && k.IsArrayClass()
}

// IsObjectArray reports whether the object is an array of references.
func (o *Object) IsObjectArray() bool {
	k := o.GetClass()
	return k != nil && k.IsObjectArrayClass()
}

// AsArray views the object as an array. The caller must know it is one.
func (o *Object) AsArray() *Array { return (*Array)(o) }

// AsObjectArray views the object as a reference array. The caller must know
// it is one.
func (o *Object) AsObjectArray() *ObjectArray { return (*ObjectArray)(o) }

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	if o.self != nil {
		return fmt.Sprintf("%#x (class %s)", o.addr, o.self.descriptor)
	}
	if k := o.GetClass(); k != nil {
		return fmt.Sprintf("%#x (%s)", o.addr, k.descriptor)
	}
	return fmt.Sprintf("%#x", o.addr)
}

// Array is any array instance.
type Array Object

// AsObject returns the array as a plain object.
func (a *Array) AsObject() *Object { return (*Object)(a) }

// Length returns the number of elements.
func (a *Array) Length() int32 {
	return int32(a.AsObject().GetField32(ArrayLengthOffset))
}

// ObjectArray is an array whose elements are references.
type ObjectArray Object

// AsObject returns the array as a plain object.
func (a *ObjectArray) AsObject() *Object { return (*Object)(a) }

// Length returns the number of elements.
func (a *ObjectArray) Length() int32 {
	return (*Array)(a).Length()
}

// ElementOffset returns the offset of element i.
func ElementOffset(i int32) MemberOffset {
	return MemberOffset(uint32(i)*ReferenceSize) + DataOffset(ReferenceSize)
}

// Get returns element i, or an error when i is out of range.
func (a *ObjectArray) Get(i int32) (*Object, error) {
	if i < 0 || i >= a.Length() {
		return nil, fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfBounds, i, a.Length())
	}
	return a.GetWithoutChecks(i), nil
}

// GetWithoutChecks returns element i trusting the array's length.
func (a *ObjectArray) GetWithoutChecks(i int32) *Object {
	return a.AsObject().GetFieldObject(ElementOffset(i))
}

// Set stores ref at element i.
func (a *ObjectArray) Set(i int32, ref *Object) error {
	if i < 0 || i >= a.Length() {
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfBounds, i, a.Length())
	}
	a.AsObject().SetFieldObject(ElementOffset(i), ref)
	return nil
}
