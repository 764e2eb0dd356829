// ABOUTME: Class descriptors, which are heap objects themselves
// ABOUTME: Holds field tables, classification flags and reference-offset bitmaps

package mirror

import "strings"

// ReferenceKind classifies the reference classes whose referent is handled
// outside the main trace.
type ReferenceKind int

const (
	NotReference ReferenceKind = iota
	SoftReference
	WeakReference
	FinalizerReference
	PhantomReference
)

func (k ReferenceKind) String() string {
	switch k {
	case SoftReference:
		return "soft"
	case WeakReference:
		return "weak"
	case FinalizerReference:
		return "finalizer"
	case PhantomReference:
		return "phantom"
	default:
		return "none"
	}
}

// Class describes the layout of its instances. Every Class is also an Object
// whose class is the meta-class java.lang.Class; its static fields are stored
// in its own object after java.lang.Class's instance fields.
type Class struct {
	Object

	descriptor    string
	super         *Class
	componentType *Class
	primitive     bool
	componentSize uint32

	objectSize uint32
	classSize  uint32

	refKind        ReferenceKind
	referentOffset MemberOffset

	// Reference fields come first in both tables.
	ifields            []*Field
	sfields            []*Field
	numRefInstance     int
	numRefStatic       int
	refInstanceOffsets uint32
	refStaticOffsets   uint32
}

// AsObject returns the class as a heap object.
func (c *Class) AsObject() *Object { return &c.Object }

// Descriptor returns the type descriptor, e.g. "Ljava/lang/String;".
func (c *Class) Descriptor() string { return c.descriptor }

// PrettyName returns the dotted class name.
func (c *Class) PrettyName() string { return PrettyDescriptor(c.descriptor) }

// GetSuperClass returns the parent class, or nil for the root.
func (c *Class) GetSuperClass() *Class { return c.super }

// GetComponentType returns the element class of an array class.
func (c *Class) GetComponentType() *Class { return c.componentType }

// IsArrayClass reports whether instances are arrays.
func (c *Class) IsArrayClass() bool { return c.componentType != nil }

// IsObjectArrayClass reports whether instances are arrays of references.
func (c *Class) IsObjectArrayClass() bool {
	return c.componentType != nil && !c.componentType.primitive
}

// IsPrimitive reports whether this is a primitive type like int.
func (c *Class) IsPrimitive() bool { return c.primitive }

// IsReferenceClass reports whether instances are soft, weak, finalizer or
// phantom references.
func (c *Class) IsReferenceClass() bool { return c.refKind != NotReference }

// ReferenceKind returns which reference family this class belongs to.
func (c *Class) ReferenceKind() ReferenceKind { return c.refKind }

// ReferentOffset returns the offset of the referent field of a reference
// class. The referent is not counted as a reference field.
func (c *Class) ReferentOffset() MemberOffset { return c.referentOffset }

// ObjectSize returns the size of an instance in bytes.
func (c *Class) ObjectSize() uint32 { return c.objectSize }

// ClassSize returns the size of this class's own object in bytes.
func (c *Class) ClassSize() uint32 { return c.classSize }

// ComponentSize returns the element width of an array class.
func (c *Class) ComponentSize() uint32 { return c.componentSize }

// GetReferenceInstanceOffsets returns the instance reference bitmap.
func (c *Class) GetReferenceInstanceOffsets() uint32 { return c.refInstanceOffsets }

// GetReferenceStaticOffsets returns the static reference bitmap.
func (c *Class) GetReferenceStaticOffsets() uint32 { return c.refStaticOffsets }

// NumReferenceInstanceFields returns the number of reference instance fields
// declared by this class alone.
func (c *Class) NumReferenceInstanceFields() int { return c.numRefInstance }

// NumReferenceStaticFields returns the number of reference static fields.
func (c *Class) NumReferenceStaticFields() int { return c.numRefStatic }

// NumInstanceFields returns the number of instance fields declared here.
func (c *Class) NumInstanceFields() int { return len(c.ifields) }

// NumStaticFields returns the number of static fields declared here.
func (c *Class) NumStaticFields() int { return len(c.sfields) }

// GetInstanceField returns the i-th declared instance field.
func (c *Class) GetInstanceField(i int) *Field { return c.ifields[i] }

// GetStaticField returns the i-th declared static field.
func (c *Class) GetStaticField(i int) *Field { return c.sfields[i] }

// FindInstanceField searches this class and its ancestors.
func (c *Class) FindInstanceField(name string) *Field {
	for k := c; k != nil; k = k.super {
		for _, f := range k.ifields {
			if f.name == name {
				return f
			}
		}
	}
	return nil
}

// FindStaticField searches this class only.
func (c *Class) FindStaticField(name string) *Field {
	for _, f := range c.sfields {
		if f.name == name {
			return f
		}
	}
	return nil
}

// IsSubClass reports whether c is other or descends from it.
func (c *Class) IsSubClass(other *Class) bool {
	for k := c; k != nil; k = k.super {
		if k == other {
			return true
		}
	}
	return false
}

func (c *Class) String() string { return c.descriptor }

// PrettyDescriptor turns "Ljava/lang/String;" into "java.lang.String" and
// "[I" into "int[]".
func PrettyDescriptor(desc string) string {
	dims := 0
	for strings.HasPrefix(desc, "[") {
		dims++
		desc = desc[1:]
	}
	name := desc
	if len(desc) == 1 {
		if p, ok := primitiveNames[desc[0]]; ok {
			name = p
		}
	} else if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		name = strings.ReplaceAll(desc[1:len(desc)-1], "/", ".")
	}
	return name + strings.Repeat("[]", dims)
}

// Field is one declared field of a class.
type Field struct {
	name      string
	typ       string
	offset    MemberOffset
	static    bool
	declaring *Class
}

// Name returns the field name.
func (f *Field) Name() string { return f.name }

// Type returns the field's type descriptor.
func (f *Field) Type() string { return f.typ }

// GetOffset returns the byte offset of the field inside its holder.
func (f *Field) GetOffset() MemberOffset { return f.offset }

// IsStatic reports whether the field lives in the class object.
func (f *Field) IsStatic() bool { return f.static }

// IsReference reports whether the field holds a reference.
func (f *Field) IsReference() bool { return isReferenceDescriptor(f.typ) }

// DeclaringClass returns the class that declares the field.
func (f *Field) DeclaringClass() *Class { return f.declaring }

// Size returns the storage width of the field in bytes.
func (f *Field) Size() uint32 { return fieldSize(f.typ) }
