// ABOUTME: Type descriptor helpers for classes and fields
// ABOUTME: Validates descriptors and maps them to storage widths

package mirror

import "strings"

// Well-known descriptors.
const (
	ObjectDescriptor             = "Ljava/lang/Object;"
	ClassDescriptor              = "Ljava/lang/Class;"
	StringDescriptor             = "Ljava/lang/String;"
	ReferenceDescriptor          = "Ljava/lang/ref/Reference;"
	SoftReferenceDescriptor      = "Ljava/lang/ref/SoftReference;"
	WeakReferenceDescriptor      = "Ljava/lang/ref/WeakReference;"
	FinalizerReferenceDescriptor = "Ljava/lang/ref/FinalizerReference;"
	PhantomReferenceDescriptor   = "Ljava/lang/ref/PhantomReference;"
	ObjectArrayDescriptor        = "[Ljava/lang/Object;"
	CharArrayDescriptor          = "[C"
)

const primitiveDescriptors = "ZBCSIJFD"

var primitiveNames = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

func isPrimitiveDescriptor(desc string) bool {
	return len(desc) == 1 && strings.Contains(primitiveDescriptors, desc)
}

func isReferenceDescriptor(desc string) bool {
	return strings.HasPrefix(desc, "L") || strings.HasPrefix(desc, "[")
}

// ValidDescriptor reports whether desc names a primitive, class or array type.
func ValidDescriptor(desc string) bool {
	switch {
	case isPrimitiveDescriptor(desc):
		return true
	case strings.HasPrefix(desc, "["):
		return ValidDescriptor(desc[1:])
	case strings.HasPrefix(desc, "L"):
		return len(desc) > 2 && strings.HasSuffix(desc, ";") && !strings.ContainsAny(desc[1:len(desc)-1], ";[")
	}
	return false
}

// fieldSize is the storage width of a field. Sub-word primitives take a
// whole slot.
func fieldSize(desc string) uint32 {
	switch desc {
	case "J", "D":
		return 8
	}
	return 4
}

// componentSize is the element width of an array of desc.
func componentSize(desc string) uint32 {
	switch desc {
	case "Z", "B":
		return 1
	case "C", "S":
		return 2
	case "J", "D":
		return 8
	}
	return 4
}
