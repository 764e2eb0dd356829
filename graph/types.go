// ABOUTME: Core data types for the heap reference graph
// ABOUTME: Defines Object, Ref, ObjID and Roots as exported by the collector

package graph

// ObjID identifies a heap object by its address
type ObjID uint64

// Ref is one outgoing reference slot of an object
type Ref struct {
	To     ObjID  // Referenced object
	Offset uint32 // Byte offset of the slot in the holder
	Static bool   // Slot is a static field of a class object
}

// Object is a heap object and the references it holds
type Object struct {
	ID   ObjID  // Heap address
	Type string // Class name (e.g. "java.lang.String", "int[]")
	Size uint64 // Size in bytes
	Refs []Ref  // Non-null references in scan order
}

// Roots represents the set of GC root objects
type Roots struct {
	IDs []ObjID // Object IDs that are roots
}
