// ABOUTME: Object graph scanner reporting every outgoing reference of a live object
// ABOUTME: Decodes reference-offset bitmaps, walks field tables, and scans object arrays

package gc

import (
	"fmt"
	"strings"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

// InvariantError reports a broken collector invariant. The scanner panics
// with it; there is no safe way to continue.
type InvariantError struct {
	Object *mirror.Object
	Reason string
	Spaces string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Object)
}

type objectKind int

const (
	kindClass objectKind = iota
	kindArray
	kindObjectArray
	kindReference
	kindOther
)

func (k objectKind) String() string {
	switch k {
	case kindClass:
		return "class"
	case kindArray:
		return "array"
	case kindObjectArray:
		return "object array"
	case kindReference:
		return "reference"
	default:
		return "other"
	}
}

// Scanner enumerates the references held by heap objects.
//
// Every entry point requires the caller to hold both heap.Locks guards
// shared for the whole call. Many goroutines may scan different objects at
// once; nobody may write heap objects meanwhile.
type Scanner struct {
	classClass *mirror.Class
	bitmap     MarkBitmap
	dumper     SpaceDumper
	locks      *heap.Locks
	delayer    ReferenceDelayer
	cfg        Config
	counters   scanCounters
}

// NewScanner returns a scanner for objects whose meta-class is classClass.
// delayer may be nil when ScanObject is never given reference objects that
// need deferred processing.
func NewScanner(classClass *mirror.Class, h *heap.Heap, delayer ReferenceDelayer, cfg Config) *Scanner {
	return &Scanner{
		classClass: classClass,
		bitmap:     h,
		dumper:     h,
		locks:      h.Locks(),
		delayer:    delayer,
		cfg:        cfg.normalize(),
	}
}

// Counts returns the scan counters. They stay zero unless
// Config.CountScannedTypes is set.
func (s *Scanner) Counts() ScanCounts { return s.counters.snapshot() }

// ResetCounts zeroes the scan counters.
func (s *Scanner) ResetCounts() { s.counters.reset() }

func (s *Scanner) classify(klass *mirror.Class) objectKind {
	switch {
	case klass == s.classClass:
		return kindClass
	case klass.IsObjectArrayClass():
		return kindObjectArray
	case klass.IsArrayClass():
		return kindArray
	case klass.IsReferenceClass():
		return kindReference
	}
	return kindOther
}

// ScanObject reports every reference of obj to v. obj must already be
// marked; in debug mode an unmarked object dumps the heap spaces and panics
// with *InvariantError. The referent of a reference object is handed to the
// delayer instead of v.
func (s *Scanner) ScanObject(obj *mirror.Object, v Visitor) {
	if s.cfg.Debug {
		s.checkGuards()
		if !s.bitmap.IsMarked(obj) {
			s.fatal(obj, "scanning unmarked object")
		}
	}
	kind := s.scan(obj, v)
	if s.cfg.CountScannedTypes {
		s.counters.count(kind)
	}
	if kind == kindReference && s.delayer != nil {
		s.delayer.DelayReferenceReferent(obj)
	}
}

// VisitObjectReferences reports the same references as ScanObject without
// checking the mark bit, counting, or delaying referents.
func (s *Scanner) VisitObjectReferences(obj *mirror.Object, v Visitor) {
	s.scan(obj, v)
}

func (s *Scanner) scan(obj *mirror.Object, v Visitor) objectKind {
	klass := obj.GetClass()
	if klass == nil {
		s.fatal(obj, "object has no class")
	}
	kind := s.classify(klass)
	switch kind {
	case kindClass:
		if s.cfg.Debug && klass.GetClass() != s.classClass {
			s.fatal(obj, "meta-class is not its own class")
		}
		s.visitClassReferences(klass, obj, v)
	case kindArray, kindObjectArray:
		v.VisitReference(obj, klass.AsObject(), mirror.ClassOffset, false)
		if kind == kindObjectArray {
			visitObjectArrayReferences(obj.AsObjectArray(), v)
		}
	default:
		visitInstanceFieldsReferences(klass, obj, v)
	}
	return kind
}

func (s *Scanner) visitClassReferences(klass *mirror.Class, obj *mirror.Object, v Visitor) {
	visitInstanceFieldsReferences(klass, obj, v)
	visitStaticFieldsReferences(obj.AsClass(), v)
}

func visitInstanceFieldsReferences(klass *mirror.Class, obj *mirror.Object, v Visitor) {
	visitFieldsReferences(obj, klass.GetReferenceInstanceOffsets(), false, v)
}

func visitStaticFieldsReferences(klass *mirror.Class, v Visitor) {
	visitFieldsReferences(klass.AsObject(), klass.GetReferenceStaticOffsets(), true, v)
}

func visitFieldsReferences(obj *mirror.Object, refOffsets uint32, isStatic bool, v Visitor) {
	if refOffsets != mirror.ClassWalkSuper {
		for refOffsets != 0 {
			var offset mirror.MemberOffset
			offset, refOffsets = mirror.NextReferenceOffset(refOffsets)
			v.VisitReference(obj, obj.GetFieldObject(offset), offset, isStatic)
		}
		return
	}
	// No bitmap. Instance fields come from the exact class up to the root;
	// statics only from the class itself.
	klass := obj.GetClass()
	if isStatic {
		klass = obj.AsClass()
	}
	for ; klass != nil; klass = klass.GetSuperClass() {
		n := klass.NumReferenceInstanceFields()
		if isStatic {
			n = klass.NumReferenceStaticFields()
		}
		for i := 0; i < n; i++ {
			field := klass.GetInstanceField(i)
			if isStatic {
				field = klass.GetStaticField(i)
			}
			offset := field.GetOffset()
			v.VisitReference(obj, obj.GetFieldObject(offset), offset, isStatic)
		}
		if isStatic {
			break
		}
	}
}

func visitObjectArrayReferences(array *mirror.ObjectArray, v Visitor) {
	length := array.Length()
	obj := array.AsObject()
	for i := int32(0); i < length; i++ {
		v.VisitReference(obj, array.GetWithoutChecks(i), mirror.ElementOffset(i), false)
	}
}

func (s *Scanner) checkGuards() {
	if !s.locks.HeapBitmap.IsSharedHeld() && !s.locks.HeapBitmap.IsExclusiveHeld() {
		panic(&InvariantError{Reason: s.locks.HeapBitmap.Name() + " not held"})
	}
	if !s.locks.Mutator.IsSharedHeld() {
		panic(&InvariantError{Reason: s.locks.Mutator.Name() + " not held shared"})
	}
}

func (s *Scanner) fatal(obj *mirror.Object, reason string) {
	var spaces strings.Builder
	s.dumper.DumpSpaces(&spaces)
	s.cfg.logger().Error(reason, "object", obj.String(), "spaces", spaces.String())
	panic(&InvariantError{Object: obj, Reason: reason, Spaces: spaces.String()})
}
