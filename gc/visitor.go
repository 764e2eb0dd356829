// ABOUTME: The reference visitor protocol invoked once per discovered reference slot
// ABOUTME: Any function or type with the four-argument call shape satisfies it

package gc

import (
	"io"

	"github.com/prateek/heapscan/mirror"
)

// Visitor is called synchronously for every reference slot of a scanned
// object. ref is nil for unset slots. Implementations must not write to
// holder or ref.
type Visitor interface {
	VisitReference(holder, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool)
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(holder, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool)

// VisitReference calls f.
func (f VisitorFunc) VisitReference(holder, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool) {
	f(holder, ref, offset, isStatic)
}

// MarkBitmap is the collector's view of the mark bitmap.
type MarkBitmap interface {
	IsMarked(obj *mirror.Object) bool
	TestAndMark(obj *mirror.Object) (wasMarked bool)
}

// SpaceDumper prints heap space diagnostics.
type SpaceDumper interface {
	DumpSpaces(w io.Writer)
}

// ReferenceDelayer receives reference objects whose referent must be
// processed after the main trace.
type ReferenceDelayer interface {
	DelayReferenceReferent(obj *mirror.Object)
}
