// ABOUTME: Post-marking heap verification
// ABOUTME: Checks that no marked object refers to an unmarked one

package gc

import (
	"fmt"

	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/mirror"
)

// VerifyError is a marked object holding a reference to an unmarked one.
type VerifyError struct {
	Holder   *mirror.Object
	Referent *mirror.Object
	Offset   mirror.MemberOffset
	Static   bool
}

func (e VerifyError) Error() string {
	kind := "field"
	if e.Static {
		kind = "static field"
	}
	return fmt.Sprintf("%v: %s at offset %d refers to unmarked %v", e.Holder, kind, e.Offset, e.Referent)
}

// Verify walks every marked object with s and reports each reference to an
// unmarked object. It takes both heap guards shared.
func Verify(h *heap.Heap, s *Scanner) []VerifyError {
	h.Locks().SharedLockAll()
	defer h.Locks().SharedUnlockAll()

	var errs []VerifyError
	check := VisitorFunc(func(holder, ref *mirror.Object, offset mirror.MemberOffset, isStatic bool) {
		if ref != nil && !h.IsMarked(ref) {
			errs = append(errs, VerifyError{Holder: holder, Referent: ref, Offset: offset, Static: isStatic})
		}
	})
	h.WalkMarked(func(obj *mirror.Object) {
		s.VisitObjectReferences(obj, check)
	})
	return errs
}
