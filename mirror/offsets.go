// ABOUTME: Member offsets, object header layout and the reference-offset bitmap encoding
// ABOUTME: Shared by the class linker (encoding) and the collector (decoding)

package mirror

import "math/bits"

// MemberOffset is a byte offset from the start of an object.
type MemberOffset uint32

// Uint32 returns the offset as a plain integer.
func (o MemberOffset) Uint32() uint32 { return uint32(o) }

// ReferenceSize is the width of a heap reference slot in bytes.
const ReferenceSize = 4

// Object header layout. Every object stores its class at offset 0.
const (
	ClassOffset       MemberOffset = 0
	MonitorOffset     MemberOffset = 4
	ObjectHeaderSize               = 8
	ArrayLengthOffset MemberOffset = 8
	arrayHeaderSize                = 12
)

// ObjectAlignment is the allocation granularity of the heap.
const ObjectAlignment = 8

// DataOffset returns the offset of element 0 in an array whose elements are
// componentSize bytes wide.
func DataOffset(componentSize uint32) MemberOffset {
	return MemberOffset(roundUp(arrayHeaderSize, componentSize))
}

func roundUp(x, n uint32) uint32 {
	return (x + n - 1) &^ (n - 1)
}

// Reference-offset encoding.
//
// A class stores which of its slots hold references as a 32-bit bitmap. Bit
// 31 stands for offset 0, bit 30 for offset 4 and so on. ClassWalkSuper is
// the sentinel for layouts the bitmap cannot describe; the low two bits can
// therefore never encode an offset.
const (
	ClassWalkSuper       uint32 = 3
	classHighBit         uint32 = 1 << 31
	classOffsetAlignment        = 4
)

// AllocBit returns the bitmap bit standing for offset, or 0 when offset is
// past the end of the bitmap.
func AllocBit(offset MemberOffset) uint32 {
	shift := uint32(offset) / classOffsetAlignment
	if shift >= 32 {
		return 0
	}
	return classHighBit >> shift
}

// CanEncodeOffset reports whether offset fits in the bitmap without colliding
// with ClassWalkSuper.
func CanEncodeOffset(offset MemberOffset) bool {
	return AllocBit(offset) > ClassWalkSuper
}

// OffsetFromCLZ converts a leading-zero count of the bitmap into the offset
// that bit stands for.
func OffsetFromCLZ(clz int) MemberOffset {
	return MemberOffset(clz * classOffsetAlignment)
}

// NextReferenceOffset pops the highest set bit of refOffsets. It returns the
// offset for that bit and the remaining bitmap.
func NextReferenceOffset(refOffsets uint32) (MemberOffset, uint32) {
	clz := bits.LeadingZeros32(refOffsets)
	return OffsetFromCLZ(clz), refOffsets &^ (classHighBit >> uint(clz))
}

// EncodeReferenceOffsets adds offsets to base. The result is ClassWalkSuper
// when base already is, or when any offset cannot be encoded.
func EncodeReferenceOffsets(base uint32, offsets []MemberOffset) uint32 {
	if base == ClassWalkSuper {
		return ClassWalkSuper
	}
	for _, off := range offsets {
		if !CanEncodeOffset(off) {
			return ClassWalkSuper
		}
		base |= AllocBit(off)
	}
	return base
}

// DecodeReferenceOffsets expands a bitmap into offsets, highest bit first.
// It returns nil for ClassWalkSuper.
func DecodeReferenceOffsets(refOffsets uint32) []MemberOffset {
	if refOffsets == ClassWalkSuper {
		return nil
	}
	var offsets []MemberOffset
	for refOffsets != 0 {
		var off MemberOffset
		off, refOffsets = NextReferenceOffset(refOffsets)
		offsets = append(offsets, off)
	}
	return offsets
}
