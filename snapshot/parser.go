// ABOUTME: Parser interface for heap snapshot formats
// ABOUTME: Defines the contract for pluggable snapshot parsers

package snapshot

import "io"

// Parser is the interface for snapshot parsers
type Parser interface {
	// Name identifies the format in messages
	Name() string

	// CanParse checks if this parser can handle the given snapshot format
	// The reader is a preview - implementations should read a small amount
	// to detect the format and not expect the entire stream
	CanParse(r io.Reader) bool

	// Parse reads the snapshot description
	// The reader will be a fresh reader positioned at the start
	Parse(r io.Reader) (*Description, error)
}
