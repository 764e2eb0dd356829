// ABOUTME: Registry for snapshot parsers
// ABOUTME: Manages parser plugins and selects the parser for a snapshot

package snapshot

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

var (
	// ErrNoParser is returned when no parser can handle the snapshot format
	ErrNoParser = errors.New("no parser found for snapshot format")
)

// previewSize is how much of the input parsers see for detection
const previewSize = 4096

// parserRegistry holds registered parsers
type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

// Global registry instance
var registry = &parserRegistry{
	parsers: make([]Parser, 0),
}

// Register adds a parser to the registry. Parsers are tried in
// registration order
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a snapshot with the first registered parser that accepts it
func Open(r io.Reader) (*Description, error) {
	preview := make([]byte, previewSize)
	n, err := io.ReadFull(r, preview)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	preview = preview[:n]

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if parser.CanParse(bytes.NewReader(preview)) {
			return parser.Parse(io.MultiReader(bytes.NewReader(preview), r))
		}
	}

	return nil, ErrNoParser
}
