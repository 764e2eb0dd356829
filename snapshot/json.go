// ABOUTME: JSON snapshot parser
// ABOUTME: Reads a Description from a JSON document

package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSONParser parses JSON snapshots
type JSONParser struct{}

// Name returns "json"
func (p *JSONParser) Name() string { return "json" }

// CanParse checks that the input is a JSON object mentioning objects or
// classes
func (p *JSONParser) CanParse(r io.Reader) bool {
	buf := make([]byte, previewSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false
	}
	head := bytes.TrimSpace(buf[:n])
	if len(head) == 0 || head[0] != '{' {
		return false
	}
	return bytes.Contains(head, []byte(`"objects"`)) || bytes.Contains(head, []byte(`"classes"`))
}

// Parse decodes the whole JSON document
func (p *JSONParser) Parse(r io.Reader) (*Description, error) {
	var desc Description

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&desc); err != nil {
		return nil, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

// init registers the JSON parser
func init() {
	Register(&JSONParser{})
}
