// ABOUTME: YAML snapshot parser
// ABOUTME: Reads a Description from a YAML document

package snapshot

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v2"
)

// YAMLParser parses YAML snapshots
type YAMLParser struct{}

// Name returns "yaml"
func (p *YAMLParser) Name() string { return "yaml" }

// CanParse checks for a block-style YAML mapping with objects or classes.
// Flow-style documents starting with '{' are left to the JSON parser
func (p *YAMLParser) CanParse(r io.Reader) bool {
	buf := make([]byte, previewSize)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return false
	}
	head := bytes.TrimSpace(buf[:n])
	if len(head) == 0 || head[0] == '{' {
		return false
	}
	for _, line := range bytes.Split(head, []byte("\n")) {
		if bytes.HasPrefix(line, []byte("objects:")) || bytes.HasPrefix(line, []byte("classes:")) {
			return true
		}
	}
	return false
}

// Parse decodes the whole YAML document
func (p *YAMLParser) Parse(r io.Reader) (*Description, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var desc Description
	if err := yaml.UnmarshalStrict(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to decode YAML: %w", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

func init() {
	Register(&YAMLParser{})
}
