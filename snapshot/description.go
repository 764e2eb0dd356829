// ABOUTME: Declarative description of a heap snapshot: classes, objects, statics and roots
// ABOUTME: Shared by every snapshot parser and consumed by the loader

package snapshot

// ID names an object inside a snapshot. 0 is the null reference.
type ID int64

// Description is a parsed snapshot before it is materialized into a heap.
type Description struct {
	Classes []ClassDesc                 `json:"classes" yaml:"classes"`
	Objects []ObjectDesc                `json:"objects" yaml:"objects"`
	Statics map[string]map[string]int64 `json:"statics,omitempty" yaml:"statics,omitempty"`
	Roots   []ID                        `json:"roots" yaml:"roots"`
}

// ClassDesc declares a class by descriptor, e.g. "Lcom/example/Node;".
type ClassDesc struct {
	Name   string      `json:"name" yaml:"name"`
	Super  string      `json:"super,omitempty" yaml:"super,omitempty"`
	Fields []FieldDesc `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// FieldDesc declares one field. Type is a descriptor such as "I" or
// "Ljava/lang/String;".
type FieldDesc struct {
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"type" yaml:"type"`
	Static bool   `json:"static,omitempty" yaml:"static,omitempty"`
}

// ObjectDesc declares one object. Reference fields hold object IDs and
// primitive fields hold their value. String objects only set String; object
// arrays set Elements; primitive arrays set Length.
type ObjectDesc struct {
	ID       ID               `json:"id" yaml:"id"`
	Class    string           `json:"class,omitempty" yaml:"class,omitempty"`
	Fields   map[string]int64 `json:"fields,omitempty" yaml:"fields,omitempty"`
	String   *string          `json:"string,omitempty" yaml:"string,omitempty"`
	Length   int32            `json:"length,omitempty" yaml:"length,omitempty"`
	Elements []ID             `json:"elements,omitempty" yaml:"elements,omitempty"`
}
