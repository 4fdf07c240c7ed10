package component

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PropKind classifies what a declared property holds.
type PropKind int

const (
	// KindScalar holds a single value: string, number, bool or anything else.
	KindScalar PropKind = iota
	// KindList holds a string list, parsed from comma separated text.
	KindList
	// KindContent holds a holder node whose children are the value.
	KindContent
	// KindMetadata holds a nested holder node.
	KindMetadata
	// KindCollection holds a list of holder nodes.
	KindCollection
)

// Implicit properties declared by every schema.
const (
	PropID     = "id"
	PropHidden = "hidden"
)

var propKindNames = map[PropKind]string{
	KindScalar:     "scalar",
	KindList:       "list",
	KindContent:    "content",
	KindMetadata:   "metadata",
	KindCollection: "collection",
}

func (k PropKind) String() string {
	if s, ok := propKindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("PropKind(%d)", int(k))
}

// HoldsNodes reports whether values of this kind are nodes.
func (k PropKind) HoldsNodes() bool {
	return k == KindContent || k == KindMetadata || k == KindCollection
}

// ParsePropKind maps a kind name back to its PropKind.
func ParsePropKind(s string) (PropKind, bool) {
	for k, name := range propKindNames {
		if name == s {
			return k, true
		}
	}

	return KindScalar, false
}

// PropDef declares one property.
type PropDef struct {
	Name       string
	Kind       PropKind
	Default    any
	HasDefault bool
}

// Schema is the set of properties a kind declares. Lookups fold case.
type Schema struct {
	defs   map[string]PropDef
	order  []string
	strict bool
}

// NewSchema builds a strict schema: attributes it does not declare are rejected.
func NewSchema(defs ...PropDef) *Schema {
	return newSchema(true, defs)
}

// OpenSchema builds a schema that accepts undeclared attributes as scalars.
func OpenSchema(defs ...PropDef) *Schema {
	return newSchema(false, defs)
}

func newSchema(strict bool, defs []PropDef) *Schema {
	s := &Schema{defs: make(map[string]PropDef, len(defs)+2), strict: strict}
	for _, d := range defs {
		s.add(d)
	}
	if _, ok := s.Lookup(PropID); !ok {
		s.add(PropDef{Name: PropID, Kind: KindScalar})
	}
	if _, ok := s.Lookup(PropHidden); !ok {
		s.add(PropDef{Name: PropHidden, Kind: KindScalar})
	}

	return s
}

func (s *Schema) add(d PropDef) {
	key := FoldName(d.Name)
	if _, exists := s.defs[key]; !exists {
		s.order = append(s.order, key)
	}
	s.defs[key] = d
}

// Lookup finds a declared property by case-insensitive name.
func (s *Schema) Lookup(name string) (PropDef, bool) {
	if s == nil {
		return PropDef{}, false
	}
	if d, ok := s.defs[name]; ok {
		return d, true
	}
	d, ok := s.defs[FoldName(name)]

	return d, ok
}

// Defs returns the declared properties in declaration order.
func (s *Schema) Defs() []PropDef {
	out := make([]PropDef, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.defs[key])
	}

	return out
}

// Names returns the declared property names sorted, for diagnostics.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.order))
	for _, key := range s.order {
		names = append(names, s.defs[key].Name)
	}
	sort.Strings(names)

	return names
}

// Strict reports whether undeclared attributes are rejected.
func (s *Schema) Strict() bool {
	return s != nil && s.strict
}

// FoldName lower-cases a tag or property name for matching.
func FoldName(name string) string {
	return cases.Lower(language.Und).String(name)
}

// ParseList splits comma separated attribute text into a string list.
func ParseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}
