package ir

import (
	"fmt"
	"strings"
	"unicode"
)

// Property is one persistent attribute of an entity.
type Property struct {
	Name     string  `json:"name"`
	Column   string  `json:"column,omitempty"` // defaults to the snake_case name
	Type     TypeRef `json:"type"`
	Embedded *Entity `json:"-"` // set when the property is an embedded value
}

// ColumnName returns the explicit column or the snake_case property name.
func (p Property) ColumnName() string {
	if p.Column != "" {
		return p.Column
	}
	return SnakeCase(p.Name)
}

// Entity describes a persistent domain type.
type Entity struct {
	Name       string     `json:"name"`
	Table      string     `json:"table,omitempty"`
	Properties []Property `json:"properties"`
	Embeddable bool       `json:"embeddable,omitempty"`
}

// TableName returns the explicit table or the snake_case entity name.
func (e *Entity) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return SnakeCase(e.Name)
}

// Property looks up a direct property by name.
func (e *Entity) Property(name string) (Property, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// PropertyPath is a resolved dotted path from an entity to a leaf property.
type PropertyPath struct {
	Segments []string `json:"segments"`
	Leaf     Property `json:"leaf"`
	Column   string   `json:"column"`
}

// String returns the dotted property path ("address.city").
func (p PropertyPath) String() string { return strings.Join(p.Segments, ".") }

// Type returns the type of the leaf property.
func (p PropertyPath) Type() TypeRef { return p.Leaf.Type }

// ResolvePath resolves property segments through embedded values.
func (e *Entity) ResolvePath(segments ...string) (PropertyPath, error) {
	if len(segments) == 0 {
		return PropertyPath{}, fmt.Errorf("empty property path")
	}
	cur := e
	var cols []string
	for i, seg := range segments {
		prop, ok := cur.Property(seg)
		if !ok {
			return PropertyPath{}, fmt.Errorf("no property %q on %s", seg, cur.Name)
		}
		cols = append(cols, prop.ColumnName())
		if i == len(segments)-1 {
			if prop.Embedded != nil {
				return PropertyPath{}, fmt.Errorf("property %q of %s is an embedded value, not a leaf", seg, cur.Name)
			}
			return PropertyPath{
				Segments: append([]string(nil), segments...),
				Leaf:     prop,
				Column:   strings.Join(cols, "_"),
			}, nil
		}
		if prop.Embedded == nil {
			return PropertyPath{}, fmt.Errorf("property %q of %s has no nested properties", seg, cur.Name)
		}
		cur = prop.Embedded
	}
	panic("unreachable")
}

// ResolveDotted resolves a dotted path such as "address.city".
func (e *Entity) ResolveDotted(path string) (PropertyPath, error) {
	return e.ResolvePath(strings.Split(path, ".")...)
}

// Columns flattens the entity into leaf paths in declaration order,
// descending into embedded values.
func (e *Entity) Columns() []PropertyPath {
	var out []PropertyPath
	var walk func(ent *Entity, segs []string, cols []string)
	walk = func(ent *Entity, segs []string, cols []string) {
		for _, p := range ent.Properties {
			s := append(append([]string(nil), segs...), p.Name)
			c := append(append([]string(nil), cols...), p.ColumnName())
			if p.Embedded != nil {
				walk(p.Embedded, s, c)
				continue
			}
			out = append(out, PropertyPath{Segments: s, Leaf: p, Column: strings.Join(c, "_")})
		}
	}
	walk(e, nil, nil)
	return out
}

// Metamodel is the set of known entities.
type Metamodel struct {
	entities map[string]*Entity
	order    []string
}

// NewMetamodel builds a metamodel from entities. Later duplicates replace
// earlier ones.
func NewMetamodel(entities ...*Entity) *Metamodel {
	m := &Metamodel{entities: make(map[string]*Entity)}
	for _, e := range entities {
		m.Add(e)
	}
	return m
}

// Add registers an entity.
func (m *Metamodel) Add(e *Entity) {
	if _, ok := m.entities[e.Name]; !ok {
		m.order = append(m.order, e.Name)
	}
	m.entities[e.Name] = e
}

// Entity looks up an entity by name.
func (m *Metamodel) Entity(name string) (*Entity, bool) {
	if m == nil {
		return nil, false
	}
	e, ok := m.entities[name]
	return e, ok
}

// Entities returns entities in registration order.
func (m *Metamodel) Entities() []*Entity {
	out := make([]*Entity, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.entities[n])
	}
	return out
}

// SnakeCase converts a camel-case identifier to snake_case
// ("createdAt" → "created_at", "HTTPServer" → "http_server").
func SnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
