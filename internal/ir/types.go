package ir

import (
	"fmt"
	"strings"
)

// Kind is the coarse runtime category of a declared type.
type Kind string

const (
	KindString     Kind = "string"
	KindInt        Kind = "int"
	KindInt64      Kind = "int64"
	KindFloat      Kind = "float"
	KindBool       Kind = "bool"
	KindTime       Kind = "time"
	KindBytes      Kind = "bytes"
	KindCollection Kind = "collection"
	KindEntity     Kind = "entity"
	KindVoid       Kind = "void"
	KindAny        Kind = "any"
)

// scalarKinds maps the spelled type names accepted by ParseTypeRef.
var scalarKinds = map[string]Kind{
	"string":  KindString,
	"int":     KindInt,
	"int64":   KindInt64,
	"long":    KindInt64,
	"float":   KindFloat,
	"float64": KindFloat,
	"bool":    KindBool,
	"time":    KindTime,
	"bytes":   KindBytes,
	"void":    KindVoid,
	"any":     KindAny,
}

// TypeRef describes a declared parameter, property, or return type.
type TypeRef struct {
	Kind Kind     `json:"kind"`
	Name string   `json:"name,omitempty"` // entity name for KindEntity
	Elem *TypeRef `json:"elem,omitempty"` // element type for KindCollection
}

// Scalar returns a TypeRef of the given kind.
func Scalar(k Kind) TypeRef { return TypeRef{Kind: k} }

// EntityRef returns a TypeRef naming an entity.
func EntityRef(name string) TypeRef { return TypeRef{Kind: KindEntity, Name: name} }

// CollectionOf returns a collection TypeRef with the given element type.
func CollectionOf(elem TypeRef) TypeRef {
	e := elem
	return TypeRef{Kind: KindCollection, Elem: &e}
}

// IsTextual reports whether values of this type can be case folded.
func (t TypeRef) IsTextual() bool { return t.Kind == KindString }

// IsCollection reports whether this is a collection type.
func (t TypeRef) IsCollection() bool { return t.Kind == KindCollection }

// IsIntegral reports whether this is an Int or Int64 type.
func (t TypeRef) IsIntegral() bool { return t.Kind == KindInt || t.Kind == KindInt64 }

// Element returns the element type of a collection, or t itself.
func (t TypeRef) Element() TypeRef {
	if t.Kind == KindCollection && t.Elem != nil {
		return *t.Elem
	}
	return t
}

// String renders the type in the same syntax ParseTypeRef accepts.
func (t TypeRef) String() string {
	switch t.Kind {
	case KindEntity:
		return t.Name
	case KindCollection:
		if t.Elem == nil {
			return "[]any"
		}
		return "[]" + t.Elem.String()
	case "":
		return "any"
	default:
		return string(t.Kind)
	}
}

// ParseTypeRef parses a type spelling: a scalar name ("string", "int64"),
// a collection ("[]string"), or an entity name ("Person").
func ParseTypeRef(s string) (TypeRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return TypeRef{}, fmt.Errorf("empty type")
	}
	if rest, ok := strings.CutPrefix(s, "[]"); ok {
		elem, err := ParseTypeRef(rest)
		if err != nil {
			return TypeRef{}, fmt.Errorf("collection element: %w", err)
		}
		return CollectionOf(elem), nil
	}
	if k, ok := scalarKinds[strings.ToLower(s)]; ok {
		return Scalar(k), nil
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return TypeRef{}, fmt.Errorf("invalid type name %q", s)
		}
	}
	return EntityRef(s), nil
}

// ParameterRole distinguishes query-bindable parameters from the special
// parameters that steer sorting, paging, and projection.
type ParameterRole string

const (
	RoleBindable   ParameterRole = "bindable"
	RoleSort       ParameterRole = "sort"
	RolePage       ParameterRole = "page"
	RoleProjection ParameterRole = "projection"
)

// Parameter is one declared method parameter.
type Parameter struct {
	Name  string        `json:"name,omitempty"` // empty when the method binds positionally
	Index int           `json:"index"`          // declaration index among all parameters
	Type  TypeRef       `json:"type"`
	Role  ParameterRole `json:"role"`
}

// Bindable reports whether the parameter feeds a query placeholder.
func (p Parameter) Bindable() bool { return p.Role == RoleBindable || p.Role == "" }

// Named reports whether the parameter carries an explicit name.
func (p Parameter) Named() bool { return p.Name != "" }

// ResultShape is the declared result shape of a repository method.
type ResultShape string

const (
	ShapeSingle     ResultShape = "single"
	ShapeCollection ResultShape = "collection"
	ShapePage       ResultShape = "page"
	ShapeSlice      ResultShape = "slice"
	ShapeStream     ResultShape = "stream"
	ShapeModifying  ResultShape = "modifying"
	ShapeProcedure  ResultShape = "procedure"
)

// ValidShapes lists the accepted result shapes.
var ValidShapes = map[ResultShape]bool{
	ShapeSingle:     true,
	ShapeCollection: true,
	ShapePage:       true,
	ShapeSlice:      true,
	ShapeStream:     true,
	ShapeModifying:  true,
	ShapeProcedure:  true,
}

// QueryKind identifies where a method's query text comes from.
type QueryKind string

const (
	QueryDerived   QueryKind = "derived"
	QueryAnnotated QueryKind = "annotated"
	QueryProcedure QueryKind = "procedure"
)

// LockMode requested for the query.
type LockMode string

const (
	LockNone             LockMode = ""
	LockRead             LockMode = "READ"
	LockWrite            LockMode = "WRITE"
	LockOptimistic       LockMode = "OPTIMISTIC"
	LockPessimisticRead  LockMode = "PESSIMISTIC_READ"
	LockPessimisticWrite LockMode = "PESSIMISTIC_WRITE"
)

// ValidLockModes lists the accepted lock modes.
var ValidLockModes = map[LockMode]bool{
	LockNone:             true,
	LockRead:             true,
	LockWrite:            true,
	LockOptimistic:       true,
	LockPessimisticRead:  true,
	LockPessimisticWrite: true,
}

// Hint is a named query hint passed through to the session.
type Hint struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ParameterMode is the direction of a stored procedure parameter.
type ParameterMode string

const (
	ModeIn        ParameterMode = "IN"
	ModeOut       ParameterMode = "OUT"
	ModeInOut     ParameterMode = "INOUT"
	ModeRefCursor ParameterMode = "REF_CURSOR"
)

// OutputParameter is a declared procedure output.
type OutputParameter struct {
	Name string        `json:"name,omitempty"`
	Type TypeRef       `json:"type"`
	Mode ParameterMode `json:"mode"`
}

// Procedure holds stored procedure attributes of a method.
type Procedure struct {
	Name      string            `json:"name"`
	Named     bool              `json:"named"` // resolved by registered name rather than ad hoc
	Outputs   []OutputParameter `json:"outputs,omitempty"`
	ResultSet bool              `json:"result_set"`
}

// Placeholder addresses a query parameter either by name or by 1-based
// position. Exactly one of the fields is set.
type Placeholder struct {
	Name     string `json:"name,omitempty"`
	Position int    `json:"position,omitempty"`
}

// Named returns a name placeholder.
func Named(name string) Placeholder { return Placeholder{Name: name} }

// Positional returns a position placeholder.
func Positional(pos int) Placeholder { return Placeholder{Position: pos} }

// String renders the placeholder as it appears in query text.
func (p Placeholder) String() string {
	if p.Name != "" {
		return ":" + p.Name
	}
	return fmt.Sprintf("?%d", p.Position)
}

// MethodDescriptor describes one repository method. It is produced by the
// loader and never mutated afterwards.
type MethodDescriptor struct {
	Repository         string      `json:"repository"`
	Name               string      `json:"name"`
	Domain             string      `json:"domain"`
	Parameters         []Parameter `json:"parameters"`
	Returns            TypeRef     `json:"returns"`
	Shape              ResultShape `json:"shape"`
	Kind               QueryKind   `json:"kind"`
	Query              string      `json:"query,omitempty"`
	CountQuery         string      `json:"count_query,omitempty"`
	Native             bool        `json:"native,omitempty"`
	Hints              []Hint      `json:"hints,omitempty"`
	LockMode           LockMode    `json:"lock_mode,omitempty"`
	FlushAutomatically bool        `json:"flush_automatically,omitempty"`
	ClearAutomatically bool        `json:"clear_automatically,omitempty"`
	Projection         []string    `json:"projection,omitempty"`
	IsScrollQuery      bool        `json:"scroll,omitempty"`
	Procedure          *Procedure  `json:"procedure,omitempty"`
}

// ID returns the method identity used for logging and cache keys.
func (m *MethodDescriptor) ID() string {
	if m.Repository == "" {
		return m.Name
	}
	return m.Repository + "." + m.Name
}

// BindableParameters returns the parameters that feed query placeholders,
// in declaration order.
func (m *MethodDescriptor) BindableParameters() []Parameter {
	var out []Parameter
	for _, p := range m.Parameters {
		if p.Bindable() {
			out = append(out, p)
		}
	}
	return out
}

// UsesNamedParameters reports whether any bindable parameter is named.
func (m *MethodDescriptor) UsesNamedParameters() bool {
	for _, p := range m.Parameters {
		if p.Bindable() && p.Named() {
			return true
		}
	}
	return false
}

// HasDynamicProjection reports whether a runtime argument selects the projection.
func (m *MethodDescriptor) HasDynamicProjection() bool {
	return m.hasRole(RoleProjection)
}

// PotentiallySortsDynamically reports whether a Sort or PageRequest
// argument may change the ordering per call.
func (m *MethodDescriptor) PotentiallySortsDynamically() bool {
	return m.hasRole(RoleSort) || m.hasRole(RolePage)
}

// HasPageParameter reports whether a PageRequest argument is declared.
func (m *MethodDescriptor) HasPageParameter() bool {
	return m.hasRole(RolePage)
}

func (m *MethodDescriptor) hasRole(role ParameterRole) bool {
	for _, p := range m.Parameters {
		if p.Role == role {
			return true
		}
	}
	return false
}

// Record is one entity row keyed by dotted property path.
type Record map[string]any
