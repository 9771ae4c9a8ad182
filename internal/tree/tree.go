package tree

import (
	"fmt"

	"github.com/roach88/finder/internal/ir"
)

// CasePolicy controls case folding of one Part.
type CasePolicy int

const (
	// CaseNever compares values as they are.
	CaseNever CasePolicy = iota
	// CaseWhenPossible folds textual properties and leaves others alone.
	CaseWhenPossible
	// CaseAlways folds, and rejects non-textual properties.
	CaseAlways
)

func (c CasePolicy) String() string {
	switch c {
	case CaseWhenPossible:
		return "WHEN_POSSIBLE"
	case CaseAlways:
		return "ALWAYS"
	default:
		return "NEVER"
	}
}

// Arg is one bindable parameter consumed by a Part.
type Arg struct {
	Param    ir.Parameter
	Position int // 1-based among the method's bindable parameters
}

// Part is one property predicate.
type Part struct {
	Path       ir.PropertyPath
	Operator   Operator
	IgnoreCase CasePolicy
	Args       []Arg
}

// Tree is a parsed derived query: OR-groups of AND-ed Parts plus the
// subject modifiers and static ordering.
type Tree struct {
	Entity   *ir.Entity
	Subject  Subject
	Distinct bool
	Limit    int
	Groups   [][]Part
	Sort     ir.Sort
}

// IsCount reports whether the method counts rather than selects.
func (t *Tree) IsCount() bool { return t.Subject == SubjectCount }

// Parts returns all parts in rendering order.
func (t *Tree) Parts() []Part {
	var out []Part
	for _, g := range t.Groups {
		out = append(out, g...)
	}
	return out
}

// Parse builds a Tree from tokens, resolving properties against the
// method's domain entity and assigning bindable parameters to parts in
// order. Every structural problem is reported here so that a method that
// parses never fails later for the same reason.
func Parse(method *ir.MethodDescriptor, model *ir.Metamodel, toks Tokens) (*Tree, error) {
	entity, ok := model.Entity(method.Domain)
	if !ok {
		return nil, ir.Errorf(ir.CodeMalformedDerivedQuery, method.ID(), "unknown domain type %q", method.Domain)
	}

	t := &Tree{
		Entity:   entity,
		Subject:  toks.Subject,
		Distinct: toks.Distinct,
		Limit:    toks.Limit,
	}
	if t.Subject == "" {
		t.Subject = SubjectFind
	}

	bindable := method.BindableParameters()
	cursor := 0
	for _, group := range toks.Or {
		var parts []Part
		for _, pt := range group {
			part, err := parsePart(method, entity, pt, toks.AllIgnoreCase)
			if err != nil {
				return nil, err
			}
			n := part.Operator.NumArgs()
			if cursor+n > len(bindable) {
				return nil, ir.Errorf(ir.CodeArgumentTypeMismatch, method.ID(),
					"argument count mismatch: %s on %s needs %d argument(s), %d remain",
					part.Operator, part.Path, n, len(bindable)-cursor).
					With("property", part.Path.String()).
					With("operator", string(part.Operator))
			}
			for i := 0; i < n; i++ {
				param := bindable[cursor]
				if err := checkArgument(method, part, param); err != nil {
					return nil, err
				}
				cursor++
				part.Args = append(part.Args, Arg{Param: param, Position: cursor})
			}
			parts = append(parts, part)
		}
		t.Groups = append(t.Groups, parts)
	}
	if cursor < len(bindable) {
		return nil, ir.Errorf(ir.CodeMalformedDerivedQuery, method.ID(),
			"method declares %d bindable parameter(s) but its predicates consume %d", len(bindable), cursor)
	}

	for _, ot := range toks.OrderBy {
		path, err := ResolveProperty(entity, ot.Property)
		if err != nil {
			return nil, ir.Errorf(ir.CodeMalformedDerivedQuery, method.ID(),
				"order by %q: %v", ot.Property, err).With("property", ot.Property)
		}
		t.Sort = append(t.Sort, ir.Order{Property: path.String(), Direction: ot.Direction})
	}
	return t, nil
}

func parsePart(method *ir.MethodDescriptor, entity *ir.Entity, pt PartToken, allIgnoreCase bool) (Part, error) {
	op, ok := OperatorForKeyword(pt.Keyword)
	if !ok {
		return Part{}, ir.Errorf(ir.CodeMalformedDerivedQuery, method.ID(),
			"unknown operator keyword %q", pt.Keyword).With("part", pt.Raw)
	}
	path, err := ResolveProperty(entity, pt.Property)
	if err != nil {
		return Part{}, ir.Errorf(ir.CodeMalformedDerivedQuery, method.ID(),
			"no property %q on %s: %v", pt.Property, entity.Name, err).With("part", pt.Raw)
	}
	policy := CaseNever
	switch {
	case pt.IgnoreCase:
		policy = CaseAlways
	case allIgnoreCase:
		policy = CaseWhenPossible
	}
	return Part{Path: path, Operator: op, IgnoreCase: policy}, nil
}

func checkArgument(method *ir.MethodDescriptor, part Part, param ir.Parameter) error {
	if param.Type.Kind == ir.KindAny {
		return nil
	}
	wantCollection := part.Operator.TakesCollection()
	if param.Type.IsCollection() == wantCollection {
		return nil
	}
	want := "a scalar"
	if wantCollection {
		want = "a collection"
	}
	return ir.Errorf(ir.CodeArgumentTypeMismatch, method.ID(),
		"%s on %s expects %s argument, parameter %s is %s",
		part.Operator, part.Path, want, paramLabel(param), param.Type).
		With("property", part.Path.String()).
		With("operator", string(part.Operator)).
		With("type", param.Type.String())
}

func paramLabel(p ir.Parameter) string {
	if p.Named() {
		return p.Name
	}
	return fmt.Sprintf("#%d", p.Index)
}
