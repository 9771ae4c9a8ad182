// Package render turns predicate trees into query text.
//
// The query language is the small JPQL-like dialect understood by the
// session: entity names and dotted property paths qualified by a
// one-letter alias, ":name" or "?N" placeholders, and the keywords
// "between", "IN", "LIKE", "MEMBER OF", "is empty", "IS TRUE".
// Rendering is deterministic: the same tree and sort always produce
// byte-identical text.
package render

import (
	"strings"
	"unicode/utf8"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/tree"
)

// Query is rendered query text and the bindings it needs.
type Query struct {
	Text     string
	Bindings []bind.Binding
}

// Renderer renders one method's trees.
type Renderer struct {
	method *ir.MethodDescriptor
	entity *ir.Entity
	alias  string
	named  bool
}

// New creates a Renderer for a method over entity.
func New(method *ir.MethodDescriptor, entity *ir.Entity) *Renderer {
	return &Renderer{
		method: method,
		entity: entity,
		alias:  Alias(entity.Name),
		named:  method.UsesNamedParameters(),
	}
}

// Alias returns the query alias of an entity: its lower-cased initial.
func Alias(entityName string) string {
	r, n := utf8.DecodeRuneInString(entityName)
	if n == 0 || r == utf8.RuneError {
		return "x"
	}
	return tree.Decapitalize(string(r))
}

// Render returns the select query, ordered by the tree's static sort
// followed by the dynamic sort. Count-subject trees render as counts.
func (r *Renderer) Render(t *tree.Tree, dynamic ir.Sort) (Query, error) {
	if t.IsCount() {
		return r.RenderCount(t)
	}
	var b strings.Builder
	b.WriteString("select ")
	if t.Distinct {
		b.WriteString("distinct ")
	}
	b.WriteString(r.alias)
	r.writeFrom(&b)

	bindings, err := r.writeWhere(&b, t)
	if err != nil {
		return Query{}, err
	}
	order, err := OrderClause(r.method, r.entity, r.alias, t.Sort.And(dynamic))
	if err != nil {
		return Query{}, err
	}
	if order != "" {
		b.WriteString(" ")
		b.WriteString(order)
	}
	return Query{Text: b.String(), Bindings: bindings}, nil
}

// RenderCount returns the count query. It never carries an ORDER BY.
func (r *Renderer) RenderCount(t *tree.Tree) (Query, error) {
	var b strings.Builder
	b.WriteString("select count(")
	if t.Distinct {
		b.WriteString("distinct ")
	}
	b.WriteString(r.alias)
	b.WriteString(")")
	r.writeFrom(&b)

	bindings, err := r.writeWhere(&b, t)
	if err != nil {
		return Query{}, err
	}
	return Query{Text: b.String(), Bindings: bindings}, nil
}

func (r *Renderer) writeFrom(b *strings.Builder) {
	b.WriteString(" from ")
	b.WriteString(r.entity.Name)
	b.WriteString(" ")
	b.WriteString(r.alias)
}

func (r *Renderer) writeWhere(b *strings.Builder, t *tree.Tree) ([]bind.Binding, error) {
	if len(t.Groups) == 0 {
		return nil, nil
	}
	var (
		bindings []bind.Binding
		groups   = make([]string, 0, len(t.Groups))
	)
	for _, group := range t.Groups {
		parts := make([]string, 0, len(group))
		for _, part := range group {
			frag, bs, err := r.predicate(part)
			if err != nil {
				return nil, err
			}
			parts = append(parts, frag)
			bindings = append(bindings, bs...)
		}
		groups = append(groups, strings.Join(parts, " and "))
	}
	b.WriteString(" where ")
	b.WriteString(strings.Join(groups, " or "))
	return bindings, nil
}

// OrderClause renders "order by alias.path dir, ..." for sort, or "" when
// sort is empty. Every property must resolve against entity.
func OrderClause(method *ir.MethodDescriptor, entity *ir.Entity, alias string, sort ir.Sort) (string, error) {
	items, err := orderItems(method, entity, sort, func(p ir.PropertyPath) string {
		return alias + "." + p.String()
	})
	if err != nil || len(items) == 0 {
		return "", err
	}
	return "order by " + strings.Join(items, ", "), nil
}

func orderItems(method *ir.MethodDescriptor, entity *ir.Entity, sort ir.Sort, expr func(ir.PropertyPath) string) ([]string, error) {
	items := make([]string, 0, len(sort))
	for _, o := range sort {
		path, err := entity.ResolveDotted(o.Property)
		if err != nil {
			return nil, ir.Errorf(ir.CodeInvalidQuery, method.ID(),
				"sort property %q: %v", o.Property, err).With("property", o.Property)
		}
		e := expr(path)
		if o.IgnoreCase {
			e = "upper(" + e + ")"
		}
		dir := o.Direction
		if dir == "" {
			dir = ir.Asc
		}
		items = append(items, e+" "+string(dir))
	}
	return items, nil
}
