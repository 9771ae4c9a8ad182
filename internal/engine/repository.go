package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
)

// Repository groups the plans of one repository's methods.
type Repository struct {
	name   string
	engine *Engine
	plans  map[string]*QueryPlan
}

// NewRepository plans every method. Construction fails on the first method
// that cannot be planned.
func NewRepository(e *Engine, name string, model *ir.Metamodel, methods []*ir.MethodDescriptor, opts ...PlanOption) (*Repository, error) {
	r := &Repository{name: name, engine: e, plans: make(map[string]*QueryPlan, len(methods))}
	for _, m := range methods {
		if _, dup := r.plans[m.Name]; dup {
			return nil, fmt.Errorf("repository %s: duplicate method %s", name, m.Name)
		}
		p, err := NewPlan(m, model, opts...)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", name, err)
		}
		r.plans[m.Name] = p
	}
	return r, nil
}

// Name returns the repository name.
func (r *Repository) Name() string { return r.name }

// Plan returns the plan for a method.
func (r *Repository) Plan(method string) (*QueryPlan, bool) {
	p, ok := r.plans[method]
	return p, ok
}

// Methods returns the method names in sorted order.
func (r *Repository) Methods() []string {
	names := make([]string, 0, len(r.plans))
	for n := range r.plans {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke executes a method by name.
func (r *Repository) Invoke(ctx context.Context, method string, args ...any) (any, error) {
	p, ok := r.plans[method]
	if !ok {
		return nil, fmt.Errorf("repository %s has no method %s", r.name, method)
	}
	return r.engine.Execute(ctx, p, args)
}

// CoerceArgs converts loosely typed arguments, such as strings from a
// command line or a YAML scenario, to the method's declared parameter
// types. Sort arguments accept "name,-age"; page arguments "page:size";
// projection arguments a comma-separated property list.
func CoerceArgs(m *ir.MethodDescriptor, conv *convert.Table, raw []any) ([]any, error) {
	if len(raw) != len(m.Parameters) {
		return nil, ir.Errorf(ir.CodeParameterBinding, m.ID(),
			"method takes %d argument(s), got %d", len(m.Parameters), len(raw))
	}
	out := make([]any, len(raw))
	for i, p := range m.Parameters {
		v := raw[i]
		s, isString := v.(string)
		var err error
		switch {
		case v == nil:
		case p.Role == ir.RoleSort && isString:
			v, err = ir.ParseSort(s)
		case p.Role == ir.RolePage && isString:
			var pr ir.PageRequest
			pr, err = ir.ParsePageRequest(s)
			v = pr
		case p.Role == ir.RoleProjection && isString:
			v = ir.Projection(splitTrim(s))
		case p.Bindable():
			v, err = conv.Convert(v, p.Type)
		}
		if err != nil {
			return nil, ir.Errorf(ir.CodeParameterBinding, m.ID(),
				"argument %d (%s)", i, p.Name).Wrap(err)
		}
		out[i] = v
	}
	return out, nil
}

func splitTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
