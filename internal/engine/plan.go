package engine

import (
	"fmt"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/execution"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/render"
	"github.com/roach88/finder/internal/template"
	"github.com/roach88/finder/internal/tree"
)

// Session, Query, ProcedureQuery and TxProbe are the collaborators a plan
// runs against. They are defined by the execution package.
type (
	Session        = execution.Session
	Query          = execution.Query
	ProcedureQuery = execution.ProcedureQuery
	TxProbe        = execution.TxProbe
)

// RecreationRequired reports whether a method's query text depends on its
// arguments and must therefore be rendered per call.
func RecreationRequired(m *ir.MethodDescriptor) bool {
	return m.HasDynamicProjection() || m.PotentiallySortsDynamically() || m.IsScrollQuery
}

// source produces the query text for one invocation together with the
// function computing its bindings on a metadata cache miss.
type source struct {
	text     string
	bindings func() ([]bind.Binding, error)
}

// QueryPlan is the construction-time analysis of one repository method.
type QueryPlan struct {
	method   *ir.MethodDescriptor
	entity   *ir.Entity
	strategy execution.Strategy
	recreate bool

	// derived
	tree     *tree.Tree
	renderer *render.Renderer
	rendered *render.Query // set when recreation is not required
	count    *render.Query

	// annotated
	query     string
	countText string

	// procedure
	procBindings []bind.Binding
}

// PlanOption configures NewPlan.
type PlanOption func(*planConfig)

type planConfig struct {
	templates template.Renderer
}

// WithTemplateRenderer sets the renderer for "#{...}" expressions in
// annotated queries. The default supports "#{#entityName}".
func WithTemplateRenderer(r template.Renderer) PlanOption {
	return func(c *planConfig) {
		c.templates = r
	}
}

// NewPlan analyses a method. All construction-time errors are returned as
// *ir.QueryError.
func NewPlan(m *ir.MethodDescriptor, model *ir.Metamodel, opts ...PlanOption) (*QueryPlan, error) {
	cfg := planConfig{templates: template.Simple{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	strategy, err := execution.StrategyFor(m)
	if err != nil {
		return nil, err
	}
	p := &QueryPlan{
		method:   m,
		strategy: strategy,
		recreate: RecreationRequired(m),
	}
	if strategy == execution.Procedure {
		if err := p.initProcedure(); err != nil {
			return nil, err
		}
		return p, nil
	}

	entity, ok := model.Entity(m.Domain)
	if !ok {
		return nil, ir.Errorf(ir.CodeMalformedDerivedQuery, m.ID(), "unknown domain type %q", m.Domain)
	}
	p.entity = entity

	switch m.Kind {
	case ir.QueryAnnotated:
		err = p.initAnnotated(cfg.templates)
	default:
		err = p.initDerived(model)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *QueryPlan) initDerived(model *ir.Metamodel) error {
	m := p.method
	toks, err := tree.Tokenize(m.Name)
	if err != nil {
		return ir.Errorf(ir.CodeMalformedDerivedQuery, m.ID(), "%v", err)
	}
	t, err := tree.Parse(m, model, toks)
	if err != nil {
		return err
	}
	if p.strategy == execution.Modifying {
		return ir.Errorf(ir.CodeMalformedDerivedQuery, m.ID(),
			"derived queries cannot modify; declare an explicit query")
	}
	p.tree = t
	p.renderer = render.New(m, p.entity)

	// Rendering without a dynamic sort surfaces every operator and case
	// folding error now, whether or not the text is reused.
	q, err := p.renderer.Render(t, nil)
	if err != nil {
		return err
	}
	if !p.recreate {
		p.rendered = &q
	}
	if p.strategy == execution.Page {
		c, err := p.renderer.RenderCount(t)
		if err != nil {
			return err
		}
		p.count = &c
	}
	return nil
}

func (p *QueryPlan) initAnnotated(templates template.Renderer) error {
	m := p.method
	if m.Query == "" {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "annotated method declares no query")
	}
	vars := map[string]string{template.EntityName: p.entity.Name}
	query, err := templates.Render(m.Query, vars)
	if err != nil {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "query template: %v", err)
	}
	if _, err := bind.ParsePlaceholders(query); err != nil {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "%v", err)
	}
	if m.Native && m.PotentiallySortsDynamically() && !render.HasSortPlaceholder(query) {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(),
			"native queries cannot be sorted dynamically without a %s placeholder", render.SortPlaceholder)
	}
	p.query = query

	if p.strategy != execution.Page {
		return nil
	}
	count := m.CountQuery
	if count != "" {
		if count, err = templates.Render(count, vars); err != nil {
			return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "count query template: %v", err)
		}
	} else {
		stripped, err := render.ApplyNativeSorting(m, p.entity, query, nil)
		if err != nil {
			return err
		}
		if count, err = render.DeriveCountQuery(m, stripped); err != nil {
			return err
		}
	}
	if _, err := bind.ParsePlaceholders(count); err != nil {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "count query: %v", err)
	}
	p.countText = count
	return nil
}

func (p *QueryPlan) initProcedure() error {
	m := p.method
	proc := m.Procedure
	if proc == nil || proc.Name == "" {
		return ir.Errorf(ir.CodeInvalidQuery, m.ID(), "procedure method declares no procedure name")
	}
	named := m.UsesNamedParameters()
	for i, param := range m.BindableParameters() {
		b := bind.Binding{
			Target: ir.Positional(i + 1),
			Source: bind.Source{Position: i + 1},
		}
		if named && param.Named() {
			b.Target = ir.Named(param.Name)
		}
		p.procBindings = append(p.procBindings, b)
	}
	return nil
}

// Method returns the planned method.
func (p *QueryPlan) Method() *ir.MethodDescriptor { return p.method }

// Strategy returns the execution strategy chosen for the method.
func (p *QueryPlan) Strategy() execution.Strategy { return p.strategy }

// RequiresRecreation reports whether the query text is rendered per call.
func (p *QueryPlan) RequiresRecreation() bool { return p.recreate }

// QueryText returns the main query text for a dynamic sort. Procedures
// return their procedure name.
func (p *QueryPlan) QueryText(sort ir.Sort) (string, error) {
	src, err := p.source(sort)
	if err != nil {
		return "", err
	}
	return src.text, nil
}

// CountText returns the count query text, or "" when the method is not
// paged.
func (p *QueryPlan) CountText() string {
	if p.count != nil {
		return p.count.Text
	}
	return p.countText
}

// source returns the main query for one invocation.
func (p *QueryPlan) source(sort ir.Sort) (source, error) {
	m := p.method
	switch {
	case p.strategy == execution.Procedure:
		bindings := p.procBindings
		return source{text: m.Procedure.Name, bindings: func() ([]bind.Binding, error) { return bindings, nil }}, nil

	case p.tree != nil:
		q := p.rendered
		if q == nil || sort.IsSorted() {
			r, err := p.renderer.Render(p.tree, sort)
			if err != nil {
				return source{}, err
			}
			q = &r
		}
		bindings := q.Bindings
		return source{text: q.Text, bindings: func() ([]bind.Binding, error) { return bindings, nil }}, nil
	}

	text := p.query
	var err error
	switch {
	case m.Native && render.HasSortPlaceholder(text):
		text, err = render.ApplyNativeSorting(m, p.entity, text, sort)
	case !m.Native:
		text, err = render.ApplySorting(m, p.entity, text, sort)
	}
	if err != nil {
		return source{}, err
	}
	return source{text: text, bindings: func() ([]bind.Binding, error) { return bind.ParsePlaceholders(text) }}, nil
}

// countSource returns the count query. It never depends on the sort.
func (p *QueryPlan) countSource() (source, error) {
	if p.count != nil {
		q := *p.count
		return source{text: q.Text, bindings: func() ([]bind.Binding, error) { return q.Bindings, nil }}, nil
	}
	if p.countText == "" {
		return source{}, fmt.Errorf("%s has no count query", p.method.ID())
	}
	text := p.countText
	return source{text: text, bindings: func() ([]bind.Binding, error) { return bind.ParsePlaceholders(text) }}, nil
}
