package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/execution"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/metrics"
)

// Engine executes query plans against a Session.
type Engine struct {
	session    Session
	tx         TxProbe
	conv       *convert.Table
	cacheSize  int
	cache      *bind.MetadataCache
	binder     *bind.Binder
	dispatcher *execution.Dispatcher
	ids        IDGenerator
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithTxProbe sets the transaction probe used by streaming and result-set
// procedure executions. By default the session is used when it implements
// TxProbe.
func WithTxProbe(tx TxProbe) Option {
	return func(e *Engine) {
		e.tx = tx
	}
}

// WithConverter replaces the default conversion table.
func WithConverter(conv *convert.Table) Option {
	return func(e *Engine) {
		e.conv = conv
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records executions, renders and cache lookups.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithIDGenerator sets the invocation id generator.
//
// Default: UUIDv7Generator
// Use NewFixedGenerator in tests for deterministic log output.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithCacheSize bounds the query metadata cache.
//
// Default: bind.DefaultCacheSize
func WithCacheSize(n int) Option {
	return func(e *Engine) {
		e.cacheSize = n
	}
}

// New creates an Engine over session.
func New(session Session, opts ...Option) (*Engine, error) {
	e := &Engine{
		session:   session,
		conv:      convert.Default(),
		cacheSize: bind.DefaultCacheSize,
		ids:       UUIDv7Generator{},
		logger:    slog.Default(),
	}
	if tx, ok := session.(TxProbe); ok {
		e.tx = tx
	}
	for _, opt := range opts {
		opt(e)
	}

	cache, err := bind.NewMetadataCache(e.cacheSize, bind.WithObserver(e.metrics.ObserveCache))
	if err != nil {
		return nil, err
	}
	e.cache = cache
	e.binder = bind.NewBinder(e.conv, bind.WithLogger(e.logger))
	e.dispatcher = execution.NewDispatcher(session, e.tx, e.conv, execution.WithLogger(e.logger))
	return e, nil
}

// Cache returns the metadata cache.
func (e *Engine) Cache() *bind.MetadataCache { return e.cache }

// Converter returns the conversion table.
func (e *Engine) Converter() *convert.Table { return e.conv }

// Execute runs one invocation of plan with args, which are given in the
// method's declared parameter order.
func (e *Engine) Execute(ctx context.Context, plan *QueryPlan, args []any) (any, error) {
	id := e.ids.Generate()
	start := time.Now()
	logger := e.logger.With("invocation", id, "method", plan.method.ID())
	logger.Debug("executing", "strategy", plan.strategy.String())

	result, err := e.execute(ctx, plan, args)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if code := ir.CodeOf(err); code != "" {
			outcome = string(code)
		}
		logger.Debug("execution failed", "error", err)
	} else {
		logger.Debug("executed", "duration", time.Since(start))
	}
	e.metrics.RecordExecution(plan.strategy.String(), outcome, time.Since(start))
	return result, err
}

func (e *Engine) execute(ctx context.Context, plan *QueryPlan, args []any) (any, error) {
	acc, err := bind.NewAccessor(plan.method, args)
	if err != nil {
		return nil, err
	}
	ep := &execution.Plan{Strategy: plan.strategy, Method: plan.method, Accessor: acc}
	if plan.tree != nil {
		ep.Limit = plan.tree.Limit
	}

	if plan.strategy == execution.Procedure {
		pq, err := e.createProcedure(ctx, plan, acc)
		if err != nil {
			return nil, err
		}
		ep.Procedure = pq
	} else {
		q, err := e.createQuery(ctx, plan, acc)
		if err != nil {
			return nil, err
		}
		ep.Query = q
		if plan.strategy == execution.Page {
			if ep.Count, err = e.createCountQuery(ctx, plan, acc); err != nil {
				return nil, err
			}
		}
	}

	result, err := e.dispatcher.Execute(ctx, ep)
	if err != nil {
		return nil, err
	}
	return project(result, projectionFor(plan.method, acc), e.conv, plan.method.Returns), nil
}

// metadata returns the cached metadata for a source, computing it on the
// first use of the text.
func (e *Engine) metadata(plan *QueryPlan, src source) (*bind.Metadata, error) {
	return e.cache.Get(plan.method.ID(), src.text, func() (*bind.Metadata, error) {
		e.metrics.RecordRender(string(plan.method.Kind))
		bindings, err := src.bindings()
		if err != nil {
			return nil, ir.Errorf(ir.CodeInvalidQuery, plan.method.ID(), "%v", err)
		}
		return &bind.Metadata{Text: src.text, Bindings: bindings}, nil
	})
}

func (e *Engine) createQuery(ctx context.Context, plan *QueryPlan, acc *bind.Accessor) (Query, error) {
	m := plan.method
	src, err := plan.source(acc.Sort())
	if err != nil {
		return nil, err
	}
	md, err := e.metadata(plan, src)
	if err != nil {
		return nil, err
	}
	q, err := e.session.CreateQuery(ctx, md.Text, m.Returns, m.Native)
	if err != nil {
		return nil, fmt.Errorf("create query for %s: %w", m.ID(), err)
	}
	if plan.tree != nil && plan.tree.Limit > 0 {
		q.SetMaxResults(plan.tree.Limit)
	}
	for _, h := range m.Hints {
		if err := q.SetHint(h.Name, h.Value); err != nil {
			return nil, fmt.Errorf("hint %s on %s: %w", h.Name, m.ID(), err)
		}
	}
	if m.LockMode != ir.LockNone {
		if err := q.SetLockMode(m.LockMode); err != nil {
			return nil, fmt.Errorf("lock mode %s on %s: %w", m.LockMode, m.ID(), err)
		}
	}
	if err := e.binder.Bind(md.WithQuery(q), acc, bind.Strict); err != nil {
		return nil, err
	}
	return q, nil
}

// createCountQuery creates the page count query and binds it leniently:
// count queries may not reference every parameter of the main query.
func (e *Engine) createCountQuery(ctx context.Context, plan *QueryPlan, acc *bind.Accessor) (Query, error) {
	m := plan.method
	src, err := plan.countSource()
	if err != nil {
		return nil, err
	}
	md, err := e.metadata(plan, src)
	if err != nil {
		return nil, err
	}
	q, err := e.session.CreateQuery(ctx, md.Text, ir.Scalar(ir.KindInt64), m.Native)
	if err != nil {
		return nil, fmt.Errorf("create count query for %s: %w", m.ID(), err)
	}
	if err := e.binder.Bind(md.WithQuery(q), acc, bind.Lenient); err != nil {
		return nil, err
	}
	return q, nil
}

func (e *Engine) createProcedure(ctx context.Context, plan *QueryPlan, acc *bind.Accessor) (ProcedureQuery, error) {
	m := plan.method
	proc := m.Procedure
	src, err := plan.source(nil)
	if err != nil {
		return nil, err
	}
	md, err := e.metadata(plan, src)
	if err != nil {
		return nil, err
	}
	pq, err := e.session.CreateProcedureQuery(ctx, proc.Name, proc.Named, m.Returns)
	if err != nil {
		return nil, fmt.Errorf("create procedure call for %s: %w", m.ID(), err)
	}

	fail := func(err error) (ProcedureQuery, error) {
		if cerr := pq.Close(); cerr != nil {
			e.logger.Warn("closing procedure call failed", "method", m.ID(), "error", cerr)
		}
		return nil, err
	}
	bindable := m.BindableParameters()
	for i, b := range md.Bindings {
		if err := pq.RegisterParameter(b.Target, bindable[i].Type, ir.ModeIn); err != nil {
			return fail(fmt.Errorf("register %s: %w", b.Target, err))
		}
	}
	named := m.UsesNamedParameters()
	for i, out := range proc.Outputs {
		ph := execution.OutputPlaceholder(named, out, acc.BindableCount(), i)
		mode := out.Mode
		if mode == "" {
			mode = ir.ModeOut
		}
		if err := pq.RegisterParameter(ph, out.Type, mode); err != nil {
			return fail(fmt.Errorf("register output %s: %w", ph, err))
		}
	}
	if err := e.binder.Bind(md.WithQuery(pq), acc, bind.Strict); err != nil {
		return fail(err)
	}
	return pq, nil
}
