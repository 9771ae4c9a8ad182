package execution

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
)

// Plan is everything one invocation needs to execute. It is built per call
// and never shared.
type Plan struct {
	Strategy  Strategy
	Method    *ir.MethodDescriptor
	Query     Query          // nil for procedures
	Procedure ProcedureQuery // set for procedures only
	Count     Query          // set for pages only, bound leniently
	Accessor  *bind.Accessor
	Limit     int // static First/Top limit of derived queries, 0 when absent
}

type arm func(d *Dispatcher, ctx context.Context, p *Plan) (any, error)

// arms is the dispatch table. Every Strategy has exactly one entry.
var arms = [numStrategies]arm{
	Single:     (*Dispatcher).single,
	Collection: (*Dispatcher).collection,
	Slice:      (*Dispatcher).slice,
	Page:       (*Dispatcher).page,
	Stream:     (*Dispatcher).stream,
	Modifying:  (*Dispatcher).modifying,
	Procedure:  (*Dispatcher).procedure,
}

// Dispatcher executes plans against a session.
type Dispatcher struct {
	session Session
	tx      TxProbe
	conv    *convert.Table
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for procedure close failures.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

// NewDispatcher creates a Dispatcher. tx may be nil, in which case no
// transaction is ever considered active.
func NewDispatcher(session Session, tx TxProbe, conv *convert.Table, opts ...Option) *Dispatcher {
	if tx == nil {
		tx = TxProbeFunc(func(context.Context) bool { return false })
	}
	d := &Dispatcher{session: session, tx: tx, conv: conv, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs the arm for the plan's strategy and converts the result to
// the method's declared type.
func (d *Dispatcher) Execute(ctx context.Context, p *Plan) (any, error) {
	if p.Strategy < 0 || p.Strategy >= numStrategies {
		return nil, fmt.Errorf("execute %s: unknown strategy %d", p.Method.ID(), int(p.Strategy))
	}
	result, err := arms[p.Strategy](d, ctx, p)
	if errors.Is(err, ir.ErrNoResult) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.funnel(p, result)
}

func (d *Dispatcher) single(ctx context.Context, p *Plan) (any, error) {
	return p.Query.SingleResult(ctx)
}

func (d *Dispatcher) collection(ctx context.Context, p *Plan) (any, error) {
	return p.Query.ResultList(ctx)
}

func (d *Dispatcher) slice(ctx context.Context, p *Plan) (any, error) {
	req := p.Accessor.PageRequest()
	if !req.IsPaged() {
		rows, err := p.Query.ResultList(ctx)
		if err != nil {
			return nil, err
		}
		return ir.Slice{Content: rows, Request: req}, nil
	}

	size, fetch := req.Size, req.Size+1
	if p.Limit > 0 {
		remaining := p.Limit - req.Offset()
		if remaining <= 0 {
			return ir.Slice{Content: []any{}, Request: req}, nil
		}
		if remaining <= size {
			// the window ends at the limit, so there is no next slice
			size, fetch = remaining, remaining
		}
	}
	p.Query.SetFirstResult(req.Offset())
	p.Query.SetMaxResults(fetch)
	rows, err := p.Query.ResultList(ctx)
	if err != nil {
		return nil, err
	}
	hasNext := len(rows) > size
	if hasNext {
		rows = rows[:size]
	}
	return ir.Slice{Content: rows, Request: req, HasNext: hasNext}, nil
}

func (d *Dispatcher) page(ctx context.Context, p *Plan) (any, error) {
	req := p.Accessor.PageRequest()
	size := req.Size
	if req.IsPaged() && p.Limit > 0 {
		size = min(size, p.Limit-req.Offset())
	}
	rows := []any{}
	if size > 0 || !req.IsPaged() {
		if req.IsPaged() {
			p.Query.SetFirstResult(req.Offset())
			p.Query.SetMaxResults(size)
		}
		var err error
		if rows, err = p.Query.ResultList(ctx); err != nil {
			return nil, err
		}
	}
	total, err := pageTotal(req, len(rows), func() (int64, error) {
		return d.count(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	if p.Limit > 0 && total > int64(p.Limit) {
		total = int64(p.Limit)
	}
	return ir.Page{Content: rows, Request: req, Total: total}, nil
}

// pageTotal avoids the count query whenever the window itself determines
// the total: unpaged requests, a first page that is not full, and a
// non-empty last page that is not full.
func pageTotal(req ir.PageRequest, n int, count func() (int64, error)) (int64, error) {
	if !req.IsPaged() || req.Offset() == 0 {
		if !req.IsPaged() || req.Size > n {
			return int64(req.Offset() + n), nil
		}
		return count()
	}
	if n != 0 && req.Size > n {
		return int64(req.Offset() + n), nil
	}
	return count()
}

// count runs the count query. A single row is the total; several rows
// (grouped count queries) count as one each.
func (d *Dispatcher) count(ctx context.Context, p *Plan) (int64, error) {
	if p.Count == nil {
		return 0, fmt.Errorf("execute %s: page query has no count query", p.Method.ID())
	}
	rows, err := p.Count.ResultList(ctx)
	if err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	if len(rows) != 1 {
		return int64(len(rows)), nil
	}
	v, err := d.conv.Convert(rows[0], ir.Scalar(ir.KindInt64))
	if err != nil {
		return 0, fmt.Errorf("count query result %v: %w", rows[0], err)
	}
	n, _ := v.(int64)
	return n, nil
}

func (d *Dispatcher) stream(ctx context.Context, p *Plan) (any, error) {
	if !d.tx.ActiveTransaction(ctx) {
		return nil, ir.Errorf(ir.CodeMissingTransaction, p.Method.ID(),
			"streaming queries need a surrounding transaction")
	}
	return p.Query.Stream(ctx), nil
}

func (d *Dispatcher) modifying(ctx context.Context, p *Plan) (any, error) {
	if p.Method.FlushAutomatically {
		if err := d.session.Flush(ctx); err != nil {
			return nil, fmt.Errorf("flush before %s: %w", p.Method.ID(), err)
		}
	}
	n, err := p.Query.ExecuteUpdate(ctx)
	if err != nil {
		return nil, err
	}
	if p.Method.ClearAutomatically {
		d.session.Clear()
	}
	if p.Method.Returns.Kind == ir.KindVoid {
		return nil, nil
	}
	return n, nil
}

func (d *Dispatcher) procedure(ctx context.Context, p *Plan) (result any, err error) {
	q := p.Procedure
	defer func() {
		if cerr := q.Close(); cerr != nil {
			d.logger.Warn("closing procedure call failed",
				"method", p.Method.ID(),
				"error", cerr)
		}
	}()

	proc := p.Method.Procedure
	if proc == nil {
		proc = &ir.Procedure{Name: p.Method.Name}
	}
	hasResultSet, err := q.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if hasResultSet {
		if !d.tx.ActiveTransaction(ctx) {
			return nil, ir.Errorf(ir.CodeMissingTransaction, p.Method.ID(),
				"procedures returning result sets need a surrounding transaction")
		}
		if p.Method.Returns.IsCollection() || p.Method.Shape == ir.ShapeCollection {
			return q.ResultList(ctx)
		}
		return q.SingleResult(ctx)
	}

	if len(proc.Outputs) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(proc.Outputs))
	var last any
	named := p.Method.UsesNamedParameters()
	for i, out := range proc.Outputs {
		ph := OutputPlaceholder(named, out, p.Accessor.BindableCount(), i)
		v, err := q.OutputValue(ph)
		if err != nil {
			return nil, fmt.Errorf("procedure %s output %s: %w", proc.Name, ph, err)
		}
		if c, cerr := d.conv.Convert(v, out.Type); cerr == nil {
			v = c
		}
		key := out.Name
		if key == "" {
			key = fmt.Sprintf("out%d", i+1)
		}
		values[key] = v
		last = v
	}
	if len(proc.Outputs) == 1 {
		return last, nil
	}
	return values, nil
}

// OutputPlaceholder addresses a procedure output: by name when the method
// binds named parameters and the output has one, otherwise by the position
// following all bindable inputs.
func OutputPlaceholder(named bool, out ir.OutputParameter, bindableCount, index int) ir.Placeholder {
	if named && out.Name != "" {
		return ir.Named(out.Name)
	}
	return ir.Positional(bind.OutputPosition(bindableCount, index))
}

// funnel converts a raw result to the declared type. Containers are
// converted element by element; a missing converter leaves the value raw.
func (d *Dispatcher) funnel(p *Plan, result any) (any, error) {
	if result == nil {
		return nil, nil
	}
	target := p.Method.Returns
	elem := target
	if target.IsCollection() {
		elem = target.Element()
	}
	switch r := result.(type) {
	case []any:
		return d.convertAll(r, elem)
	case ir.Slice:
		content, err := d.convertAll(r.Content, elem)
		if err != nil {
			return nil, err
		}
		r.Content = content
		return r, nil
	case ir.Page:
		content, err := d.convertAll(r.Content, elem)
		if err != nil {
			return nil, err
		}
		r.Content = content
		return r, nil
	case iter.Seq2[any, error]:
		return d.convertStream(r, elem), nil
	case map[string]any:
		if p.Strategy == Procedure {
			return r, nil
		}
	}
	return d.convertOne(result, target)
}

func (d *Dispatcher) convertOne(v any, target ir.TypeRef) (any, error) {
	out, err := d.conv.Convert(v, target)
	if errors.Is(err, convert.ErrNoConverter) {
		return v, nil
	}
	return out, err
}

func (d *Dispatcher) convertAll(rows []any, elem ir.TypeRef) ([]any, error) {
	out := make([]any, len(rows))
	for i, row := range rows {
		c, err := d.convertOne(row, elem)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

func (d *Dispatcher) convertStream(seq iter.Seq2[any, error], elem ir.TypeRef) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for v, err := range seq {
			if err == nil {
				v, err = d.convertOne(v, elem)
			}
			if !yield(v, err) {
				return
			}
		}
	}
}
