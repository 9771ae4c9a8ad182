package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/finder/internal/compiler"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/engine"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/metrics"
	"github.com/roach88/finder/internal/store"
	"github.com/roach88/finder/internal/testutil"
)

// Option configures a scenario run.
type Option func(*runConfig)

type runConfig struct {
	logger   *slog.Logger
	registry prometheus.Registerer
}

// WithLogger sets the logger handed to the store and engine.
//
// Default: logs are discarded
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// WithRegisterer records engine metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *runConfig) {
		c.registry = reg
	}
}

// Harness holds the per-scenario environment.
type Harness struct {
	store  *store.Store
	repo   *engine.Repository
	conv   *convert.Table
	model  *ir.Metamodel
	ids    *testutil.SequenceIDGenerator
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, and
// invocation ids come from a sequence so logs and traces are reproducible.
//
// Execution flow:
// 1. Load entities and repositories from the specs directory
// 2. Create the schema, seed records, register procedures
// 3. Plan every repository method
// 4. Execute flow steps, checking expect clauses
// 5. Evaluate assertions
//
// Run returns an error only when the environment cannot be built; step
// and assertion failures are reported in the Result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := &runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(cfg)
	}

	cat, errs := compiler.LoadDir(scenario.Specs, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load specs: %w", errors.Join(errs...))
	}
	decl, ok := cat.Repository(scenario.Repository)
	if !ok {
		return nil, fmt.Errorf("repository %s is not declared in %s", scenario.Repository, scenario.Specs)
	}

	st, err := store.Open(":memory:", cat.Model, store.WithLogger(cfg.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		conv:   convert.Default(),
		model:  cat.Model,
		ids:    testutil.NewSequenceIDGenerator(scenario.InvocationPrefix),
		logger: cfg.logger,
	}
	if err := h.setup(ctx, scenario); err != nil {
		return nil, err
	}

	engOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithIDGenerator(h.ids),
		engine.WithConverter(h.conv),
	}
	if cfg.registry != nil {
		engOpts = append(engOpts, engine.WithMetrics(metrics.New(cfg.registry)))
	}
	eng, err := engine.New(st, engOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	h.repo, err = engine.NewRepository(eng, decl.Name, cat.Model, decl.Methods)
	if err != nil {
		return nil, fmt.Errorf("failed to plan repository: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		h.executeStep(ctx, i, step, result)
	}

	actx := &AssertionContext{Store: st, Model: cat.Model, Conv: h.conv, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// setup creates the schema, inserts seed records, and registers procedures.
func (h *Harness) setup(ctx context.Context, s *Scenario) error {
	if err := h.store.CreateSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	for i, block := range s.Seed {
		ent, ok := h.model.Entity(block.Entity)
		if !ok {
			return fmt.Errorf("seed[%d]: unknown entity %q", i, block.Entity)
		}
		for j, raw := range block.Records {
			rec := make(ir.Record, len(raw))
			for key, v := range raw {
				path, err := ent.ResolveDotted(key)
				if err != nil {
					return fmt.Errorf("seed[%d].records[%d]: %w", i, j, err)
				}
				if rec[key], err = h.conv.Convert(v, path.Type()); err != nil {
					return fmt.Errorf("seed[%d].records[%d].%s: %w", i, j, key, err)
				}
			}
			if err := h.store.Insert(ctx, block.Entity, rec); err != nil {
				return fmt.Errorf("seed[%d].records[%d]: %w", i, j, err)
			}
		}
	}
	for name, p := range s.Procedures {
		h.store.RegisterProcedure(name, store.ProcedureDef{SQL: p.SQL, ResultSet: p.ResultSet})
	}
	return nil
}

// executeStep invokes one method and checks its expect clause.
func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) {
	event := TraceEvent{Method: step.Invoke, Args: step.Args}
	if event.Args == nil {
		event.Args = []any{}
	}

	before := h.ids.Count()
	var out any
	err := h.invoke(ctx, step, &out)
	if h.ids.Count() != before {
		event.ID = h.ids.Last()
	}

	event.Outcome = "ok"
	if err != nil {
		event.Outcome = "error"
		if code := ir.CodeOf(err); code != "" {
			event.Outcome = string(code)
		}
		event.Error = err.Error()
	} else {
		event.Result = out
	}
	result.AddTrace(event)

	h.logger.Info("flow step completed",
		"step", i,
		"method", step.Invoke,
		"invocation", event.ID,
		"outcome", event.Outcome,
	)

	for _, msg := range checkExpect(step, event) {
		result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
	}
}

// invoke coerces arguments, runs the method, and normalizes the result.
// Streams are consumed inside the step's transaction.
func (h *Harness) invoke(ctx context.Context, step FlowStep, out *any) error {
	plan, ok := h.repo.Plan(step.Invoke)
	if !ok {
		return fmt.Errorf("repository %s has no method %s", h.repo.Name(), step.Invoke)
	}
	args, err := engine.CoerceArgs(plan.Method(), h.conv, step.Args)
	if err != nil {
		return err
	}

	call := func(ctx context.Context) error {
		res, err := h.repo.Invoke(ctx, step.Invoke, args...)
		if err != nil {
			return err
		}
		*out, err = Normalize(res)
		return err
	}
	if step.Transaction {
		return h.store.InTx(ctx, call)
	}
	return call(ctx)
}

// Normalize converts a method result into plain JSON-friendly values:
// records become maps, pages and slices become maps with their window
// attributes, streams are drained into lists, and times become RFC 3339
// strings.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case iter.Seq2[any, error]:
		rows := []any{}
		for row, err := range x {
			if err != nil {
				return nil, err
			}
			n, err := Normalize(row)
			if err != nil {
				return nil, err
			}
			rows = append(rows, n)
		}
		return rows, nil
	case ir.Page:
		content, err := Normalize(x.Content)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content":  content,
			"page":     x.Request.Page,
			"size":     x.Request.Size,
			"total":    x.Total,
			"has_next": x.HasNext(),
		}, nil
	case ir.Slice:
		content, err := Normalize(x.Content)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content":  content,
			"page":     x.Request.Page,
			"size":     x.Request.Size,
			"has_next": x.HasNext,
		}, nil
	case ir.Record:
		return normalizeMap(x)
	case map[string]any:
		return normalizeMap(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return string(x), nil
	}

	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice {
		out := make([]any, rv.Len())
		for i := range out {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}
	return v, nil
}

func normalizeMap(m map[string]any) (any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

// canonical round-trips v through JSON so that values decoded from YAML
// and values produced by the engine compare equal (all numbers become
// float64).
func canonical(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkExpect compares a trace event with the step's expect clause.
func checkExpect(step FlowStep, event TraceEvent) []string {
	exp := step.Expect
	if exp == nil || exp.Error == "" {
		if event.Outcome != "ok" {
			return []string{fmt.Sprintf("unexpected error: %s", event.Error)}
		}
	}
	if exp == nil {
		return nil
	}
	if exp.Error != "" {
		if event.Outcome != exp.Error {
			return []string{fmt.Sprintf("expected error %s, got %s", exp.Error, event.Outcome)}
		}
		return nil
	}

	actual, err := canonical(event.Result)
	if err != nil {
		return []string{fmt.Sprintf("result is not serializable: %v", err)}
	}

	var errs []string
	if exp.Result != nil {
		want, err := canonical(exp.Result)
		if err != nil {
			errs = append(errs, fmt.Sprintf("expected result is not serializable: %v", err))
		} else if !reflect.DeepEqual(want, actual) {
			errs = append(errs, fmt.Sprintf("expected result %v, got %v", want, actual))
		}
	}

	rows, windowed := contentOf(actual)
	if exp.Count != nil {
		if rows == nil {
			errs = append(errs, fmt.Sprintf("expected %d rows, result is not a list", *exp.Count))
		} else if len(rows) != *exp.Count {
			errs = append(errs, fmt.Sprintf("expected %d rows, got %d", *exp.Count, len(rows)))
		}
	}
	if exp.IDs != nil {
		got := idsOf(rows)
		if !reflect.DeepEqual(exp.IDs, got) {
			errs = append(errs, fmt.Sprintf("expected ids %v, got %v", exp.IDs, got))
		}
	}
	if exp.Total != nil {
		total, ok := windowed["total"].(float64)
		if !ok || int64(total) != *exp.Total {
			errs = append(errs, fmt.Sprintf("expected total %d, got %v", *exp.Total, windowed["total"]))
		}
	}
	if exp.HasNext != nil {
		hasNext, ok := windowed["has_next"].(bool)
		if !ok || hasNext != *exp.HasNext {
			errs = append(errs, fmt.Sprintf("expected has_next %t, got %v", *exp.HasNext, windowed["has_next"]))
		}
	}
	return errs
}

// contentOf returns the rows of a canonical list, page, or slice, and the
// page or slice map itself.
func contentOf(v any) ([]any, map[string]any) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case map[string]any:
		if rows, ok := x["content"].([]any); ok {
			return rows, x
		}
		return nil, x
	}
	return nil, nil
}

func idsOf(rows []any) []int64 {
	ids := []int64{}
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := m["id"].(float64); ok {
			ids = append(ids, int64(id))
		}
	}
	return ids
}
