package execution

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/testutil"
)

type fakeQuery struct {
	rows     []any
	first    int
	max      int
	params   map[string]any
	updated  int64
	executed int
	err      error
}

func newFakeQuery(rows ...any) *fakeQuery {
	return &fakeQuery{rows: rows, params: map[string]any{}}
}

func (q *fakeQuery) SetParameter(p ir.Placeholder, v any) error {
	q.params[p.String()] = v
	return nil
}
func (q *fakeQuery) SetFirstResult(n int)          { q.first = n }
func (q *fakeQuery) SetMaxResults(n int)           { q.max = n }
func (q *fakeQuery) SetHint(string, any) error     { return nil }
func (q *fakeQuery) SetLockMode(ir.LockMode) error { return nil }
func (q *fakeQuery) window() []any {
	q.executed++
	rows := q.rows
	if q.first >= len(rows) {
		return []any{}
	}
	rows = rows[q.first:]
	if q.max > 0 && q.max < len(rows) {
		rows = rows[:q.max]
	}
	return append([]any{}, rows...)
}
func (q *fakeQuery) ResultList(context.Context) ([]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.window(), nil
}
func (q *fakeQuery) SingleResult(context.Context) (any, error) {
	rows := q.window()
	switch len(rows) {
	case 0:
		return nil, ir.ErrNoResult
	case 1:
		return rows[0], nil
	}
	return nil, ir.ErrNonUniqueResult
}
func (q *fakeQuery) Stream(context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, r := range q.window() {
			if !yield(r, nil) {
				return
			}
		}
	}
}
func (q *fakeQuery) ExecuteUpdate(context.Context) (int64, error) {
	q.executed++
	return q.updated, nil
}

type fakeSession struct {
	flushed int
	cleared int
}

func (s *fakeSession) CreateQuery(context.Context, string, ir.TypeRef, bool) (Query, error) {
	return newFakeQuery(), nil
}
func (s *fakeSession) CreateProcedureQuery(context.Context, string, bool, ir.TypeRef) (ProcedureQuery, error) {
	return &fakeProcedure{}, nil
}
func (s *fakeSession) Flush(context.Context) error { s.flushed++; return nil }
func (s *fakeSession) Clear()                      { s.cleared++ }

type fakeProcedure struct {
	resultSet bool
	rows      []any
	outputs   map[string]any
	closed    int
	closeErr  error
}

func (p *fakeProcedure) SetParameter(ir.Placeholder, any) error { return nil }
func (p *fakeProcedure) RegisterParameter(ir.Placeholder, ir.TypeRef, ir.ParameterMode) error {
	return nil
}
func (p *fakeProcedure) Execute(context.Context) (bool, error) { return p.resultSet, nil }
func (p *fakeProcedure) ResultList(context.Context) ([]any, error) {
	return p.rows, nil
}
func (p *fakeProcedure) SingleResult(context.Context) (any, error) {
	if len(p.rows) == 0 {
		return nil, ir.ErrNoResult
	}
	return p.rows[0], nil
}
func (p *fakeProcedure) OutputValue(ph ir.Placeholder) (any, error) {
	v, ok := p.outputs[ph.String()]
	if !ok {
		return nil, errors.New("no such output")
	}
	return v, nil
}
func (p *fakeProcedure) Close() error { p.closed++; return p.closeErr }

var (
	inTx    = TxProbeFunc(func(context.Context) bool { return true })
	outOfTx = TxProbeFunc(func(context.Context) bool { return false })
)

func people(n int) []any {
	rows := make([]any, n)
	for i := range rows {
		rows[i] = ir.Record{"id": int64(i + 1)}
	}
	return rows
}

func accessor(t *testing.T, m *ir.MethodDescriptor, args ...any) *bind.Accessor {
	t.Helper()
	acc, err := bind.NewAccessor(m, args)
	require.NoError(t, err)
	return acc
}

func pagedMethod(shape ir.ResultShape) *ir.MethodDescriptor {
	return testutil.Method("findByActiveTrue", shape, testutil.Special(ir.RolePage))
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		shape ir.ResultShape
		want  Strategy
	}{
		{ir.ShapeSingle, Single},
		{ir.ShapeCollection, Collection},
		{ir.ShapeSlice, Slice},
		{ir.ShapePage, Page},
		{ir.ShapeStream, Stream},
		{ir.ShapeModifying, Modifying},
		{ir.ShapeProcedure, Procedure},
	}
	for _, tt := range tests {
		t.Run(string(tt.shape), func(t *testing.T) {
			got, err := StrategyFor(testutil.Method("findAll", tt.shape))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, string(tt.shape), got.String())
		})
	}
}

func TestStrategyForModifyingReturnTypes(t *testing.T) {
	for _, kind := range []ir.Kind{ir.KindVoid, ir.KindInt, ir.KindInt64} {
		m := testutil.Method("deleteAll", ir.ShapeModifying)
		m.Returns = ir.Scalar(kind)
		_, err := StrategyFor(m)
		assert.NoError(t, err, kind)
	}

	m := testutil.Method("deleteAll", ir.ShapeModifying)
	m.Returns = ir.EntityRef("Person")
	_, err := StrategyFor(m)
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.CodeInvalidReturnType))
	assert.True(t, ir.IsConstructionError(err))
}

func TestSingle(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := testutil.Method("findById", ir.ShapeSingle, testutil.Param("id", testutil.Int64))
	acc := accessor(t, m, int64(1))

	got, err := d.Execute(context.Background(), &Plan{Strategy: Single, Method: m, Query: newFakeQuery(people(1)...), Accessor: acc})
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"id": int64(1)}, got)

	got, err = d.Execute(context.Background(), &Plan{Strategy: Single, Method: m, Query: newFakeQuery(), Accessor: acc})
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = d.Execute(context.Background(), &Plan{Strategy: Single, Method: m, Query: newFakeQuery(people(2)...), Accessor: acc})
	assert.ErrorIs(t, err, ir.ErrNonUniqueResult)
}

func TestCollectionPropagatesErrors(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := testutil.Method("findAll", ir.ShapeCollection)
	q := newFakeQuery()
	q.err = errors.New("disk on fire")

	_, err := d.Execute(context.Background(), &Plan{Strategy: Collection, Method: m, Query: q, Accessor: accessor(t, m)})
	assert.EqualError(t, err, "disk on fire")
}

func TestSliceSevenRowsPageOfFive(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := pagedMethod(ir.ShapeSlice)
	q := newFakeQuery(people(7)...)

	got, err := d.Execute(context.Background(), &Plan{
		Strategy: Slice, Method: m, Query: q, Accessor: accessor(t, m, ir.PageOf(0, 5)),
	})
	require.NoError(t, err)

	s := got.(ir.Slice)
	assert.Equal(t, 6, q.max)
	assert.Equal(t, 0, q.first)
	assert.Len(t, s.Content, 5)
	assert.True(t, s.HasNext)

	q = newFakeQuery(people(7)...)
	got, err = d.Execute(context.Background(), &Plan{
		Strategy: Slice, Method: m, Query: q, Accessor: accessor(t, m, ir.PageOf(1, 5)),
	})
	require.NoError(t, err)
	s = got.(ir.Slice)
	assert.Equal(t, 5, q.first)
	assert.Len(t, s.Content, 2)
	assert.False(t, s.HasNext)
}

func TestSliceUnpaged(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := pagedMethod(ir.ShapeSlice)
	got, err := d.Execute(context.Background(), &Plan{
		Strategy: Slice, Method: m, Query: newFakeQuery(people(7)...), Accessor: accessor(t, m, nil),
	})
	require.NoError(t, err)
	s := got.(ir.Slice)
	assert.Len(t, s.Content, 7)
	assert.False(t, s.HasNext)
}

func TestPageSevenRowsPageOfFive(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := pagedMethod(ir.ShapePage)
	q := newFakeQuery(people(7)...)
	count := newFakeQuery(int64(7))

	got, err := d.Execute(context.Background(), &Plan{
		Strategy: Page, Method: m, Query: q, Count: count, Accessor: accessor(t, m, ir.PageOf(0, 5)),
	})
	require.NoError(t, err)

	page := got.(ir.Page)
	assert.Len(t, page.Content, 5)
	assert.Equal(t, int64(7), page.Total)
	assert.Equal(t, 2, page.TotalPages())
	assert.True(t, page.HasNext())
	assert.Equal(t, 1, count.executed)
}

func TestPageTotalShortcuts(t *testing.T) {
	calls := 0
	count := func() (int64, error) { calls++; return 99, nil }

	tests := []struct {
		name  string
		req   ir.PageRequest
		n     int
		want  int64
		calls int
	}{
		{"unpaged", ir.Unpaged(), 7, 7, 0},
		{"first page not full", ir.PageOf(0, 5), 3, 3, 0},
		{"first page full", ir.PageOf(0, 5), 5, 99, 1},
		{"last partial page", ir.PageOf(2, 5), 2, 12, 0},
		{"middle page full", ir.PageOf(1, 5), 5, 99, 1},
		{"past the end", ir.PageOf(4, 5), 0, 99, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = 0
			got, err := pageTotal(tt.req, tt.n, count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.calls, calls)
		})
	}
}

func TestPageGroupedCountUsesRowCount(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())
	m := pagedMethod(ir.ShapePage)
	got, err := d.Execute(context.Background(), &Plan{
		Strategy: Page, Method: m, Query: newFakeQuery(people(2)...),
		Count: newFakeQuery(int64(1), int64(1), int64(1)), Accessor: accessor(t, m, ir.PageOf(0, 2)),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.(ir.Page).Total)
}

func TestStreamRequiresTransaction(t *testing.T) {
	m := testutil.Method("streamAllBy", ir.ShapeStream)

	d := NewDispatcher(&fakeSession{}, outOfTx, convert.Default())
	_, err := d.Execute(context.Background(), &Plan{Strategy: Stream, Method: m, Query: newFakeQuery(people(3)...), Accessor: accessor(t, m)})
	require.Error(t, err)
	assert.True(t, ir.IsCode(err, ir.CodeMissingTransaction))

	d = NewDispatcher(&fakeSession{}, inTx, convert.Default())
	got, err := d.Execute(context.Background(), &Plan{Strategy: Stream, Method: m, Query: newFakeQuery(people(3)...), Accessor: accessor(t, m)})
	require.NoError(t, err)

	var n int
	for row, err := range got.(iter.Seq2[any, error]) {
		require.NoError(t, err)
		assert.IsType(t, ir.Record{}, row)
		n++
	}
	assert.Equal(t, 3, n)
}

func TestModifying(t *testing.T) {
	s := &fakeSession{}
	d := NewDispatcher(s, nil, convert.Default())
	m := testutil.Method("deleteByAge", ir.ShapeModifying, testutil.Param("age", testutil.Int))
	m.FlushAutomatically = true
	m.ClearAutomatically = true
	q := newFakeQuery()
	q.updated = 4

	got, err := d.Execute(context.Background(), &Plan{Strategy: Modifying, Method: m, Query: q, Accessor: accessor(t, m, 3)})
	require.NoError(t, err)
	assert.Equal(t, 4, got)
	assert.Equal(t, 1, s.flushed)
	assert.Equal(t, 1, s.cleared)

	m.Returns = ir.Scalar(ir.KindVoid)
	m.FlushAutomatically, m.ClearAutomatically = false, false
	got, err = d.Execute(context.Background(), &Plan{Strategy: Modifying, Method: m, Query: q, Accessor: accessor(t, m, 3)})
	require.NoError(t, err)
	assert.Nil(t, got, "void methods discard the count")
	assert.Equal(t, 2, q.executed)
	assert.Equal(t, 1, s.flushed)
}

func procedureMethod(proc *ir.Procedure, returns ir.TypeRef, params ...ir.Parameter) *ir.MethodDescriptor {
	m := testutil.Method(proc.Name, ir.ShapeProcedure, params...)
	m.Kind = ir.QueryProcedure
	m.Procedure = proc
	m.Returns = returns
	return m
}

func TestProcedureOutputs(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())

	single := procedureMethod(&ir.Procedure{Name: "plus1", Outputs: []ir.OutputParameter{{Type: testutil.Int, Mode: ir.ModeOut}}},
		testutil.Int, testutil.Param("arg", testutil.Int))
	q := &fakeProcedure{outputs: map[string]any{"?2": int64(42)}}
	got, err := d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: single, Procedure: q, Accessor: accessor(t, single, 41)})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, q.closed)

	outputs := []ir.OutputParameter{
		{Name: "total", Type: testutil.Int64, Mode: ir.ModeOut},
		{Name: "label", Type: testutil.String, Mode: ir.ModeOut},
	}
	multi := procedureMethod(&ir.Procedure{Name: "stats", Outputs: outputs},
		ir.Scalar(ir.KindAny), testutil.Param("min", testutil.Int))
	q = &fakeProcedure{outputs: map[string]any{":total": int64(7), ":label": "people"}}
	got, err = d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: multi, Procedure: q, Accessor: accessor(t, multi, 1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": int64(7), "label": "people"}, got)

	// positional parameters address outputs after the inputs, names or not
	positional := procedureMethod(&ir.Procedure{Name: "stats", Named: true, Outputs: outputs},
		ir.Scalar(ir.KindAny), testutil.Positional(testutil.Int))
	q = &fakeProcedure{outputs: map[string]any{"?2": int64(7), "?3": "people"}}
	got, err = d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: positional, Procedure: q, Accessor: accessor(t, positional, 1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"total": int64(7), "label": "people"}, got)
}

func TestProcedureResultSetRequiresTransaction(t *testing.T) {
	m := procedureMethod(&ir.Procedure{Name: "adults", ResultSet: true}, ir.CollectionOf(ir.EntityRef("Person")))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	q := &fakeProcedure{resultSet: true, rows: people(2), closeErr: errors.New("already closed")}

	d := NewDispatcher(&fakeSession{}, outOfTx, convert.Default(), WithLogger(logger))
	_, err := d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: m, Procedure: q, Accessor: accessor(t, m)})
	assert.True(t, ir.IsCode(err, ir.CodeMissingTransaction))
	assert.Equal(t, 1, q.closed, "closed on the error path")
	assert.Contains(t, logs.String(), "already closed")

	d = NewDispatcher(&fakeSession{}, inTx, convert.Default(), WithLogger(logger))
	got, err := d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: m, Procedure: q, Accessor: accessor(t, m)})
	require.NoError(t, err, "close errors are never returned")
	assert.Len(t, got, 2)
	assert.Equal(t, 2, q.closed)
}

func TestProcedureFollowsSignalledResultSet(t *testing.T) {
	outputs := []ir.OutputParameter{{Type: testutil.Int, Mode: ir.ModeOut}}

	// not declared as a result set, but the call produces one
	undeclared := procedureMethod(&ir.Procedure{Name: "p1", Outputs: outputs}, testutil.Int)
	q := &fakeProcedure{resultSet: true, rows: []any{int64(5)}, outputs: map[string]any{"?1": int64(5)}}
	d := NewDispatcher(&fakeSession{}, outOfTx, convert.Default())
	_, err := d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: undeclared, Procedure: q, Accessor: accessor(t, undeclared)})
	assert.True(t, ir.IsCode(err, ir.CodeMissingTransaction), "got %v", err)
	assert.Equal(t, 1, q.closed)

	// declared as a result set, but the call only produces outputs
	declared := procedureMethod(&ir.Procedure{Name: "p2", ResultSet: true, Outputs: outputs}, testutil.Int)
	q = &fakeProcedure{outputs: map[string]any{"?1": int64(9)}}
	d = NewDispatcher(&fakeSession{}, inTx, convert.Default())
	got, err := d.Execute(context.Background(), &Plan{Strategy: Procedure, Method: declared, Procedure: q, Accessor: accessor(t, declared)})
	require.NoError(t, err)
	assert.Equal(t, 9, got)
}

func TestLimitCapsPagedWindows(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())

	tests := []struct {
		name     string
		shape    ir.ResultShape
		req      ir.PageRequest
		limit    int
		wantMax  int
		wantRows int
		hasNext  bool
		total    int64
	}{
		{"slice inside the limit", ir.ShapeSlice, ir.PageOf(0, 2), 5, 3, 2, true, 0},
		{"slice reaching the limit", ir.ShapeSlice, ir.PageOf(0, 10), 2, 2, 2, false, 0},
		{"slice straddling the limit", ir.ShapeSlice, ir.PageOf(1, 3), 5, 2, 2, false, 0},
		{"slice past the limit", ir.ShapeSlice, ir.PageOf(2, 3), 5, 0, 0, false, 0},
		{"page reaching the limit", ir.ShapePage, ir.PageOf(0, 10), 2, 2, 2, false, 2},
		{"page inside the limit", ir.ShapePage, ir.PageOf(0, 2), 3, 2, 2, true, 3},
		{"page past the limit", ir.ShapePage, ir.PageOf(3, 2), 3, 0, 0, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := pagedMethod(tt.shape)
			q := newFakeQuery(people(7)...)
			plan := &Plan{Method: m, Query: q, Count: newFakeQuery(int64(7)), Limit: tt.limit,
				Accessor: accessor(t, m, tt.req)}
			plan.Strategy = Slice
			if tt.shape == ir.ShapePage {
				plan.Strategy = Page
			}
			got, err := d.Execute(context.Background(), plan)
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, q.max)

			switch r := got.(type) {
			case ir.Slice:
				assert.Len(t, r.Content, tt.wantRows)
				assert.Equal(t, tt.hasNext, r.HasNext)
			case ir.Page:
				assert.Len(t, r.Content, tt.wantRows)
				assert.Equal(t, tt.total, r.Total)
				assert.Equal(t, tt.hasNext, r.HasNext())
			default:
				t.Fatalf("unexpected result %T", got)
			}
		})
	}
}

func TestFunnelConvertsOrReturnsRaw(t *testing.T) {
	d := NewDispatcher(&fakeSession{}, nil, convert.Default())

	m := testutil.Method("countByActiveTrue", ir.ShapeSingle)
	m.Returns = testutil.Int
	got, err := d.Execute(context.Background(), &Plan{Strategy: Single, Method: m, Query: newFakeQuery(int64(3)), Accessor: accessor(t, m)})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	m.Returns = ir.EntityRef("Person")
	got, err = d.Execute(context.Background(), &Plan{Strategy: Single, Method: m, Query: newFakeQuery(int64(3)), Accessor: accessor(t, m)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got, "no converter leaves the value raw")
}

func TestOutputPlaceholder(t *testing.T) {
	assert.Equal(t, ir.Named("total"), OutputPlaceholder(true, ir.OutputParameter{Name: "total"}, 2, 0))
	assert.Equal(t, ir.Positional(3), OutputPlaceholder(true, ir.OutputParameter{}, 2, 0))
	assert.Equal(t, ir.Positional(4), OutputPlaceholder(false, ir.OutputParameter{Name: "x"}, 2, 1))
}
