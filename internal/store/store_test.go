package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/testutil"
)

var people = []ir.Record{
	{"id": int64(1), "name": "Ada", "lastname": "Lovelace", "age": 36, "active": true,
		"tags": []string{"math", "poetry"}, "address.city": "London",
		"createdAt": time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)},
	{"id": int64(2), "name": "Alan", "lastname": "Turing", "age": 41, "active": true,
		"tags": []string{"math", "crypto"}, "address.city": "Wilmslow",
		"createdAt": time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)},
	{"id": int64(3), "name": "Grace", "lastname": "Hopper", "age": 85, "active": false,
		"tags": []string{}, "address.city": "Arlington",
		"createdAt": time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)},
	{"id": int64(4), "name": "Edsger", "lastname": "Dijkstra", "age": 72, "active": true,
		"tags": []string{"algorithms"}, "address.city": "Nuenen",
		"createdAt": time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)},
}

// createTestStore opens a store in a temp dir and seeds the people above.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), testutil.Model())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.CreateSchema(ctx))
	for _, p := range people {
		require.NoError(t, s.Insert(ctx, "Person", p))
	}
	return s
}

func mustQuery(t *testing.T, s *Store, text string, native bool) *query {
	t.Helper()
	q, err := s.CreateQuery(context.Background(), text, ir.EntityRef("Person"), native)
	require.NoError(t, err)
	return q.(*query)
}

func ids(t *testing.T, rows []any) []int64 {
	t.Helper()
	out := make([]int64, len(rows))
	for i, r := range rows {
		rec, ok := r.(ir.Record)
		require.True(t, ok, "row %d is %T", i, r)
		out[i] = rec["id"].(int64)
	}
	return out
}

func TestOpen_CreateSchemaIsIdempotent(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.CreateSchema(context.Background()))

	var n int
	require.NoError(t, s.DB().QueryRow("SELECT count(*) FROM person").Scan(&n))
	assert.Equal(t, 4, n)
}

func TestInsert_Errors(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Insert(ctx, "Order", ir.Record{"id": 1})
	assert.ErrorContains(t, err, `unknown entity "Order"`)

	err = s.Insert(ctx, "Person", ir.Record{"id": int64(9), "nickname": "x"})
	assert.ErrorContains(t, err, `no property "nickname"`)
}

func TestResultList_EntityRecords(t *testing.T) {
	s := createTestStore(t)
	q := mustQuery(t, s, "select p from Person p where p.age > :age order by p.id", false)
	require.NoError(t, q.SetParameter(ir.Named("age"), 40))

	rows, err := q.ResultList(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4}, ids(t, rows))

	alan := rows[0].(ir.Record)
	assert.Equal(t, "Alan", alan["name"])
	assert.Equal(t, 41, alan["age"])
	assert.Equal(t, true, alan["active"])
	assert.Equal(t, "Wilmslow", alan["address.city"])
	assert.Nil(t, alan["address.zipCode"])
	assert.Equal(t, []any{"math", "crypto"}, alan["tags"])
	created, ok := alan["createdAt"].(time.Time)
	require.True(t, ok, "createdAt is %T", alan["createdAt"])
	assert.True(t, created.Equal(time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)))
}

func TestResultList_CollectionOperators(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		query  string
		params map[ir.Placeholder]any
		want   []int64
	}{
		{
			name:   "member of",
			query:  "select p from Person p where :tag MEMBER OF p.tags order by p.id",
			params: map[ir.Placeholder]any{ir.Named("tag"): "math"},
			want:   []int64{1, 2},
		},
		{
			name:   "not member of",
			query:  "select p from Person p where :tag NOT MEMBER OF p.tags order by p.id",
			params: map[ir.Placeholder]any{ir.Named("tag"): "math"},
			want:   []int64{3, 4},
		},
		{
			name:  "is empty",
			query: "select p from Person p where p.tags is empty",
			want:  []int64{3},
		},
		{
			name:   "in list",
			query:  "select p from Person p where p.age in :ages order by p.id",
			params: map[ir.Placeholder]any{ir.Named("ages"): []int{36, 72, 99}},
			want:   []int64{1, 4},
		},
		{
			name:   "empty in list",
			query:  "select p from Person p where p.age in :ages",
			params: map[ir.Placeholder]any{ir.Named("ages"): []int{}},
			want:   []int64{},
		},
		{
			name:   "case sensitive like",
			query:  "select p from Person p where p.name LIKE ?1 order by p.id",
			params: map[ir.Placeholder]any{ir.Positional(1): "A%"},
			want:   []int64{1, 2},
		},
		{
			name:   "boolean",
			query:  "select p from Person p where p.active IS FALSE",
			params: nil,
			want:   []int64{3},
		},
		{
			name:   "time comparison",
			query:  "select p from Person p where p.createdAt < :date order by p.id",
			params: map[ir.Placeholder]any{ir.Named("date"): time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
			want:   []int64{1, 2},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := mustQuery(t, s, tt.query, false)
			for p, v := range tt.params {
				require.NoError(t, q.SetParameter(p, v))
			}
			rows, err := q.ResultList(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(t, rows))
		})
	}
}

func TestResultList_Window(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "select p from Person p order by p.id", false)
	q.SetFirstResult(1)
	q.SetMaxResults(2)
	rows, err := q.ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(t, rows))

	q = mustQuery(t, s, "select p from Person p order by p.id", false)
	q.SetFirstResult(3)
	rows, err = q.ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, ids(t, rows))
}

func TestResultList_Scalars(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "select count(p) from Person p where p.active IS TRUE", false)
	n, err := q.SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	q = mustQuery(t, s, "select p.name from Person p order by p.age desc", false)
	rows, err := q.ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"Grace", "Edsger", "Alan", "Ada"}, rows)

	q = mustQuery(t, s, "select p.lastname, p.age from Person p where p.id = :id", false)
	require.NoError(t, q.SetParameter(ir.Named("id"), int64(1)))
	row, err := q.SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"lastname": "Lovelace", "age": 36}, row)
}

func TestSingleResult_Sentinels(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "select p from Person p where p.age > 100", false)
	_, err := q.SingleResult(ctx)
	assert.True(t, errors.Is(err, ir.ErrNoResult))

	q = mustQuery(t, s, "select p from Person p", false)
	_, err = q.SingleResult(ctx)
	assert.True(t, errors.Is(err, ir.ErrNonUniqueResult))
}

func TestNativeQuery(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "SELECT * FROM person WHERE age > ?1 ORDER BY id", true)
	require.NoError(t, q.SetParameter(ir.Positional(1), 70))
	rows, err := q.ResultList(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(t, rows))
	assert.Equal(t, "Arlington", rows[0].(ir.Record)["address.city"])
	assert.Equal(t, false, rows[0].(ir.Record)["active"])

	raw, err := s.CreateQuery(ctx, "SELECT name, age FROM person WHERE id = :id", ir.Scalar(ir.KindAny), true)
	require.NoError(t, err)
	require.NoError(t, raw.SetParameter(ir.Named("id"), int64(2)))
	row, err := raw.SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"name": "Alan", "age": int64(41)}, row)
}

func TestSetParameter_Unknown(t *testing.T) {
	s := createTestStore(t)
	q := mustQuery(t, s, "select p from Person p where p.age > :age", false)
	err := q.SetParameter(ir.Named("name"), "x")
	assert.ErrorContains(t, err, "query has no parameter")
}

func TestHints(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "select count(p) from Person p", false)
	require.NoError(t, q.SetHint(HintComment, "count people"))
	require.NoError(t, q.SetHint(HintTimeout, "5s"))
	require.NoError(t, q.SetHint("org.hibernate.fetchSize", 50))
	text, _, err := q.build(-1)
	require.NoError(t, err)
	assert.Equal(t, "/* count people */ select count(*) from person p", text)
	assert.Equal(t, 5*time.Second, q.timeout)

	n, err := q.SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	require.NoError(t, q.SetHint(HintTimeoutMillis, "250"))
	assert.Equal(t, 250*time.Millisecond, q.timeout)

	assert.Error(t, q.SetHint(HintTimeout, "soon"))
	assert.Error(t, q.SetHint(HintTimeoutMillis, "soon"))
}

func TestSetLockMode(t *testing.T) {
	s := createTestStore(t)

	q := mustQuery(t, s, "select p from Person p", false)
	assert.NoError(t, q.SetLockMode(ir.LockPessimisticWrite))

	u := mustQuery(t, s, "update Person p set p.active = false", false)
	assert.NoError(t, u.SetLockMode(ir.LockNone))
	assert.Error(t, u.SetLockMode(ir.LockPessimisticWrite))
}

func TestStream(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	q := mustQuery(t, s, "select p from Person p order by p.id", false)
	var got []int64
	for v, err := range q.Stream(ctx) {
		require.NoError(t, err)
		got = append(got, v.(ir.Record)["id"].(int64))
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{1, 2}, got)

	// Breaking out closed the rows, so the single connection is free.
	n, err := mustQuery(t, s, "select count(p) from Person p", false).SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestExecuteUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	u := mustQuery(t, s, "update Person p set p.active = false where p.age > ?1", false)
	require.NoError(t, u.SetParameter(ir.Positional(1), 70))
	n, err := u.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	d := mustQuery(t, s, "delete from Person p where p.address.city = :city", false)
	require.NoError(t, d.SetParameter(ir.Named("city"), "London"))
	n, err = d.ExecuteUpdate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = mustQuery(t, s, "select p from Person p", false).ExecuteUpdate(ctx)
	assert.ErrorContains(t, err, "requires an update or delete")
}

func TestTracking_ClearObservesUpdates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	load := func() ir.Record {
		q := mustQuery(t, s, "select p from Person p where p.id = 1", false)
		v, err := q.SingleResult(ctx)
		require.NoError(t, err)
		return v.(ir.Record)
	}

	assert.Equal(t, "Ada", load()["name"])
	assert.Equal(t, 1, s.Tracked())

	u := mustQuery(t, s, "update Person p set p.name = 'Augusta' where p.id = 1", false)
	_, err := u.ExecuteUpdate(ctx)
	require.NoError(t, err)

	assert.Equal(t, "Ada", load()["name"], "tracked record is returned until cleared")
	s.Clear()
	assert.Equal(t, 0, s.Tracked())
	assert.Equal(t, "Augusta", load()["name"])
}

func TestInTx(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	assert.False(t, s.ActiveTransaction(ctx))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(ctx context.Context) error {
		assert.True(t, s.ActiveTransaction(ctx))
		require.NoError(t, s.Insert(ctx, "Person", ir.Record{"id": int64(5), "name": "Barbara"}))

		// Nested calls join the outer transaction.
		return s.InTx(ctx, func(inner context.Context) error {
			assert.True(t, s.ActiveTransaction(inner))
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	n, err := mustQuery(t, s, "select count(p) from Person p", false).SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "rolled back")

	require.NoError(t, s.InTx(ctx, func(ctx context.Context) error {
		return s.Insert(ctx, "Person", ir.Record{"id": int64(5), "name": "Barbara"})
	}))
	n, err = mustQuery(t, s, "select count(p) from Person p", false).SingleResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}
