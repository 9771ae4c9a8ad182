package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/roach88/finder/internal/execution"
	"github.com/roach88/finder/internal/ir"
)

// Hint names understood by queries. Other hints are ignored.
const (
	HintComment = "comment"
	HintTimeout = "timeout"

	// HintTimeoutMillis is the standard persistence timeout hint, in
	// milliseconds.
	HintTimeoutMillis = "jakarta.persistence.query.timeout"
)

type query struct {
	store   *Store
	stmt    *statement
	values  map[ir.Placeholder]any
	first   int
	max     int // -1 when unbounded
	comment string
	timeout time.Duration
	lock    ir.LockMode
}

var _ execution.Query = (*query)(nil)

func newQuery(s *Store, stmt *statement) *query {
	return &query{store: s, stmt: stmt, values: make(map[ir.Placeholder]any), max: -1}
}

// SetParameter binds a value to a placeholder the statement references.
func (q *query) SetParameter(p ir.Placeholder, value any) error {
	if !q.stmt.params[p] {
		return fmt.Errorf("query has no parameter %s", p)
	}
	q.values[p] = value
	return nil
}

func (q *query) SetFirstResult(n int) { q.first = n }

func (q *query) SetMaxResults(n int) { q.max = n }

func (q *query) SetHint(name string, value any) error {
	switch name {
	case HintComment:
		q.comment = fmt.Sprint(value)
	case HintTimeout:
		d, err := time.ParseDuration(fmt.Sprint(value))
		if err != nil {
			return fmt.Errorf("invalid timeout hint: %w", err)
		}
		q.timeout = d
	case HintTimeoutMillis:
		ms, err := strconv.Atoi(fmt.Sprint(value))
		if err != nil {
			return fmt.Errorf("invalid timeout hint: %w", err)
		}
		q.timeout = time.Duration(ms) * time.Millisecond
	default:
		q.store.logger.Debug("ignoring query hint", "hint", name)
	}
	return nil
}

// SetLockMode accepts a lock mode for select statements. SQLite serializes
// writers, so the mode needs no further translation.
func (q *query) SetLockMode(mode ir.LockMode) error {
	if mode != ir.LockNone && q.stmt.kind != stmtSelect {
		return fmt.Errorf("lock mode %s requires a select statement", mode)
	}
	q.lock = mode
	return nil
}

// build renders the final statement text and arguments with the current
// window and hints applied.
func (q *query) build(max int) (string, []any, error) {
	text, args, err := q.stmt.render(q.values)
	if err != nil {
		return "", nil, err
	}
	switch {
	case max >= 0:
		text += fmt.Sprintf(" LIMIT %d", max)
		if q.first > 0 {
			text += fmt.Sprintf(" OFFSET %d", q.first)
		}
	case q.first > 0:
		text += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.first)
	}
	if q.comment != "" {
		text = "/* " + q.comment + " */ " + text
	}
	return text, args, nil
}

func (q *query) context(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout > 0 {
		return context.WithTimeout(ctx, q.timeout)
	}
	return ctx, func() {}
}

func (q *query) rows(ctx context.Context, max int) (*sql.Rows, error) {
	text, args, err := q.build(max)
	if err != nil {
		return nil, err
	}
	q.store.logger.Debug("query", "sql", text)
	rows, err := q.store.conn(ctx).QueryContext(ctx, text, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q.stmt.source, err)
	}
	return rows, nil
}

// ResultList runs the query and returns every row.
func (q *query) ResultList(ctx context.Context) ([]any, error) {
	ctx, cancel := q.context(ctx)
	defer cancel()
	rows, err := q.rows(ctx, q.max)
	if err != nil {
		return nil, err
	}
	return q.store.scanAll(q.stmt, rows)
}

// SingleResult returns the only row, ir.ErrNoResult when there is
// none and ir.ErrNonUniqueResult when there is more than one.
func (q *query) SingleResult(ctx context.Context) (any, error) {
	ctx, cancel := q.context(ctx)
	defer cancel()
	max := 2
	if q.max >= 0 && q.max < max {
		max = q.max
	}
	rows, err := q.rows(ctx, max)
	if err != nil {
		return nil, err
	}
	list, err := q.store.scanAll(q.stmt, rows)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 0:
		return nil, ir.ErrNoResult
	case 1:
		return list[0], nil
	}
	return nil, ir.ErrNonUniqueResult
}

// Stream iterates rows lazily. The rows are closed when iteration stops.
func (q *query) Stream(ctx context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		ctx, cancel := q.context(ctx)
		defer cancel()
		rows, err := q.rows(ctx, q.max)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()
		sc, err := q.store.newScanner(q.stmt, rows)
		if err != nil {
			yield(nil, err)
			return
		}
		for rows.Next() {
			v, err := sc.scan(rows)
			if !yield(v, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// ExecuteUpdate runs an update or delete and returns the affected row
// count.
func (q *query) ExecuteUpdate(ctx context.Context) (int64, error) {
	if q.stmt.kind == stmtSelect {
		return 0, errors.New("executeUpdate requires an update or delete statement")
	}
	ctx, cancel := q.context(ctx)
	defer cancel()
	text, args, err := q.build(-1)
	if err != nil {
		return 0, err
	}
	q.store.logger.Debug("update", "sql", text)
	res, err := q.store.conn(ctx).ExecContext(ctx, text, args...)
	if err != nil {
		return 0, fmt.Errorf("update %q: %w", q.stmt.source, err)
	}
	return res.RowsAffected()
}
