// Package execution runs bound queries according to a method's declared
// result shape.
//
// The strategy is chosen once, when a plan is built, from a closed set;
// Dispatcher.Execute looks the arm up in a fixed table. Results then pass
// through a single conversion funnel to the method's declared type.
package execution

import (
	"context"
	"iter"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/ir"
)

// Query is a native query created by a Session for one invocation.
type Query interface {
	bind.Settable
	SetFirstResult(n int)
	SetMaxResults(n int)
	SetHint(name string, value any) error
	SetLockMode(mode ir.LockMode) error
	ResultList(ctx context.Context) ([]any, error)
	// SingleResult returns ir.ErrNoResult or ir.ErrNonUniqueResult when
	// the query does not produce exactly one row.
	SingleResult(ctx context.Context) (any, error)
	Stream(ctx context.Context) iter.Seq2[any, error]
	ExecuteUpdate(ctx context.Context) (int64, error)
}

// ProcedureQuery is a stored procedure call. It must be closed.
type ProcedureQuery interface {
	bind.Settable
	RegisterParameter(p ir.Placeholder, t ir.TypeRef, mode ir.ParameterMode) error
	// Execute runs the procedure and reports whether it produced a result set.
	Execute(ctx context.Context) (bool, error)
	ResultList(ctx context.Context) ([]any, error)
	SingleResult(ctx context.Context) (any, error)
	OutputValue(p ir.Placeholder) (any, error)
	Close() error
}

// Session creates native queries. It is the query engine the dispatcher
// drives.
type Session interface {
	CreateQuery(ctx context.Context, text string, resultType ir.TypeRef, native bool) (Query, error)
	CreateProcedureQuery(ctx context.Context, name string, named bool, resultType ir.TypeRef) (ProcedureQuery, error)
	Flush(ctx context.Context) error
	Clear()
}

// TxProbe reports whether ctx carries an active transaction.
type TxProbe interface {
	ActiveTransaction(ctx context.Context) bool
}

// TxProbeFunc adapts a function to TxProbe.
type TxProbeFunc func(ctx context.Context) bool

// ActiveTransaction calls f.
func (f TxProbeFunc) ActiveTransaction(ctx context.Context) bool { return f(ctx) }
