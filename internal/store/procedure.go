package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/finder/internal/execution"
	"github.com/roach88/finder/internal/ir"
)

// ProcedureDef emulates a stored procedure with a SQL statement, since
// SQLite has none. Inputs are the statement's placeholders: "?1", "?2" for
// positional calls and ":name" for named ones. Output parameters are read
// from the columns of the first row, in order; with ResultSet the rows
// themselves are the result.
type ProcedureDef struct {
	SQL       string
	ResultSet bool
}

// RegisterProcedure makes a procedure callable by name.
func (s *Store) RegisterProcedure(name string, def ProcedureDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[name] = def
}

// CreateProcedureQuery prepares a call of a registered procedure. Named and
// positional calls share a definition; the placeholders in its SQL decide
// how inputs are addressed.
func (s *Store) CreateProcedureQuery(_ context.Context, name string, _ bool, resultType ir.TypeRef) (execution.ProcedureQuery, error) {
	s.mu.Lock()
	def, ok := s.procedures[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown procedure %q", name)
	}
	stmt, err := parseNative(s.model, def.SQL, resultType)
	if err != nil {
		return nil, fmt.Errorf("procedure %s: %w", name, err)
	}
	return &procedureCall{
		name:  name,
		def:   def,
		query: newQuery(s, stmt),
		modes: make(map[ir.Placeholder]ir.ParameterMode),
	}, nil
}

var errClosed = errors.New("procedure call is closed")

type procedureCall struct {
	name   string
	def    ProcedureDef
	query  *query
	modes  map[ir.Placeholder]ir.ParameterMode
	inputs int

	executed bool
	closed   bool
	rows     []any
	outNames map[string]any
	outOrder []any
}

var _ execution.ProcedureQuery = (*procedureCall)(nil)

func (c *procedureCall) RegisterParameter(p ir.Placeholder, _ ir.TypeRef, mode ir.ParameterMode) error {
	if c.closed {
		return errClosed
	}
	if _, dup := c.modes[p]; dup {
		return fmt.Errorf("parameter %s registered twice", p)
	}
	c.modes[p] = mode
	if mode == ir.ModeIn || mode == ir.ModeInOut {
		c.inputs++
	}
	return nil
}

func (c *procedureCall) SetParameter(p ir.Placeholder, value any) error {
	if c.closed {
		return errClosed
	}
	mode, ok := c.modes[p]
	if !ok {
		return fmt.Errorf("parameter %s is not registered", p)
	}
	if mode != ir.ModeIn && mode != ir.ModeInOut {
		return fmt.Errorf("parameter %s is an output", p)
	}
	return c.query.SetParameter(p, value)
}

// Execute runs the statement. Without a result set the first row supplies
// the output parameters.
func (c *procedureCall) Execute(ctx context.Context) (bool, error) {
	if c.closed {
		return false, errClosed
	}
	ctx, cancel := c.query.context(ctx)
	defer cancel()
	rows, err := c.query.rows(ctx, -1)
	if err != nil {
		return false, fmt.Errorf("call %s: %w", c.name, err)
	}
	if c.def.ResultSet {
		if c.rows, err = c.query.store.scanAll(c.query.stmt, rows); err != nil {
			return false, fmt.Errorf("call %s: %w", c.name, err)
		}
		c.executed = true
		return true, nil
	}

	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return false, fmt.Errorf("call %s: %w", c.name, err)
	}
	c.outNames = make(map[string]any, len(cols))
	c.outOrder = make([]any, len(cols))
	if rows.Next() {
		ptrs := make([]any, len(cols))
		for i := range c.outOrder {
			ptrs[i] = &c.outOrder[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return false, fmt.Errorf("call %s: %w", c.name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("call %s: %w", c.name, err)
	}
	for i, col := range cols {
		if b, ok := c.outOrder[i].([]byte); ok {
			c.outOrder[i] = string(b)
		}
		c.outNames[col] = c.outOrder[i]
	}
	c.executed = true
	return false, nil
}

func (c *procedureCall) ResultList(context.Context) ([]any, error) {
	if !c.executed {
		return nil, fmt.Errorf("procedure %s has not been executed", c.name)
	}
	return c.rows, nil
}

func (c *procedureCall) SingleResult(ctx context.Context) (any, error) {
	rows, err := c.ResultList(ctx)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, ir.ErrNoResult
	case 1:
		return rows[0], nil
	}
	return nil, ir.ErrNonUniqueResult
}

// OutputValue returns an output parameter: by column name for named
// placeholders, by position after the inputs otherwise.
func (c *procedureCall) OutputValue(p ir.Placeholder) (any, error) {
	if c.closed {
		return nil, errClosed
	}
	if !c.executed {
		return nil, fmt.Errorf("procedure %s has not been executed", c.name)
	}
	if mode, ok := c.modes[p]; !ok || mode == ir.ModeIn {
		return nil, fmt.Errorf("parameter %s is not an output", p)
	}
	if p.Name != "" {
		v, ok := c.outNames[p.Name]
		if !ok {
			return nil, fmt.Errorf("procedure %s produced no output %s", c.name, p.Name)
		}
		return v, nil
	}
	i := p.Position - c.inputs - 1
	if i < 0 || i >= len(c.outOrder) {
		return nil, fmt.Errorf("procedure %s produced no output %s", c.name, p)
	}
	return c.outOrder[i], nil
}

// Close releases the call. Closing twice is an error.
func (c *procedureCall) Close() error {
	if c.closed {
		return errClosed
	}
	c.closed = true
	return nil
}
