package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/finder/internal/ir"
)

// scanner turns rows into results: a Record keyed by property path when
// the row holds several columns or a whole entity, otherwise the single
// column value.
type scanner struct {
	store  *Store
	keys   []string
	types  []ir.TypeRef // zero TypeRef leaves the driver value as is
	record bool
	entity *ir.Entity // set when rows are whole entities to track
}

func (s *Store) newScanner(stmt *statement, rows *sql.Rows) (*scanner, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	sc := &scanner{store: s, keys: cols, types: make([]ir.TypeRef, len(cols))}

	switch {
	case stmt.kind == stmtSelect && stmt.entity != nil && len(stmt.columns) == len(cols):
		for i, p := range stmt.columns {
			sc.keys[i] = p.String()
			sc.types[i] = p.Type()
		}
		if stmt.entityResult {
			sc.entity = stmt.entity
		}
	case stmt.entity != nil && len(stmt.columns) == 0:
		// Native rows map back to properties when every column is one.
		byColumn := make(map[string]ir.PropertyPath)
		for _, p := range stmt.entity.Columns() {
			byColumn[p.Column] = p
		}
		paths := make([]ir.PropertyPath, 0, len(cols))
		for _, c := range cols {
			if p, ok := byColumn[c]; ok {
				paths = append(paths, p)
			}
		}
		if len(paths) == len(cols) {
			for i, p := range paths {
				sc.keys[i] = p.String()
				sc.types[i] = p.Type()
			}
			if len(paths) == len(byColumn) {
				sc.entity = stmt.entity
			}
		}
	}
	sc.record = sc.entity != nil || len(cols) > 1
	return sc, nil
}

func (sc *scanner) scan(rows *sql.Rows) (any, error) {
	vals := make([]any, len(sc.keys))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range vals {
		vals[i] = sc.value(v, sc.types[i])
	}
	if !sc.record {
		return vals[0], nil
	}
	rec := make(ir.Record, len(vals))
	for i, k := range sc.keys {
		rec[k] = vals[i]
	}
	if sc.entity != nil {
		return sc.store.track(sc.entity, rec), nil
	}
	return rec, nil
}

// value converts a column value to its property type. Values that do not
// convert are kept as the driver returned them.
func (sc *scanner) value(v any, t ir.TypeRef) any {
	if b, ok := v.([]byte); ok && t.Kind != ir.KindBytes {
		v = string(b)
	}
	if v == nil || t.Kind == "" {
		return v
	}
	out, err := sc.store.conv.Convert(v, t)
	if err != nil {
		sc.store.logger.Debug("keeping unconverted column value", "type", t.String(), "error", err)
		return v
	}
	return out
}

func (s *Store) scanAll(stmt *statement, rows *sql.Rows) ([]any, error) {
	defer rows.Close()
	sc, err := s.newScanner(stmt, rows)
	if err != nil {
		return nil, err
	}
	out := []any{}
	for rows.Next() {
		v, err := sc.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
