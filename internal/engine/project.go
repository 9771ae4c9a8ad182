package engine

import (
	"iter"

	"github.com/roach88/finder/internal/bind"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
)

// projectionFor returns the properties to keep: the dynamic projection
// argument when one is given, else the method's static projection.
func projectionFor(m *ir.MethodDescriptor, acc *bind.Accessor) []string {
	if m.HasDynamicProjection() {
		if p := acc.Projection(); len(p) > 0 {
			return p
		}
	}
	return m.Projection
}

// project restricts entity records to props. A single-property projection
// unwraps each record to that property's value, converted to the declared
// element type when possible.
func project(result any, props []string, conv *convert.Table, returns ir.TypeRef) any {
	if len(props) == 0 || result == nil {
		return result
	}
	elem := returns
	if returns.IsCollection() {
		elem = returns.Element()
	}
	one := func(v any) any {
		rec, ok := asRecord(v)
		if !ok {
			return v
		}
		if len(props) == 1 {
			val := rec[props[0]]
			if c, err := conv.Convert(val, elem); err == nil {
				return c
			}
			return val
		}
		out := make(ir.Record, len(props))
		for _, p := range props {
			if v, ok := rec[p]; ok {
				out[p] = v
			}
		}
		return out
	}
	all := func(rows []any) []any {
		out := make([]any, len(rows))
		for i, r := range rows {
			out[i] = one(r)
		}
		return out
	}

	switch r := result.(type) {
	case []any:
		return all(r)
	case ir.Slice:
		r.Content = all(r.Content)
		return r
	case ir.Page:
		r.Content = all(r.Content)
		return r
	case iter.Seq2[any, error]:
		return iter.Seq2[any, error](func(yield func(any, error) bool) {
			for v, err := range r {
				if err == nil {
					v = one(v)
				}
				if !yield(v, err) {
					return
				}
			}
		})
	}
	return one(result)
}

func asRecord(v any) (ir.Record, bool) {
	switch r := v.(type) {
	case ir.Record:
		return r, true
	case map[string]any:
		return ir.Record(r), true
	}
	return nil, false
}
