// Package convert provides the conversion table used to coerce bound
// parameter values and raw query results to declared types.
//
// A Table is built once (Default, or New plus Register calls) and is then
// read-only; it is passed explicitly to the binder and the dispatcher rather
// than living in a process-wide registry.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/finder/internal/ir"
)

// ErrNoConverter is returned when no conversion between two kinds exists.
var ErrNoConverter = errors.New("no converter")

// Func converts one value. It receives a value whose KindOf is the
// registered source kind.
type Func func(v any) (any, error)

type pair struct {
	from, to ir.Kind
}

// Table maps (source kind, target kind) pairs to conversion functions.
// Register must not be called once the table is shared.
type Table struct {
	funcs map[pair]Func
}

// New returns an empty table.
func New() *Table {
	return &Table{funcs: make(map[pair]Func)}
}

// Register adds or replaces the converter for a kind pair.
func (t *Table) Register(from, to ir.Kind, fn Func) {
	t.funcs[pair{from, to}] = fn
}

// CanConvert reports whether a converter for the pair exists.
func (t *Table) CanConvert(from, to ir.Kind) bool {
	if from == to || to == ir.KindAny {
		return true
	}
	_, ok := t.funcs[pair{from, to}]
	return ok
}

// Convert coerces v to the target type. Values already satisfying the
// target are returned unchanged; nil stays nil. Collections are converted
// element by element when the target names an element type.
func (t *Table) Convert(v any, target ir.TypeRef) (any, error) {
	if v == nil || Satisfies(v, target) {
		return v, nil
	}
	from := KindOf(v)
	if from == ir.KindCollection && target.Kind == ir.KindCollection && target.Elem != nil {
		return t.convertElements(v, *target.Elem)
	}
	fn, ok := t.funcs[pair{from, target.Kind}]
	if !ok {
		return nil, fmt.Errorf("%w from %s to %s", ErrNoConverter, from, target)
	}
	out, err := fn(v)
	if err != nil {
		return nil, fmt.Errorf("convert %s to %s: %w", from, target, err)
	}
	if target.Kind == ir.KindCollection && target.Elem != nil {
		return t.convertElements(out, *target.Elem)
	}
	return out, nil
}

func (t *Table) convertElements(v any, elem ir.TypeRef) (any, error) {
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		c, err := t.Convert(rv.Index(i).Interface(), elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// KindOf returns the runtime kind of a Go value.
func KindOf(v any) ir.Kind {
	switch v.(type) {
	case nil:
		return ir.KindAny
	case string:
		return ir.KindString
	case int, int8, int16, int32, uint, uint8, uint16, uint32:
		return ir.KindInt
	case int64, uint64:
		return ir.KindInt64
	case float32, float64:
		return ir.KindFloat
	case bool:
		return ir.KindBool
	case time.Time:
		return ir.KindTime
	case []byte:
		return ir.KindBytes
	case ir.Record, map[string]any:
		return ir.KindEntity
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return ir.KindCollection
	}
	return ir.KindAny
}

// Satisfies reports whether v already has the target type. Any and Void
// accept everything.
func Satisfies(v any, target ir.TypeRef) bool {
	switch target.Kind {
	case ir.KindAny, ir.KindVoid, "":
		return true
	}
	k := KindOf(v)
	if k != target.Kind {
		return false
	}
	if k == ir.KindInt {
		_, ok := v.(int)
		return ok
	}
	if k == ir.KindInt64 {
		_, ok := v.(int64)
		return ok
	}
	if k == ir.KindCollection && target.Elem != nil {
		rv := reflect.ValueOf(v)
		for i := 0; i < rv.Len(); i++ {
			if !Satisfies(rv.Index(i).Interface(), *target.Elem) {
				return false
			}
		}
	}
	return true
}

// Default returns a table with the built-in scalar conversions.
func Default() *Table {
	t := New()

	t.Register(ir.KindInt, ir.KindInt, func(v any) (any, error) {
		n, err := toInt64(v)
		return int(n), err
	})
	t.Register(ir.KindInt, ir.KindInt64, func(v any) (any, error) { return toInt64(v) })
	t.Register(ir.KindInt64, ir.KindInt, func(v any) (any, error) {
		n, err := toInt64(v)
		return int(n), err
	})
	t.Register(ir.KindInt64, ir.KindInt64, func(v any) (any, error) { return toInt64(v) })
	t.Register(ir.KindInt, ir.KindFloat, func(v any) (any, error) {
		n, err := toInt64(v)
		return float64(n), err
	})
	t.Register(ir.KindInt64, ir.KindFloat, func(v any) (any, error) {
		n, err := toInt64(v)
		return float64(n), err
	})
	t.Register(ir.KindFloat, ir.KindInt64, func(v any) (any, error) { return int64(toFloat(v)), nil })
	t.Register(ir.KindFloat, ir.KindInt, func(v any) (any, error) { return int(toFloat(v)), nil })
	t.Register(ir.KindFloat, ir.KindFloat, func(v any) (any, error) { return toFloat(v), nil })
	t.Register(ir.KindInt64, ir.KindBool, func(v any) (any, error) {
		n, err := toInt64(v)
		return n != 0, err
	})
	t.Register(ir.KindInt, ir.KindBool, func(v any) (any, error) {
		n, err := toInt64(v)
		return n != 0, err
	})
	t.Register(ir.KindBool, ir.KindInt, func(v any) (any, error) {
		if v.(bool) {
			return 1, nil
		}
		return 0, nil
	})

	t.Register(ir.KindString, ir.KindInt, func(v any) (any, error) {
		return strconv.Atoi(strings.TrimSpace(v.(string)))
	})
	t.Register(ir.KindString, ir.KindInt64, func(v any) (any, error) {
		return strconv.ParseInt(strings.TrimSpace(v.(string)), 10, 64)
	})
	t.Register(ir.KindString, ir.KindFloat, func(v any) (any, error) {
		return strconv.ParseFloat(strings.TrimSpace(v.(string)), 64)
	})
	t.Register(ir.KindString, ir.KindBool, func(v any) (any, error) {
		return strconv.ParseBool(strings.TrimSpace(v.(string)))
	})
	t.Register(ir.KindString, ir.KindTime, func(v any) (any, error) { return ParseTime(v.(string)) })
	t.Register(ir.KindString, ir.KindBytes, func(v any) (any, error) { return []byte(v.(string)), nil })
	t.Register(ir.KindString, ir.KindCollection, func(v any) (any, error) { return splitList(v.(string)) })
	t.Register(ir.KindBytes, ir.KindString, func(v any) (any, error) { return string(v.([]byte)), nil })
	t.Register(ir.KindBytes, ir.KindCollection, func(v any) (any, error) { return splitList(string(v.([]byte))) })
	t.Register(ir.KindTime, ir.KindString, func(v any) (any, error) {
		return v.(time.Time).Format(time.RFC3339Nano), nil
	})
	t.Register(ir.KindInt, ir.KindString, func(v any) (any, error) { return fmt.Sprint(v), nil })
	t.Register(ir.KindInt64, ir.KindString, func(v any) (any, error) { return fmt.Sprint(v), nil })
	t.Register(ir.KindFloat, ir.KindString, func(v any) (any, error) { return fmt.Sprint(v), nil })
	t.Register(ir.KindBool, ir.KindString, func(v any) (any, error) { return strconv.FormatBool(v.(bool)), nil })

	return t
}

// timeLayouts are tried in order by ParseTime.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp spellings accepted from files, flags, and
// SQLite text columns.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// splitList accepts a JSON array or a comma-separated list.
func splitList(s string) (any, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var out []any
		if err := json.Unmarshal([]byte(s), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	out := []any{}
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(part))
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("not an integer: %T", v)
}

func toFloat(v any) float64 {
	switch f := v.(type) {
	case float32:
		return float64(f)
	case float64:
		return f
	}
	return 0
}
