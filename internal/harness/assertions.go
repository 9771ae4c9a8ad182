package harness

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Method, event.Args, event.Outcome)
		}
	}
	return buf.String()
}

// assertTraceOrder checks if methods were first invoked in the specified
// order. Invocations don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Method]; !seen {
			positions[event.Method] = i + 1 // 1-indexed for readability
		}
	}

	for _, method := range assertion.Methods {
		if positions[method] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all methods invoked: %v", assertion.Methods),
				Actual:   fmt.Sprintf("missing method: %s", method),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Methods); i++ {
		prev, curr := assertion.Methods[i-1], assertion.Methods[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("methods in order: %v", assertion.Methods),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks if the method was invoked exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Method == assertion.Method {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d invocations of %s", assertion.Count, assertion.Method),
			Actual:   fmt.Sprintf("%d invocations", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState loads exactly one entity row matching Where through the
// store's query language and compares the expected properties. Property
// paths are resolved against the entity, so no identifier is ever
// interpolated unchecked. The session cache is cleared first so the row
// reflects the database rather than earlier loads.
func assertFinalState(actx *AssertionContext, assertion Assertion) error {
	ent, ok := actx.Model.Entity(assertion.Entity)
	if !ok || ent.Embeddable {
		return fmt.Errorf("final_state: unknown entity %q", assertion.Entity)
	}

	// Sort keys for deterministic query generation
	keys := make([]string, 0, len(assertion.Where))
	for k := range assertion.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	values := make(map[string]any, len(keys))
	for i, key := range keys {
		path, err := ent.ResolveDotted(key)
		if err != nil {
			return fmt.Errorf("final_state where: %w", err)
		}
		v, err := actx.Conv.Convert(assertion.Where[key], path.Type())
		if err != nil {
			return fmt.Errorf("final_state where %s: %w", key, err)
		}
		name := fmt.Sprintf("w%d", i)
		clauses = append(clauses, fmt.Sprintf("e.%s = :%s", key, name))
		values[name] = v
	}

	text := fmt.Sprintf("select e from %s e where %s", ent.Name, strings.Join(clauses, " and "))
	actx.Store.Clear()
	q, err := actx.Store.CreateQuery(actx.Ctx, text, ir.EntityRef(ent.Name), false)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	for name, v := range values {
		if err := q.SetParameter(ir.Named(name), v); err != nil {
			return fmt.Errorf("final_state: %w", err)
		}
	}

	whereDesc := formatWhereClause(assertion.Where)
	row, err := q.SingleResult(actx.Ctx)
	switch {
	case errors.Is(err, ir.ErrNoResult):
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", ent.Name, whereDesc),
			Actual:   "row not found",
		}
	case errors.Is(err, ir.ErrNonUniqueResult):
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", ent.Name, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	case err != nil:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query %s", ent.Name),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	rec, ok := row.(ir.Record)
	if !ok {
		return fmt.Errorf("final_state: unexpected row type %T", row)
	}

	// Check each expected property (subset semantics)
	for _, key := range sortedKeys(assertion.Expect) {
		path, err := ent.ResolveDotted(key)
		if err != nil {
			return fmt.Errorf("final_state expect: %w", err)
		}
		want, err := actx.Conv.Convert(assertion.Expect[key], path.Type())
		if err != nil {
			return fmt.Errorf("final_state expect %s: %w", key, err)
		}
		got := rec[key]
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("property %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("property %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares converted expected values with loaded ones.
// Times compare by instant and collections element by element.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	a, aerr := Normalize(actual)
	e, eerr := Normalize(expected)
	if aerr != nil || eerr != nil {
		return false
	}
	ca, aerr := canonical(a)
	ce, eerr := canonical(e)
	if aerr != nil || eerr != nil {
		return false
	}
	return reflect.DeepEqual(ce, ca)
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Model *ir.Metamodel
	Conv  *convert.Table
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var msgs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}
