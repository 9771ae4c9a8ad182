// Package bind binds runtime method arguments to query placeholders.
//
// A Metadata value pairs a rendered query text with its Bindings. Metadata
// is computed once per (method, text) and shared through MetadataCache; the
// native query handle is attached per invocation with WithQuery so no
// per-call state is ever cached.
package bind

import (
	"fmt"
	"strings"

	"github.com/roach88/finder/internal/ir"
)

// Hint transforms a value before it is bound.
type Hint int

const (
	HintNone Hint = iota
	HintLikeStart
	HintLikeEnd
	HintLikeContains
	HintUpper
	HintUpperEach
)

func (h Hint) String() string {
	switch h {
	case HintLikeStart:
		return "like-start"
	case HintLikeEnd:
		return "like-end"
	case HintLikeContains:
		return "like-contains"
	case HintUpper:
		return "upper"
	case HintUpperEach:
		return "upper-each"
	default:
		return "none"
	}
}

// IsLike reports whether the hint turns the value into a LIKE pattern.
func (h Hint) IsLike() bool {
	return h == HintLikeStart || h == HintLikeEnd || h == HintLikeContains
}

// Apply transforms v. nil is returned unchanged.
func (h Hint) Apply(v any) any {
	if v == nil {
		return nil
	}
	switch h {
	case HintLikeStart:
		return fmt.Sprint(v) + "%"
	case HintLikeEnd:
		return "%" + fmt.Sprint(v)
	case HintLikeContains:
		return "%" + fmt.Sprint(v) + "%"
	case HintUpper:
		if s, ok := v.(string); ok {
			return strings.ToUpper(s)
		}
	case HintUpperEach:
		return upperEach(v)
	}
	return v
}

func upperEach(v any) any {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		for i, s := range list {
			out[i] = strings.ToUpper(s)
		}
		return out
	case []any:
		out := make([]any, len(list))
		for i, e := range list {
			if s, ok := e.(string); ok {
				out[i] = strings.ToUpper(s)
			} else {
				out[i] = e
			}
		}
		return out
	}
	return v
}

// Source identifies the method parameter a binding reads: by declared name
// when Name is set, otherwise by 1-based position among bindable parameters.
type Source struct {
	Name     string
	Position int
}

// Binding connects one query placeholder to one method parameter.
type Binding struct {
	Target ir.Placeholder
	Source Source
	Hint   Hint
}

// Metadata is a query text and its bindings. It is immutable and shared.
type Metadata struct {
	Text     string
	Bindings []Binding
}

// Settable is the part of a native query the binder needs.
type Settable interface {
	SetParameter(p ir.Placeholder, v any) error
}

// QueryMetadata is Metadata attached to one invocation's native query.
type QueryMetadata struct {
	*Metadata
	Query Settable
}

// WithQuery attaches a native query handle for one invocation.
func (m *Metadata) WithQuery(q Settable) QueryMetadata {
	return QueryMetadata{Metadata: m, Query: q}
}

// OutputPosition returns the placeholder position of a procedure's
// trailing output parameter: outputs follow all bindable inputs.
func OutputPosition(bindableCount, outputIndex int) int {
	return bindableCount + outputIndex + 1
}
