// Package template expands "#{#name}" expressions in annotated queries.
package template

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Renderer expands template expressions in a query string.
type Renderer interface {
	Render(query string, vars map[string]string) (string, error)
}

// EntityName is the variable every annotated query can reference.
const EntityName = "entityName"

var expr = regexp.MustCompile(`#\{\s*#([A-Za-z_]\w*)\s*\}`)

// Simple supports only variable references. Unknown variables are an
// error rather than an empty expansion.
type Simple struct{}

// Render replaces each "#{#var}" with vars[var].
func (Simple) Render(query string, vars map[string]string) (string, error) {
	var missing []string
	out := expr.ReplaceAllStringFunc(query, func(m string) string {
		name := expr.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("undefined template variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// HasExpressions reports whether query contains any "#{...}" expression.
func HasExpressions(query string) bool {
	return strings.Contains(query, "#{")
}
