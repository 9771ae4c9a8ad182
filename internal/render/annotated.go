package render

import (
	"regexp"
	"strings"

	"github.com/roach88/finder/internal/ir"
)

// SortPlaceholder marks where a native query accepts its dynamic ordering.
const SortPlaceholder = "#sort"

var (
	selectPrefix = regexp.MustCompile(`(?is)^\s*select\s+(distinct\s+)?(.+?)\s+from\s+`)
	fromAlias    = regexp.MustCompile(`(?i)\bfrom\s+[A-Za-z_][\w.]*(?:\s+as)?\s+([A-Za-z_]\w*)`)
	orderByAny   = regexp.MustCompile(`(?i)\border\s+by\s+`)
	orderByTail  = regexp.MustCompile(`(?is)\s+order\s+by\s+.*$`)
)

// reserved words that can follow an entity name and are never an alias.
var reserved = map[string]bool{
	"where": true, "order": true, "group": true, "join": true, "left": true,
	"inner": true, "outer": true, "on": true, "having": true, "limit": true,
	"set": true, "union": true,
}

// DetectAlias returns the alias of the first entity in the from clause,
// or "" when it has none.
func DetectAlias(query string) string {
	m := fromAlias.FindStringSubmatch(query)
	if m == nil || reserved[strings.ToLower(m[1])] {
		return ""
	}
	return m[1]
}

// DeriveCountQuery rewrites "select x from ..." into a count over the same
// from and where clauses, dropping any trailing ORDER BY.
func DeriveCountQuery(method *ir.MethodDescriptor, query string) (string, error) {
	loc := selectPrefix.FindStringSubmatchIndex(query)
	if loc == nil {
		return "", ir.Errorf(ir.CodeInvalidQuery, method.ID(),
			"cannot derive a count query from %q", query)
	}
	var expr string
	switch {
	case loc[2] >= 0:
		expr = "count(distinct " + strings.TrimSpace(query[loc[4]:loc[5]]) + ")"
	case DetectAlias(query) != "":
		expr = "count(" + DetectAlias(query) + ")"
	default:
		expr = "count(*)"
	}
	rest := orderByTail.ReplaceAllString(query[loc[1]:], "")
	return "select " + expr + " from " + rest, nil
}

// ApplySorting appends the dynamic sort to an explicit query, extending an
// existing ORDER BY or adding one. Properties are qualified by the query's
// alias and must resolve against entity.
func ApplySorting(method *ir.MethodDescriptor, entity *ir.Entity, query string, sort ir.Sort) (string, error) {
	if !sort.IsSorted() {
		return query, nil
	}
	alias := DetectAlias(query)
	items, err := orderItems(method, entity, sort, func(p ir.PropertyPath) string {
		if alias == "" {
			return p.String()
		}
		return alias + "." + p.String()
	})
	if err != nil {
		return "", err
	}
	if orderByAny.MatchString(query) {
		return query + ", " + strings.Join(items, ", "), nil
	}
	return query + " order by " + strings.Join(items, ", "), nil
}

// ApplyNativeSorting replaces the sort placeholder of a native query with
// an ORDER BY over column names, or removes it when sort is empty.
func ApplyNativeSorting(method *ir.MethodDescriptor, entity *ir.Entity, query string, sort ir.Sort) (string, error) {
	items, err := orderItems(method, entity, sort, func(p ir.PropertyPath) string {
		return p.Column
	})
	if err != nil {
		return "", err
	}
	clause := ""
	if len(items) > 0 {
		clause = "order by " + strings.Join(items, ", ")
	}
	return strings.TrimSpace(strings.ReplaceAll(query, SortPlaceholder, clause)), nil
}

// HasSortPlaceholder reports whether a native query can take a dynamic sort.
func HasSortPlaceholder(query string) bool {
	return strings.Contains(query, SortPlaceholder)
}
