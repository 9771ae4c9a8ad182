package tree

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/roach88/finder/internal/ir"
)

var lower = cases.Lower(language.Und)

// Decapitalize lower-cases the first letter of a name unless the name
// starts with two upper-case letters ("Lastname" → "lastname",
// "URL" → "URL").
func Decapitalize(s string) string {
	first, n := utf8.DecodeRuneInString(s)
	if first == utf8.RuneError {
		return s
	}
	if second, _ := utf8.DecodeRuneInString(s[n:]); unicode.IsUpper(first) && unicode.IsUpper(second) {
		return s
	}
	return lower.String(s[:n]) + s[n:]
}

// ResolveProperty resolves method-name property text against an entity.
// An explicit '_' separates nested segments; otherwise the full name is
// tried first and then split at camel humps, preferring the longest head
// ("AddressCity" → address.city).
func ResolveProperty(e *ir.Entity, raw string) (ir.PropertyPath, error) {
	if strings.Contains(raw, "_") {
		var segs []string
		for _, s := range strings.Split(raw, "_") {
			if s != "" {
				segs = append(segs, Decapitalize(s))
			}
		}
		return e.ResolvePath(segs...)
	}
	if segs, ok := camelSegments(e, raw); ok {
		return e.ResolvePath(segs...)
	}
	return e.ResolvePath(Decapitalize(raw))
}

func camelSegments(e *ir.Entity, raw string) ([]string, bool) {
	name := Decapitalize(raw)
	if p, ok := e.Property(name); ok && p.Embedded == nil {
		return []string{name}, true
	}
	var humps []int
	for i, r := range raw {
		if i > 0 && unicode.IsUpper(r) {
			humps = append(humps, i)
		}
	}
	for i := len(humps) - 1; i >= 0; i-- {
		head, tail := Decapitalize(raw[:humps[i]]), raw[humps[i]:]
		p, ok := e.Property(head)
		if !ok || p.Embedded == nil {
			continue
		}
		if rest, ok := camelSegments(p.Embedded, tail); ok {
			return append([]string{head}, rest...), true
		}
	}
	return nil, false
}
