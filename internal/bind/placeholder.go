package bind

import (
	"fmt"
	"strconv"

	"github.com/roach88/finder/internal/ir"
)

// ParsePlaceholders extracts the bindings of an explicit query: ":name"
// binds by declared parameter name, "?N" by bindable position. Quoted
// literals are skipped and repeated placeholders yield one binding.
func ParsePlaceholders(text string) ([]Binding, error) {
	var (
		out  []Binding
		seen = make(map[ir.Placeholder]bool)
	)
	add := func(b Binding) {
		if !seen[b.Target] {
			seen[b.Target] = true
			out = append(out, b)
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\'' || c == '"':
			end := skipQuoted(text, i)
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted literal at offset %d", i)
			}
			i = end
		case c == ':' && i+1 < len(text) && isIdentStart(text[i+1]) && (i == 0 || !isIdentPart(text[i-1]) && text[i-1] != ':'):
			j := i + 1
			for j < len(text) && isIdentPart(text[j]) {
				j++
			}
			name := text[i+1 : j]
			add(Binding{Target: ir.Named(name), Source: Source{Name: name}})
			i = j - 1
		case c == '?':
			j := i + 1
			for j < len(text) && text[j] >= '0' && text[j] <= '9' {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("anonymous ? placeholder at offset %d: use ?N or :name", i)
			}
			pos, err := strconv.Atoi(text[i+1 : j])
			if err != nil || pos < 1 {
				return nil, fmt.Errorf("invalid placeholder %q", text[i:j])
			}
			add(Binding{Target: ir.Positional(pos), Source: Source{Position: pos}})
			i = j - 1
		}
	}
	return out, nil
}

// skipQuoted returns the index of the closing quote, treating a doubled
// quote as an escaped one, or -1.
func skipQuoted(text string, start int) int {
	q := text[start]
	for i := start + 1; i < len(text); i++ {
		if text[i] != q {
			continue
		}
		if i+1 < len(text) && text[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
