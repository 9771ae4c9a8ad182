package tree

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/finder/internal/ir"
)

// Subject is what a derived query selects.
type Subject string

const (
	SubjectFind  Subject = "find"
	SubjectCount Subject = "count"
)

// Tokens is a method name split into its grammatical parts.
type Tokens struct {
	Subject       Subject
	Distinct      bool
	Limit         int // 0 when unlimited
	Or            [][]PartToken
	OrderBy       []OrderToken
	AllIgnoreCase bool
}

// PartToken is one AND operand before property resolution.
type PartToken struct {
	Raw        string // text as it appeared in the method name
	Property   string // property text with the operator keyword removed
	Keyword    string // operator keyword, "" for plain equality
	IgnoreCase bool
}

// OrderToken is one element of a static OrderBy clause.
type OrderToken struct {
	Property  string
	Direction ir.Direction
}

var (
	prefixPattern   = regexp.MustCompile(`^(find|read|get|query|search|stream|count)(\p{Lu}.*?)??By(.*)$`)
	subjectOnly     = regexp.MustCompile(`^(find|read|get|query|search|stream|count)(\p{Lu}.*)?$`)
	limitPattern    = regexp.MustCompile(`(First|Top)(\d*)`)
	ignoreCaseWords = []string{"IgnoreCase", "IgnoringCase"}
	allIgnoreCase   = regexp.MustCompile(`AllIgnor(?:ing|e)Case`)
)

// Tokenize splits a derived method name such as
// "findDistinctTop3ByLastnameAndAgeGreaterThanOrderByAgeDesc".
func Tokenize(methodName string) (Tokens, error) {
	var (
		toks      Tokens
		prefix    string
		subject   string
		predicate string
	)
	if m := prefixPattern.FindStringSubmatch(methodName); m != nil {
		prefix, subject, predicate = m[1], m[2], m[3]
	} else if m := subjectOnly.FindStringSubmatch(methodName); m != nil {
		prefix, subject = m[1], m[2]
	} else {
		return Tokens{}, fmt.Errorf("method name %q does not start with a query prefix", methodName)
	}

	toks.Subject = SubjectFind
	if prefix == "count" {
		toks.Subject = SubjectCount
	}
	toks.Distinct = strings.Contains(subject, "Distinct")
	if m := limitPattern.FindStringSubmatch(subject); m != nil {
		toks.Limit = 1
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil || n < 1 {
				return Tokens{}, fmt.Errorf("invalid result limit %q", m[0])
			}
			toks.Limit = n
		}
	}

	if loc := allIgnoreCase.FindStringIndex(predicate); loc != nil {
		toks.AllIgnoreCase = true
		predicate = predicate[:loc[0]] + predicate[loc[1]:]
	}

	parts := splitKeywordBoundary(predicate, "OrderBy")
	if len(parts) > 2 {
		return Tokens{}, fmt.Errorf("OrderBy must not be used more than once in %q", methodName)
	}
	if len(parts) == 2 {
		orders, err := tokenizeOrderBy(parts[1])
		if err != nil {
			return Tokens{}, err
		}
		toks.OrderBy = orders
	}

	for _, orPart := range splitKeywordBoundary(parts[0], "Or") {
		if orPart == "" {
			continue
		}
		var group []PartToken
		for _, andPart := range splitKeywordBoundary(orPart, "And") {
			if andPart == "" {
				continue
			}
			group = append(group, tokenizePart(andPart))
		}
		if len(group) > 0 {
			toks.Or = append(toks.Or, group)
		}
	}
	return toks, nil
}

func tokenizePart(raw string) PartToken {
	pt := PartToken{Raw: raw}
	text := raw
	for _, w := range ignoreCaseWords {
		if stripped, ok := strings.CutSuffix(text, w); ok {
			pt.IgnoreCase = true
			text = stripped
			break
		}
	}
	pt.Property, pt.Keyword = splitKeyword(text)
	return pt
}

func tokenizeOrderBy(clause string) ([]OrderToken, error) {
	if clause == "" {
		return nil, fmt.Errorf("OrderBy names no property")
	}
	var out []OrderToken
	for _, block := range splitAfterDirection(clause) {
		o := OrderToken{Property: block, Direction: ir.Asc}
		if p, ok := strings.CutSuffix(block, "Desc"); ok {
			o.Property, o.Direction = p, ir.Desc
		} else if p, ok := strings.CutSuffix(block, "Asc"); ok {
			o.Property = p
		}
		if o.Property == "" {
			return nil, fmt.Errorf("invalid order syntax for part %q", block)
		}
		out = append(out, o)
	}
	return out, nil
}

// splitKeywordBoundary splits s on keyword wherever the keyword is followed
// by an upper-case or non-ASCII letter.
func splitKeywordBoundary(s, keyword string) []string {
	var out []string
	start := 0
	for i := 0; i+len(keyword) <= len(s); {
		if strings.HasPrefix(s[i:], keyword) && followedByUpper(s, i+len(keyword)) {
			out = append(out, s[start:i])
			i += len(keyword)
			start = i
			continue
		}
		i++
	}
	return append(out, s[start:])
}

// splitAfterDirection splits an OrderBy clause after each Asc or Desc that
// is followed by an upper-case letter.
func splitAfterDirection(s string) []string {
	var out []string
	start := 0
	for i := 1; i < len(s); i++ {
		head := s[start:i]
		if (strings.HasSuffix(head, "Asc") || strings.HasSuffix(head, "Desc")) && followedByUpper(s, i) {
			out = append(out, head)
			start = i
		}
	}
	return append(out, s[start:])
}

func followedByUpper(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsUpper(r) || r >= utf8.RuneSelf
}
