package store

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/roach88/finder/internal/ir"
)

type tokKind int

const (
	tokSpace tokKind = iota
	tokIdent
	tokPlaceholder
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokKind
	text string
	ph   ir.Placeholder // tokPlaceholder only
}

func (t token) keyword() string {
	if t.kind != tokIdent {
		return ""
	}
	return strings.ToLower(t.text)
}

// lex splits query text into tokens. Dotted paths ("p.address.city") are
// single identifier tokens.
func lex(text string) ([]token, error) {
	var toks []token
	for i := 0; i < len(text); {
		c := text[i]
		start := i
		switch {
		case isSpace(c):
			for i < len(text) && isSpace(text[i]) {
				i++
			}
			toks = append(toks, token{kind: tokSpace, text: text[start:i]})
		case isIdentStart(c):
			i++
			for i < len(text) && (isIdentPart(text[i]) || text[i] == '.' && i+1 < len(text) && isIdentStart(text[i+1])) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: text[start:i]})
		case c >= '0' && c <= '9':
			for i < len(text) && (text[i] >= '0' && text[i] <= '9' || text[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: text[start:i]})
		case c == '\'' || c == '"':
			i++
			for {
				if i >= len(text) {
					return nil, fmt.Errorf("unterminated quoted literal at offset %d", start)
				}
				if text[i] == c {
					if i+1 < len(text) && text[i+1] == c {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
			toks = append(toks, token{kind: tokString, text: text[start:i]})
		case c == ':' && i+1 < len(text) && isIdentStart(text[i+1]) && !afterIdent(toks):
			i++
			for i < len(text) && isIdentPart(text[i]) {
				i++
			}
			toks = append(toks, token{kind: tokPlaceholder, text: text[start:i], ph: ir.Named(text[start+1 : i])})
		case c == '?':
			i++
			for i < len(text) && text[i] >= '0' && text[i] <= '9' {
				i++
			}
			if i == start+1 {
				return nil, fmt.Errorf("anonymous ? placeholder at offset %d", start)
			}
			pos, _ := strconv.Atoi(text[start+1 : i])
			toks = append(toks, token{kind: tokPlaceholder, text: text[start:i], ph: ir.Positional(pos)})
		default:
			i++
			if i < len(text) {
				switch text[start : i+1] {
				case "<>", "<=", ">=", "!=", "||", "::":
					i++
				}
			}
			toks = append(toks, token{kind: tokPunct, text: text[start:i]})
		}
	}
	return toks, nil
}

// afterIdent reports whether the last token is an identifier or "::",
// which makes a following ':' part of a cast rather than a placeholder.
func afterIdent(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	last := toks[len(toks)-1]
	return last.kind == tokIdent || last.kind == tokNumber || last.text == "::" || last.text == ":"
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool { return isIdentStart(c) || c >= '0' && c <= '9' }

type stmtKind int

const (
	stmtSelect stmtKind = iota
	stmtUpdate
	stmtDelete
	stmtOther
)

type inMode int

const (
	inNone  inMode = iota
	inBare         // "IN :p" needs parentheses
	inParen        // "IN (:p)" is already parenthesized
)

// piece is a span of translated SQL or a placeholder awaiting its value.
type piece struct {
	sql string
	ph  *ir.Placeholder
	in  inMode
}

// statement is a translated query ready to be rendered with parameter
// values.
type statement struct {
	kind   stmtKind
	source string
	entity *ir.Entity
	pieces []piece
	params map[ir.Placeholder]bool

	// columns maps result columns to property paths for select statements.
	columns      []ir.PropertyPath
	entityResult bool
}

var reservedAfterEntity = map[string]bool{
	"where": true, "order": true, "group": true, "join": true, "left": true,
	"inner": true, "outer": true, "on": true, "having": true, "limit": true,
	"set": true, "union": true,
}

type translator struct {
	toks   []token
	st     *statement
	alias  string
	skip   map[int]bool
	entAt  int
	alAt   int
	out    []piece
	sb     strings.Builder
	inProj bool
}

// parseStatement translates the entity query language to SQLite SQL:
// entity names become tables, alias-qualified property paths become
// columns, and MEMBER OF and "is empty" become JSON functions over the
// collection column.
func parseStatement(model *ir.Metamodel, text string) (*statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	tr := &translator{
		toks:  toks,
		st:    &statement{source: text, params: map[ir.Placeholder]bool{}},
		skip:  map[int]bool{},
		entAt: -1,
		alAt:  -1,
	}
	if err := tr.locateEntity(model); err != nil {
		return nil, err
	}
	if err := tr.translate(); err != nil {
		return nil, err
	}
	return tr.st, nil
}

func (tr *translator) next(i int) int {
	for i++; i < len(tr.toks); i++ {
		if tr.toks[i].kind != tokSpace {
			return i
		}
	}
	return -1
}

func (tr *translator) prev(i int) int {
	for i--; i >= 0; i-- {
		if tr.toks[i].kind != tokSpace {
			return i
		}
	}
	return -1
}

func (tr *translator) kw(i int) string {
	if i < 0 || i >= len(tr.toks) {
		return ""
	}
	return tr.toks[i].keyword()
}

func (tr *translator) locateEntity(model *ir.Metamodel) error {
	first := tr.next(-1)
	var after string
	switch tr.kw(first) {
	case "select":
		tr.st.kind, after = stmtSelect, "from"
	case "delete":
		tr.st.kind, after = stmtDelete, "from"
	case "update":
		tr.st.kind, after = stmtUpdate, "update"
	default:
		return fmt.Errorf("unsupported statement %q: expected select, update or delete", tr.st.source)
	}

	depth := 0
	for i, t := range tr.toks {
		switch t.text {
		case "(":
			depth++
		case ")":
			depth--
		}
		if depth != 0 || t.keyword() != after {
			continue
		}
		at := tr.next(i)
		if at < 0 || tr.toks[at].kind != tokIdent {
			return fmt.Errorf("missing entity after %s in %q", after, tr.st.source)
		}
		e, ok := model.Entity(tr.toks[at].text)
		if !ok {
			return fmt.Errorf("unknown entity %q", tr.toks[at].text)
		}
		tr.st.entity, tr.entAt = e, at

		j := tr.next(at)
		if tr.kw(j) == "as" {
			tr.drop(j)
			j = tr.next(j)
		}
		if j >= 0 && tr.toks[j].kind == tokIdent && !reservedAfterEntity[tr.kw(j)] {
			tr.alias, tr.alAt = tr.toks[j].text, j
			tr.drop(j)
		}
		return nil
	}
	return fmt.Errorf("missing %s clause in %q", after, tr.st.source)
}

// drop removes an alias declaration and its trailing space from update
// and delete statements, which SQLite does not allow to alias the table.
func (tr *translator) drop(i int) {
	if tr.st.kind == stmtSelect {
		return
	}
	tr.skip[i] = true
	if i+1 < len(tr.toks) && tr.toks[i+1].kind == tokSpace {
		tr.skip[i+1] = true
	}
}

func (tr *translator) emit(s string) { tr.sb.WriteString(s) }

func (tr *translator) emitPlaceholder(ph ir.Placeholder, in inMode) {
	tr.flush()
	tr.st.params[ph] = true
	p := ph
	tr.out = append(tr.out, piece{ph: &p, in: in})
}

func (tr *translator) flush() {
	if tr.sb.Len() > 0 {
		tr.out = append(tr.out, piece{sql: tr.sb.String()})
		tr.sb.Reset()
	}
}

// column renders a property path as a column reference.
func (tr *translator) column(p ir.PropertyPath) string {
	if tr.st.kind == stmtSelect && tr.alias != "" {
		return tr.alias + "." + p.Column
	}
	return p.Column
}

func (tr *translator) idColumn() string {
	cols := tr.st.entity.Columns()
	for _, c := range cols {
		if c.String() == "id" {
			return tr.column(c)
		}
	}
	if len(cols) == 0 {
		return "rowid"
	}
	return tr.column(cols[0])
}

// path resolves an alias-qualified identifier, reporting ok=false when the
// identifier is not a property reference.
func (tr *translator) path(ident string) (ir.PropertyPath, bool, error) {
	if tr.alias == "" {
		return ir.PropertyPath{}, false, nil
	}
	rest, ok := strings.CutPrefix(ident, tr.alias+".")
	if !ok {
		return ir.PropertyPath{}, false, nil
	}
	p, err := tr.st.entity.ResolveDotted(rest)
	if err != nil {
		return ir.PropertyPath{}, true, err
	}
	return p, true, nil
}

func (tr *translator) translate() error {
	for i := 0; i < len(tr.toks); i++ {
		if tr.skip[i] {
			continue
		}
		t := tr.toks[i]
		switch t.kind {
		case tokIdent:
			n, err := tr.ident(i)
			if err != nil {
				return err
			}
			i = n
		case tokPlaceholder:
			i = tr.placeholder(i)
		default:
			tr.emit(t.text)
		}
	}
	tr.flush()
	tr.st.pieces = tr.out
	return nil
}

func (tr *translator) ident(i int) (int, error) {
	t := tr.toks[i]
	switch {
	case i == tr.entAt:
		tr.emit(tr.st.entity.TableName())
		return i, nil
	case i == tr.alAt:
		tr.emit(t.text)
		return i, nil
	case t.keyword() == "select":
		tr.inProj = true
	case t.keyword() == "from":
		tr.inProj = false
	}

	if tr.alias != "" && t.text == tr.alias {
		tr.emit(tr.aliasRef(i))
		return i, nil
	}

	p, isPath, err := tr.path(t.text)
	if err != nil {
		return i, fmt.Errorf("%q: %w", tr.st.source, err)
	}
	if !isPath {
		tr.emit(t.text)
		return i, nil
	}
	if tr.inProj {
		tr.st.columns = append(tr.st.columns, p)
	}

	// path IS [NOT] EMPTY
	if j := tr.next(i); tr.kw(j) == "is" {
		k := tr.next(j)
		not := tr.kw(k) == "not"
		if not {
			k = tr.next(k)
		}
		if tr.kw(k) == "empty" {
			op := "= 0"
			if not {
				op = "> 0"
			}
			tr.emit("json_array_length(coalesce(" + tr.column(p) + ", '[]')) " + op)
			return k, nil
		}
	}
	tr.emit(tr.column(p))
	return i, nil
}

// aliasRef renders a bare alias: the full column list in a select
// projection, "*" inside count(), and the id column elsewhere.
func (tr *translator) aliasRef(i int) string {
	j := tr.prev(i)
	distinct := tr.kw(j) == "distinct"
	if distinct {
		j = tr.prev(j)
	}
	if j >= 0 && tr.toks[j].text == "(" && tr.kw(tr.prev(j)) == "count" {
		if distinct {
			return tr.idColumn()
		}
		return "*"
	}
	if tr.inProj {
		tr.st.entityResult = true
		cols := tr.st.entity.Columns()
		tr.st.columns = append(tr.st.columns, cols...)
		refs := make([]string, len(cols))
		for k, c := range cols {
			refs[k] = tr.column(c)
		}
		return strings.Join(refs, ", ")
	}
	return tr.idColumn()
}

func (tr *translator) placeholder(i int) int {
	ph := tr.toks[i].ph

	// :p [NOT] MEMBER OF path
	j := tr.next(i)
	not := tr.kw(j) == "not"
	if not {
		j = tr.next(j)
	}
	if tr.kw(j) == "member" && tr.kw(tr.next(j)) == "of" {
		k := tr.next(tr.next(j))
		if k >= 0 && tr.toks[k].kind == tokIdent {
			if p, ok, err := tr.path(tr.toks[k].text); ok && err == nil {
				if not {
					tr.emit("NOT ")
				}
				tr.emit("EXISTS (SELECT 1 FROM json_each(" + tr.column(p) + ") WHERE json_each.value = ")
				tr.emitPlaceholder(ph, inNone)
				tr.emit(")")
				return k
			}
		}
	}

	tr.emitPlaceholder(ph, placeholderInMode(tr.toks, i, tr.prev, tr.kw))
	return i
}

func placeholderInMode(toks []token, i int, prev func(int) int, kw func(int) string) inMode {
	j := prev(i)
	if kw(j) == "in" {
		return inBare
	}
	if j >= 0 && toks[j].text == "(" && kw(prev(j)) == "in" {
		return inParen
	}
	return inNone
}

// parseNative keeps SQL text as written and only rewrites placeholders.
// Result columns are matched against the entity named by resultType.
func parseNative(model *ir.Metamodel, text string, resultType ir.TypeRef) (*statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	tr := &translator{toks: toks, st: &statement{source: text, kind: stmtOther, params: map[ir.Placeholder]bool{}}}
	switch tr.kw(tr.next(-1)) {
	case "select", "with", "values":
		tr.st.kind = stmtSelect
	case "update":
		tr.st.kind = stmtUpdate
	case "delete":
		tr.st.kind = stmtDelete
	}
	if resultType.Kind == ir.KindEntity {
		tr.st.entity, _ = model.Entity(resultType.Name)
	} else if resultType.IsCollection() && resultType.Element().Kind == ir.KindEntity {
		tr.st.entity, _ = model.Entity(resultType.Element().Name)
	}
	for i, t := range toks {
		if t.kind == tokPlaceholder {
			tr.emitPlaceholder(t.ph, placeholderInMode(toks, i, tr.prev, tr.kw))
			continue
		}
		tr.emit(t.text)
	}
	tr.flush()
	tr.st.pieces = tr.out
	return tr.st, nil
}

// sqlName is the driver parameter name of a placeholder.
func sqlName(ph ir.Placeholder) string {
	if ph.Name != "" {
		return ph.Name
	}
	return fmt.Sprintf("p%d", ph.Position)
}

// render produces the SQL and its named arguments. Collection values in
// IN position expand to one parameter per element; unset placeholders bind
// NULL.
func (st *statement) render(values map[ir.Placeholder]any) (string, []any, error) {
	var (
		b    strings.Builder
		args []any
		seen = map[string]bool{}
	)
	add := func(name string, v any) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		sv, err := sqlValue(v)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
		args = append(args, sql.Named(name, sv))
		return nil
	}
	for _, p := range st.pieces {
		if p.ph == nil {
			b.WriteString(p.sql)
			continue
		}
		name := sqlName(*p.ph)
		v := values[*p.ph]
		if p.in == inNone || !isList(v) {
			if p.in == inBare {
				b.WriteString("(:" + name + ")")
			} else {
				b.WriteString(":" + name)
			}
			if err := add(name, v); err != nil {
				return "", nil, err
			}
			continue
		}

		rv := reflect.ValueOf(v)
		names := make([]string, rv.Len())
		for k := range names {
			names[k] = fmt.Sprintf("%s_%d", name, k)
			if err := add(names[k], rv.Index(k).Interface()); err != nil {
				return "", nil, err
			}
		}
		list := ""
		if len(names) > 0 {
			list = ":" + strings.Join(names, ", :")
		}
		if p.in == inBare {
			list = "(" + list + ")"
		}
		b.WriteString(list)
	}
	return b.String(), args, nil
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}
