package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/finder/internal/ir"
)

// Repository is a compiled repository declaration.
type Repository struct {
	Name    string
	Domain  string
	Methods []*ir.MethodDescriptor
}

// CompileRepository parses a CUE repository declaration:
//
//	repository: PersonRepository: {
//		domain: "Person"
//		methods: {
//			findByAgeGreaterThan: {
//				params: [{name: "age", type: "int"}]
//				returns: "[]Person"
//				shape: "collection"
//			}
//		}
//	}
//
// A method with a query is annotated, one with a procedure calls that
// procedure, and any other is derived from its name.
func CompileRepository(v cue.Value) (*Repository, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, "repository")
	}

	r := &Repository{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		r.Name = labels[len(labels)-1].String()
	}
	var err error
	if r.Domain, err = optString(v, "domain"); err != nil {
		return nil, err
	}
	if r.Domain == "" {
		return nil, &CompileError{
			Code:    ErrCodeUnknownDomain,
			Field:   "domain",
			Message: fmt.Sprintf("repository %s declares no domain", r.Name),
			Pos:     v.Pos(),
		}
	}

	methods := v.LookupPath(cue.ParsePath("methods"))
	if !methods.Exists() {
		return r, nil
	}
	iter, err := methods.Fields()
	if err != nil {
		return nil, formatCUEError(err, "methods")
	}
	for iter.Next() {
		m, err := compileMethod(r, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		r.Methods = append(r.Methods, m)
	}
	return r, nil
}

func compileMethod(r *Repository, name string, v cue.Value) (*ir.MethodDescriptor, error) {
	field := "methods." + name
	fail := func(code, msg string, pos cue.Value) error {
		return &CompileError{Code: code, Field: field, Message: msg, Pos: pos.Pos()}
	}

	m := &ir.MethodDescriptor{
		Repository: r.Name,
		Name:       name,
		Domain:     r.Domain,
		Kind:       ir.QueryDerived,
	}

	var err error
	str := func(path string) string {
		if err != nil {
			return ""
		}
		var s string
		s, err = optString(v, path)
		return s
	}
	flag := func(path string) bool {
		if err != nil {
			return false
		}
		var b bool
		b, err = optBool(v, path)
		return b
	}
	shape := ir.ResultShape(str("shape"))
	returns := str("returns")
	m.Query = str("query")
	m.CountQuery = str("countQuery")
	m.Native = flag("native")
	m.LockMode = ir.LockMode(str("lock"))
	m.FlushAutomatically = flag("flush")
	m.ClearAutomatically = flag("clear")
	m.IsScrollQuery = flag("scroll")
	modifying := flag("modifying")
	if err != nil {
		return nil, err
	}

	if modifying {
		if shape != "" && shape != ir.ShapeModifying {
			return nil, fail(ErrCodeConflict, fmt.Sprintf("modifying method declares shape %q", shape), v)
		}
		shape = ir.ShapeModifying
	}
	hasProcedure := v.LookupPath(cue.ParsePath("procedure")).Exists()
	if hasProcedure && shape == "" {
		shape = ir.ShapeProcedure
	}
	if !ir.ValidShapes[shape] {
		return nil, fail(ErrCodeInvalidShape, fmt.Sprintf("invalid shape %q", shape), v)
	}
	m.Shape = shape
	if !ir.ValidLockModes[m.LockMode] {
		return nil, fail(ErrCodeInvalidLock, fmt.Sprintf("invalid lock mode %q", m.LockMode), v)
	}

	switch {
	case returns != "":
		if m.Returns, err = ir.ParseTypeRef(returns); err != nil {
			return nil, fail(ErrCodeInvalidType, "returns: "+err.Error(), v)
		}
	case shape == ir.ShapeModifying:
		m.Returns = ir.Scalar(ir.KindVoid)
	default:
		return nil, fail(ErrCodeMissingReturns, "returns is required", v)
	}

	if m.Parameters, err = compileParams(field, v); err != nil {
		return nil, err
	}
	if m.Hints, err = compileHints(v); err != nil {
		return nil, err
	}
	if m.Projection, err = stringList(v, "projection"); err != nil {
		return nil, err
	}

	if hasProcedure {
		if m.Query != "" {
			return nil, fail(ErrCodeConflict, "a method cannot declare both a query and a procedure", v)
		}
		if m.Procedure, err = compileProcedure(field, v.LookupPath(cue.ParsePath("procedure"))); err != nil {
			return nil, err
		}
		m.Kind = ir.QueryProcedure
	} else if m.Query != "" {
		m.Kind = ir.QueryAnnotated
	} else if shape == ir.ShapeProcedure {
		return nil, fail(ErrCodeConflict, "procedure shape needs a procedure declaration", v)
	} else if m.Native || m.CountQuery != "" {
		return nil, fail(ErrCodeConflict, "native and countQuery need an explicit query", v)
	}
	return m, nil
}

var validRoles = map[ir.ParameterRole]bool{
	ir.RoleBindable:   true,
	ir.RoleSort:       true,
	ir.RolePage:       true,
	ir.RoleProjection: true,
}

func compileParams(field string, v cue.Value) ([]ir.Parameter, error) {
	pv := v.LookupPath(cue.ParsePath("params"))
	if !pv.Exists() {
		return nil, nil
	}
	iter, err := pv.List()
	if err != nil {
		return nil, formatCUEError(err, field+".params")
	}
	var params []ir.Parameter
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		pfield := fmt.Sprintf("%s.params[%d]", field, i)
		p := ir.Parameter{Index: i, Role: ir.RoleBindable}

		name, err := optString(item, "name")
		if err != nil {
			return nil, err
		}
		role, err := optString(item, "role")
		if err != nil {
			return nil, err
		}
		typ, err := optString(item, "type")
		if err != nil {
			return nil, err
		}
		p.Name = name
		if role != "" {
			p.Role = ir.ParameterRole(role)
		}
		if !validRoles[p.Role] {
			return nil, &CompileError{Code: ErrCodeInvalidRole, Field: pfield,
				Message: fmt.Sprintf("invalid role %q", role), Pos: item.Pos()}
		}
		if p.Role == ir.RoleBindable {
			if typ == "" {
				return nil, &CompileError{Code: ErrCodeInvalidType, Field: pfield,
					Message: "bindable parameters need a type", Pos: item.Pos()}
			}
			if p.Type, err = ir.ParseTypeRef(typ); err != nil {
				return nil, &CompileError{Code: ErrCodeInvalidType, Field: pfield,
					Message: err.Error(), Pos: item.Pos()}
			}
		}
		params = append(params, p)
	}
	return params, nil
}

// compileHints reads hints as an ordered list of {name, value} structs.
func compileHints(v cue.Value) ([]ir.Hint, error) {
	hv := v.LookupPath(cue.ParsePath("hints"))
	if !hv.Exists() {
		return nil, nil
	}
	iter, err := hv.List()
	if err != nil {
		return nil, formatCUEError(err, "hints")
	}
	var hints []ir.Hint
	for iter.Next() {
		var h ir.Hint
		if err := iter.Value().Decode(&h); err != nil {
			return nil, formatCUEError(err, "hints")
		}
		hints = append(hints, h)
	}
	return hints, nil
}

var validModes = map[ir.ParameterMode]bool{
	"":               true,
	ir.ModeOut:       true,
	ir.ModeInOut:     true,
	ir.ModeRefCursor: true,
}

func compileProcedure(field string, v cue.Value) (*ir.Procedure, error) {
	field += ".procedure"
	proc := &ir.Procedure{}
	var err error
	if proc.Name, err = optString(v, "name"); err != nil {
		return nil, err
	}
	if proc.Name == "" {
		return nil, &CompileError{Code: ErrCodeConflict, Field: field,
			Message: "procedure name is required", Pos: v.Pos()}
	}
	if proc.Named, err = optBool(v, "named"); err != nil {
		return nil, err
	}
	if proc.ResultSet, err = optBool(v, "resultSet"); err != nil {
		return nil, err
	}

	ov := v.LookupPath(cue.ParsePath("outputs"))
	if !ov.Exists() {
		return proc, nil
	}
	iter, err := ov.List()
	if err != nil {
		return nil, formatCUEError(err, field+".outputs")
	}
	for i := 0; iter.Next(); i++ {
		item := iter.Value()
		var out ir.OutputParameter
		name, err := optString(item, "name")
		if err != nil {
			return nil, err
		}
		typ, err := optString(item, "type")
		if err != nil {
			return nil, err
		}
		mode, err := optString(item, "mode")
		if err != nil {
			return nil, err
		}
		out.Name, out.Mode = name, ir.ParameterMode(mode)
		if !validModes[out.Mode] {
			return nil, &CompileError{Code: ErrCodeInvalidRole,
				Field: fmt.Sprintf("%s.outputs[%d]", field, i), Message: fmt.Sprintf("invalid mode %q", mode), Pos: item.Pos()}
		}
		if out.Type, err = ir.ParseTypeRef(typ); err != nil {
			return nil, &CompileError{Code: ErrCodeInvalidType,
				Field: fmt.Sprintf("%s.outputs[%d]", field, i), Message: err.Error(), Pos: item.Pos()}
		}
		proc.Outputs = append(proc.Outputs, out)
	}
	return proc, nil
}

func stringList(v cue.Value, path string) ([]string, error) {
	lv := v.LookupPath(cue.ParsePath(path))
	if !lv.Exists() {
		return nil, nil
	}
	var out []string
	if err := lv.Decode(&out); err != nil {
		return nil, formatCUEError(err, path)
	}
	return out, nil
}
