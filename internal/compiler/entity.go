package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/finder/internal/ir"
)

// CompileEntity parses a CUE value into an Entity.
//
// The CUE value should be the entity struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`entity: Person: { properties: { id: "int64" } }`)
//	e, err := CompileEntity(v.LookupPath(cue.ParsePath("entity.Person")))
//
// Properties are declared in column order, either as a type spelling
// ("string", "[]string", "Address") or as a struct with "type" and an
// optional "column". Properties naming an entity are left as entity
// references; Link resolves embeddable ones.
func CompileEntity(v cue.Value) (*ir.Entity, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err, "entity")
	}

	e := &ir.Entity{}
	if labels := v.Path().Selectors(); len(labels) > 0 {
		e.Name = labels[len(labels)-1].String()
	}

	var err error
	if e.Table, err = optString(v, "table"); err != nil {
		return nil, err
	}
	if e.Embeddable, err = optBool(v, "embeddable"); err != nil {
		return nil, err
	}

	props := v.LookupPath(cue.ParsePath("properties"))
	if !props.Exists() {
		return nil, &CompileError{
			Code:    ErrCodeNoProperties,
			Field:   "properties",
			Message: fmt.Sprintf("entity %s declares no properties", e.Name),
			Pos:     v.Pos(),
		}
	}
	iter, err := props.Fields()
	if err != nil {
		return nil, formatCUEError(err, "properties")
	}
	for iter.Next() {
		p, err := compileProperty(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		e.Properties = append(e.Properties, p)
	}
	if len(e.Properties) == 0 {
		return nil, &CompileError{
			Code:    ErrCodeNoProperties,
			Field:   "properties",
			Message: fmt.Sprintf("entity %s declares no properties", e.Name),
			Pos:     props.Pos(),
		}
	}
	return e, nil
}

func compileProperty(name string, v cue.Value) (ir.Property, error) {
	p := ir.Property{Name: name}
	field := "properties." + name

	spelling, err := v.String()
	if err != nil {
		// Struct form: {type: "...", column: "..."}
		if spelling, err = optString(v, "type"); err != nil {
			return p, err
		}
		if spelling == "" {
			return p, &CompileError{
				Code:    ErrCodeInvalidType,
				Field:   field,
				Message: "property must be a type string or a struct with a type field",
				Pos:     v.Pos(),
			}
		}
		if p.Column, err = optString(v, "column"); err != nil {
			return p, err
		}
	}

	t, err := ir.ParseTypeRef(spelling)
	if err != nil {
		return p, &CompileError{Code: ErrCodeInvalidType, Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	p.Type = t
	return p, nil
}

// Link resolves entity-typed properties against the metamodel: properties
// naming an embeddable entity become embedded values. It reports unknown
// entity names and embedding cycles.
func Link(model *ir.Metamodel) []error {
	var errs []error
	for _, e := range model.Entities() {
		for i, p := range e.Properties {
			ref := p.Type.Element()
			if ref.Kind != ir.KindEntity {
				continue
			}
			target, ok := model.Entity(ref.Name)
			if !ok {
				errs = append(errs, &CompileError{
					Code:    ErrCodeUnknownEntity,
					Field:   fmt.Sprintf("entity.%s.properties.%s", e.Name, p.Name),
					Message: fmt.Sprintf("unknown entity %q", ref.Name),
				})
				continue
			}
			if target.Embeddable && !p.Type.IsCollection() {
				e.Properties[i].Embedded = target
			}
		}
	}
	for _, cycle := range embeddingCycles(model) {
		errs = append(errs, cycle)
	}
	return errs
}

func optString(v cue.Value, path string) (string, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err, path)
	}
	return s, nil
}

func optBool(v cue.Value, path string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(path))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err, path)
	}
	return b, nil
}
