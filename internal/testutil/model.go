// Package testutil provides shared fixtures for finder tests: a small
// Person/Address metamodel, method descriptor builders, and deterministic
// invocation ids.
package testutil

import (
	"github.com/roach88/finder/internal/ir"
)

// Address is an embeddable value used by Person.
func Address() *ir.Entity {
	return &ir.Entity{
		Name:       "Address",
		Embeddable: true,
		Properties: []ir.Property{
			{Name: "city", Type: ir.Scalar(ir.KindString)},
			{Name: "zipCode", Type: ir.Scalar(ir.KindString)},
		},
	}
}

// Person is the entity most tests query.
func Person() *ir.Entity {
	return &ir.Entity{
		Name: "Person",
		Properties: []ir.Property{
			{Name: "id", Type: ir.Scalar(ir.KindInt64)},
			{Name: "name", Type: ir.Scalar(ir.KindString)},
			{Name: "lastname", Type: ir.Scalar(ir.KindString)},
			{Name: "age", Type: ir.Scalar(ir.KindInt)},
			{Name: "active", Type: ir.Scalar(ir.KindBool)},
			{Name: "tags", Type: ir.CollectionOf(ir.Scalar(ir.KindString))},
			{Name: "createdAt", Type: ir.Scalar(ir.KindTime)},
			{Name: "address", Embedded: Address()},
		},
	}
}

// Model returns a metamodel holding Person.
func Model() *ir.Metamodel {
	return ir.NewMetamodel(Person())
}

// PersonSchema creates the table backing Person in SQLite.
const PersonSchema = `CREATE TABLE person (
	id INTEGER PRIMARY KEY,
	name TEXT,
	lastname TEXT,
	age INTEGER,
	active INTEGER,
	tags TEXT,
	created_at DATETIME,
	address_city TEXT,
	address_zip_code TEXT
)`

// Param builds a named bindable parameter.
func Param(name string, t ir.TypeRef) ir.Parameter {
	return ir.Parameter{Name: name, Type: t, Role: ir.RoleBindable}
}

// Positional builds an unnamed bindable parameter.
func Positional(t ir.TypeRef) ir.Parameter {
	return ir.Parameter{Type: t, Role: ir.RoleBindable}
}

// Special builds a Sort, Page, or Projection parameter.
func Special(role ir.ParameterRole) ir.Parameter {
	return ir.Parameter{Role: role}
}

// Method builds a derived method descriptor on PersonRepository with the
// given shape. Parameter indexes are assigned in order.
func Method(name string, shape ir.ResultShape, params ...ir.Parameter) *ir.MethodDescriptor {
	for i := range params {
		params[i].Index = i
	}
	returns := ir.EntityRef("Person")
	if shape == ir.ShapeModifying {
		returns = ir.Scalar(ir.KindInt)
	}
	return &ir.MethodDescriptor{
		Repository: "PersonRepository",
		Name:       name,
		Domain:     "Person",
		Parameters: params,
		Returns:    returns,
		Shape:      shape,
		Kind:       ir.QueryDerived,
	}
}

// Annotated builds a method descriptor backed by an explicit query.
func Annotated(name, query string, shape ir.ResultShape, params ...ir.Parameter) *ir.MethodDescriptor {
	m := Method(name, shape, params...)
	m.Kind = ir.QueryAnnotated
	m.Query = query
	return m
}

var (
	String = ir.Scalar(ir.KindString)
	Int    = ir.Scalar(ir.KindInt)
	Int64  = ir.Scalar(ir.KindInt64)
	Bool   = ir.Scalar(ir.KindBool)
	Time   = ir.Scalar(ir.KindTime)
	Ints   = ir.CollectionOf(ir.Scalar(ir.KindInt))
	Strs   = ir.CollectionOf(ir.Scalar(ir.KindString))
)
