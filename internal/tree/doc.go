// Package tree parses derived repository method names into predicate trees.
//
// Tokenize splits a name such as "findByLastnameAndAgeGreaterThan" into OR
// groups of AND parts, each with its property text and operator keyword.
// Parse resolves the properties against the entity metamodel and assigns
// the method's bindable parameters to parts, so that every structural
// mismatch is reported when a repository is built rather than when it is
// first called.
package tree
