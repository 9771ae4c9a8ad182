// Package engine turns repository method descriptors into executable query
// plans and runs them.
//
// A QueryPlan is built once per method by NewPlan. Construction performs
// every check that does not depend on runtime arguments, so a plan that
// builds never fails later for a structural reason:
//   - derived methods are tokenized, parsed into a predicate tree, and
//     rendered once to surface unsupported operators and case folding;
//   - annotated methods have their templates expanded, placeholders parsed,
//     and a count query derived when the method is paged;
//   - every method has its execution strategy chosen.
//
// Engine.Execute runs one invocation:
//
//  1. wrap the arguments in a bind.Accessor
//  2. produce the query text (cached, or rendered per call when the plan
//     requires recreation) and look up its metadata in the cache
//  3. create the native query, apply hints and lock mode
//  4. bind arguments strictly
//  5. for pages, create the count query and bind it leniently
//  6. dispatch on the strategy and convert the result
//  7. apply projection, unwrapping single-property projections
//
// Plans are immutable and safe to share between goroutines. An Engine is
// safe for concurrent use as long as its Session is.
package engine
