// Package ir provides the shared vocabulary of the finder query core.
//
// This package contains type definitions only: method descriptors, type
// references, the entity metamodel, sort and paging values, and the error
// taxonomy. All other internal packages import ir; ir imports nothing
// internal. This keeps ir the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Method descriptors are immutable once built by the loader
//   - Property paths are dotted property names, never column names
//   - All JSON tags use snake_case
package ir
