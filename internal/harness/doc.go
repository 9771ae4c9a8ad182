// Package harness runs repository conformance scenarios.
//
// A scenario is a YAML file naming a CUE specs directory, a repository,
// seed records, and a flow of method invocations with expected outcomes:
//
//	name: person_paging
//	description: Pages over active people
//	specs: ../specs
//	repository: PersonRepository
//	seed:
//	  - entity: Person
//	    records:
//	      - {id: 1, name: Ada, age: 36, active: true}
//	flow:
//	  - invoke: findByActiveTrue
//	    args: ["0:5"]
//	    expect: {count: 1, total: 1, has_next: false}
//	assertions:
//	  - type: trace_count
//	    method: findByActiveTrue
//	    count: 1
//
// Run builds a fresh in-memory SQLite store per scenario, plans every
// method of the repository with the real engine, and records each
// invocation in a trace. Invocation ids come from a sequence, so a
// scenario produces the same trace on every run; RunWithGolden compares it
// with a golden file.
package harness
