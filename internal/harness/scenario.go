package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a repository conformance scenario: a fresh SQLite
// database is seeded, repository methods are invoked in order, and the
// resulting trace and final table contents are checked.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs is the CUE directory declaring entities and repositories,
	// relative to the scenario file.
	Specs string `yaml:"specs"`

	// Repository names the repository whose methods the flow invokes.
	Repository string `yaml:"repository"`

	// Seed lists entity records inserted before the flow.
	Seed []SeedBlock `yaml:"seed,omitempty"`

	// Procedures registers SQL emulations of stored procedures by name.
	Procedures map[string]ProcedureDef `yaml:"procedures,omitempty"`

	// Flow contains the invocations with their expected results.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and table contents.
	// Supported types: trace_count, trace_order, final_state
	Assertions []Assertion `yaml:"assertions,omitempty"`

	// InvocationPrefix prefixes the deterministic invocation ids.
	// If empty, "test-invocation" is used.
	InvocationPrefix string `yaml:"invocation_prefix,omitempty"`
}

// SeedBlock holds records of one entity, keyed by dotted property path.
type SeedBlock struct {
	Entity  string           `yaml:"entity"`
	Records []map[string]any `yaml:"records"`
}

// ProcedureDef mirrors store.ProcedureDef in scenario files.
type ProcedureDef struct {
	SQL       string `yaml:"sql"`
	ResultSet bool   `yaml:"result_set,omitempty"`
}

// FlowStep invokes one repository method.
type FlowStep struct {
	// Invoke is the method name.
	Invoke string `yaml:"invoke"`

	// Args are the method arguments in declaration order. Strings are
	// coerced to the declared parameter types.
	Args []any `yaml:"args,omitempty"`

	// Transaction runs the invocation, and the consumption of a stream
	// result, inside a transaction.
	Transaction bool `yaml:"transaction,omitempty"`

	// Expect specifies the expected outcome. If nil, the step only has to
	// succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected invocation behavior. Every set field is
// checked.
type ExpectClause struct {
	// Error is the expected error code (e.g. "MISSING_TRANSACTION").
	Error string `yaml:"error,omitempty"`

	// Result is compared with the normalized result.
	Result any `yaml:"result,omitempty"`

	// Count is the number of rows in a collection, slice, page, or stream.
	Count *int `yaml:"count,omitempty"`

	// IDs are the "id" values of returned rows, in order.
	IDs []int64 `yaml:"ids,omitempty"`

	// Total is the total of a page.
	Total *int64 `yaml:"total,omitempty"`

	// HasNext is the has-next flag of a slice or page.
	HasNext *bool `yaml:"has_next,omitempty"`
}

// Assertion validates the trace or the final database state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": Check a method was invoked exactly Count times
	// - "trace_order": Check methods were invoked in order
	// - "final_state": Load one entity row and verify property values
	Type string `yaml:"type"`

	// Method is the method name (used by trace_count).
	Method string `yaml:"method,omitempty"`

	// Count is the expected number of invocations (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Methods is the expected invocation order (used by trace_order).
	Methods []string `yaml:"methods,omitempty"`

	// Entity is the entity to load (used by final_state).
	Entity string `yaml:"entity,omitempty"`

	// Where maps property paths to required values (used by final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect maps property paths to expected values (used by final_state).
	// Subset match - only specified properties are validated.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertFinalState = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. The specs path is
// resolved relative to the scenario file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) {
		scenario.Specs = filepath.Join(filepath.Dir(path), scenario.Specs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Specs == "" {
		return fmt.Errorf("specs is required")
	}
	if info, err := os.Stat(s.Specs); err != nil || !info.IsDir() {
		return fmt.Errorf("specs directory not found: %s", s.Specs)
	}
	if s.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, block := range s.Seed {
		if block.Entity == "" {
			return fmt.Errorf("seed[%d]: entity is required", i)
		}
	}
	for name, p := range s.Procedures {
		if p.SQL == "" {
			return fmt.Errorf("procedures.%s: sql is required", name)
		}
	}
	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Methods) == 0 {
			return fmt.Errorf("assertions[%d]: methods list is required for trace_order", index)
		}
	case AssertFinalState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for final_state", index)
		}
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
