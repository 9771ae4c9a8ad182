package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// copyScenario writes a scenario into a temp dir next to a link to the
// shared specs so that golden files can be written freely.
func copyScenario(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	abs, err := filepath.Abs(specsDir)
	require.NoError(t, err)
	require.NoError(t, os.Symlink(abs, filepath.Join(dir, "specs")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	return dir
}

const countScenario = `name: count_only
description: counts active people
specs: specs
repository: PersonRepository
invocation_prefix: cli
seed:
  - entity: Person
    records:
      - {id: 1, name: Ada, age: 36, active: true}
      - {id: 2, name: Grace, age: 85, active: false}
flow:
  - invoke: countByActiveTrue
    expect:
      result: 1
`

func runTestCmd(t *testing.T, opts *TestOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(opts.RootOptions)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	if opts.Update {
		args = append(args, "--update")
	}
	if opts.Filter != "" {
		args = append(args, "--filter", opts.Filter)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario path not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandPersonQueries(t *testing.T) {
	out, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}}, scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ person_queries")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := copyScenario(t, "broken.yaml", `name: broken
description: wrong expectation
specs: specs
repository: PersonRepository
flow:
  - invoke: countByActiveTrue
    expect:
      result: 3
`)

	out, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "json"}}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Contains(t, resp.Data.Scenarios[0].Errors[0], "expected result 3, got 0")
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := copyScenario(t, "count_only.yaml", countScenario)
	rootOpts := &RootOptions{Format: "text"}

	out, err := runTestCmd(t, &TestOptions{RootOptions: rootOpts, Update: true}, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ count_only (golden updated)")

	goldenPath := filepath.Join(dir, "golden", "count_only.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"id": "cli-0001"`)

	// golden/ is skipped when walking the directory
	out, err = runTestCmd(t, &TestOptions{RootOptions: rootOpts}, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err = runTestCmd(t, &TestOptions{RootOptions: rootOpts}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFilter(t *testing.T) {
	dir := copyScenario(t, "count_only.yaml", countScenario)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("not: [valid"), 0o644))

	out, err := runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}, Filter: "count_*"}, dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, err = runTestCmd(t, &TestOptions{RootOptions: &RootOptions{Format: "text"}}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ other.yaml")
	assert.Contains(t, out, "failed to load scenario")
}
