package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finder/internal/compiler"
	"github.com/roach88/finder/internal/config"
	"github.com/roach88/finder/internal/ir"
	"github.com/roach88/finder/internal/store"
)

// seedDB creates a database holding three people, two of them active.
func seedDB(t *testing.T) string {
	t.Helper()
	cat, errs := compiler.LoadDir(specsDir, compiler.LoadModeFailFast)
	require.Empty(t, errs)

	path := filepath.Join(t.TempDir(), "people.db")
	st, err := store.Open(path, cat.Model)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.CreateSchema(ctx))
	for _, rec := range []ir.Record{
		{"id": int64(1), "name": "Ada", "age": 36, "active": true, "tags": []string{"math"}, "address.city": "London"},
		{"id": int64(2), "name": "Alan", "age": 41, "active": true, "tags": []string{"crypto"}, "address.city": "Wilmslow"},
		{"id": int64(3), "name": "Grace", "age": 85, "active": false, "tags": []string{}, "address.city": "Arlington"},
	} {
		require.NoError(t, st.Insert(ctx, "Person", rec))
	}
	return path
}

func runExecCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExecCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

type execResponse struct {
	Status string `json:"status"`
	Data   struct {
		Method string `json:"method"`
		Result any    `json:"result"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func decodeExec(t *testing.T, out string) execResponse {
	t.Helper()
	var resp execResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func TestExecCollection(t *testing.T) {
	db := seedDB(t)

	out, err := runExecCmd(t, &RootOptions{Format: "json"},
		specsDir, "PersonRepository.findByAgeGreaterThan", "40", "--db", db)
	require.NoError(t, err)

	resp := decodeExec(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "PersonRepository.findByAgeGreaterThan", resp.Data.Method)
	rows, ok := resp.Data.Result.([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alan", rows[0].(map[string]any)["name"])
	assert.Equal(t, "Grace", rows[1].(map[string]any)["name"])
}

func TestExecPageText(t *testing.T) {
	db := seedDB(t)

	out, err := runExecCmd(t, &RootOptions{Format: "text"},
		specsDir, "PersonRepository.findByActiveTrue", "0:1", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 2`)
	assert.Contains(t, out, `"has_next": true`)
}

func TestExecStreamRequiresTransaction(t *testing.T) {
	db := seedDB(t)

	out, err := runExecCmd(t, &RootOptions{Format: "json"},
		specsDir, "PersonRepository.streamByActiveTrueOrderByIdAsc", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	resp := decodeExec(t, out)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MISSING_TRANSACTION", resp.Error.Code)

	out, err = runExecCmd(t, &RootOptions{Format: "json"},
		specsDir, "PersonRepository.streamByActiveTrueOrderByIdAsc", "--db", db, "--tx")
	require.NoError(t, err)
	rows, ok := decodeExec(t, out).Data.Result.([]any)
	require.True(t, ok)
	assert.Len(t, rows, 2)
}

func TestExecProcedure(t *testing.T) {
	db := seedDB(t)

	out, err := runExecCmd(t, &RootOptions{Format: "json"},
		specsDir, "PersonRepository.countActive", "--db", db,
		"--procedure", "count_active=select count(*) from person where active = 1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), decodeExec(t, out).Data.Result)
}

func TestExecModifying(t *testing.T) {
	db := seedDB(t)
	opts := &RootOptions{Format: "json"}

	out, err := runExecCmd(t, opts, specsDir, "PersonRepository.deactivateOlderThan", "40", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, float64(2), decodeExec(t, out).Data.Result)

	out, err = runExecCmd(t, opts, specsDir, "PersonRepository.countByActiveTrue", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeExec(t, out).Data.Result)
}

func TestExecUsesConfiguredDatabase(t *testing.T) {
	db := seedDB(t)
	cfg := config.Default()
	cfg.Database = db

	out, err := runExecCmd(t, &RootOptions{Format: "json", Config: cfg},
		specsDir, "PersonRepository.countByActiveTrue")
	require.NoError(t, err)
	assert.Equal(t, float64(2), decodeExec(t, out).Data.Result)
}

func TestExecErrors(t *testing.T) {
	db := seedDB(t)

	tests := []struct {
		name     string
		args     []string
		exitCode int
		code     string
	}{
		{"unconvertible argument", []string{"PersonRepository.findByAgeGreaterThan", "old"}, ExitCommandError, "PARAMETER_BINDING"},
		{"missing argument", []string{"PersonRepository.findByAgeGreaterThan"}, ExitCommandError, "PARAMETER_BINDING"},
		{"unknown method", []string{"PersonRepository.findAll"}, ExitCommandError, ErrCodeUnknownMethod},
		{"unregistered procedure", []string{"PersonRepository.countActive"}, ExitFailure, ErrCodeExecution},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{specsDir}, tt.args...)
			args = append(args, "--db", db)
			out, err := runExecCmd(t, &RootOptions{Format: "json"}, args...)
			require.Error(t, err)
			assert.Equal(t, tt.exitCode, GetExitCode(err))
			resp := decodeExec(t, out)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}
