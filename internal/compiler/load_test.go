package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/finder/internal/ir"
)

var specsDir = filepath.Join("..", "..", "testdata", "specs")

func TestLoadDir(t *testing.T) {
	cat, errs := LoadDir(specsDir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, cat.FileCount)

	person, ok := cat.Model.Entity("Person")
	require.True(t, ok)
	assert.Len(t, person.Columns(), 9)

	repo, ok := cat.Repository("PersonRepository")
	require.True(t, ok)
	assert.Equal(t, "Person", repo.Domain)
	assert.Len(t, cat.Methods(), len(repo.Methods))

	byName := map[string]*ir.MethodDescriptor{}
	for _, m := range repo.Methods {
		byName[m.Name] = m
	}
	assert.Equal(t, ir.QueryDerived, byName["findByAgeGreaterThan"].Kind)
	assert.Equal(t, ir.QueryAnnotated, byName["findOlderThan"].Kind)
	assert.Equal(t, ir.ShapeModifying, byName["deactivateOlderThan"].Shape)
	assert.Equal(t, ir.QueryProcedure, byName["countActive"].Kind)
}

func TestLoadDirErrors(t *testing.T) {
	_, errs := LoadDir("/nonexistent/directory/path", LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not found")
	assertCode(t, ErrCodeNotFound, errs[0])

	_, errs = LoadDir(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	assertCode(t, ErrCodeNoFiles, errs[0])

	file := filepath.Join(t.TempDir(), "model.cue")
	require.NoError(t, os.WriteFile(file, []byte("package x\n"), 0o644))
	_, errs = LoadDir(file, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "not a directory")
}

func TestLoadDirBuildError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte("package x\nvalue: 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte("package x\nvalue: 2\n"), 0o644))

	_, errs := LoadDir(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assertCode(t, ErrCodeBuildFailed, errs[0])
}

func TestLoadModes(t *testing.T) {
	src := `
		entity: Person: { properties: { id: "int64", name: "string" } }
		entity: Broken: { properties: { x: "map[string]int" } }
		repository: A: { domain: "Nobody", methods: {} }
		repository: B: { domain: "Person", methods: { m: { shape: "single" } } }
		repository: C: {
			domain: "Person"
			methods: findByName: { params: [{name: "name", type: "string"}], returns: "Person", shape: "single" }
		}
	`

	cat, errs := LoadString(src, LoadModeFailFast)
	require.Len(t, errs, 1)
	assertCode(t, ErrCodeInvalidType, errs[0])
	assert.Empty(t, cat.Repositories)

	cat, errs = LoadString(src, LoadModeCollectAll)
	require.Len(t, errs, 3)
	assertCode(t, ErrCodeInvalidType, errs[0])
	assertCode(t, ErrCodeUnknownDomain, errs[1])
	assertCode(t, ErrCodeMissingReturns, errs[2])
	assert.Contains(t, errs[2].Error(), "repository.B.methods.m")

	require.Len(t, cat.Repositories, 1)
	assert.Equal(t, "C", cat.Repositories[0].Name)
}

func TestLoadStringEmpty(t *testing.T) {
	_, errs := LoadString(`other: 1`, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no entities found")

	_, errs = LoadString(`entity: {`, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assertCode(t, ErrCodeBuildFailed, errs[0])
}

func TestFindCUEFiles(t *testing.T) {
	files, err := FindCUEFiles(specsDir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.Equal(t, ".cue", filepath.Ext(f))
	}
}

func assertCode(t *testing.T, code string, err error) {
	t.Helper()
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, code, ce.Code, "got %v", err)
}
