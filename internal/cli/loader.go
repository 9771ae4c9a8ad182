package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/finder/internal/compiler"
	"github.com/roach88/finder/internal/ir"
)

// Codes for command-level failures that carry no compiler or query code.
const (
	ErrCodeUsage         = "E010" // malformed command arguments
	ErrCodeUnknownMethod = "E011" // repository or method not declared
	ErrCodeDatabase      = "E012" // database could not be opened or prepared
	ErrCodeExecution     = "E013" // execution failed without a query error code
)

// loadCatalog loads specs fail-fast. The first load or compile failure is
// reported through f and returned as a command error.
func loadCatalog(f *OutputFormatter, dir string) (*compiler.Catalog, error) {
	cat, errs := compiler.LoadDir(dir, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, f.Fail(ExitCommandError, errorCode(errs[0]), errs[0].Error(), nil)
	}
	f.VerboseLog("Loaded %d CUE file(s) from %s: %d repositories", cat.FileCount, dir, len(cat.Repositories))
	return cat, nil
}

// resolveMethod finds "Repository.method" in the catalog.
func resolveMethod(cat *compiler.Catalog, ref string) (*compiler.Repository, *ir.MethodDescriptor, error) {
	repoName, methodName, ok := strings.Cut(ref, ".")
	if !ok || repoName == "" || methodName == "" {
		return nil, nil, fmt.Errorf("method reference %q must have the form Repository.method", ref)
	}
	repo, ok := cat.Repository(repoName)
	if !ok {
		return nil, nil, fmt.Errorf("repository %s is not declared", repoName)
	}
	for _, m := range repo.Methods {
		if m.Name == methodName {
			return repo, m, nil
		}
	}
	return nil, nil, fmt.Errorf("repository %s has no method %s", repoName, methodName)
}

// errorCode returns the most specific code carried by err.
func errorCode(err error) string {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ce.Code
	}
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return compiler.ErrCodeGeneric
}
