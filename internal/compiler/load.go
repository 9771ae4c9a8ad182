package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/finder/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Catalog is everything declared in one CUE instance.
type Catalog struct {
	Model        *ir.Metamodel
	Repositories []*Repository
	FileCount    int // number of CUE files found; 0 for in-memory sources
}

// Repository returns the repository with the given name.
func (c *Catalog) Repository(name string) (*Repository, bool) {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Methods returns every method of every repository in declaration order.
func (c *Catalog) Methods() []*ir.MethodDescriptor {
	var out []*ir.MethodDescriptor
	for _, r := range c.Repositories {
		out = append(out, r.Methods...)
	}
	return out
}

// LoadDir loads the CUE instance in dir and compiles its entities and
// repositories. With LoadModeFailFast the first error is returned alone;
// with LoadModeCollectAll every compile error is reported. The catalog is
// returned alongside compile errors so callers can report partial results.
func LoadDir(dir string, mode LoadMode) (*Catalog, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&CompileError{Code: ErrCodeNotFound, Field: "load", Message: fmt.Sprintf("directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&CompileError{Code: ErrCodeNotFound, Field: "load", Message: fmt.Sprintf("error accessing directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&CompileError{Code: ErrCodeNotFound, Field: "load", Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&CompileError{Code: ErrCodeScanError, Field: "load", Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&CompileError{Code: ErrCodeNoFiles, Field: "load", Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&CompileError{Code: ErrCodeLoadFailed, Field: "load", Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&CompileError{Code: ErrCodeLoadFailed, Field: "load", Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Validate(); err != nil {
		ce := formatCUEError(err, "load").(*CompileError)
		ce.Code = ErrCodeBuildFailed
		return nil, []error{ce}
	}

	cat, errs := LoadValue(value, mode)
	if cat != nil {
		cat.FileCount = len(files)
	}
	return cat, errs
}

// LoadString compiles CUE source held in memory. It is used by tests and
// by the scenario harness for inline declarations.
func LoadString(src string, mode LoadMode) (*Catalog, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Validate(); err != nil {
		ce := formatCUEError(err, "load").(*CompileError)
		ce.Code = ErrCodeBuildFailed
		return nil, []error{ce}
	}
	return LoadValue(value, mode)
}

// LoadValue compiles the entity and repository declarations of a built
// CUE value.
func LoadValue(value cue.Value, mode LoadMode) (*Catalog, []error) {
	cat := &Catalog{Model: ir.NewMetamodel()}
	var errs []error
	stop := func(err error) bool {
		errs = append(errs, err)
		return mode == LoadModeFailFast
	}

	if ents := value.LookupPath(cue.ParsePath("entity")); ents.Exists() {
		iter, err := ents.Fields()
		if err != nil {
			if stop(formatCUEError(err, "entity")) {
				return cat, errs
			}
		} else {
			for iter.Next() {
				e, err := CompileEntity(iter.Value())
				if err != nil {
					if stop(withField(err, "entity."+iter.Label())) {
						return cat, errs
					}
					continue
				}
				cat.Model.Add(e)
			}
		}
	}

	for _, err := range Link(cat.Model) {
		if stop(err) {
			return cat, errs
		}
	}

	if repos := value.LookupPath(cue.ParsePath("repository")); repos.Exists() {
		iter, err := repos.Fields()
		if err != nil {
			if stop(formatCUEError(err, "repository")) {
				return cat, errs
			}
		} else {
			for iter.Next() {
				r, err := CompileRepository(iter.Value())
				if err != nil {
					if stop(withField(err, "repository."+iter.Label())) {
						return cat, errs
					}
					continue
				}
				if e, ok := cat.Model.Entity(r.Domain); !ok || e.Embeddable {
					err := &CompileError{
						Code:    ErrCodeUnknownDomain,
						Field:   "repository." + r.Name + ".domain",
						Message: fmt.Sprintf("domain %q is not a declared entity", r.Domain),
						Pos:     iter.Value().LookupPath(cue.ParsePath("domain")).Pos(),
					}
					if stop(err) {
						return cat, errs
					}
					continue
				}
				cat.Repositories = append(cat.Repositories, r)
			}
		}
	}
	sort.SliceStable(cat.Repositories, func(i, j int) bool {
		return cat.Repositories[i].Name < cat.Repositories[j].Name
	})

	if len(cat.Model.Entities()) == 0 && len(errs) == 0 {
		errs = append(errs, &CompileError{Code: ErrCodeGeneric, Field: "load", Message: "no entities found"})
	}
	return cat, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// withField prefixes the field of a CompileError with its declaration path.
func withField(err error, prefix string) error {
	var ce *CompileError
	if errors.As(err, &ce) {
		out := *ce
		out.Field = prefix + "." + ce.Field
		return &out
	}
	return &CompileError{Code: ErrCodeGeneric, Field: prefix, Message: err.Error()}
}
