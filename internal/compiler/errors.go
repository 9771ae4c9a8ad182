package compiler

import (
	"fmt"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes reported by the loader (E001-E099) and by compilation of
// entities (E1xx) and repositories (E2xx).
const (
	ErrCodeGeneric     = "E001" // generic/unknown error
	ErrCodeScanError   = "E002" // directory scan error
	ErrCodeNoFiles     = "E003" // no CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCUE         = "E007" // CUE evaluation error

	ErrCodeInvalidType    = "E101" // unparseable type spelling
	ErrCodeNoProperties   = "E102" // entity declares no properties
	ErrCodeUnknownEntity  = "E103" // type names an undeclared entity
	ErrCodeEmbeddingCycle = "E104" // embeddable entities embed each other

	ErrCodeUnknownDomain  = "E201" // repository domain is not an entity
	ErrCodeInvalidShape   = "E202" // missing or unknown result shape
	ErrCodeInvalidRole    = "E203" // unknown parameter role
	ErrCodeInvalidLock    = "E204" // unknown lock mode
	ErrCodeMissingReturns = "E205" // non-modifying method declares no return type
	ErrCodeConflict       = "E206" // contradictory method attributes
)

// CompileError represents a compilation error with source position.
type CompileError struct {
	Code    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Line returns the 1-based source line, or 0 when the position is unknown.
func (e *CompileError) Line() int {
	if !e.Pos.IsValid() {
		return 0
	}
	return e.Pos.Line()
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error, field string) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &CompileError{Code: ErrCodeCUE, Field: field, Message: err.Error()}
	}

	// Return first error with position info
	first := errs[0]
	ce := &CompileError{Code: ErrCodeCUE, Field: field, Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		ce.Pos = positions[0]
	}
	return ce
}
