package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/finder/internal/compiler"
	"github.com/roach88/finder/internal/engine"
)

// ValidationIssue is one problem found in the specs.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid        bool              `json:"valid"`
	Entities     int               `json:"entities"`
	Repositories int               `json:"repositories"`
	Methods      int               `json:"methods"`
	Errors       []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate entity and repository specs",
		Long: `Validate CUE entity and repository declarations and plan every method.

All declaration errors are collected. When the declarations load, every
method is planned, which reports malformed method names, operator misuse,
and invalid return types without touching a database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cat, loadErrs := compiler.LoadDir(specsDir, compiler.LoadModeCollectAll)

	// Directory-level failures leave nothing to validate.
	if cat == nil && len(loadErrs) == 1 {
		var ce *compiler.CompileError
		if errors.As(loadErrs[0], &ce) {
			switch ce.Code {
			case compiler.ErrCodeNotFound, compiler.ErrCodeScanError, compiler.ErrCodeNoFiles:
				return f.Fail(ExitCommandError, ce.Code, ce.Message, nil)
			}
		}
	}

	result := ValidationResult{}
	for _, err := range loadErrs {
		result.Errors = append(result.Errors, issueOf(err))
	}

	if cat != nil {
		f.VerboseLog("Found %d CUE file(s) in %s", cat.FileCount, specsDir)
		result.Entities = len(cat.Model.Entities())
		result.Repositories = len(cat.Repositories)
		for _, repo := range cat.Repositories {
			for _, m := range repo.Methods {
				result.Methods++
				f.VerboseLog("Planning %s", m.ID())
				if _, err := engine.NewPlan(m, cat.Model); err != nil {
					result.Errors = append(result.Errors, ValidationIssue{
						Code:    errorCode(err),
						Field:   m.ID(),
						Message: err.Error(),
					})
				}
			}
		}
	}

	if len(result.Errors) > 0 {
		return outputValidationErrors(f, result)
	}

	result.Valid = true
	if opts.Format == formatJSON {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ All specs valid (%d entities, %d repositories, %d methods)\n",
		result.Entities, result.Repositories, result.Methods)
	return nil
}

func issueOf(err error) ValidationIssue {
	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return ValidationIssue{Code: ce.Code, Field: ce.Field, Message: ce.Message, Line: ce.Line()}
	}
	return ValidationIssue{Code: errorCode(err), Message: err.Error()}
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(f *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	if f.isJSON() {
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)

	for _, e := range errs {
		if e.Line > 0 {
			fmt.Fprintf(f.Writer, "line %d\n", e.Line)
		}
		if e.Field != "" {
			fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", e.Code, e.Field, e.Message)
		} else {
			fmt.Fprintf(f.Writer, "  %s: %s\n\n", e.Code, e.Message)
		}
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
