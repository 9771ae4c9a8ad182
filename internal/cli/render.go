package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/finder/internal/engine"
	"github.com/roach88/finder/internal/ir"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions
	Sort string // dynamic sort, e.g. "lastname,-age"
}

// RenderResult describes the planned queries of one method.
type RenderResult struct {
	Method     string `json:"method"`
	Kind       string `json:"kind"`
	Strategy   string `json:"strategy"`
	Query      string `json:"query"`
	CountQuery string `json:"count_query,omitempty"`
	PerCall    bool   `json:"per_call"` // query text is rendered on every invocation
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render <specs-dir> <Repository.method>",
		Short: "Show the query a repository method compiles to",
		Long: `Plan one repository method and print its query text.

Derived methods are parsed from their names and rendered; annotated
methods have their sort and templates applied. Paged methods also show
their count query.

Examples:
  finder render ./specs PersonRepository.findByAgeGreaterThan
  finder render ./specs PersonRepository.findOlderThan --sort "-age"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Sort, "sort", "", `dynamic sort applied to the query ("name,-age")`)

	return cmd
}

func runRender(opts *RenderOptions, specsDir, ref string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	cat, err := loadCatalog(f, specsDir)
	if err != nil {
		return err
	}
	_, method, err := resolveMethod(cat, ref)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeUnknownMethod, err.Error(), nil)
	}
	sort, err := ir.ParseSort(opts.Sort)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeUsage, err.Error(), nil)
	}

	plan, err := engine.NewPlan(method, cat.Model)
	if err != nil {
		return f.Fail(ExitFailure, errorCode(err), err.Error(), nil)
	}
	text, err := plan.QueryText(sort)
	if err != nil {
		return f.Fail(ExitFailure, errorCode(err), err.Error(), nil)
	}

	result := RenderResult{
		Method:     method.ID(),
		Kind:       string(method.Kind),
		Strategy:   plan.Strategy().String(),
		Query:      text,
		CountQuery: plan.CountText(),
		PerCall:    plan.RequiresRecreation(),
	}
	if opts.Format == formatJSON {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "%s (%s, %s)\n", result.Method, result.Kind, result.Strategy)
	fmt.Fprintf(w, "  query: %s\n", result.Query)
	if result.CountQuery != "" {
		fmt.Fprintf(w, "  count: %s\n", result.CountQuery)
	}
	if result.PerCall {
		fmt.Fprintln(w, "  rendered per call")
	}
	return nil
}
