package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/finder/internal/compiler"
	"github.com/roach88/finder/internal/convert"
	"github.com/roach88/finder/internal/engine"
	"github.com/roach88/finder/internal/harness"
	"github.com/roach88/finder/internal/store"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	DB          string            // database path; overrides the configured one
	Transaction bool              // run the invocation inside a transaction
	Procedures  map[string]string // procedure name -> emulating SQL
	ResultSets  []string          // procedures whose rows are the result
}

// ExecResult is the JSON payload of a successful exec.
type ExecResult struct {
	Method string `json:"method"`
	Result any    `json:"result"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <specs-dir> <Repository.method> [args...]",
		Short: "Invoke a repository method against a SQLite database",
		Long: `Plan a repository method, bind the given arguments, and execute it.

Arguments are given in declaration order and converted to the declared
parameter types. Sort arguments take "name,-age", page arguments
"page:size", and projection arguments a comma-separated property list.
Missing tables are created. Stream results and result-set procedures
require --tx.

Examples:
  finder exec ./specs PersonRepository.findByAgeGreaterThan 40 --db people.db
  finder exec ./specs PersonRepository.findByActiveTrue 0:10 --db people.db --format json
  finder exec ./specs PersonRepository.countActive --db people.db \
    --procedure count_active="select count(*) from person where active = 1"`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd.Context(), opts, args[0], args[1], args[2:], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "SQLite database path (default: configured database, else in-memory)")
	cmd.Flags().BoolVar(&opts.Transaction, "tx", false, "run inside a transaction")
	cmd.Flags().StringToStringVar(&opts.Procedures, "procedure", nil, "register a procedure as name=SQL (repeatable)")
	cmd.Flags().StringSliceVar(&opts.ResultSets, "result-set", nil, "procedures whose rows are returned as the result")

	return cmd
}

func runExec(ctx context.Context, opts *ExecOptions, specsDir, ref string, rawArgs []string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)
	cfg := opts.settings()
	logger := opts.logger()

	cat, err := loadCatalog(f, specsDir)
	if err != nil {
		return err
	}
	repo, method, err := resolveMethod(cat, ref)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeUnknownMethod, err.Error(), nil)
	}

	dbPath := opts.DB
	if dbPath == "" {
		dbPath = cfg.Database
	}
	if dbPath == "" {
		dbPath = ":memory:"
	}
	f.VerboseLog("Opening database %s", dbPath)

	conv := convert.Default()
	st, err := store.Open(dbPath, cat.Model, store.WithLogger(logger), store.WithConverter(conv))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	defer st.Close()
	if err := st.CreateSchema(ctx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, err.Error(), nil)
	}
	resultSets := make(map[string]bool, len(opts.ResultSets))
	for _, name := range opts.ResultSets {
		resultSets[name] = true
	}
	for name, sql := range opts.Procedures {
		st.RegisterProcedure(name, store.ProcedureDef{SQL: sql, ResultSet: resultSets[name]})
	}

	eng, err := engine.New(st,
		engine.WithLogger(logger),
		engine.WithConverter(conv),
		engine.WithCacheSize(cfg.Cache.MetadataSize),
	)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeExecution, err.Error(), nil)
	}
	plan, err := engine.NewPlan(method, cat.Model)
	if err != nil {
		return f.Fail(ExitFailure, errorCode(err), err.Error(), nil)
	}

	raw := make([]any, len(rawArgs))
	for i, a := range rawArgs {
		raw[i] = a
	}
	args, err := engine.CoerceArgs(method, conv, raw)
	if err != nil {
		return f.Fail(ExitCommandError, errorCode(err), err.Error(), nil)
	}

	var out any
	call := func(ctx context.Context) error {
		res, err := eng.Execute(ctx, plan, args)
		if err != nil {
			return err
		}
		out, err = harness.Normalize(res)
		return err
	}
	if opts.Transaction {
		err = st.InTx(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		code := errorCode(err)
		if code == compiler.ErrCodeGeneric {
			code = ErrCodeExecution
		}
		return f.Fail(ExitFailure, code, err.Error(), nil)
	}

	f.VerboseLog("Executed %s.%s", repo.Name, method.Name)
	if opts.Format == formatJSON {
		return f.Success(ExecResult{Method: method.ID(), Result: out})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(f.Writer, string(data))
	return nil
}
