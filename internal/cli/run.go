package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/flow"
	"github.com/chem-gl/cadma-flow-api/internal/flowdef"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database    string
	ExecutionID string
	FlowID      string
	UntilStep   string
	Rerun       bool
}

// RunResult summarizes a completed run.
type RunResult struct {
	ExecutionID string  `json:"execution_id"`
	FlowID      string  `json:"flow_id"`
	Steps       int     `json:"steps"`
	Progress    float64 `json:"progress"`
}

func (r RunResult) String() string {
	return fmt.Sprintf("Execution %s completed flow %s (%d steps, progress %.2f)",
		r.ExecutionID, r.FlowID, r.Steps, r.Progress)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <flows-dir>",
		Short: "Run a flow against an execution",
		Long: `Run a CUE-defined flow against an existing workflow execution.

The execution must already have its molecular families associated and its
data retrieval methods configured; steps whose dependencies are not
configured refuse to run.

Examples:
  cadmaflow run --db ./cadmaflow.db --execution exec-root-abc --flow qsar_screen ./flows
  cadmaflow run --db ./cadmaflow.db --execution exec-root-abc --flow qsar_screen --until collect-logp ./flows`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ExecutionID, "execution", "", "execution id to run against (required)")
	_ = cmd.MarkFlagRequired("execution")
	cmd.Flags().StringVar(&opts.FlowID, "flow", "", "flow id to run (defaults to the only flow in the directory)")
	cmd.Flags().StringVar(&opts.UntilStep, "until", "", "stop after this step completes")
	cmd.Flags().BoolVar(&opts.Rerun, "rerun-completed", false, "re-execute steps that already completed")

	return cmd
}

func runFlow(opts *RunOptions, flowsDir string, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	flows, err := flowdef.LoadDir(flowsDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load flows", err)
	}
	def, err := pickFlow(flows, opts.FlowID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to pick flow", err)
	}

	reg := chem.DefaultRegistry()
	if err := flowdef.CheckTypes(def, reg); err != nil {
		return WrapExitError(ExitCommandError, "flow references unregistered types", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ids := model.UUIDGenerator{}
	engine := workflow.New(st, reg, ids, nil, log)
	data := chem.NewService(st, reg, ids, nil, log)
	runner := flow.NewRunner(engine, data, flowdef.Bind(def), log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	runOpts := flow.Options{UntilStep: opts.UntilStep, AutoSkipCompleted: !opts.Rerun}
	if err := runner.Run(ctx, opts.ExecutionID, runOpts); err != nil {
		switch {
		case flow.IsDependencyUnsatisfied(err), flow.IsStepFailed(err):
			return WrapExitError(ExitFailure, "flow run failed", err)
		default:
			return WrapExitError(ExitCommandError, "flow run failed", err)
		}
	}

	progress, err := runner.Progress(ctx, opts.ExecutionID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute progress", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(RunResult{
		ExecutionID: opts.ExecutionID,
		FlowID:      def.FlowID,
		Steps:       len(def.Steps),
		Progress:    progress,
	})
}

// pickFlow selects a flow by id, or the sole flow when no id is given.
func pickFlow(flows []flowdef.FlowDef, flowID string) (*flowdef.FlowDef, error) {
	if flowID == "" {
		if len(flows) != 1 {
			return nil, fmt.Errorf("directory defines %d flows, pass --flow to choose one", len(flows))
		}
		return &flows[0], nil
	}
	for i := range flows {
		if flows[i].FlowID == flowID {
			return &flows[i], nil
		}
	}
	return nil, fmt.Errorf("flow %q not found", flowID)
}
