package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/flowdef"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidationResult holds the validation output for JSON mode.
type ValidationResult struct {
	Valid bool          `json:"valid"`
	Flows []FlowSummary `json:"flows"`
}

// FlowSummary describes one loaded flow.
type FlowSummary struct {
	FlowID string   `json:"flow_id"`
	Name   string   `json:"name,omitempty"`
	Steps  []string `json:"steps"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <flows-dir>",
		Short: "Validate CUE flow definitions",
		Long: `Load and validate the CUE flow definitions in a directory.

Checks structure (non-empty steps, unique step ids and orders) and that
every required data type is registered.

Examples:
  cadmaflow validate ./flows
  cadmaflow validate ./flows --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	flows, err := flowdef.LoadDir(dir)
	if err != nil {
		return reportLoadError(formatter, err)
	}

	reg := chem.DefaultRegistry()
	result := ValidationResult{Valid: true}
	for i := range flows {
		def := &flows[i]
		if err := flowdef.CheckTypes(def, reg); err != nil {
			return reportLoadError(formatter, err)
		}
		summary := FlowSummary{FlowID: def.FlowID, Name: def.Name}
		for _, s := range def.Steps {
			summary.Steps = append(summary.Steps, s.ID)
		}
		result.Flows = append(result.Flows, summary)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Validated %d flow(s) in %s\n", len(result.Flows), dir)
	for _, f := range result.Flows {
		fmt.Fprintf(&b, "  %s: %s\n", f.FlowID, strings.Join(f.Steps, " -> "))
	}
	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}

// reportLoadError prints a structured load failure and returns a failure
// exit code, preserving the loader's error code when present.
func reportLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *flowdef.LoadError
	code := "E000"
	if errors.As(err, &loadErr) {
		code = loadErr.Code
	}
	if outErr := formatter.Error(code, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "flow validation failed", err)
}
