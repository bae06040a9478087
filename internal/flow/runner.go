// Package flow runs ordered step sequences against a workflow execution.
// Steps declare their data dependencies; the runner freezes inputs, gates
// on configuration, and records every outcome through the engine.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

// Step is one unit of flow work. Implementations read only from the frozen
// input handed to Process; reaching around it to live execution state breaks
// reproducibility.
type Step interface {
	// ID uniquely names the step within a flow.
	ID() string
	// Name is the human-readable step title.
	Name() string
	// Order positions the step; the runner executes ascending.
	Order() int
	// RequiredDataTypes lists registered type names every family must have
	// a retrieval method configured for before this step may run.
	RequiredDataTypes() []string
	// InputProperties lists the property names this step consumes. A later
	// selection change on any of them auto-forks past this step.
	InputProperties() []string
	// Process computes the step over frozen inputs and returns its results.
	Process(ctx context.Context, in *Input) (model.JSONMap, error)
}

// Input is the frozen view a step processes: the immutable step record
// (snapshot, methods, signature) plus typed data access.
type Input struct {
	Execution *model.WorkflowExecution
	Step      *model.StepExecution
	Data      *chem.Service
}

// Runner executes a step sequence over one execution.
type Runner struct {
	engine *workflow.Engine
	data   *chem.Service
	steps  []Step
	log    *slog.Logger
}

// NewRunner builds a runner. Steps are sorted by Order; a nil logger uses
// slog's default.
func NewRunner(engine *workflow.Engine, data *chem.Service, steps []Step, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	sorted := make([]Step, len(steps))
	copy(sorted, steps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })
	return &Runner{engine: engine, data: data, steps: sorted, log: log}
}

// Steps returns the runner's steps in execution order.
func (r *Runner) Steps() []Step {
	return r.steps
}

// Options control a run.
type Options struct {
	// UntilStep stops the run after the named step completes. Empty runs
	// everything.
	UntilStep string
	// AutoSkipCompleted skips steps that already have a COMPLETED run in
	// this execution instead of re-executing them.
	AutoSkipCompleted bool
}

// Run executes the flow against an execution. Each step is gated on its
// configured dependencies, its inputs are snapshotted and frozen before
// Process runs, and failures are recorded before the error is returned.
func (r *Runner) Run(ctx context.Context, executionID string, opts Options) error {
	exec, err := r.engine.Store().GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	for _, step := range r.steps {
		if opts.AutoSkipCompleted {
			done, err := r.engine.Store().HasCompletedStep(ctx, executionID, step.ID())
			if err != nil {
				return err
			}
			if done {
				r.log.Debug("step already completed, skipping", "execution", executionID, "step", step.ID())
				if step.ID() == opts.UntilStep {
					return nil
				}
				continue
			}
		}

		if err := r.canExecute(ctx, executionID, step); err != nil {
			return err
		}

		se, err := r.engine.StartStep(ctx, executionID, workflow.StepInfo{
			StepID:          step.ID(),
			Name:            step.Name(),
			Order:           step.Order(),
			InputProperties: step.InputProperties(),
		})
		if err != nil {
			return err
		}
		if err := r.engine.FreezeStepData(ctx, se); err != nil {
			return err
		}

		results, perr := step.Process(ctx, &Input{Execution: exec, Step: se, Data: r.data})
		if perr != nil {
			if ferr := r.engine.FailStep(ctx, se, perr); ferr != nil {
				return fmt.Errorf("record step failure: %w", ferr)
			}
			return &StepFailedError{StepID: step.ID(), Err: perr}
		}
		if err := r.engine.CompleteStep(ctx, se, results); err != nil {
			return err
		}

		if step.ID() == opts.UntilStep {
			return nil
		}
	}
	return nil
}

// canExecute verifies every family in the execution has a retrieval method
// configured for each of the step's required data types.
func (r *Runner) canExecute(ctx context.Context, executionID string, step Step) error {
	required := step.RequiredDataTypes()
	if len(required) == 0 {
		return nil
	}
	exec, err := r.engine.Store().GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	families, err := r.engine.Store().ExecutionFamilies(ctx, executionID)
	if err != nil {
		return err
	}

	missing := []string{}
	for _, fam := range families {
		for _, typeName := range required {
			if exec.FamilyDataConfig[fam.FamilyID][typeName] == "" {
				missing = append(missing, fam.FamilyID+"/"+typeName)
			}
		}
	}
	if len(missing) > 0 {
		return &DependencyUnsatisfiedError{StepID: step.ID(), Missing: missing}
	}
	return nil
}

// Progress reports configuration completeness as a fraction: configured
// (family, member, required type) triples over the total the flow needs.
// An execution with nothing required reports 1.0.
func (r *Runner) Progress(ctx context.Context, executionID string) (float64, error) {
	exec, err := r.engine.Store().GetExecution(ctx, executionID)
	if err != nil {
		return 0, err
	}
	families, err := r.engine.Store().ExecutionFamilies(ctx, executionID)
	if err != nil {
		return 0, err
	}

	requiredTypes := map[string]struct{}{}
	for _, step := range r.steps {
		for _, t := range step.RequiredDataTypes() {
			requiredTypes[t] = struct{}{}
		}
	}

	total := 0
	configured := 0
	for _, fam := range families {
		members, err := r.engine.Store().FamilyMembers(ctx, fam.ID)
		if err != nil {
			return 0, err
		}
		for t := range requiredTypes {
			total += len(members)
			if exec.FamilyDataConfig[fam.FamilyID][t] != "" {
				configured += len(members)
			}
		}
	}
	if total == 0 {
		return 1.0, nil
	}
	return float64(configured) / float64(total), nil
}
