package workflow

import (
	"context"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// ForkExecution creates a shallow fork of an execution onto an existing
// branch: neither step history nor data selections are copied, so the new
// execution starts with an empty selection scope. The original execution
// is never mutated.
func (e *Engine) ForkExecution(ctx context.Context, executionID, targetBranchID string) (*model.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	branch, err := e.store.GetBranch(ctx, targetBranchID)
	if err != nil {
		return nil, err
	}

	newExec := &model.WorkflowExecution{
		ExecutionID:       model.DerivedID(exec.ExecutionID, "fork", e.ids.Suffix()),
		Name:              fmt.Sprintf("%s (fork:%s)", exec.Name, branch.BranchID),
		Description:       exec.Description,
		BlueprintKey:      exec.BlueprintKey,
		BranchID:          branch.BranchID,
		FamilyDataConfig:  exec.FamilyDataConfig.Clone(),
		Status:            model.StatusPending,
		ParentExecutionID: exec.ExecutionID,
		ExecutionResults:  model.JSONMap{},
		ExecutionMetrics:  model.JSONMap{},
		CreatedAt:         e.now(),
	}
	familyIDs, err := e.executionFamilyRowIDs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ev := &model.WorkflowEvent{
		ExecutionID: exec.ExecutionID,
		EventType:   model.EventFork,
		Details: model.JSONMap{
			"to":        newExec.ExecutionID,
			"to_branch": branch.BranchID,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.ForkExecutionAtomic(ctx, newExec, familyIDs, ev); err != nil {
		return nil, err
	}
	e.log.Info("execution forked", "from", exec.ExecutionID, "to", newExec.ExecutionID, "branch", branch.BranchID)
	return newExec, nil
}

// forkScaffold forks an execution's blueprint and branch for a deep clone.
// The returned records are not persisted; the caller inserts them in the
// same transaction as the cloned execution.
func (e *Engine) forkScaffold(ctx context.Context, exec *model.WorkflowExecution, label string) (*model.WorkflowBlueprint, *model.WorkflowBranch, error) {
	bp, err := e.store.GetBlueprint(ctx, exec.BlueprintKey)
	if err != nil {
		return nil, nil, err
	}
	parent, err := e.store.GetBranch(ctx, exec.BranchID)
	if err != nil {
		return nil, nil, err
	}
	newBP := &model.WorkflowBlueprint{
		Key:         model.DerivedID(bp.Key, "bp", e.ids.Suffix()),
		Name:        bp.Name,
		Description: bp.Description,
		Status:      model.StatusPending,
		BranchOf:    bp.Key,
		RootBranch:  bp.Root(),
		BranchLabel: label,
		CreatedAt:   e.now(),
	}
	prefs := model.JSONMap{}
	for k, v := range parent.Preferences {
		prefs[k] = v
	}
	newBranch := &model.WorkflowBranch{
		BranchID:       model.DerivedID(parent.BranchID, "br", e.ids.Suffix()),
		Name:           fmt.Sprintf("%s (%s)", parent.Name, label),
		BlueprintKey:   newBP.Key,
		ParentBranchID: parent.BranchID,
		BranchReason:   label,
		Preferences:    prefs,
		IsActive:       true,
		CreatedAt:      e.now(),
	}
	return newBP, newBranch, nil
}

// BranchExecution creates a deep branch: forked blueprint and branch plus
// a new execution carrying all COMPLETED step history, positioned to
// resume where the original stands.
func (e *Engine) BranchExecution(ctx context.Context, executionID, label string) (*model.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	newBP, newBranch, err := e.forkScaffold(ctx, exec, label)
	if err != nil {
		return nil, err
	}
	newExec := &model.WorkflowExecution{
		ExecutionID:       model.DerivedID(exec.ExecutionID, "br", e.ids.Suffix()),
		Name:              fmt.Sprintf("%s (branch:%s)", exec.Name, label),
		Description:       exec.Description,
		BlueprintKey:      newBP.Key,
		BranchID:          newBranch.BranchID,
		FamilyDataConfig:  exec.FamilyDataConfig.Clone(),
		Status:            model.StatusPending,
		CurrentStep:       exec.CurrentStep,
		CurrentStepIndex:  exec.CurrentStepIndex,
		ParentExecutionID: exec.ExecutionID,
		BranchLabel:       label,
		ExecutionResults:  model.JSONMap{},
		ExecutionMetrics:  model.JSONMap{},
		CreatedAt:         e.now(),
	}
	familyIDs, err := e.executionFamilyRowIDs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ev := &model.WorkflowEvent{
		ExecutionID: exec.ExecutionID,
		EventType:   model.EventExecBranchCreated,
		Details: model.JSONMap{
			"to":    newExec.ExecutionID,
			"label": label,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.BranchExecutionAtomic(ctx, newBP, newBranch, newExec, familyIDs, exec.ExecutionID, -1, ev); err != nil {
		return nil, err
	}
	e.log.Info("execution branched", "from", exec.ExecutionID, "to", newExec.ExecutionID, "label", label)
	return newExec, nil
}

// RewindTo creates a new execution whose history is truncated after the
// given step order. The original keeps its full history; the rewound copy
// resumes at order+1.
func (e *Engine) RewindTo(ctx context.Context, executionID string, order int) (*model.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	// resolve the step id at the rewind point so the cursor stays truthful
	currentStep := ""
	completed, err := e.store.CompletedSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, se := range completed {
		if se.Order == order {
			currentStep = se.StepID
		}
	}

	label := fmt.Sprintf("rewind-to-%d", order)
	newBP, newBranch, err := e.forkScaffold(ctx, exec, label)
	if err != nil {
		return nil, err
	}
	newExec := &model.WorkflowExecution{
		ExecutionID:       model.DerivedID(exec.ExecutionID, "rw", e.ids.Suffix()),
		Name:              fmt.Sprintf("%s (%s)", exec.Name, label),
		Description:       exec.Description,
		BlueprintKey:      newBP.Key,
		BranchID:          newBranch.BranchID,
		FamilyDataConfig:  exec.FamilyDataConfig.Clone(),
		Status:            model.StatusPending,
		CurrentStep:       currentStep,
		CurrentStepIndex:  order + 1,
		ParentExecutionID: exec.ExecutionID,
		BranchLabel:       label,
		ExecutionResults:  model.JSONMap{},
		ExecutionMetrics:  model.JSONMap{},
		CreatedAt:         e.now(),
	}
	familyIDs, err := e.executionFamilyRowIDs(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ev := &model.WorkflowEvent{
		ExecutionID: exec.ExecutionID,
		EventType:   model.EventRewind,
		Details: model.JSONMap{
			"rewind_to":      order,
			"from_execution": exec.ExecutionID,
			"new_execution":  newExec.ExecutionID,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.BranchExecutionAtomic(ctx, newBP, newBranch, newExec, familyIDs, exec.ExecutionID, order, ev); err != nil {
		return nil, err
	}
	e.log.Info("execution rewound", "from", exec.ExecutionID, "to", newExec.ExecutionID, "order", order)
	return newExec, nil
}

// ForkBranch creates a child branch with the parent's preferences plus
// overrides. It does not create an execution; callers fork executions onto
// it explicitly.
func (e *Engine) ForkBranch(ctx context.Context, branchID, name, reason string, overrides model.JSONMap) (*model.WorkflowBranch, error) {
	parent, err := e.store.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	prefs := model.JSONMap{}
	for k, v := range parent.Preferences {
		prefs[k] = v
	}
	for k, v := range overrides {
		prefs[k] = v
	}
	child := &model.WorkflowBranch{
		BranchID:       model.DerivedID(parent.BranchID, "br", e.ids.Suffix()),
		Name:           name,
		BlueprintKey:   parent.BlueprintKey,
		ParentBranchID: parent.BranchID,
		BranchReason:   reason,
		Preferences:    prefs,
		IsActive:       true,
		CreatedAt:      e.now(),
	}
	if err := e.store.CreateBranch(ctx, child); err != nil {
		return nil, err
	}
	e.log.Info("branch forked", "parent", parent.BranchID, "child", child.BranchID)
	return child, nil
}
