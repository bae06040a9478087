package workflow

import (
	"context"

	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

// SelectionResult reports what SelectPropertyVariant did: whether the
// selection row was created or replaced, and the auto-fork it triggered, if
// any.
type SelectionResult struct {
	Created      bool
	AutoForked   bool
	NewBranchID  string
	NewExecution string
}

// SelectPropertyVariant marks one data record as the active variant for a
// molecule/property within the execution's branch. The record reference is
// validated against the registry and the record row before anything is
// written. Every call checks completed steps for dependency overlap and
// auto-forks when the change would invalidate one.
func (e *Engine) SelectPropertyVariant(ctx context.Context, executionID string, moleculeID int64,
	propertyName, dataTypeName, dataRecordID, selectedBy string) (*SelectionResult, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	dt, err := e.reg.Resolve(dataTypeName)
	if err != nil {
		return nil, err
	}
	if dt.PropertyName() != propertyName {
		return nil, &SelectionMismatchError{RecordID: dataRecordID,
			Reason: "type " + dataTypeName + " carries property " + dt.PropertyName() + ", not " + propertyName}
	}
	rec, err := e.store.GetDataRecord(ctx, dataTypeName, dataRecordID)
	if err != nil {
		return nil, err
	}
	if rec.MoleculeID != moleculeID {
		return nil, &SelectionMismatchError{RecordID: dataRecordID,
			Reason: "record belongs to a different molecule"}
	}

	mol, err := e.store.GetMolecule(ctx, moleculeID)
	if err != nil {
		return nil, err
	}

	sel := &model.DataSelection{
		ExecutionID:         executionID,
		BranchID:            exec.BranchID,
		MoleculeID:          moleculeID,
		PropertyName:        propertyName,
		DataTypeName:        dataTypeName,
		DataRecordID:        dataRecordID,
		ProviderExecutionID: rec.ProviderExecutionID,
		SelectedAt:          e.now(),
		SelectedBy:          selectedBy,
	}
	created, err := e.store.UpsertSelection(ctx, sel)
	if err != nil {
		return nil, err
	}

	if err := e.LogEvent(ctx, executionID, model.EventDataSelectionChanged, model.JSONMap{
		"molecule":   mol.InChIKey,
		"property":   propertyName,
		"data_class": dataTypeName,
		"data_id":    dataRecordID,
		"created":    created,
	}); err != nil {
		return nil, err
	}

	result := &SelectionResult{Created: created}

	// Every selection change checks for impact; completed steps that
	// consumed this property force a fork so their recorded inputs stay
	// truthful.
	impacted, err := e.selectionImpactsCompletedStep(ctx, executionID, propertyName)
	if err != nil {
		return nil, err
	}
	if impacted {
		branchID, newExecID, err := e.autoFork(ctx, exec, propertyName)
		if err != nil {
			return nil, err
		}
		result.AutoForked = true
		result.NewBranchID = branchID
		result.NewExecution = newExecID
	}
	return result, nil
}

func (e *Engine) selectionImpactsCompletedStep(ctx context.Context, executionID, propertyName string) (bool, error) {
	steps, err := e.store.CompletedSteps(ctx, executionID)
	if err != nil {
		return false, err
	}
	for _, se := range steps {
		for _, p := range se.InputProperties {
			if p == propertyName {
				return true, nil
			}
		}
	}
	return false, nil
}

// autoFork creates a variant branch plus a fresh execution carrying the
// changed selections. The new execution starts from step zero: the fork
// exists precisely because completed work no longer matches its inputs.
func (e *Engine) autoFork(ctx context.Context, exec *model.WorkflowExecution, propertyName string) (string, string, error) {
	suffix := e.ids.Suffix()
	branch := &model.WorkflowBranch{
		BranchID:       model.DerivedID(exec.BranchID, "var", suffix),
		Name:           "Variant " + suffix,
		BlueprintKey:   exec.BlueprintKey,
		ParentBranchID: exec.BranchID,
		BranchReason:   "selection changed for property " + propertyName,
		Preferences:    model.JSONMap{},
		IsActive:       true,
		CreatedAt:      e.now(),
	}
	newExec := &model.WorkflowExecution{
		ExecutionID:       model.DerivedID(exec.ExecutionID, "var", suffix),
		Name:              exec.Name + " (variant)",
		Description:       exec.Description,
		BlueprintKey:      exec.BlueprintKey,
		BranchID:          branch.BranchID,
		FamilyDataConfig:  exec.FamilyDataConfig.Clone(),
		Status:            model.StatusPending,
		ParentExecutionID: exec.ExecutionID,
		BranchLabel:       branch.Name,
		ExecutionResults:  model.JSONMap{},
		ExecutionMetrics:  model.JSONMap{},
		CreatedAt:         e.now(),
	}
	familyIDs, err := e.executionFamilyRowIDs(ctx, exec.ExecutionID)
	if err != nil {
		return "", "", err
	}
	ev := &model.WorkflowEvent{
		ExecutionID: exec.ExecutionID,
		EventType:   model.EventAutoFork,
		Details: model.JSONMap{
			"property":      propertyName,
			"new_branch":    branch.BranchID,
			"new_execution": newExec.ExecutionID,
		},
		CreatedAt: e.now(),
	}
	if err := e.store.CreateBranchAndExecutionAtomic(ctx, branch, newExec, familyIDs,
		exec.ExecutionID, exec.BranchID, ev); err != nil {
		return "", "", err
	}
	e.log.Info("auto-fork",
		"execution", exec.ExecutionID,
		"property", propertyName,
		"new_branch", branch.BranchID,
		"new_execution", newExec.ExecutionID)
	return branch.BranchID, newExec.ExecutionID, nil
}

// GetSelectedProperty resolves the active variant for a molecule/property
// in this execution. Resolution order: exact branch match, then the most
// recent selection on any branch of the same execution. A missing selection
// returns (nil, nil); dangling references fall back to a logged scan across
// type tags before giving up.
func (e *Engine) GetSelectedProperty(ctx context.Context, executionID string, moleculeID int64, propertyName string) (*model.DataRecord, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	sel, err := e.store.GetSelection(ctx, executionID, exec.BranchID, moleculeID, propertyName)
	if store.IsNotFound(err) {
		sel, err = e.store.LatestSelectionAnyBranch(ctx, executionID, moleculeID, propertyName)
		if store.IsNotFound(err) {
			return nil, nil
		}
	}
	if err != nil {
		return nil, err
	}

	if _, rerr := e.reg.Resolve(sel.DataTypeName); rerr != nil {
		e.log.Warn("selection references unregistered type; scanning all types",
			"execution", executionID, "type", sel.DataTypeName, "record", sel.DataRecordID)
		rec, err := e.store.GetDataRecordAnyType(ctx, sel.DataRecordID)
		if store.IsNotFound(err) {
			return nil, nil
		}
		return rec, err
	}

	rec, err := e.store.GetDataRecord(ctx, sel.DataTypeName, sel.DataRecordID)
	if store.IsNotFound(err) {
		e.log.Warn("selection record missing under its type tag; scanning all types",
			"execution", executionID, "type", sel.DataTypeName, "record", sel.DataRecordID)
		rec, err = e.store.GetDataRecordAnyType(ctx, sel.DataRecordID)
		if store.IsNotFound(err) {
			return nil, nil
		}
	}
	return rec, err
}

// ListVariants returns every stored record carrying the given property for
// a molecule, across all registered types, newest first per type.
func (e *Engine) ListVariants(ctx context.Context, moleculeID int64, propertyName string) ([]model.DataRecord, error) {
	variants := []model.DataRecord{}
	for _, typeName := range e.reg.ByProperty(propertyName) {
		records, err := e.store.ListDataRecords(ctx, moleculeID, store.RecordFilter{TypeName: typeName})
		if err != nil {
			return nil, err
		}
		variants = append(variants, records...)
	}
	return variants, nil
}
