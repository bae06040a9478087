// Package workflow implements the execution engine: blueprints, branches,
// executions, step lifecycle, data-variant selection, and the fork, branch,
// and rewind operations built on them.
package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

// Engine coordinates workflow state. It is a thin orchestration layer: all
// durable writes go through the store, all typed data access through the
// registry. Engines are safe for concurrent use to the extent the
// single-writer store is.
type Engine struct {
	store *store.Store
	reg   *chem.Registry
	ids   model.IDGenerator
	now   func() time.Time
	log   *slog.Logger
}

// New builds an engine. A nil clock uses time.Now; a nil logger uses slog's
// default.
func New(st *store.Store, reg *chem.Registry, ids model.IDGenerator, now func() time.Time, log *slog.Logger) *Engine {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: st, reg: reg, ids: ids, now: now, log: log}
}

// Store exposes the backing store for read paths (timeline rendering, API).
func (e *Engine) Store() *store.Store {
	return e.store
}

// NewBlueprint creates a root blueprint with a generated key.
func (e *Engine) NewBlueprint(ctx context.Context, name, description string) (*model.WorkflowBlueprint, error) {
	bp := &model.WorkflowBlueprint{
		Key:         model.DerivedID("bp", "root", e.ids.Suffix()),
		Name:        name,
		Description: description,
		Status:      model.StatusPending,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateBlueprint(ctx, bp); err != nil {
		return nil, err
	}
	return bp, nil
}

// BranchBlueprint forks a blueprint definition. The new blueprint records
// its parent and the transitively resolved root so blueprint trees stay
// navigable without walking parents.
func (e *Engine) BranchBlueprint(ctx context.Context, key, label string) (*model.WorkflowBlueprint, error) {
	parent, err := e.store.GetBlueprint(ctx, key)
	if err != nil {
		return nil, err
	}
	child := &model.WorkflowBlueprint{
		Key:         model.DerivedID(parent.Key, "bp", e.ids.Suffix()),
		Name:        parent.Name,
		Description: parent.Description,
		Status:      model.StatusPending,
		BranchOf:    parent.Key,
		RootBranch:  parent.Root(),
		BranchLabel: label,
		CreatedAt:   e.now(),
	}
	if err := e.store.CreateBlueprint(ctx, child); err != nil {
		return nil, err
	}
	e.log.Info("blueprint branched", "parent", parent.Key, "child", child.Key, "label", label)
	return child, nil
}

// FreezeBlueprint stamps the advisory freeze on a blueprint definition.
func (e *Engine) FreezeBlueprint(ctx context.Context, key, frozenBy string) error {
	frozenAt := e.now().UTC().Format(time.RFC3339Nano)
	return e.store.FreezeBlueprint(ctx, key, frozenAt, frozenBy)
}

// NewExecution creates a fresh execution on a new root branch of the given
// blueprint.
func (e *Engine) NewExecution(ctx context.Context, blueprintKey, name, description string) (*model.WorkflowExecution, error) {
	if _, err := e.store.GetBlueprint(ctx, blueprintKey); err != nil {
		return nil, err
	}
	branch := &model.WorkflowBranch{
		BranchID:     model.DerivedID("br", "root", e.ids.Suffix()),
		Name:         "main",
		BlueprintKey: blueprintKey,
		Preferences:  model.JSONMap{},
		IsActive:     true,
		CreatedAt:    e.now(),
	}
	if err := e.store.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	exec := &model.WorkflowExecution{
		ExecutionID:      model.DerivedID("exec", "root", e.ids.Suffix()),
		Name:             name,
		Description:      description,
		BlueprintKey:     blueprintKey,
		BranchID:         branch.BranchID,
		FamilyDataConfig: model.FamilyDataConfig{},
		Status:           model.StatusPending,
		ExecutionResults: model.JSONMap{},
		ExecutionMetrics: model.JSONMap{},
		CreatedAt:        e.now(),
	}
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}
	e.log.Info("execution created", "execution", exec.ExecutionID, "branch", branch.BranchID, "blueprint", blueprintKey)
	return exec, nil
}

// AssociateFamily links a molecular family to an execution.
func (e *Engine) AssociateFamily(ctx context.Context, executionID string, familyID int64) error {
	return e.store.AssociateFamily(ctx, executionID, familyID)
}

// SetDataRetrievalMethod records how a family's data type is to be obtained
// for this execution. The pair is not validated here: whether the type is
// registered and supports the method is checked at retrieval time, so a
// config written ahead of type registration stays usable.
func (e *Engine) SetDataRetrievalMethod(ctx context.Context, executionID, familyID, typeName, method string) error {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}
	cfg := exec.FamilyDataConfig.Clone()
	if cfg[familyID] == nil {
		cfg[familyID] = map[string]string{}
	}
	cfg[familyID][typeName] = method
	return e.store.UpdateExecutionConfig(ctx, executionID, cfg)
}

// GetDataRetrievalMethod returns the configured method for a family/type
// pair, or "" when unconfigured.
func (e *Engine) GetDataRetrievalMethod(ctx context.Context, executionID, familyID, typeName string) (string, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return "", err
	}
	return exec.FamilyDataConfig[familyID][typeName], nil
}

// StepInfo describes one step run the engine is asked to start.
type StepInfo struct {
	StepID          string
	Name            string
	Order           int
	InputProperties []string
	Providers       []int64
}

// StartStep snapshots the execution's family composition and retrieval
// config, computes the input signature, and opens a RUNNING step record.
// The snapshot and signature are written once and never change.
func (e *Engine) StartStep(ctx context.Context, executionID string, info StepInfo) (*model.StepExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	snapshot, err := e.buildSnapshot(ctx, executionID)
	if err != nil {
		return nil, err
	}
	methods := exec.FamilyDataConfig.Clone()
	providers := info.Providers
	if providers == nil {
		providers = []int64{}
	}
	signature, err := model.StepInputSignature(snapshot, methods, providers)
	if err != nil {
		return nil, err
	}

	started := e.now()
	props := info.InputProperties
	if props == nil {
		props = []string{}
	}
	se := &model.StepExecution{
		ExecutionID:          executionID,
		StepID:               info.StepID,
		StepName:             info.Name,
		Order:                info.Order,
		InputDataSnapshot:    snapshot,
		DataRetrievalMethods: methods,
		Results:              model.JSONMap{},
		Status:               model.StatusRunning,
		StartedAt:            &started,
		InputSignature:       signature,
		InputProperties:      props,
		ProvidersUsed:        providers,
	}
	if err := e.store.CreateStepExecution(ctx, se); err != nil {
		return nil, err
	}
	if exec.Status == model.StatusPending {
		if err := e.store.UpdateExecutionStatus(ctx, executionID, model.StatusRunning); err != nil {
			return nil, err
		}
	}
	e.log.Info("step started", "execution", executionID, "step", info.StepID, "order", info.Order, "signature", signature)
	return se, nil
}

// CompleteStep writes step results, advances the execution cursor past the
// step, and logs STEP_COMPLETED.
func (e *Engine) CompleteStep(ctx context.Context, se *model.StepExecution, results model.JSONMap) error {
	if results == nil {
		results = model.JSONMap{}
	}
	completedAt := e.now()
	if err := e.store.FinishStepExecution(ctx, se.ID, results, model.StatusCompleted,
		completedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if err := e.store.UpdateExecutionCursor(ctx, se.ExecutionID, se.StepID, se.Order+1); err != nil {
		return err
	}
	se.Status = model.StatusCompleted
	se.Results = results
	se.CompletedAt = &completedAt
	return e.LogEvent(ctx, se.ExecutionID, model.EventStepCompleted, model.JSONMap{
		"step":  se.StepID,
		"order": se.Order,
	})
}

// FailStep records a step failure without advancing the cursor.
func (e *Engine) FailStep(ctx context.Context, se *model.StepExecution, cause error) error {
	completedAt := e.now()
	results := model.JSONMap{"error": cause.Error()}
	if err := e.store.FinishStepExecution(ctx, se.ID, results, model.StatusFailed,
		completedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	se.Status = model.StatusFailed
	se.Results = results
	se.CompletedAt = &completedAt
	e.log.Warn("step failed", "execution", se.ExecutionID, "step", se.StepID, "error", cause)
	return e.LogEvent(ctx, se.ExecutionID, model.EventStepFailed, model.JSONMap{
		"step":  se.StepID,
		"order": se.Order,
		"error": cause.Error(),
	})
}

// FreezeStepData freezes the newest record of every configured family/type
// pair in the step's input, then stamps the step's data-freeze timestamp.
// Frozen records refuse all further writes.
func (e *Engine) FreezeStepData(ctx context.Context, se *model.StepExecution) error {
	frozenAt := e.now().UTC().Format(time.RFC3339Nano)
	for familyID, types := range se.DataRetrievalMethods {
		members := se.InputDataSnapshot[familyID]
		for typeName := range types {
			for _, ref := range members {
				records, err := e.store.ListDataRecords(ctx, ref.ID, store.RecordFilter{TypeName: typeName})
				if err != nil {
					return err
				}
				if len(records) == 0 {
					continue
				}
				if records[0].IsFrozen {
					continue
				}
				if err := e.store.FreezeDataRecord(ctx, typeName, records[0].ID, frozenAt, se.StepID); err != nil {
					return err
				}
			}
		}
	}
	return e.store.MarkStepDataFrozen(ctx, se.ID, frozenAt)
}

// LogEvent appends one entry to the execution's audit log.
func (e *Engine) LogEvent(ctx context.Context, executionID, eventType string, details model.JSONMap) error {
	if details == nil {
		details = model.JSONMap{}
	}
	return e.store.AppendEvent(ctx, &model.WorkflowEvent{
		ExecutionID: executionID,
		EventType:   eventType,
		Details:     details,
		CreatedAt:   e.now(),
	})
}

// Timeline returns the execution's full audit log in append order.
func (e *Engine) Timeline(ctx context.Context, executionID string) ([]model.WorkflowEvent, error) {
	return e.store.ListEvents(ctx, executionID, "")
}

// ChildExecutions returns the ids of executions derived from this one.
func (e *Engine) ChildExecutions(ctx context.Context, executionID string) ([]string, error) {
	return e.store.ChildExecutions(ctx, executionID)
}

// buildSnapshot captures the execution's current family composition:
// family id -> member inchikey -> molecule row reference.
func (e *Engine) buildSnapshot(ctx context.Context, executionID string) (model.FamilySnapshot, error) {
	families, err := e.store.ExecutionFamilies(ctx, executionID)
	if err != nil {
		return nil, err
	}
	snapshot := model.FamilySnapshot{}
	for _, fam := range families {
		members, err := e.store.FamilyMembers(ctx, fam.ID)
		if err != nil {
			return nil, err
		}
		refs := make(map[string]model.MoleculeRef, len(members))
		for _, m := range members {
			refs[m.InChIKey] = model.MoleculeRef{ID: m.ID}
		}
		snapshot[fam.FamilyID] = refs
	}
	return snapshot, nil
}

func (e *Engine) executionFamilyRowIDs(ctx context.Context, executionID string) ([]int64, error) {
	families, err := e.store.ExecutionFamilies(ctx, executionID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(families))
	for _, f := range families {
		ids = append(ids, f.ID)
	}
	return ids, nil
}
