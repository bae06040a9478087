package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// CreateBlueprint inserts a workflow blueprint.
func (s *Store) CreateBlueprint(ctx context.Context, b *model.WorkflowBlueprint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_blueprints
		(key, name, description, status, branch_of, root_branch, branch_label,
		 frozen_at, frozen_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.Key, b.Name, b.Description, string(b.Status), nullString(b.BranchOf),
		nullString(b.RootBranch), b.BranchLabel, formatTimePtr(b.FrozenAt),
		b.FrozenBy, formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create blueprint: %w", err)
	}
	return nil
}

// GetBlueprint returns the blueprint with the given key.
func (s *Store) GetBlueprint(ctx context.Context, key string) (*model.WorkflowBlueprint, error) {
	var b model.WorkflowBlueprint
	var status, createdAt string
	var branchOf, rootBranch, frozenAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT key, name, description, status, branch_of, root_branch,
		       branch_label, frozen_at, frozen_by, created_at
		FROM workflow_blueprints WHERE key = ?
	`, key).Scan(&b.Key, &b.Name, &b.Description, &status, &branchOf, &rootBranch,
		&b.BranchLabel, &frozenAt, &b.FrozenBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("blueprint")
	}
	if err != nil {
		return nil, fmt.Errorf("scan blueprint: %w", err)
	}
	b.Status = model.Status(status)
	b.BranchOf = branchOf.String
	b.RootBranch = rootBranch.String
	if b.FrozenAt, err = parseTimePtr(frozenAt); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// FreezeBlueprint stamps the advisory freeze fields on a blueprint.
func (s *Store) FreezeBlueprint(ctx context.Context, key, frozenAt, frozenBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_blueprints SET frozen_at = ?, frozen_by = ? WHERE key = ?
	`, frozenAt, frozenBy, key)
	if err != nil {
		return fmt.Errorf("freeze blueprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("freeze blueprint: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("blueprint")
	}
	return nil
}

// CreateBranch inserts a workflow branch.
func (s *Store) CreateBranch(ctx context.Context, b *model.WorkflowBranch) error {
	prefsJSON, err := marshalJSON(b.Preferences)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_branches
		(branch_id, name, description, blueprint_key, parent_branch_id,
		 branch_reason, preferences, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.BranchID, b.Name, b.Description, b.BlueprintKey,
		nullString(b.ParentBranchID), b.BranchReason, prefsJSON, b.IsActive,
		formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	return nil
}

// GetBranch returns the branch with the given id.
func (s *Store) GetBranch(ctx context.Context, branchID string) (*model.WorkflowBranch, error) {
	var b model.WorkflowBranch
	var createdAt, prefsJSON string
	var parent sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT branch_id, name, description, blueprint_key, parent_branch_id,
		       branch_reason, preferences, is_active, created_at
		FROM workflow_branches WHERE branch_id = ?
	`, branchID).Scan(&b.BranchID, &b.Name, &b.Description, &b.BlueprintKey,
		&parent, &b.BranchReason, &prefsJSON, &b.IsActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("branch")
	}
	if err != nil {
		return nil, fmt.Errorf("scan branch: %w", err)
	}
	b.ParentBranchID = parent.String
	if b.Preferences, err = unmarshalMap(prefsJSON); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &b, nil
}

// CreateExecution inserts a workflow execution.
func (s *Store) CreateExecution(ctx context.Context, e *model.WorkflowExecution) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertExecutionTx(ctx, tx, e)
	})
}

func insertExecutionTx(ctx context.Context, tx *sql.Tx, e *model.WorkflowExecution) error {
	cfgJSON, err := marshalJSON(e.FamilyDataConfig)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	resultsJSON, err := marshalJSON(e.ExecutionResults)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	metricsJSON, err := marshalJSON(e.ExecutionMetrics)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_executions
		(execution_id, name, description, blueprint_key, branch_id,
		 family_data_config, status, current_step, current_step_index,
		 parent_execution_id, branch_label, execution_results,
		 execution_metrics, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ExecutionID, e.Name, e.Description, e.BlueprintKey, e.BranchID,
		cfgJSON, string(e.Status), e.CurrentStep, e.CurrentStepIndex,
		nullString(e.ParentExecutionID), e.BranchLabel, resultsJSON,
		metricsJSON, formatTime(e.CreatedAt), formatTimePtr(e.StartedAt),
		formatTimePtr(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution returns the execution with the given id.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*model.WorkflowExecution, error) {
	var e model.WorkflowExecution
	var status, createdAt, cfgJSON, resultsJSON, metricsJSON string
	var parent, startedAt, finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT execution_id, name, description, blueprint_key, branch_id,
		       family_data_config, status, current_step, current_step_index,
		       parent_execution_id, branch_label, execution_results,
		       execution_metrics, created_at, started_at, finished_at
		FROM workflow_executions WHERE execution_id = ?
	`, executionID).Scan(&e.ExecutionID, &e.Name, &e.Description, &e.BlueprintKey,
		&e.BranchID, &cfgJSON, &status, &e.CurrentStep, &e.CurrentStepIndex,
		&parent, &e.BranchLabel, &resultsJSON, &metricsJSON, &createdAt,
		&startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("execution")
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}
	e.Status = model.Status(status)
	e.ParentExecutionID = parent.String
	if e.FamilyDataConfig, err = unmarshalFamilyConfig(cfgJSON); err != nil {
		return nil, err
	}
	if e.ExecutionResults, err = unmarshalMap(resultsJSON); err != nil {
		return nil, err
	}
	if e.ExecutionMetrics, err = unmarshalMap(metricsJSON); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateExecutionConfig persists a changed family_data_config.
func (s *Store) UpdateExecutionConfig(ctx context.Context, executionID string, cfg model.FamilyDataConfig) error {
	cfgJSON, err := marshalJSON(cfg)
	if err != nil {
		return fmt.Errorf("update execution config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET family_data_config = ? WHERE execution_id = ?
	`, cfgJSON, executionID)
	if err != nil {
		return fmt.Errorf("update execution config: %w", err)
	}
	return nil
}

// UpdateExecutionCursor advances the execution's step pointer. Only
// complete_step calls this; the cursor never regresses on an existing
// execution.
func (s *Store) UpdateExecutionCursor(ctx context.Context, executionID, currentStep string, currentStepIndex int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET current_step = ?, current_step_index = ?
		WHERE execution_id = ?
	`, currentStep, currentStepIndex, executionID)
	if err != nil {
		return fmt.Errorf("update execution cursor: %w", err)
	}
	return nil
}

// UpdateExecutionStatus transitions the execution's coarse status.
func (s *Store) UpdateExecutionStatus(ctx context.Context, executionID string, status model.Status) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions SET status = ? WHERE execution_id = ?
	`, string(status), executionID)
	if err != nil {
		return fmt.Errorf("update execution status: %w", err)
	}
	return nil
}

// ChildExecutions returns executions whose parent link points at the given
// execution, ordered by creation time.
func (s *Store) ChildExecutions(ctx context.Context, executionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id FROM workflow_executions
		WHERE parent_execution_id = ?
		ORDER BY created_at ASC, execution_id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query child executions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan child execution: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child executions: %w", err)
	}
	return ids, nil
}
