package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// Fork, branch, and rewind each write several records that must land
// together: the derived execution, its family associations, cloned
// selections or steps, and the audit event. Each gets a single atomic
// store operation so a crash never leaves a half-created derivative.

// ForkExecutionAtomic creates a shallow fork: a new execution bound to a
// (possibly new) branch. Neither step history nor data selections are
// copied; the new execution builds its own selection scope. The event
// targets the parent execution.
func (s *Store) ForkExecutionAtomic(ctx context.Context, newExec *model.WorkflowExecution,
	familyIDs []int64, ev *model.WorkflowEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertExecutionTx(ctx, tx, newExec); err != nil {
			return err
		}
		if err := associateFamiliesTx(ctx, tx, newExec.ExecutionID, familyIDs); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, ev)
	})
}

// BranchExecutionAtomic creates a deep branch: like a fork, but COMPLETED
// step history up to and including maxOrder is cloned as well, so the new
// execution can resume mid-flow. maxOrder < 0 copies all completed steps.
// Data selections are not copied. A non-nil newBlueprint and newBranch are
// inserted in the same transaction, so the forked blueprint/branch/execution
// trio lands together or not at all.
func (s *Store) BranchExecutionAtomic(ctx context.Context, newBlueprint *model.WorkflowBlueprint,
	newBranch *model.WorkflowBranch, newExec *model.WorkflowExecution,
	familyIDs []int64, fromExecutionID string, maxOrder int, ev *model.WorkflowEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if newBlueprint != nil {
			if err := insertBlueprintTx(ctx, tx, newBlueprint); err != nil {
				return err
			}
		}
		if newBranch != nil {
			if err := insertBranchTx(ctx, tx, newBranch); err != nil {
				return err
			}
		}
		if err := insertExecutionTx(ctx, tx, newExec); err != nil {
			return err
		}
		if err := associateFamiliesTx(ctx, tx, newExec.ExecutionID, familyIDs); err != nil {
			return err
		}
		if err := cloneCompletedStepsTx(ctx, tx, fromExecutionID, newExec.ExecutionID, maxOrder); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, ev)
	})
}

// CreateBranchAndExecutionAtomic creates a new branch record together with
// its first execution. Used by the auto-fork path, where the variant branch
// must not exist without an execution carrying the changed selection.
func (s *Store) CreateBranchAndExecutionAtomic(ctx context.Context, branch *model.WorkflowBranch,
	newExec *model.WorkflowExecution, familyIDs []int64, fromExecutionID, fromBranchID string,
	ev *model.WorkflowEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertBranchTx(ctx, tx, branch); err != nil {
			return err
		}
		if err := insertExecutionTx(ctx, tx, newExec); err != nil {
			return err
		}
		if err := associateFamiliesTx(ctx, tx, newExec.ExecutionID, familyIDs); err != nil {
			return err
		}
		if err := cloneSelectionsTx(ctx, tx, fromExecutionID, fromBranchID,
			newExec.ExecutionID, newExec.BranchID, formatTime(newExec.CreatedAt)); err != nil {
			return err
		}
		return appendEventTx(ctx, tx, ev)
	})
}

func insertBlueprintTx(ctx context.Context, tx *sql.Tx, b *model.WorkflowBlueprint) error {
	_, err := tx.ExecContext(ctx, `
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
		return fmt.Errorf("insert blueprint: %w", err)
	}
	return nil
}

func insertBranchTx(ctx context.Context, tx *sql.Tx, b *model.WorkflowBranch) error {
	prefsJSON, err := marshalJSON(b.Preferences)
	if err != nil {
		return fmt.Errorf("insert branch: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
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
		return fmt.Errorf("insert branch: %w", err)
	}
	return nil
}

func associateFamiliesTx(ctx context.Context, tx *sql.Tx, executionID string, familyIDs []int64) error {
	for _, id := range familyIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO execution_families (execution_id, family_id)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, executionID, id); err != nil {
			return fmt.Errorf("associate family: %w", err)
		}
	}
	return nil
}

func cloneSelectionsTx(ctx context.Context, tx *sql.Tx, fromExec, fromBranch, toExec, toBranch, selectedAt string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO data_selections
		(execution_id, branch_id, molecule_id, property_name, data_type_name,
		 data_record_id, provider_execution_id, selected_at, selected_by)
		SELECT ?, ?, molecule_id, property_name, data_type_name,
		       data_record_id, provider_execution_id, ?, selected_by
		FROM data_selections
		WHERE execution_id = ? AND branch_id = ?
	`, toExec, toBranch, selectedAt, fromExec, fromBranch)
	if err != nil {
		return fmt.Errorf("clone selections: %w", err)
	}
	return nil
}

func cloneCompletedStepsTx(ctx context.Context, tx *sql.Tx, fromExec, toExec string, maxOrder int) error {
	query := `
		INSERT INTO step_executions
		(execution_id, step_id, step_name, step_order, input_data_snapshot,
		 data_retrieval_methods, results, status, started_at, completed_at,
		 data_frozen_at, input_signature, input_properties, providers_used)
		SELECT ?, step_id, step_name, step_order, input_data_snapshot,
		       data_retrieval_methods, results, status, started_at, completed_at,
		       data_frozen_at, input_signature, input_properties, providers_used
		FROM step_executions
		WHERE execution_id = ? AND status = 'COMPLETED'`
	args := []any{toExec, fromExec}
	if maxOrder >= 0 {
		query += " AND step_order <= ?"
		args = append(args, maxOrder)
	}
	query += " ORDER BY step_order ASC, started_at ASC, id ASC"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clone completed steps: %w", err)
	}
	return nil
}

func appendEventTx(ctx context.Context, tx *sql.Tx, ev *model.WorkflowEvent) error {
	if ev == nil {
		return nil
	}
	detailsJSON, err := marshalJSON(ev.Details)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_events (execution_id, event_type, details, created_at)
		VALUES (?, ?, ?, ?)
	`, ev.ExecutionID, ev.EventType, detailsJSON, formatTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	ev.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event: last insert id: %w", err)
	}
	return nil
}
