package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

const stepColumns = `id, execution_id, step_id, step_name, step_order,
	input_data_snapshot, data_retrieval_methods, results, status,
	started_at, completed_at, data_frozen_at, input_signature,
	input_properties, providers_used`

// CreateStepExecution inserts a step execution row and fills in the
// generated id. Input fields (snapshot, methods, signature, properties)
// are written here once and never updated.
func (s *Store) CreateStepExecution(ctx context.Context, se *model.StepExecution) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertStepExecutionTx(ctx, tx, se)
	})
}

func insertStepExecutionTx(ctx context.Context, tx *sql.Tx, se *model.StepExecution) error {
	snapJSON, err := marshalJSON(se.InputDataSnapshot)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	methodsJSON, err := marshalJSON(se.DataRetrievalMethods)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	resultsJSON, err := marshalJSON(se.Results)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	propsJSON, err := marshalList(se.InputProperties)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	providersJSON, err := marshalList(se.ProvidersUsed)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO step_executions
		(execution_id, step_id, step_name, step_order, input_data_snapshot,
		 data_retrieval_methods, results, status, started_at, completed_at,
		 data_frozen_at, input_signature, input_properties, providers_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		se.ExecutionID, se.StepID, se.StepName, se.Order, snapJSON,
		methodsJSON, resultsJSON, string(se.Status), formatTimePtr(se.StartedAt),
		formatTimePtr(se.CompletedAt), formatTimePtr(se.DataFrozenAt),
		se.InputSignature, propsJSON, providersJSON,
	)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	se.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert step execution: last insert id: %w", err)
	}
	return nil
}

// FinishStepExecution writes the terminal state of a step run: results,
// status, and the completion timestamp. Input fields are left untouched.
func (s *Store) FinishStepExecution(ctx context.Context, id int64, results model.JSONMap, status model.Status, completedAt string) error {
	resultsJSON, err := marshalJSON(results)
	if err != nil {
		return fmt.Errorf("finish step execution: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_executions
		SET results = ?, status = ?, completed_at = ?
		WHERE id = ?
	`, resultsJSON, string(status), completedAt, id)
	if err != nil {
		return fmt.Errorf("finish step execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish step execution: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("step execution")
	}
	return nil
}

// MarkStepDataFrozen stamps the data-freeze timestamp on a step run.
func (s *Store) MarkStepDataFrozen(ctx context.Context, id int64, frozenAt string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE step_executions SET data_frozen_at = ? WHERE id = ?
	`, frozenAt, id)
	if err != nil {
		return fmt.Errorf("mark step data frozen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark step data frozen: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("step execution")
	}
	return nil
}

// GetStepExecution returns the step run with the given row id.
func (s *Store) GetStepExecution(ctx context.Context, id int64) (*model.StepExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+`
		FROM step_executions WHERE id = ?
	`, id)
	se, err := scanStepRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("step execution")
	}
	return se, err
}

// ListStepExecutions returns all step runs for an execution in flow order.
// Re-runs of the same order sort by start time, so the last element per
// order is the most recent attempt.
func (s *Store) ListStepExecutions(ctx context.Context, executionID string) ([]model.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM step_executions
		WHERE execution_id = ?
		ORDER BY step_order ASC, started_at ASC, id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query step executions: %w", err)
	}
	defer rows.Close()

	steps := []model.StepExecution{}
	for rows.Next() {
		se, err := scanStepRows(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step executions: %w", err)
	}
	return steps, nil
}

// LatestStepByID returns the most recent run of the given step within an
// execution, or NotFound if it never ran.
func (s *Store) LatestStepByID(ctx context.Context, executionID, stepID string) (*model.StepExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+stepColumns+`
		FROM step_executions
		WHERE execution_id = ? AND step_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, executionID, stepID)
	se, err := scanStepRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("step execution")
	}
	return se, err
}

// CompletedSteps returns the COMPLETED step runs for an execution in flow
// order. This is what auto-fork inspects for dependency overlap.
func (s *Store) CompletedSteps(ctx context.Context, executionID string) ([]model.StepExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stepColumns+`
		FROM step_executions
		WHERE execution_id = ? AND status = 'COMPLETED'
		ORDER BY step_order ASC, started_at ASC, id ASC
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("query completed steps: %w", err)
	}
	defer rows.Close()

	steps := []model.StepExecution{}
	for rows.Next() {
		se, err := scanStepRows(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed steps: %w", err)
	}
	return steps, nil
}

// HasCompletedStep reports whether the given step id has a COMPLETED run
// within the execution.
func (s *Store) HasCompletedStep(ctx context.Context, executionID, stepID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM step_executions
		WHERE execution_id = ? AND step_id = ? AND status = 'COMPLETED'
	`, executionID, stepID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count completed step: %w", err)
	}
	return n > 0, nil
}

// AppendEvent writes one audit log entry and fills in the generated id.
func (s *Store) AppendEvent(ctx context.Context, ev *model.WorkflowEvent) error {
	detailsJSON, err := marshalJSON(ev.Details)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
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

// ListEvents returns an execution's audit log in append order, optionally
// filtered by event type.
func (s *Store) ListEvents(ctx context.Context, executionID, eventType string) ([]model.WorkflowEvent, error) {
	query := `
		SELECT id, execution_id, event_type, details, created_at
		FROM workflow_events WHERE execution_id = ?`
	args := []any{executionID}
	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []model.WorkflowEvent{}
	for rows.Next() {
		var ev model.WorkflowEvent
		var detailsJSON, createdAt string
		if err := rows.Scan(&ev.ID, &ev.ExecutionID, &ev.EventType, &detailsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Details, err = unmarshalMap(detailsJSON); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanStepRow(row *sql.Row) (*model.StepExecution, error) {
	var se model.StepExecution
	var snapJSON, methodsJSON, resultsJSON, status, propsJSON, providersJSON string
	var startedAt, completedAt, dataFrozenAt sql.NullString
	err := row.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.StepName, &se.Order,
		&snapJSON, &methodsJSON, &resultsJSON, &status, &startedAt, &completedAt,
		&dataFrozenAt, &se.InputSignature, &propsJSON, &providersJSON)
	if err != nil {
		return nil, err
	}
	return finishStepScan(&se, snapJSON, methodsJSON, resultsJSON, status,
		propsJSON, providersJSON, startedAt, completedAt, dataFrozenAt)
}

func scanStepRows(rows *sql.Rows) (*model.StepExecution, error) {
	var se model.StepExecution
	var snapJSON, methodsJSON, resultsJSON, status, propsJSON, providersJSON string
	var startedAt, completedAt, dataFrozenAt sql.NullString
	err := rows.Scan(&se.ID, &se.ExecutionID, &se.StepID, &se.StepName, &se.Order,
		&snapJSON, &methodsJSON, &resultsJSON, &status, &startedAt, &completedAt,
		&dataFrozenAt, &se.InputSignature, &propsJSON, &providersJSON)
	if err != nil {
		return nil, fmt.Errorf("scan step execution: %w", err)
	}
	return finishStepScan(&se, snapJSON, methodsJSON, resultsJSON, status,
		propsJSON, providersJSON, startedAt, completedAt, dataFrozenAt)
}

func finishStepScan(se *model.StepExecution, snapJSON, methodsJSON, resultsJSON, status,
	propsJSON, providersJSON string, startedAt, completedAt, dataFrozenAt sql.NullString) (*model.StepExecution, error) {
	se.Status = model.Status(status)

	var err error
	if se.InputDataSnapshot, err = unmarshalSnapshot(snapJSON); err != nil {
		return nil, err
	}
	if se.DataRetrievalMethods, err = unmarshalFamilyConfig(methodsJSON); err != nil {
		return nil, err
	}
	if se.Results, err = unmarshalMap(resultsJSON); err != nil {
		return nil, err
	}
	if se.InputProperties, err = unmarshalStringList(propsJSON); err != nil {
		return nil, err
	}
	if se.ProvidersUsed, err = unmarshalInt64List(providersJSON); err != nil {
		return nil, err
	}
	if se.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if se.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if se.DataFrozenAt, err = parseTimePtr(dataFrozenAt); err != nil {
		return nil, err
	}
	return se, nil
}
