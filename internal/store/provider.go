package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// CreateProviderExecution inserts a provider run in PENDING state and fills
// in the generated id.
func (s *Store) CreateProviderExecution(ctx context.Context, pe *model.ProviderExecution, now time.Time) error {
	paramsJSON, err := marshalJSON(pe.Parameters)
	if err != nil {
		return fmt.Errorf("create provider execution: %w", err)
	}
	pe.CreatedAt = now
	if pe.Status == "" {
		pe.Status = model.StatusPending
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO provider_executions
		(provider_name, provider_kind, version, parameters, status,
		 error_message, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		pe.ProviderName, string(pe.ProviderKind), pe.Version, paramsJSON,
		string(pe.Status), pe.ErrorMessage, formatTime(now),
		formatTimePtr(pe.StartedAt), formatTimePtr(pe.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("create provider execution: %w", err)
	}
	pe.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("create provider execution: last insert id: %w", err)
	}
	return nil
}

// MarkProviderStarted transitions a provider run to RUNNING.
func (s *Store) MarkProviderStarted(ctx context.Context, id int64, startedAt string) error {
	return s.updateProvider(ctx, id, `
		UPDATE provider_executions SET status = 'RUNNING', started_at = ? WHERE id = ?
	`, startedAt)
}

// MarkProviderCompleted transitions a provider run to COMPLETED.
func (s *Store) MarkProviderCompleted(ctx context.Context, id int64, finishedAt string) error {
	return s.updateProvider(ctx, id, `
		UPDATE provider_executions SET status = 'COMPLETED', finished_at = ? WHERE id = ?
	`, finishedAt)
}

// MarkProviderFailed transitions a provider run to FAILED with its error
// message.
func (s *Store) MarkProviderFailed(ctx context.Context, id int64, finishedAt, message string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE provider_executions
		SET status = 'FAILED', finished_at = ?, error_message = ?
		WHERE id = ?
	`, finishedAt, message, id)
	if err != nil {
		return fmt.Errorf("mark provider failed: %w", err)
	}
	return providerRowsAffected(res)
}

func (s *Store) updateProvider(ctx context.Context, id int64, query, ts string) error {
	res, err := s.db.ExecContext(ctx, query, ts, id)
	if err != nil {
		return fmt.Errorf("update provider execution: %w", err)
	}
	return providerRowsAffected(res)
}

func providerRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("provider execution: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("provider execution")
	}
	return nil
}

// GetProviderExecution returns the provider run with the given id.
func (s *Store) GetProviderExecution(ctx context.Context, id int64) (*model.ProviderExecution, error) {
	var pe model.ProviderExecution
	var kind, status, paramsJSON, createdAt string
	var startedAt, finishedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider_name, provider_kind, version, parameters, status,
		       error_message, created_at, started_at, finished_at
		FROM provider_executions WHERE id = ?
	`, id).Scan(&pe.ID, &pe.ProviderName, &kind, &pe.Version, &paramsJSON,
		&status, &pe.ErrorMessage, &createdAt, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("provider execution")
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider execution: %w", err)
	}
	pe.ProviderKind = model.ProviderKind(kind)
	pe.Status = model.Status(status)
	if pe.Parameters, err = unmarshalMap(paramsJSON); err != nil {
		return nil, err
	}
	if pe.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if pe.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if pe.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return nil, err
	}
	return &pe, nil
}
