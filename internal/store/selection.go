package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

const selectionColumns = `id, execution_id, branch_id, molecule_id,
	property_name, data_type_name, data_record_id, provider_execution_id,
	selected_at, selected_by`

// UpsertSelection creates or replaces the active variant for one
// (execution, branch, molecule, property) tuple. Returns true when a row
// was created rather than updated. The record reference is validated by
// the caller against the type registry before it reaches the store.
func (s *Store) UpsertSelection(ctx context.Context, sel *model.DataSelection) (bool, error) {
	var existingID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM data_selections
		WHERE execution_id = ? AND branch_id = ? AND molecule_id = ? AND property_name = ?
	`, sel.ExecutionID, sel.BranchID, sel.MoleculeID, sel.PropertyName).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup selection: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO data_selections
		(execution_id, branch_id, molecule_id, property_name, data_type_name,
		 data_record_id, provider_execution_id, selected_at, selected_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, branch_id, molecule_id, property_name)
		DO UPDATE SET
			data_type_name = excluded.data_type_name,
			data_record_id = excluded.data_record_id,
			provider_execution_id = excluded.provider_execution_id,
			selected_at = excluded.selected_at,
			selected_by = excluded.selected_by
	`,
		sel.ExecutionID, sel.BranchID, sel.MoleculeID, sel.PropertyName,
		sel.DataTypeName, sel.DataRecordID, nullInt64(sel.ProviderExecutionID),
		formatTime(sel.SelectedAt), sel.SelectedBy,
	)
	if err != nil {
		return false, fmt.Errorf("upsert selection: %w", err)
	}
	if existingID.Valid {
		sel.ID = existingID.Int64
		return false, nil
	}
	sel.ID, err = res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("upsert selection: last insert id: %w", err)
	}
	return true, nil
}

// GetSelection returns the active variant for an exact
// (execution, branch, molecule, property) tuple.
func (s *Store) GetSelection(ctx context.Context, executionID, branchID string, moleculeID int64, propertyName string) (*model.DataSelection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectionColumns+`
		FROM data_selections
		WHERE execution_id = ? AND branch_id = ? AND molecule_id = ? AND property_name = ?
	`, executionID, branchID, moleculeID, propertyName)
	sel, err := scanSelectionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("selection")
	}
	return sel, err
}

// LatestSelectionAnyBranch is the branch-agnostic fallback: the most recent
// selection for a molecule/property within the same execution, regardless
// of branch.
func (s *Store) LatestSelectionAnyBranch(ctx context.Context, executionID string, moleculeID int64, propertyName string) (*model.DataSelection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+selectionColumns+`
		FROM data_selections
		WHERE execution_id = ? AND molecule_id = ? AND property_name = ?
		ORDER BY selected_at DESC, id DESC
		LIMIT 1
	`, executionID, moleculeID, propertyName)
	sel, err := scanSelectionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("selection")
	}
	return sel, err
}

// ListSelections returns all selections scoped to an execution and branch,
// ordered for deterministic output.
func (s *Store) ListSelections(ctx context.Context, executionID, branchID string) ([]model.DataSelection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectionColumns+`
		FROM data_selections
		WHERE execution_id = ? AND branch_id = ?
		ORDER BY molecule_id ASC, property_name ASC
	`, executionID, branchID)
	if err != nil {
		return nil, fmt.Errorf("query selections: %w", err)
	}
	defer rows.Close()

	selections := []model.DataSelection{}
	for rows.Next() {
		sel, err := scanSelectionRows(rows)
		if err != nil {
			return nil, err
		}
		selections = append(selections, *sel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate selections: %w", err)
	}
	return selections, nil
}

func scanSelectionRow(row *sql.Row) (*model.DataSelection, error) {
	var sel model.DataSelection
	var providerID sql.NullInt64
	var selectedAt string
	err := row.Scan(&sel.ID, &sel.ExecutionID, &sel.BranchID, &sel.MoleculeID,
		&sel.PropertyName, &sel.DataTypeName, &sel.DataRecordID, &providerID,
		&selectedAt, &sel.SelectedBy)
	if err != nil {
		return nil, err
	}
	sel.ProviderExecutionID = int64Ptr(providerID)
	if sel.SelectedAt, err = parseTime(selectedAt); err != nil {
		return nil, err
	}
	return &sel, nil
}

func scanSelectionRows(rows *sql.Rows) (*model.DataSelection, error) {
	var sel model.DataSelection
	var providerID sql.NullInt64
	var selectedAt string
	err := rows.Scan(&sel.ID, &sel.ExecutionID, &sel.BranchID, &sel.MoleculeID,
		&sel.PropertyName, &sel.DataTypeName, &sel.DataRecordID, &providerID,
		&selectedAt, &sel.SelectedBy)
	if err != nil {
		return nil, fmt.Errorf("scan selection: %w", err)
	}
	sel.ProviderExecutionID = int64Ptr(providerID)
	if sel.SelectedAt, err = parseTime(selectedAt); err != nil {
		return nil, err
	}
	return &sel, nil
}
