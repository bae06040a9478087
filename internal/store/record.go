package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

const recordColumns = `id, molecule_id, type_name, value_payload, native_type,
	source, source_name, source_version, property_name, provider_execution_id,
	user_tag, confidence_score, is_approved, is_frozen, frozen_at, frozen_by,
	retrieval_config, created_at`

// CreateDataRecord inserts a new data record. Records are append-only
// history: the engine never deletes them, and superseded variants stay
// queryable.
func (s *Store) CreateDataRecord(ctx context.Context, r *model.DataRecord) error {
	cfgJSON, err := marshalJSON(r.RetrievalConfig)
	if err != nil {
		return fmt.Errorf("create data record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO data_records
		(id, molecule_id, type_name, value_payload, native_type, source,
		 source_name, source_version, property_name, provider_execution_id,
		 user_tag, confidence_score, is_approved, is_frozen, frozen_at,
		 frozen_by, retrieval_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.MoleculeID, r.TypeName, r.ValuePayload, string(r.NativeType),
		string(r.Source), r.SourceName, r.SourceVersion, r.PropertyName,
		nullInt64(r.ProviderExecutionID), r.UserTag, r.ConfidenceScore,
		r.IsApproved, r.IsFrozen, formatTimePtr(r.FrozenAt), r.FrozenBy,
		cfgJSON, formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create data record: %w", err)
	}
	return nil
}

// GetDataRecord returns the record with the given type name and id.
func (s *Store) GetDataRecord(ctx context.Context, typeName, id string) (*model.DataRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM data_records WHERE type_name = ? AND id = ?
	`, typeName, id)
	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("data record")
	}
	return rec, err
}

// GetDataRecordAnyType returns the record with the given id regardless of
// its type tag. Used only by the explicit scan-all fallback when a
// selection's recorded type name no longer resolves.
func (s *Store) GetDataRecordAnyType(ctx context.Context, id string) (*model.DataRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM data_records WHERE id = ?
	`, id)
	rec, err := scanRecordRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("data record")
	}
	return rec, err
}

// RecordFilter narrows ListDataRecords. Zero values mean "no filter".
type RecordFilter struct {
	TypeName     string
	PropertyName string
	Source       model.Source
	UserTag      *string // nil = any tag; pointer so "" filters untagged rows
}

// ListDataRecords returns all records for a molecule matching the filter,
// newest first.
func (s *Store) ListDataRecords(ctx context.Context, moleculeID int64, f RecordFilter) ([]model.DataRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM data_records WHERE molecule_id = ?`
	args := []any{moleculeID}
	if f.TypeName != "" {
		query += " AND type_name = ?"
		args = append(args, f.TypeName)
	}
	if f.PropertyName != "" {
		query += " AND property_name = ?"
		args = append(args, f.PropertyName)
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, string(f.Source))
	}
	if f.UserTag != nil {
		query += " AND user_tag = ?"
		args = append(args, *f.UserTag)
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query data records: %w", err)
	}
	defer rows.Close()

	records := []model.DataRecord{}
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data records: %w", err)
	}
	return records, nil
}

// UpdateDataRecordValue rewrites a record's payload and native-type tag.
// Refuses frozen records at the SQL level as a second line of defense; the
// type-checked setter is the primary gate.
func (s *Store) UpdateDataRecordValue(ctx context.Context, typeName, id, payload string, nativeType model.NativeType) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE data_records
		SET value_payload = ?, native_type = ?
		WHERE type_name = ? AND id = ? AND is_frozen = 0
	`, payload, string(nativeType), typeName, id)
	if err != nil {
		return fmt.Errorf("update data record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update data record: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("mutable data record")
	}
	return nil
}

// FreezeDataRecord stamps the freeze fields. Freezing is one-way; calling
// twice just re-stamps.
func (s *Store) FreezeDataRecord(ctx context.Context, typeName, id string, frozenAt string, frozenBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE data_records
		SET is_frozen = 1, frozen_at = ?, frozen_by = ?
		WHERE type_name = ? AND id = ?
	`, frozenAt, frozenBy, typeName, id)
	if err != nil {
		return fmt.Errorf("freeze data record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("freeze data record: rows affected: %w", err)
	}
	if n == 0 {
		return NotFound("data record")
	}
	return nil
}

func scanRecordRow(row *sql.Row) (*model.DataRecord, error) {
	var r model.DataRecord
	var nativeType, source, createdAt, cfgJSON string
	var providerID sql.NullInt64
	var frozenAt sql.NullString
	err := row.Scan(&r.ID, &r.MoleculeID, &r.TypeName, &r.ValuePayload, &nativeType,
		&source, &r.SourceName, &r.SourceVersion, &r.PropertyName, &providerID,
		&r.UserTag, &r.ConfidenceScore, &r.IsApproved, &r.IsFrozen, &frozenAt,
		&r.FrozenBy, &cfgJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	return finishRecordScan(&r, nativeType, source, createdAt, cfgJSON, providerID, frozenAt)
}

func scanRecordRows(rows *sql.Rows) (*model.DataRecord, error) {
	var r model.DataRecord
	var nativeType, source, createdAt, cfgJSON string
	var providerID sql.NullInt64
	var frozenAt sql.NullString
	err := rows.Scan(&r.ID, &r.MoleculeID, &r.TypeName, &r.ValuePayload, &nativeType,
		&source, &r.SourceName, &r.SourceVersion, &r.PropertyName, &providerID,
		&r.UserTag, &r.ConfidenceScore, &r.IsApproved, &r.IsFrozen, &frozenAt,
		&r.FrozenBy, &cfgJSON, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("scan data record: %w", err)
	}
	return finishRecordScan(&r, nativeType, source, createdAt, cfgJSON, providerID, frozenAt)
}

func finishRecordScan(r *model.DataRecord, nativeType, source, createdAt, cfgJSON string,
	providerID sql.NullInt64, frozenAt sql.NullString) (*model.DataRecord, error) {
	r.NativeType = model.NativeType(nativeType)
	r.Source = model.Source(source)
	r.ProviderExecutionID = int64Ptr(providerID)

	var err error
	if r.FrozenAt, err = parseTimePtr(frozenAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.RetrievalConfig, err = unmarshalMap(cfgJSON); err != nil {
		return nil, err
	}
	return r, nil
}
