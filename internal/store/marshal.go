package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/model"
)

// Timestamps are stored as RFC 3339 TEXT with nanosecond precision so that
// engine-clock injection in tests produces byte-stable rows.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// marshalJSON serializes a JSON payload column with sorted keys and no HTML
// escaping, matching the deterministic form used for input signatures.
func marshalJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	data, err := model.MarshalDeterministic(v)
	if err != nil {
		return "", fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(data string) (model.JSONMap, error) {
	if data == "" || data == "{}" {
		return model.JSONMap{}, nil
	}
	var m model.JSONMap
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

func unmarshalFamilyConfig(data string) (model.FamilyDataConfig, error) {
	if data == "" || data == "{}" {
		return model.FamilyDataConfig{}, nil
	}
	var c model.FamilyDataConfig
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal family config: %w", err)
	}
	return c, nil
}

func unmarshalSnapshot(data string) (model.FamilySnapshot, error) {
	if data == "" || data == "{}" {
		return model.FamilySnapshot{}, nil
	}
	var snap model.FamilySnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func unmarshalStringList(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	return list, nil
}

func unmarshalInt64List(data string) ([]int64, error) {
	if data == "" || data == "[]" {
		return []int64{}, nil
	}
	var list []int64
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("unmarshal int list: %w", err)
	}
	return list, nil
}

// marshalList serializes list columns; nil lists store as "[]" so scans
// never produce nil slices.
func marshalList(v any) (string, error) {
	switch list := v.(type) {
	case []string:
		if len(list) == 0 {
			return "[]", nil
		}
	case []int64:
		if len(list) == 0 {
			return "[]", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal list column: %w", err)
	}
	return string(data), nil
}
