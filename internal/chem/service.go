package chem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

// Service executes data retrieval and mediates all typed access to data
// records. Every record write passes through the registry so that payloads
// and native-type tags always match a registered type.
type Service struct {
	store *store.Store
	reg   *Registry
	ids   model.IDGenerator
	now   func() time.Time
	log   *slog.Logger
}

// NewService builds a data service. A nil logger falls back to slog's
// default.
func NewService(st *store.Store, reg *Registry, ids model.IDGenerator, now func() time.Time, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, reg: reg, ids: ids, now: now, log: log}
}

// Registry exposes the type registry backing this service.
func (s *Service) Registry() *Registry {
	return s.reg
}

// Retrieve obtains a value for one molecule and data type via the named
// method, records the provider run, and persists a new immutable-by-history
// data record. The user_input method requires config key "value".
func (s *Service) Retrieve(ctx context.Context, mol *model.Molecule, typeName, method string, config model.JSONMap, userTag string) (*model.DataRecord, error) {
	dt, err := s.reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	if !methodSupported(dt, method) {
		return nil, &UnsupportedMethodError{TypeName: typeName, Method: method}
	}
	if method != MethodUserInput {
		// Built-in types only implement user input; provider-backed
		// methods are gated above by RetrievalMethods.
		return nil, &UnsupportedMethodError{TypeName: typeName, Method: method}
	}

	value, ok := config["value"]
	if !ok {
		return nil, &InvalidConfigError{TypeName: typeName, Method: method, Reason: `missing required key "value"`}
	}
	if err := dt.CheckValue(value); err != nil {
		return nil, err
	}
	payload, err := dt.Serialize(value)
	if err != nil {
		return nil, err
	}

	pe := &model.ProviderExecution{
		ProviderName: "user-input",
		ProviderKind: model.ProviderKindPropertiesSet,
		Version:      "1.0",
		Parameters:   config,
	}
	if err := s.store.CreateProviderExecution(ctx, pe, s.now()); err != nil {
		return nil, err
	}
	startedAt := s.now().UTC().Format(time.RFC3339Nano)
	if err := s.store.MarkProviderStarted(ctx, pe.ID, startedAt); err != nil {
		return nil, err
	}

	rec := &model.DataRecord{
		ID:                  s.ids.NewID(),
		MoleculeID:          mol.ID,
		TypeName:            typeName,
		ValuePayload:        payload,
		NativeType:          dt.NativeType(),
		Source:              model.SourceUser,
		SourceName:          "user-input",
		SourceVersion:       "1.0",
		PropertyName:        dt.PropertyName(),
		ProviderExecutionID: &pe.ID,
		UserTag:             userTag,
		ConfidenceScore:     1.0,
		RetrievalConfig:     config,
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateDataRecord(ctx, rec); err != nil {
		if markErr := s.store.MarkProviderFailed(ctx, pe.ID, s.now().UTC().Format(time.RFC3339Nano), err.Error()); markErr != nil {
			s.log.Warn("mark provider failed", "provider_execution", pe.ID, "error", markErr)
		}
		return nil, err
	}
	if err := s.store.MarkProviderCompleted(ctx, pe.ID, s.now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}

	s.log.Info("data retrieved",
		"molecule", mol.InChIKey,
		"type", typeName,
		"method", method,
		"record", rec.ID)
	return rec, nil
}

// GetOrCreateData returns the newest record of the given type and tag for a
// molecule. On a miss it retrieves a fresh value through Retrieve with the
// given method and config, so method support and config validity are
// enforced on the create path. The bool reports whether a retrieval ran.
func (s *Service) GetOrCreateData(ctx context.Context, moleculeID int64, typeName, method string, config model.JSONMap, userTag string) (*model.DataRecord, bool, error) {
	if _, err := s.reg.Resolve(typeName); err != nil {
		return nil, false, err
	}
	existing, err := s.store.ListDataRecords(ctx, moleculeID, store.RecordFilter{
		TypeName: typeName,
		UserTag:  &userTag,
	})
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return &existing[0], false, nil
	}

	mol, err := s.store.GetMolecule(ctx, moleculeID)
	if err != nil {
		return nil, false, err
	}
	rec, err := s.Retrieve(ctx, mol, typeName, method, config, userTag)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// EnsureAll runs GetOrCreateData for each (type, method) pair, pulling the
// per-type retrieval config from configs (a nil or missing entry means no
// config). Records are returned keyed by type name.
func (s *Service) EnsureAll(ctx context.Context, moleculeID int64, methods map[string]string, configs map[string]model.JSONMap, userTag string) (map[string]*model.DataRecord, error) {
	out := make(map[string]*model.DataRecord, len(methods))
	for name, method := range methods {
		rec, _, err := s.GetOrCreateData(ctx, moleculeID, name, method, configs[name], userTag)
		if err != nil {
			return nil, fmt.Errorf("ensure %s: %w", name, err)
		}
		out[name] = rec
	}
	return out, nil
}

// GetValue loads a record and decodes its payload through the registered
// type. An empty payload decodes to nil.
func (s *Service) GetValue(ctx context.Context, typeName, recordID string) (any, error) {
	dt, err := s.reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}
	rec, err := s.store.GetDataRecord(ctx, typeName, recordID)
	if err != nil {
		return nil, err
	}
	if rec.ValuePayload == "" {
		return nil, nil
	}
	return dt.Deserialize(rec.ValuePayload)
}

// SetValue type-checks and writes a new value into an unfrozen record.
func (s *Service) SetValue(ctx context.Context, typeName, recordID string, value any) error {
	dt, err := s.reg.Resolve(typeName)
	if err != nil {
		return err
	}
	rec, err := s.store.GetDataRecord(ctx, typeName, recordID)
	if err != nil {
		return err
	}
	if rec.IsFrozen {
		return &ImmutableError{TypeName: typeName, RecordID: recordID}
	}
	if err := dt.CheckValue(value); err != nil {
		return err
	}
	payload, err := dt.Serialize(value)
	if err != nil {
		return err
	}
	return s.store.UpdateDataRecordValue(ctx, typeName, recordID, payload, dt.NativeType())
}

// Freeze marks a record immutable. Idempotent; the frozenBy tag records
// which step or actor froze it.
func (s *Service) Freeze(ctx context.Context, typeName, recordID, frozenBy string) error {
	frozenAt := s.now().UTC().Format(time.RFC3339Nano)
	return s.store.FreezeDataRecord(ctx, typeName, recordID, frozenAt, frozenBy)
}

// RecordString renders a record as "<Type>(<property>=<value>)" for logs
// and timelines. Undecodable payloads render an error marker instead of
// failing.
func (s *Service) RecordString(rec *model.DataRecord) string {
	dt, err := s.reg.Resolve(rec.TypeName)
	if err != nil {
		return fmt.Sprintf("%s(%s=<unknown type>)", rec.TypeName, rec.PropertyName)
	}
	if rec.ValuePayload == "" {
		return fmt.Sprintf("%s(%s=<unset>)", rec.TypeName, rec.PropertyName)
	}
	v, err := dt.Deserialize(rec.ValuePayload)
	if err != nil {
		return fmt.Sprintf("%s(%s=<error>)", rec.TypeName, rec.PropertyName)
	}
	return fmt.Sprintf("%s(%s=%v)", rec.TypeName, rec.PropertyName, v)
}

func methodSupported(dt DataType, method string) bool {
	for _, m := range dt.RetrievalMethods() {
		if m == method {
			return true
		}
	}
	return false
}
