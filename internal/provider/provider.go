// Package provider defines the contracts for external data producers and
// the executor that runs them with full lifecycle tracking. Every provider
// run leaves a ProviderExecution row; records created by a run link back to
// it.
package provider

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

// MoleculeSetProvider produces molecules (screening sets, uploaded
// libraries).
type MoleculeSetProvider interface {
	Name() string
	Version() string
	// FetchMolecules returns the molecules described by params. Identity
	// fields must be populated; row ids are assigned on persistence.
	FetchMolecules(ctx context.Context, params model.JSONMap) ([]model.Molecule, error)
}

// PropertySetProvider produces property values for one molecule.
type PropertySetProvider interface {
	Name() string
	Version() string
	// Source tags the provenance of values this provider produces.
	Source() model.Source
	// FetchProperties returns values keyed by registered data type name.
	FetchProperties(ctx context.Context, mol *model.Molecule, params model.JSONMap) (map[string]any, error)
}

// Executor runs providers against the store with lifecycle tracking.
type Executor struct {
	store *store.Store
	reg   *chem.Registry
	ids   model.IDGenerator
	now   func() time.Time
	log   *slog.Logger
}

// NewExecutor builds a provider executor.
func NewExecutor(st *store.Store, reg *chem.Registry, ids model.IDGenerator, now func() time.Time, log *slog.Logger) *Executor {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{store: st, reg: reg, ids: ids, now: now, log: log}
}

func (e *Executor) formatNow() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// RunMoleculeSet executes a molecule-set provider and persists its output
// into the given family. Molecules already known (by InChIKey) are reused.
func (e *Executor) RunMoleculeSet(ctx context.Context, p MoleculeSetProvider, params model.JSONMap, familyID int64) ([]model.Molecule, error) {
	pe := &model.ProviderExecution{
		ProviderName: p.Name(),
		ProviderKind: model.ProviderKindMoleculeSet,
		Version:      p.Version(),
		Parameters:   params,
	}
	if err := e.store.CreateProviderExecution(ctx, pe, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.MarkProviderStarted(ctx, pe.ID, e.formatNow()); err != nil {
		return nil, err
	}

	fetched, err := p.FetchMolecules(ctx, params)
	if err != nil {
		if markErr := e.store.MarkProviderFailed(ctx, pe.ID, e.formatNow(), err.Error()); markErr != nil {
			e.log.Warn("mark provider failed", "provider_execution", pe.ID, "error", markErr)
		}
		return nil, err
	}

	out := make([]model.Molecule, 0, len(fetched))
	for i := range fetched {
		m := fetched[i]
		existing, err := e.store.GetMoleculeByInChIKey(ctx, m.InChIKey)
		switch {
		case err == nil:
			m = *existing
		case store.IsNotFound(err):
			if err := e.store.CreateMolecule(ctx, &m, e.now()); err != nil {
				return nil, err
			}
		default:
			return nil, err
		}
		if err := e.store.AddFamilyMember(ctx, familyID, m.ID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}

	if err := e.store.MarkProviderCompleted(ctx, pe.ID, e.formatNow()); err != nil {
		return nil, err
	}
	e.log.Info("molecule-set provider completed",
		"provider", p.Name(), "execution", pe.ID, "molecules", len(out))
	return out, nil
}

// RunPropertySet executes a property-set provider for one molecule and
// persists a typed record per returned value.
func (e *Executor) RunPropertySet(ctx context.Context, p PropertySetProvider, mol *model.Molecule, params model.JSONMap, userTag string) ([]model.DataRecord, error) {
	pe := &model.ProviderExecution{
		ProviderName: p.Name(),
		ProviderKind: model.ProviderKindPropertiesSet,
		Version:      p.Version(),
		Parameters:   params,
	}
	if err := e.store.CreateProviderExecution(ctx, pe, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.MarkProviderStarted(ctx, pe.ID, e.formatNow()); err != nil {
		return nil, err
	}

	values, err := p.FetchProperties(ctx, mol, params)
	if err != nil {
		if markErr := e.store.MarkProviderFailed(ctx, pe.ID, e.formatNow(), err.Error()); markErr != nil {
			e.log.Warn("mark provider failed", "provider_execution", pe.ID, "error", markErr)
		}
		return nil, err
	}

	typeNames := make([]string, 0, len(values))
	for typeName := range values {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	records := []model.DataRecord{}
	for _, typeName := range typeNames {
		value := values[typeName]
		dt, err := e.reg.Resolve(typeName)
		if err != nil {
			return nil, e.failWith(ctx, pe.ID, err)
		}
		if err := dt.CheckValue(value); err != nil {
			return nil, e.failWith(ctx, pe.ID, err)
		}
		payload, err := dt.Serialize(value)
		if err != nil {
			return nil, e.failWith(ctx, pe.ID, err)
		}
		rec := model.DataRecord{
			ID:                  e.ids.NewID(),
			MoleculeID:          mol.ID,
			TypeName:            typeName,
			ValuePayload:        payload,
			NativeType:          dt.NativeType(),
			Source:              p.Source(),
			SourceName:          p.Name(),
			SourceVersion:       p.Version(),
			PropertyName:        dt.PropertyName(),
			ProviderExecutionID: &pe.ID,
			UserTag:             userTag,
			ConfidenceScore:     1.0,
			RetrievalConfig:     params,
			CreatedAt:           e.now(),
		}
		if err := e.store.CreateDataRecord(ctx, &rec); err != nil {
			return nil, e.failWith(ctx, pe.ID, err)
		}
		records = append(records, rec)
	}

	if err := e.store.MarkProviderCompleted(ctx, pe.ID, e.formatNow()); err != nil {
		return nil, err
	}
	e.log.Info("property-set provider completed",
		"provider", p.Name(), "execution", pe.ID, "molecule", mol.InChIKey, "records", len(records))
	return records, nil
}

func (e *Executor) failWith(ctx context.Context, peID int64, cause error) error {
	if err := e.store.MarkProviderFailed(ctx, peID, e.formatNow(), cause.Error()); err != nil {
		e.log.Warn("mark provider failed", "provider_execution", peID, "error", err)
	}
	return cause
}
