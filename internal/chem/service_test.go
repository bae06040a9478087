package chem

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ids := model.NewFixedGenerator("id-1", "id-2", "id-3", "id-4", "id-5")
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return NewService(st, DefaultRegistry(), ids, clock, nil), st
}

func seedMolecule(t *testing.T, st *store.Store) *model.Molecule {
	t.Helper()
	m := &model.Molecule{SMILES: "CCO", InChI: "i1", InChIKey: "K1"}
	require.NoError(t, st.CreateMolecule(context.Background(), m, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))
	return m
}

func TestRegistryResolve(t *testing.T) {
	reg := DefaultRegistry()

	dt, err := reg.Resolve("LogPData")
	require.NoError(t, err)
	assert.Equal(t, "logp", dt.PropertyName())
	assert.Equal(t, model.NativeFloat, dt.NativeType())

	_, err = reg.Resolve("NoSuchData")
	assert.True(t, IsUnknownType(err))

	assert.Equal(t,
		[]string{"AbsorptionData", "LogPData", "MutagenicityData", "ToxicityData"},
		reg.Names())
	assert.Equal(t, []string{"LogPData"}, reg.ByProperty("logp"))
	assert.Empty(t, reg.ByProperty("boiling_point"))
}

func TestLogPSerialization(t *testing.T) {
	dt := LogPData{}

	require.NoError(t, dt.CheckValue(1.25))
	require.NoError(t, dt.CheckValue(3)) // ints promote

	err := dt.CheckValue("not a number")
	assert.True(t, IsTypeMismatch(err))

	payload, err := dt.Serialize(1.25)
	require.NoError(t, err)
	v, err := dt.Deserialize(payload)
	require.NoError(t, err)
	assert.Equal(t, 1.25, v)

	_, err = dt.Deserialize("garbage")
	assert.Error(t, err)
}

func TestRetrieveUserInput(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	rec, err := svc.Retrieve(ctx, m, "LogPData", MethodUserInput,
		model.JSONMap{"value": 2.1}, "default")
	require.NoError(t, err)
	assert.Equal(t, "2.1", rec.ValuePayload)
	assert.Equal(t, model.SourceUser, rec.Source)
	assert.Equal(t, "user-input", rec.SourceName)
	assert.Equal(t, "logp", rec.PropertyName)
	require.NotNil(t, rec.ProviderExecutionID)

	pe, err := st.GetProviderExecution(ctx, *rec.ProviderExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, pe.Status)
	assert.Equal(t, model.ProviderKindPropertiesSet, pe.ProviderKind)
}

func TestRetrieveRejectsBadInput(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	_, err := svc.Retrieve(ctx, m, "LogPData", "ambit_api", model.JSONMap{"value": 2.1}, "")
	assert.True(t, IsUnsupportedMethod(err))

	_, err = svc.Retrieve(ctx, m, "LogPData", MethodUserInput, model.JSONMap{}, "")
	assert.True(t, IsInvalidConfig(err))

	_, err = svc.Retrieve(ctx, m, "LogPData", MethodUserInput, model.JSONMap{"value": "high"}, "")
	assert.True(t, IsTypeMismatch(err))

	_, err = svc.Retrieve(ctx, m, "NoSuchData", MethodUserInput, model.JSONMap{"value": 1.0}, "")
	assert.True(t, IsUnknownType(err))
}

func TestGetOrCreateDataRetrievesOnMiss(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	// a miss runs a real retrieval: payload, provider run, the works
	rec1, created, err := svc.GetOrCreateData(ctx, m.ID, "ToxicityData", MethodUserInput,
		model.JSONMap{"value": "low"}, "default")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "low", rec1.ValuePayload)
	require.NotNil(t, rec1.ProviderExecutionID)

	v, err := svc.GetValue(ctx, "ToxicityData", rec1.ID)
	require.NoError(t, err)
	assert.Equal(t, "low", v)

	rec2, created, err := svc.GetOrCreateData(ctx, m.ID, "ToxicityData", MethodUserInput,
		model.JSONMap{"value": "high"}, "default")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec1.ID, rec2.ID)

	// a different tag is a different record
	rec3, created, err := svc.GetOrCreateData(ctx, m.ID, "ToxicityData", MethodUserInput,
		model.JSONMap{"value": "high"}, "alt")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, rec1.ID, rec3.ID)
}

func TestGetOrCreateDataValidatesOnMiss(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	_, _, err := svc.GetOrCreateData(ctx, m.ID, "ToxicityData", "ambit_api", nil, "")
	assert.True(t, IsUnsupportedMethod(err))

	_, _, err = svc.GetOrCreateData(ctx, m.ID, "LogPData", MethodUserInput, nil, "")
	assert.True(t, IsInvalidConfig(err))

	_, _, err = svc.GetOrCreateData(ctx, m.ID, "NoSuchData", MethodUserInput, nil, "")
	assert.True(t, IsUnknownType(err))
}

func TestEnsureAll(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	methods := map[string]string{
		"LogPData":     MethodUserInput,
		"ToxicityData": MethodUserInput,
	}
	configs := map[string]model.JSONMap{
		"LogPData":     {"value": 2.5},
		"ToxicityData": {"value": "low"},
	}

	recs, err := svc.EnsureAll(ctx, m.ID, methods, configs, "default")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "logp", recs["LogPData"].PropertyName)
	assert.Equal(t, "2.5", recs["LogPData"].ValuePayload)
	assert.Equal(t, "toxicity", recs["ToxicityData"].PropertyName)

	// a second pass hits the existing records
	again, err := svc.EnsureAll(ctx, m.ID, methods, configs, "default")
	require.NoError(t, err)
	assert.Equal(t, recs["LogPData"].ID, again["LogPData"].ID)
	assert.Equal(t, recs["ToxicityData"].ID, again["ToxicityData"].ID)

	// a failing type names itself in the error
	_, err = svc.EnsureAll(ctx, m.ID, map[string]string{"LogPData": MethodUserInput}, nil, "bare")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure LogPData")
	assert.True(t, IsInvalidConfig(err))
}

func TestSetValueAndFreeze(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	rec, _, err := svc.GetOrCreateData(ctx, m.ID, "LogPData", MethodUserInput,
		model.JSONMap{"value": 1.0}, "")
	require.NoError(t, err)

	require.NoError(t, svc.SetValue(ctx, "LogPData", rec.ID, 3.5))
	v, err := svc.GetValue(ctx, "LogPData", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)

	err = svc.SetValue(ctx, "LogPData", rec.ID, "high")
	assert.True(t, IsTypeMismatch(err))

	require.NoError(t, svc.Freeze(ctx, "LogPData", rec.ID, "step-a"))
	err = svc.SetValue(ctx, "LogPData", rec.ID, 9.9)
	assert.True(t, IsImmutable(err))

	// value survives the rejected write
	v, err = svc.GetValue(ctx, "LogPData", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3.5, v)
}

func TestRecordString(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	m := seedMolecule(t, st)

	rec, err := svc.Retrieve(ctx, m, "LogPData", MethodUserInput,
		model.JSONMap{"value": 1.5}, "")
	require.NoError(t, err)
	assert.Equal(t, "LogPData(logp=1.5)", svc.RecordString(rec))

	unset := &model.DataRecord{TypeName: "ToxicityData", PropertyName: "toxicity"}
	assert.Equal(t, "ToxicityData(toxicity=<unset>)", svc.RecordString(unset))

	bad := &model.DataRecord{TypeName: "LogPData", PropertyName: "logp", ValuePayload: "garbage"}
	assert.Equal(t, "LogPData(logp=<error>)", svc.RecordString(bad))

	unknown := &model.DataRecord{TypeName: "GhostData", PropertyName: "ghost", ValuePayload: "x"}
	assert.Equal(t, "GhostData(ghost=<unknown type>)", svc.RecordString(unknown))
}
