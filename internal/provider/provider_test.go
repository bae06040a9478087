package provider

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
)

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewExecutor(st, chem.DefaultRegistry(), model.UUIDGenerator{}, nil, nil), st
}

func TestRunMoleculeSetUserInput(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	fam := &model.MolecularFamily{FamilyID: "fam-1", Name: "uploads"}
	require.NoError(t, st.CreateFamily(ctx, fam, time.Now()))

	params := model.JSONMap{
		"molecules": []any{
			map[string]any{"smiles": "CCO", "inchi": "i1", "inchikey": "K1", "common_name": "ethanol"},
			map[string]any{"smiles": "CO", "inchi": "i2", "inchikey": "K2"},
		},
	}
	mols, err := exec.RunMoleculeSet(ctx, UserInputMolecules{}, params, fam.ID)
	require.NoError(t, err)
	require.Len(t, mols, 2)
	assert.NotZero(t, mols[0].ID)

	members, err := st.FamilyMembers(ctx, fam.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// re-running reuses molecules by inchikey
	again, err := exec.RunMoleculeSet(ctx, UserInputMolecules{}, params, fam.ID)
	require.NoError(t, err)
	assert.Equal(t, mols[0].ID, again[0].ID)

	members, err = st.FamilyMembers(ctx, fam.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRunMoleculeSetRejectsBadParams(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	fam := &model.MolecularFamily{FamilyID: "fam-1", Name: "uploads"}
	require.NoError(t, st.CreateFamily(ctx, fam, time.Now()))

	_, err := exec.RunMoleculeSet(ctx, UserInputMolecules{}, model.JSONMap{}, fam.ID)
	require.Error(t, err)

	_, err = exec.RunMoleculeSet(ctx, UserInputMolecules{}, model.JSONMap{
		"molecules": []any{map[string]any{"smiles": "CCO"}},
	}, fam.ID)
	require.Error(t, err)

	// the failure is recorded on the provider execution
	pe, err := st.GetProviderExecution(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, pe.Status)
	assert.NotEmpty(t, pe.ErrorMessage)
}

func TestRunPropertySetUserInput(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	mol := &model.Molecule{SMILES: "CCO", InChI: "i1", InChIKey: "K1"}
	require.NoError(t, st.CreateMolecule(ctx, mol, time.Now()))

	records, err := exec.RunPropertySet(ctx, UserInputProperties{}, mol, model.JSONMap{
		"values": map[string]any{
			"LogPData":     1.2,
			"ToxicityData": "low",
		},
	}, "default")
	require.NoError(t, err)
	require.Len(t, records, 2)

	byType := map[string]model.DataRecord{}
	for _, r := range records {
		byType[r.TypeName] = r
	}
	assert.Equal(t, "1.2", byType["LogPData"].ValuePayload)
	assert.Equal(t, model.SourceUser, byType["LogPData"].Source)
	assert.Equal(t, "logp", byType["LogPData"].PropertyName)
	require.NotNil(t, byType["LogPData"].ProviderExecutionID)

	pe, err := st.GetProviderExecution(ctx, *byType["LogPData"].ProviderExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, pe.Status)
}

func TestRunPropertySetTypeErrors(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	mol := &model.Molecule{SMILES: "CCO", InChI: "i1", InChIKey: "K1"}
	require.NoError(t, st.CreateMolecule(ctx, mol, time.Now()))

	_, err := exec.RunPropertySet(ctx, UserInputProperties{}, mol, model.JSONMap{
		"values": map[string]any{"GhostData": 1.0},
	}, "")
	assert.True(t, chem.IsUnknownType(err))

	_, err = exec.RunPropertySet(ctx, UserInputProperties{}, mol, model.JSONMap{
		"values": map[string]any{"LogPData": "not a number"},
	}, "")
	assert.True(t, chem.IsTypeMismatch(err))

	pe, err := st.GetProviderExecution(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, pe.Status)
}

// failingProvider exercises the failure lifecycle path.
type failingProvider struct{}

func (failingProvider) Name() string         { return "flaky" }
func (failingProvider) Version() string      { return "0.1" }
func (failingProvider) Source() model.Source { return model.SourceOther }

func (failingProvider) FetchProperties(ctx context.Context, mol *model.Molecule, params model.JSONMap) (map[string]any, error) {
	return nil, errors.New("upstream unavailable")
}

func TestRunPropertySetProviderFailure(t *testing.T) {
	exec, st := newTestExecutor(t)
	ctx := context.Background()

	mol := &model.Molecule{SMILES: "CCO", InChI: "i1", InChIKey: "K1"}
	require.NoError(t, st.CreateMolecule(ctx, mol, time.Now()))

	_, err := exec.RunPropertySet(ctx, failingProvider{}, mol, model.JSONMap{}, "")
	require.EqualError(t, err, "upstream unavailable")

	pe, err := st.GetProviderExecution(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, pe.Status)
	assert.Equal(t, "upstream unavailable", pe.ErrorMessage)
}
