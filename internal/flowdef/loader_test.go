package flowdef

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
)

func TestLoadDir(t *testing.T) {
	flows, err := LoadDir("testdata")
	require.NoError(t, err)
	require.Len(t, flows, 1)

	def := flows[0]
	assert.Equal(t, "qsar_screen", def.FlowID)
	assert.Equal(t, "QSAR screening flow", def.Name)
	require.Len(t, def.Steps, 3)

	assert.Equal(t, "collect-logp", def.Steps[0].ID)
	assert.Equal(t, 0, def.Steps[0].Order)
	assert.Equal(t, []string{"LogPData"}, def.Steps[0].RequiredDataTypes)
	assert.Equal(t, []string{"logp"}, def.Steps[0].InputProperties)

	assert.Equal(t, "collect-toxicity", def.Steps[1].ID)
	assert.Equal(t, []string{"ToxicityData", "MutagenicityData"}, def.Steps[1].RequiredDataTypes)

	assert.Equal(t, "assess", def.Steps[2].ID)
	assert.Empty(t, def.Steps[2].RequiredDataTypes)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir("testdata/does-not-exist")
	require.Error(t, err)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)

	empty := t.TempDir()
	_, err = LoadDir(empty)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoadDirRejectsInvalidFlows(t *testing.T) {
	dir := t.TempDir()
	writeFlow := func(body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "flow.cue"), []byte(body), 0o644))
	}

	writeFlow(`package flows

flow: empty: {
	flow_id: "empty"
	name:    "no steps"
	steps: []
}
`)
	_, err := LoadDir(dir)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeInvalidFlow, le.Code)

	writeFlow(`package flows

flow: dup: {
	flow_id: "dup"
	name:    "duplicate orders"
	steps: [
		{id: "a", name: "a", order: 0, required_data_types: [], input_properties: []},
		{id: "b", name: "b", order: 0, required_data_types: [], input_properties: []},
	]
}
`)
	_, err = LoadDir(dir)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ErrCodeInvalidFlow, le.Code)
}

func TestCheckTypes(t *testing.T) {
	flows, err := LoadDir("testdata")
	require.NoError(t, err)

	reg := chem.DefaultRegistry()
	require.NoError(t, CheckTypes(&flows[0], reg))

	bad := flows[0]
	bad.Steps = append([]StepDef{}, bad.Steps...)
	bad.Steps[0].RequiredDataTypes = []string{"GhostData"}
	err = CheckTypes(&bad, reg)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.Message, "GhostData")
}

func TestBindPreservesDeclarations(t *testing.T) {
	flows, err := LoadDir("testdata")
	require.NoError(t, err)

	steps := Bind(&flows[0])
	require.Len(t, steps, 3)
	assert.Equal(t, "collect-logp", steps[0].ID())
	assert.Equal(t, "Collect LogP values", steps[0].Name())
	assert.Equal(t, 0, steps[0].Order())
	assert.Equal(t, []string{"logp"}, steps[0].InputProperties())
	assert.Equal(t, []string{"ToxicityData", "MutagenicityData"}, steps[1].RequiredDataTypes())
}
