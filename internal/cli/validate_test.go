package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFlowCUE = `package flows

flow: demo: {
	flow_id: "demo"
	name:    "Demo flow"
	steps: [
		{
			id:    "collect-logp"
			name:  "Collect LogP"
			order: 0
			required_data_types: ["LogPData"]
			input_properties: ["logp"]
		},
		{
			id:    "assess"
			name:  "Assess"
			order: 1
			required_data_types: []
			input_properties: ["logp"]
		},
	]
}
`

func writeFlowDir(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.cue"), []byte(src), 0o644))
	return dir
}

func TestValidateSuccess(t *testing.T) {
	dir := writeFlowDir(t, validFlowCUE)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "Validated 1 flow(s)")
	assert.Contains(t, out, "demo: collect-logp -> assess")
}

func TestValidateSuccessJSON(t *testing.T) {
	dir := writeFlowDir(t, validFlowCUE)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
}

func TestValidateMissingDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "Error [E005]")
}

func TestValidateRejectsUnregisteredType(t *testing.T) {
	dir := writeFlowDir(t, `package flows

flow: demo: {
	flow_id: "demo"
	steps: [
		{id: "a", name: "A", order: 0, required_data_types: ["GhostData"], input_properties: []},
	]
}
`)

	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "GhostData")
	assert.Contains(t, buf.String(), "Error [E101]")
}
