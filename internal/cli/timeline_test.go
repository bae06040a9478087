package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
	"github.com/chem-gl/cadma-flow-api/internal/testutil"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

// seedTimelineDB builds a database with fixed ids and timestamps so the
// rendered timeline is byte-stable.
func seedTimelineDB(t *testing.T) (string, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)

	clock := testutil.NewTickingClock()
	ids := model.NewFixedGenerator("aa", "bb", "cc")
	engine := workflow.New(st, chem.DefaultRegistry(), ids, clock.Now, nil)
	ctx := context.Background()

	bp, err := engine.NewBlueprint(ctx, "demo", "")
	require.NoError(t, err)
	exec, err := engine.NewExecution(ctx, bp.Key, "run", "")
	require.NoError(t, err)
	require.Equal(t, "exec-root-cc", exec.ExecutionID)

	base := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	events := []model.WorkflowEvent{
		{ExecutionID: exec.ExecutionID, EventType: model.EventStepCompleted,
			Details: model.JSONMap{"step": "collect-logp"}, CreatedAt: base},
		{ExecutionID: exec.ExecutionID, EventType: model.EventDataSelectionChanged,
			Details: model.JSONMap{"property": "logp"}, CreatedAt: base.Add(time.Second)},
		{ExecutionID: exec.ExecutionID, EventType: model.EventAutoFork,
			CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range events {
		require.NoError(t, st.AppendEvent(ctx, &events[i]))
	}
	require.NoError(t, st.Close())
	return dbPath, exec.ExecutionID
}

func TestTimelineText(t *testing.T) {
	dbPath, execID := seedTimelineDB(t)

	buf := &bytes.Buffer{}
	cmd := NewTimelineCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--execution", execID})

	require.NoError(t, cmd.Execute())

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "timeline_text", buf.Bytes())
}

func TestTimelineJSON(t *testing.T) {
	dbPath, execID := seedTimelineDB(t)

	buf := &bytes.Buffer{}
	cmd := NewTimelineCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--execution", execID})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string         `json:"status"`
		Data   TimelineResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, execID, resp.Data.ExecutionID)
	require.Len(t, resp.Data.Events, 3)
	assert.Equal(t, model.EventStepCompleted, resp.Data.Events[0].EventType)
	assert.Equal(t, "2025-06-01T12:00:05Z", resp.Data.Events[0].At)
}

func TestTimelineEventFilter(t *testing.T) {
	dbPath, execID := seedTimelineDB(t)

	buf := &bytes.Buffer{}
	cmd := NewTimelineCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--execution", execID, "--event", model.EventAutoFork})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "AUTO_FORK")
	assert.NotContains(t, out, "STEP_COMPLETED")
	assert.Contains(t, out, "1 event(s)")
}

func TestTimelineUnknownExecution(t *testing.T) {
	dbPath, _ := seedTimelineDB(t)

	cmd := NewTimelineCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", dbPath, "--execution", "missing"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "NOT_FOUND")
}
