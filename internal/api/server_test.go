package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chem-gl/cadma-flow-api/internal/chem"
	"github.com/chem-gl/cadma-flow-api/internal/model"
	"github.com/chem-gl/cadma-flow-api/internal/store"
	"github.com/chem-gl/cadma-flow-api/internal/workflow"
)

type apiEnv struct {
	server *Server
	engine *workflow.Engine
	chem   *chem.Service
	store  *store.Store
	exec   *model.WorkflowExecution
	mol    *model.Molecule
	ctx    context.Context
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := chem.DefaultRegistry()
	ids := model.UUIDGenerator{}
	engine := workflow.New(st, reg, ids, nil, nil)
	svc := chem.NewService(st, reg, ids, nil, nil)
	ctx := context.Background()

	bp, err := engine.NewBlueprint(ctx, "qsar", "")
	require.NoError(t, err)
	exec, err := engine.NewExecution(ctx, bp.Key, "run", "")
	require.NoError(t, err)

	mol := &model.Molecule{SMILES: "CCO", InChI: "i1", InChIKey: "K1"}
	require.NoError(t, st.CreateMolecule(ctx, mol, time.Now()))

	return &apiEnv{
		server: NewServer(engine, nil),
		engine: engine,
		chem:   svc,
		store:  st,
		exec:   exec,
		mol:    mol,
		ctx:    ctx,
	}
}

func (env *apiEnv) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echoContentType, echoJSON)
	}
	rec := httptest.NewRecorder()
	env.server.Echo().ServeHTTP(rec, req)
	return rec
}

const (
	echoContentType = "Content-Type"
	echoJSON        = "application/json"
)

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.request(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetExecution(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(t, http.MethodGet, "/executions/"+env.exec.ExecutionID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got model.WorkflowExecution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, env.exec.ExecutionID, got.ExecutionID)

	rec = env.request(t, http.MethodGet, "/executions/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTimelineEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	require.NoError(t, env.engine.LogEvent(env.ctx, env.exec.ExecutionID,
		model.EventStepCompleted, model.JSONMap{"step": "a"}))

	rec := env.request(t, http.MethodGet, "/executions/"+env.exec.ExecutionID+"/timeline", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var events []model.WorkflowEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, model.EventStepCompleted, events[0].EventType)
}

func TestVariantsEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, err := env.chem.Retrieve(env.ctx, env.mol, "LogPData", chem.MethodUserInput,
		model.JSONMap{"value": 1.2}, "")
	require.NoError(t, err)

	path := "/molecules/" + strconv.FormatInt(env.mol.ID, 10) + "/properties/logp/variants"
	rec := env.request(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var variants []model.DataRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &variants))
	assert.Len(t, variants, 1)

	rec = env.request(t, http.MethodGet, "/molecules/abc/properties/logp/variants", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectVariantEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	recData, err := env.chem.Retrieve(env.ctx, env.mol, "LogPData", chem.MethodUserInput,
		model.JSONMap{"value": 1.2}, "")
	require.NoError(t, err)

	body := `{"molecule_id":` + strconv.FormatInt(env.mol.ID, 10) +
		`,"property_name":"logp","data_type_name":"LogPData","data_record_id":"` + recData.ID + `","selected_by":"user"}`
	rec := env.request(t, http.MethodPost, "/executions/"+env.exec.ExecutionID+"/selections", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	var result workflow.SelectionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Created)
	assert.False(t, result.AutoForked)

	// property/type mismatch is a semantic error
	body = `{"molecule_id":` + strconv.FormatInt(env.mol.ID, 10) +
		`,"property_name":"toxicity","data_type_name":"LogPData","data_record_id":"` + recData.ID + `"}`
	rec = env.request(t, http.MethodPost, "/executions/"+env.exec.ExecutionID+"/selections", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// missing fields rejected up front
	rec = env.request(t, http.MethodPost, "/executions/"+env.exec.ExecutionID+"/selections", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown record
	body = `{"molecule_id":1,"property_name":"logp","data_type_name":"LogPData","data_record_id":"missing"}`
	rec = env.request(t, http.MethodPost, "/executions/"+env.exec.ExecutionID+"/selections", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
