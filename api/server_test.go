package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hdv-bca/db/postgres"
	"hdv-bca/decision/fleet"
	"hdv-bca/decision/inputs"
	"hdv-bca/decision/pipeline"
)

var bus = fleet.Vehicle{SourceTypeID: 52, RegClassID: 46, FuelTypeID: fleet.FuelGasoline}

const testReference = `
requirements:
  - {reg_class_id: 46, fuel_type_id: 1, option_id: 0, model_year: 2027, provision: warranty, age: 1, miles: 1000000000}
  - {reg_class_id: 46, fuel_type_id: 1, option_id: 0, model_year: 2027, provision: useful_life, age: 2, miles: 1000000000}
  - {reg_class_id: 46, fuel_type_id: 1, option_id: 1, model_year: 2027, provision: warranty, age: 1, miles: 1000000000}
  - {reg_class_id: 46, fuel_type_id: 1, option_id: 1, model_year: 2027, provision: useful_life, age: 2, miles: 1000000000}
repair_curve: {in_warranty: 0.01, at_useful_life: 0.02, max: 0.03}
packages:
  - reg_class_id: 46
    fuel_type_id: 1
    option_id: 0
    steps: [{year: 2027, cost: 80}]
  - reg_class_id: 46
    fuel_type_id: 1
    option_id: 1
    steps: [{year: 2027, cost: 20}]
`

type recordingSink struct{ written []uuid.UUID }

func (s *recordingSink) WriteResult(_ context.Context, res *pipeline.Result) error {
	s.written = append(s.written, res.RunID)
	return nil
}

type recordingRecorder struct {
	started  []uuid.UUID
	outcomes map[uuid.UUID]error
	entries  map[uuid.UUID]*postgres.RunEntry
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{
		outcomes: map[uuid.UUID]error{},
		entries:  map[uuid.UUID]*postgres.RunEntry{},
	}
}

func (r *recordingRecorder) Start(_ context.Context, id uuid.UUID, name string) error {
	r.started = append(r.started, id)
	r.entries[id] = &postgres.RunEntry{ID: id, Name: name, Status: postgres.StatusRunning, StartedAt: time.Now()}
	return nil
}

func (r *recordingRecorder) Finish(_ context.Context, id uuid.UUID, runErr error) error {
	r.outcomes[id] = runErr
	e := r.entries[id]
	e.Status, e.Error = postgres.Outcome(runErr)
	now := time.Now()
	e.FinishedAt = &now
	return nil
}

func (r *recordingRecorder) Get(_ context.Context, id uuid.UUID) (*postgres.RunEntry, error) {
	return r.entries[id], nil
}

func baseline() pipeline.RunConfig {
	cfg := pipeline.DefaultConfig()
	cfg.Options = map[int]string{0: "NoAction", 1: "Action"}
	cfg.Discounting.Enabled = false
	cfg.Repair.ReferenceRegClassID = 46
	cfg.Repair.ReferenceFuelTypeID = fleet.FuelGasoline
	cfg.Repair.EmissionRepairShare = 1
	cfg.Repair.TypicalVMTHorizon = 0
	return cfg
}

func loadFleet(map[int]string) (*fleet.Store, error) {
	fs := fleet.NewStore(nil)
	for _, option := range []int{0, 1} {
		for _, my := range []int{2027, 2028} {
			rec := fleet.NewRecord(fleet.Key{Segment: bus, OptionID: option, ModelYear: my}, "")
			rec.Set(fleet.FieldVPOP, 1)
			rec.Set(fleet.FieldVMT, 10000)
			fs.Put(rec)
		}
	}
	return fs, nil
}

func newTestServer(t *testing.T, cfg *Config) (*Server, *recordingSink, *recordingRecorder) {
	t.Helper()
	ref, err := inputs.ParseReference(strings.NewReader(testReference), 2022)
	require.NoError(t, err)
	sink := &recordingSink{}
	rec := newRecordingRecorder()
	return NewServer(cfg, baseline(), ref, loadFleet, sink, rec, zerolog.Nop()), sink, rec
}

func postRun(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	w := get(t, s.Router(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestCreateRunAndReadSummary(t *testing.T) {
	s, sink, rec := newTestServer(t, nil)
	h := s.Router()

	w := postRun(t, h, `{"run_name": "central", "calc_deltas": true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var run RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "central", run.RunName)
	assert.Len(t, run.Stages, 15)

	id := uuid.MustParse(run.RunID)
	assert.Equal(t, []uuid.UUID{id}, sink.written)
	assert.Equal(t, []uuid.UUID{id}, rec.started)
	assert.Contains(t, rec.outcomes, id)
	assert.NoError(t, rec.outcomes[id])

	w = get(t, h, "/api/v1/runs/"+run.RunID+"/summary?series=AnnualValue&option=10")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []SummaryRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.NotEmpty(t, rows)

	var found bool
	for _, r := range rows {
		assert.Equal(t, 10, r.OptionID)
		if r.CalendarYear == 2027 {
			found = true
			assert.InDelta(t, 20, r.Values[fleet.FieldDirectCost], 1e-9)
			assert.Equal(t, "20.00", r.Dollars[fleet.FieldDirectCost])
			assert.Equal(t, "Action_minus_NoAction", r.OptionName)
		}
	}
	assert.True(t, found)

	w = get(t, h, "/api/v1/runs/"+run.RunID)
	assert.Equal(t, http.StatusOK, w.Code)
	w = get(t, h, "/api/v1/runs/"+run.RunID+"/weighted")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateRunRejectsInvalidOverride(t *testing.T) {
	s, sink, _ := newTestServer(t, nil)

	w := postRun(t, s.Router(), `{"timing": "mid-year"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sink.written)

	w = postRun(t, s.Router(), `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunLookupErrors(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	h := s.Router()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/runs/not-a-uuid/summary").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/"+uuid.NewString()+"/summary").Code)

	w := postRun(t, h, `{}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var run RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/runs/"+run.RunID+"/summary?series=Weekly").Code)
}

func TestCacheEvictsOldestRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCachedRuns = 1
	s, _, _ := newTestServer(t, cfg)
	h := s.Router()

	var ids []string
	for i := 0; i < 2; i++ {
		w := postRun(t, h, `{}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var run RunResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		ids = append(ids, run.RunID)
	}
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/"+ids[0]+"/summary").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/runs/"+ids[1]+"/summary").Code)

	var runs []RunResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/api/v1/runs").Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, ids[1], runs[0].RunID)
}

func TestGetRunFallsBackToRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCachedRuns = 1
	s, _, _ := newTestServer(t, cfg)
	h := s.Router()

	var ids []string
	for _, name := range []string{"first", "second"} {
		w := postRun(t, h, `{"run_name": "`+name+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var run RunResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		ids = append(ids, run.RunID)
	}

	w := get(t, h, "/api/v1/runs/"+ids[0])
	require.Equal(t, http.StatusOK, w.Code)
	var evicted RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &evicted))
	assert.Equal(t, "first", evicted.RunName)
	assert.Equal(t, "succeeded", evicted.Status)
	assert.False(t, evicted.Cached)
	assert.NotEmpty(t, evicted.FinishedAt)
	assert.Nil(t, evicted.Config)

	w = get(t, h, "/api/v1/runs/"+ids[1])
	require.Equal(t, http.StatusOK, w.Code)
	var cached RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cached))
	assert.True(t, cached.Cached)
	assert.Len(t, cached.Stages, 15)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/"+uuid.NewString()).Code)
}

func TestGetRunWithoutRegistry(t *testing.T) {
	ref, err := inputs.ParseReference(strings.NewReader(testReference), 2022)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxCachedRuns = 1
	h := NewServer(cfg, baseline(), ref, loadFleet, nil, nil, zerolog.Nop()).Router()

	var ids []string
	for i := 0; i < 2; i++ {
		w := postRun(t, h, `{}`)
		require.Equal(t, http.StatusCreated, w.Code)
		var run RunResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
		ids = append(ids, run.RunID)
	}
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/"+ids[0]).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/runs/"+ids[1]).Code)
}

func TestRunRequestApplyDoesNotShareOptions(t *testing.T) {
	base := baseline()
	year := 2030
	cfg := RunRequest{BaseYear: &year, DiscountRates: []float64{0.02}}.Apply(base)
	cfg.Options[5] = "Extra"

	assert.Equal(t, 2030, cfg.Discounting.BaseYear)
	assert.Equal(t, []float64{0.02}, cfg.Discounting.SocialRates)
	assert.NotContains(t, base.Options, 5)
}

func TestAPIKeyRequiredWhenConfigured(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	s, _, _ := newTestServer(t, cfg)
	h := s.Router()

	assert.Equal(t, http.StatusUnauthorized, postRun(t, h, `{}`).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(`{}`))
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
}
