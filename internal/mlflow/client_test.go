package mlflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imishinist/mlflow-pipeline/internal/config"
	"github.com/imishinist/mlflow-pipeline/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeTracking is a minimal MLflow REST server. Handlers are keyed by path
// below /api/2.0/mlflow/.
type fakeTracking struct {
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func (f *fakeTracking) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(data))
	body := map[string]any{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	f.mu.Lock()
	handler, found := f.handlers[r.URL.Path]
	if found {
		f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
	}
	f.mu.Unlock()

	if !found {
		writeJSON(w, http.StatusNotFound, `{"error_code": "ENDPOINT_NOT_FOUND", "message": "no handler"}`)
		return
	}
	handler(w, r)
}

func (f *fakeTracking) calls(path string) []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recordedRequest
	for _, req := range f.requests {
		if req.Path == path {
			out = append(out, req)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}

func newRESTClient(t *testing.T, handlers map[string]http.HandlerFunc) (*Client, *fakeTracking) {
	t.Helper()
	fake := &fakeTracking{handlers: handlers}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(&config.Config{TrackingURI: srv.URL})
	require.NoError(t, err)
	return client, fake
}

const (
	getByNamePath  = "/api/2.0/mlflow/experiments/get-by-name"
	searchRunsPath = "/api/2.0/mlflow/runs/search"
)

func TestClientExperimentNotFound(t *testing.T) {
	client, fake := newRESTClient(t, map[string]http.HandlerFunc{
		getByNamePath: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": "Could not find experiment with name 'missing'"}`)
		},
		searchRunsPath: respond(`{"runs": []}`),
	})

	_, err := client.GetExperimentByName(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExperimentNotFound), "got %v", err)

	calls := fake.calls(getByNamePath)
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.Contains(t, calls[0].Query, "experiment_name=missing")
	assert.Empty(t, fake.calls(searchRunsPath))
}

func TestClientGetExperimentByName(t *testing.T) {
	client, _ := newRESTClient(t, map[string]http.HandlerFunc{
		getByNamePath: respond(`{"experiment": {"experiment_id": "7", "name": "Cardiovascular_Classifier", "artifact_location": "mlflow-artifacts:/7", "lifecycle_stage": "active", "creation_time": 1700000000000}}`),
	})

	experiment, err := client.GetExperimentByName(context.Background(), "Cardiovascular_Classifier")
	require.NoError(t, err)
	assert.Equal(t, &models.Experiment{
		ExperimentID:     "7",
		Name:             "Cardiovascular_Classifier",
		ArtifactLocation: "mlflow-artifacts:/7",
		LifecycleStage:   "active",
		CreationTime:     time.UnixMilli(1700000000000),
	}, experiment)
}

const (
	runOne   = `{"info": {"run_id": "r1", "experiment_id": "7", "status": "FINISHED", "start_time": 1700000003000, "end_time": 1700000004000, "artifact_uri": "mlflow-artifacts:/7/r1/artifacts"}, "data": {"tags": [{"key": "mlflow.runName", "value": "nightly"}, {"key": "mlflow.note.content", "value": "retrain"}]}}`
	runTwo   = `{"info": {"run_id": "r2", "experiment_id": "7", "status": "RUNNING", "start_time": 1700000002000}}`
	runThree = `{"info": {"run_id": "r3", "experiment_id": "7", "status": "FAILED", "start_time": 1700000001000}}`
)

// pagedSearch serves two runs on the first page and one on the second,
// whatever max_results asks for.
func pagedSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PageToken string `json:"page_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.PageToken == "" {
		writeJSON(w, http.StatusOK, `{"runs": [`+runOne+`, `+runTwo+`], "next_page_token": "p2"}`)
		return
	}
	writeJSON(w, http.StatusOK, `{"runs": [`+runThree+`]}`)
}

func TestClientSearchRunsStopsAtMaxResults(t *testing.T) {
	client, fake := newRESTClient(t, map[string]http.HandlerFunc{searchRunsPath: pagedSearch})

	runs, err := client.SearchRuns(context.Background(), "7", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	end := time.UnixMilli(1700000004000)
	assert.Equal(t, models.RunInfo{
		RunID:        "r1",
		ExperimentID: "7",
		RunName:      "nightly",
		Status:       "FINISHED",
		StartTime:    time.UnixMilli(1700000003000),
		EndTime:      &end,
		ArtifactURI:  "mlflow-artifacts:/7/r1/artifacts",
		Tags:         map[string]string{"mlflow.runName": "nightly", "mlflow.note.content": "retrain"},
		Description:  "retrain",
	}, runs[0])

	calls := fake.calls(searchRunsPath)
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"start_time DESC"}, calls[0].Body["order_by"])
	assert.Equal(t, []any{"7"}, calls[0].Body["experiment_ids"])
	assert.EqualValues(t, 1, calls[0].Body["max_results"])
}

func TestClientSearchRunsFollowsPages(t *testing.T) {
	client, fake := newRESTClient(t, map[string]http.HandlerFunc{searchRunsPath: pagedSearch})

	runs, err := client.SearchRuns(context.Background(), "7", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"r1", "r2", "r3"}, []string{runs[0].RunID, runs[1].RunID, runs[2].RunID})
	assert.Nil(t, runs[1].EndTime)

	calls := fake.calls(searchRunsPath)
	require.Len(t, calls, 2)
	assert.Equal(t, "p2", calls[1].Body["page_token"])
}

func TestClientGetRunNotFound(t *testing.T) {
	client, _ := newRESTClient(t, map[string]http.HandlerFunc{
		"/api/2.0/mlflow/runs/get": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, `{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": "Run 'nope' not found"}`)
		},
	})

	_, err := client.GetRun(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)
}

func TestClientRunLogging(t *testing.T) {
	client, fake := newRESTClient(t, map[string]http.HandlerFunc{
		"/api/2.0/mlflow/runs/create":        respond(`{"run": {"info": {"run_id": "r9", "experiment_id": "7", "artifact_uri": "mlflow-artifacts:/7/r9/artifacts"}}}`),
		"/api/2.0/mlflow/runs/update":        respond(`{"run_info": {"run_id": "r9", "status": "FINISHED"}}`),
		"/api/2.0/mlflow/runs/log-metric":    respond(`{}`),
		"/api/2.0/mlflow/runs/log-parameter": respond(`{}`),
	})
	ctx := context.Background()

	experimentID := "7"
	runName := "nightly"
	run, err := client.CreateRun(ctx, &models.RunConfig{ExperimentID: &experimentID, RunName: &runName})
	require.NoError(t, err)
	assert.Equal(t, "r9", run.RunID)
	assert.Equal(t, "mlflow-artifacts:/7/r9/artifacts", run.ArtifactURI)

	create := fake.calls("/api/2.0/mlflow/runs/create")
	require.Len(t, create, 1)
	assert.Equal(t, "7", create[0].Body["experiment_id"])
	assert.Equal(t, "nightly", create[0].Body["run_name"])

	ts := time.UnixMilli(1700000000000)
	step := int64(3)
	require.NoError(t, client.LogMetric(ctx, "r9", "accuracy", 0.73, &ts, &step))
	metric := fake.calls("/api/2.0/mlflow/runs/log-metric")
	require.Len(t, metric, 1)
	assert.Equal(t, "accuracy", metric[0].Body["key"])
	assert.EqualValues(t, 0.73, metric[0].Body["value"])
	assert.EqualValues(t, 1700000000000, metric[0].Body["timestamp"])
	assert.EqualValues(t, 3, metric[0].Body["step"])

	require.NoError(t, client.LogParamsFromMap(ctx, "r9", map[string]string{"seed": "42", "n_estimators": "100"}))
	params := fake.calls("/api/2.0/mlflow/runs/log-parameter")
	require.Len(t, params, 2)
	assert.Equal(t, "n_estimators", params[0].Body["key"])
	assert.Equal(t, "seed", params[1].Body["key"])

	require.NoError(t, client.UpdateRun(ctx, "r9", models.RunStatusFailed))
	update := fake.calls("/api/2.0/mlflow/runs/update")
	require.Len(t, update, 1)
	assert.Equal(t, "FAILED", update[0].Body["status"])
	assert.NotZero(t, update[0].Body["end_time"])
}
