package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/nsel/internal/config"
	apperrors "github.com/copyleftdev/nsel/internal/errors"
	"github.com/copyleftdev/nsel/internal/logging"
)

// testConfig creates a configuration with a small, fast sampler
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Environment: "test",
	}

	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second

	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stdout"

	cfg.Sampler.PopulationSize = 10
	cfg.Sampler.Levels = 4
	cfg.Sampler.NumSteps = 10
	cfg.Sampler.NumPerStep = 100
	cfg.Sampler.NewLevelInterval = 100
	cfg.Sampler.Lambda = 10
	cfg.Sampler.Beta = 100
	cfg.Sampler.Backend = "memory"

	cfg.Selection.Workers = 2
	cfg.Selection.Policy = "skip-and-continue"
	cfg.Selection.Likelihood = "logpdf"
	cfg.Selection.Seed = 7
	cfg.Selection.MaxJobs = 4

	return cfg
}

// testServer creates a server and router; the server is closed with the test
func testServer(t *testing.T, cfg *config.Config) (*Server, chi.Router, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	srv := NewServer(cfg, logging.New(logging.DebugLevel, &buf))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, r, &buf
}

const selectBody = `{
	"models": ["constant", "linear"],
	"timespan": [0, 1, 2, 3],
	"observables": {"y": {"values": [1, 3, 5, 7], "stddevs": [0.5, 0.5, 0.5, 0.5]}}
}`

const longSelectBody = `{
	"models": ["linear"],
	"timespan": [0, 1],
	"observables": {"y": {"values": [1, 3]}},
	"sampler": {"num_steps": 100000000}
}`

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, reader))

	out := map[string]interface{}{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func waitForStatus(t *testing.T, r http.Handler, id string, want JobStatus) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		_, last = do(t, r, http.MethodGet, "/api/v1/status/"+id, "")
		return last["status"] == string(want)
	}, 60*time.Second, 20*time.Millisecond)
	return last
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), nil)
	assert.NotNil(t, srv, "Server should be created")
	assert.NotNil(t, srv.Metrics())
}

func TestRegisterRoutes(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	routes := map[string]bool{}
	err := chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes[method+" "+route] = true
		return nil
	})
	require.NoError(t, err)

	for _, want := range []string{
		"GET /api/v1/models",
		"POST /api/v1/select",
		"GET /api/v1/status/{id}",
		"DELETE /api/v1/selection/{id}",
		"POST /rpc",
		"GET /metrics",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestHandleModels(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	rec, body := do(t, r, http.MethodGet, "/api/v1/models", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"constant", "exp-decay", "linear", "quadratic"}, body["models"])
}

func TestSelection_Lifecycle(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	rec, body := do(t, r, http.MethodPost, "/api/v1/select", selectBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id, ok := body["selection_id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36)

	status := waitForStatus(t, r, id, StatusCompleted)

	assert.Equal(t, 2.0, status["completed_runs"])
	assert.NotEmpty(t, status["end_time"])
	assert.Len(t, status["runs"], 2)

	table := status["table"].([]interface{})
	require.Len(t, table, 2)
	first := table[0].(map[string]interface{})
	second := table[1].(map[string]interface{})
	assert.GreaterOrEqual(t, first["log_evidence"], second["log_evidence"])

	bf := status["bayes_factors"].(map[string]interface{})
	assert.Equal(t, []interface{}{"model_0", "model_1"}, bf["labels"])
	values := bf["values"].([]interface{})
	require.Len(t, values, 2)
	assert.Equal(t, 1.0, values[0].([]interface{})[0])

	criteria := status["criteria"].(map[string]interface{})
	for _, name := range []string{"aic", "bic", "dic"} {
		assert.Len(t, criteria[name], 2, name)
	}
	assert.Nil(t, status["failures"])

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/selection/"+id, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelection_Rejected(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{"models":`, http.StatusBadRequest},
		{"no models", `{"timespan": [0], "observables": {"y": {"values": [1]}}}`, http.StatusBadRequest},
		{"unknown model", `{"models": ["cubic"], "timespan": [0], "observables": {"y": {"values": [1]}}}`, http.StatusBadRequest},
		{"missing observable", `{"models": ["linear"], "timespan": [0], "observables": {"z": {"values": [1]}}}`, http.StatusBadRequest},
		{"unavailable sampler", `{"models": ["linear"], "timespan": [0], "observables": {"y": {"values": [1]}}, "sampler": {"kind": "multinest"}}`, http.StatusNotImplemented},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, r, http.MethodPost, "/api/v1/select", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatus_NotFound(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	rec, body := do(t, r, http.MethodGet, "/api/v1/status/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body["error"], "nope")

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/selection/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelection_Cancel(t *testing.T) {
	srv, r, _ := testServer(t, testConfig(t))

	rec, body := do(t, r, http.MethodPost, "/api/v1/select", longSelectBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := body["selection_id"].(string)

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/selection/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, srv.Close())
	status, err := srv.SelectionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, status.Status)
	assert.Empty(t, status.Table)

	rec, _ = do(t, r, http.MethodDelete, "/api/v1/selection/"+id, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSelection_MaxJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.MaxJobs = 1
	srv, r, _ := testServer(t, cfg)

	rec, body := do(t, r, http.MethodPost, "/api/v1/select", longSelectBody)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec, _ = do(t, r, http.MethodPost, "/api/v1/select", longSelectBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.NoError(t, srv.CancelSelection(body["selection_id"].(string)))
	rec, _ = do(t, r, http.MethodPost, "/api/v1/select", selectBody)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSelection_MaxJobsConcurrent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Selection.MaxJobs = 2
	srv, _, _ := testServer(t, cfg)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		started  []string
		statuses []int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var rf config.RunFile
			if err := json.Unmarshal([]byte(longSelectBody), &rf); err != nil {
				t.Error(err)
				return
			}
			job, err := srv.StartSelection(&rf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				statuses = append(statuses, apperrors.HTTPStatus(err))
				return
			}
			started = append(started, job.ID)
		}()
	}
	wg.Wait()

	assert.Len(t, started, 2)
	require.Len(t, statuses, callers-2)
	for _, status := range statuses {
		assert.Equal(t, http.StatusTooManyRequests, status)
	}
	for _, id := range started {
		require.NoError(t, srv.CancelSelection(id))
	}
}

func rpc(t *testing.T, r http.Handler, body string) map[string]interface{} {
	t.Helper()
	rec, out := do(t, r, http.MethodPost, "/rpc", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2.0", out["jsonrpc"])
	return out
}

func rpcErrorCode(out map[string]interface{}) float64 {
	e, ok := out["error"].(map[string]interface{})
	if !ok {
		return 0
	}
	return e["code"].(float64)
}

func TestJSONRPC_Errors(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	tests := []struct {
		name string
		body string
		code float64
	}{
		{"parse error", `{`, rpcParseError},
		{"wrong version", `{"jsonrpc": "1.0", "id": 1, "method": "selection.status"}`, rpcInvalidRequest},
		{"unknown method", `{"jsonrpc": "2.0", "id": 1, "method": "selection.run"}`, rpcMethodNotFound},
		{"missing id", `{"jsonrpc": "2.0", "id": 1, "method": "selection.status", "params": [{}]}`, rpcInvalidParams},
		{"missing params", `{"jsonrpc": "2.0", "id": 1, "method": "selection.cancel"}`, rpcInvalidParams},
		{"bad start params", `{"jsonrpc": "2.0", "id": 1, "method": "selection.start", "params": [42]}`, rpcInvalidParams},
		{"unknown selection", `{"jsonrpc": "2.0", "id": 1, "method": "selection.status", "params": [{"selection_id": "nope"}]}`, rpcServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := rpc(t, r, tt.body)
			assert.Equal(t, tt.code, rpcErrorCode(out))
		})
	}

	out := rpc(t, r, `{"jsonrpc": "2.0", "id": 9, "method": "selection.status", "params": [{"selection_id": "nope"}]}`)
	data := out["error"].(map[string]interface{})["data"].(map[string]interface{})
	assert.Equal(t, float64(http.StatusNotFound), data["status"])
	assert.Equal(t, 9.0, out["id"])
}

func TestJSONRPC_Selection(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	out := rpc(t, r, `{"jsonrpc": "2.0", "id": "a", "method": "selection.start", "params": [`+selectBody+`]}`)
	require.Zero(t, rpcErrorCode(out), out)
	id := out["result"].(map[string]interface{})["selection_id"].(string)

	require.Eventually(t, func() bool {
		out := rpc(t, r, `{"jsonrpc": "2.0", "id": "b", "method": "selection.status", "params": [{"selection_id": "`+id+`"}]}`)
		res, ok := out["result"].(map[string]interface{})
		return ok && res["status"] == string(StatusCompleted)
	}, 60*time.Second, 20*time.Millisecond)

	out = rpc(t, r, `{"jsonrpc": "2.0", "id": "c", "method": "selection.cancel", "params": [{"selection_id": "`+id+`"}]}`)
	assert.Equal(t, float64(rpcServerError), rpcErrorCode(out))

	out = rpc(t, r, `{"jsonrpc": "2.0", "id": "d", "method": "selection.start", "params": [`+longSelectBody+`]}`)
	long := out["result"].(map[string]interface{})["selection_id"].(string)
	out = rpc(t, r, `{"jsonrpc": "2.0", "id": "e", "method": "selection.cancel", "params": [{"selection_id": "`+long+`"}]}`)
	assert.Zero(t, rpcErrorCode(out))
	assert.Equal(t, "cancellation requested", out["result"].(map[string]interface{})["status"])
}

func TestMetrics(t *testing.T) {
	_, r, _ := testServer(t, testConfig(t))

	_, body := do(t, r, http.MethodPost, "/api/v1/select", selectBody)
	waitForStatus(t, r, body["selection_id"].(string), StatusCompleted)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	text := rec.Body.String()
	assert.Contains(t, text, `nsel_sampler_runs_total{outcome="success"} 2`)
	assert.Contains(t, text, `nsel_selection_jobs_total{status="completed"} 1`)
	assert.Contains(t, text, `nsel_sampler_log_evidence{model="linear"}`)
	assert.Contains(t, text, "nsel_sampler_run_duration_seconds_count 2")
	assert.Contains(t, text, "nsel_selection_active_jobs 0")
	assert.Contains(t, text, "go_goroutines")
}

func TestNumber_MarshalJSON(t *testing.T) {
	tests := map[string]Number{
		`1.5`:    1.5,
		`-4`:     -4,
		`"+Inf"`: Number(math.Inf(1)),
		`"-Inf"`: Number(math.Inf(-1)),
	}
	for want, n := range tests {
		got, err := json.Marshal(n)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}

	got, err := json.Marshal(map[string]Number{"x": Number(math.NaN())})
	require.NoError(t, err)
	assert.Equal(t, `{"x":"NaN"}`, string(got))
}
