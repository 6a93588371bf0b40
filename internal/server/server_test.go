package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/hyperopt/internal/config"
	"github.com/copyleftdev/hyperopt/internal/hyperopt"
	"github.com/copyleftdev/hyperopt/internal/logging"
	"github.com/copyleftdev/hyperopt/internal/metrics"
	"github.com/copyleftdev/hyperopt/internal/trials"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{
		Environment: "test",
	}

	// Set up HTTP config
	cfg.HTTP.Port = 8080
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.IdleTimeout = 120 * time.Second
	cfg.HTTP.ShutdownTimeout = 30 * time.Second

	// Set up logging
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stdout"

	// Set up search
	cfg.Search.DefaultStrategy = "random"
	cfg.Search.DefaultBudget = 7
	cfg.Search.OutputDir = t.TempDir()
	cfg.Search.DataDir = t.TempDir()
	cfg.Search.TrialLog = config.TrialLogJSONL
	cfg.Search.MaxSessions = 10

	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:  "debug",
		Format: "console",
		Output: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return logger
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	srv := NewServer(cfg, testLogger(t),
		WithZapLogger(logging.NewZapLogger(testLogger(t))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	t.Cleanup(func() { srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

const gridSpec = `{
	"strategy": "grid",
	"space": [
		{"name": "x", "type": "real", "low": -1, "high": 1, "num_samples": 5},
		{"name": "y", "type": "integer", "grid": [0, 2]}
	],
	"objective": {"builtin": "sphere"}
}`

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	// Test if routes are registered
	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/sessions", true},
		{"GET", "/api/v1/sessions", true},
		{"GET", "/api/v1/sessions/123", true},
		{"GET", "/api/v1/sessions/123/trials", true},
		{"POST", "/rpc", true},
		{"DELETE", "/api/v1/sessions/123", false}, // sessions cannot be cancelled
		{"GET", "/healthz", false},                // Not registered by server package
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := do(t, r, tt.method, tt.path, "{}")
			missing := rr.Code == http.StatusNotFound && !strings.Contains(rr.Body.String(), "session not found")
			missing = missing || rr.Code == http.StatusMethodNotAllowed
			assert.Equal(t, !tt.shouldExist, missing, "status %d", rr.Code)
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	cfg := testConfig(t)
	srv, r := newTestServer(t, cfg)

	rr := do(t, r, http.MethodPost, "/api/v1/sessions", gridSpec)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var started SessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)
	assert.Equal(t, "grid", started.Strategy)

	srv.Wait()

	rr = do(t, r, http.MethodGet, "/api/v1/sessions/"+started.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status SessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, string(hyperopt.StateCompleted), status.State)
	assert.Equal(t, 10, status.Trials)
	require.NotNil(t, status.Best)
	assert.Equal(t, 0.0, status.Best.Value)
	assert.Equal(t, 0.0, status.Best.Params["x"])
	assert.NotNil(t, status.EndTime)

	rr = do(t, r, http.MethodGet, "/api/v1/sessions/"+started.ID+"/trials", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []trials.Trial
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 10)
	assert.Equal(t, 9, got[9].Index)

	logged, err := trials.ReadJSONLFile(filepath.Join(cfg.Search.OutputDir, started.ID+".jsonl"), started.ID)
	require.NoError(t, err)
	assert.Len(t, logged, 10, "every trial is persisted")

	rr = do(t, r, http.MethodGet, "/api/v1/sessions", "")
	var list []SessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestStartSessionDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.TrialLog = config.TrialLogNone
	srv, r := newTestServer(t, cfg)

	rr := do(t, r, http.MethodPost, "/api/v1/sessions", `{
		"space": [{"name": "x", "type": "real", "low": 0, "high": 1}],
		"objective": {"builtin": "sin_tanh"},
		"options": {"random_state": 3}
	}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	var started SessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	assert.Equal(t, "random", started.Strategy)
	assert.Equal(t, 7, started.Budget)

	srv.Wait()
	sess, err := srv.session(started.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, sess.search.Tracker().Len())
	entries, err := os.ReadDir(cfg.Search.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no trial log is written")
}

func TestStartSessionErrors(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"strategy":`, http.StatusBadRequest},
		{"unknown field", `{"strategy":"grid","colour":1}`, http.StatusBadRequest},
		{"no space", `{"strategy":"grid","objective":{"builtin":"sphere"}}`, http.StatusBadRequest},
		{"unbounded grid", `{"strategy":"grid","space":[{"name":"x","type":"real","low":0,"high":1}],"objective":{"builtin":"sphere"}}`, http.StatusBadRequest},
		{"unknown builtin", `{"strategy":"tpe","space":[{"name":"x","type":"real","low":0,"high":1}],"objective":{"builtin":"ackley"}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			assert.Contains(t, rr.Body.String(), `"error"`)
		})
	}

	rr := do(t, r, http.MethodGet, "/api/v1/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStartSessionDatasetPaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.TrialLog = config.TrialLogNone
	srv, r := newTestServer(t, cfg)

	var b strings.Builder
	b.WriteString("x,y\n")
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "%d,%d\n", i, 2*i+1)
	}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Search.DataDir, "linear.csv"), []byte(b.String()), 0o644))
	outside := filepath.Join(t.TempDir(), "secret.csv")
	require.NoError(t, os.WriteFile(outside, []byte(b.String()), 0o644))

	pipeline := func(path string) string {
		return fmt.Sprintf(`{"strategy":"grid","space":[{"name":"alpha","type":"real","grid":[0.1,1]}],`+
			`"objective":{"pipeline":{"model":{"ridge":{}},"dataset":%q}}}`, path)
	}
	estimator := func(path string) string {
		return fmt.Sprintf(`{"strategy":"grid","space":[{"name":"alpha","type":"real","grid":[0.1,1]}],`+
			`"objective":{"estimator":{"model":{"ridge":{}},"dataset":%q,"folds":2}}}`, path)
	}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"inside data dir", pipeline("linear.csv"), http.StatusAccepted},
		{"absolute path", pipeline(outside), http.StatusBadRequest},
		{"parent directory", pipeline("../" + filepath.Base(filepath.Dir(outside)) + "/secret.csv"), http.StatusBadRequest},
		{"estimator escaping", estimator("sub/../../secret.csv"), http.StatusBadRequest},
		{"estimator absolute", estimator(outside), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, http.MethodPost, "/api/v1/sessions", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			if tt.code == http.StatusBadRequest {
				assert.Contains(t, rr.Body.String(), "data directory")
			}
		})
	}
	srv.Wait()
}

func TestReserveHoldsSlotUntilAdmitted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.MaxSessions = 1
	srv, _ := newTestServer(t, cfg)

	require.NoError(t, srv.reserve())
	assert.ErrorIs(t, srv.reserve(), errTooManySessions, "a slot being built counts against the limit")

	srv.admit(nil)
	require.NoError(t, srv.reserve(), "a released slot can be reserved again")
	srv.admit(nil)

	srv.sessionsMu.RLock()
	defer srv.sessionsMu.RUnlock()
	assert.Zero(t, srv.reserved)
	assert.Empty(t, srv.sessions)
}

func TestSessionLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.MaxSessions = 1
	srv, r := newTestServer(t, cfg)

	rr := do(t, r, http.MethodPost, "/api/v1/sessions", gridSpec)
	require.Equal(t, http.StatusAccepted, rr.Code)
	srv.Wait()

	// A finished session is evicted to make room.
	rr = do(t, r, http.MethodPost, "/api/v1/sessions", gridSpec)
	require.Equal(t, http.StatusAccepted, rr.Code)
	srv.Wait()
	srv.sessionsMu.RLock()
	assert.Len(t, srv.sessions, 1)
	srv.sessionsMu.RUnlock()

	// A session that has not finished is never evicted.
	spec, err := hyperopt.DecodeSpec(strings.NewReader(gridSpec), "json")
	require.NoError(t, err)
	hcfg, err := spec.Build("")
	require.NoError(t, err)
	pending, err := hyperopt.New(hcfg)
	require.NoError(t, err)
	srv.sessionsMu.Lock()
	srv.sessions = map[string]*Session{"pending": {ID: "pending", StartTime: time.Now(), search: pending}}
	srv.sessionsMu.Unlock()

	rr = do(t, r, http.MethodPost, "/api/v1/sessions", gridSpec)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func rpc(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestJSONRPC(t *testing.T) {
	srv, r := newTestServer(t, testConfig(t))

	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(gridSpec), &spec))
	resp := rpc(t, r, "session.start", spec)
	require.Nil(t, resp["error"])
	id := resp["result"].(map[string]interface{})["session_id"].(string)
	srv.Wait()

	resp = rpc(t, r, "session.status", map[string]string{"session_id": id})
	require.Nil(t, resp["error"])
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "completed", result["state"])
	assert.Equal(t, 10.0, result["trials"])

	resp = rpc(t, r, "session.trials", map[string]string{"session_id": id})
	require.Nil(t, resp["error"])
	assert.Len(t, resp["result"], 10)

	tests := []struct {
		name   string
		method string
		params []interface{}
		code   float64
	}{
		{"unknown method", "session.cancel", nil, rpcMethodNotFound},
		{"missing params", "session.status", nil, rpcInvalidParams},
		{"missing id", "session.status", []interface{}{map[string]string{}}, rpcInvalidParams},
		{"unknown session", "session.trials", []interface{}{map[string]string{"session_id": "nope"}}, rpcServerError},
		{"bad spec", "session.start", []interface{}{map[string]string{"strategy": "grid"}}, rpcServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpc(t, r, tt.method, tt.params...)
			rpcErr, ok := resp["error"].(map[string]interface{})
			require.True(t, ok, "expected an error response")
			assert.Equal(t, tt.code, rpcErr["code"])
		})
	}
}

func TestJSONRPCEnvelope(t *testing.T) {
	_, r := newTestServer(t, testConfig(t))

	rr := do(t, r, http.MethodPost, "/rpc", `{"jsonrpc":`)
	assert.Contains(t, rr.Body.String(), `"code":-32700`)

	rr = do(t, r, http.MethodPost, "/rpc", `{"jsonrpc":"1.0","method":"session.status","id":4}`)
	assert.Contains(t, rr.Body.String(), `"code":-32600`)
}

func TestClose(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NoError(t, srv.Close(), "Close should not return an error")
}
