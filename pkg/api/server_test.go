package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/storage"
	"github.com/edgemesh/edgemesh/pkg/types"
)

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv    *Server
	repo   *repository.Repository
	broker *events.Broker
	clk    *fakeClock
	h      http.Handler
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store, err := storage.Open(filepath.Join(t.TempDir(), "coordinator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Migrate(context.Background())
	require.NoError(t, err)

	broker := events.NewBroker()
	repo := repository.New(store, broker, repository.Options{
		StaleAfter:    15 * time.Second,
		OfflineAfter:  60 * time.Second,
		LeaseDuration: 30 * time.Second,
	})
	clk := &fakeClock{now: testBase}
	repo.SetClock(clk.Now)

	srv := NewServer(store, repo, broker, opts)
	return &testEnv{srv: srv, repo: repo, broker: broker, clk: clk, h: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	return e.doWithHeaders(t, method, path, body, nil)
}

func (e *testEnv) doWithHeaders(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), "body: %s", rec.Body.String())
}

func errorKind(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error apiError `json:"error"`
	}
	decodeBody(t, rec, &envelope)
	return envelope.Error.Kind
}

func (e *testEnv) registerNode(t *testing.T, id string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/agent/register", types.RegisterRequest{
		NodeID:      id,
		DisplayName: "Node " + id,
		IP:          "192.168.1.10",
		Port:        8001,
		Capabilities: types.NodeCapabilities{
			CPUThreads: 8,
			RAMTotalGB: 16,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *testEnv) heartbeat(t *testing.T, id string, runningJobs int) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/agent/heartbeat", types.HeartbeatRequest{
		NodeID: id,
		Metrics: types.NodeMetrics{
			CPUPercent:  20,
			RAMUsedGB:   4,
			RAMPercent:  25,
			RunningJobs: runningJobs,
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, path := range []string{"/health", "/api/health"} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Equal(t, "ok", body["status"], path)
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t, Options{})

	// The live storage ping registers itself, but the other critical
	// components have not come up yet.
	rec := env.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var notReady metrics.HealthStatus
	decodeBody(t, rec, &notReady)
	assert.Equal(t, "not_ready", notReady.Status)
	assert.Equal(t, "ready", notReady.Components["storage"])

	metrics.RegisterComponent("monitors", true, "")
	metrics.RegisterComponent("api", true, "")

	rec = env.do(t, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ready metrics.HealthStatus
	decodeBody(t, rec, &ready)
	assert.Equal(t, "ready", ready.Status)
}

func TestSharedSecretGate(t *testing.T) {
	env := newTestEnv(t, Options{SharedSecret: "s3cret"})
	register := types.RegisterRequest{
		NodeID:      "mac-mini-01",
		DisplayName: "Mac Mini",
		IP:          "192.168.1.10",
		Port:        8001,
	}

	rec := env.do(t, http.MethodPost, "/v1/agent/register", register)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, kindUnauthorized, errorKind(t, rec))

	rec = env.doWithHeaders(t, http.MethodPost, "/v1/agent/register", register,
		map[string]string{secretHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var envelope struct {
		Error apiError `json:"error"`
	}
	decodeBody(t, rec, &envelope)
	assert.Equal(t, "Invalid or missing shared secret", envelope.Error.Message)

	rec = env.doWithHeaders(t, http.MethodPost, "/v1/agent/register", register,
		map[string]string{secretHeader: "s3cret"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Task routes sit behind the same gate.
	rec = env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "mac-mini-01"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.doWithHeaders(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "mac-mini-01"},
		map[string]string{secretHeader: "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Read-only routes stay open.
	rec = env.do(t, http.MethodGet, "/v1/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSecretGateDisabledWhenEmpty(t *testing.T) {
	env := newTestEnv(t, Options{})

	env.registerNode(t, "open-node")

	rec := env.do(t, http.MethodPost, "/v1/tasks/pull", types.PullRequest{NodeID: "open-node"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, Options{CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/v1/nodes", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), secretHeader)

	// Unknown origins get no CORS grant.
	req = httptest.NewRequest(http.MethodGet, "/v1/nodes", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	env.h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
