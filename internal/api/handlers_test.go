package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeopt/internal/apperr"
	"routeopt/internal/config"
	"routeopt/internal/engine"
	"routeopt/internal/metrics"
	"routeopt/internal/model"
	"routeopt/internal/store"
)

const optimizeBody = `{
  "locations": [
    {"id": "a1", "point": {"lat": 33.45, "lng": -112.07}, "demand": 10},
    {"id": "a2", "point": {"lat": 33.46, "lng": -112.05}, "demand": 10},
    {"id": "b1", "point": {"lat": 33.42, "lng": -111.55}, "demand": 10},
    {"id": "b2", "point": {"lat": 33.43, "lng": -111.53}, "demand": 10}
  ],
  "vehicles": [
    {"id": "west", "capacity": 100, "costPerKm": 0.8, "start": {"lat": 33.45, "lng": -112.08}},
    {"id": "east", "capacity": 100, "costPerKm": 0.8, "start": {"lat": 33.42, "lng": -111.54}}
  ],
  "constraints": {"capacity": true}
}`

func testConfig() *config.OptimizationConfig {
	cfg := config.Default()
	cfg.MaxCompute = 5 * time.Second
	cfg.GracePeriod = 50 * time.Millisecond
	cfg.GAPopulation = 12
	cfg.GAGenerations = 10
	cfg.SAMaxIterations = 500
	cfg.ACOAnts = 3
	cfg.ACOIterations = 5
	cfg.ALNSIterations = 20
	cfg.LocalSearchMaxIters = 50
	cfg.FleetSaaSToken = "secret-token"
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := testConfig()
	runs := store.NewMemory()
	eng := engine.New(cfg, engine.Deps{Runs: runs})
	return NewServer(cfg, Deps{Engine: eng, Runs: runs})
}

// fakeOptimizer fails every call with err.
type fakeOptimizer struct{ err error }

func (f fakeOptimizer) Optimize(ctx context.Context, req *model.OptimizationRequest, opts ...engine.Option) (*model.OptimizationResult, error) {
	return nil, f.err
}

func (f fakeOptimizer) Solvers() []engine.SolverInfo { return nil }

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeProblem(t *testing.T, rr *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, rr.Code, p.Status)
	return p
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	s.Checks["cache"] = failingPinger{}
	rr := do(t, h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, decodeProblem(t, rr).Detail, "cache")
}

func TestOptimizeAndFetchRun(t *testing.T) {
	s := newTestServer(t)
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/v1/optimize", optimizeBody)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(HeaderRequestID))
	var res model.OptimizationResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Empty(t, res.Unassigned)
	assert.NotEmpty(t, res.Metadata.Algorithm)
	require.NotEmpty(t, res.Metadata.RunID)

	rr = do(t, h, http.MethodGet, "/v1/runs/"+res.Metadata.RunID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got struct {
		Run        store.Run                `json:"run"`
		Candidates []store.CandidateMetrics `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, store.StatusSucceeded, got.Run.Status)
	assert.Equal(t, res.Metadata.Algorithm, got.Run.Algorithm)
	assert.Len(t, got.Candidates, 4)

	rr = do(t, h, http.MethodGet, "/v1/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var page struct {
		Items []store.Run `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.Items[0].Result)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/runs/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/runs?limit=-1", "").Code)
}

func TestOptimizeRejectsBadInput(t *testing.T) {
	h := newTestServer(t).Routes()

	rr := do(t, h, http.MethodPost, "/v1/optimize", `{"locations": [`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperr.KindInvalidInput, decodeProblem(t, rr).Kind)

	bad := strings.Replace(optimizeBody, `"lat": 33.46`, `"lat": 123.4`, 1)
	rr = do(t, h, http.MethodPost, "/v1/optimize", bad)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, apperr.KindInvalidLocation, decodeProblem(t, rr).Kind)

	rr = do(t, h, http.MethodPost, "/v1/optimize?strategy=fastest", optimizeBody)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeProblem(t, rr).Detail, "fastest")

	rr = do(t, h, http.MethodPost, "/v1/optimize?async=maybe", optimizeBody)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/optimize", "").Code)
}

func TestOptimizeMapsEngineFailuresToProblems(t *testing.T) {
	cfg := testConfig()
	causes := []apperr.Cause{{Source: "ga", Reason: "boom"}, {Source: "fleetsaas", Reason: "not configured"}}
	s := NewServer(cfg, Deps{Engine: fakeOptimizer{err: apperr.AllCandidatesFailed(causes)}})
	h := s.Routes()

	rr := do(t, h, http.MethodPost, "/v1/optimize", optimizeBody)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	p := decodeProblem(t, rr)
	assert.Equal(t, apperr.KindAllCandidatesFailed, p.Kind)
	assert.Equal(t, causes, p.Causes)
	assert.NotEmpty(t, p.RequestID)

	s.Engine = fakeOptimizer{err: apperr.ComputeTimeout("engine", time.Second)}
	rr = do(t, h, http.MethodPost, "/v1/optimize", optimizeBody)
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)

	s.Engine = fakeOptimizer{err: errors.New("disk on fire")}
	rr = do(t, h, http.MethodPost, "/v1/optimize", optimizeBody)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, decodeProblem(t, rr).Detail, "disk on fire")
}

func TestAsyncOptimizeStreamsEvents(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/optimize?async=true&nocache=true", "application/json", strings.NewReader(optimizeBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		RunID string            `json:"runId"`
		Links map[string]string `json:"links"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.RunID)
	assert.Equal(t, "/v1/runs/"+accepted.RunID, resp.Header.Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+accepted.Links["events"], nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	var last engine.Event
	sc := bufio.NewScanner(stream.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") || strings.Contains(line, `"ts"`) {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &last))
	}
	assert.Equal(t, engine.EventRunCompleted, last.Type)
	assert.Equal(t, accepted.RunID, last.RunID)

	require.NoError(t, s.Shutdown(ctx))
	run, err := s.Runs.GetRun(ctx, accepted.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, run.Status)
}

func TestRunEventsForFinishedRunReplaysTerminalEvent(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	require.NoError(t, s.Runs.SaveRun(context.Background(), store.Run{
		ID: "done", Strategy: config.StrategyHybridAll, Status: store.StatusFailed,
		Error: "ALL_CANDIDATES_FAILED", CreatedAt: now.Add(-time.Second), FinishedAt: &now,
	}))

	rr := do(t, s.Routes(), http.MethodGet, "/v1/runs/done/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "event: run.failed\n")
	assert.Contains(t, body, "ALL_CANDIDATES_FAILED")

	assert.Equal(t, http.StatusNotFound, do(t, s.Routes(), http.MethodGet, "/v1/runs/missing/events", "").Code)
}

func TestOptimizerConfigRedactsSecrets(t *testing.T) {
	rr := do(t, newTestServer(t).Routes(), http.MethodGet, "/v1/optimizer/config", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "secret-token")
	var body struct {
		Config  map[string]any       `json:"config"`
		Solvers []engine.SolverInfo `json:"solvers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Solvers, 4)
}

func TestWebSocketOptimize(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/optimize/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "connection_init"}))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connection_ack", msg.Type)

	payload := []byte(`{"request":` + optimizeBody + `,"strategy":"single-local"}`)
	require.NoError(t, conn.WriteJSON(wsMessage{Type: "optimize", ID: "op1", Payload: payload}))

	var progress int
	var res model.OptimizationResult
	for {
		var m wsMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == "ping" {
			continue
		}
		assert.Equal(t, "op1", m.ID)
		switch m.Type {
		case "progress":
			progress++
		case "result":
			require.NoError(t, json.Unmarshal(m.Payload, &res))
		case "error":
			t.Fatalf("unexpected error: %s", m.Payload)
		}
		if m.Type == "complete" {
			break
		}
	}
	assert.GreaterOrEqual(t, progress, 3)
	assert.Equal(t, "ga", res.Metadata.Algorithm)

	require.NoError(t, conn.WriteJSON(wsMessage{Type: "optimize", ID: "op2", Payload: []byte(`{"strategy":"single-local"}`)}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	var p Problem
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	assert.Equal(t, http.StatusBadRequest, p.Status)
}

func TestMetricsAndDocs(t *testing.T) {
	metrics.RegisterDefault()
	h := newTestServer(t).Routes()
	do(t, h, http.MethodGet, "/healthz", "")

	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{method="GET",path="GET /healthz",status="200"}`)

	rr = do(t, h, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Contains(t, doc["paths"], "/v1/optimize")

	assert.True(t, bytes.HasPrefix(do(t, h, http.MethodGet, "/openapi.yaml", "").Body.Bytes(), []byte("openapi:")))
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/debug", "").Code)
}
