package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-core/internal/engine"
	"strategy-core/internal/events"
	"strategy-core/internal/monitor"
	"strategy-core/internal/scheduler"
	"strategy-core/internal/strategy"
	"strategy-core/pkg/db"
)

const testSecret = "test-secret"

type fakeEngine struct {
	strategies map[string]*db.Strategy
	activated  []string
	results    []db.JobResult
	activate   func(id string) (scheduler.ActivationResult, error)
}

var _ engine.Service = (*fakeEngine)(nil)

func (f *fakeEngine) Activate(_ context.Context, id string) (scheduler.ActivationResult, error) {
	f.activated = append(f.activated, id)
	if f.activate != nil {
		return f.activate(id)
	}
	return scheduler.ActivationResult{Accepted: true, Active: true, JobID: "job-1"}, nil
}

func (f *fakeEngine) Deactivate(context.Context, string) (scheduler.DeactivationResult, error) {
	return scheduler.DeactivationResult{Accepted: true}, nil
}

func (f *fakeEngine) GetStrategy(_ context.Context, id string) (*db.Strategy, error) {
	if s, ok := f.strategies[id]; ok {
		return s, nil
	}
	return nil, &db.PersistenceError{Op: "get strategy", Err: db.ErrNotFound}
}

func (f *fakeEngine) JobResults(_ context.Context, id string, limit int) ([]db.JobResult, error) {
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeEngine) Metrics(context.Context) monitor.Snapshot {
	return monitor.Snapshot{Jobs: monitor.JobCounts{Success: 3}}
}

func (f *fakeEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Mode: "paper", Version: "test"}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeEngine, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	eng := &fakeEngine{strategies: map[string]*db.Strategy{
		"s1":    {ID: "s1", OwnerID: "u1"},
		"s2":    {ID: "s2", OwnerID: "u2"},
		"other": {ID: "other", OwnerID: "u1"},
	}}
	bus := events.NewBus()
	srv := NewServer(eng, bus, testSecret, Options{}, nil)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts, eng, bus
}

func token(t *testing.T, uid string, ttl time.Duration) string {
	t.Helper()
	claims := UserClaims{
		UserID: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func do(t *testing.T, method, url, tok string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestActivateRequiresOwner(t *testing.T) {
	ts, eng, _ := newTestServer(t)
	url := ts.URL + "/api/strategies/s1/activate"

	var errBody struct{ Code string }
	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, url, "", &errBody))
	assert.Equal(t, "MISSING_TOKEN", errBody.Code)

	assert.Equal(t, http.StatusUnauthorized, do(t, http.MethodPost, url, token(t, "u1", -time.Minute), &errBody))
	assert.Equal(t, "INVALID_TOKEN", errBody.Code)

	assert.Equal(t, http.StatusForbidden, do(t, http.MethodPost, url, token(t, "u2", time.Hour), &errBody))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, ts.URL+"/api/strategies/nope/activate", token(t, "u1", time.Hour), &errBody))
	assert.Equal(t, "STRATEGY_NOT_FOUND", errBody.Code)
	assert.Empty(t, eng.activated)

	var res scheduler.ActivationResult
	assert.Equal(t, http.StatusAccepted, do(t, http.MethodPost, url, token(t, "u1", time.Hour), &res))
	assert.Equal(t, scheduler.ActivationResult{Accepted: true, Active: true, JobID: "job-1"}, res)
	assert.Equal(t, []string{"s1"}, eng.activated)
}

func TestActivateMapsEngineErrors(t *testing.T) {
	ts, eng, _ := newTestServer(t)
	tok := token(t, "u1", time.Hour)

	eng.activate = func(string) (scheduler.ActivationResult, error) {
		return scheduler.ActivationResult{}, &strategy.ValidationError{Field: "symbols", Reason: "must not be empty"}
	}
	var body struct{ Code, Field string }
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, ts.URL+"/api/strategies/s1/activate", tok, &body))
	assert.Equal(t, "INVALID_STRATEGY", body.Code)
	assert.Equal(t, "symbols", body.Field)

	eng.activate = func(string) (scheduler.ActivationResult, error) {
		return scheduler.ActivationResult{Active: true}, nil
	}
	var res scheduler.ActivationResult
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/strategies/s1/activate", tok, &res))
	assert.False(t, res.Accepted)
	assert.True(t, res.Active)
}

func TestDeactivateAndJobs(t *testing.T) {
	ts, eng, _ := newTestServer(t)
	tok := token(t, "u1", time.Hour)
	eng.results = []db.JobResult{
		{JobID: "j2", StrategyID: "s1", Status: db.JobSuccess, TradesExecuted: 1},
		{JobID: "j1", StrategyID: "s1", Status: db.JobSkipped},
	}

	var dres scheduler.DeactivationResult
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/strategies/s1/deactivate", tok, &dres))
	assert.True(t, dres.Accepted)
	assert.False(t, dres.Active)

	var jobs struct {
		StrategyID string         `json:"strategy_id"`
		Results    []db.JobResult `json:"results"`
	}
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/strategies/s1/jobs?limit=1", tok, &jobs))
	require.Len(t, jobs.Results, 1)
	assert.Equal(t, "j2", jobs.Results[0].JobID)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/api/strategies/s1/jobs?limit=x", tok, nil))
}

func TestPublicEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var health map[string]string
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/health", "", &health))
	assert.Equal(t, "ok", health["status"])

	var snap monitor.Snapshot
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/metrics", "", &snap))
	assert.Equal(t, uint64(3), snap.Jobs.Success)
}

func TestJobStreamFiltersByOwner(t *testing.T) {
	ts, _, bus := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/jobs?token=" + token(t, "u1", time.Hour)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// The subscription is registered after the upgrade; keep publishing
	// until the first owned result arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(10 * time.Millisecond):
				bus.Publish(events.EventJobCompleted, db.JobResult{JobID: "foreign", StrategyID: "s2", Status: db.JobSuccess})
				bus.Publish(events.EventJobCompleted, db.JobResult{JobID: "mine", StrategyID: "s1", Status: db.JobFailed, Error: "boom"})
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for i := 0; i < 3; i++ {
		var got db.JobResult
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, "mine", got.JobID, "results of other owners are filtered")
	}
}

func TestJobStreamRejectsMissingToken(t *testing.T) {
	ts, _, _ := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/jobs", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := NewServer(&fakeEngine{}, nil, testSecret, Options{RateLimit: 0.001, RateBurst: 2}, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		srv.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
