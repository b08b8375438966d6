package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/basequiz/internal/api"
	"github.com/mcoot/basequiz/internal/api/response"
	"github.com/mcoot/basequiz/internal/factory"
	"github.com/mcoot/basequiz/internal/metrics"
	"github.com/mcoot/basequiz/internal/services/cleanup"
	"github.com/mcoot/basequiz/internal/testutil"
)

type panicking struct{}

func (panicking) Running() bool { return true }
func (panicking) RunCycle(ctx context.Context) cleanup.CycleOutcome {
	panic("boom")
}

type RouterSuite struct {
	suite.Suite
	app      *factory.TestApp
	registry *prometheus.Registry
	handler  http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.app = factory.NewTestApp()
	s.registry = prometheus.NewRegistry()
	s.app.Metrics = metrics.NewWithRegistry(s.registry)
	// Rebuild the scheduler so cycles land in this registry
	s.app.Cleanup = cleanup.New(s.app.Lock, s.app.Reaper, nil, cleanup.Config{Interval: time.Hour}, s.app.Metrics, testutil.NopLogger())
	s.app.Conn.Auth("peer")

	s.handler = api.NewRouter(api.RouterConfig{
		Logger:   testutil.NopLogger(),
		Presence: s.app.Presence,
		Cleanup:  s.app.Cleanup,
		Lock:     s.app.Lock,
		Gatherer: s.registry,
	})
}

func (s *RouterSuite) TearDownTest() {
	_ = s.app.Close()
}

func (s *RouterSuite) request(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), v))
}

func (s *RouterSuite) TestHealthzConnected() {
	rec := s.request(http.MethodGet, "/healthz")
	s.Equal(http.StatusOK, rec.Code)

	var body api.HealthResult
	s.decode(rec, &body)
	s.Equal(api.HealthResult{Status: "ok", Connected: true}, body)
}

func (s *RouterSuite) TestHealthzOffline() {
	s.app.Conn.Disconnect()

	rec := s.request(http.MethodGet, "/healthz")
	s.Equal(http.StatusServiceUnavailable, rec.Code)

	var body api.HealthResult
	s.decode(rec, &body)
	s.Equal("offline", body.Status)
	s.False(body.Connected)
}

func (s *RouterSuite) TestRunCycleAndMetrics() {
	s.app.MockRandom.QueueString("ownertag")

	rec := s.request(http.MethodPost, "/v1/cleanup/run")
	s.Equal(http.StatusOK, rec.Code)
	var result api.CycleResult
	s.decode(rec, &result)
	s.Equal(cleanup.OutcomeCompleted, result.Outcome)

	rec = s.request(http.MethodGet, "/metrics")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `basequiz_cleanup_cycles_total{outcome="completed"} 1`)
}

func (s *RouterSuite) TestCleanupStatus() {
	rec := s.request(http.MethodGet, "/v1/cleanup")
	s.Equal(http.StatusOK, rec.Code)

	var status api.CleanupStatus
	s.decode(rec, &status)
	s.False(status.Running)
	s.Empty(status.LockOwner)
}

func (s *RouterSuite) TestWrongMethodIsRejected() {
	rec := s.request(http.MethodGet, "/v1/cleanup/run")
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
}

func (s *RouterSuite) TestUnknownPathIsJSON404() {
	rec := s.request(http.MethodGet, "/nope")
	s.Equal(http.StatusNotFound, rec.Code)

	var body response.ErrorBody
	s.decode(rec, &body)
	s.Equal(response.CodeNotFound, body.Error.Code)
}

func (s *RouterSuite) TestPanicBecomes500() {
	handler := api.NewRouter(api.RouterConfig{
		Logger:   testutil.NopLogger(),
		Presence: s.app.Presence,
		Cleanup:  panicking{},
		Lock:     s.app.Lock,
		Gatherer: s.registry,
	})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cleanup/run", nil))

	s.Equal(http.StatusInternalServerError, rec.Code)
	s.True(strings.Contains(rec.Body.String(), response.CodeInternalError))
}

func (s *RouterSuite) TestServerServesAndShutsDown() {
	cfg := api.DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	server := api.NewServer(s.handler, cfg, testutil.NopLogger())
	s.Require().NoError(server.Listen())

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve() }()

	resp, err := http.Get("http://" + server.Addr() + "/healthz")
	s.Require().NoError(err)
	_ = resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.Require().NoError(server.Shutdown(context.Background()))
	s.NoError(<-errCh)
}
