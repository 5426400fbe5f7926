package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auto-fib/internal/indicator/autofib"
	"github.com/auto-fib/internal/metrics"
	"github.com/auto-fib/internal/services"
	"github.com/auto-fib/pkg/config"
	"github.com/auto-fib/pkg/models"
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

type emptySource struct{}

func (emptySource) Name() string { return "empty" }

func (emptySource) FetchBars(ctx context.Context, req models.BarRequest) ([]models.Bar, error) {
	return nil, nil
}

func newTestServer(t *testing.T, env map[string]string, deps Deps) *Server {
	t.Helper()

	cfg, err := config.LoadWithLookuper(context.Background(), envconfig.MapLookuper(env))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	m := metrics.New()
	deps.Metrics = m
	deps.Engine = autofib.DefaultConfig()
	deps.Analyzer = services.NewAnalyzer(autofib.New(deps.Engine), emptySource{}, services.AnalyzerConfig{
		Interval: "5m",
		Limit:    100,
		Timeout:  time.Second,
	}, m, logger)

	return NewServer(cfg, deps, logger)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		s := newTestServer(t, nil, Deps{Checks: map[string]HealthChecker{
			"redis": checkFunc(func(ctx context.Context) error { return nil }),
		}})

		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var health models.HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "healthy", health.Services["redis"].Status)
		assert.Equal(t, Version, health.Version)
	})

	t.Run("degraded", func(t *testing.T) {
		s := newTestServer(t, nil, Deps{Checks: map[string]HealthChecker{
			"redis": checkFunc(func(ctx context.Context) error { return nil }),
			"mysql": checkFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
		}})

		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var health models.HealthStatus
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, "degraded", health.Status)
		assert.Equal(t, "connection refused", health.Services["mysql"].Error)
	})
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	// a failed analysis shows up in the exported counters
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/fibonacci/AAPL", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `outcome="insufficient_data"`)
}

func TestMetricsDisabled(t *testing.T) {
	s := newTestServer(t, map[string]string{"MONITORING_METRICS_ENABLED": "false"}, Deps{})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebSocketWithoutHub(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, nil, Deps{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStopBeforeStart(t *testing.T) {
	s := newTestServer(t, nil, Deps{})
	assert.NoError(t, s.Stop(context.Background()))
}
