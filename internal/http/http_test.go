package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/secretkeeper/internal/health"
	"github.com/allisson/secretkeeper/internal/metrics"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stubReporter struct {
	report health.Report
	err    error
	calls  int
}

func (s *stubReporter) Health(context.Context) (health.Report, error) {
	s.calls++
	return s.report, s.err
}

func newTestServer(t *testing.T, reporter HealthReporter, cfg RouterConfig) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := NewServer(reporter, "localhost", 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	server.SetupRouter(ctx, cfg)
	return server
}

func serve(server *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	server.GetHandler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestServer_Healthz(t *testing.T) {
	server := newTestServer(t, nil, RouterConfig{})

	w := serve(server, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		reporter   HealthReporter
		wantStatus int
		validate   func(t *testing.T, body map[string]any)
	}{
		{
			name: "healthy",
			reporter: &stubReporter{report: health.Report{
				Healthy:    true,
				Components: map[string]string{"secret-store": "ok"},
			}},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, true, body["healthy"])
				assert.NotContains(t, body, "failing")
			},
		},
		{
			name: "unhealthy",
			reporter: &stubReporter{report: health.Report{
				Healthy:    false,
				Failing:    []string{"distributed-cache"},
				Components: map[string]string{"distributed-cache": "error: connection refused"},
			}},
			wantStatus: http.StatusServiceUnavailable,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["healthy"])
				assert.Equal(t, []any{"distributed-cache"}, body["failing"])
			},
		},
		{
			name:       "manager closed",
			reporter:   &stubReporter{err: errors.New("secrets manager is closed")},
			wantStatus: http.StatusServiceUnavailable,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["healthy"])
				assert.Equal(t, "secrets manager is closed", body["error"])
			},
		},
		{
			name:       "not configured",
			reporter:   nil,
			wantStatus: http.StatusServiceUnavailable,
			validate: func(t *testing.T, body map[string]any) {
				assert.Equal(t, false, body["healthy"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t, tt.reporter, RouterConfig{})

			w := serve(server, http.MethodGet, "/readyz")

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			tt.validate(t, body)
		})
	}
}

func TestServer_ReadyzRateLimited(t *testing.T) {
	reporter := &stubReporter{report: health.Report{Healthy: true}}
	server := newTestServer(t, reporter, RouterConfig{
		RateLimitEnabled:        true,
		RateLimitRequestsPerSec: 0.001,
		RateLimitBurst:          2,
	})

	assert.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz").Code)
	assert.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/readyz").Code)

	w := serve(server, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 2, reporter.calls)

	assert.Equal(t, http.StatusOK, serve(server, http.MethodGet, "/healthz").Code)
}

func TestServer_Metrics(t *testing.T) {
	provider, err := metrics.NewProvider("test_app")
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, provider.Shutdown(context.Background()))
	}()

	server := newTestServer(t, nil, RouterConfig{MetricsProvider: provider, MetricsNamespace: "test_app"})
	serve(server, http.MethodGet, "/healthz")

	w := serve(server, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "test_app_http_requests")
}

func TestServer_NoMetricsWhenDisabled(t *testing.T) {
	server := newTestServer(t, nil, RouterConfig{})

	assert.Equal(t, http.StatusNotFound, serve(server, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, serve(server, http.MethodGet, "/secrets/API_KEY").Code)
}

func TestServer_RequestID(t *testing.T) {
	server := newTestServer(t, nil, RouterConfig{})

	w := serve(server, http.MethodGet, "/healthz")

	requestID := w.Header().Get("X-Request-Id")
	parsed, err := uuid.Parse(requestID)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, parsed)
}

func TestServer_Recovery(t *testing.T) {
	server := newTestServer(t, nil, RouterConfig{})
	server.router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	assert.Equal(t, http.StatusInternalServerError, serve(server, http.MethodGet, "/panic").Code)
}

func TestServer_ShutdownGracefully(t *testing.T) {
	server := newTestServer(t, nil, RouterConfig{})

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(shutdownCtx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
