package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"webproxy/internal/metrics"
)

func TestMetricsMiddleware_Labels(t *testing.T) {
	tests := []struct {
		name    string
		extra   []string
		method  string
		target  string
		handler echo.HandlerFunc
		route   string
		labels  []string // method, status_code, path_prefix
	}{
		{
			name:    "proxy path",
			method:  http.MethodGet,
			route:   "/proxy",
			target:  "/proxy?url=https://example.com/",
			handler: func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
			labels:  []string{"GET", "200", "/proxy"},
		},
		{
			name:    "http error status",
			method:  http.MethodGet,
			route:   "/proxy/*",
			target:  "/proxy/https://example.com/",
			handler: func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "not found") },
			labels:  []string{"GET", "404", "/proxy"},
		},
		{
			name:    "unknown method",
			method:  "PROPFIND",
			route:   "/proxy",
			target:  "/proxy",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusMultiStatus) },
			labels:  []string{"other", "207", "/proxy"},
		},
		{
			name:    "configured proxy path",
			extra:   []string{"/fetch"},
			method:  http.MethodGet,
			route:   "/fetch/*",
			target:  "/fetch/https://example.com/",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
			labels:  []string{"GET", "204", "/fetch"},
		},
		{
			name:    "stray path",
			method:  http.MethodGet,
			route:   "/*",
			target:  "/assets/app.js",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusTemporaryRedirect) },
			labels:  []string{"GET", "307", "other"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(tt.extra...)
			e := echo.New()
			e.Use(MetricsMiddleware(m))
			e.Add(tt.method, tt.route, tt.handler)

			e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(tt.method, tt.target, http.NoBody))

			if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues(tt.labels...)); got != 1 {
				t.Errorf("requests%v = %v, want 1", tt.labels, got)
			}
			if got := testutil.ToFloat64(m.RequestsInFlight); got != 0 {
				t.Errorf("in flight = %v, want 0", got)
			}
		})
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "webproxy_http_request_duration_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetHistogram().GetSampleCount() > 0 {
				return
			}
		}
	}
	t.Error("expected webproxy_http_request_duration_seconds with at least one sample")
}

func TestMetricsMiddleware_RouterNotFound(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nonexistent", http.NoBody))

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "404", "other")); got != 1 {
		t.Errorf("not found requests = %v, want 1", got)
	}
}

func TestMetricsMiddleware_ResponseBytes(t *testing.T) {
	m := metrics.New()

	e := echo.New()
	e.Use(MetricsMiddleware(m))
	e.GET("/proxy", func(c echo.Context) error {
		return c.String(http.StatusOK, "hello proxy")
	})

	for range 2 {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/proxy", http.NoBody))
	}

	if got := testutil.ToFloat64(m.ResponseBytes.WithLabelValues("/proxy")); got != 22 {
		t.Errorf("response bytes = %v, want 22", got)
	}
}

func TestMetricsMiddleware_Nil(t *testing.T) {
	e := echo.New()
	e.Use(MetricsMiddleware(nil))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
