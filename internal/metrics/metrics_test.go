package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_GathersMetrics(t *testing.T) {
	m := New()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	// Should include at least Go runtime and process collectors.
	if len(families) == 0 {
		t.Fatal("expected non-empty metric families from Gather()")
	}

	m.RequestsTotal.WithLabelValues("GET", "200", "/proxy").Inc()
	m.RewritesTotal.WithLabelValues("html").Inc()
	m.CacheLookups.WithLabelValues("hit").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"webproxy_http_requests_total": false,
		"webproxy_rewrites_total":      false,
		"webproxy_cache_lookups_total": false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected %s in gathered metrics", name)
		}
	}
}

func TestRateLimitRejections(t *testing.T) {
	m := New()
	m.RateLimitRejections.Inc()
	m.RateLimitRejections.Inc()

	if got := testutil.ToFloat64(m.RateLimitRejections); got != 2 {
		t.Errorf("rejections = %v, want 2", got)
	}
}

func TestNormalizeMethod(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{"GET", "GET"},
		{"POST", "POST"},
		{"PUT", "PUT"},
		{"DELETE", "DELETE"},
		{"PATCH", "PATCH"},
		{"HEAD", "HEAD"},
		{"OPTIONS", "OPTIONS"},
		{"FOOBAR", "other"},
		{"get", "other"},
		{"X-CUSTOM", "other"},
		{"", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got := NormalizeMethod(tt.method)
			if got != tt.want {
				t.Errorf("NormalizeMethod(%q) = %q, want %q", tt.method, got, tt.want)
			}
		})
	}
}

func TestPathLabel_Defaults(t *testing.T) {
	m := New()

	tests := []struct {
		path string
		want string
	}{
		{"/proxy", "/proxy"},
		{"/proxy/https://example.com/a", "/proxy"},
		{"/proxy?url=https%3A%2F%2Fexample.com", "/proxy"},
		{"/admin/purge", "/admin"},
		{"/healthz", "/healthz"},
		{"/status", "/status"},
		{"/metrics", "/metrics"},
		{"/proxyish", "other"},
		{"/static/app.js", "other"},
		{"/", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := m.PathLabel(tt.path)
			if got != tt.want {
				t.Errorf("PathLabel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestPathLabel_ExtraPrefixes(t *testing.T) {
	m := New("/p", "/internal/metrics", "", "/")

	tests := []struct {
		path string
		want string
	}{
		{"/p", "/p"},
		{"/p/https://example.com/", "/p"},
		{"/internal/metrics", "/internal/metrics"},
		{"/healthz", "/healthz"},
		{"/", "other"},
	}
	for _, tt := range tests {
		if got := m.PathLabel(tt.path); got != tt.want {
			t.Errorf("PathLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}

	if got := New().PathLabel("/p"); got != "other" {
		t.Errorf("PathLabel(%q) = %q, want %q (extras must not leak into other instances)", "/p", got, "other")
	}
}
