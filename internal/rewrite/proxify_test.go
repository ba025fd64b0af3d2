package rewrite

import (
	"net/url"
	"testing"
)

const testOrigin = "http://proxy.local"

func newTestOrigin(t *testing.T) *Origin {
	t.Helper()
	o, err := NewOrigin(testOrigin, "/proxy", "url")
	if err != nil {
		t.Fatalf("NewOrigin: %v", err)
	}
	return o
}

func newTestContext(t *testing.T, target string) *Context {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse %q: %v", target, err)
	}
	return NewContext(u, newTestOrigin(t), 0)
}

// proxied is the expected proxy URL for an absolute target.
func proxied(abs string) string {
	return testOrigin + "/proxy?url=" + url.QueryEscape(abs)
}

func TestNewOrigin_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		origin string
		param  string
	}{
		{"relative", "/proxy", "url"},
		{"ftp", "ftp://proxy.local", "url"},
		{"no host", "http://", "url"},
		{"empty param", "http://proxy.local", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewOrigin(tt.origin, "/proxy", tt.param); err == nil {
				t.Errorf("NewOrigin(%q, %q) = nil error, want error", tt.origin, tt.param)
			}
		})
	}
}

func TestProxify(t *testing.T) {
	o := newTestOrigin(t)
	base, _ := url.Parse("https://example.com/docs/page.html")

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"root relative", "/img/a.png", proxied("https://example.com/img/a.png")},
		{"document relative", "a.png", proxied("https://example.com/docs/a.png")},
		{"parent relative", "../up.css", proxied("https://example.com/up.css")},
		{"scheme relative", "//cdn.test/x.js", proxied("https://cdn.test/x.js")},
		{"absolute", "http://other.test/p?q=1&r=2", proxied("http://other.test/p?q=1&r=2")},
		{"fragment only", "#top", proxied("https://example.com/docs/page.html#top")},
		{"surrounding whitespace", "  /a  ", proxied("https://example.com/a")},
		{"empty", "", ""},
		{"blank", "   ", "   "},
		{"data", "data:image/png;base64,AAAA", "data:image/png;base64,AAAA"},
		{"javascript", "javascript:void(0)", "javascript:void(0)"},
		{"mailto upper case", "MAILTO:me@example.com", "MAILTO:me@example.com"},
		{"tel", "tel:+123", "tel:+123"},
		{"blob", "blob:https://example.com/uuid", "blob:https://example.com/uuid"},
		{"about", "about:blank", "about:blank"},
		{"already proxied", testOrigin + "/proxy?url=abc", testOrigin + "/proxy?url=abc"},
		{"proxy origin root", testOrigin + "/", testOrigin + "/"},
		{"lookalike host", "http://proxy.local.evil.test/x", proxied("http://proxy.local.evil.test/x")},
		{"unsupported scheme", "ftp://files.test/a", "ftp://files.test/a"},
		{"invalid escape", "%zz", "%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.Proxify(tt.ref, base)
			if got != tt.want {
				t.Errorf("Proxify(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}
}

func TestProxify_Idempotent(t *testing.T) {
	o := newTestOrigin(t)
	base, _ := url.Parse("https://example.com/docs/")

	for _, ref := range []string{"/a", "b/c?d=e", "https://x.test/#f", "//cdn.test/lib.js"} {
		once := o.Proxify(ref, base)
		twice := o.Proxify(once, base)
		if once != twice {
			t.Errorf("Proxify(Proxify(%q)) = %q, want %q", ref, twice, once)
		}
	}
}

func TestDeproxify_RoundTrip(t *testing.T) {
	o := newTestOrigin(t)
	base, _ := url.Parse("https://example.com/docs/page.html")

	for _, ref := range []string{"/a?x=1&y=%2F", "img/b.png", "https://other.test/p#frag", "#top"} {
		p := o.Proxify(ref, base)
		got, ok := o.Deproxify(p)
		if !ok {
			t.Fatalf("Deproxify(%q) reported not a proxy URL", p)
		}
		want, _ := base.Parse(ref)
		if got != want.String() {
			t.Errorf("Deproxify(Proxify(%q)) = %q, want %q", ref, got, want.String())
		}
	}
}

func TestProxifyPath(t *testing.T) {
	o := newTestOrigin(t)
	base, _ := url.Parse("https://example.com/docs/page.html?x=1")

	tests := []struct {
		ref  string
		want string
	}{
		{"/search?q=old#top", testOrigin + "/proxy/https://example.com/search"},
		{"find", testOrigin + "/proxy/https://example.com/docs/find"},
		{"https://other.test/go", testOrigin + "/proxy/https://other.test/go"},
		{"javascript:void(0)", "javascript:void(0)"},
		{testOrigin + "/proxy/https://a.test/", testOrigin + "/proxy/https://a.test/"},
	}
	for _, tt := range tests {
		if got := o.ProxifyPath(tt.ref, base); got != tt.want {
			t.Errorf("ProxifyPath(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
}

func TestDeproxify_PathForm(t *testing.T) {
	o := newTestOrigin(t)

	tests := []struct {
		raw  string
		want string
	}{
		{testOrigin + "/proxy/https://example.com/search?q=go", "https://example.com/search?q=go"},
		{testOrigin + "/proxy/https:/example.com/a", "https://example.com/a"},
		{testOrigin + "/proxy/http://example.com/", "http://example.com/"},
	}
	for _, tt := range tests {
		got, ok := o.Deproxify(tt.raw)
		if !ok || got != tt.want {
			t.Errorf("Deproxify(%q) = %q, %v; want %q, true", tt.raw, got, ok, tt.want)
		}
	}

	for _, raw := range []string{
		testOrigin + "/proxy/",
		testOrigin + "/proxy/ftp://example.com/",
		testOrigin + "/proxy/example.com",
	} {
		if got, ok := o.Deproxify(raw); ok {
			t.Errorf("Deproxify(%q) = %q, true; want false", raw, got)
		}
	}
}

func TestDeproxify_Foreign(t *testing.T) {
	o := newTestOrigin(t)

	for _, raw := range []string{
		"",
		"https://example.com/proxy?url=x",
		testOrigin + "/other?url=https%3A%2F%2Fa.test",
		testOrigin + "/proxy",
	} {
		if got, ok := o.Deproxify(raw); ok {
			t.Errorf("Deproxify(%q) = %q, true; want false", raw, got)
		}
	}
}

func TestLooksLikeURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://cdn.test/x.js", true},
		{"http://a", true},
		{"//cdn.test/x", true},
		{"/api/v1", true},
		{"/", false},
		{"//", false},
		{"///x", false},
		{"/* comment */", false},
		{"hello world", false},
		{"<div>", false},
		{"relative/path", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if got := looksLikeURL(tt.in); got != tt.want {
			t.Errorf("looksLikeURL(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
