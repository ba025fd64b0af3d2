package target

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"https", "https://example.com/a?b=c", "https://example.com/a?b=c", false},
		{"http upper case scheme", "HTTP://example.com", "http://example.com", false},
		{"missing scheme", "example.com/page", "https://example.com/page", false},
		{"host with port", "localhost:8080/x", "https://localhost:8080/x", false},
		{"scheme relative", "//cdn.test/lib.js", "https://cdn.test/lib.js", false},
		{"scheme in query only", "example.com/?next=http://x", "https://example.com/?next=http://x", false},
		{"whitespace", "  https://example.com  ", "https://example.com", false},
		{"empty", "", "", true},
		{"ftp", "ftp://files.test/a", "", true},
		{"javascript", "javascript://alert(1)", "", true},
		{"no host", "https:///path", "", true},
		{"bad host", "https://exa mple.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTarget) {
					t.Errorf("Parse(%q) error = %v, want ErrInvalidTarget", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.raw, err)
			}
			if got.String() != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, got.String(), tt.want)
			}
		})
	}
}

func TestResolver_AllowList(t *testing.T) {
	r := NewResolver(" Example.com, cdn.test ,,")

	if !r.Restricted() {
		t.Fatal("Restricted() = false, want true")
	}
	for _, raw := range []string{"https://example.com/", "http://EXAMPLE.com:8080/x", "https://cdn.test/a.js"} {
		if _, err := r.Resolve(raw); err != nil {
			t.Errorf("Resolve(%q) error = %v, want nil", raw, err)
		}
	}
	for _, raw := range []string{"https://evil.test/", "https://sub.example.com/"} {
		if _, err := r.Resolve(raw); !errors.Is(err, ErrForbidden) {
			t.Errorf("Resolve(%q) error = %v, want ErrForbidden", raw, err)
		}
	}
}

func TestResolver_Unrestricted(t *testing.T) {
	r := NewResolver("")

	if r.Restricted() {
		t.Error("Restricted() = true, want false")
	}
	if _, err := r.Resolve("https://anything.test/"); err != nil {
		t.Errorf("Resolve error = %v, want nil", err)
	}
}

func TestResolver_FromPath(t *testing.T) {
	r := NewResolver("")

	tests := []struct {
		remainder string
		rawQuery  string
		want      string
	}{
		{"https://example.com/a/b", "", "https://example.com/a/b"},
		{"https:/example.com/a", "", "https://example.com/a"},
		{"https%3A%2F%2Fexample.com%2Fx", "", "https://example.com/x"},
		{"example.com/search", "q=go&page=2", "https://example.com/search?q=go&page=2"},
		{"https://example.com/s?a=1", "b=2", "https://example.com/s?a=1&b=2"},
	}
	for _, tt := range tests {
		got, err := r.FromPath(tt.remainder, tt.rawQuery)
		if err != nil {
			t.Errorf("FromPath(%q, %q) error: %v", tt.remainder, tt.rawQuery, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("FromPath(%q, %q) = %q, want %q", tt.remainder, tt.rawQuery, got.String(), tt.want)
		}
	}
}

func TestResolver_FromReferer(t *testing.T) {
	r := NewResolver("example.com")

	got, err := r.FromReferer("/img/logo.png", "v=3", "https://example.com/blog/post")
	if err != nil {
		t.Fatalf("FromReferer error: %v", err)
	}
	if want := "https://example.com/img/logo.png?v=3"; got.String() != want {
		t.Errorf("FromReferer = %q, want %q", got.String(), want)
	}

	if _, err := r.FromReferer("/x", "", "https://other.test/"); !errors.Is(err, ErrForbidden) {
		t.Errorf("FromReferer(other host) error = %v, want ErrForbidden", err)
	}
	if _, err := r.FromReferer("/x", "", ""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("FromReferer(empty) error = %v, want ErrInvalidTarget", err)
	}
}

func TestResolver_FromRequest(t *testing.T) {
	r := NewResolver("")

	got, err := r.FromRequest("https://a.test/x", "ignored.test/y", "q=1")
	if err != nil || got.String() != "https://a.test/x" {
		t.Errorf("FromRequest(query) = %v, %v; want https://a.test/x", got, err)
	}

	got, err = r.FromRequest("", "b.test/y", "q=1")
	if err != nil || got.String() != "https://b.test/y?q=1" {
		t.Errorf("FromRequest(path) = %v, %v; want https://b.test/y?q=1", got, err)
	}

	if _, err := r.FromRequest(" ", "", ""); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("FromRequest(empty) error = %v, want ErrInvalidTarget", err)
	}
}
