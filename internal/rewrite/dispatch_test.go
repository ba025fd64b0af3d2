package rewrite

import (
	"bytes"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		contentType string
		path        string
		want        Kind
	}{
		{"text/html; charset=utf-8", "/", HTML},
		{"application/xhtml+xml", "/page", HTML},
		{"TEXT/CSS", "/x", CSS},
		{"application/javascript", "/x", JS},
		{"text/javascript;charset=UTF-8", "/x", JS},
		{"application/json", "/api", JSON},
		{"application/manifest+json", "/site.webmanifest", JSON},
		{"image/png", "/a.css", Passthrough},
		{"font/woff2", "/f.woff2", Passthrough},
		{"", "/static/app.mjs", JS},
		{"", "/static/site.CSS", CSS},
		{"text/plain", "/data.json", JSON},
		{"application/octet-stream", "/bundle.js", JS},
		{"", "/index.html", HTML},
		{"", "/blob", Passthrough},
		{"text/plain", "/readme.txt", Passthrough},
		{"not a / valid;;type", "/x.js", Passthrough},
	}

	for _, tt := range tests {
		t.Run(tt.contentType+" "+tt.path, func(t *testing.T) {
			if got := Classify(tt.contentType, tt.path); got != tt.want {
				t.Errorf("Classify(%q, %q) = %s, want %s", tt.contentType, tt.path, got, tt.want)
			}
		})
	}
}

func TestStream_Passthrough(t *testing.T) {
	rc := newTestContext(t, "https://example.com/")
	body := "\x89PNG binary url(/x) fetch(\"/y\")"

	var out bytes.Buffer
	if err := Stream(Passthrough, &out, strings.NewReader(body), rc); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if out.String() != body {
		t.Errorf("Stream(Passthrough) = %q, want %q", out.String(), body)
	}
}

func TestStream_Buffered(t *testing.T) {
	rc := newTestContext(t, "https://example.com/")

	var out bytes.Buffer
	if err := Stream(CSS, &out, strings.NewReader("a{background:url(/x.png)}"), rc); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := "a{background:url(" + proxied("https://example.com/x.png") + ")}"
	if out.String() != want {
		t.Errorf("Stream(CSS) = %q, want %q", out.String(), want)
	}
}

func TestStream_OverLimitPassesThrough(t *testing.T) {
	rc := newTestContext(t, "https://example.com/")
	rc.MaxBytes = 20
	body := `fetch("/api/one"); fetch("/api/two"); fetch("/api/three");`

	for _, kind := range []Kind{CSS, JS, JSON} {
		var out bytes.Buffer
		if err := Stream(kind, &out, strings.NewReader(body), rc); err != nil {
			t.Fatalf("Stream(%s): %v", kind, err)
		}
		if out.String() != body {
			t.Errorf("Stream(%s) over limit = %q, want unchanged", kind, out.String())
		}
	}
}

func TestStream_HTML(t *testing.T) {
	rc := newTestContext(t, "https://example.com/")

	var out bytes.Buffer
	if err := Stream(HTML, &out, strings.NewReader(`<a href="/x">x</a>`), rc); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := `<a href="` + proxied("https://example.com/x") + `">x</a>`
	if out.String() != want {
		t.Errorf("Stream(HTML) = %q, want %q", out.String(), want)
	}
}
