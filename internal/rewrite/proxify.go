// Package rewrite turns upstream URLs into proxy URLs and rewrites the
// references embedded in HTML, CSS, JavaScript and JSON documents.
package rewrite

import (
	"fmt"
	"net/url"
	"strings"
)

// excludedSchemes are never routed through the proxy.
var excludedSchemes = []string{
	"data:",
	"blob:",
	"about:",
	"mailto:",
	"javascript:",
	"tel:",
}

// Origin encodes absolute URLs as URLs addressed at the proxy and back.
type Origin struct {
	origin   string
	path     string
	param    string
	endpoint string
}

// NewOrigin builds an Origin for the given scheme://host, proxy endpoint
// path and target query parameter.
func NewOrigin(origin, path, param string) (*Origin, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, fmt.Errorf("parse proxy origin: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("proxy origin %q must be an absolute http(s) URL", origin)
	}
	if param == "" {
		return nil, fmt.Errorf("proxy target parameter must not be empty")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	base := scheme + "://" + strings.ToLower(u.Host)
	return &Origin{
		origin:   base,
		path:     path,
		param:    param,
		endpoint: base + path + "?" + url.QueryEscape(param) + "=",
	}, nil
}

// String returns the scheme://host of the proxy.
func (o *Origin) String() string { return o.origin }

// Proxify resolves ref against base and returns the proxy URL that fetches
// it. References that cannot be proxied come back unchanged: empty values,
// excluded schemes, non-http(s) results, unparsable input and URLs that
// already point at the proxy.
func (o *Origin) Proxify(ref string, base *url.URL) string {
	resolved, ok := o.resolve(ref, base)
	if !ok {
		return ref
	}
	return o.endpoint + url.QueryEscape(resolved.String())
}

// ProxifyPath is Proxify for GET form actions. A browser replaces the query
// of a GET action with the form fields, so the target travels in the path
// as <origin><path>/<absolute URL> and its own query is dropped.
func (o *Origin) ProxifyPath(ref string, base *url.URL) string {
	resolved, ok := o.resolve(ref, base)
	if !ok {
		return ref
	}
	resolved.RawQuery = ""
	resolved.ForceQuery = false
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return o.origin + o.path + "/" + resolved.String()
}

func (o *Origin) resolve(ref string, base *url.URL) (*url.URL, bool) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" || IsExcluded(trimmed) || o.owns(trimmed) {
		return nil, false
	}

	var (
		resolved *url.URL
		err      error
	)
	if base != nil {
		resolved, err = base.Parse(trimmed)
	} else {
		resolved, err = url.Parse(trimmed)
	}
	if err != nil || resolved.Host == "" {
		return nil, false
	}
	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return nil, false
	}
	if o.owns(resolved.String()) {
		return nil, false
	}
	return resolved, true
}

// Deproxify extracts the target URL from a proxy URL in either the query
// form or the path form. The boolean is false when raw does not address
// this proxy's endpoint.
func (o *Origin) Deproxify(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if !o.owns(raw) {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Path == o.path {
		t := u.Query().Get(o.param)
		return t, t != ""
	}

	rest, ok := strings.CutPrefix(u.Path, o.path+"/")
	if !ok {
		return "", false
	}
	rest = repairScheme(rest)
	t, err := url.Parse(rest)
	if err != nil || t.Host == "" || (t.Scheme != "http" && t.Scheme != "https") {
		return "", false
	}
	t.RawQuery = u.RawQuery
	return t.String(), true
}

// repairScheme restores the second slash of "https:/host", which some
// clients collapse inside a path.
func repairScheme(s string) string {
	for _, scheme := range []string{"http:/", "https:/"} {
		if len(s) > len(scheme) && strings.EqualFold(s[:len(scheme)], scheme) && s[len(scheme)] != '/' {
			return s[:len(scheme)] + "/" + s[len(scheme):]
		}
	}
	return s
}

// IsProxied reports whether raw already addresses the proxy origin.
func (o *Origin) IsProxied(raw string) bool {
	return o.owns(strings.TrimSpace(raw))
}

// owns reports whether s starts with the proxy origin on a host boundary.
func (o *Origin) owns(s string) bool {
	if len(s) < len(o.origin) || !strings.EqualFold(s[:len(o.origin)], o.origin) {
		return false
	}
	if len(s) == len(o.origin) {
		return true
	}
	switch s[len(o.origin)] {
	case '/', '?', '#':
		return true
	}
	return false
}

// IsExcluded reports whether ref uses a scheme the proxy never rewrites.
func IsExcluded(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	for _, scheme := range excludedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// Context carries the per-response rewrite state.
type Context struct {
	// Base resolves relative references. It starts as the target URL and
	// may be replaced by an HTML <base href>.
	Base *url.URL
	// Target is the URL the response was fetched from.
	Target *url.URL
	Origin *Origin
	// MaxBytes caps buffered rewriting; larger bodies pass through. Zero
	// disables the cap.
	MaxBytes int64
}

// NewContext returns a Context rooted at target.
func NewContext(target *url.URL, origin *Origin, maxBytes int64) *Context {
	base := *target
	return &Context{
		Base:     &base,
		Target:   target,
		Origin:   origin,
		MaxBytes: maxBytes,
	}
}

// Proxify rewrites ref against the current base.
func (rc *Context) Proxify(ref string) string {
	return rc.Origin.Proxify(ref, rc.Base)
}

// ProxifyPath rewrites a GET form action against the current base.
func (rc *Context) ProxifyPath(ref string) string {
	return rc.Origin.ProxifyPath(ref, rc.Base)
}

func (rc *Context) exceeds(n int) bool {
	return rc.MaxBytes > 0 && int64(n) > rc.MaxBytes
}

// looksLikeURL reports whether a string literal is worth proxifying outside
// of a known URL-bearing position.
func looksLikeURL(s string) bool {
	if len(s) < 2 || strings.ContainsAny(s, " \t\r\n<>") {
		return false
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "http://"):
		return len(s) > len("http://")
	case strings.HasPrefix(lower, "https://"):
		return len(s) > len("https://")
	case strings.HasPrefix(s, "//"):
		return len(s) > 2 && s[2] != '/'
	case s[0] == '/':
		return s[1] != '/' && s[1] != '*'
	}
	return false
}

// failOpen runs fn and returns original if it panics.
func failOpen[T any](original T, fn func() T) (out T) {
	defer func() {
		if r := recover(); r != nil {
			out = original
		}
	}()
	return fn()
}
