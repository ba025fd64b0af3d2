// Package target validates the upstream URLs clients ask the proxy to fetch.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrInvalidTarget = errors.New("invalid target URL")
	ErrForbidden     = errors.New("target host not allowed")
)

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// Resolver parses target URLs and applies the host allow-list.
type Resolver struct {
	allowed map[string]struct{}
}

// NewResolver builds a Resolver from a comma-separated host list. An empty
// list allows every host.
func NewResolver(allowList string) *Resolver {
	allowed := make(map[string]struct{})
	for _, h := range strings.Split(allowList, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &Resolver{allowed: allowed}
}

// Restricted reports whether an allow-list is in effect.
func (r *Resolver) Restricted() bool {
	return len(r.allowed) > 0
}

// Resolve parses raw and checks it against the allow-list.
func (r *Resolver) Resolve(raw string) (*url.URL, error) {
	u, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := r.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// FromRequest resolves the target of a proxy request: the query parameter
// value when present, otherwise the path remainder.
func (r *Resolver) FromRequest(queryValue, remainder, rawQuery string) (*url.URL, error) {
	if strings.TrimSpace(queryValue) != "" {
		return r.Resolve(queryValue)
	}
	if remainder != "" {
		return r.FromPath(remainder, rawQuery)
	}
	return nil, fmt.Errorf("%w: missing target", ErrInvalidTarget)
}

// FromPath resolves a target carried in the request path, as in
// /proxy/https://example.com/page, appending the request's own query.
func (r *Resolver) FromPath(remainder, rawQuery string) (*url.URL, error) {
	s := remainder
	if unescaped, err := url.PathUnescape(remainder); err == nil {
		s = unescaped
	}
	// Some clients collapse the double slash after the scheme.
	for _, scheme := range []string{"http:/", "https:/"} {
		if strings.HasPrefix(strings.ToLower(s), scheme) && !strings.HasPrefix(s[len(scheme):], "/") {
			s = s[:len(scheme)] + "/" + s[len(scheme):]
		}
	}
	if rawQuery != "" {
		if strings.Contains(s, "?") {
			s += "&" + rawQuery
		} else {
			s += "?" + rawQuery
		}
	}
	return r.Resolve(s)
}

// FromReferer rebuilds the target of a stray request: a path the browser
// resolved against the proxy origin instead of the page it came from.
func (r *Resolver) FromReferer(path, rawQuery, refererTarget string) (*url.URL, error) {
	ref, err := Parse(refererTarget)
	if err != nil {
		return nil, err
	}
	u := &url.URL{
		Scheme:   ref.Scheme,
		Host:     ref.Host,
		Path:     path,
		RawQuery: rawQuery,
	}
	if err := r.Check(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Check returns ErrForbidden when the allow-list is set and does not
// contain the host of u.
func (r *Resolver) Check(u *url.URL) error {
	if !r.Restricted() {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	if _, ok := r.allowed[host]; !ok {
		return fmt.Errorf("%w: %s", ErrForbidden, host)
	}
	return nil
}

// Parse turns raw into an absolute http(s) URL, defaulting a missing
// scheme to https.
func Parse(raw string) (*url.URL, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: missing target", ErrInvalidTarget)
	}
	if !schemePrefix.MatchString(s) {
		if strings.HasPrefix(s, "//") {
			s = "https:" + s
		} else {
			s = "https://" + s
		}
	}

	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}
	return u, nil
}
