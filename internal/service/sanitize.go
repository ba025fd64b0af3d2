package service

import (
	"net/http"
	"strings"
)

// strippedResponseHeaders would describe the upstream framing of a body the
// proxy re-serializes, or keep the page from working under the proxy origin.
var strippedResponseHeaders = []string{
	"Content-Length",
	"Transfer-Encoding",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Trailer",
	"Upgrade",
	"Alt-Svc",
	"X-Frame-Options",
	"X-Xss-Protection",
	"Content-Security-Policy-Report-Only",
	"Strict-Transport-Security",
	"Public-Key-Pins",
	"Referrer-Policy",
}

// sanitizeResponseHeader rewrites the upstream header in place. encoding is
// the content coding left on an undecoded body, if any.
func (s *ProxyService) sanitizeResponseHeader(h http.Header, encoding string) {
	for _, name := range connectionTokens(h) {
		h.Del(name)
	}
	deleteHeaders(h, strippedResponseHeaders)
	if encoding == "" {
		h.Del("Content-Encoding")
	}

	if policies := h.Values("Content-Security-Policy"); len(policies) > 0 {
		h.Del("Content-Security-Policy")
		for _, p := range policies {
			if relaxed := relaxCSP(p); relaxed != "" {
				h.Add("Content-Security-Policy", relaxed)
			}
		}
	}

	if !s.cfg.Proxy.ForwardSetCookie {
		h.Del("Set-Cookie")
	}

	h.Set("X-Content-Type-Options", "nosniff")

	if s.cfg.Server.CORS {
		for key := range h {
			if strings.HasPrefix(http.CanonicalHeaderKey(key), "Access-Control-") {
				delete(h, key)
			}
		}
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Expose-Headers", "*")
	}
}

// relaxCSP drops the frame-ancestors directive from a Content-Security-Policy
// value. It returns "" when nothing else is left.
func relaxCSP(policy string) string {
	var kept []string
	for _, directive := range strings.Split(policy, ";") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		name, _, _ := strings.Cut(directive, " ")
		if strings.EqualFold(name, "frame-ancestors") {
			continue
		}
		kept = append(kept, directive)
	}
	return strings.Join(kept, "; ")
}
