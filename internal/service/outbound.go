package service

import (
	"net/http"
	"strings"

	"webproxy/internal/model"
)

// hopByHopHeaders are meaningful for a single transport leg only.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// identifyingHeaders reveal the client or the proxy's own address to the target.
// Any X-Forwarded-* header is dropped as well.
var identifyingHeaders = []string{
	"Host",
	"Forwarded",
	"Via",
	"X-Real-Ip",
	"X-Client-Ip",
	"X-Cluster-Client-Ip",
	"True-Client-Ip",
	"Fastly-Client-Ip",
	"Cf-Connecting-Ip",
	"Cf-Ipcountry",
	"Cf-Ray",
	"Cf-Visitor",
	"X-Geo-Country",
	"X-Country-Code",
	"X-Appengine-User-Ip",
	"X-Appengine-Country",
	"X-Appengine-City",
}

// credentialHeaders are dropped unless proxy.forward_credentials is set.
var credentialHeaders = []string{
	"Cookie",
	"Authorization",
}

// Content-Length is recomputed by the transport and Accept-Encoding is left
// to it so that responses arrive in a coding the client can decode.
var transportHeaders = []string{
	"Content-Length",
	"Accept-Encoding",
}

// bodylessMethods never carry a request body upstream.
var bodylessMethods = map[string]bool{
	http.MethodGet:   true,
	http.MethodHead:  true,
	http.MethodTrace: true,
}

// outboundHeader builds the header sent to the target from the client's.
func (s *ProxyService) outboundHeader(pr *model.ProxyRequest) http.Header {
	h := pr.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}

	for _, name := range connectionTokens(h) {
		h.Del(name)
	}
	deleteHeaders(h, hopByHopHeaders)
	deleteHeaders(h, identifyingHeaders)
	for key := range h {
		if strings.HasPrefix(http.CanonicalHeaderKey(key), "X-Forwarded-") {
			delete(h, key)
		}
	}
	deleteHeaders(h, transportHeaders)
	if !s.cfg.Proxy.ForwardCredentials {
		deleteHeaders(h, credentialHeaders)
	}
	if s.cfg.Auth.Header != "" {
		h.Del(s.cfg.Auth.Header)
	}

	translateReferer(h, pr)

	if h.Get("User-Agent") == "" && s.cfg.Proxy.UserAgent != "" {
		h.Set("User-Agent", s.cfg.Proxy.UserAgent)
	}
	if rule := s.rules.Match(pr.Target.Hostname()); rule != nil {
		rule.Apply(h)
	}
	return h
}

// translateReferer points Referer and Origin back at the target site. The
// browser sends them for the proxy origin, which the target has never seen.
func translateReferer(h http.Header, pr *model.ProxyRequest) {
	if ref := h.Get("Referer"); ref != "" && pr.Origin != nil {
		if target, ok := pr.Origin.Deproxify(ref); ok {
			h.Set("Referer", target)
		} else if pr.Origin.IsProxied(ref) {
			h.Del("Referer")
		}
	}
	if h.Get("Origin") != "" {
		h.Set("Origin", pr.Target.Scheme+"://"+pr.Target.Host)
	}
}

// connectionTokens returns the header names listed in Connection.
func connectionTokens(h http.Header) []string {
	var names []string
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func deleteHeaders(h http.Header, names []string) {
	for _, name := range names {
		h.Del(name)
	}
}
