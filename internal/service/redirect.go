package service

import (
	"io"
	"net/http"

	"webproxy/internal/model"
)

// maxRedirectDrain bounds how much of a redirect body is read before the
// connection is released.
const maxRedirectDrain = 64 << 10

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}

// interceptRedirect points the Location of a 3xx response back through the
// proxy. It reports false, leaving resp untouched, when there is no
// Location or it cannot be proxied.
func interceptRedirect(resp *model.ProxyResponse, pr *model.ProxyRequest) bool {
	if !isRedirect(resp.StatusCode) || pr.Origin == nil {
		return false
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return false
	}
	proxied := pr.Origin.Proxify(loc, pr.Target)
	if proxied == loc && !pr.Origin.IsProxied(loc) {
		return false
	}

	resp.Header.Set("Location", proxied)
	resp.Header.Del("Content-Type")
	_, _ = io.CopyN(io.Discard, resp.Body, maxRedirectDrain)
	_ = resp.Body.Close()
	resp.Body = http.NoBody
	return true
}
