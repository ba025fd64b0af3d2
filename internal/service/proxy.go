// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"webproxy/internal/client"
	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/model"
	"webproxy/internal/rewrite"
	"webproxy/internal/rules"
)

// ErrUpstreamUnreachable is returned when the target could not be fetched.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// ProxyService fetches targets and rewrites their responses for the proxy origin.
type ProxyService struct {
	client  *client.UpstreamClient
	rules   *rules.Set
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyService creates a ProxyService. rs and m may be nil.
func NewProxyService(c *client.UpstreamClient, rs *rules.Set, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client:  c,
		rules:   rs,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "proxy_service"),
	}
}

// Forward sends pr to its target and returns the sanitized response. Redirects
// come back with a proxied Location; rewritable bodies are rewritten while
// the caller reads them. The caller is responsible for closing the response body.
// The request is attempted once.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	var body io.Reader
	if !bodylessMethods[pr.Method] && pr.Body != nil {
		body = pr.Body
	}

	req, err := http.NewRequestWithContext(pr.Ctx, pr.Method, pr.Target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = s.outboundHeader(pr)
	if body != nil {
		req.ContentLength = pr.ContentLength
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", pr.Target.Host,
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}

	s.sanitizeResponseHeader(resp.Header, resp.Encoding)

	if interceptRedirect(resp, pr) {
		resp.Engine = rewrite.Passthrough.String()
		return resp, nil
	}

	s.rewriteBody(resp, pr)
	return resp, nil
}

// rewriteBody replaces resp.Body with a reader that yields the rewritten
// document. The rewrite runs in its own goroutine and only advances as fast
// as the caller reads.
func (s *ProxyService) rewriteBody(resp *model.ProxyResponse, pr *model.ProxyRequest) {
	kind := s.classify(resp, pr)
	resp.Engine = kind.String()
	if kind == rewrite.Passthrough {
		return
	}
	if s.metrics != nil {
		s.metrics.RewritesTotal.WithLabelValues(resp.Engine).Inc()
	}

	rc := rewrite.NewContext(pr.Target, pr.Origin, s.cfg.Proxy.MaxRewriteBytes)
	src := resp.Body
	r, w := io.Pipe()
	go func() {
		err := rewrite.Stream(kind, w, src, rc)
		_ = src.Close()
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Debug("rewrite stream ended early", "engine", kind.String(), "error", err)
		}
		_ = w.CloseWithError(err)
	}()
	resp.Body = r
}

func (s *ProxyService) classify(resp *model.ProxyResponse, pr *model.ProxyRequest) rewrite.Kind {
	if resp.Encoding != "" || pr.Origin == nil || pr.Method == http.MethodHead {
		return rewrite.Passthrough
	}
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotModified:
		return rewrite.Passthrough
	}
	return rewrite.Classify(resp.Header.Get("Content-Type"), pr.Target.Path)
}
