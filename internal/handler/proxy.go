package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/middleware"
	"webproxy/internal/model"
	"webproxy/internal/policy"
	"webproxy/internal/rewrite"
	"webproxy/internal/service"
	"webproxy/internal/store"
	"webproxy/internal/target"
)

// secretParamPattern matches key-like query parameter values in URLs embedded in error messages.
var secretParamPattern = regexp.MustCompile(`(?i)((?:api_?key|key|token)=)[^&\s"]+`)

// ProxyHandler serves proxied targets.
type ProxyHandler struct {
	service     *service.ProxyService
	resolver    *target.Resolver
	cache       store.Cache
	cachePolicy *policy.CachePolicy
	origin      *rewrite.Origin
	cfg         *config.Config
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. When server.public_origin is empty
// the proxy origin is taken from each request's scheme and Host.
func NewProxyHandler(
	svc *service.ProxyService,
	resolver *target.Resolver,
	cache store.Cache,
	cp *policy.CachePolicy,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*ProxyHandler, error) {
	h := &ProxyHandler{
		service:     svc,
		resolver:    resolver,
		cache:       cache,
		cachePolicy: cp,
		cfg:         cfg,
		metrics:     m,
		logger:      logger.With("component", "proxy_handler"),
	}
	if cfg.Server.PublicOrigin != "" {
		o, err := rewrite.NewOrigin(cfg.Server.PublicOrigin, cfg.Proxy.Path, cfg.Proxy.TargetParam)
		if err != nil {
			return nil, err
		}
		h.origin = o
	}
	return h, nil
}

// Handle proxies the target named by the target query parameter or, failing
// that, the path after the proxy endpoint.
func (h *ProxyHandler) Handle(c echo.Context) error {
	origin, err := h.originFor(c)
	if err != nil {
		return h.mapError(c, err)
	}

	req := c.Request()
	t, err := h.resolver.FromRequest(
		c.QueryParam(h.cfg.Proxy.TargetParam),
		c.Param("*"),
		h.forwardedQuery(req.URL.RawQuery),
	)
	if err != nil {
		return h.mapError(c, err)
	}
	return h.serve(c, t, origin)
}

// HandleStray redirects a request that escaped rewriting, such as a URL a
// script assembled at runtime, to the proxied target it was meant for. The
// target site is recovered from the proxied page in Referer.
func (h *ProxyHandler) HandleStray(c echo.Context) error {
	origin, err := h.originFor(c)
	if err != nil {
		return h.mapError(c, err)
	}

	req := c.Request()
	page, ok := origin.Deproxify(req.Header.Get("Referer"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "not found",
		})
	}
	t, err := h.resolver.FromReferer(req.URL.Path, h.forwardedQuery(req.URL.RawQuery), page)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.Redirect(http.StatusTemporaryRedirect, origin.Proxify(t.String(), nil))
}

func (h *ProxyHandler) serve(c echo.Context, t *url.URL, origin *rewrite.Origin) error {
	req := c.Request()
	ctx := req.Context()

	eligible := h.cachePolicy.Eligible(req)
	key := policy.CacheKey(origin.String(), t.String(), middleware.IdentityOf(c))
	if eligible {
		entry, ok, err := h.cache.Get(ctx, key)
		switch {
		case err != nil:
			h.countLookup("error")
			h.logger.Warn("cache lookup failed", "err", err)
		case ok:
			h.countLookup("hit")
			return writeCached(c, entry)
		default:
			h.countLookup("miss")
		}
	}

	pr := &model.ProxyRequest{
		Ctx:           ctx,
		Method:        req.Method,
		Target:        t,
		Origin:        origin,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	hdr := c.Response().Header()
	for key, vals := range resp.Header {
		hdr[key] = vals
	}

	storable := eligible && h.cachePolicy.Storable(resp.StatusCode)
	if eligible {
		hdr.Set("X-Cache", "MISS")
	}
	c.Response().WriteHeader(resp.StatusCode)

	var (
		w       io.Writer = c.Response()
		capture *cappedBuffer
	)
	if storable {
		capture = &cappedBuffer{limit: h.cachePolicy.MaxEntryBytes()}
		w = io.MultiWriter(c.Response(), capture)
	}

	// The status line is already out, so a failure mid-stream leaves the
	// client with a truncated body. It is logged and not cached.
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", sanitizeError(err),
			"host", t.Host,
			"engine", resp.Engine,
		)
		return nil
	}

	if storable && !capture.overflow {
		entry := &model.CacheEntry{
			Status:   resp.StatusCode,
			Header:   resp.Header.Clone(),
			Body:     capture.buf,
			StoredAt: time.Now(),
		}
		if err := h.cache.Set(context.WithoutCancel(ctx), key, entry, h.cachePolicy.TTL()); err != nil {
			h.logger.Warn("cache store failed", "err", err)
		}
	}
	return nil
}

func writeCached(c echo.Context, entry *model.CacheEntry) error {
	hdr := c.Response().Header()
	for key, vals := range entry.Header {
		hdr[key] = slices.Clone(vals)
	}
	hdr.Set("X-Cache", "HIT")
	if age := time.Since(entry.StoredAt); age > 0 {
		hdr.Set("Age", strconv.Itoa(int(age.Seconds())))
	}
	c.Response().WriteHeader(entry.Status)
	_, err := c.Response().Write(entry.Body)
	return err
}

// originFor returns the configured origin or one derived from the request.
func (h *ProxyHandler) originFor(c echo.Context) (*rewrite.Origin, error) {
	if h.origin != nil {
		return h.origin, nil
	}
	return deriveOrigin(c, h.cfg)
}

// deriveOrigin derives the proxy origin from the request's scheme and Host.
func deriveOrigin(c echo.Context, cfg *config.Config) (*rewrite.Origin, error) {
	o, err := rewrite.NewOrigin(c.Scheme()+"://"+c.Request().Host, cfg.Proxy.Path, cfg.Proxy.TargetParam)
	if err != nil {
		return nil, errBadHost
	}
	return o, nil
}

// forwardedQuery drops the API key parameter from a query that is passed on
// to the target.
func (h *ProxyHandler) forwardedQuery(rawQuery string) string {
	if h.cfg.Auth.APIKey == "" || h.cfg.Auth.QueryParam == "" {
		return rawQuery
	}
	return stripQueryParam(rawQuery, h.cfg.Auth.QueryParam)
}

// stripQueryParam removes every name=value pair for name, keeping the order
// and encoding of the rest.
func stripQueryParam(rawQuery, name string) string {
	if rawQuery == "" {
		return ""
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		k, _, _ := strings.Cut(p, "=")
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		if k != name {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "&")
}

func (h *ProxyHandler) countLookup(result string) {
	if h.metrics != nil {
		h.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}

var errBadHost = errors.New("cannot derive proxy origin from request host")

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	switch {
	case errors.Is(err, target.ErrInvalidTarget):
		h.logger.Warn("invalid target", "err", sanitizeError(err), "path", path)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": sanitizeError(err),
		})
	case errors.Is(err, target.ErrForbidden):
		h.logger.Warn("target not allowed", "err", err, "path", path)
		return c.JSON(http.StatusForbidden, map[string]string{
			"error": "target host is not allowed",
		})
	case errors.Is(err, policy.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, policy.ErrRateLimited):
		return c.JSON(http.StatusTooManyRequests, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, errBadHost):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	h.logger.Error("proxy error",
		"err", sanitizeError(err),
		"path", path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	if errors.Is(err, service.ErrUpstreamUnreachable) {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return c.JSON(http.StatusBadGateway, map[string]string{
				"error": "upstream host unreachable",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream connection failed",
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": "internal error",
	})
}

// sanitizeError redacts secrets from error messages that may contain target URLs.
func sanitizeError(err error) string {
	return secretParamPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}

// cappedBuffer keeps up to limit bytes and then records that it overflowed.
// It never fails a write so the client stream is unaffected.
type cappedBuffer struct {
	buf      []byte
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if b.limit > 0 && int64(len(b.buf)+len(p)) > b.limit {
		b.overflow = true
		b.buf = nil
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}
