// Package client provides the HTTP client used to fetch proxied targets.
package client

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"webproxy/internal/config"
	"webproxy/internal/metrics"
	"webproxy/internal/model"
)

// UpstreamClient sends requests to proxied targets. Redirects are never
// followed so that 3xx responses reach the caller.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &UpstreamClient{
		// No overall Timeout: bodies are streamed for as long as the
		// downstream client keeps reading. The request context bounds it.
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "upstream_client"),
		metrics: m,
	}
}

// Do executes req and returns the response with its body decoded. When the
// body carried a content coding this client understands, Content-Encoding
// is removed from the returned header. Any other coding is left in place and
// reported in ProxyResponse.Encoding.
// The caller is responsible for closing the response body.
func (c *UpstreamClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	body, encoding, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}
	if encoding == "" {
		resp.Header.Del("Content-Encoding")
		if body != resp.Body {
			resp.Header.Del("Content-Length")
		}
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Encoding:   encoding,
	}, nil
}

// decodeBody wraps body in a decoder for the given Content-Encoding. It
// returns the coding it could not handle, or "" when the result is plain.
func decodeBody(contentEncoding string, body io.ReadCloser) (io.ReadCloser, string, error) {
	coding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch coding {
	case "", "identity":
		return body, "", nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if errors.Is(err, io.EOF) {
			// Empty body with a gzip header set, e.g. on 204 or HEAD.
			return body, "", nil
		}
		if err != nil {
			return nil, "", err
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, "", nil
	case "deflate":
		return inflate(body)
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), closers: []io.Closer{body}}, "", nil
	default:
		return body, coding, nil
	}
}

// inflate handles "deflate", which servers send either zlib-wrapped as the
// RFC says or as a raw deflate stream.
func inflate(body io.ReadCloser) (io.ReadCloser, string, error) {
	br := bufio.NewReader(body)
	head, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", err
	}
	if len(head) == 0 {
		return body, "", nil
	}
	if len(head) == 2 && isZlibHeader(head[0], head[1]) {
		zr, err := zlib.NewReader(br)
		if err != nil {
			return nil, "", err
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, "", nil
	}
	fr := flate.NewReader(br)
	return &decodedBody{Reader: fr, closers: []io.Closer{fr, body}}, "", nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// decodedBody closes the decoder and the underlying connection body together.
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
