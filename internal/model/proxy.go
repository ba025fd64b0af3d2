// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"webproxy/internal/rewrite"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx           context.Context
	Method        string
	Target        *url.URL
	Origin        *rewrite.Origin
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	// Encoding is a content coding the client could not decode. Such
	// bodies are never rewritten.
	Encoding string
	// Engine names the rewrite engine the body passes through.
	Engine string
}

// CacheEntry is a stored, already rewritten response.
type CacheEntry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}
