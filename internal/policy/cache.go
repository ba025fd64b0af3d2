package policy

import (
	"net/http"
	"strings"
	"time"

	"webproxy/internal/config"
)

// CachePolicy decides which responses are cached and for how long.
type CachePolicy struct {
	enabled  bool
	ttl      time.Duration
	maxEntry int64
}

// NewCachePolicy creates a CachePolicy from the [cache] section.
func NewCachePolicy(cfg *config.Config) *CachePolicy {
	return &CachePolicy{
		enabled:  cfg.Cache.Enabled,
		ttl:      time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		maxEntry: cfg.Cache.MaxEntryBytes,
	}
}

// TTL is how long stored responses stay fresh.
func (p *CachePolicy) TTL() time.Duration { return p.ttl }

// MaxEntryBytes caps the body size of a stored response.
func (p *CachePolicy) MaxEntryBytes() int64 { return p.maxEntry }

// Eligible reports whether r may be answered from or stored in the cache.
// Requests that ask for HTML are never cached.
func (p *CachePolicy) Eligible(r *http.Request) bool {
	if !p.enabled || r.Method != http.MethodGet {
		return false
	}
	return !strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/html")
}

// Storable reports whether a response with this status may be stored.
func (p *CachePolicy) Storable(status int) bool {
	return status == http.StatusOK
}

// CacheKey identifies a cached response for one target and identity as
// rewritten for one proxy origin.
func CacheKey(origin, target, identity string) string {
	return "cache:" + origin + "|" + target + "|" + identity
}
