// Package policy implements the access and caching rules applied around
// every proxied request.
package policy

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"webproxy/internal/config"
)

var ErrUnauthorized = errors.New("invalid or missing API key")

// KeyChecker verifies the pre-shared API key.
type KeyChecker struct {
	key    []byte
	header string
	param  string
}

// NewKeyChecker creates a KeyChecker from the [auth] section.
func NewKeyChecker(cfg *config.Config) *KeyChecker {
	return &KeyChecker{
		key:    []byte(cfg.Auth.APIKey),
		header: cfg.Auth.Header,
		param:  cfg.Auth.QueryParam,
	}
}

// Enabled reports whether a key is configured.
func (k *KeyChecker) Enabled() bool {
	return len(k.key) > 0
}

// Check returns ErrUnauthorized unless r presents the configured key in the
// header or, failing that, the query parameter.
func (k *KeyChecker) Check(r *http.Request) error {
	if !k.Enabled() {
		return nil
	}
	presented := r.Header.Get(k.header)
	if presented == "" && k.param != "" {
		presented = r.URL.Query().Get(k.param)
	}
	if presented == "" || subtle.ConstantTimeCompare([]byte(presented), k.key) != 1 {
		return ErrUnauthorized
	}
	return nil
}
