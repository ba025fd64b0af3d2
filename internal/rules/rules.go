// Package rules holds per-domain overrides for outbound request headers.
package rules

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"webproxy/internal/config"
)

// removeValue deletes the header instead of setting it.
const removeValue = "none"

// Rule overrides headers for requests to one or more domains.
type Rule struct {
	Domain  string   `yaml:"domain,omitempty"`
	Domains []string `yaml:"domains,omitempty"`
	Headers struct {
		UserAgent string `yaml:"user-agent,omitempty"`
		Referer   string `yaml:"referer,omitempty"`
		Cookie    string `yaml:"cookie,omitempty"`
	} `yaml:"headers,omitempty"`
}

// matches reports whether host is one of the rule's domains or a subdomain of one.
func (r *Rule) matches(host string) bool {
	for _, d := range r.domains() {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (r *Rule) domains() []string {
	out := make([]string, 0, len(r.Domains)+1)
	if r.Domain != "" {
		out = append(out, strings.ToLower(r.Domain))
	}
	for _, d := range r.Domains {
		if d != "" {
			out = append(out, strings.ToLower(d))
		}
	}
	return out
}

// Apply sets or removes the overridden headers on h.
func (r *Rule) Apply(h http.Header) {
	set := func(name, value string) {
		switch {
		case value == "":
		case strings.EqualFold(value, removeValue):
			h.Del(name)
		default:
			h.Set(name, value)
		}
	}
	set("User-Agent", r.Headers.UserAgent)
	set("Referer", r.Headers.Referer)
	set("Cookie", r.Headers.Cookie)
}

// RuleSet is an ordered list of rules. The first match wins.
type RuleSet []Rule

// Match returns the first rule for host, or nil.
func (rs RuleSet) Match(host string) *Rule {
	host = strings.ToLower(host)
	for i := range rs {
		if rs[i].matches(host) {
			return &rs[i]
		}
	}
	return nil
}

// Parse decodes a YAML rule list.
func Parse(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("rules: parse: %w", err)
	}
	for i := range rs {
		if len(rs[i].domains()) == 0 {
			return nil, fmt.Errorf("rules: entry %d has no domain", i)
		}
	}
	return rs, nil
}

// LoadFile reads and parses a YAML rules file.
func LoadFile(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(data)
}

// Set is the live rule set shared by all requests. Reload swaps it atomically.
type Set struct {
	path    string
	watch   bool
	current atomic.Pointer[RuleSet]
	logger  *slog.Logger
}

// NewSet loads the rules file named in the [rules] section. An empty path
// yields an empty set.
func NewSet(cfg *config.Config, logger *slog.Logger) (*Set, error) {
	s := &Set{
		path:   cfg.Rules.Path,
		watch:  cfg.Rules.Watch,
		logger: logger.With("component", "rules"),
	}
	empty := RuleSet{}
	s.current.Store(&empty)
	if s.path == "" {
		return s, nil
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Match returns the first rule for host from the current set, or nil.
func (s *Set) Match(host string) *Rule {
	if s == nil {
		return nil
	}
	return s.current.Load().Match(host)
}

// Len returns the number of rules currently loaded.
func (s *Set) Len() int {
	return len(*s.current.Load())
}

// Reload re-reads the rules file. On error the previous rules stay active.
func (s *Set) Reload() error {
	rs, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(&rs)
	s.logger.Info("rules loaded", "path", s.path, "count", len(rs))
	return nil
}
