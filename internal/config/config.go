// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/webproxy/config.toml",
	"configs/config.toml",
}

// reservedRoutes cannot be claimed by the proxy or metrics paths.
var reservedRoutes = []string{"/healthz", "/status", "/admin"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config       string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host         string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port         int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	APIKey       string `kong:"help='Shared API key clients must present (overrides config).',env='WEBPROXY_API_KEY'"`
	LogLevel     string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	PublicOrigin string `kong:"help='Public scheme://host of this proxy (overrides config).',env='PUBLIC_ORIGIN'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Proxy     ProxyConfig     `toml:"proxy"`
	Auth      AuthConfig      `toml:"auth"`
	Allowlist AllowlistConfig `toml:"allowlist"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Cache     CacheConfig     `toml:"cache"`
	Store     StoreConfig     `toml:"store"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Rules     RulesConfig     `toml:"rules"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64  `toml:"body_max_bytes"`
	// PublicOrigin is the scheme://host clients use to reach the proxy.
	// Empty derives it from each request.
	PublicOrigin string `toml:"public_origin"`
	CORS         bool   `toml:"cors"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For is
	// believed, comma-separated. Empty identifies clients by the peer address.
	TrustedProxies string `toml:"trusted_proxies"`
}

// ProxyConfig controls how targets are addressed and rewritten.
type ProxyConfig struct {
	Path               string `toml:"path"`
	TargetParam        string `toml:"target_param"`
	MaxRewriteBytes    int64  `toml:"max_rewrite_bytes"`
	ForwardCredentials bool   `toml:"forward_credentials"`
	ForwardSetCookie   bool   `toml:"forward_set_cookie"`
	UserAgent          string `toml:"user_agent"`
}

// AuthConfig holds the pre-shared API key. An empty key disables authentication.
type AuthConfig struct {
	APIKey     string `toml:"api_key"`
	Header     string `toml:"header"`
	QueryParam string `toml:"query_param"`
}

// AllowlistConfig restricts upstream hosts.
type AllowlistConfig struct {
	Hosts string `toml:"hosts"` // comma-separated; empty allows every host
}

// RateLimitConfig controls the per-identity fixed-window limiter.
type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerMinute int  `toml:"requests_per_minute"`
}

// CacheConfig controls response caching.
type CacheConfig struct {
	Enabled       bool  `toml:"enabled"`
	TTLSeconds    int   `toml:"ttl_seconds"`
	MaxEntryBytes int64 `toml:"max_entry_bytes"`
	MaxEntries    int   `toml:"max_entries"`
}

// StoreConfig selects the counter and cache backend.
type StoreConfig struct {
	Backend         string `toml:"backend"`
	Path            string `toml:"path"`
	CleanupSchedule string `toml:"cleanup_schedule"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int `toml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections"`
}

// RulesConfig points at the per-domain rules file.
type RulesConfig struct {
	Path  string `toml:"path"`
	Watch bool   `toml:"watch"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// SamplePerSecond caps successful request log lines; 0 logs all of them.
	SamplePerSecond float64 `toml:"sample_per_second"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/webproxy/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.APIKey != "" {
		c.Auth.APIKey = cli.APIKey
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.PublicOrigin != "" {
		c.Server.PublicOrigin = cli.PublicOrigin
	}
}

func (c *Config) validate() error {
	if c.Auth.APIKey == "YOUR_API_KEY_HERE" {
		return fmt.Errorf("auth.api_key contains placeholder value; set a real key or leave empty to disable authentication")
	}

	if c.Server.PublicOrigin != "" {
		u, err := url.Parse(c.Server.PublicOrigin)
		if err != nil {
			return fmt.Errorf("server.public_origin is not a valid URL: %w", err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server.public_origin must be an absolute http(s) URL; got %q", c.Server.PublicOrigin)
		}
		if u.Path != "" && u.Path != "/" {
			return fmt.Errorf("server.public_origin must not carry a path; got %q", c.Server.PublicOrigin)
		}
	}

	if _, err := c.Server.TrustedProxyNets(); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Proxy.MaxRewriteBytes < 0 {
		return fmt.Errorf("proxy.max_rewrite_bytes must be non-negative; got %d", c.Proxy.MaxRewriteBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be > 0 when rate limiting is enabled; got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.Cache.TTLSeconds < 0 || c.Cache.MaxEntryBytes < 0 || c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.ttl_seconds, cache.max_entry_bytes and cache.max_entries must be non-negative")
	}
	if c.Log.SamplePerSecond < 0 {
		return fmt.Errorf("log.sample_per_second must be non-negative; got %v", c.Log.SamplePerSecond)
	}

	// Proxy addressing.
	if c.Proxy.Path != "" {
		if err := checkRoute("proxy.path", c.Proxy.Path); err != nil {
			return err
		}
	}
	if strings.ContainsAny(c.Proxy.TargetParam, "&=?# ") {
		return fmt.Errorf("proxy.target_param contains reserved characters; got %q", c.Proxy.TargetParam)
	}

	// Store backend.
	switch strings.ToLower(c.Store.Backend) {
	case "memory", "":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, sqlite; got %q", c.Store.Backend)
	}

	if c.Rules.Watch && c.Rules.Path == "" {
		return fmt.Errorf("rules.watch requires rules.path")
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "console", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text, console; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		if err := checkRoute("metrics.path", c.Metrics.Path); err != nil {
			return err
		}
		proxyPath := c.Proxy.Path
		if proxyPath == "" {
			proxyPath = "/proxy"
		}
		if c.Metrics.Path == proxyPath || strings.HasPrefix(c.Metrics.Path, proxyPath+"/") {
			return fmt.Errorf("metrics.path %q conflicts with proxy.path %q", c.Metrics.Path, proxyPath)
		}
	}

	return nil
}

func checkRoute(key, p string) error {
	if p[0] != '/' || p == "/" {
		return fmt.Errorf("%s must start with '/' and name a route; got %q", key, p)
	}
	for _, reserved := range reservedRoutes {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("%s %q conflicts with reserved route %q", key, p, reserved)
		}
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8080).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	c.Server.PublicOrigin = strings.TrimSuffix(c.Server.PublicOrigin, "/")
	if c.Proxy.Path == "" {
		c.Proxy.Path = "/proxy"
	}
	c.Proxy.Path = strings.TrimSuffix(c.Proxy.Path, "/")
	if c.Proxy.TargetParam == "" {
		c.Proxy.TargetParam = "url"
	}
	if c.Proxy.MaxRewriteBytes == 0 {
		c.Proxy.MaxRewriteBytes = 5 * 1024 * 1024 // 5 MiB
	}
	if c.Auth.Header == "" {
		c.Auth.Header = "X-Api-Key"
	}
	if c.Auth.QueryParam == "" {
		c.Auth.QueryParam = "key"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = 300
	}
	if c.Cache.MaxEntryBytes == 0 {
		c.Cache.MaxEntryBytes = 1024 * 1024 // 1 MiB
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}
	c.Store.Backend = strings.ToLower(c.Store.Backend)
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
	if c.Store.CleanupSchedule == "" {
		c.Store.CleanupSchedule = "@every 1m"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TrustedProxyNets parses TrustedProxies. A bare IP becomes a single-host
// network.
func (c *ServerConfig) TrustedProxyNets() ([]*net.IPNet, error) {
	var nets []*net.IPNet
	for _, entry := range strings.Split(c.TrustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("server.trusted_proxies: invalid address %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" || c.Auth.APIKey == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file holds the API key and is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
