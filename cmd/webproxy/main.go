package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/lmittmann/tint"
	"go.uber.org/fx"
	"golang.org/x/term"

	"webproxy/internal/client"
	"webproxy/internal/config"
	"webproxy/internal/handler"
	"webproxy/internal/metrics"
	"webproxy/internal/middleware"
	"webproxy/internal/policy"
	"webproxy/internal/rules"
	"webproxy/internal/service"
	"webproxy/internal/store"
	"webproxy/internal/target"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("webproxy"),
		kong.Description("Rewriting web proxy: fetches a target page and rewrites its links to route back through the proxy."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			store.New,
			func(s store.Store) store.Cache { return s },
			func(s store.Store) store.Counter { return s },
			rules.NewSet,
			newResolver,
			client.NewUpstreamClient,
			service.NewProxyService,
			policy.NewKeyChecker,
			policy.NewCachePolicy,
			newRateLimiter,
			handler.NewProxyHandler,
			handler.NewAdminHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(
			handler.RegisterRoutes,
			warnConfigPermissions,
			closeStore,
			runJanitor,
			watchRules,
			startServer,
		),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	case "console":
		h = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !term.IsTerminal(int(os.Stderr.Fd())),
		})
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Proxy.Path, cfg.Metrics.Path)
}

func newResolver(cfg *config.Config) *target.Resolver {
	return target.NewResolver(cfg.Allowlist.Hosts)
}

// newRateLimiter returns nil when rate limiting is off; the middleware
// treats a nil limiter as a pass-through.
func newRateLimiter(cfg *config.Config, counter store.Counter, logger *slog.Logger) *policy.FixedWindow {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	logger.Info("rate limiter enabled", "requests_per_minute", cfg.RateLimit.RequestsPerMinute)
	return policy.NewFixedWindow(counter, cfg.RateLimit.RequestsPerMinute)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*echo.Echo, error) {
	trusted, err := cfg.Server.TrustedProxyNets()
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = middleware.IPExtractor(trusted)

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays 0: proxied downloads can legitimately stream for
	// longer than any fixed bound.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger, middleware.NewLogSampler(cfg.Log.SamplePerSecond)))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.CORS {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:  []string{"*"},
			AllowHeaders:  []string{"*"},
			ExposeHeaders: []string{"*"},
		}))
	}

	return e, nil
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func runJanitor(lc fx.Lifecycle, s store.Store, cfg *config.Config, logger *slog.Logger) {
	j := store.NewJanitor(s, cfg.Store.CleanupSchedule, logger)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			return j.Start()
		},
		OnStop: func(_ context.Context) error {
			j.Stop()
			return nil
		},
	})
}

func watchRules(lc fx.Lifecycle, rs *rules.Set, logger *slog.Logger) {
	if !rs.Watching() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := rs.Watch(ctx); err != nil {
					logger.Error("rules watcher stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

// closeStore is invoked first so its stop hook runs last, after the server
// and the janitor are done with the store.
func closeStore(lc fx.Lifecycle, s store.Store) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return s.Close()
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server", "addr", addr, "proxy_path", cfg.Proxy.Path)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
