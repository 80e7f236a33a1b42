// Command pushl fans a set of IndieWeb feed and entry URLs out into WebSub
// hub pings, Webmention pings, and optional Wayback Machine archival saves,
// backed by a persistent conditional-GET HTTP cache (spec section 1).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pushl/internal/config"
	"pushl/internal/domain/entity"
	"pushl/internal/engine"
	"pushl/internal/entry"
	"pushl/internal/feed"
	"pushl/internal/fetch"
	"pushl/internal/observability/tracing"
	"pushl/internal/ping"
	"pushl/internal/store"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "pushl:", err)
		os.Exit(2)
	}

	logger := initLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "pushl")
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	sched := engine.New(ctx)
	wiring := buildWiring(cfg, sched)

	var g errgroup.Group
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg.MetricsAddr)
		g.Go(func() error {
			logger.Info("metrics server starting", slog.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, seed := range cfg.Seeds {
		seed := seed
		if seed.IsEntry {
			sched.Submit(entity.KindEntry, seed.URL, func(ctx context.Context) error {
				return wiring.entries.Process(ctx, seed.URL)
			})
		} else {
			sched.Submit(entity.KindFeed, seed.URL, func(ctx context.Context) error {
				return wiring.feeds.Process(ctx, seed.URL, seed.WebSubOnly)
			})
		}
	}

	runErr := sched.AwaitQuiescent()
	stop()
	if err := g.Wait(); err != nil {
		logger.Error("metrics server", slog.Any("error", err))
	}

	if runErr != nil {
		logger.Error("run cancelled", slog.Any("error", runErr))
		os.Exit(1)
	}
	if failed := sched.Failed(); failed > 0 {
		logger.Error("run completed with failures",
			slog.Int64("submitted", sched.Submitted()),
			slog.Int64("failed", failed))
		os.Exit(1)
	}
	logger.Info("run complete", slog.Int64("submitted", sched.Submitted()))
}

// initLogger builds a structured logger honoring cfg.LogLevel/LogFormat,
// the CLI-derived equivalent of the LOG_LEVEL-env-var pattern used
// elsewhere in this codebase's services.
func initLogger(cfg *config.ProcessingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelWarn}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// newMetricsServer exposes the Prometheus registry on /metrics.
func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// componentWiring holds the mutually-referencing feed/entry/ping components
// built for a single run.
type componentWiring struct {
	feeds   *feed.Processor
	entries *entry.Processor
	pinger  *ping.Dispatcher
}

// buildWiring constructs C1/C2/C3's shared fetcher and scheduler dependency,
// C4/C5's feed and entry processors, and C6's ping dispatcher, then ties them
// together via their SetXxx hooks (feed and entry reference each other, so
// neither can take the other as a constructor argument without an import
// cycle).
func buildWiring(cfg *config.ProcessingConfig, sched *engine.Scheduler) componentWiring {
	st := store.New(cfg.CacheDir)

	fetcher := fetch.New(st, fetch.Config{
		UserAgent:     cfg.UserAgent,
		Timeout:       cfg.Timeout,
		GlobalCap:     cfg.GlobalConcurrency,
		PerHostCap:    cfg.HostConcurrency,
		HostRPS:       cfg.HostRPS,
		HostRateBurst: cfg.HostRateBurst,
	})

	pinger := ping.New(fetcher, ping.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	})

	feeds := feed.New(fetcher, sched, cfg.Archive)
	entries := entry.New(fetcher, sched, cfg.Recurse, cfg.Wayback)

	feeds.SetEntryProcessor(entries)
	feeds.SetHubPinger(pinger.WebSub)
	entries.SetFeedProcessor(feeds)
	entries.SetPinger(pinger)

	return componentWiring{feeds: feeds, entries: entries, pinger: pinger}
}
