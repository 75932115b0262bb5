// Command voxconsole runs a live voice session manager and serves its state
// over a local HTTP and websocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxconsole/internal/app"
	"github.com/MrWong99/voxconsole/internal/config"
	"github.com/MrWong99/voxconsole/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	watch := flag.Bool("watch", true, "reload session tuning and log level when the config file changes")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	reloads := make(chan reload, 1)
	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *watch {
		watcher, err = config.NewWatcher(*configPath, func(_, next *config.Config, d config.ConfigDiff) {
			// Keep only the newest change if the previous one is still pending.
			select {
			case <-reloads:
			default:
			}
			reloads <- reload{cfg: next, diff: d}
		})
		if err == nil {
			cfg = watcher.Current()
			defer watcher.Stop()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxconsole: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxconsole: %v\n", err)
		}
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("voxconsole starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"transport_url", cfg.Transport.URL,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	var opts []app.Option
	if !cfg.Telemetry.DisableMetricsEndpoint {
		opts = append(opts, app.WithMetricsHandler(promhttp.Handler()))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("console listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("console server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case r := <-reloads:
				if r.diff.LogLevelChanged {
					level.Set(slogLevel(r.diff.NewLogLevel))
					slog.Info("log level changed", "level", r.diff.NewLogLevel)
				}
				if err := application.ApplyConfig(r.diff, r.cfg); err != nil {
					slog.Warn("config reload rejected", "err", err)
				}
			}
		}
	})

	slog.Info("server ready; press Ctrl+C to shut down")
	<-gctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	exit := 0
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("console server shutdown error", "err", err)
	}
	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		exit = 1
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return exit
}

// reload is one validated config change delivered by the watcher.
type reload struct {
	cfg  *config.Config
	diff config.ConfigDiff
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
