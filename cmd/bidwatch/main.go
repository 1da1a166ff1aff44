// Command bidwatch polls saved marketplace searches and publishes an RSS
// feed of the results.
//
// Usage:
//
//	bidwatch -config bidwatch.yaml            # poll per config, loop when interval is set
//	bidwatch -config bidwatch.yaml -once      # single check cycle, then exit
//	bidwatch -config bidwatch.yaml -serve :8321  # also expose feed and status over HTTP
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/bidwatch/monitor"
)

func main() {
	configPath := flag.String("config", "bidwatch.yaml", "path to the YAML configuration file")
	once := flag.Bool("once", false, "run a single check cycle and exit (disables serve mode)")
	serveAddr := flag.String("serve", "", "HTTP listen address (overrides serve.addr)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	_ = godotenv.Load()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *once, *serveAddr); err != nil {
		logger.Error("bidwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, once bool, serveAddr string) error {
	cfg, err := monitor.LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if once {
		cfg.Interval = 0
		cfg.Serve.Addr = ""
	}
	if serveAddr != "" {
		cfg.Serve.Addr = serveAddr
	}
	if cfg.Alerts.WebhookURL == "" {
		cfg.Alerts.WebhookURL = os.Getenv("BIDWATCH_WEBHOOK")
	}

	m, err := monitor.New(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if cfg.Serve.Addr == "" {
		return m.Run(ctx)
	}

	// Serve mode: the check loop and the HTTP server share the signal
	// context and go down together.
	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           newRouter(m, cfg),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bidwatch: serving", "addr", cfg.Serve.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := m.Run(ctx); err != nil {
		logger.Error("bidwatch: run loop", "error", err)
	}
	if ctx.Err() == nil {
		// Single-run config with a server: keep serving the feed until
		// signalled.
		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}
	}

	logger.Info("bidwatch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("bidwatch: shutdown", "error", err)
	}

	select {
	case err := <-errCh:
		return err
	default:
	}
	return nil
}

func newRouter(m *monitor.Monitor, cfg *monitor.Config) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok\n"))
	})

	r.Get("/feed.xml", func(w http.ResponseWriter, _ *http.Request) {
		doc := m.LatestFeed()
		if doc == nil {
			// Nothing built this process yet; fall back to the file a
			// previous run may have left.
			var err error
			doc, err = os.ReadFile(cfg.Feed.Path)
			if err != nil {
				http.Error(w, "feed not built yet", http.StatusNotFound)
				return
			}
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		w.Write(doc)
	})

	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"mode":    cfg.Mode,
			"queries": len(cfg.Queries),
		}
		if report := m.LastReport(); report != nil {
			status["last_run"] = report
		}
		if stats, err := m.HistoryStats(r.Context()); err == nil && stats != nil {
			status["history"] = stats
		}
		if checks, err := m.RecentChecks(r.Context(), queryInt(r, "limit", 20)); err == nil && checks != nil {
			status["recent_checks"] = checks
		}
		writeJSON(w, 200, status)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
