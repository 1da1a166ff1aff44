// Command bidwatch-session captures a logged-in browser session for the
// monitor's browser fetcher.
//
// It opens a visible Chrome window on the target site. Log in there (solve
// any captcha, set your location), then press Enter in this terminal. The
// browser's cookies and the page's localStorage are written as a
// storage-state JSON file that bidwatch replays via fetch.session_file.
//
// Usage:
//
//	bidwatch-session -url https://marketplace.example/login -out session.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/bidwatch/monitor"
)

func main() {
	target := flag.String("url", "", "page to open for login")
	out := flag.String("out", "session.json", "output path for the storage-state JSON")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

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

	if *target == "" {
		fmt.Fprintln(os.Stderr, "usage: bidwatch-session -url <login page> [-out session.json]")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := monitor.CaptureSession(ctx, monitor.CaptureConfig{
		URL:     *target,
		OutPath: *out,
		Prompt:  os.Stderr,
		Confirm: os.Stdin,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("bidwatch-session: fatal", "error", err)
		os.Exit(1)
	}
}
