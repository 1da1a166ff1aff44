package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidwatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFile_FullConfig(t *testing.T) {
	// WHAT: A complete YAML file parses into the right fields, durations
	// included.
	// WHY: This is the operator's whole interface to the monitor.
	path := writeConfig(t, `
mode: listings
interval: 10m
queries:
  - name: tool chests
    url: https://auctions.example.com/search?query=tool+chest
  - url: https://auctions.example.com/search?query=lathe
fetch:
  timeout: 45s
  concurrency: 3
  browser: true
  session_file: session.json
alerts:
  transition_only: false
  webhook_url: https://hooks.example.com/x
feed:
  path: out/feed.xml
  title: Auction Watch
history:
  path: bidwatch.db
digest:
  dir: digests
serve:
  addr: ":8321"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Mode != ModeListings {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.Interval != 10*time.Minute {
		t.Errorf("Interval = %v", cfg.Interval)
	}
	if len(cfg.Queries) != 2 {
		t.Fatalf("Queries = %d", len(cfg.Queries))
	}
	if cfg.Queries[0].DisplayName() != "tool chests" {
		t.Errorf("query 0 name = %q", cfg.Queries[0].DisplayName())
	}
	if cfg.Queries[1].DisplayName() != "https://auctions.example.com/search?query=lathe" {
		t.Errorf("unnamed query does not fall back to URL: %q", cfg.Queries[1].DisplayName())
	}
	if cfg.Fetch.Timeout != 45*time.Second || cfg.Fetch.Concurrency != 3 || !cfg.Fetch.Browser {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.TransitionOnly() {
		t.Error("transition_only: false did not stick")
	}
	if cfg.Feed.Path != "out/feed.xml" || cfg.Feed.Title != "Auction Watch" {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.History.Path != "bidwatch.db" || cfg.Digest.Dir != "digests" || cfg.Serve.Addr != ":8321" {
		t.Errorf("History/Digest/Serve = %+v %+v %+v", cfg.History, cfg.Digest, cfg.Serve)
	}
}

func TestLoadFile_Defaults(t *testing.T) {
	// WHAT: A minimal file gets count mode, transition-only alerts, a
	// 30s timeout, and a feed link derived from the first query.
	// WHY: The sample config should be three lines, not thirty.
	path := writeConfig(t, `
queries:
  - url: https://auctions.example.com/search?query=drill
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Mode != ModeCount {
		t.Errorf("default mode = %q, want count", cfg.Mode)
	}
	if !cfg.TransitionOnly() {
		t.Error("default alert policy is not transition-only")
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v", cfg.Fetch.Timeout)
	}
	if cfg.Feed.Link != "https://auctions.example.com" {
		t.Errorf("feed link = %q, want first query origin", cfg.Feed.Link)
	}
	if cfg.State.Path != "state.json" || cfg.Feed.Path != "feed.xml" {
		t.Errorf("default paths = %q, %q", cfg.State.Path, cfg.Feed.Path)
	}
	if cfg.Interval != 0 {
		t.Errorf("default interval = %v, want 0 (single run)", cfg.Interval)
	}
}

func TestValidate_Rejections(t *testing.T) {
	// WHAT: Empty query lists, bad modes, relative URLs, and broken
	// patterns are rejected with ErrInvalid.
	// WHY: Each of these would otherwise surface mid-run as a confusing
	// fetch or extract failure.
	base := func() *Config {
		c := &Config{Queries: []Query{{URL: "https://x.example/s?q=a"}}}
		c.ApplyDefaults()
		return c
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no queries", func(c *Config) { c.Queries = nil }},
		{"relative query URL", func(c *Config) { c.Queries[0].URL = "/search?q=a" }},
		{"unknown mode", func(c *Config) { c.Mode = "both" }},
		{"count pattern unparseable", func(c *Config) { c.Extract.CountPattern = "([" }},
		{"count pattern no group", func(c *Config) { c.Extract.CountPattern = `\d+ found` }},
		{"listing pattern unparseable", func(c *Config) { c.Extract.ListingPattern = "([" }},
		{"zero pattern unparseable", func(c *Config) { c.Extract.ZeroPattern = "([" }},
	}
	for _, tc := range cases {
		c := base()
		tc.mutate(c)
		if err := c.Validate(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: Validate = %v, want ErrInvalid", tc.name, err)
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("baseline config rejected: %v", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	// WHAT: A missing config file is an error, not an empty config.
	// WHY: Unlike state, configuration has no sane empty value; running
	// with zero queries would silently do nothing.
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile accepted a missing file")
	}
}

func TestZeroPatternWithoutGroupAllowed(t *testing.T) {
	// WHAT: The zero-results pattern needs no capture group.
	// WHY: It is a presence test; only count and listing patterns carry
	// a captured value.
	c := &Config{
		Queries: []Query{{URL: "https://x.example/s"}},
		Extract: Extract{ZeroPattern: `0 items found when searching for`},
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
