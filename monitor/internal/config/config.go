// Package config loads and validates the bidwatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Modes.
const (
	ModeCount    = "count"    // one feed item per query, scalar result counts
	ModeListings = "listings" // one feed item per listing, deduplicated
)

// ErrInvalid reports a configuration that cannot drive a run.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level bidwatch configuration.
type Config struct {
	Mode     string        `yaml:"mode"`
	Interval time.Duration `yaml:"interval"` // 0 = single run
	Queries  []Query       `yaml:"queries"`
	Fetch    Fetch         `yaml:"fetch"`
	Extract  Extract       `yaml:"extract"`
	Alerts   Alerts        `yaml:"alerts"`
	Feed     Feed          `yaml:"feed"`
	State    State         `yaml:"state"`
	History  History       `yaml:"history"`
	Digest   Digest        `yaml:"digest"`
	Serve    Serve         `yaml:"serve"`
}

// Query is one saved search to poll. Name is for humans and falls back to
// the URL.
type Query struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// DisplayName returns the configured name, or the URL when unnamed.
func (q Query) DisplayName() string {
	if q.Name != "" {
		return q.Name
	}
	return q.URL
}

// Fetch controls page retrieval.
type Fetch struct {
	Timeout      time.Duration `yaml:"timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxBytes     int64         `yaml:"max_bytes"`
	Concurrency  int           `yaml:"concurrency"` // parallel fetches; output order stays config order
	Browser      bool          `yaml:"browser"`     // true = headless Chrome instead of plain HTTP
	SessionFile  string        `yaml:"session_file"`
	WaitSelector string        `yaml:"wait_selector"`
}

// Extract holds the page patterns. Zero values fall back to the marketplace
// defaults compiled into the extractor.
type Extract struct {
	CountPattern   string `yaml:"count_pattern"`
	ZeroPattern    string `yaml:"zero_pattern"`
	ListingPattern string `yaml:"listing_pattern"`
}

// Alerts controls count-mode notifications.
type Alerts struct {
	// TransitionOnly alerts only on a zero-to-results transition. Unset
	// means true; set it to false explicitly for an alert on every run
	// with results.
	TransitionOnly *bool  `yaml:"transition_only"`
	WebhookURL     string `yaml:"webhook_url"`
}

// Feed describes the RSS output.
type Feed struct {
	Path         string `yaml:"path"`
	Title        string `yaml:"title"`
	Link         string `yaml:"link"`
	Description  string `yaml:"description"`
	IncludeEmpty bool   `yaml:"include_empty"` // emit a placeholder item for zero-result queries
}

// State locates the per-query count file.
type State struct {
	Path string `yaml:"path"`
}

// History locates the optional SQLite history database. Empty disables it.
type History struct {
	Path string `yaml:"path"`
}

// Digest locates the optional per-run markdown digest directory. Empty
// disables it.
type Digest struct {
	Dir string `yaml:"dir"`
}

// Serve configures the optional HTTP surface. Empty addr disables it.
type Serve struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file, applies defaults, and
// validates.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeCount
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.MaxBytes <= 0 {
		c.Fetch.MaxBytes = 10 * 1024 * 1024
	}
	if c.Fetch.Concurrency <= 0 {
		c.Fetch.Concurrency = 1
	}
	if c.Alerts.TransitionOnly == nil {
		t := true
		c.Alerts.TransitionOnly = &t
	}
	if c.Feed.Path == "" {
		c.Feed.Path = "feed.xml"
	}
	if c.Feed.Title == "" {
		c.Feed.Title = "Search Monitor"
	}
	if c.Feed.Description == "" {
		c.Feed.Description = "Saved-search results feed."
	}
	if c.Feed.Link == "" && len(c.Queries) > 0 {
		if u, err := url.Parse(c.Queries[0].URL); err == nil && u.Scheme != "" && u.Host != "" {
			c.Feed.Link = u.Scheme + "://" + u.Host
		}
	}
	if c.State.Path == "" {
		c.State.Path = "state.json"
	}
}

// Validate reports the first problem that would make a run misbehave.
func (c *Config) Validate() error {
	if len(c.Queries) == 0 {
		return fmt.Errorf("%w: no queries configured", ErrInvalid)
	}
	for i, q := range c.Queries {
		u, err := url.Parse(q.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: query %d: not an absolute URL: %q", ErrInvalid, i, q.URL)
		}
	}
	if c.Mode != ModeCount && c.Mode != ModeListings {
		return fmt.Errorf("%w: mode %q (want %s or %s)", ErrInvalid, c.Mode, ModeCount, ModeListings)
	}
	if err := checkPattern("count_pattern", c.Extract.CountPattern, true); err != nil {
		return err
	}
	if err := checkPattern("zero_pattern", c.Extract.ZeroPattern, false); err != nil {
		return err
	}
	if err := checkPattern("listing_pattern", c.Extract.ListingPattern, false); err != nil {
		return err
	}
	return nil
}

// checkPattern validates an override pattern. Empty means "use the built-in
// default" and is always fine.
func checkPattern(name, pattern string, needsGroup bool) error {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalid, name, pattern, err)
	}
	if needsGroup && re.NumSubexp() < 1 {
		return fmt.Errorf("%w: %s %q: missing capture group", ErrInvalid, name, pattern)
	}
	return nil
}

// TransitionOnly resolves the alert policy flag (default true).
func (c *Config) TransitionOnly() bool {
	if c.Alerts.TransitionOnly == nil {
		return true
	}
	return *c.Alerts.TransitionOnly
}
