package monitor

import (
	"github.com/hazyhaar/bidwatch/monitor/internal/config"
)

// Config is the top-level monitor configuration. Re-exported from internal.
type Config = config.Config

// Query is one saved search to poll.
type Query = config.Query

// FetchConfig controls page retrieval.
type FetchConfig = config.Fetch

// ExtractConfig holds the page patterns.
type ExtractConfig = config.Extract

// AlertsConfig controls count-mode notifications.
type AlertsConfig = config.Alerts

// FeedConfig describes the RSS output.
type FeedConfig = config.Feed

// StateConfig locates the persisted count state.
type StateConfig = config.State

// HistoryConfig locates the check-history database.
type HistoryConfig = config.History

// DigestConfig locates the markdown digest directory.
type DigestConfig = config.Digest

// ServeConfig configures the embedded HTTP server.
type ServeConfig = config.Serve

// Monitor modes.
const (
	ModeCount    = config.ModeCount
	ModeListings = config.ModeListings
)

// LoadConfigFile reads a YAML configuration file, applies defaults, and
// validates the result.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}
