package monitor

import (
	"time"

	"github.com/hazyhaar/bidwatch/monitor/internal/extract"
	"github.com/hazyhaar/bidwatch/monitor/internal/fetch"
	"github.com/hazyhaar/bidwatch/monitor/internal/history"
)

// Per-query check statuses.
const (
	StatusOK    = history.StatusOK
	StatusEmpty = history.StatusEmpty
	StatusError = history.StatusError
)

// Listing is one result extracted from a search page. Re-exported from
// internal.
type Listing = extract.Listing

// Session is a captured browser storage state. Re-exported from internal.
type Session = fetch.Session

// CaptureConfig configures an interactive session capture. Re-exported from
// internal.
type CaptureConfig = fetch.CaptureConfig

// HistoryCheck is one persisted query observation. Re-exported from
// internal.
type HistoryCheck = history.Check

// HistoryStats summarizes the history database. Re-exported from internal.
type HistoryStats = history.Stats

// Report summarizes one completed run.
type Report struct {
	Mode       string        `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	FeedItems  int           `json:"feed_items"`
	Alerts     int           `json:"alerts"`
	Queries    []QueryReport `json:"queries"`
}

// QueryReport is one query's outcome within a run.
type QueryReport struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Status      string `json:"status"`
	Count       int    `json:"count"`
	NewListings int    `json:"new_listings,omitempty"`
	Alerted     bool   `json:"alerted,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Error       string `json:"error,omitempty"`
}
