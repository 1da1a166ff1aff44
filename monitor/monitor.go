// Package monitor polls saved marketplace searches and turns the results
// into an RSS feed.
//
// Each run fetches every configured query, extracts either a scalar result
// count or the listing records themselves, compares against the state left
// by the previous run, and rewrites the feed file. Count mode raises alerts
// when a query that had nothing suddenly has results. Listings mode emits
// one item per listing and deduplicates listings that several saved
// searches surface. Feed and state are written atomically, so a reader
// polling mid-run never sees a torn file.
package monitor

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/bidwatch/monitor/internal/alert"
	"github.com/hazyhaar/bidwatch/monitor/internal/config"
	"github.com/hazyhaar/bidwatch/monitor/internal/dedup"
	"github.com/hazyhaar/bidwatch/monitor/internal/digest"
	"github.com/hazyhaar/bidwatch/monitor/internal/extract"
	"github.com/hazyhaar/bidwatch/monitor/internal/feed"
	"github.com/hazyhaar/bidwatch/monitor/internal/fetch"
	"github.com/hazyhaar/bidwatch/monitor/internal/history"
	"github.com/hazyhaar/bidwatch/monitor/internal/state"
)

// Monitor is the main orchestrator. Create one per configuration.
type Monitor struct {
	cfg       *config.Config
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	states    *state.Store
	builder   *feed.Builder
	notifiers []alert.Notifier
	policy    alert.Policy
	hist      *history.Store
	digests   *digest.Writer
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	latestFeed []byte
	lastReport *Report
}

// Option configures a Monitor during creation.
type Option func(*Monitor)

// WithFetcher replaces the fetcher built from configuration.
func WithFetcher(f fetch.Fetcher) Option {
	return func(m *Monitor) { m.fetcher = f }
}

// WithNotifiers replaces the notifier set built from configuration.
func WithNotifiers(ns ...alert.Notifier) Option {
	return func(m *Monitor) { m.notifiers = ns }
}

// WithClock replaces the time source used for GUID days, alert timestamps,
// and feed dates.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. cfg is defaulted and validated; a browser or HTTP
// fetcher, notifiers, and the optional history and digest sinks are built
// from it.
func New(cfg *Config, logger *slog.Logger, opts ...Option) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	ex, err := extract.New(extract.Config{
		CountPattern:   cfg.Extract.CountPattern,
		ZeroPattern:    cfg.Extract.ZeroPattern,
		ListingPattern: cfg.Extract.ListingPattern,
	})
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:       cfg,
		extractor: ex,
		states:    state.New(cfg.State.Path, logger),
		policy:    alert.PolicyAlways,
		logger:    logger,
		now:       time.Now,
	}
	if cfg.TransitionOnly() {
		m.policy = alert.PolicyTransition
	}

	if cfg.Fetch.Browser {
		m.fetcher = fetch.NewBrowser(fetch.BrowserConfig{
			SessionFile:  cfg.Fetch.SessionFile,
			WaitSelector: cfg.Fetch.WaitSelector,
			NavTimeout:   cfg.Fetch.Timeout,
			Logger:       logger,
		})
	} else {
		m.fetcher = fetch.NewHTTP(fetch.Config{
			Timeout:   cfg.Fetch.Timeout,
			MaxBytes:  cfg.Fetch.MaxBytes,
			UserAgent: cfg.Fetch.UserAgent,
		})
	}

	// Alerting is a count-mode concern; listings mode publishes everything
	// it finds and keeps quiet.
	if cfg.Mode == config.ModeCount {
		m.notifiers = append(m.notifiers, alert.NewConsole(nil))
		if cfg.Alerts.WebhookURL != "" {
			m.notifiers = append(m.notifiers,
				alert.NewWebhook(cfg.Alerts.WebhookURL, alert.WithWebhookLogger(logger)))
		}
	}

	if cfg.History.Path != "" {
		h, err := history.Open(cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("monitor: open history: %w", err)
		}
		m.hist = h
	}

	for _, opt := range opts {
		opt(m)
	}

	// Clock-dependent components are built after options so an injected
	// clock reaches them.
	m.builder = feed.NewBuilder(feed.Channel{
		Title:       cfg.Feed.Title,
		Link:        cfg.Feed.Link,
		Description: cfg.Feed.Description,
	}, feed.WithClock(m.now))
	if cfg.Digest.Dir != "" {
		m.digests = digest.NewWriter(cfg.Digest.Dir, digest.WithClock(m.now))
	}

	return m, nil
}

// Start launches resources that need an explicit lifecycle, currently the
// browser fetcher. Safe to call when the configuration uses plain HTTP.
func (m *Monitor) Start(ctx context.Context) error {
	if s, ok := m.fetcher.(interface{ Start(context.Context) error }); ok {
		return s.Start(ctx)
	}
	return nil
}

// Close releases the browser and the history database.
func (m *Monitor) Close() error {
	var first error
	if c, ok := m.fetcher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			first = err
		}
	}
	if m.hist != nil {
		if err := m.hist.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run calls RunOnce immediately, then on every interval tick until ctx is
// cancelled. A zero interval means a single run: its error is returned.
// With an interval, failed runs are logged and the loop keeps going; the
// next tick gets a fresh chance.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.RunOnce(ctx); err != nil {
		if m.cfg.Interval <= 0 {
			return err
		}
		m.logger.Error("monitor: run failed", "error", err)
	}
	if m.cfg.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.RunOnce(ctx); err != nil {
				m.logger.Error("monitor: run failed", "error", err)
			}
		}
	}
}

// RunOnce performs one complete check cycle: fetch every query, extract,
// compare against persisted counts, rewrite the feed file, save state, and
// record history and digest outputs. Fetches run concurrently up to the
// configured limit; results are processed in configuration order, so feed
// output is deterministic.
func (m *Monitor) RunOnce(ctx context.Context) (*Report, error) {
	started := m.now()
	counts := m.states.Load()
	outcomes := m.fetchAll(ctx)

	report := &Report{Mode: m.cfg.Mode, StartedAt: started}
	var (
		entries   []feed.Entry
		checks    []history.Check
		sightings []history.Sighting
		sections  []digest.QuerySection
		seen      = dedup.New()
	)

	for i, q := range m.cfg.Queries {
		oc := outcomes[i]
		name := q.DisplayName()
		qr := QueryReport{Name: name, URL: q.URL, DurationMs: oc.ms}
		section := digest.QuerySection{Name: name, URL: q.URL}

		switch {
		case oc.err != nil:
			// The prior count survives a failed fetch. A site outage must
			// not read as "went to zero" and re-arm the transition alert.
			qr.Status = StatusError
			qr.Error = oc.err.Error()
			m.logger.Warn("monitor: check failed",
				"query", name, "url", q.URL, "error", oc.err)

		case m.cfg.Mode == config.ModeCount:
			count, qEntries, alerted := m.processCount(ctx, q, oc.res, counts[q.URL])
			counts[q.URL] = count
			qr.Count = count
			qr.Alerted = alerted
			qr.Status = statusFor(count)
			if alerted {
				report.Alerts++
			}
			entries = append(entries, qEntries...)
			m.logger.Info("monitor: checked",
				"query", name, "count", count, "alerted", alerted)

		default:
			count, qEntries, qSightings, cards := m.processListings(q, oc.res, seen)
			counts[q.URL] = count
			qr.Count = count
			qr.NewListings = len(qSightings)
			qr.Status = statusFor(count)
			entries = append(entries, qEntries...)
			sightings = append(sightings, qSightings...)
			section.Listings = cards
			m.logger.Info("monitor: checked",
				"query", name, "listings", count, "new", qr.NewListings)
		}

		section.Status = qr.Status
		section.Count = qr.Count
		sections = append(sections, section)
		checks = append(checks, history.Check{
			QueryURL:    q.URL,
			QueryName:   name,
			Status:      qr.Status,
			ResultCount: qr.Count,
			NewListings: qr.NewListings,
			DurationMs:  oc.ms,
		})
		report.Queries = append(report.Queries, qr)
	}

	doc, err := m.builder.Build(entries)
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(m.cfg.Feed.Path, doc); err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrOutputWrite, m.cfg.Feed.Path, err)
	}
	if err := m.states.Save(counts); err != nil {
		return nil, fmt.Errorf("%w: state %s: %v", ErrOutputWrite, m.states.Path(), err)
	}

	// History and digests are observability, not outputs: failures are
	// logged and the run still counts as successful.
	if m.hist != nil {
		if err := m.hist.RecordRun(ctx, checks, sightings); err != nil {
			m.logger.Warn("monitor: history record failed", "error", err)
		}
	}
	if m.digests != nil {
		if _, err := m.digests.Write(digest.Run{Mode: m.cfg.Mode, Queries: sections}); err != nil {
			m.logger.Warn("monitor: digest write failed", "error", err)
		}
	}

	report.FinishedAt = m.now()
	report.FeedItems = len(entries)

	m.mu.Lock()
	m.latestFeed = doc
	m.lastReport = report
	m.mu.Unlock()

	m.logger.Info("monitor: run complete",
		"queries", len(m.cfg.Queries), "items", report.FeedItems,
		"alerts", report.Alerts, "elapsed", report.FinishedAt.Sub(started))
	return report, nil
}

// LatestFeed returns a copy of the last feed document built by this
// process, nil before the first completed run.
func (m *Monitor) LatestFeed() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestFeed == nil {
		return nil
	}
	out := make([]byte, len(m.latestFeed))
	copy(out, m.latestFeed)
	return out
}

// LastReport returns the report of the last completed run, nil before the
// first.
func (m *Monitor) LastReport() *Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReport
}

// HistoryStats returns aggregate counters from the history database, nil
// when history is not configured.
func (m *Monitor) HistoryStats(ctx context.Context) (*HistoryStats, error) {
	if m.hist == nil {
		return nil, nil
	}
	return m.hist.Stats(ctx)
}

// RecentChecks returns the newest persisted check rows, up to limit, nil
// when history is not configured.
func (m *Monitor) RecentChecks(ctx context.Context, limit int) ([]*HistoryCheck, error) {
	if m.hist == nil {
		return nil, nil
	}
	return m.hist.RecentChecks(ctx, limit)
}

// CaptureSession opens a visible browser for the operator to log in, then
// writes the storage state to cfg.OutPath for later replay by a browser
// fetcher. See cmd/bidwatch-session.
func CaptureSession(ctx context.Context, cfg CaptureConfig) error {
	return fetch.CaptureSession(ctx, cfg)
}

// fetchOutcome pairs one query's fetch result with its timing.
type fetchOutcome struct {
	res *fetch.Result
	err error
	ms  int64
}

// fetchAll fetches every configured query, at most Concurrency at a time.
// The returned slice is indexed by query position regardless of completion
// order.
func (m *Monitor) fetchAll(ctx context.Context) []fetchOutcome {
	out := make([]fetchOutcome, len(m.cfg.Queries))
	sem := make(chan struct{}, m.cfg.Fetch.Concurrency)
	var wg sync.WaitGroup
	for i, q := range m.cfg.Queries {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				out[i] = fetchOutcome{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			start := time.Now()
			res, err := m.fetcher.Fetch(ctx, target)
			out[i] = fetchOutcome{res: res, err: err, ms: time.Since(start).Milliseconds()}
		}(i, q.URL)
	}
	wg.Wait()
	return out
}

// processCount handles one count-mode query: extract the count, decide the
// alert, and build the feed entry. The GUID is derived from the configured
// URL while the link carries the resolved one, so redirects change where
// the reader lands but never the item identity.
func (m *Monitor) processCount(ctx context.Context, q config.Query, res *fetch.Result, prev int) (count int, entries []feed.Entry, alerted bool) {
	count = m.extractor.Count(res.Body)
	name := q.DisplayName()

	if alert.Decide(prev, count, m.policy) {
		m.notify(ctx, alert.Alert{
			QueryName: name,
			QueryURL:  q.URL,
			Count:     count,
			Prev:      prev,
			At:        m.now(),
		})
		alerted = true
	}

	link := res.FinalURL
	if link == "" {
		link = q.URL
	}
	switch {
	case count > 0:
		entries = append(entries, feed.Entry{
			Title:       fmt.Sprintf("%s — %d results available", name, count),
			Link:        link,
			GUID:        feed.CountGUID(q.URL, count, m.now()),
			Description: fmt.Sprintf("%d items found for this search. Open link to view results.", count),
		})
	case m.cfg.Feed.IncludeEmpty:
		entries = append(entries, emptyEntry(name, q.URL, link))
	}
	return count, entries, alerted
}

// processListings handles one listings-mode query: extract the records,
// admit unseen URLs into the run's dedup set, and build a feed entry per
// admitted listing. The returned count is the pre-dedup page count; it is
// what gets persisted and reported for the query.
func (m *Monitor) processListings(q config.Query, res *fetch.Result, seen *dedup.Set) (count int, entries []feed.Entry, sightings []history.Sighting, cards []digest.Listing) {
	name := q.DisplayName()

	base, err := url.Parse(res.FinalURL)
	if err != nil || base.Scheme == "" {
		base, _ = url.Parse(q.URL) // validated absolute at load time
	}

	listings, err := m.extractor.Listings(res.Body, base)
	if err != nil {
		m.logger.Warn("monitor: listing extraction failed", "query", name, "error", err)
		listings = nil
	}
	count = len(listings)

	if count == 0 {
		if m.cfg.Feed.IncludeEmpty {
			link := res.FinalURL
			if link == "" {
				link = q.URL
			}
			entries = append(entries, emptyEntry(name, q.URL, link))
		}
		return count, entries, nil, nil
	}

	for _, l := range listings {
		if !seen.Admit(l.URL) {
			continue
		}
		entries = append(entries, feed.Entry{
			Title:       l.Title,
			Link:        l.URL,
			GUID:        feed.ListingGUID(l.URL),
			Description: listingDescription(name, l),
			HTML:        true,
			ImageURL:    l.ImageURL,
		})
		sightings = append(sightings, history.Sighting{
			URL:       l.URL,
			Title:     l.Title,
			ImageURL:  l.ImageURL,
			QueryName: name,
		})
		cards = append(cards, digest.Listing{
			Title:    l.Title,
			URL:      l.URL,
			ImageURL: l.ImageURL,
			CardHTML: l.Card,
		})
	}
	return count, entries, sightings, cards
}

// notify fans an alert out to every notifier. Delivery failure is logged,
// never propagated: a dead webhook must not abort the run.
func (m *Monitor) notify(ctx context.Context, a alert.Alert) {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, a); err != nil {
			m.logger.Warn("monitor: alert delivery failed",
				"query", a.QueryName, "error", err)
		}
	}
}

// emptyEntry is the zero-results placeholder published when include_empty
// is set.
func emptyEntry(name, queryURL, link string) feed.Entry {
	return feed.Entry{
		Title:       fmt.Sprintf("%s — 0 results", name),
		Link:        link,
		GUID:        feed.EmptyGUID(queryURL),
		Description: "<p>No results for this search.</p>",
		HTML:        true,
	}
}

// listingDescription renders the CDATA payload of a listing item. The
// fragment reaches readers verbatim, so interpolated values are escaped
// here.
func listingDescription(queryName string, l extract.Listing) string {
	var b strings.Builder
	b.WriteString("<p><em>Matched search:</em> " + html.EscapeString(queryName) + "</p>")
	b.WriteString(`<p><a href="` + html.EscapeString(l.URL) + `">` + html.EscapeString(l.URL) + `</a></p>`)
	if l.ImageURL != "" {
		b.WriteString(`<p><img src="` + html.EscapeString(l.ImageURL) + `" alt="listing image" style="max-width:100%; height:auto;" /></p>`)
	}
	return b.String()
}

func statusFor(count int) string {
	if count > 0 {
		return StatusOK
	}
	return StatusEmpty
}

// writeFileAtomic writes data via a temp file and rename, creating parent
// directories as needed.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".feed-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
