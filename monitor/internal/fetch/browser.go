package fetch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserConfig configures the browser fetcher.
type BrowserConfig struct {
	// SessionFile is a storage-state JSON file replayed before navigation.
	// Empty = fresh profile.
	SessionFile string

	// WaitSelector is a CSS selector that marks a populated result grid.
	// Empty = rely on the load event alone.
	WaitSelector string

	// ZeroText is the literal phrase an empty search prints instead of the
	// grid. When the selector never shows up, the fetcher gives this phrase
	// a short window to paint before snapshotting. Default: "0 items found".
	ZeroText string

	// NavTimeout bounds navigation plus the load event. Default: 45s.
	NavTimeout time.Duration

	// WaitTimeout bounds the result-grid wait. Default: 15s.
	WaitTimeout time.Duration

	Logger *slog.Logger
}

func (c *BrowserConfig) defaults() {
	if c.ZeroText == "" {
		c.ZeroText = "0 items found"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 45 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser fetches pages through Chrome with a stealth profile, replaying a
// captured session so logged-in search pages render their real results.
type Browser struct {
	cfg     BrowserConfig
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	session *Session
	seeded  map[string]bool // origins whose localStorage has been replayed
	closed  bool
}

// NewBrowser creates a browser fetcher. Call Start to launch Chrome.
func NewBrowser(cfg BrowserConfig) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg, seeded: make(map[string]bool)}
}

// Start launches Chrome, connects, and applies the session cookies. A
// configured session file that cannot be read is an error: the operator
// asked for a logged-in fetch and a fresh profile would silently return
// logged-out pages.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("fetch: browser is closed")
	}
	if b.browser != nil {
		return nil
	}

	if b.cfg.SessionFile != "" {
		s, err := LoadSession(b.cfg.SessionFile)
		if err != nil {
			return fmt.Errorf("fetch: session: %w", err)
		}
		b.session = s
	}

	l := launcher.New().Headless(true)
	// Anti-detection flags.
	l = l.Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("fetch: launch chrome: %w", err)
	}

	br := rod.New().Context(ctx).ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("fetch: connect chrome: %w", err)
	}
	b.lnch = l
	b.browser = br

	if b.session != nil && len(b.session.Cookies) > 0 {
		if err := br.SetCookies(b.session.CookieParams()); err != nil {
			return fmt.Errorf("fetch: set session cookies: %w", err)
		}
		b.cfg.Logger.Info("fetch: session cookies applied",
			"file", b.cfg.SessionFile, "count", len(b.session.Cookies))
	}
	return nil
}

// Fetch opens a stealth tab, replays localStorage for the target origin on
// its first visit, navigates, waits for the result grid, and snapshots the
// rendered DOM.
func (b *Browser) Fetch(ctx context.Context, target string) (*Result, error) {
	br := b.handle()
	if br == nil {
		return nil, fmt.Errorf("fetch: browser not started")
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("fetch: create tab: %w", err)
	}
	defer page.Close()

	if err := b.seedLocalStorage(ctx, page, target); err != nil {
		b.cfg.Logger.Warn("fetch: localStorage replay failed", "url", target, "error", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(target); err != nil {
		return nil, fmt.Errorf("fetch: navigate %s: %w", target, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("fetch: wait load timeout", "url", target, "error", err)
	}
	b.waitForResults(ctx, page)

	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetch: snapshot DOM: %w", err)
	}

	final := target
	if info, err := page.Context(ctx).Info(); err == nil && info.URL != "" {
		final = info.URL
	}

	return &Result{Body: []byte(res.Value.Str()), FinalURL: final}, nil
}

// Close shuts down Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

func (b *Browser) handle() *rod.Browser {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.browser
}

// seedLocalStorage replays the captured localStorage of target's origin.
// Single-page marketplaces read auth tokens from localStorage on boot, so
// the items must exist before the first real navigation renders. Each
// origin is seeded once per browser lifetime; localStorage persists across
// tabs of the same profile.
func (b *Browser) seedLocalStorage(ctx context.Context, page *rod.Page, target string) error {
	if b.session == nil {
		return nil
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil
	}
	origin := u.Scheme + "://" + u.Host

	b.mu.Lock()
	done := b.seeded[origin]
	b.mu.Unlock()
	if done {
		return nil
	}
	items := b.session.LocalStorage(origin)
	if len(items) == 0 {
		return nil
	}

	seedCtx, cancel := context.WithTimeout(ctx, b.cfg.NavTimeout)
	defer cancel()

	if err := page.Context(seedCtx).Navigate(origin); err != nil {
		return fmt.Errorf("navigate origin %s: %w", origin, err)
	}
	if err := page.Context(seedCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("fetch: origin load timeout", "origin", origin, "error", err)
	}
	for _, it := range items {
		if _, err := page.Context(seedCtx).Eval(`(k, v) => localStorage.setItem(k, v)`, it.Name, it.Value); err != nil {
			return fmt.Errorf("set localStorage %q: %w", it.Name, err)
		}
	}

	b.mu.Lock()
	b.seeded[origin] = true
	b.mu.Unlock()

	b.cfg.Logger.Info("fetch: localStorage replayed", "origin", origin, "items", len(items))
	return nil
}

// waitForResults waits for the result grid, best effort: client-side grids
// render well after the load event. When the grid never appears the
// zero-results phrase gets a short window to paint, so an empty search is
// snapshotted with its phrase visible rather than mid-render.
func (b *Browser) waitForResults(ctx context.Context, page *rod.Page) {
	if b.cfg.WaitSelector == "" {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, b.cfg.WaitTimeout)
	defer cancel()
	if _, err := page.Context(waitCtx).Element(b.cfg.WaitSelector); err == nil {
		return
	}

	zeroCtx, cancel2 := context.WithTimeout(ctx, 2*time.Second)
	defer cancel2()
	if _, err := page.Context(zeroCtx).ElementR("body", "/"+jsRegexQuote(b.cfg.ZeroText)+"/i"); err != nil {
		b.cfg.Logger.Warn("fetch: results never rendered", "selector", b.cfg.WaitSelector)
	}
}

// jsRegexQuote escapes s for literal use inside a JS regex, including the
// slash delimiters ElementR parses.
func jsRegexQuote(s string) string {
	var out strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`\.+*?()|[]{}^$/`, r) {
			out.WriteByte('\\')
		}
		out.WriteRune(r)
	}
	return out.String()
}

// CaptureConfig configures an interactive session capture.
type CaptureConfig struct {
	// URL is where the visible browser opens; log in there.
	URL string
	// OutPath receives the storage-state JSON.
	OutPath string
	// Prompt receives operator instructions.
	Prompt io.Writer
	// Confirm is read until one line arrives; pressing Enter captures.
	Confirm io.Reader
	Logger  *slog.Logger
}

// CaptureSession opens a visible browser on cfg.URL, waits for the operator
// to log in and press Enter, then writes the browser's cookies and the
// current page's localStorage to cfg.OutPath as a storage state the Browser
// fetcher can replay.
func CaptureSession(ctx context.Context, cfg CaptureConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := launcher.New().Headless(false)
	l = l.Set("disable-blink-features", "AutomationControlled")

	u, err := l.Launch()
	if err != nil {
		return fmt.Errorf("fetch: launch chrome: %w", err)
	}
	defer l.Cleanup()

	br := rod.New().Context(ctx).ControlURL(u)
	if err := br.Connect(); err != nil {
		return fmt.Errorf("fetch: connect chrome: %w", err)
	}
	defer br.Close()

	page, err := stealth.Page(br)
	if err != nil {
		return fmt.Errorf("fetch: create tab: %w", err)
	}
	if err := page.Context(ctx).Navigate(cfg.URL); err != nil {
		return fmt.Errorf("fetch: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		logger.Warn("fetch: wait load timeout", "url", cfg.URL, "error", err)
	}

	fmt.Fprintln(cfg.Prompt, "A browser window is open on "+cfg.URL+".")
	fmt.Fprintln(cfg.Prompt, "Log in (solve any captcha), then come back here and press Enter.")

	sc := bufio.NewScanner(cfg.Confirm)
	sc.Scan()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("fetch: read confirmation: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cookies, err := br.GetCookies()
	if err != nil {
		return fmt.Errorf("fetch: get cookies: %w", err)
	}

	s := &Session{Cookies: make([]SessionCookie, 0, len(cookies))}
	for _, c := range cookies {
		s.Cookies = append(s.Cookies, SessionCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}

	origin, items, err := captureLocalStorage(ctx, page)
	if err != nil {
		logger.Warn("fetch: localStorage capture failed", "error", err)
	} else if origin != "" {
		s.Origins = append(s.Origins, SessionOrigin{Origin: origin, LocalStorage: items})
	}

	if err := s.Save(cfg.OutPath); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	logger.Info("fetch: session captured",
		"path", cfg.OutPath, "cookies", len(s.Cookies), "origins", len(s.Origins))
	return nil
}

// captureLocalStorage reads every localStorage item of the page the
// operator ended on.
func captureLocalStorage(ctx context.Context, page *rod.Page) (string, []StorageItem, error) {
	res, err := page.Context(ctx).Eval(`() => {
		const items = [];
		for (let i = 0; i < localStorage.length; i++) {
			const k = localStorage.key(i);
			items.push({ name: k, value: localStorage.getItem(k) });
		}
		return JSON.stringify({ origin: location.origin, items: items });
	}`)
	if err != nil {
		return "", nil, err
	}

	var snap struct {
		Origin string        `json:"origin"`
		Items  []StorageItem `json:"items"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &snap); err != nil {
		return "", nil, fmt.Errorf("parse localStorage snapshot: %w", err)
	}
	return snap.Origin, snap.Items, nil
}
