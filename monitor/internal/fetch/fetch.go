// Package fetch retrieves search pages over plain HTTP or through a real
// browser session.
//
// The HTTP fetcher covers marketplaces that render results server-side. The
// Browser fetcher drives Chrome via Rod for sites that build the result grid
// client-side or fence it behind a login; it replays a captured storage
// state (cookies plus localStorage) before navigating.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultUserAgent mirrors a desktop Chrome. Marketplaces serve degraded or
// blocked pages to obvious bot agents.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// Result contains one fetched search page.
type Result struct {
	Body     []byte
	FinalURL string // URL after redirects; anchors relative links on the page
	Status   int    // HTTP status code; zero for browser fetches
}

// Fetcher retrieves the HTML of a search page. Implementations must be
// safe for concurrent use.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// Config configures the HTTP fetcher.
type Config struct {
	Timeout  time.Duration // HTTP timeout. Default: 30s.
	MaxBytes int64         // Max response body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024 // 10MB
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// HTTP fetches pages with a plain HTTP client.
type HTTP struct {
	client *http.Client
	config Config
}

// NewHTTP creates an HTTP fetcher with a bounded redirect chain.
func NewHTTP(cfg Config) *HTTP {
	cfg.defaults()
	return &HTTP{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		},
		config: cfg,
	}
}

// Fetch retrieves a URL. Any non-2xx status is an error: a block page or an
// outage page must read as a failed check, never as zero results.
func (h *HTTP) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", h.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	final := url
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Result{FinalURL: final, Status: resp.StatusCode}, fmt.Errorf("http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Result{
		Body:     body,
		FinalURL: final,
		Status:   resp.StatusCode,
	}, nil
}
