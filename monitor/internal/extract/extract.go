// Package extract pulls result signals out of fetched search pages.
//
// Two shapes of signal exist. Count extraction finds the "<N> items found"
// phrase retail search pages print above their result grid. Listing
// extraction walks the result grid itself and returns one record per
// listing anchor: absolute URL, display title, thumbnail image, and a
// sanitized copy of the surrounding card markup.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ErrPattern reports a count or listing pattern that cannot be used.
var ErrPattern = errors.New("extract: invalid pattern")

const (
	// minTitleLen filters out icon glyphs and ellipsis-only anchors.
	minTitleLen = 3

	// maxCardBytes caps the card snippet; a listing anchor whose nearest
	// container is a page-level div would otherwise drag the whole page
	// into the snippet.
	maxCardBytes = 16 << 10

	fallbackTitle = "listing"
)

// Config holds the extraction patterns. All three are compiled
// case-insensitively, matching how the phrases appear in the wild
// ("143 Items Found", "143 items found").
type Config struct {
	// CountPattern captures the scalar result count in group 1.
	CountPattern string
	// ZeroPattern marks a page that truly has no results, even when the
	// site pads the grid with suggested items.
	ZeroPattern string
	// ListingPattern matches the raw href of a listing anchor.
	ListingPattern string
}

func (c *Config) defaults() {
	if c.CountPattern == "" {
		c.CountPattern = `(\d+)\s+items\s+found`
	}
	if c.ZeroPattern == "" {
		c.ZeroPattern = `0\s+items\s+found\s+when\s+searching\s+for`
	}
	if c.ListingPattern == "" {
		c.ListingPattern = `^/p/.*/(\d+)$`
	}
}

// Listing is one result extracted from a search page.
type Listing struct {
	URL      string // absolute listing URL
	Title    string // never empty
	ImageURL string // absolute thumbnail URL, may be empty
	Card     string // sanitized HTML snippet of the listing card, may be empty
}

// Extractor applies the configured patterns to fetched pages.
// It is safe for concurrent use.
type Extractor struct {
	countRe   *regexp.Regexp
	zeroRe    *regexp.Regexp
	listingRe *regexp.Regexp
	policy    *bluemonday.Policy
}

// New compiles the patterns in cfg. Zero-value fields fall back to the
// defaults above. The count pattern must carry a capture group for the
// numeric value.
func New(cfg Config) (*Extractor, error) {
	cfg.defaults()

	countRe, err := regexp.Compile(`(?i)` + cfg.CountPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: count %q: %v", ErrPattern, cfg.CountPattern, err)
	}
	if countRe.NumSubexp() < 1 {
		return nil, fmt.Errorf("%w: count %q: missing capture group", ErrPattern, cfg.CountPattern)
	}
	zeroRe, err := regexp.Compile(`(?i)` + cfg.ZeroPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: zero %q: %v", ErrPattern, cfg.ZeroPattern, err)
	}
	listingRe, err := regexp.Compile(`(?i)` + cfg.ListingPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %q: %v", ErrPattern, cfg.ListingPattern, err)
	}

	return &Extractor{
		countRe:   countRe,
		zeroRe:    zeroRe,
		listingRe: listingRe,
		policy:    bluemonday.UGCPolicy(),
	}, nil
}

// Count returns the scalar result count from body. A page without the
// count phrase reads as zero results, not as an error: search pages
// routinely omit the phrase when the result set is empty.
func (e *Extractor) Count(body []byte) int {
	m := e.countRe.FindSubmatch(body)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return 0
	}
	return n
}

// ZeroResults reports whether the page's visible text carries the explicit
// zero-results phrase. Listings honors the phrase on its own; this is for
// callers that must tell "search with no results" apart from "page without
// a result grid", which an empty Listings return cannot.
func (e *Extractor) ZeroResults(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	return e.zeroRe.MatchString(pageText(doc))
}

// Listings returns the listing records found in body, in document order,
// de-duplicated by absolute URL. base is the final fetched URL and anchors
// relative hrefs and image sources.
//
// When the page's visible text carries the zero-results phrase, Listings
// returns nil regardless of what anchors exist: the grid below that phrase
// holds suggested items, not results.
func (e *Extractor) Listings(body []byte, base *url.URL) ([]Listing, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse page: %w", err)
	}

	if e.zeroRe.MatchString(pageText(doc)) {
		return nil, nil
	}

	var out []Listing
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || !e.listingRe.MatchString(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		out = append(out, Listing{
			URL:      abs,
			Title:    e.listingTitle(a, href),
			ImageURL: e.listingImage(a, base),
			Card:     e.cardSnippet(a),
		})
	})
	return out, nil
}

// listingTitle resolves the display title for a listing anchor. Candidates
// shorter than minTitleLen are skipped; the slug fallback never comes back
// empty.
func (e *Extractor) listingTitle(a *goquery.Selection, href string) string {
	if t := squash(a.AttrOr("aria-label", "")); len(t) >= minTitleLen {
		return t
	}
	if t := squash(textOf(a)); len(t) >= minTitleLen {
		return t
	}
	if card := a.Closest("div"); card.Length() > 0 {
		h := card.Find("h1,h2,h3,h4,h5,h6").First()
		if t := squash(textOf(h)); len(t) >= minTitleLen {
			return t
		}
	}
	return slugTitle(href)
}

// slugTitle derives a title from the listing URL path: drop the trailing
// numeric id segment, take the last remaining segment, hyphens to spaces.
func slugTitle(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	segs := strings.Split(strings.Trim(href, "/"), "/")
	for len(segs) > 0 && isDigits(segs[len(segs)-1]) {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return fallbackTitle
	}
	t := squash(strings.ReplaceAll(segs[len(segs)-1], "-", " "))
	if t == "" {
		return fallbackTitle
	}
	return t
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// listingImage finds a thumbnail for the anchor: an <img> inside it, else
// inside its nearest container div. Lazy-loading grids park the real URL
// in data-src or srcset, so those are tried after src.
func (e *Extractor) listingImage(a *goquery.Selection, base *url.URL) string {
	img := a.Find("img").First()
	if img.Length() == 0 {
		if card := a.Closest("div"); card.Length() > 0 {
			img = card.Find("img").First()
		}
	}
	if img.Length() == 0 {
		return ""
	}

	src := strings.TrimSpace(img.AttrOr("src", ""))
	if src == "" {
		src = strings.TrimSpace(img.AttrOr("data-src", ""))
	}
	if src == "" {
		if srcset := img.AttrOr("srcset", ""); srcset != "" {
			first := strings.SplitN(srcset, ",", 2)[0]
			if fields := strings.Fields(first); len(fields) > 0 {
				src = fields[0]
			}
		}
	}
	return normalizeImageURL(src, base)
}

// normalizeImageURL resolves protocol-relative and root-relative image
// sources against the fetched page's origin.
func normalizeImageURL(src string, base *url.URL) string {
	switch {
	case src == "":
		return ""
	case strings.HasPrefix(src, "//"):
		return base.Scheme + ":" + src
	case strings.HasPrefix(src, "/"):
		return base.Scheme + "://" + base.Host + src
	default:
		return src
	}
}

// cardSnippet captures the listing's surrounding markup for downstream
// rendering, sanitized so script and event-handler payloads from the
// scraped page never reach feed readers or digest files.
func (e *Extractor) cardSnippet(a *goquery.Selection) string {
	sel := a
	if card := a.Closest("div"); card.Length() > 0 {
		sel = card
	}
	raw, err := goquery.OuterHtml(sel)
	if err != nil || len(raw) > maxCardBytes {
		raw, err = goquery.OuterHtml(a)
		if err != nil {
			return ""
		}
	}
	if len(raw) > maxCardBytes {
		return ""
	}
	return strings.TrimSpace(e.policy.Sanitize(raw))
}

// pageText returns the page's visible text: body text when a body exists,
// the whole document's text for fragments.
func pageText(doc *goquery.Document) string {
	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Selection.Text()
	}
	return text
}

// textOf concatenates the text nodes under a selection. goquery's Text
// walks the same tree; doing it over html.Node keeps the traversal cheap
// when a selection holds several nodes.
func textOf(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return b.String()
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

// squash collapses runs of whitespace to single spaces and trims.
func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
