// Package digest writes one markdown file per run: what each query
// returned, with listing cards converted from HTML to markdown.
//
// Digests are a side output for humans and downstream indexers. Files are
// written atomically (write .tmp then rename) so a consumer watching the
// directory never reads a partial run.
package digest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
)

// Listing is one listing rendered into a digest.
type Listing struct {
	Title    string
	URL      string
	ImageURL string
	CardHTML string // sanitized card markup; converted to markdown, may be empty
}

// QuerySection is one query's contribution to a digest.
type QuerySection struct {
	Name     string
	URL      string
	Status   string // ok | empty | error
	Count    int
	Listings []Listing
}

// Run is everything a digest renders.
type Run struct {
	Mode    string // count | listings
	Queries []QuerySection
}

// Option configures a Writer.
type Option func(*Writer)

// WithClock replaces the time source used for file names and frontmatter.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer deposits run digests into a directory.
type Writer struct {
	dir  string
	conv *converter.Converter
	now  func() time.Time
}

// NewWriter creates a Writer targeting dir. The directory is created on
// first write.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{
		dir: dir,
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write renders run as markdown and writes it atomically. Returns the path
// of the written file.
func (w *Writer) Write(run Run) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("digest: mkdir %s: %w", w.dir, err)
	}

	at := w.now().UTC()
	target := filepath.Join(w.dir, "run-"+at.Format("20060102-150405")+".md")
	tmp := target + ".tmp"

	content := w.render(run, at)
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("digest: write tmp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("digest: rename: %w", err)
	}
	return target, nil
}

func (w *Writer) render(run Run, at time.Time) string {
	total := 0
	for _, q := range run.Queries {
		total += len(q.Listings)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString("generated: " + at.Format(time.RFC3339) + "\n")
	b.WriteString("mode: " + run.Mode + "\n")
	b.WriteString(fmt.Sprintf("queries: %d\n", len(run.Queries)))
	if run.Mode == "listings" {
		b.WriteString(fmt.Sprintf("listings: %d\n", total))
	}
	b.WriteString("---\n\n")

	b.WriteString("# Saved-search digest " + at.Format("2006-01-02 15:04 MST") + "\n")

	for _, q := range run.Queries {
		b.WriteString("\n## " + q.Name + "\n\n")
		switch q.Status {
		case "error":
			b.WriteString("Check failed; previous state retained.\n")
			continue
		case "empty":
			b.WriteString("No results.\n")
			continue
		}

		if run.Mode == "count" {
			b.WriteString(fmt.Sprintf("%d items found. [Open search](%s)\n", q.Count, q.URL))
			continue
		}

		b.WriteString(fmt.Sprintf("%d listing(s).\n", len(q.Listings)))
		for _, l := range q.Listings {
			b.WriteString(fmt.Sprintf("\n### [%s](%s)\n\n", l.Title, l.URL))
			if card := w.cardMarkdown(l); card != "" {
				b.WriteString(card + "\n")
			}
		}
	}
	return b.String()
}

// cardMarkdown converts the listing's card HTML to markdown. Conversion
// failure or empty output falls back to a plain title/image line; a bad
// card never fails the digest.
func (w *Writer) cardMarkdown(l Listing) string {
	fallback := ""
	if l.ImageURL != "" {
		fallback = "![" + l.Title + "](" + l.ImageURL + ")"
	}
	if l.CardHTML == "" {
		return fallback
	}
	md, err := w.conv.ConvertString(l.CardHTML, converter.WithDomain(l.URL))
	if err != nil || strings.TrimSpace(md) == "" {
		return fallback
	}
	return strings.TrimSpace(md)
}
