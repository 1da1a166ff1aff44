// Package feed builds the RSS 2.0 document feed readers poll.
//
// Output is deterministic for a given entry list and clock, so a rerun with
// unchanged results produces a byte-identical file. GUIDs are content-derived
// tokens (isPermaLink="false"): readers track read state by GUID, so token
// stability is what keeps reruns from re-surfacing old items as unread.
package feed

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Entry is one feed item to publish.
type Entry struct {
	Title       string
	Link        string
	GUID        string
	Description string // plain text, or an HTML fragment when HTML is set
	HTML        bool   // emit Description as CDATA so readers render it
	ImageURL    string // optional; becomes an image enclosure
}

// Channel identifies the feed itself.
type Channel struct {
	Title       string
	Link        string
	Description string
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock replaces the time source. pubDate and lastBuildDate come from
// it; tests inject a fixed clock for byte-stable output.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// Builder renders RSS 2.0 documents for one channel.
type Builder struct {
	ch  Channel
	now func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(ch Channel, opts ...Option) *Builder {
	b := &Builder{ch: ch, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build renders the channel and entries as an RSS 2.0 document. Entries are
// emitted in the order given and every entry is emitted: suppressing
// zero-result items is the caller's decision, never the builder's.
func (b *Builder) Build(entries []Entry) ([]byte, error) {
	now := b.now().UTC().Format(time.RFC1123Z)

	doc := rssDoc{
		Version: "2.0",
		Channel: rssChannel{
			Title:         b.ch.Title,
			Link:          b.ch.Link,
			Description:   b.ch.Description,
			LastBuildDate: now,
			Items:         make([]rssItem, 0, len(entries)),
		},
	}

	for _, e := range entries {
		item := rssItem{
			Title:   e.Title,
			Link:    e.Link,
			GUID:    rssGUID{IsPermaLink: "false", Value: e.GUID},
			PubDate: now,
		}
		if e.HTML {
			item.Description = rssText{Raw: cdata(e.Description)}
		} else {
			item.Description = rssText{Raw: escapeText(e.Description)}
		}
		if e.ImageURL != "" {
			item.Enclosure = &rssEnclosure{URL: e.ImageURL, Type: "image/jpeg"}
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("feed: marshal rss: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(out)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// --- GUID tokens ---

// CountGUID identifies a count report: one item per query, count, and UTC
// day. A stable count re-surfaces once a day; reruns within the day stay
// read.
func CountGUID(queryURL string, count int, day time.Time) string {
	return token(fmt.Sprintf("%s|%d|%s", queryURL, count, day.UTC().Format("2006-01-02")))
}

// ListingGUID identifies a listing by its absolute URL.
func ListingGUID(listingURL string) string {
	return token(listingURL)
}

// EmptyGUID identifies the zero-results placeholder of a query.
func EmptyGUID(queryURL string) string {
	return token(queryURL + "|0")
}

func token(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// --- RSS 2.0 ---

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string        `xml:"title"`
	Link        string        `xml:"link"`
	GUID        rssGUID       `xml:"guid"`
	Description rssText       `xml:"description"`
	PubDate     string        `xml:"pubDate"`
	Enclosure   *rssEnclosure `xml:"enclosure"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

// rssText carries pre-encoded XML: escaped character data or a CDATA block.
type rssText struct {
	Raw string `xml:",innerxml"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// cdata wraps an HTML fragment for literal delivery. "]]>" inside the
// payload would close the section early, so it is split across two blocks.
func cdata(s string) string {
	return "<![CDATA[" + strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>") + "]]>"
}

func escapeText(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s)) // a bytes.Buffer write cannot fail
	return buf.String()
}
