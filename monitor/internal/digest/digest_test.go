package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return func() time.Time { return at }
}

func TestWrite_ListingsRun(t *testing.T) {
	// WHAT: A listings run renders frontmatter, per-query sections, and
	// card markdown into a timestamped file.
	// WHY: This is the digest's whole contract; downstream indexers key
	// on the frontmatter and section layout.
	dir := t.TempDir()
	w := NewWriter(dir, WithClock(fixedClock()))

	path, err := w.Write(Run{
		Mode: "listings",
		Queries: []QuerySection{
			{
				Name:   "tool chests",
				URL:    "https://x.example/s?q=tool+chest",
				Status: "ok",
				Listings: []Listing{{
					Title:    "DeWalt Drill",
					URL:      "https://x.example/p/dewalt-drill/101",
					ImageURL: "https://cdn.example.com/101.jpg",
					CardHTML: `<div><a href="/p/dewalt-drill/101"><b>DeWalt Drill</b></a> great condition</div>`,
				}},
			},
			{Name: "saws", URL: "https://x.example/s?q=saw", Status: "empty"},
		},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if want := filepath.Join(dir, "run-20260314-092653.md"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)

	for _, want := range []string{
		"generated: 2026-03-14T09:26:53Z",
		"mode: listings",
		"queries: 2",
		"listings: 1",
		"## tool chests",
		"### [DeWalt Drill](https://x.example/p/dewalt-drill/101)",
		"**DeWalt Drill**", // card HTML converted to markdown
		"## saws",
		"No results.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("digest missing %q\n%s", want, text)
		}
	}
	if strings.Contains(text, "<div>") {
		t.Error("digest leaked raw card HTML")
	}
}

func TestWrite_CountRun(t *testing.T) {
	// WHAT: A count run lists per-query counts with search links.
	// WHY: Count mode has no listings; the digest still records what
	// each query saw.
	dir := t.TempDir()
	w := NewWriter(dir, WithClock(fixedClock()))

	path, err := w.Write(Run{
		Mode: "count",
		Queries: []QuerySection{
			{Name: "drills", URL: "https://x.example/s?q=drill", Status: "ok", Count: 14},
			{Name: "lathes", URL: "https://x.example/s?q=lathe", Status: "error"},
		},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, _ := os.ReadFile(path)
	text := string(data)

	if !strings.Contains(text, "14 items found. [Open search](https://x.example/s?q=drill)") {
		t.Errorf("digest missing count line\n%s", text)
	}
	if !strings.Contains(text, "Check failed; previous state retained.") {
		t.Errorf("digest missing error section\n%s", text)
	}
}

func TestWrite_BadCardFallsBack(t *testing.T) {
	// WHAT: A card that converts to nothing falls back to the image
	// line instead of an empty section.
	// WHY: Card markup comes off scraped pages; conversion quality is
	// best-effort and must never fail the digest.
	dir := t.TempDir()
	w := NewWriter(dir, WithClock(fixedClock()))

	path, err := w.Write(Run{
		Mode: "listings",
		Queries: []QuerySection{{
			Name:   "q",
			URL:    "https://x.example/s",
			Status: "ok",
			Listings: []Listing{{
				Title:    "Drill",
				URL:      "https://x.example/p/drill/1",
				ImageURL: "https://cdn.example.com/1.jpg",
				CardHTML: "<script>x</script>", // converts to nothing
			}},
		}},
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "![Drill](https://cdn.example.com/1.jpg)") {
		t.Errorf("digest missing image fallback\n%s", data)
	}
}

func TestWrite_NoTempLeftovers(t *testing.T) {
	// WHAT: After a successful write only the final file exists.
	// WHY: Consumers watch the directory; a lingering .tmp would be
	// picked up as a half-written digest.
	dir := t.TempDir()
	w := NewWriter(dir, WithClock(fixedClock()))

	if _, err := w.Write(Run{Mode: "count"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir holds %d entries, want 1", len(entries))
	}
	if strings.HasSuffix(entries[0].Name(), ".tmp") {
		t.Errorf("leftover temp file %q", entries[0].Name())
	}
}
