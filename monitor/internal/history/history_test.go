package history

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/bidwatch/dbopen"
)

func memStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestRecordRun_Checks(t *testing.T) {
	// WHAT: A recorded run's check rows come back with IDs assigned,
	// newest first.
	// WHY: The status endpoint renders these rows; order and identity
	// must hold without the caller managing either.
	s := memStore(t)
	ctx := context.Background()

	err := s.RecordRun(ctx, []Check{
		{QueryURL: "https://x.example/s?q=a", QueryName: "a", Status: StatusOK, ResultCount: 3, DurationMs: 120},
		{QueryURL: "https://x.example/s?q=b", QueryName: "b", Status: StatusEmpty},
	}, nil)
	if err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := s.RecentChecks(ctx, 10)
	if err != nil {
		t.Fatalf("RecentChecks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("checks = %d, want 2", len(got))
	}
	for _, c := range got {
		if c.ID == "" {
			t.Errorf("check %q has empty id", c.QueryURL)
		}
		if c.CheckedAt.IsZero() {
			t.Errorf("check %q has zero checked_at", c.QueryURL)
		}
	}
}

func TestRecordRun_ListingUpsert(t *testing.T) {
	// WHAT: The same listing URL seen across runs stays one row with
	// times_seen incremented and first_seen preserved.
	// WHY: The listings table answers "how long has this been listed";
	// duplicate rows or a moving first_seen would make it lie.
	s := memStore(t)
	ctx := context.Background()

	sighting := Sighting{
		URL:       "https://x.example/p/drill/101",
		Title:     "Drill",
		QueryName: "tools",
	}
	if err := s.RecordRun(ctx, nil, []Sighting{sighting}); err != nil {
		t.Fatalf("RecordRun (first): %v", err)
	}
	first, ok, err := s.FirstSeen(ctx, sighting.URL)
	if err != nil || !ok {
		t.Fatalf("FirstSeen after first run: ok=%v err=%v", ok, err)
	}

	// Second sighting carries an image the first lacked.
	sighting.ImageURL = "https://cdn.example.com/101.jpg"
	if err := s.RecordRun(ctx, nil, []Sighting{sighting}); err != nil {
		t.Fatalf("RecordRun (second): %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalListings != 1 {
		t.Errorf("TotalListings = %d, want 1 after upsert", stats.TotalListings)
	}

	again, ok, err := s.FirstSeen(ctx, sighting.URL)
	if err != nil || !ok {
		t.Fatalf("FirstSeen after second run: ok=%v err=%v", ok, err)
	}
	if !again.Equal(first) {
		t.Errorf("first_seen moved: %v -> %v", first, again)
	}
}

func TestFirstSeen_Unknown(t *testing.T) {
	// WHAT: An unseen URL reports ok=false without an error.
	// WHY: "never seen" is an answer, not a failure.
	s := memStore(t)

	_, ok, err := s.FirstSeen(context.Background(), "https://x.example/p/ghost/999")
	if err != nil {
		t.Fatalf("FirstSeen: %v", err)
	}
	if ok {
		t.Error("FirstSeen reported a row for an unseen URL")
	}
}

func TestStats_Empty(t *testing.T) {
	// WHAT: Stats on a fresh database return zeros.
	// WHY: The status endpoint runs before the first check completes.
	s := memStore(t)

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalChecks != 0 || stats.TotalListings != 0 {
		t.Errorf("stats = %+v, want zeros", stats)
	}
	if !stats.LastCheckedAt.IsZero() {
		t.Errorf("LastCheckedAt = %v, want zero", stats.LastCheckedAt)
	}
}

func TestRecentChecks_Limit(t *testing.T) {
	// WHAT: The limit caps returned rows.
	// WHY: The table grows by one row per query per run, forever.
	s := memStore(t)
	ctx := context.Background()

	var checks []Check
	for i := 0; i < 5; i++ {
		checks = append(checks, Check{QueryURL: "https://x.example/s", QueryName: "q", Status: StatusOK})
	}
	if err := s.RecordRun(ctx, checks, nil); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := s.RecentChecks(ctx, 3)
	if err != nil {
		t.Fatalf("RecentChecks: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("checks = %d, want 3", len(got))
	}
}
