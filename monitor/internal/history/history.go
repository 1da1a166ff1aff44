// Package history records what each run observed, in SQLite.
//
// History is observability only: the monitor's feed, state, and alert
// decisions never read it. One checks row per query per run, plus a
// listings table tracking when each listing was first and last seen.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/bidwatch/dbopen"
	"github.com/hazyhaar/bidwatch/idgen"
)

// Check statuses.
const (
	StatusOK    = "ok"    // fetch succeeded, results present
	StatusEmpty = "empty" // fetch succeeded, zero results
	StatusError = "error" // fetch failed
)

// Schema is applied idempotently on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS checks (
    id            TEXT PRIMARY KEY,
    query_url     TEXT NOT NULL,
    query_name    TEXT NOT NULL,
    status        TEXT NOT NULL,
    result_count  INTEGER NOT NULL DEFAULT 0,
    new_listings  INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    checked_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checks_query ON checks(query_url, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_checks_time ON checks(checked_at DESC);

CREATE TABLE IF NOT EXISTS listings (
    url         TEXT PRIMARY KEY,
    title       TEXT NOT NULL DEFAULT '',
    image_url   TEXT NOT NULL DEFAULT '',
    query_name  TEXT NOT NULL DEFAULT '',
    first_seen  INTEGER NOT NULL,
    last_seen   INTEGER NOT NULL,
    times_seen  INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_listings_last_seen ON listings(last_seen DESC);
`

// Check is one query observation within a run.
type Check struct {
	ID          string    `json:"id"`
	QueryURL    string    `json:"query_url"`
	QueryName   string    `json:"query_name"`
	Status      string    `json:"status"`
	ResultCount int       `json:"result_count"`
	NewListings int       `json:"new_listings"`
	DurationMs  int64     `json:"duration_ms"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Sighting is one listing observed by a run.
type Sighting struct {
	URL       string
	Title     string
	ImageURL  string
	QueryName string
}

// Stats summarizes the history database for the status endpoint.
type Stats struct {
	TotalChecks   int       `json:"total_checks"`
	TotalListings int       `json:"total_listings"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// Store wraps the history database.
type Store struct {
	db    *sql.DB
	owned bool
	newID idgen.Generator
}

// Open opens (or creates) the history database at path with the schema
// applied.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s := New(db)
	s.owned = true
	return s, nil
}

// New wraps an already-opened database. The schema must be applied by the
// caller (tests use dbopen.OpenMemory with WithSchema(Schema)).
func New(db *sql.DB) *Store {
	return &Store{db: db, newID: idgen.Prefixed("chk_", idgen.UUIDv7())}
}

// Close closes the database when this Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// RecordRun writes one run's checks and sightings in a single transaction.
// Check IDs and zero CheckedAt fields are filled in.
func (s *Store) RecordRun(ctx context.Context, checks []Check, sightings []Sighting) error {
	now := time.Now()
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for i := range checks {
			c := &checks[i]
			if c.ID == "" {
				c.ID = s.newID()
			}
			if c.CheckedAt.IsZero() {
				c.CheckedAt = now
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO checks (id, query_url, query_name, status, result_count,
				new_listings, duration_ms, checked_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.QueryURL, c.QueryName, c.Status, c.ResultCount,
				c.NewListings, c.DurationMs, c.CheckedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("history: insert check: %w", err)
			}
		}
		for _, l := range sightings {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO listings (url, title, image_url, query_name, first_seen, last_seen, times_seen)
				VALUES (?, ?, ?, ?, ?, ?, 1)
				ON CONFLICT(url) DO UPDATE SET
					title      = CASE WHEN excluded.title != '' THEN excluded.title ELSE title END,
					image_url  = CASE WHEN excluded.image_url != '' THEN excluded.image_url ELSE image_url END,
					last_seen  = excluded.last_seen,
					times_seen = times_seen + 1`,
				l.URL, l.Title, l.ImageURL, l.QueryName, now.UnixMilli(), now.UnixMilli())
			if err != nil {
				return fmt.Errorf("history: upsert listing: %w", err)
			}
		}
		return nil
	})
}

// RecentChecks returns check rows, newest first.
func (s *Store) RecentChecks(ctx context.Context, limit int) ([]*Check, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query_url, query_name, status, result_count, new_listings,
		duration_ms, checked_at
		FROM checks ORDER BY checked_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query checks: %w", err)
	}
	defer rows.Close()

	var result []*Check
	for rows.Next() {
		var c Check
		var checkedAt int64
		if err := rows.Scan(&c.ID, &c.QueryURL, &c.QueryName, &c.Status,
			&c.ResultCount, &c.NewListings, &c.DurationMs, &checkedAt); err != nil {
			return nil, fmt.Errorf("history: scan check: %w", err)
		}
		c.CheckedAt = time.UnixMilli(checkedAt)
		result = append(result, &c)
	}
	return result, rows.Err()
}

// FirstSeen returns when url first appeared, false when never seen.
func (s *Store) FirstSeen(ctx context.Context, url string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seen FROM listings WHERE url = ?`, url).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("history: first seen: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// Stats returns aggregate counters.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	var lastMs sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(checked_at) FROM checks`).Scan(&st.TotalChecks, &lastMs)
	if err != nil {
		return nil, fmt.Errorf("history: stats checks: %w", err)
	}
	if lastMs.Valid {
		st.LastCheckedAt = time.UnixMilli(lastMs.Int64)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings`).Scan(&st.TotalListings); err != nil {
		return nil, fmt.Errorf("history: stats listings: %w", err)
	}
	return &st, nil
}
