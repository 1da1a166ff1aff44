// Package alert decides when a scalar count observation is worth telling a
// human about, and delivers the notification.
package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Policy selects which observations fire.
type Policy int

const (
	// PolicyTransition fires only when a query goes from zero results to
	// some. Quiet while results persist, re-arms when they drop back to
	// zero.
	PolicyTransition Policy = iota
	// PolicyAlways fires on every run that observes results.
	PolicyAlways
)

// Decide reports whether the observed count warrants an alert. prev is the
// count persisted by the previous run; a query never seen before carries
// prev zero. A current count of zero never fires.
func Decide(prev, current int, p Policy) bool {
	if current <= 0 {
		return false
	}
	if p == PolicyTransition {
		return prev == 0
	}
	return true
}

// Alert describes one firing query.
type Alert struct {
	QueryName string    `json:"query_name"`
	QueryURL  string    `json:"query_url"`
	Count     int       `json:"count"`
	Prev      int       `json:"prev"`
	At        time.Time `json:"at"`
}

// Notifier delivers alerts. Implementations must be safe for concurrent
// use; delivery failure is the caller's to log, never to abort a run over.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Console writes one human-readable line per alert.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console notifier writing to w, os.Stdout when nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{w: w}
}

// Notify implements Notifier.
func (c *Console) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[ALERT] %s: %d results -> %s\n", a.QueryName, a.Count, a.QueryURL)
	return err
}
