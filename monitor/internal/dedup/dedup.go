// Package dedup tracks listing identity across the queries of one run.
package dedup

// Set admits each key exactly once. All queries in a run share one Set, so
// a listing matched by several saved searches yields a single feed item,
// attributed to the first query that surfaced it. Scope is one run: the
// next run starts with a fresh Set and re-admits everything still listed.
type Set struct {
	seen map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Admit reports whether key is new, marking it seen either way.
func (s *Set) Admit(key string) bool {
	if _, dup := s.seen[key]; dup {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys admitted so far.
func (s *Set) Len() int { return len(s.seen) }
