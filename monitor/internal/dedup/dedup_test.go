package dedup

import "testing"

func TestSet_AdmitOnce(t *testing.T) {
	// WHAT: A key is admitted on first sight and rejected after.
	// WHY: One feed item per listing per run, no matter how many saved
	// searches match it.
	s := New()

	if !s.Admit("https://auctions.example.com/p/drill/1") {
		t.Error("first Admit returned false")
	}
	if s.Admit("https://auctions.example.com/p/drill/1") {
		t.Error("second Admit returned true")
	}
	if !s.Admit("https://auctions.example.com/p/saw/2") {
		t.Error("unrelated key rejected")
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len = %d, want 2", got)
	}
}

func TestSet_FirstQueryWins(t *testing.T) {
	// WHAT: Interleaved admissions from two queries keep first-seen order.
	// WHY: Feed order follows query order, then document order; the
	// shared set must not reshuffle it.
	s := New()

	var order []string
	for _, url := range []string{"a", "b", "b", "c", "a"} {
		if s.Admit(url) {
			order = append(order, url)
		}
	}

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("admitted %d keys, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}
