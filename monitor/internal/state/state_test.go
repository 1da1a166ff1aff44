package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStore_RoundTrip(t *testing.T) {
	// WHAT: Saved counts come back identical on load.
	// WHY: State is the memory between runs; a lossy round trip breaks
	// transition alerting.
	s := New(filepath.Join(t.TempDir(), "state.json"), nil)

	want := map[string]int{
		"https://auctions.example.com/search?query=drill": 14,
		"https://auctions.example.com/search?query=saw":   0,
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if len(got) != len(want) {
		t.Fatalf("Load returned %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Load[%q] = %d, want %d", k, got[k], v)
		}
	}
}

func TestStore_MissingFile(t *testing.T) {
	// WHAT: Loading a nonexistent file yields an empty, usable state.
	// WHY: First run has no state; it must not be an error.
	s := New(filepath.Join(t.TempDir(), "absent.json"), nil)

	got := s.Load()
	if got == nil {
		t.Fatal("Load returned nil map")
	}
	if len(got) != 0 {
		t.Fatalf("Load returned %d entries, want 0", len(got))
	}
}

func TestStore_CorruptFile(t *testing.T) {
	// WHAT: A malformed state file loads as empty instead of failing.
	// WHY: A truncated write or hand edit must not wedge the monitor;
	// transition alerting restarts from zero.
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := New(path, nil)
	got := s.Load()
	if len(got) != 0 {
		t.Fatalf("Load returned %d entries, want 0", len(got))
	}
}

func TestStore_FileIsHumanDiffable(t *testing.T) {
	// WHAT: The file is indented JSON with sorted keys and a trailing
	// newline.
	// WHY: Operators keep state files in git to audit what the monitor
	// saw; stable formatting keeps the diffs readable.
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil)

	if err := s.Save(map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.HasSuffix(text, "\n") {
		t.Error("file does not end with a newline")
	}
	if strings.Index(text, `"a"`) > strings.Index(text, `"b"`) {
		t.Error("keys not sorted")
	}
	if !strings.Contains(text, "  \"a\": 1") {
		t.Errorf("unexpected formatting:\n%s", text)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	// WHAT: A second save fully replaces the first.
	// WHY: Counts must reflect the latest run only; stale keys persist
	// solely when the caller carries them forward.
	path := filepath.Join(t.TempDir(), "state.json")
	s := New(path, nil)

	if err := s.Save(map[string]int{"old": 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(map[string]int{"new": 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if _, ok := got["old"]; ok {
		t.Error("overwritten key survived")
	}
	if got["new"] != 2 {
		t.Errorf("Load[new] = %d, want 2", got["new"])
	}
}
