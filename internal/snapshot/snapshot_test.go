package snapshot

import "testing"

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.Get("step1"); ok {
		t.Fatalf("expected no snapshots in a fresh store")
	}
}

func TestPutSaveLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Put(RequestSnapshot{StepID: "s1", Method: "GET", URL: "https://example.com", CapturedAt: 1000})
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := Load(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	snap, ok := reloaded.Get("s1")
	if !ok || snap.URL != "https://example.com" {
		t.Fatalf("expected round-tripped snapshot, got %+v ok=%v", snap, ok)
	}
}
