package driver

import "testing"

func TestNewSessionRejectsProfilePersistenceWithoutPackDir(t *testing.T) {
	_, err := NewSession(nil, Options{Persistence: PersistenceProfile})
	if err == nil {
		t.Fatalf("expected error when persistence=profile has no PackDir")
	}
}

func TestNewSessionRejectsUnknownPersistence(t *testing.T) {
	_, err := NewSession(nil, Options{Persistence: "bogus", PackDir: t.TempDir()})
	if err == nil {
		t.Fatalf("expected error for unknown persistence mode")
	}
}

func TestSessionTTLIsPositive(t *testing.T) {
	if SessionTTL() <= 0 {
		t.Fatalf("expected a positive session TTL")
	}
}
