// Purpose: Owns request-snapshot persistence and the HTTP-only replay path
// (spec.md §4.7).
// Docs: docs/features/feature/flow-runtime/index.md

// snapshot.go — snapshots.json persistence, keyed by step id. Shaped after
// internal/audit/audit_trail.go's append-only-log-plus-query-filter split,
// but snapshots are keyed (one per network_find/network_replay step) rather
// than an append-only timeline, since a run only ever needs the latest
// captured request per step.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const fileName = "snapshots.json"

// ResponseValidation mirrors network_replay's response-validation params
// (spec.md §4.3.2), persisted with the snapshot at capture time rather than
// re-read from the pack at replay time — the pack may have been edited in
// between.
type ResponseValidation struct {
	ExpectedStatus      int      `json:"expectedStatus,omitempty"`
	ExpectedContentType string   `json:"expectedContentType,omitempty"`
	ExpectedKeys        []string `json:"expectedKeys,omitempty"`
}

// RequestSnapshot is a single previously-observed request, recorded during
// a live browser run so a later run can replay it over plain HTTP without a
// browser (spec.md §3's "Request snapshot (persisted)" schema).
type RequestSnapshot struct {
	StepID string `json:"stepId"`
	Method string `json:"method"`
	URL    string `json:"url"`
	// Headers holds every captured header whose name is not in the
	// sensitive set, stored verbatim. SensitiveHeaders names the ones
	// deliberately left out of Headers — their values are never
	// serialized (spec.md §3) and are instead re-resolved from the
	// replaying run's own secret scope.
	Headers          map[string]string `json:"headers"`
	SensitiveHeaders []string          `json:"sensitiveHeaders,omitempty"`
	Body             string            `json:"body,omitempty"`
	CapturedAt       int64             `json:"capturedAt"`
	TTLMs            int64             `json:"ttlMs,omitempty"`
	// Overrides is the network_replay step's overrides param, captured at
	// record time so a later HTTP-only replay applies exactly the override
	// config that was in effect when the snapshot was recorded.
	Overrides          map[string]any      `json:"overrides,omitempty"`
	ResponseValidation ResponseValidation  `json:"responseValidation,omitempty"`
}

// Store is the on-disk snapshots.json contents, keyed by step id.
type Store struct {
	dir       string
	snapshots map[string]RequestSnapshot
}

// Load reads snapshots.json from dir, or returns an empty Store if absent.
func Load(dir string) (*Store, error) {
	path := filepath.Join(dir, fileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{dir: dir, snapshots: map[string]RequestSnapshot{}}, nil
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	var snaps map[string]RequestSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	return &Store{dir: dir, snapshots: snaps}, nil
}

// Get returns the snapshot recorded for stepID, if any.
func (s *Store) Get(stepID string) (RequestSnapshot, bool) {
	snap, ok := s.snapshots[stepID]
	return snap, ok
}

// Put records or replaces the snapshot for a step.
func (s *Store) Put(snap RequestSnapshot) {
	if s.snapshots == nil {
		s.snapshots = map[string]RequestSnapshot{}
	}
	s.snapshots[snap.StepID] = snap
}

// Save writes snapshots.json to the pack directory with 0600 permissions —
// captured headers may include bearer tokens in non-sensitive-named fields
// the redaction allowlist doesn't catch, so the file itself is kept private
// rather than world-readable.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.snapshots, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}
	path := filepath.Join(s.dir, fileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}
