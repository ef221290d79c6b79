// Purpose: Owns the flow interpreter's per-run mutable state — vars,
// collectibles, hints, and the once-cache (spec.md §4.3).
// Docs: docs/features/feature/flow-runtime/index.md

// state.go — RunState and the once-cache snapshot/restore helpers used by
// skip_if and `once` re-entry.
package flow

import "reflect"

// onceRecord is what a `once` step leaves behind so a later skip can restore
// exactly the vars/collectibles it wrote the first time.
type onceRecord struct {
	vars         map[string]any
	collectibles map[string]any
}

// RunState is the mutable state threaded through one flow execution: the
// template scope (vars/collectibles), accumulated diagnostic hints, and the
// once-cache. It does not own driver/capture/authguard state — those are
// session-scoped collaborators passed into Execute alongside it.
type RunState struct {
	Vars         map[string]any
	Collectibles map[string]any
	Hints        []string

	StepsExecuted int

	onceCache map[string]onceRecord
}

// NewRunState builds an empty RunState with inputs pre-seeded into Vars
// under the inputs.* / vars.* namespaces template.Scope expects.
func NewRunState() *RunState {
	return &RunState{
		Vars:         map[string]any{},
		Collectibles: map[string]any{},
		onceCache:    map[string]onceRecord{},
	}
}

// Hint appends a non-fatal diagnostic (spec.md §7's "_hints accumulate
// without aborting the run").
func (s *RunState) Hint(msg string) {
	s.Hints = append(s.Hints, msg)
}

// snapshot captures a shallow copy of Vars/Collectibles, used both to record
// a `once` step's writes and to roll back a failed retry attempt.
func (s *RunState) snapshot() (map[string]any, map[string]any) {
	vars := make(map[string]any, len(s.Vars))
	for k, v := range s.Vars {
		vars[k] = v
	}
	cols := make(map[string]any, len(s.Collectibles))
	for k, v := range s.Collectibles {
		cols[k] = v
	}
	return vars, cols
}

// restore replaces Vars/Collectibles wholesale — used for retry rollback,
// where the whole step's attempt (and only that step's attempt) is being
// undone and nothing else could have written state concurrently.
func (s *RunState) restore(vars, collectibles map[string]any) {
	s.Vars = vars
	s.Collectibles = collectibles
}

// merge writes vars/collectibles into the current state one key at a time,
// leaving every other key untouched. Used for once-cache restore, where
// other steps may have written keys of their own since the once step last
// ran and must not be clobbered.
func (s *RunState) merge(vars, collectibles map[string]any) {
	for k, v := range vars {
		s.Vars[k] = v
	}
	for k, v := range collectibles {
		s.Collectibles[k] = v
	}
}

// recordOnce saves only the vars/collectibles keys stepID's run actually
// wrote — diffed against before (a snapshot taken immediately before the
// step ran) — under stepID, for future skip-and-restore. Diffing against
// before rather than caching the full post-step state is what lets restore
// merge instead of overwrite: a key the step never touched never enters the
// record, so it can never clobber some other step's later write to that key.
func (s *RunState) recordOnce(stepID string, before onceRecord) {
	vars := map[string]any{}
	for k, v := range s.Vars {
		if old, ok := before.vars[k]; !ok || !reflect.DeepEqual(old, v) {
			vars[k] = v
		}
	}
	cols := map[string]any{}
	for k, v := range s.Collectibles {
		if old, ok := before.collectibles[k]; !ok || !reflect.DeepEqual(old, v) {
			cols[k] = v
		}
	}
	s.onceCache[stepID] = onceRecord{vars: vars, collectibles: cols}
}

// beforeSnapshot captures the vars/collectibles in effect right now, for use
// as the "before" argument to a later recordOnce call.
func (s *RunState) beforeSnapshot() onceRecord {
	vars, cols := s.snapshot()
	return onceRecord{vars: vars, collectibles: cols}
}

// executedOnce reports whether stepID has already run to completion once in
// this session, and if so merges in the vars/collectibles it wrote, leaving
// every other key in the current state untouched.
func (s *RunState) executedOnce(stepID string) bool {
	rec, ok := s.onceCache[stepID]
	if !ok {
		return false
	}
	s.merge(rec.vars, rec.collectibles)
	return true
}
