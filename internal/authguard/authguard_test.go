package authguard

import "testing"

type recordingSink struct {
	events []string
}

func (r *recordingSink) Emit(event string, data map[string]any) {
	r.events = append(r.events, event)
}

func TestShouldTriggerRecoveryRespectsPerRunBudget(t *testing.T) {
	sink := &recordingSink{}
	c := New(GuardConfig{}, PolicyConfig{Enabled: true, MaxRecoveriesPerRun: 1}, sink)

	if !c.ShouldTriggerRecovery("s1") {
		t.Fatalf("expected first recovery to be allowed")
	}
	c.BeginRecovery("s1")
	c.FinishRecovery("s1", true)

	if c.ShouldTriggerRecovery("s2") {
		t.Fatalf("expected recovery budget to be exhausted after one use")
	}
	found := false
	for _, e := range sink.events {
		if e == "auth_recovery_exhausted" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected auth_recovery_exhausted event, got %v", sink.events)
	}
}

func TestShouldTriggerRecoveryRefusesReentry(t *testing.T) {
	c := New(GuardConfig{}, DefaultPolicyConfig(), nil)
	c.BeginRecovery("s1")
	if c.ShouldTriggerRecovery("s1-sub") {
		t.Fatalf("recovery sub-flow steps must never recursively trigger recovery")
	}
}

func TestShouldTriggerRecoveryDisabledPolicy(t *testing.T) {
	c := New(GuardConfig{}, PolicyConfig{Enabled: false}, nil)
	if c.ShouldTriggerRecovery("s1") {
		t.Fatalf("expected disabled policy to never trigger recovery")
	}
}

func TestMatchesStatusDefaultCodes(t *testing.T) {
	c := New(GuardConfig{}, DefaultPolicyConfig(), nil)
	if !c.MatchesStatus(401) || !c.MatchesStatus(403) {
		t.Fatalf("expected default policy to watch 401 and 403")
	}
	if c.MatchesStatus(500) {
		t.Fatalf("did not expect 500 to match default policy")
	}
}

func TestMatchesURLIncludesAndRegex(t *testing.T) {
	c := New(GuardConfig{}, PolicyConfig{URLIncludes: "/api/", URLRegex: `^https://example\.com`}, nil)
	if !c.MatchesURL("https://example.com/api/widgets") {
		t.Fatalf("expected match")
	}
	if c.MatchesURL("https://other.com/api/widgets") {
		t.Fatalf("expected regex mismatch to reject")
	}
	if c.MatchesURL("https://example.com/other") {
		t.Fatalf("expected urlIncludes mismatch to reject")
	}
}

func TestDefaultPolicyConfigDefaults(t *testing.T) {
	p := DefaultPolicyConfig()
	if !p.Enabled || p.MaxRecoveriesPerRun != 1 || p.MaxStepRetryAfterRecovery != 1 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}
