// Purpose: Owns the auth resilience controller — proactive guard and
// reactive policy watcher with bounded recovery (spec.md §4.6).
// Docs: docs/features/feature/flow-runtime/index.md

// authguard.go — A small state machine in the shape of the teacher's
// CircuitBreaker (internal/capture/circuit_breaker.go): an explicit open/
// closed-style guard with a mutex-protected counter and emitted lifecycle
// events, repurposed here from rate limiting to bounding how many times a
// run may attempt auth recovery. Cooldown between reactive triggers uses
// golang.org/x/time/rate rather than the teacher's hand-rolled sliding
// window, since the semantics needed here (a single minimum-interval gate,
// not a windowed count) are exactly rate.Limiter's job for throttling *new*
// recoveries from starting too close together. The interpreter separately
// sleeps out the same CooldownMs value between auth_recovery_finished and
// re-driving the failed step (spec.md §4.6 step 2) via Controller.Cooldown —
// a plain blocking sleep, not a rate-limiter gate, since by that point
// exactly one retry is known to happen and there's nothing left to throttle.
package authguard

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EventSink receives auth-resilience lifecycle events. The four event names
// are fixed by spec.md §4.6: auth_failure_detected, auth_recovery_started,
// auth_recovery_finished, auth_recovery_exhausted.
type EventSink interface {
	Emit(event string, data map[string]any)
}

// PolicyConfig is the reactive watcher's configuration (spec.md §4.6).
type PolicyConfig struct {
	Enabled                   bool
	URLIncludes               string
	URLRegex                  string
	StatusCodes               []int
	MaxRecoveriesPerRun       int
	MaxStepRetryAfterRecovery int
	CooldownMs                int
}

// GuardConfig is the proactive, off-by-default post-navigation checker.
type GuardConfig struct {
	Enabled     bool
	Selector    string
	URLIncludes string
}

// DefaultPolicyConfig matches spec.md's stated defaults: enabled, watching
// 401/403, one recovery per run, one retry per recovered step.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Enabled:                   true,
		StatusCodes:               []int{401, 403},
		MaxRecoveriesPerRun:       1,
		MaxStepRetryAfterRecovery: 1,
	}
}

// Controller bounds how many times a run may trigger auth recovery and
// prevents a recovery sub-flow from recursively re-triggering recovery for
// the step it is itself recovering.
type Controller struct {
	mu       sync.Mutex
	policy   PolicyConfig
	guard    GuardConfig
	sink     EventSink
	limiter  *rate.Limiter
	recoveries int
	inRecovery bool
	failurePending bool
}

// ResponseEvent is the minimal shape the reactive policy watcher needs from
// an observed network response. Deliberately independent of driver.NetworkEvent
// so authguard carries no dependency on internal/driver; the caller (the flow
// interpreter's network fan-out) does the translation.
type ResponseEvent struct {
	URL    string
	Status int
}

// Watch evaluates ev against the reactive policy; a match flags a pending
// auth failure for the interpreter to notice and act on after the current
// step finishes, and emits auth_failure_detected immediately.
func (c *Controller) Watch(ev ResponseEvent) {
	if !c.policy.Enabled || !c.MatchesURL(ev.URL) || !c.MatchesStatus(ev.Status) {
		return
	}
	c.mu.Lock()
	c.failurePending = true
	c.mu.Unlock()
	c.DetectFailure("", "response status "+strconv.Itoa(ev.Status))
}

// PendingFailure reports and clears whether Watch has flagged an auth
// failure since the last call.
func (c *Controller) PendingFailure() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.failurePending
	c.failurePending = false
	return pending
}

// New builds a Controller. sink may be nil to discard events.
func New(guard GuardConfig, policy PolicyConfig, sink EventSink) *Controller {
	var limiter *rate.Limiter
	if policy.CooldownMs > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(policy.CooldownMs)*time.Millisecond), 1)
	}
	return &Controller{guard: guard, policy: policy, sink: sink, limiter: limiter}
}

func (c *Controller) emit(event string, data map[string]any) {
	if c.sink != nil {
		c.sink.Emit(event, data)
	}
}

// MatchesURL reports whether the reactive policy's URL scoping (urlIncludes
// / urlRegex, either may be empty meaning "no constraint") matches url.
func (c *Controller) MatchesURL(url string) bool {
	if c.policy.URLIncludes != "" && !strings.Contains(url, c.policy.URLIncludes) {
		return false
	}
	if c.policy.URLRegex != "" {
		re, err := regexp.Compile(c.policy.URLRegex)
		if err != nil || !re.MatchString(url) {
			return false
		}
	}
	return true
}

// MatchesStatus reports whether status is one of the policy's watched codes.
func (c *Controller) MatchesStatus(status int) bool {
	for _, s := range c.policy.StatusCodes {
		if s == status {
			return true
		}
	}
	return false
}

// ShouldTriggerRecovery reports whether a detected auth failure for stepID
// should start a recovery sub-flow now. It is false when: the policy is
// disabled, a recovery is already in flight (a recovery sub-flow step's own
// failures never recursively trigger recovery — spec.md Open Question (b)),
// the per-run recovery budget is exhausted, or the cooldown has not elapsed.
func (c *Controller) ShouldTriggerRecovery(stepID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.policy.Enabled || c.inRecovery {
		return false
	}
	max := c.policy.MaxRecoveriesPerRun
	if max == 0 {
		max = 1
	}
	if c.recoveries >= max {
		c.emit("auth_recovery_exhausted", map[string]any{"step_id": stepID, "recoveries": c.recoveries})
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return false
	}
	return true
}

// BeginRecovery marks a recovery sub-flow as in progress for stepID.
// Callers must call FinishRecovery when the sub-flow completes, successfully
// or not.
func (c *Controller) BeginRecovery(stepID string) {
	c.mu.Lock()
	c.inRecovery = true
	c.recoveries++
	n := c.recoveries
	c.mu.Unlock()
	c.emit("auth_recovery_started", map[string]any{"step_id": stepID, "attempt": n})
}

// FinishRecovery clears the in-recovery flag.
func (c *Controller) FinishRecovery(stepID string, succeeded bool) {
	c.mu.Lock()
	c.inRecovery = false
	c.mu.Unlock()
	c.emit("auth_recovery_finished", map[string]any{"step_id": stepID, "succeeded": succeeded})
}

// DetectFailure emits auth_failure_detected. Called by the reactive watcher
// on a matching response, and by the proactive guard when its selector or
// URL check flags the page as logged out.
func (c *Controller) DetectFailure(stepID, reason string) {
	c.emit("auth_failure_detected", map[string]any{"step_id": stepID, "reason": reason})
}

// MaxStepRetryAfterRecovery returns the configured retry budget for a single
// step once a recovery sub-flow has completed.
func (c *Controller) MaxStepRetryAfterRecovery() int {
	if c.policy.MaxStepRetryAfterRecovery <= 0 {
		return 1
	}
	return c.policy.MaxStepRetryAfterRecovery
}

// Cooldown returns the configured wait between auth_recovery_finished and
// re-driving the failed step (spec.md §4.6 step 2). Zero means no wait.
func (c *Controller) Cooldown() time.Duration {
	if c.policy.CooldownMs <= 0 {
		return 0
	}
	return time.Duration(c.policy.CooldownMs) * time.Millisecond
}

// GuardEnabled reports whether the proactive post-navigation guard is on.
func (c *Controller) GuardEnabled() bool {
	return c.guard.Enabled
}

// GuardSelector is the CSS selector whose presence after navigation
// indicates the user has been logged out (e.g. a login form reappearing).
func (c *Controller) GuardSelector() string {
	return c.guard.Selector
}

// GuardURLIncludes is the substring whose presence in the post-navigation
// URL indicates a redirect to a login page.
func (c *Controller) GuardURLIncludes() string {
	return c.guard.URLIncludes
}
