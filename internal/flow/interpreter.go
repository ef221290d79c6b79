// Purpose: Owns the flow interpreter's main loop — per-step skip/once/
// template/dispatch/retry sequencing, the proactive and reactive auth
// resilience hooks, and failure enrichment (spec.md §4.3, §4.6).
// Docs: docs/features/feature/flow-runtime/index.md

// interpreter.go — Single-threaded step-list execution. Grounded on the
// teacher's MCPHandler.HandleRequest dispatch loop (one request in, one
// structured result out, every failure converted to a value) adapted from
// JSON-RPC method dispatch to a declarative step list.
package flow

import (
	"context"
	"strings"
	"time"

	"github.com/dev-console/dev-console/internal/authguard"
	"github.com/dev-console/dev-console/internal/capture"
	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/snapshot"
	"github.com/dev-console/dev-console/internal/target"
	"github.com/dev-console/dev-console/internal/template"
)

// EventSink receives the interpreter's lifecycle event stream (spec.md §6).
type EventSink interface {
	Emit(event string, fields map[string]any)
}

// Context bundles the session-scoped collaborators a run's steps are
// dispatched against. Page and Replayer are mutually exclusive: HTTPOnly
// runs set Replayer/Snapshots and leave Page nil; live runs set Page and
// leave Replayer nil.
type Context struct {
	Page      pageDriver
	Capture   *capture.NetworkCapture
	Snapshots *snapshot.Store
	Replayer  *snapshot.Replayer
	HTTPOnly  bool

	Auth               *authguard.Controller
	GuardRecoveryFlow  []packfile.Step
	PolicyRecoveryFlow []packfile.Step

	Inputs  map[string]any
	Secrets map[string]string
	Sink    EventSink
}

func (rc *Context) scope(state *RunState) template.Scope {
	return scopeFor(state, rc.Inputs, rc.Secrets)
}

func (rc *Context) emit(event string, fields map[string]any) {
	if rc.Sink != nil {
		rc.Sink.Emit(event, fields)
	}
}

// Execute runs steps in order against rc, returning the final RunState on
// success or a *flow.RunError describing exactly where execution stopped.
// Execute never panics on a step failure — every error path returns a value.
func Execute(ctx context.Context, steps []packfile.Step, state *RunState, rc *Context) *RunError {
	guardChecked := false

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return NewRunError(ErrCancelled, step.ID, "run cancelled", err).withState(state)
		}

		skip, reason, runErr := shouldSkip(ctx, step, state, rc)
		if runErr != nil {
			return runErr.withState(state)
		}
		if skip {
			rc.emit("step_skipped", map[string]any{"step_id": step.ID, "reason": reason})
			continue
		}

		var before onceRecord
		if step.Once {
			before = state.beforeSnapshot()
		}

		rc.emit("step_started", map[string]any{"step_id": step.ID, "kind": step.Type})
		runErr = executeStepWithRetry(ctx, step, state, rc)
		if runErr != nil {
			if handled, recoveredErr := maybeRecoverAndRetry(ctx, step, state, rc, runErr); handled {
				runErr = recoveredErr
			}
		}
		if runErr != nil {
			runErr.StepsExecuted = state.StepsExecuted
			runErr.PartialCollectibles = state.Collectibles
			return runErr
		}

		state.StepsExecuted++
		if step.Once {
			state.recordOnce(step.ID, before)
		}
		rc.emit("step_finished", map[string]any{"step_id": step.ID})

		if i == 0 && step.Type == packfile.KindNavigate && !rc.HTTPOnly {
			guardChecked = checkProactiveGuard(ctx, state, rc, guardChecked)
		}
	}
	return nil
}

func shouldSkip(ctx context.Context, step packfile.Step, state *RunState, rc *Context) (bool, string, *RunError) {
	if step.Once && state.executedOnce(step.ID) {
		return true, "once_already_executed", nil
	}
	if step.SkipIf != nil {
		var probe pageProbe
		if rc.Page != nil {
			probe = rc.Page
		}
		ok, err := evaluateSkipIf(ctx, step.SkipIf, state, probe)
		if err != nil {
			return false, "", NewRunError(ErrInternal, step.ID, err.Error(), err)
		}
		if ok {
			return true, "condition_met", nil
		}
	}
	return false, "", nil
}

func executeStepWithRetry(ctx context.Context, step packfile.Step, state *RunState, rc *Context) *RunError {
	attempts := 1
	var delay time.Duration
	var onlyOn map[string]bool
	if step.Retry != nil {
		attempts += step.Retry.Times
		delay = time.Duration(step.Retry.DelayMs) * time.Millisecond
		if len(step.Retry.OnlyOn) > 0 {
			onlyOn = make(map[string]bool, len(step.Retry.OnlyOn))
			for _, k := range step.Retry.OnlyOn {
				onlyOn[k] = true
			}
		}
	}

	vars, cols := state.snapshot()
	var lastErr *RunError
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			state.restore(vars, cols)
			select {
			case <-ctx.Done():
				return NewRunError(ErrCancelled, step.ID, "run cancelled during retry delay", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = runOneStep(ctx, step, state, rc)
		if lastErr == nil {
			return nil
		}
		if onlyOn != nil && !onlyOn[string(lastErr.Kind)] {
			break
		}
	}
	state.restore(vars, cols)
	return lastErr
}

func runOneStep(ctx context.Context, step packfile.Step, state *RunState, rc *Context) *RunError {
	params := step.Params
	if params == nil {
		params = map[string]any{}
	}
	rendered, err := renderParams(params, rc.scope(state))
	if err != nil {
		return NewRunError(ErrTemplate, step.ID, err.Error(), err)
	}
	if err := dispatch(ctx, step, rendered, state, rc); err != nil {
		return NewRunError(classifyError(step, err), step.ID, err.Error(), err)
	}
	return nil
}

// classifyError maps a dispatch error onto the taxonomy spec.md §7 names.
// Dispatch functions return plain wrapped errors rather than *RunError
// themselves so they stay collaborators, not error-taxonomy authorities;
// the interpreter is the single place that assigns a Kind.
func classifyError(step packfile.Step, err error) ErrorKind {
	if _, ok := err.(*snapshot.ValidationError); ok {
		return ErrResponseValidationError
	}
	switch step.Type {
	case packfile.KindNavigate:
		return ErrNavigationTimeout
	case packfile.KindWaitFor:
		return ErrWaitTimeout
	case packfile.KindClick, packfile.KindFill, packfile.KindSelectOption, packfile.KindPressKey, packfile.KindUploadFile:
		return ErrTargetNotFound
	case packfile.KindNetworkFind:
		return ErrNetworkRequestNotFound
	case packfile.KindNetworkReplay:
		return ErrReplayError
	default:
		return ErrInternal
	}
}

// checkProactiveGuard runs the off-by-default post-navigation assertion
// once, after the flow's first navigate step, per spec.md §4.6.
func checkProactiveGuard(ctx context.Context, state *RunState, rc *Context, already bool) bool {
	if already || rc.Auth == nil || !rc.Auth.GuardEnabled() {
		return true
	}
	loggedIn := true
	if sel := rc.Auth.GuardSelector(); sel != "" {
		loc, err := target.Resolve(&target.Target{Kind: target.KindCSS, Selector: sel})
		if err == nil {
			loggedIn = rc.Page.Visible(ctx, loc)
		}
	}
	if inc := rc.Auth.GuardURLIncludes(); inc != "" {
		if url, err := rc.Page.CurrentURL(); err == nil {
			loggedIn = loggedIn && containsSubstring(url, inc)
		}
	}
	if !loggedIn {
		rc.Auth.DetectFailure("", "post-navigation guard check failed")
		runRecoveryFlow(ctx, rc, rc.GuardRecoveryFlow)
	}
	return true
}

// maybeRecoverAndRetry implements spec.md §4.6's reactive recovery: if the
// policy watcher flagged a failure while stepErr was in flight, run the
// recovery sub-flow and re-drive the failed step up to
// MaxStepRetryAfterRecovery times before giving up.
func maybeRecoverAndRetry(ctx context.Context, step packfile.Step, state *RunState, rc *Context, stepErr *RunError) (bool, *RunError) {
	if rc.Auth == nil || !rc.Auth.PendingFailure() {
		return false, stepErr
	}
	if !rc.Auth.ShouldTriggerRecovery(step.ID) {
		return true, stepErr
	}

	rc.Auth.BeginRecovery(step.ID)
	runRecoveryFlow(ctx, rc, rc.PolicyRecoveryFlow)
	rc.Auth.FinishRecovery(step.ID, true)

	if cooldown := rc.Auth.Cooldown(); cooldown > 0 {
		select {
		case <-ctx.Done():
			return true, stepErr
		case <-time.After(cooldown):
		}
	}

	retries := rc.Auth.MaxStepRetryAfterRecovery()
	var lastErr *RunError
	for i := 0; i < retries; i++ {
		lastErr = runOneStep(ctx, step, state, rc)
		if lastErr == nil {
			return true, nil
		}
	}
	return true, lastErr
}

// runRecoveryFlow executes a recovery sub-flow with a clean local var scope
// but the same page (so session cookies are shared), per spec.md §4.6. Its
// own failures are swallowed into a hint rather than aborting the parent
// run — a broken recovery flow should not mask the original failure.
func runRecoveryFlow(ctx context.Context, rc *Context, steps []packfile.Step) {
	if len(steps) == 0 {
		return
	}
	sub := NewRunState()
	subCtx := &Context{
		Page: rc.Page, Capture: rc.Capture, Snapshots: rc.Snapshots, Replayer: rc.Replayer,
		HTTPOnly: rc.HTTPOnly, Inputs: rc.Inputs, Secrets: rc.Secrets, Sink: rc.Sink,
	}
	if err := Execute(ctx, steps, sub, subCtx); err != nil {
		rc.emit("error", map[string]any{"note": "recovery flow failed: " + err.Error()})
	}
}

func containsSubstring(s, substr string) bool {
	return strings.Contains(s, substr)
}

func (e *RunError) withState(state *RunState) *RunError {
	e.StepsExecuted = state.StepsExecuted
	e.PartialCollectibles = state.Collectibles
	return e
}
