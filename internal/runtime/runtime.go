// Purpose: Owns the core entry point — wires the loader, validator,
// pre-flight HTTP-only check, and the flow interpreter into one call,
// and assembles the final RunResult (spec.md §6, §4.3.4).
// Docs: docs/features/feature/flow-runtime/index.md

// runtime.go — Top-level Run dispatch, grounded on the teacher's
// MCPHandler.HandleRequest (cmd/dev-console/handler.go): one call in, one
// structured result out, every failure converted to a value rather than
// propagated as a panic or bare error.
package runtime

import (
	"context"
	"time"

	"github.com/dev-console/dev-console/internal/authguard"
	"github.com/dev-console/dev-console/internal/capture"
	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/flow"
	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/snapshot"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives the run's lifecycle event stream (spec.md §6):
// run_started, step_started, step_finished, step_skipped,
// auth_failure_detected, auth_recovery_started, auth_recovery_finished,
// auth_recovery_exhausted, run_finished.
type EventSink interface {
	Emit(event string, fields map[string]any)
}

// Options mirrors spec.md's options bag field-for-field (SPEC_FULL.md §7).
type Options struct {
	RunDir              string
	Headless            bool
	SessionID           string
	ProfileID           string
	SkipHTTPReplay      bool
	CDPURL              string
	RedactionConfigPath string
	Sink                EventSink
	Logger              *zap.Logger
}

// RunResult mirrors spec.md's RunResult plus DurationMs, already named in
// meta by spec.md §6.
type RunResult struct {
	Success      bool           `json:"success"`
	Collectibles map[string]any `json:"collectibles"`
	Meta         Meta           `json:"meta"`
	Hints        []string       `json:"hints,omitempty"`
	FailedStepID string         `json:"failedStepId,omitempty"`
}

// Meta carries the run's summary fields (spec.md §3's run state, §6).
type Meta struct {
	URL        string `json:"url,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Notes      string `json:"notes,omitempty"`
}

// zapSink is the default EventSink, wrapping a *zap.Logger the way
// SPEC_FULL.md §5 names — a host may supply its own Sink to observe the
// event stream without this package depending on it.
type zapSink struct{ logger *zap.Logger }

func (z zapSink) Emit(event string, fields map[string]any) {
	zfields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zfields = append(zfields, zap.Any(k, v))
	}
	z.logger.Info(event, zfields...)
}

// Run loads nothing itself — pack is already loaded and validated by the
// caller (packfile.Load + packfile.Validate) — and drives it to completion,
// choosing between the live browser interpreter and the HTTP-only replayer
// per spec.md §4.7. Run never panics; every failure path returns a value.
func Run(ctx context.Context, pack *packfile.Pack, inputs map[string]any, opts Options) RunResult {
	start := time.Now()
	sink := opts.Sink
	if sink == nil {
		logger := opts.Logger
		if logger == nil {
			logger, _ = zap.NewProduction()
		}
		sink = zapSink{logger: logger}
	}
	runID := uuid.NewString()
	sink.Emit("run_started", map[string]any{"run_id": runID, "pack_id": pack.Manifest.ID})

	state := flow.NewRunState()
	mergedInputs := applyInputDefaults(pack.Flow.Inputs, inputs)

	httpOnly := !opts.SkipHTTPReplay && canReplayHTTPOnly(pack)
	rc, cleanup, err := buildContext(ctx, pack, mergedInputs, httpOnly, opts, sink)
	if err != nil {
		return failureResult(state, "", err, start, "")
	}
	defer cleanup()

	runErr := flow.Execute(ctx, pack.Flow.Flow, state, rc)
	if rc.Snapshots != nil {
		_ = rc.Snapshots.Save()
	}

	url := currentURL(rc)
	if runErr != nil {
		sink.Emit("run_finished", map[string]any{"run_id": runID, "success": false})
		return failureResult(state, runErr.StepID, runErr, start, url)
	}

	sink.Emit("run_finished", map[string]any{"run_id": runID, "success": true})
	return RunResult{
		Success:      true,
		Collectibles: filterCollectibles(pack.Flow.Collectibles, state.Collectibles),
		Meta:         Meta{URL: url, DurationMs: time.Since(start).Milliseconds()},
		Hints:        state.Hints,
	}
}

// currentURL best-effort reports the live page's URL for meta.url; nil in
// HTTP-only mode, where no page exists.
func currentURL(rc *flow.Context) string {
	if rc == nil || rc.Page == nil {
		return ""
	}
	url, err := rc.Page.CurrentURL()
	if err != nil {
		return ""
	}
	return url
}

func failureResult(state *flow.RunState, failedStepID string, err error, start time.Time, url string) RunResult {
	return RunResult{
		Success:      false,
		Collectibles: state.Collectibles,
		Meta: Meta{
			URL:        url,
			DurationMs: time.Since(start).Milliseconds(),
			Notes:      "Error: " + err.Error(),
		},
		Hints:        state.Hints,
		FailedStepID: failedStepID,
	}
}

// canReplayHTTPOnly checks spec.md §4.7's pre-flight compatibility: a
// snapshot exists for every network_replay step, none is stale, and the
// flow contains no DOM-coupled step kind.
func canReplayHTTPOnly(pack *packfile.Pack) bool {
	store, err := snapshot.Load(pack.Dir)
	if err != nil {
		return false
	}
	ok, _ := snapshot.Compatible(pack.Flow.Flow, store, time.Now())
	return ok
}

func applyInputDefaults(schema map[string]packfile.InputField, inputs map[string]any) map[string]any {
	merged := make(map[string]any, len(schema))
	for name, field := range schema {
		if v, ok := inputs[name]; ok {
			merged[name] = v
		} else if field.Default != nil {
			merged[name] = field.Default
		}
	}
	for k, v := range inputs {
		if _, declared := schema[k]; !declared {
			merged[k] = v
		}
	}
	return merged
}

func filterCollectibles(declared []packfile.Collectible, collected map[string]any) map[string]any {
	out := make(map[string]any, len(declared))
	for _, c := range declared {
		if v, ok := collected[c.Name]; ok {
			out[c.Name] = v
		}
	}
	return out
}

// eventSinkAdapter lets driver/capture/authguard subsystems share the same
// runtime.EventSink without each owning its own translation.
type eventSinkAdapter struct {
	sink EventSink
}

func (a eventSinkAdapter) Emit(event string, fields map[string]any) { a.sink.Emit(event, fields) }

var _ authguard.EventSink = eventSinkAdapter{}
var _ flow.EventSink = eventSinkAdapter{}

// networkFanOut forwards driver network events to both the capture buffer
// and the auth policy watcher, translating driver.NetworkEvent into
// authguard's own minimal ResponseEvent shape so internal/authguard never
// imports internal/driver (DESIGN.md's internal/flow entry).
type networkFanOut struct {
	capture *capture.NetworkCapture
	auth    *authguard.Controller
}

func (f networkFanOut) Observe(ev driver.NetworkEvent) {
	f.capture.Observe(ev)
	if ev.Phase == driver.PhaseResponse && f.auth != nil {
		f.auth.Watch(authguard.ResponseEvent{URL: ev.URL, Status: ev.Status})
	}
}

var _ driver.NetworkSink = networkFanOut{}

func buildAuthController(pack *packfile.Pack, sink EventSink) (*authguard.Controller, []packfile.Step, []packfile.Step) {
	guardCfg := authguard.GuardConfig{}
	policyCfg := authguard.DefaultPolicyConfig()
	var guardFlow, policyFlow []packfile.Step

	if a := pack.Manifest.Auth; a != nil {
		if a.Guard != nil {
			guardCfg = authguard.GuardConfig{
				Enabled:     a.Guard.Enabled,
				Selector:    a.Guard.Selector,
				URLIncludes: a.Guard.URLIncludes,
			}
			guardFlow = a.Guard.RecoveryStepFlow
		}
		if a.Policy != nil {
			policyCfg = authguard.PolicyConfig{
				Enabled:                   a.Policy.Enabled,
				URLIncludes:               a.Policy.URLIncludes,
				URLRegex:                  a.Policy.URLRegex,
				StatusCodes:               a.Policy.StatusCodes,
				MaxRecoveriesPerRun:       a.Policy.MaxRecoveriesPerRun,
				MaxStepRetryAfterRecovery: a.Policy.MaxStepRetryAfterRecovery,
				CooldownMs:                a.Policy.CooldownMs,
			}
			policyFlow = a.Policy.RecoveryFlow
		}
	}

	return authguard.New(guardCfg, policyCfg, eventSinkAdapter{sink}), guardFlow, policyFlow
}
