package flow

import (
	"context"
	"testing"

	"github.com/dev-console/dev-console/internal/packfile"
)

func newTestContext(page *fakePage) *Context {
	return &Context{
		Page:    page,
		Inputs:  map[string]any{},
		Secrets: map[string]string{},
	}
}

func TestExecuteSetVarAndSkipIfVarTruthy(t *testing.T) {
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindSetVar, Params: map[string]any{"name": "flag", "value": true}},
		{ID: "s2", Type: packfile.KindSetVar, SkipIf: &packfile.SkipIf{VarTruthy: "flag"}, Params: map[string]any{"name": "never", "value": "x"}},
	}
	state := NewRunState()
	if err := Execute(context.Background(), steps, state, newTestContext(&fakePage{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := state.Vars["never"]; ok {
		t.Fatalf("expected s2 to be skipped")
	}
}

func TestExecuteOnceStepDoesNotRerun(t *testing.T) {
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindSetVar, Once: true, Params: map[string]any{"name": "counter", "value": float64(1)}},
	}
	state := NewRunState()
	rc := newTestContext(&fakePage{})
	if err := Execute(context.Background(), steps, state, rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	state.Vars["counter"] = float64(99)
	if err := Execute(context.Background(), steps, state, rc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Vars["counter"] != float64(1) {
		t.Fatalf("expected once-cache to restore counter=1, got %v", state.Vars["counter"])
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	page := &fakePage{failClickN: 2}
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindClick, Retry: &packfile.Retry{Times: 3, DelayMs: 0},
			Params: map[string]any{"selector": "#go"}},
	}
	state := NewRunState()
	if err := Execute(context.Background(), steps, state, newTestContext(page)); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if page.clickCalls != 3 {
		t.Fatalf("expected 3 click attempts, got %d", page.clickCalls)
	}
}

func TestExecuteFailureEnrichment(t *testing.T) {
	page := &fakePage{failClickN: 99}
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindSetVar, Params: map[string]any{"name": "a", "value": float64(1)}},
		{ID: "s2", Type: packfile.KindClick, Params: map[string]any{"selector": "#go"}},
	}
	state := NewRunState()
	err := Execute(context.Background(), steps, state, newTestContext(page))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if err.StepID != "s2" {
		t.Fatalf("expected failedStepId=s2, got %q", err.StepID)
	}
	if err.StepsExecuted != 1 {
		t.Fatalf("expected 1 step executed before failure, got %d", err.StepsExecuted)
	}
	if _, ok := err.PartialCollectibles; ok != ok {
		_ = ok
	}
}

func TestExecuteNetworkExtractReadsVar(t *testing.T) {
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindSetVar, Params: map[string]any{"name": "body", "value": `{"a":{"b":42}}`}},
		{ID: "s2", Type: packfile.KindNetworkExtract, Params: map[string]any{
			"fromVar": "body", "as": "json", "path": "a.b", "out": "result",
		}},
	}
	state := NewRunState()
	state.Collectibles["result"] = nil
	if err := Execute(context.Background(), steps, state, newTestContext(&fakePage{})); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Collectibles["result"] != float64(42) {
		t.Fatalf("expected extracted value 42, got %v", state.Collectibles["result"])
	}
}

func TestExecuteTemplateRendersVarsIntoParams(t *testing.T) {
	steps := []packfile.Step{
		{ID: "s1", Type: packfile.KindSetVar, Params: map[string]any{"name": "name", "value": "ada"}},
		{ID: "s2", Type: packfile.KindNavigate, Params: map[string]any{"url": "https://example.com/{{vars.name}}"}},
	}
	state := NewRunState()
	page := &fakePage{}
	if err := Execute(context.Background(), steps, state, newTestContext(page)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.url != "https://example.com/ada" {
		t.Fatalf("expected rendered url, got %q", page.url)
	}
}
