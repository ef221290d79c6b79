package runtime

import (
	"context"
	"testing"

	"github.com/dev-console/dev-console/internal/packfile"
)

func TestRunHTTPOnlySetVarFlowSucceeds(t *testing.T) {
	pack := &packfile.Pack{
		Dir: t.TempDir(),
		Manifest: packfile.Manifest{
			ID:   "test-pack",
			Kind: "http_only",
		},
		Flow: packfile.FlowDoc{
			Collectibles: []packfile.Collectible{{Name: "greeting", Type: packfile.TypeString}},
			Flow: []packfile.Step{
				{ID: "s1", Type: packfile.KindSetVar, Params: map[string]any{"name": "who", "value": "world"}},
				{ID: "s2", Type: packfile.KindNetworkExtract, Params: map[string]any{
					"fromVar": "who", "as": "text", "out": "greeting",
				}},
			},
		},
		Secrets: map[string]string{},
	}

	result := Run(context.Background(), pack, nil, Options{RunDir: pack.Dir})

	if !result.Success {
		t.Fatalf("expected success, got notes=%q failedStepId=%q", result.Meta.Notes, result.FailedStepID)
	}
	if result.Collectibles["greeting"] != "world" {
		t.Fatalf("expected greeting=world, got %v", result.Collectibles["greeting"])
	}
}

func TestRunHTTPOnlyFailurePropagatesFailedStepID(t *testing.T) {
	pack := &packfile.Pack{
		Dir: t.TempDir(),
		Manifest: packfile.Manifest{
			ID:   "test-pack-fail",
			Kind: "http_only",
		},
		Flow: packfile.FlowDoc{
			Flow: []packfile.Step{
				{ID: "s1", Type: packfile.KindNetworkExtract, Params: map[string]any{
					"fromVar": "missing", "as": "text", "out": "x",
				}},
			},
		},
	}

	result := Run(context.Background(), pack, nil, Options{RunDir: pack.Dir})

	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.FailedStepID != "s1" {
		t.Fatalf("expected failedStepId=s1, got %q", result.FailedStepID)
	}
}

func TestApplyInputDefaultsFillsMissingWithSchemaDefault(t *testing.T) {
	schema := map[string]packfile.InputField{
		"region": {Type: packfile.TypeString, Default: "us-east"},
	}
	merged := applyInputDefaults(schema, map[string]any{})
	if merged["region"] != "us-east" {
		t.Fatalf("expected default applied, got %v", merged["region"])
	}
}

func TestFilterCollectiblesDropsUndeclaredKeys(t *testing.T) {
	declared := []packfile.Collectible{{Name: "keep", Type: packfile.TypeString}}
	collected := map[string]any{"keep": "yes", "extra": "no"}
	filtered := filterCollectibles(declared, collected)
	if _, ok := filtered["extra"]; ok {
		t.Fatalf("expected undeclared key dropped")
	}
	if filtered["keep"] != "yes" {
		t.Fatalf("expected keep preserved")
	}
}
