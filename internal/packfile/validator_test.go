package packfile

import "testing"

func validFlowDoc() FlowDoc {
	return FlowDoc{
		Collectibles: []Collectible{{Name: "pageTitle", Type: "string"}},
		Flow: []Step{
			{ID: "s1", Type: KindNavigate, Params: map[string]any{"url": "https://example.com"}},
			{ID: "s2", Type: KindExtractTitle, Params: map[string]any{"out": "pageTitle"}},
		},
	}
}

func TestValidateAcceptsWellFormedFlow(t *testing.T) {
	p := &Pack{Manifest: Manifest{ID: "pack.ok", Name: "ok", Version: "1.0.0"}, Flow: validFlowDoc()}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow[1].ID = "s1"
	p := &Pack{Flow: doc}
	err := Validate(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	verr, ok := err.(*FlowValidationError)
	if !ok {
		t.Fatalf("expected *FlowValidationError, got %T", err)
	}
	found := false
	for _, problem := range verr.Problems {
		if containsSubstr(problem, "duplicate step id") {
			found = true
		}
	}
	if !found {
		t.Fatalf("problems %v did not mention duplicate step id", verr.Problems)
	}
}

func TestValidateRejectsUnknownStepKind(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow[0].Type = "frobnicate"
	p := &Pack{Flow: doc}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRejectsUndeclaredOut(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow[1].Params["out"] = "somethingNotDeclared"
	p := &Pack{Flow: doc}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateRejectsUnknownNetworkFindWhereKey(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow = append(doc.Flow, Step{
		ID:   "s3",
		Type: KindNetworkFind,
		Params: map[string]any{
			"where": map[string]any{"urlIncludes": "/api/", "bogusKey": true},
			"pick":  "last",
			"saveAs": "req1",
		},
	})
	p := &Pack{Flow: doc}
	err := Validate(p)
	if err == nil {
		t.Fatalf("expected error")
	}
	verr := err.(*FlowValidationError)
	found := false
	for _, problem := range verr.Problems {
		if containsSubstr(problem, "unsupported key") {
			found = true
		}
	}
	if !found {
		t.Fatalf("problems %v did not mention unsupported key", verr.Problems)
	}
}

func TestValidateAcceptsKnownNetworkFindWhereKeys(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow = append(doc.Flow, Step{
		ID:   "s3",
		Type: KindNetworkFind,
		Params: map[string]any{
			"where":  map[string]any{"urlIncludes": "/api/", "method": "POST"},
			"pick":   "last",
			"saveAs": "req1",
		},
	})
	p := &Pack{Flow: doc}
	if err := Validate(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsRequestIdReferencingLaterStep(t *testing.T) {
	doc := FlowDoc{
		Collectibles: []Collectible{{Name: "body", Type: "object"}},
		Flow: []Step{
			{ID: "s1", Type: KindNetworkReplay, Params: map[string]any{
				"requestId": "{{vars.req1}}",
				"response":  map[string]any{"as": "json"},
			}},
			{ID: "s2", Type: KindNetworkFind, Params: map[string]any{
				"where":  map[string]any{"urlIncludes": "/api/"},
				"pick":   "last",
				"saveAs": "req1",
			}},
		},
	}
	p := &Pack{Flow: doc}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error: requestId references a var saved by a later step")
	}
}

func TestValidateRejectsInvalidJMESPath(t *testing.T) {
	doc := validFlowDoc()
	doc.Flow = append(doc.Flow, Step{
		ID:   "s3",
		Type: KindNetworkExtract,
		Params: map[string]any{
			"fromVar": "req1",
			"as":      "json",
			"path":    "[[[not valid",
			"out":     "pageTitle",
		},
	})
	p := &Pack{Flow: doc}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error for invalid JMESPath")
	}
}

func TestValidateRejectsSensitiveOverrideHeader(t *testing.T) {
	doc := FlowDoc{
		Collectibles: []Collectible{{Name: "body", Type: "object"}},
		Flow: []Step{
			{ID: "s1", Type: KindNetworkFind, Params: map[string]any{
				"where":  map[string]any{"urlIncludes": "/api/"},
				"pick":   "last",
				"saveAs": "req1",
			}},
			{ID: "s2", Type: KindNetworkReplay, Params: map[string]any{
				"requestId": "{{vars.req1}}",
				"response":  map[string]any{"as": "json"},
				"overrides": map[string]any{
					"setHeaders": map[string]any{"Authorization": "Bearer x"},
				},
			}},
		},
	}
	p := &Pack{Flow: doc}
	if err := Validate(p); err == nil {
		t.Fatalf("expected error for sensitive override header")
	}
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
