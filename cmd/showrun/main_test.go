package main

import (
	"testing"

	"github.com/dev-console/dev-console/internal/packfile"
)

func TestParseInputsCoercesDeclaredTypes(t *testing.T) {
	schema := map[string]packfile.InputField{
		"limit":   {Type: packfile.TypeNumber},
		"dryRun":  {Type: packfile.TypeBoolean},
		"keyword": {Type: packfile.TypeString},
	}
	inputs, err := parseInputs([]string{"limit=10", "dryRun=true", "keyword=widgets"}, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inputs["limit"] != float64(10) {
		t.Fatalf("expected limit=10, got %v (%T)", inputs["limit"], inputs["limit"])
	}
	if inputs["dryRun"] != true {
		t.Fatalf("expected dryRun=true, got %v", inputs["dryRun"])
	}
	if inputs["keyword"] != "widgets" {
		t.Fatalf("expected keyword=widgets, got %v", inputs["keyword"])
	}
}

func TestParseInputsPassesUndeclaredKeysAsStrings(t *testing.T) {
	inputs, err := parseInputs([]string{"extra=anything"}, map[string]packfile.InputField{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inputs["extra"] != "anything" {
		t.Fatalf("expected extra=anything, got %v", inputs["extra"])
	}
}

func TestParseInputsRejectsMalformedFlag(t *testing.T) {
	_, err := parseInputs([]string{"no-equals-sign"}, map[string]packfile.InputField{})
	if err == nil {
		t.Fatalf("expected error for malformed --input flag")
	}
}

func TestParseInputsRejectsBadNumber(t *testing.T) {
	schema := map[string]packfile.InputField{"limit": {Type: packfile.TypeNumber}}
	_, err := parseInputs([]string{"limit=not-a-number"}, schema)
	if err == nil {
		t.Fatalf("expected error for non-numeric input")
	}
}
