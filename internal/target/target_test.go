package target

import "testing"

func TestParseInfersKindByPriority(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]any
		want Kind
	}{
		{"role wins over text", map[string]any{"role": "button", "text": "ignored"}, KindRole},
		{"text without selector", map[string]any{"text": "Submit"}, KindText},
		{"selector only", map[string]any{"selector": "#go"}, KindCSS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Kind != tc.want {
				t.Fatalf("Kind = %q, want %q", got.Kind, tc.want)
			}
		})
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		t    *Target
	}{
		{"role without role field", &Target{Kind: KindRole}},
		{"text without text field", &Target{Kind: KindText}},
		{"css without selector", &Target{Kind: KindCSS}},
		{"unknown kind", &Target{Kind: "bogus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := Validate(tc.t); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidateRecursesIntoScopeAndProximity(t *testing.T) {
	bad := &Target{Kind: KindCSS, Selector: "#ok", Within: &Target{Kind: KindRole}}
	if err := Validate(bad); err == nil {
		t.Fatalf("expected error from invalid within target")
	}
	good := &Target{Kind: KindCSS, Selector: "#ok", Near: &Target{Kind: KindText, Text: "nearby"}}
	if err := Validate(good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
