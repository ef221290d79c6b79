package target

import (
	"strings"
	"testing"
)

func TestResolveCSSPassesSelectorThrough(t *testing.T) {
	loc, err := Resolve(&Target{Kind: KindCSS, Selector: "#submit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.CSS != "#submit" {
		t.Fatalf("got CSS=%q", loc.CSS)
	}
}

func TestResolveRoleBuildsXPathWithName(t *testing.T) {
	loc, err := Resolve(&Target{Kind: KindRole, Role: "button", Name: "Submit"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(loc.XPath, "'Submit'") {
		t.Fatalf("expected name to appear in XPath, got %q", loc.XPath)
	}
	if !strings.Contains(loc.XPath, "self::button") {
		t.Fatalf("expected implicit button role in XPath, got %q", loc.XPath)
	}
}

func TestResolveWithinNestsLocator(t *testing.T) {
	loc, err := Resolve(&Target{
		Kind:     KindCSS,
		Selector: ".row",
		Within:   &Target{Kind: KindCSS, Selector: "#table"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loc.Within == nil || loc.Within.CSS != "#table" {
		t.Fatalf("expected nested Within locator, got %+v", loc.Within)
	}
}

func TestXPathLiteralEscapesSingleQuote(t *testing.T) {
	lit := xpathLiteral("O'Brien")
	if !strings.HasPrefix(lit, "concat(") {
		t.Fatalf("expected concat() escaping for value with a single quote, got %q", lit)
	}
}

func TestResolveRejectsUnknownKind(t *testing.T) {
	if _, err := Resolve(&Target{Kind: "bogus"}); err == nil {
		t.Fatalf("expected error for unresolvable kind")
	}
}
