// resolver.go — Compiles a validated Target into a driver.Locator. Kept in
// internal/target (not internal/driver) so driver stays independent of the
// pack data model; driver only knows about its own Locator type.
package target

import (
	"fmt"
	"strings"

	"github.com/dev-console/dev-console/internal/driver"
)

// Resolve compiles t (and recursively its Within/Near scope) into a
// driver.Locator following the priority order role → label → text → css
// (spec.md §3). Near is resolved as an independent anchor locator but is
// not itself composed into the XPath here — the flow interpreter picks the
// nearest match among Resolve(t)'s candidates using the anchor's bounding
// box, since proximity is a runtime/geometry concern the driver package
// exposes via Page, not something expressible in a single selector.
func Resolve(t *Target) (driver.Locator, error) {
	if t == nil {
		return driver.Locator{}, fmt.Errorf("target: nil")
	}

	loc, err := resolveSelf(t)
	if err != nil {
		return driver.Locator{}, err
	}

	if t.Within != nil {
		within, err := Resolve(t.Within)
		if err != nil {
			return driver.Locator{}, fmt.Errorf("within: %w", err)
		}
		loc.Within = &within
	}
	return loc, nil
}

func resolveSelf(t *Target) (driver.Locator, error) {
	switch t.Kind {
	case KindCSS:
		return driver.Locator{CSS: t.Selector}, nil
	case KindRole:
		return driver.Locator{XPath: roleXPath(t.Role, t.Name, t.Exact)}, nil
	case KindLabel:
		return driver.Locator{XPath: labelXPath(t.Text, t.Exact)}, nil
	case KindText:
		return driver.Locator{XPath: textXPath(t.Text, t.Exact)}, nil
	default:
		return driver.Locator{}, fmt.Errorf("target: unresolvable kind %q", t.Kind)
	}
}

func roleXPath(role, name string, exact bool) string {
	base := fmt.Sprintf(".//*[@role=%s or %s]", xpathLiteral(role), implicitRolePredicate(role))
	if name == "" {
		return base
	}
	return fmt.Sprintf("(%s)[%s]", base, textPredicate(name, exact))
}

// implicitRolePredicate maps common ARIA roles onto the native elements
// that imply them, so role="button" also matches a plain <button>.
func implicitRolePredicate(role string) string {
	switch strings.ToLower(role) {
	case "button":
		return "self::button or @type='button' or @type='submit'"
	case "link":
		return "self::a"
	case "textbox":
		return "self::input or self::textarea"
	case "checkbox":
		return "@type='checkbox'"
	case "radio":
		return "@type='radio'"
	default:
		return "false()"
	}
}

func labelXPath(text string, exact bool) string {
	// An element referenced by a <label> whose text matches, via the
	// label's `for` attribute or by being its ancestor.
	return fmt.Sprintf(
		".//*[@id=//label[%s]/@for] | .//label[%s]//input | .//label[%s]//textarea | .//label[%s]//select",
		textPredicate(text, exact), textPredicate(text, exact), textPredicate(text, exact), textPredicate(text, exact),
	)
}

func textXPath(text string, exact bool) string {
	return fmt.Sprintf(".//*[%s]", textPredicate(text, exact))
}

func textPredicate(text string, exact bool) string {
	if exact {
		return fmt.Sprintf("normalize-space(text())=%s", xpathLiteral(text))
	}
	return fmt.Sprintf("contains(normalize-space(.), %s)", xpathLiteral(text))
}

// xpathLiteral safely quotes a string for embedding in an XPath expression,
// switching to concat() when the string itself contains both quote kinds.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	var b strings.Builder
	b.WriteString("concat(")
	parts := strings.Split(s, "'")
	for i, p := range parts {
		if i > 0 {
			b.WriteString(`, "'", `)
		}
		b.WriteString("'")
		b.WriteString(p)
		b.WriteString("'")
	}
	b.WriteString(")")
	return b.String()
}
