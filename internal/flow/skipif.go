// skipif.go — Evaluates the skip_if predicate tree (spec.md §4.3.1). All
// predicates are side-effect-free; element_* checks use the same target
// resolver as click but bound to a short stability window rather than the
// step-level interaction timeout.
package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/target"
)

// elementStabilityWindow bounds element_visible/element_exists lookups —
// skip_if must never block a flow the way a real wait_for would.
const elementStabilityWindow = 500 * time.Millisecond

// pageProbe is the narrow slice of driver.Page skip_if needs. Declared here
// (not in internal/driver) so flow stays the owner of its own dependency on
// the driver, mirroring the teacher's interfaces-live-with-the-consumer
// shape in internal/capture/interfaces.go.
type pageProbe interface {
	CurrentURL() (string, error)
	Visible(ctx context.Context, loc driver.Locator) bool
	Exists(ctx context.Context, loc driver.Locator) bool
}

// evaluateSkipIf reports whether s's condition is currently true. page may
// be nil in HTTP-only replay mode; url_includes/url_matches/element_* leaves
// are then treated as false (there is no page to inspect), which is
// consistent with the pre-flight check already having ruled out DOM-coupled
// steps in that mode.
func evaluateSkipIf(ctx context.Context, s *packfile.SkipIf, state *RunState, page pageProbe) (bool, error) {
	if s == nil {
		return false, nil
	}

	if len(s.All) > 0 {
		for _, child := range s.All {
			ok, err := evaluateSkipIf(ctx, &child, state, page)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
	if len(s.Any) > 0 {
		for _, child := range s.Any {
			ok, err := evaluateSkipIf(ctx, &child, state, page)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	switch {
	case s.URLIncludes != "":
		if page == nil {
			return false, nil
		}
		url, err := page.CurrentURL()
		if err != nil {
			return false, fmt.Errorf("skip_if url_includes: %w", err)
		}
		return strings.Contains(url, s.URLIncludes), nil

	case s.URLMatches != "":
		if page == nil {
			return false, nil
		}
		url, err := page.CurrentURL()
		if err != nil {
			return false, fmt.Errorf("skip_if url_matches: %w", err)
		}
		re, err := regexp.Compile(s.URLMatches)
		if err != nil {
			return false, fmt.Errorf("skip_if url_matches: %w", err)
		}
		return re.MatchString(url), nil

	case s.ElementVisible != "":
		if page == nil {
			return false, nil
		}
		loc, err := resolveProbeTarget(s.ElementVisible)
		if err != nil {
			return false, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, elementStabilityWindow)
		defer cancel()
		return page.Visible(probeCtx, loc), nil

	case s.ElementExists != "":
		if page == nil {
			return false, nil
		}
		loc, err := resolveProbeTarget(s.ElementExists)
		if err != nil {
			return false, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, elementStabilityWindow)
		defer cancel()
		return page.Exists(probeCtx, loc), nil

	case s.VarEquals != nil:
		v, ok := state.Vars[s.VarEquals.Name]
		if !ok {
			return false, nil
		}
		return equalScalars(v, s.VarEquals.Value), nil

	case s.VarTruthy != "":
		return truthy(state.Vars[s.VarTruthy]), nil

	case s.VarFalsy != "":
		return !truthy(state.Vars[s.VarFalsy]), nil
	}

	return false, nil
}

// resolveProbeTarget parses a skip_if element_* leaf, which is a plain CSS
// selector string — skip_if leaves are deliberately simpler than full
// target syntax (spec.md §4.3.1 lists no role=/label= grammar for them).
func resolveProbeTarget(selector string) (driver.Locator, error) {
	return target.Resolve(&target.Target{Kind: target.KindCSS, Selector: selector})
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func equalScalars(a, b any) bool {
	af, aok := a.(float64)
	bf, bok := b.(float64)
	if aok && bok {
		return af == bf
	}
	return a == b
}
