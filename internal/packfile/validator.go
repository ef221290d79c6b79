// validator.go — Structural and referential validation of a loaded Pack
// (spec.md §4.1). Aggregates every problem found into one FlowValidationError
// rather than failing on the first.
package packfile

import (
	"github.com/dev-console/dev-console/internal/target"
	"github.com/jmespath/go-jmespath"
)

// networkFindWhereKeys is the allowlist for network_find.where. Unlike the
// source this was migrated from — which silently accepted unknown keys and
// degraded the filter to "match all" — unknown keys here are a validation
// error (spec.md §9 Open Question (a), resolved).
var networkFindWhereKeys = map[string]bool{
	"urlIncludes":  true,
	"urlRegex":     true,
	"method":       true,
	"resourceType": true,
	"status":       true,
}

// Validate checks a Pack's flow for structural and referential invariants.
// It never stops at the first problem: every discovered issue is collected
// into the returned *FlowValidationError.
func Validate(p *Pack) error {
	verr := &FlowValidationError{}

	seenIDs := make(map[string]bool, len(p.Flow.Flow))
	declared := make(map[string]Collectible, len(p.Flow.Collectibles))
	for _, c := range p.Flow.Collectibles {
		declared[c.Name] = c
	}

	savedAsByStep := map[string]int{} // saveAs var name -> index it first appears at

	for i, step := range p.Flow.Flow {
		if step.ID == "" {
			verr.add("step[%d]: missing id", i)
		} else if seenIDs[step.ID] {
			verr.add("step[%d] (%s): duplicate step id", i, step.ID)
		} else {
			seenIDs[step.ID] = true
		}

		if !AllKinds[step.Type] {
			verr.add("step %s: unknown step kind %q", step.ID, step.Type)
			continue
		}

		validateStepParams(verr, step, declared)

		if step.Retry != nil && step.Retry.Times < 0 {
			verr.add("step %s: retry.times must be >= 0", step.ID)
		}
		if step.SkipIf != nil {
			validateSkipIf(verr, step.ID, step.SkipIf)
		}

		if saveAs, ok := paramString(step.Params, "saveAs"); ok && saveAs != "" {
			if _, exists := savedAsByStep[saveAs]; !exists {
				savedAsByStep[saveAs] = i
			}
		}
	}

	// network_replay.requestId must either be a template referencing a
	// saveAs var set by an earlier step, or (during live capture) a literal.
	// We can only check the "earlier step" ordering constraint here; whether
	// a literal is permitted is a run-time concern (fresh capture vs replay).
	for i, step := range p.Flow.Flow {
		if step.Type != KindNetworkReplay {
			continue
		}
		reqID, _ := paramString(step.Params, "requestId")
		if ref, ok := parseVarsReference(reqID); ok {
			if idx, exists := savedAsByStep[ref]; !exists || idx >= i {
				verr.add("step %s: requestId references vars.%s which is not saved by an earlier step", step.ID, ref)
			}
		}
	}

	if !verr.ok() {
		return verr
	}
	return nil
}

func validateSkipIf(verr *FlowValidationError, stepID string, s *SkipIf) {
	leafCount := 0
	if s.URLIncludes != "" {
		leafCount++
	}
	if s.URLMatches != "" {
		leafCount++
	}
	if s.ElementVisible != "" {
		leafCount++
	}
	if s.ElementExists != "" {
		leafCount++
	}
	if s.VarEquals != nil {
		leafCount++
	}
	if s.VarTruthy != "" {
		leafCount++
	}
	if s.VarFalsy != "" {
		leafCount++
	}
	compound := len(s.All) > 0 || len(s.Any) > 0
	if leafCount == 0 && !compound {
		verr.add("step %s: skip_if has no predicate", stepID)
	}
	for _, child := range s.All {
		validateSkipIf(verr, stepID, &child)
	}
	for _, child := range s.Any {
		validateSkipIf(verr, stepID, &child)
	}
}

func validateStepParams(verr *FlowValidationError, step Step, declared map[string]Collectible) {
	params := step.Params
	if params == nil {
		params = map[string]any{}
	}
	requireOut := func() {
		out, err := requireString(params, "out")
		if err != nil {
			verr.add("step %s (%s): %v", step.ID, step.Type, err)
			return
		}
		if _, ok := declared[out]; !ok {
			verr.add("step %s: out %q is not a declared collectible", step.ID, out)
		}
	}
	requireTargetOrSelector := func() {
		if hasAnyKey(params, "target", "selector") {
			if t, ok := params["target"]; ok {
				if _, err := target.ParseAndValidate(t); err != nil {
					verr.add("step %s: target: %v", step.ID, err)
				}
			}
			return
		}
		verr.add("step %s (%s): requires 'target' or 'selector'", step.ID, step.Type)
	}

	switch step.Type {
	case KindNavigate:
		if _, err := requireString(params, "url"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
	case KindWaitFor:
		if !hasAnyKey(params, "target", "selector", "url", "loadState") {
			verr.add("step %s: wait_for requires one of target/selector/url/loadState", step.ID)
		}
	case KindClick, KindFill, KindSelectOption, KindUploadFile:
		requireTargetOrSelector()
		if step.Type == KindFill {
			if _, ok := params["value"]; !ok {
				verr.add("step %s: fill requires 'value'", step.ID)
			}
		}
		if step.Type == KindSelectOption {
			if _, ok := params["value"]; !ok {
				verr.add("step %s: select_option requires 'value'", step.ID)
			}
		}
		if step.Type == KindUploadFile {
			if _, ok := params["files"]; !ok {
				verr.add("step %s: upload_file requires 'files'", step.ID)
			}
		}
	case KindPressKey:
		if _, err := requireString(params, "key"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
	case KindFrame:
		if _, err := requireString(params, "frame"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
		action, _ := paramString(params, "action")
		if action != "enter" && action != "exit" {
			verr.add("step %s: frame.action must be 'enter' or 'exit'", step.ID)
		}
	case KindNewTab:
		if _, err := requireString(params, "url"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
	case KindSwitchTab:
		if _, ok := params["tab"]; !ok {
			verr.add("step %s: switch_tab requires 'tab'", step.ID)
		}
	case KindExtractTitle:
		requireOut()
	case KindExtractText:
		requireTargetOrSelector()
		requireOut()
	case KindExtractAttr:
		requireTargetOrSelector()
		if _, err := requireString(params, "attribute"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
		requireOut()
	case KindAssert:
		if !hasAnyKey(params, "target", "selector", "visible", "textIncludes", "urlIncludes") {
			verr.add("step %s: assert requires a target/selector and/or visible/textIncludes/urlIncludes", step.ID)
		}
	case KindSetVar:
		if _, err := requireString(params, "name"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
		if v, ok := params["value"]; ok {
			switch v.(type) {
			case string, float64, int, bool, nil:
			default:
				verr.add("step %s: set_var.value must be a scalar", step.ID)
			}
		}
	case KindSleep:
		if _, ok := params["durationMs"]; !ok {
			verr.add("step %s: sleep requires 'durationMs'", step.ID)
		}
	case KindNetworkFind:
		where, ok := paramMap(params, "where")
		if !ok {
			verr.add("step %s: network_find requires 'where'", step.ID)
		} else {
			for k := range where {
				if !networkFindWhereKeys[k] {
					verr.add("step %s: network_find.where has unsupported key %q", step.ID, k)
				}
			}
		}
		pick, _ := paramString(params, "pick")
		if pick != "first" && pick != "last" {
			verr.add("step %s: network_find.pick must be 'first' or 'last'", step.ID)
		}
		if _, err := requireString(params, "saveAs"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
	case KindNetworkReplay:
		if _, err := requireString(params, "requestId"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
		if resp, ok := paramMap(params, "response"); ok {
			as, _ := paramString(resp, "as")
			if as != "json" && as != "text" {
				verr.add("step %s: network_replay.response.as must be 'json' or 'text'", step.ID)
			}
			if path, ok := paramString(resp, "path"); ok && path != "" {
				if _, err := jmespath.Compile(path); err != nil {
					verr.add("step %s: network_replay.response.path: invalid JMESPath: %v", step.ID, err)
				}
			}
			if out, ok := paramString(params, "out"); ok {
				if _, ok := declared[out]; !ok {
					verr.add("step %s: out %q is not a declared collectible", step.ID, out)
				}
			}
		}
		if overrides, ok := paramMap(params, "overrides"); ok {
			if headers, ok := paramMap(overrides, "setHeaders"); ok {
				for name := range headers {
					if IsSensitiveHeader(name) {
						verr.add("step %s: overrides.setHeaders may not set sensitive header %q", step.ID, name)
					}
				}
			}
		}
	case KindNetworkExtract:
		if _, err := requireString(params, "fromVar"); err != nil {
			verr.add("step %s: %v", step.ID, err)
		}
		as, _ := paramString(params, "as")
		if as != "json" && as != "text" {
			verr.add("step %s: network_extract.as must be 'json' or 'text'", step.ID)
		}
		if path, ok := paramString(params, "path"); ok && path != "" {
			if _, err := jmespath.Compile(path); err != nil {
				verr.add("step %s: network_extract.path: invalid JMESPath: %v", step.ID, err)
			}
		}
		requireOut()
	default:
		verr.add("step %s: unhandled step kind %q", step.ID, step.Type)
	}
}

func parseVarsReference(s string) (string, bool) {
	const prefix = "{{vars."
	if len(s) < len(prefix)+3 || s[:len(prefix)] != prefix {
		return "", false
	}
	rest := s[len(prefix):]
	end := -1
	for i, r := range rest {
		if r == '}' {
			end = i
			break
		}
	}
	if end <= 0 {
		return "", false
	}
	name := rest[:end]
	for _, r := range name {
		if r == ' ' || r == '|' {
			return "", false
		}
	}
	return name, true
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"proxy-authorization": true,
}

// IsSensitiveHeader reports whether name (case-insensitive) is in the
// sensitive-header set (spec.md §4.5/§8): authorization, cookie,
// set-cookie, x-api-key, proxy-authorization. Shared by pack validation
// and the runtime dispatch site so neither can drift from the other.
func IsSensitiveHeader(name string) bool {
	lower := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		lower[i] = c
	}
	return sensitiveHeaders[string(lower)]
}
