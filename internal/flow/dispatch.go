// dispatch.go — Per-kind step handlers (spec.md §4.3.2). Each handler reads
// its already-template-rendered params and mutates RunState; side effects
// pass only through the page/capture/snapshot collaborators bundled in
// Context, never the OS directly (upload_file is the one exception the spec
// carves out, and it is itself mediated by driver.Page.UploadFile).
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dev-console/dev-console/internal/capture"
	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/snapshot"
	"github.com/dev-console/dev-console/internal/target"
	"github.com/go-rod/rod/lib/input"
	"github.com/jmespath/go-jmespath"
)

// defaultInteractionTimeout is the implicit visibility-and-enabled wait
// applied to click/fill/select_option/etc when a step doesn't set timeoutMs
// (spec.md §4.3.2).
const defaultInteractionTimeout = 30 * time.Second

// pageDriver is the full surface the interpreter drives a live page through.
// Declared in flow (not internal/driver) so the dependency is owned by its
// consumer, the same shape as internal/capture/interfaces.go; *driver.Page
// satisfies it structurally.
type pageDriver interface {
	pageProbe
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, loc driver.Locator) error
	WaitForLoadState(ctx context.Context) error
	WaitForURL(ctx context.Context, substr string) error
	Click(ctx context.Context, loc driver.Locator) error
	Fill(ctx context.Context, loc driver.Locator, value string) error
	SelectOption(ctx context.Context, loc driver.Locator, value string) error
	PressKey(ctx context.Context, loc *driver.Locator, key input.Key) error
	UploadFile(ctx context.Context, loc driver.Locator, paths []string) error
	EnterFrame(ctx context.Context, loc driver.Locator) error
	ExitFrame() error
	NewTab(ctx context.Context, name, url string) error
	SwitchTab(name string) error
	Title(ctx context.Context) (string, error)
	Text(ctx context.Context, loc driver.Locator) (string, error)
	Attribute(ctx context.Context, loc driver.Locator, name string) (string, error)
	Fetch(ctx context.Context, req driver.FetchRequest) (driver.FetchResult, error)
}

// keyMap translates a press_key "key" param into rod's input.Key. Only the
// keys a form-filling flow plausibly needs are mapped; anything else is a
// validation-time-unchecked but runtime error.
var keyMap = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Space":      input.Space,
	"Delete":     input.Delete,
}

func dispatch(ctx context.Context, step packfile.Step, params map[string]any, state *RunState, rc *Context) error {
	switch step.Type {
	case packfile.KindNavigate:
		return dispatchNavigate(ctx, params, rc)
	case packfile.KindWaitFor:
		return dispatchWaitFor(ctx, params, rc)
	case packfile.KindClick:
		loc, timeout, err := targetAndTimeout(params)
		if err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return rc.Page.Click(waitCtx, loc)
	case packfile.KindFill:
		loc, timeout, err := targetAndTimeout(params)
		if err != nil {
			return err
		}
		value, _ := params["value"].(string)
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return rc.Page.Fill(waitCtx, loc, value)
	case packfile.KindSelectOption:
		loc, timeout, err := targetAndTimeout(params)
		if err != nil {
			return err
		}
		value, _ := params["value"].(string)
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return rc.Page.SelectOption(waitCtx, loc, value)
	case packfile.KindPressKey:
		return dispatchPressKey(ctx, params, rc)
	case packfile.KindUploadFile:
		return dispatchUploadFile(ctx, params, rc)
	case packfile.KindFrame:
		return dispatchFrame(ctx, params, rc)
	case packfile.KindNewTab:
		url, _ := params["url"].(string)
		name, _ := params["name"].(string)
		return rc.Page.NewTab(ctx, name, url)
	case packfile.KindSwitchTab:
		tab, _ := params["tab"].(string)
		return rc.Page.SwitchTab(tab)
	case packfile.KindExtractTitle:
		title, err := rc.Page.Title(ctx)
		if err != nil {
			return err
		}
		state.Collectibles[mustString(params, "out")] = title
		return nil
	case packfile.KindExtractText:
		return dispatchExtractText(ctx, params, state, rc)
	case packfile.KindExtractAttr:
		return dispatchExtractAttribute(ctx, params, state, rc)
	case packfile.KindAssert:
		return dispatchAssert(ctx, params, rc)
	case packfile.KindSetVar:
		state.Vars[mustString(params, "name")] = params["value"]
		return nil
	case packfile.KindSleep:
		return dispatchSleep(ctx, params)
	case packfile.KindNetworkFind:
		return dispatchNetworkFind(ctx, params, state, rc)
	case packfile.KindNetworkReplay:
		return dispatchNetworkReplay(ctx, step, params, state, rc)
	case packfile.KindNetworkExtract:
		return dispatchNetworkExtract(params, state)
	default:
		return fmt.Errorf("flow: unhandled step kind %q", step.Type)
	}
}

func dispatchNavigate(ctx context.Context, params map[string]any, rc *Context) error {
	url, _ := params["url"].(string)
	return rc.Page.Navigate(ctx, url)
}

func dispatchWaitFor(ctx context.Context, params map[string]any, rc *Context) error {
	if loadState, ok := params["loadState"].(string); ok && loadState != "" {
		return rc.Page.WaitForLoadState(ctx)
	}
	if url, ok := params["url"].(string); ok && url != "" {
		return rc.Page.WaitForURL(ctx, url)
	}
	loc, err := targetLocator(params)
	if err != nil {
		return err
	}
	return rc.Page.WaitFor(ctx, loc)
}

func dispatchPressKey(ctx context.Context, params map[string]any, rc *Context) error {
	keyName, _ := params["key"].(string)
	key, ok := keyMap[keyName]
	if !ok {
		return fmt.Errorf("press_key: unsupported key %q", keyName)
	}
	if hasTarget(params) {
		loc, err := targetLocator(params)
		if err != nil {
			return err
		}
		return rc.Page.PressKey(ctx, &loc, key)
	}
	return rc.Page.PressKey(ctx, nil, key)
}

func dispatchUploadFile(ctx context.Context, params map[string]any, rc *Context) error {
	loc, err := targetLocator(params)
	if err != nil {
		return err
	}
	raw, _ := params["files"].([]any)
	paths := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			paths = append(paths, s)
		}
	}
	return rc.Page.UploadFile(ctx, loc, paths)
}

func dispatchFrame(ctx context.Context, params map[string]any, rc *Context) error {
	action, _ := params["action"].(string)
	if action == "exit" {
		return rc.Page.ExitFrame()
	}
	loc, err := target.Resolve(&target.Target{Kind: target.KindCSS, Selector: mustString(params, "frame")})
	if err != nil {
		return err
	}
	return rc.Page.EnterFrame(ctx, loc)
}

func dispatchExtractText(ctx context.Context, params map[string]any, state *RunState, rc *Context) error {
	out := mustString(params, "out")
	loc, err := targetLocator(params)
	if err != nil {
		return err
	}
	text, err := rc.Page.Text(ctx, loc)
	if err != nil {
		if def, ok := params["default"].(string); ok {
			state.Collectibles[out] = def
			return nil
		}
		state.Collectibles[out] = ""
		state.Hint(fmt.Sprintf("extract_text: no match for out %q", out))
		return nil
	}
	state.Collectibles[out] = text
	return nil
}

func dispatchExtractAttribute(ctx context.Context, params map[string]any, state *RunState, rc *Context) error {
	out := mustString(params, "out")
	loc, err := targetLocator(params)
	if err != nil {
		return err
	}
	attr, _ := params["attribute"].(string)
	val, err := rc.Page.Attribute(ctx, loc, attr)
	if err != nil {
		if def, ok := params["default"].(string); ok {
			state.Collectibles[out] = def
			return nil
		}
		state.Collectibles[out] = ""
		state.Hint(fmt.Sprintf("extract_attribute: no match for out %q", out))
		return nil
	}
	state.Collectibles[out] = val
	return nil
}

func dispatchAssert(ctx context.Context, params map[string]any, rc *Context) error {
	if urlIncludes, ok := params["urlIncludes"].(string); ok && urlIncludes != "" {
		url, err := rc.Page.CurrentURL()
		if err != nil {
			return err
		}
		if !strings.Contains(url, urlIncludes) {
			return fmt.Errorf("assert: url does not include %q", urlIncludes)
		}
	}
	if hasTarget(params) {
		loc, err := targetLocator(params)
		if err != nil {
			return err
		}
		if wantVisible, ok := params["visible"].(bool); ok {
			if rc.Page.Visible(ctx, loc) != wantVisible {
				return fmt.Errorf("assert: element visibility was not %v", wantVisible)
			}
		}
		if textIncludes, ok := params["textIncludes"].(string); ok && textIncludes != "" {
			text, err := rc.Page.Text(ctx, loc)
			if err != nil {
				return fmt.Errorf("assert: %w", err)
			}
			if !strings.Contains(text, textIncludes) {
				return fmt.Errorf("assert: text does not include %q", textIncludes)
			}
		}
	}
	return nil
}

func dispatchSleep(ctx context.Context, params map[string]any) error {
	ms, _ := params["durationMs"].(float64)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return nil
	}
}

func dispatchNetworkFind(ctx context.Context, params map[string]any, state *RunState, rc *Context) error {
	where, _ := params["where"].(map[string]any)
	filter := capture.WhereFilter{}
	if v, ok := where["urlIncludes"].(string); ok {
		filter.URLIncludes = v
	}
	if v, ok := where["urlRegex"].(string); ok {
		filter.URLRegex = v
	}
	if v, ok := where["method"].(string); ok {
		filter.Method = v
	}
	if v, ok := where["resourceType"].(string); ok {
		filter.ResourceType = v
	}
	if v, ok := where["status"].(float64); ok {
		filter.Status = int(v)
	}
	pick, _ := params["pick"].(string)
	saveAs := mustString(params, "saveAs")

	waitForMs, _ := params["waitForMs"].(float64)
	deadline := time.Now().Add(time.Duration(waitForMs) * time.Millisecond)

	for {
		matches := rc.Capture.Find(filter)
		if len(matches) > 0 {
			entry := matches[0]
			if pick == "last" {
				entry = matches[len(matches)-1]
			}
			state.Vars[saveAs] = entry.ID
			return nil
		}
		if waitForMs <= 0 || time.Now().After(deadline) {
			return fmt.Errorf("network_find: no matching request found")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func dispatchNetworkExtract(params map[string]any, state *RunState) error {
	out := mustString(params, "out")
	fromVar := mustString(params, "fromVar")
	raw, ok := state.Vars[fromVar]
	if !ok {
		return fmt.Errorf("network_extract: vars.%s is not set", fromVar)
	}
	as, _ := params["as"].(string)
	path, _ := params["path"].(string)
	return extractInto(state, out, raw, as, path)
}

func extractInto(state *RunState, out string, raw any, as, path string) error {
	var data any = raw
	if as == "json" {
		s, _ := raw.(string)
		if err := json.Unmarshal([]byte(s), &data); err != nil {
			return fmt.Errorf("network_extract: invalid json: %w", err)
		}
	}
	if path == "" {
		state.Collectibles[out] = data
		return nil
	}
	expr, err := jmespath.Compile(path)
	if err != nil {
		return fmt.Errorf("network_extract: %w", err)
	}
	result, err := expr.Search(data)
	if err != nil {
		return fmt.Errorf("network_extract: %w", err)
	}
	if result == nil {
		state.Hint(fmt.Sprintf("JMESPath path %q matched 0 items", path))
	}
	state.Collectibles[out] = result
	return nil
}

func dispatchNetworkReplay(ctx context.Context, step packfile.Step, params map[string]any, state *RunState, rc *Context) error {
	if rc.HTTPOnly {
		return dispatchNetworkReplayHTTPOnly(ctx, step, params, state, rc)
	}
	return dispatchNetworkReplayLive(ctx, step, params, state, rc)
}

func dispatchNetworkReplayLive(ctx context.Context, step packfile.Step, params map[string]any, state *RunState, rc *Context) error {
	requestID, _ := params["requestId"].(string)
	overrides, _ := params["overrides"].(map[string]any)

	req, err := rc.Capture.BuildRequest(requestID, overrides)
	if err != nil {
		return fmt.Errorf("network_replay: %w", err)
	}

	res, err := rc.Page.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("network_replay: %w", err)
	}

	if rc.Snapshots != nil {
		persisted, sensitive := splitSensitiveHeaders(req.Headers)
		rc.Snapshots.Put(snapshot.RequestSnapshot{
			StepID:             step.ID,
			Method:             req.Method,
			URL:                req.URL,
			Headers:            persisted,
			SensitiveHeaders:   sensitive,
			Body:               req.Body,
			CapturedAt:         time.Now().UnixMilli(),
			TTLMs:              ttlFrom(params),
			Overrides:          overridesFrom(params),
			ResponseValidation: responseValidationFrom(params),
		})
	}

	if err := validateReplayResponse(res.Status, res.Headers["content-type"], []byte(res.Body), params); err != nil {
		return err
	}
	return applyReplayOutput(state, res.Status, []byte(res.Body), params)
}

func dispatchNetworkReplayHTTPOnly(ctx context.Context, step packfile.Step, params map[string]any, state *RunState, rc *Context) error {
	snap, ok := rc.Snapshots.Get(step.ID)
	if !ok {
		return fmt.Errorf("network_replay: no snapshot recorded for step %s", step.ID)
	}
	res, err := rc.Replayer.Do(ctx, snap, rc.scope(state))
	if err != nil {
		return err
	}
	if err := validateExpectedKeys(res.Body, snap.ResponseValidation.ExpectedKeys); err != nil {
		return err
	}
	return applyReplayOutput(state, res.Status, res.Body, params)
}

func expectationsFrom(params map[string]any) snapshot.Expectations {
	resp, _ := params["response"].(map[string]any)
	exp := snapshot.Expectations{}
	if status, ok := resp["expectedStatus"].(float64); ok {
		exp.Status = int(status)
	}
	if ct, ok := resp["expectedContentType"].(string); ok {
		exp.ContentType = ct
	}
	if keys, ok := resp["expectedKeys"].([]any); ok {
		for _, k := range keys {
			if s, ok := k.(string); ok {
				exp.ExpectedKeys = append(exp.ExpectedKeys, s)
			}
		}
	}
	return exp
}

func validateReplayResponse(status int, contentType string, body []byte, params map[string]any) error {
	exp := expectationsFrom(params)
	if exp.Status != 0 && status != exp.Status {
		return &snapshot.ValidationError{Message: fmt.Sprintf("expected status %d, got %d", exp.Status, status)}
	}
	return validateExpectedKeys(body, exp.ExpectedKeys)
}

func validateExpectedKeys(body []byte, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return &snapshot.ValidationError{Message: "expected a JSON object to check expectedKeys against"}
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return &snapshot.ValidationError{Message: fmt.Sprintf("expected key %q missing from response", k)}
		}
	}
	return nil
}

// responseValidationFrom builds the snapshot-persisted form of a
// network_replay step's response-validation params (spec.md §3), captured
// at record time rather than re-read from the pack at replay time.
func responseValidationFrom(params map[string]any) snapshot.ResponseValidation {
	exp := expectationsFrom(params)
	return snapshot.ResponseValidation{
		ExpectedStatus:      exp.Status,
		ExpectedContentType: exp.ContentType,
		ExpectedKeys:        exp.ExpectedKeys,
	}
}

// ttlFrom reads a network_replay step's ttl param in milliseconds.
func ttlFrom(params map[string]any) int64 {
	if ttl, ok := params["ttl"].(float64); ok {
		return int64(ttl)
	}
	return 0
}

// overridesFrom returns the step's raw overrides param, persisted alongside
// the snapshot so a later HTTP-only replay applies exactly the override
// config that was in effect when the snapshot was recorded.
func overridesFrom(params map[string]any) map[string]any {
	overrides, _ := params["overrides"].(map[string]any)
	return overrides
}

// splitSensitiveHeaders separates h into the headers safe to persist
// verbatim and the names of the ones that are not (spec.md §3:
// "sensitive-header names are recorded ... their values are never
// serialized").
func splitSensitiveHeaders(h map[string]string) (map[string]string, []string) {
	persisted := make(map[string]string, len(h))
	var sensitive []string
	for k, v := range h {
		if packfile.IsSensitiveHeader(k) {
			sensitive = append(sensitive, k)
			continue
		}
		persisted[k] = v
	}
	return persisted, sensitive
}

func applyReplayOutput(state *RunState, status int, body []byte, params map[string]any) error {
	resp, _ := params["response"].(map[string]any)
	as, _ := resp["as"].(string)

	var data any = string(body)
	if as == "json" {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("network_replay: invalid json response: %w", err)
		}
		data = parsed
	}

	if saveAs, ok := params["saveAs"].(string); ok && saveAs != "" {
		state.Vars[saveAs] = data
	}

	out, _ := params["out"].(string)
	if out == "" {
		return nil
	}
	path, _ := resp["path"].(string)
	if path == "" {
		state.Collectibles[out] = data
		return nil
	}
	expr, err := jmespath.Compile(path)
	if err != nil {
		return fmt.Errorf("network_replay: %w", err)
	}
	result, err := expr.Search(data)
	if err != nil {
		return fmt.Errorf("network_replay: %w", err)
	}
	if result == nil {
		state.Hint(fmt.Sprintf("JMESPath path %q matched 0 items", path))
	}
	state.Collectibles[out] = result
	return nil
}

func hasTarget(params map[string]any) bool {
	_, hasT := params["target"]
	_, hasS := params["selector"]
	return hasT || hasS
}

func targetLocator(params map[string]any) (driver.Locator, error) {
	if t, ok := params["target"]; ok {
		parsed, err := target.ParseAndValidate(t)
		if err != nil {
			return driver.Locator{}, err
		}
		return target.Resolve(parsed)
	}
	if s, ok := params["selector"].(string); ok {
		return target.Resolve(&target.Target{Kind: target.KindCSS, Selector: s})
	}
	return driver.Locator{}, fmt.Errorf("step requires 'target' or 'selector'")
}

func targetAndTimeout(params map[string]any) (driver.Locator, time.Duration, error) {
	loc, err := targetLocator(params)
	if err != nil {
		return driver.Locator{}, 0, err
	}
	timeout := defaultInteractionTimeout
	if ms, ok := params["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return loc, timeout, nil
}

func mustString(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}
