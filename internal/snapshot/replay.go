// replay.go — Pre-flight HTTP-only compatibility check and the HTTP-only
// replayer for network_replay/network_extract when no live browser exists
// (spec.md §4.7). Grounded on tomasbasham-har-capture's Options/Result
// request/response shape, adapted from a HAR-producing capturer into a
// HAR-consuming one.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/template"
)

// defaultReplayTimeout is network_replay's own per-request timeout,
// independent of a step's interaction timeout (spec.md §5).
const defaultReplayTimeout = 30 * time.Second

// Compatible reports whether flow can run without a live browser: a
// snapshot exists for every network_replay step, none is stale, and the
// flow contains no DOM-coupled step kind (spec.md §4.7).
func Compatible(flow []packfile.Step, store *Store, now time.Time) (bool, []string) {
	var reasons []string
	for _, step := range flow {
		if packfile.DOMCoupledKinds[step.Type] {
			reasons = append(reasons, fmt.Sprintf("step %s: kind %q requires a live browser", step.ID, step.Type))
			continue
		}
		if step.Type != packfile.KindNetworkReplay {
			continue
		}
		snap, ok := store.Get(step.ID)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("step %s: no snapshot recorded", step.ID))
			continue
		}
		if snap.TTLMs > 0 {
			age := now.Sub(time.UnixMilli(snap.CapturedAt))
			if age > time.Duration(snap.TTLMs)*time.Millisecond {
				reasons = append(reasons, fmt.Sprintf("step %s: snapshot is stale", step.ID))
			}
		}
	}
	return len(reasons) == 0, reasons
}

// Expectations mirrors network_replay's response-validation params.
type Expectations struct {
	Status       int
	ContentType  string
	ExpectedKeys []string
}

// expectationsFromValidation builds Expectations from a snapshot's own
// persisted ResponseValidation, rather than the live pack's current params.
func expectationsFromValidation(v ResponseValidation) Expectations {
	return Expectations{
		Status:       v.ExpectedStatus,
		ContentType:  v.ExpectedContentType,
		ExpectedKeys: v.ExpectedKeys,
	}
}

// Result is what Replayer.Do hands back to the interpreter's network_replay
// out-path (the same path JSON/JMESPath handling a live replay uses).
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Replayer issues a snapshot's recorded request over plain HTTP. It does
// not carry cookies the way a live browser's Fetch does — HTTP-only mode
// exists precisely for flows that don't need session continuity, per
// spec.md §4.7's "Allowed alongside network_replay" list.
type Replayer struct {
	client  *http.Client
	timeout time.Duration
}

// NewReplayer builds a Replayer with the given per-request timeout, or
// defaultReplayTimeout if timeout is zero.
func NewReplayer(timeout time.Duration) *Replayer {
	if timeout <= 0 {
		timeout = defaultReplayTimeout
	}
	return &Replayer{client: &http.Client{Timeout: timeout}, timeout: timeout}
}

// Do replays snap's request (with its persisted overrides re-applied) and
// validates the response against snap's own persisted ResponseValidation —
// never the live pack's current params, so a pack edit between the capture
// run and this replay run can't silently change replay behavior. A
// validation failure returns a *ValidationError so the caller can "decline
// gracefully" per spec.md §4.7 rather than treat it as a hard interpreter
// error.
func (r *Replayer) Do(ctx context.Context, snap RequestSnapshot, scope template.Scope) (Result, error) {
	exp := expectationsFromValidation(snap.ResponseValidation)

	url, err := template.Render(snap.URL, scope, true)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot replay: %w", err)
	}
	body, err := template.Render(snap.Body, scope, false)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot replay: %w", err)
	}

	headers := make(map[string]string, len(snap.Headers))
	for k, v := range snap.Headers {
		headers[k] = v
	}
	url, body = applyStoredOverrides(url, body, headers, snap.Overrides)

	for _, name := range snap.SensitiveHeaders {
		rendered, err := template.Render("{{secret."+name+"}}", scope, false)
		if err != nil {
			return Result{}, fmt.Errorf("snapshot replay: sensitive header %s: %w", name, err)
		}
		if rendered != "" {
			headers[name] = rendered
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, snap.Method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return Result{}, fmt.Errorf("snapshot replay: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot replay: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("snapshot replay: read response: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	if err := validate(resp.StatusCode, resp.Header.Get("Content-Type"), exp); err != nil {
		return Result{}, err
	}

	return Result{Status: resp.StatusCode, Headers: respHeaders, Body: respBody}, nil
}

// applyStoredOverrides applies a snapshot's persisted overrides config
// (the same urlReplace/bodyReplace/url/body/setQuery/setHeaders shape
// network_replay.overrides uses live) to a replayed request.
func applyStoredOverrides(url, body string, headers map[string]string, overrides map[string]any) (string, string) {
	if overrides == nil {
		return url, body
	}
	if list, ok := overrides["urlReplace"].([]any); ok {
		url = applyFindReplaceList(url, list)
	}
	if u, ok := overrides["url"].(string); ok && u != "" {
		url = u
	}
	if list, ok := overrides["bodyReplace"].([]any); ok {
		body = applyFindReplaceList(body, list)
	}
	if b, ok := overrides["body"].(string); ok && b != "" {
		body = b
	}
	if query, ok := overrides["setQuery"].(map[string]any); ok {
		url = appendQuery(url, query)
	}
	if hdrs, ok := overrides["setHeaders"].(map[string]any); ok {
		for k, v := range hdrs {
			if packfile.IsSensitiveHeader(k) {
				continue
			}
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	return url, body
}

// applyFindReplaceList applies a find/replace regex list (spec.md §4.3.2)
// to s in order. An invalid regex is skipped rather than aborting replay.
func applyFindReplaceList(s string, list []any) string {
	for _, item := range list {
		pair, _ := item.(map[string]any)
		find, _ := pair["find"].(string)
		replace, _ := pair["replace"].(string)
		if find == "" {
			continue
		}
		re, err := regexp.Compile(find)
		if err != nil {
			continue
		}
		s = re.ReplaceAllString(s, replace)
	}
	return s
}

func appendQuery(url string, query map[string]any) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	for k, v := range query {
		url += fmt.Sprintf("%s%s=%v", sep, k, v)
		sep = "&"
	}
	return url
}

// ValidationError signals a response-validation mismatch; the caller should
// fall back to browser mode rather than treat it as fatal.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "response_validation_error: " + e.Message }

func validate(status int, contentType string, exp Expectations) error {
	if exp.Status != 0 && status != exp.Status {
		return &ValidationError{Message: fmt.Sprintf("expected status %d, got %d", exp.Status, status)}
	}
	if exp.ContentType != "" && contentType != "" && !contentTypeMatches(contentType, exp.ContentType) {
		return &ValidationError{Message: fmt.Sprintf("expected content-type %q, got %q", exp.ContentType, contentType)}
	}
	return nil
}

func contentTypeMatches(got, want string) bool {
	return len(got) >= len(want) && got[:len(want)] == want
}
