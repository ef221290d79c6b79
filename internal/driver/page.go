// page.go — Page-level DOM primitives driven by the flow interpreter.
// Grounded on the teacher's session manager Navigate/Click/Type methods,
// generalized from string selectors to resolved target.Target locators and
// extended with the step kinds SPEC_FULL.md §4 requires (frames, tabs,
// extraction, assertion).
package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Locator is anything that can be resolved to a single rod.Element. The
// flow/target packages build these from a parsed target.Target; driver does
// not know about target.Target itself to keep the dependency one-directional.
type Locator struct {
	// CSS is used directly when non-empty.
	CSS string
	// XPath is used when CSS is empty and XPath is set (role/text/label
	// targets are compiled to an XPath by internal/target's resolver).
	XPath string
	// Within, if set, scopes the search to descendants of this locator's
	// match instead of the whole document.
	Within *Locator
}

// Page wraps a rod.Page with the operations flow step handlers need.
type Page struct {
	page       *rod.Page
	timeout    time.Duration
	frameStack []*rod.Page // frame.enter pushes, frame.exit pops
	tabs       map[string]*rod.Page
}

func (p *Page) current() *rod.Page {
	if len(p.frameStack) > 0 {
		return p.frameStack[len(p.frameStack)-1]
	}
	return p.page
}

func (p *Page) ctx(ctx context.Context) *rod.Page {
	return p.current().Context(ctx).Timeout(p.timeout)
}

// Navigate loads a URL in the active frame/tab.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.ctx(ctx).Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return p.ctx(ctx).WaitLoad()
}

// WaitFor blocks until loc resolves, or until timeout elapses.
func (p *Page) WaitFor(ctx context.Context, loc Locator) error {
	_, err := p.resolve(ctx, loc)
	return err
}

// WaitForLoadState blocks until the page's load event has fired.
func (p *Page) WaitForLoadState(ctx context.Context) error {
	return p.ctx(ctx).WaitLoad()
}

// WaitForURL blocks until the current URL contains substr.
func (p *Page) WaitForURL(ctx context.Context, substr string) error {
	deadline := time.Now().Add(p.timeout)
	for {
		info, err := p.current().Info()
		if err == nil && strings.Contains(info.URL, substr) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait_for: url never contained %q", substr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (p *Page) resolve(ctx context.Context, loc Locator) (*rod.Element, error) {
	root := p.ctx(ctx)
	if loc.Within != nil {
		scope, err := p.resolve(ctx, *loc.Within)
		if err != nil {
			return nil, fmt.Errorf("within: %w", err)
		}
		if loc.CSS != "" {
			el, err := scope.Timeout(p.timeout).Element(loc.CSS)
			if err != nil {
				return nil, fmt.Errorf("element not found (scoped): %w", err)
			}
			return el, nil
		}
		el, err := scope.Timeout(p.timeout).ElementX(loc.XPath)
		if err != nil {
			return nil, fmt.Errorf("element not found (scoped): %w", err)
		}
		return el, nil
	}
	if loc.CSS != "" {
		el, err := root.Element(loc.CSS)
		if err != nil {
			return nil, fmt.Errorf("element not found: %w", err)
		}
		return el, nil
	}
	el, err := root.ElementX(loc.XPath)
	if err != nil {
		return nil, fmt.Errorf("element not found: %w", err)
	}
	return el, nil
}

// Click resolves loc and clicks it.
func (p *Page) Click(ctx context.Context, loc Locator) error {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// Fill resolves loc and sets its value, clearing any existing content first.
func (p *Page) Fill(ctx context.Context, loc Locator, value string) error {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

// SelectOption resolves loc (expected to be a <select>) and chooses value.
func (p *Page) SelectOption(ctx context.Context, loc Locator, value string) error {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.Select([]string{value}, true, rod.SelectorTypeText); err != nil {
		if errSel := el.Select([]string{value}, true, rod.SelectorTypeValue); errSel != nil {
			return fmt.Errorf("select_option: %w", err)
		}
	}
	return nil
}

// PressKey sends a key press to the currently focused element, or to loc if set.
func (p *Page) PressKey(ctx context.Context, loc *Locator, key input.Key) error {
	if loc != nil {
		el, err := p.resolve(ctx, *loc)
		if err != nil {
			return err
		}
		return el.Type(key)
	}
	return p.ctx(ctx).Keyboard.Type(key)
}

// UploadFile resolves loc (expected to be an <input type=file>) and sets files.
func (p *Page) UploadFile(ctx context.Context, loc Locator, paths []string) error {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return err
	}
	if err := el.SetFiles(paths); err != nil {
		return fmt.Errorf("upload_file: %w", err)
	}
	return nil
}

// EnterFrame pushes an iframe (resolved by loc) onto the active frame stack.
func (p *Page) EnterFrame(ctx context.Context, loc Locator) error {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return fmt.Errorf("frame: %w", err)
	}
	frame, err := el.Frame()
	if err != nil {
		return fmt.Errorf("frame: not an iframe: %w", err)
	}
	p.frameStack = append(p.frameStack, frame)
	return nil
}

// ExitFrame pops the active frame stack, returning to the parent frame.
func (p *Page) ExitFrame() error {
	if len(p.frameStack) == 0 {
		return fmt.Errorf("frame: no active frame to exit")
	}
	p.frameStack = p.frameStack[:len(p.frameStack)-1]
	return nil
}

// NewTab opens url in a new tab, tracked under name, and switches to it.
func (p *Page) NewTab(ctx context.Context, name, url string) error {
	if p.tabs == nil {
		p.tabs = make(map[string]*rod.Page)
	}
	np, err := p.page.Browser().Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("new_tab: %w", err)
	}
	p.tabs[name] = np
	p.page = np
	p.frameStack = nil
	return nil
}

// SwitchTab switches the active page to a previously opened tab by name.
func (p *Page) SwitchTab(name string) error {
	tab, ok := p.tabs[name]
	if !ok {
		return fmt.Errorf("switch_tab: unknown tab %q", name)
	}
	p.page = tab
	p.frameStack = nil
	return nil
}

// Title returns the current page title.
func (p *Page) Title(ctx context.Context) (string, error) {
	info, err := p.ctx(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("extract_title: %w", err)
	}
	return info.Title, nil
}

// Text returns the resolved element's trimmed visible text.
func (p *Page) Text(ctx context.Context, loc Locator) (string, error) {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return "", err
	}
	text, err := el.Text()
	if err != nil {
		return "", fmt.Errorf("extract_text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Attribute returns a named attribute's value from the resolved element.
func (p *Page) Attribute(ctx context.Context, loc Locator, name string) (string, error) {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return "", err
	}
	val, err := el.Attribute(name)
	if err != nil {
		return "", fmt.Errorf("extract_attribute: %w", err)
	}
	if val == nil {
		return "", nil
	}
	return *val, nil
}

// Exists reports whether loc resolves to an element present in the DOM,
// regardless of visibility — distinct from Visible, which also requires the
// element to be rendered and not display:none/hidden.
func (p *Page) Exists(ctx context.Context, loc Locator) bool {
	_, err := p.resolve(ctx, loc)
	return err == nil
}

// Visible reports whether the resolved element is visible; a resolution
// failure is treated as "not visible" rather than an error, matching
// assert's "element should not be visible" usage.
func (p *Page) Visible(ctx context.Context, loc Locator) bool {
	el, err := p.resolve(ctx, loc)
	if err != nil {
		return false
	}
	visible, err := el.Visible()
	if err != nil {
		return false
	}
	return visible
}

// CurrentURL returns the active frame's URL.
func (p *Page) CurrentURL() (string, error) {
	info, err := p.current().Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

// WireNetwork subscribes sink to request/response lifecycle events on the
// page's CDP connection, in the manner of the teacher's startEventStream.
func (p *Page) WireNetwork(ctx context.Context, sink NetworkSink) {
	go p.current().Context(ctx).EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			headers := make(map[string]string, len(ev.Request.Headers))
			for k, v := range ev.Request.Headers {
				headers[strings.ToLower(k)] = fmt.Sprintf("%v", v)
			}
			sink.Observe(NetworkEvent{
				Phase:        PhaseRequest,
				RequestID:    string(ev.RequestID),
				Method:       ev.Request.Method,
				URL:          ev.Request.URL,
				ResourceType: string(ev.Type),
				Headers:      headers,
				Timestamp:    time.Now(),
			})
		},
		func(ev *proto.NetworkResponseReceived) {
			headers := make(map[string]string, len(ev.Response.Headers))
			for k, v := range ev.Response.Headers {
				headers[strings.ToLower(k)] = fmt.Sprintf("%v", v)
			}
			sink.Observe(NetworkEvent{
				Phase:     PhaseResponse,
				RequestID: string(ev.RequestID),
				URL:       ev.Response.URL,
				Status:    ev.Response.Status,
				Headers:   headers,
				Timestamp: time.Now(),
			})
		},
	)()
}

// FetchResponseBody retrieves a captured request's response body by CDP
// request id, decoding it from base64 when the CDP call reports it as such.
func (p *Page) FetchResponseBody(requestID string) ([]byte, error) {
	res, err := proto.NetworkGetResponseBody{RequestID: proto.NetworkRequestID(requestID)}.Call(p.current())
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	if res.Base64Encoded {
		data, err := base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return nil, fmt.Errorf("decode response body: %w", err)
		}
		return data, nil
	}
	return []byte(res.Body), nil
}

// FetchRequest describes a network_replay reissue.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// FetchResult is the observed outcome of a Fetch call.
type FetchResult struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Fetch reissues a request from inside the page's own JS context via
// window.fetch, so the browser's live cookie jar and session state apply
// automatically — replaying through a detached net/http client would lose
// exactly the session continuity network_replay exists to exercise.
func (p *Page) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	res, err := p.ctx(ctx).Evaluate(&rod.EvalOptions{
		JS: `
		async (method, url, headers, body) => {
			const opts = { method, headers, credentials: 'include' };
			if (body && method !== 'GET' && method !== 'HEAD') opts.body = body;
			const resp = await fetch(url, opts);
			const text = await resp.text();
			const respHeaders = {};
			resp.headers.forEach((v, k) => { respHeaders[k] = v; });
			return { status: resp.status, headers: respHeaders, body: text };
		}
		`,
		JSArgs:       []interface{}{req.Method, req.URL, req.Headers, req.Body},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return FetchResult{}, fmt.Errorf("replay fetch: %w", err)
	}

	var decoded struct {
		Status  int               `json:"status"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return FetchResult{}, fmt.Errorf("replay fetch: decode result: %w", err)
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return FetchResult{}, fmt.Errorf("replay fetch: decode result: %w", err)
	}
	return FetchResult{Status: decoded.Status, Headers: decoded.Headers, Body: decoded.Body}, nil
}
