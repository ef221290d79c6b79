// Purpose: Implements network_capture's replay/getResponseBody/export/import
// operations (spec.md §4.5) directly on NetworkCapture, so network_replay's
// HTTP execution is one code path shared by live capture and a later
// export/import round-trip instead of being duplicated ad hoc by a caller.
// Docs: docs/features/feature/flow-runtime/index.md
package capture

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/packfile"
)

// Fetcher issues a request and returns its result. internal/runtime wires
// this to driver.Page.Fetch for live replay (browser-mediated, so session
// cookies ride along); HTTP-only replay uses internal/snapshot.Replayer
// instead, which has no live page to fetch through.
type Fetcher func(req driver.FetchRequest) (driver.FetchResult, error)

// BuildRequest reconstructs id's captured request with overrides applied
// the same way network_replay.overrides does live (spec.md §4.3.2:
// find/replace regex lists for urlReplace/bodyReplace, literal url/body,
// setQuery, and a setHeaders that refuses to set a sensitive header name).
// The caller (Replay, or internal/flow/dispatch.go when it needs the built
// request for snapshotting) issues the actual fetch.
func (nc *NetworkCapture) BuildRequest(id string, overrides map[string]any) (driver.FetchRequest, error) {
	entry, ok := nc.Get(id)
	if !ok {
		return driver.FetchRequest{}, fmt.Errorf("capture: request %q not found", id)
	}
	req := driver.FetchRequest{Method: entry.Method, URL: entry.URL, Headers: map[string]string{}}
	for k, v := range entry.RequestHeaders {
		req.Headers[k] = v
	}
	applyReplayOverrides(&req, overrides)
	return req, nil
}

// Replay builds id's request (see BuildRequest) and issues it through fetch.
func (nc *NetworkCapture) Replay(id string, overrides map[string]any, fetch Fetcher) (driver.FetchResult, error) {
	req, err := nc.BuildRequest(id, overrides)
	if err != nil {
		return driver.FetchResult{}, err
	}
	return fetch(req)
}

// applyReplayOverrides is network_replay.overrides' full shape, shared by
// live Replay here and by internal/flow/dispatch.go's equivalent for the
// direct (non-capture-mediated) live path.
func applyReplayOverrides(req *driver.FetchRequest, overrides map[string]any) {
	if overrides == nil {
		return
	}
	if list, ok := overrides["urlReplace"].([]any); ok {
		req.URL = applyFindReplaceList(req.URL, list)
	}
	if url, ok := overrides["url"].(string); ok && url != "" {
		req.URL = url
	}
	if list, ok := overrides["bodyReplace"].([]any); ok {
		req.Body = applyFindReplaceList(req.Body, list)
	}
	if body, ok := overrides["body"].(string); ok && body != "" {
		req.Body = body
	}
	if query, ok := overrides["setQuery"].(map[string]any); ok {
		req.URL = appendReplayQuery(req.URL, query)
	}
	if headers, ok := overrides["setHeaders"].(map[string]any); ok {
		for k, v := range headers {
			if packfile.IsSensitiveHeader(k) {
				continue
			}
			if s, ok := v.(string); ok {
				req.Headers[k] = s
			}
		}
	}
}

// applyFindReplaceList applies a find/replace regex list (spec.md §4.3.2) to
// s in order. An invalid regex is skipped rather than aborting replay.
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

func appendReplayQuery(url string, query map[string]any) string {
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

// GetResponseBody decodes id's stored response body back to raw bytes.
// Returns false if the entry is unknown or its body was dropped to
// metadata-only under the aggregate cap (spec.md §4.4).
func (nc *NetworkCapture) GetResponseBody(id string) ([]byte, bool) {
	entry, ok := nc.Get(id)
	if !ok || entry.BodyStorage == BodyMetadataOnly || entry.Body == nil {
		return nil, false
	}
	if entry.BodyStorage == BodyBase64 {
		decoded, err := base64.StdEncoding.DecodeString(string(entry.Body))
		if err != nil {
			return nil, false
		}
		return decoded, true
	}
	return entry.Body, true
}

// ExportedEntry is NetworkEntry's wire form for export(id)/import(entry)
// (spec.md §4.5). A plain struct copy rather than NetworkEntry itself so the
// export format doesn't silently change shape if NetworkEntry ever grows an
// internal-only field.
type ExportedEntry struct {
	ID              string            `json:"id"`
	Method          string            `json:"method"`
	URL             string            `json:"url"`
	ResourceType    string            `json:"resourceType"`
	RequestedAt     int64             `json:"requestedAt"`
	Status          int               `json:"status"`
	RespondedAt     int64             `json:"respondedAt"`
	RequestHeaders  map[string]string `json:"requestHeaders"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	Body            []byte            `json:"body,omitempty"`
	BodyStorage     BodyStorage       `json:"bodyStorage"`
	BodySize        int               `json:"bodySize"`
}

// Export returns id's entry in its wire form, for a caller to persist
// (e.g. alongside a request snapshot) and later Import back.
func (nc *NetworkCapture) Export(id string) (ExportedEntry, bool) {
	entry, ok := nc.Get(id)
	if !ok {
		return ExportedEntry{}, false
	}
	return ExportedEntry{
		ID:              entry.ID,
		Method:          entry.Method,
		URL:             entry.URL,
		ResourceType:    entry.ResourceType,
		RequestedAt:     entry.RequestedAt,
		Status:          entry.Status,
		RespondedAt:     entry.RespondedAt,
		RequestHeaders:  entry.RequestHeaders,
		ResponseHeaders: entry.ResponseHeaders,
		Body:            entry.Body,
		BodyStorage:     entry.BodyStorage,
		BodySize:        entry.BodySize,
	}, true
}

// Import writes e into the capture buffer as if it had just been observed,
// so Get/Find treat it identically to a live-captured entry (spec.md §8:
// "export(id) followed by import(entry) yields an entry that get and find
// treat identically"). A re-imported entry can evict an older live entry
// under the same 300-entry/50 MiB rules as any other WriteOne.
func (nc *NetworkCapture) Import(e ExportedEntry) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.ring.WriteOne(NetworkEntry{
		ID:              e.ID,
		Method:          e.Method,
		URL:             e.URL,
		ResourceType:    e.ResourceType,
		RequestedAt:     e.RequestedAt,
		Status:          e.Status,
		RespondedAt:     e.RespondedAt,
		RequestHeaders:  e.RequestHeaders,
		ResponseHeaders: e.ResponseHeaders,
		Body:            e.Body,
		BodyStorage:     e.BodyStorage,
		BodySize:        e.BodySize,
	})
}
