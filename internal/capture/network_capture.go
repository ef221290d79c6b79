// Purpose: Owns network_capture.go runtime behavior and integration logic.
// Docs: docs/features/feature/flow-runtime/index.md

// network_capture.go — Rolling network capture buffer for the flow runtime,
// reusing internal/buffers.RingBuffer[T] the same way Capture's dashboard
// buffers do, but scoped to one flow run instead of one dev-console process.
// Implements driver.NetworkSink so internal/driver never imports capture.
package capture

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dev-console/dev-console/internal/buffers"
	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/redaction"
	"github.com/google/uuid"
)

// BodyFetcher retrieves a response body on demand, keyed by the driver's
// CDP request id. internal/runtime wires this to Page.FetchResponseBody.
type BodyFetcher func(requestID string) ([]byte, string, string, error) // body, contentType, contentEncoding, err

// NetworkCapture is a rolling, size-bounded buffer of NetworkEntry records
// for a single flow run (spec.md §4.4: 300 entries, 50 MiB aggregate, LRU
// eviction on overflow).
type NetworkCapture struct {
	mu        sync.Mutex
	ring      *buffers.RingBuffer[NetworkEntry]
	pending   map[string]NetworkEntry
	fetchBody BodyFetcher
	redactor  *redaction.RedactionEngine
}

// NewNetworkCapture builds an empty capture buffer. fetchBody may be nil in
// HTTP-only replay mode, where no live page exists to fetch bodies from.
// redactionConfigPath optionally names a JSON file of custom patterns
// (internal/redaction's RedactionConfig) to layer on top of the builtin
// set; an empty path runs the builtins only.
func NewNetworkCapture(fetchBody BodyFetcher, redactionConfigPath string) *NetworkCapture {
	return &NetworkCapture{
		ring:      buffers.NewRingBuffer[NetworkEntry](maxNetworkEntries),
		pending:   make(map[string]NetworkEntry),
		fetchBody: fetchBody,
		redactor:  redaction.NewRedactionEngine(redactionConfigPath),
	}
}

var _ driver.NetworkSink = (*NetworkCapture)(nil)

// Observe implements driver.NetworkSink.
func (nc *NetworkCapture) Observe(ev driver.NetworkEvent) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	switch ev.Phase {
	case driver.PhaseRequest:
		nc.pending[ev.RequestID] = NetworkEntry{
			ID:             ev.RequestID,
			Method:         ev.Method,
			URL:            ev.URL,
			ResourceType:   ev.ResourceType,
			RequestedAt:    ev.Timestamp.UnixMilli(),
			RequestHeaders: redactHeaders(ev.Headers),
		}
	case driver.PhaseResponse:
		entry, ok := nc.pending[ev.RequestID]
		if !ok {
			entry = NetworkEntry{ID: ev.RequestID, URL: ev.URL}
		}
		entry.Status = ev.Status
		entry.RespondedAt = ev.Timestamp.UnixMilli()
		entry.ResponseHeaders = redactHeaders(ev.Headers)

		if nc.fetchBody != nil && nc.currentBodyBytesLocked() < maxAggregateBodyBytes {
			if body, contentType, contentEncoding, err := nc.fetchBody(ev.RequestID); err == nil {
				stored, storage, size := storeBody(nc.redactor, body, contentEncoding, contentType)
				entry.Body = stored
				entry.BodyStorage = storage
				entry.BodySize = size
			}
		}

		delete(nc.pending, ev.RequestID)
		nc.ring.WriteOne(entry)
	}
}

// currentBodyBytesLocked sums the body bytes currently retained in the ring
// (not a running total — an evicted entry's bytes drop out automatically,
// so the 50 MiB cap stays a true rolling window rather than a lifetime
// budget). Must be called with mu held.
func (nc *NetworkCapture) currentBodyBytesLocked() int {
	total := 0
	for _, e := range nc.ring.ReadAll() {
		total += len(e.Body)
	}
	return total
}

// List returns all entries currently retained, oldest first.
func (nc *NetworkCapture) List() []NetworkEntry {
	return nc.ring.ReadAll()
}

// Get returns the entry with the given request id, if still retained.
func (nc *NetworkCapture) Get(requestID string) (NetworkEntry, bool) {
	for _, e := range nc.ring.ReadAll() {
		if e.ID == requestID {
			return e, true
		}
	}
	return NetworkEntry{}, false
}

// WhereFilter mirrors packfile's network_find.where allowlist (urlIncludes,
// urlRegex, method, resourceType, status).
type WhereFilter struct {
	URLIncludes  string
	URLRegex     string
	Method       string
	ResourceType string
	Status       int
}

// Find returns entries matching all set fields of f, in capture order.
func (nc *NetworkCapture) Find(f WhereFilter) []NetworkEntry {
	var urlRe *regexp.Regexp
	if f.URLRegex != "" {
		urlRe, _ = regexp.Compile(f.URLRegex)
	}
	var matched []NetworkEntry
	for _, e := range nc.ring.ReadAll() {
		if f.URLIncludes != "" && !strings.Contains(e.URL, f.URLIncludes) {
			continue
		}
		if urlRe != nil && !urlRe.MatchString(e.URL) {
			continue
		}
		if f.Method != "" && !strings.EqualFold(e.Method, f.Method) {
			continue
		}
		if f.ResourceType != "" && !strings.EqualFold(e.ResourceType, f.ResourceType) {
			continue
		}
		if f.Status != 0 && e.Status != f.Status {
			continue
		}
		matched = append(matched, e)
	}
	return matched
}

// NewEntryID generates a stable id for an entry created outside the CDP
// event stream (e.g. synthetic entries populated from a recorded snapshot
// during HTTP-only replay).
func NewEntryID() string {
	return uuid.NewString()
}

// FormatStatus renders a status as the metadata-only placeholder text used
// when a body was dropped under the aggregate cap.
func FormatStatus(status int) string {
	return fmt.Sprintf("status=%s", strconv.Itoa(status))
}
