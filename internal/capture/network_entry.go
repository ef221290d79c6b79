// Purpose: Owns network_entry.go runtime behavior and integration logic.
// Docs: docs/features/feature/flow-runtime/index.md

// network_entry.go — Per-request capture entry and body storage policy for
// the flow runtime's network buffer (spec.md §4.4). Distinct from the
// dashboard's NetworkBody/NetworkWaterfallEntry types: this is the
// flow-runtime's own capture record, kept in its own ring buffer instance
// rather than mixed into Capture's dashboard-facing buffers.
package capture

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"io"
	"strings"

	"github.com/dev-console/dev-console/internal/redaction"
	"github.com/tidwall/gjson"
)

// Body storage thresholds (spec.md §4.4).
const (
	maxInlineBodyBytes   = 5 * 1024 * 1024  // 5 MiB: stored as text/JSON inline
	maxAggregateBodyBytes = 50 * 1024 * 1024 // 50 MiB: aggregate rolling buffer cap
	maxHeaderValueBytes  = 64 * 1024        // 64 KiB: header value truncation
	maxNetworkEntries    = 300
)

// BodyStorage describes how a captured body ended up stored.
type BodyStorage string

const (
	BodyInline       BodyStorage = "inline"
	BodyBase64       BodyStorage = "base64"
	BodyMetadataOnly BodyStorage = "metadata_only"
)

// NetworkEntry is one captured request/response pair, redacted and with its
// body stored per maxInlineBodyBytes policy.
type NetworkEntry struct {
	ID           string
	Method       string
	URL          string
	ResourceType string
	RequestedAt  int64 // unix millis
	Status       int
	RespondedAt  int64
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
	Body         []byte
	BodyStorage  BodyStorage
	BodySize     int // original size before any truncation/metadata-only fallback
}

// sensitiveHeaders is the single source of truth for header redaction
// (spec.md §4.4): authorization, cookie, set-cookie, x-api-key,
// proxy-authorization. Both request and response headers are filtered
// through it before an entry is stored or exported.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"proxy-authorization": true,
}

func redactHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		lower := strings.ToLower(k)
		if sensitiveHeaders[lower] {
			out[k] = "[redacted]"
			continue
		}
		if len(v) > maxHeaderValueBytes {
			v = v[:maxHeaderValueBytes] + "...[truncated]"
		}
		out[k] = v
	}
	return out
}

// storeBody applies the body storage policy: gzip is decompressed in place;
// text/JSON content under maxInlineBodyBytes is redacted via redactor and
// stored inline; larger bodies are base64-encoded (and so never pattern-
// matched — redaction only runs against text-like content); bodies too
// large even for that fall back to metadata-only (size recorded, content
// dropped). redactor is never nil — see NewNetworkCapture.
func storeBody(redactor *redaction.RedactionEngine, raw []byte, contentEncoding, contentType string) ([]byte, BodyStorage, int) {
	data := raw
	if strings.Contains(strings.ToLower(contentEncoding), "gzip") {
		if decoded, err := gunzip(raw); err == nil {
			data = decoded
		}
	}
	size := len(data)

	// An empty or absent content-type is common for fetch()/XHR responses a
	// pack didn't set explicit headers for; gjson.Valid catches the common
	// case of a JSON body arriving with no content-type at all, on top of
	// the declared-header check.
	isTextLike := strings.Contains(contentType, "json") ||
		strings.Contains(contentType, "text") ||
		(contentType == "" && gjson.Valid(string(data)))

	switch {
	case isTextLike && size <= maxInlineBodyBytes:
		redacted := redactor.Redact(string(data))
		return []byte(redacted), BodyInline, size
	case size <= maxInlineBodyBytes:
		encoded := []byte(base64.StdEncoding.EncodeToString(data))
		return encoded, BodyBase64, size
	default:
		return nil, BodyMetadataOnly, size
	}
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
