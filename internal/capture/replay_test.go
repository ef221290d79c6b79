package capture

import (
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/dev-console/dev-console/internal/driver"
)

func TestNetworkCaptureReplayAppliesOverrides(t *testing.T) {
	nc := NewNetworkCapture(nil, "")
	nc.Observe(driver.NetworkEvent{
		Phase: driver.PhaseRequest, RequestID: "r1", Method: "GET",
		URL: "https://api.example.com/v1/orders?batch=W24", Timestamp: time.UnixMilli(1000),
		Headers: map[string]string{"Accept": "application/json"},
	})
	nc.Observe(driver.NetworkEvent{Phase: driver.PhaseResponse, RequestID: "r1", Status: 200, Timestamp: time.UnixMilli(1001)})

	overrides := map[string]any{
		"urlReplace": []any{map[string]any{"find": "W24", "replace": "W25"}},
		"setHeaders": map[string]any{"X-Trace": "abc", "Authorization": "should-not-apply"},
	}

	var gotReq driver.FetchRequest
	res, err := nc.Replay("r1", overrides, func(req driver.FetchRequest) (driver.FetchResult, error) {
		gotReq = req
		return driver.FetchResult{Status: 200}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != 200 {
		t.Fatalf("expected status 200, got %d", res.Status)
	}
	if gotReq.URL != "https://api.example.com/v1/orders?batch=W25" {
		t.Fatalf("expected urlReplace to apply, got %q", gotReq.URL)
	}
	if gotReq.Headers["X-Trace"] != "abc" {
		t.Fatalf("expected setHeaders to apply ordinary header, got %+v", gotReq.Headers)
	}
	if _, ok := gotReq.Headers["Authorization"]; ok {
		t.Fatalf("expected sensitive header override to be refused, got %+v", gotReq.Headers)
	}
}

func TestNetworkCaptureReplayUnknownID(t *testing.T) {
	nc := NewNetworkCapture(nil, "")
	_, err := nc.Replay("missing", nil, func(req driver.FetchRequest) (driver.FetchResult, error) {
		return driver.FetchResult{}, nil
	})
	if err == nil {
		t.Fatalf("expected error for unknown request id")
	}
}

func TestNetworkCaptureGetResponseBodyDecodesBase64(t *testing.T) {
	binary := make([]byte, maxInlineBodyBytes+1)
	nc := NewNetworkCapture(func(requestID string) ([]byte, string, string, error) {
		return binary, "application/octet-stream", "", nil
	}, "")
	observeRequestResponse(nc, "r1", "GET", "https://api.example.com/file", 200, time.UnixMilli(1000))

	body, ok := nc.GetResponseBody("r1")
	if !ok {
		t.Fatalf("expected body to decode")
	}
	if len(body) != len(binary) {
		t.Fatalf("expected decoded body to round-trip length %d, got %d", len(binary), len(body))
	}
}

func TestNetworkCaptureGetResponseBodyMissing(t *testing.T) {
	nc := NewNetworkCapture(nil, "")
	observeRequestResponse(nc, "r1", "GET", "https://api.example.com/empty", 204, time.UnixMilli(1000))

	if _, ok := nc.GetResponseBody("r1"); ok {
		t.Fatalf("expected GetResponseBody to report no body for a response with no fetcher")
	}
	if _, ok := nc.GetResponseBody("missing"); ok {
		t.Fatalf("expected GetResponseBody to report not found for unknown id")
	}
}

func TestNetworkCaptureExportImportRoundTripIsIdentical(t *testing.T) {
	nc := NewNetworkCapture(func(requestID string) ([]byte, string, string, error) {
		return []byte(`{"ok":true}`), "application/json", "", nil
	}, "")
	observeRequestResponse(nc, "r1", "GET", "https://api.example.com/v1/users", 200, time.UnixMilli(1000))

	before, ok := nc.Get("r1")
	if !ok {
		t.Fatalf("expected r1 to be captured")
	}
	exported, ok := nc.Export("r1")
	if !ok {
		t.Fatalf("expected export to find r1")
	}

	nc2 := NewNetworkCapture(nil, "")
	nc2.Import(exported)

	after, ok := nc2.Get("r1")
	if !ok {
		t.Fatalf("expected import to make r1 visible to Get")
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("expected export/import round trip to be identical: before=%+v after=%+v", before, after)
	}

	foundByFind := nc2.Find(WhereFilter{URLIncludes: "users"})
	if len(foundByFind) != 1 || foundByFind[0].ID != "r1" {
		t.Fatalf("expected Find to treat the imported entry identically, got %+v", foundByFind)
	}
}

func TestNetworkCaptureAggregateIsARollingWindowNotALifetimeCap(t *testing.T) {
	// A small per-entry body (10 KiB) keeps the live 300-entry window's
	// total (~3 MiB) far under the 50 MiB aggregate cap forever, but a
	// lifetime-summed counter crosses 50 MiB after ~5120 entries. If
	// aggregate tracking never accounts for ring eviction, fetchBody stops
	// being called past that point and every later entry's body is dropped.
	const bodySize = 10 * 1024
	body := make([]byte, bodySize)
	nc := NewNetworkCapture(func(requestID string) ([]byte, string, string, error) {
		return body, "application/octet-stream", "", nil
	}, "")

	const total = 5300
	for i := 0; i < total; i++ {
		id := "r" + strconv.Itoa(i)
		observeRequestResponse(nc, id, "GET", "https://api.example.com/"+id, 200, time.UnixMilli(int64(1000+i)))
	}

	lastID := "r" + strconv.Itoa(total-1)
	entry, ok := nc.Get(lastID)
	if !ok {
		t.Fatalf("expected the most recent entry to still be retained")
	}
	if entry.BodyStorage == BodyMetadataOnly || len(entry.Body) == 0 {
		t.Fatalf("expected fetchBody to still run well past the lifetime 50 MiB mark, since the live window never holds more than ~3 MiB; got storage=%v body_len=%d", entry.BodyStorage, len(entry.Body))
	}
}
