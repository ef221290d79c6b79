package snapshot

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/template"
)

func TestCompatibleRejectsMissingSnapshot(t *testing.T) {
	store, _ := Load(t.TempDir())
	flow := []packfile.Step{{ID: "s1", Type: packfile.KindNetworkReplay}}
	ok, reasons := Compatible(flow, store, time.Now())
	if ok || len(reasons) == 0 {
		t.Fatalf("expected incompatibility for missing snapshot")
	}
}

func TestCompatibleRejectsDOMCoupledKind(t *testing.T) {
	store, _ := Load(t.TempDir())
	flow := []packfile.Step{{ID: "s1", Type: packfile.KindClick}}
	ok, reasons := Compatible(flow, store, time.Now())
	if ok || len(reasons) == 0 {
		t.Fatalf("expected incompatibility for a DOM-coupled step")
	}
}

func TestCompatibleAcceptsSnapshottedReplay(t *testing.T) {
	store, _ := Load(t.TempDir())
	store.Put(RequestSnapshot{StepID: "s1", CapturedAt: time.Now().UnixMilli()})
	flow := []packfile.Step{
		{ID: "s1", Type: packfile.KindNetworkReplay},
		{ID: "s2", Type: packfile.KindSetVar},
	}
	ok, reasons := Compatible(flow, store, time.Now())
	if !ok {
		t.Fatalf("expected compatibility, got reasons: %v", reasons)
	}
}

func TestReplayerDoIssuesRequestAndValidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	snap := RequestSnapshot{Method: "GET", URL: srv.URL}
	r := NewReplayer(time.Second)
	res, err := r.Do(t.Context(), snap, template.Scope{}, Expectations{Status: 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("got body %q", res.Body)
	}
}

func TestReplayerDoFailsOnStatusMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	snap := RequestSnapshot{Method: "GET", URL: srv.URL}
	r := NewReplayer(time.Second)
	_, err := r.Do(t.Context(), snap, template.Scope{}, Expectations{Status: 200})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
}
