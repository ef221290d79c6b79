// Purpose: Decouples internal/driver from internal/capture the way the
// teacher's internal/capture/interfaces.go decouples Capture from analysis,
// security, and session — driver emits events through a narrow sink
// interface and never imports the capture package directly.
package driver

import "time"

// NetworkPhase distinguishes the two CDP events a NetworkSink observes.
type NetworkPhase string

const (
	PhaseRequest  NetworkPhase = "request"
	PhaseResponse NetworkPhase = "response"
)

// NetworkEvent is the minimal request/response shape driver forwards to a
// NetworkSink. Body bytes are fetched lazily by the sink (via
// Page.GetResponseBody), not included here, since most requests are never
// inspected and fetching every body eagerly would be wasteful.
type NetworkEvent struct {
	Phase        NetworkPhase
	RequestID    string
	Method       string
	URL          string
	ResourceType string
	Status       int
	Headers      map[string]string
	Timestamp    time.Time
}

// NetworkSink receives network lifecycle events from a driven Page. It is
// implemented by internal/capture.NetworkCapture.
type NetworkSink interface {
	Observe(ev NetworkEvent)
}
