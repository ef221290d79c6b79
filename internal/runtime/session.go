// session.go — Builds the flow.Context for one run: a live browser session
// wired to capture/authguard, or an HTTP-only replayer with no browser at
// all, per spec.md §4.7.
package runtime

import (
	"context"
	"fmt"

	"github.com/dev-console/dev-console/internal/capture"
	"github.com/dev-console/dev-console/internal/driver"
	"github.com/dev-console/dev-console/internal/flow"
	"github.com/dev-console/dev-console/internal/packfile"
	"github.com/dev-console/dev-console/internal/snapshot"
)

// buildContext assembles a flow.Context appropriate to httpOnly, along
// with a cleanup func the caller must defer (closes the browser session,
// if any). The network fan-out sink is wired here so capture and the auth
// policy watcher observe the same event stream without either depending
// on the other.
func buildContext(ctx context.Context, pack *packfile.Pack, inputs map[string]any, httpOnly bool, opts Options, sink EventSink) (*flow.Context, func(), error) {
	store, err := snapshot.Load(pack.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("runtime: load snapshots: %w", err)
	}
	auth, guardFlow, policyFlow := buildAuthController(pack, sink)

	if httpOnly {
		rc := &flow.Context{
			Snapshots:          store,
			Replayer:           snapshot.NewReplayer(0),
			HTTPOnly:           true,
			Auth:               auth,
			GuardRecoveryFlow:  guardFlow,
			PolicyRecoveryFlow: policyFlow,
			Inputs:             inputs,
			Secrets:            pack.Secrets,
			Sink:               eventSinkAdapter{sink},
		}
		return rc, func() {}, nil
	}

	persistence := driver.PersistenceNone
	engine := driver.EngineDefault
	if b := pack.Manifest.Browser; b != nil {
		if b.Persistence != "" {
			persistence = driver.Persistence(b.Persistence)
		}
		if b.Engine != "" {
			engine = driver.Engine(b.Engine)
		}
	}

	session, err := driver.NewSession(ctx, driver.Options{
		Engine:      engine,
		Persistence: persistence,
		PackDir:     pack.Dir,
		Headless:    opts.Headless,
		SessionID:   opts.SessionID,
		ProfileID:   opts.ProfileID,
		CDPURL:      opts.CDPURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("runtime: start session: %w", err)
	}
	page, err := session.Open(ctx)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("runtime: open page: %w", err)
	}

	nc := capture.NewNetworkCapture(func(requestID string) ([]byte, string, string, error) {
		body, err := page.FetchResponseBody(requestID)
		return body, "", "", err
	}, opts.RedactionConfigPath)
	page.WireNetwork(ctx, networkFanOut{capture: nc, auth: auth})

	rc := &flow.Context{
		Page:               page,
		Capture:            nc,
		Snapshots:          store,
		HTTPOnly:           false,
		Auth:               auth,
		GuardRecoveryFlow:  guardFlow,
		PolicyRecoveryFlow: policyFlow,
		Inputs:             inputs,
		Secrets:            pack.Secrets,
		Sink:               eventSinkAdapter{sink},
	}
	cleanup := func() { _ = session.Close() }
	return rc, cleanup, nil
}
