// Package v2 implements the V2 Live Handlers (spec.md §4.7): tools that
// round-trip through the Ingest Pipeline's capture-command correlation to a
// live, bound agent connection. Every handler normalizes
// session.ErrLiveSessionDisconnected and ingest timeout errors into the
// LIVE_SESSION_DISCONNECTED error kind by substring match, per spec.md §4.7
// ("matching the error message against a closed list of substrings").
package v2

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/basinlabs/browserbridge/internal/ingest"
	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
)

// Deps bundles the V2 handlers' dependencies.
type Deps struct {
	Ingest   *ingest.Pipeline
	Sessions *session.Registry
	Store    *store.Store
}

func New(p *ingest.Pipeline, reg *session.Registry, s *store.Store) *Deps {
	return &Deps{Ingest: p, Sessions: reg, Store: s}
}

// disconnectSubstrings is the closed list spec.md §4.7 requires every live
// tool to match an extension-disconnected error message against.
var disconnectSubstrings = []string{
	"LIVE_SESSION_DISCONNECTED",
	"connection closed before capture completed",
	"is not connected",
}

func normalizeLiveError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, sub := range disconnectSubstrings {
		if strings.Contains(msg, sub) {
			return &common.LiveDisconnectedError{Message: "Session is not connected: " + msg}
		}
	}
	return err
}

// capture performs a capture round-trip and normalizes its error.
func (d *Deps) capture(ctx context.Context, sessionID, command string, payload json.RawMessage, timeout time.Duration) (session.CaptureResult, error) {
	res, err := d.Ingest.SendCapture(ctx, sessionID, command, payload, timeout)
	if err != nil {
		return session.CaptureResult{}, normalizeLiveError(err)
	}
	if !res.OK {
		return res, normalizeLiveError(&common.CaptureFailedError{Message: res.Error})
	}
	return res, nil
}

func decodeCapturePayload(res session.CaptureResult, v any) error {
	if len(res.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(res.Payload, v)
}
