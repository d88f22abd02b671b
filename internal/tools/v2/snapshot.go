package v2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
	"github.com/basinlabs/browserbridge/internal/wire"
)

type captureUISnapshotArgs struct {
	SessionID         string `json:"sessionId"`
	Trigger           string `json:"trigger"`
	Selector          string `json:"selector"`
	StyleMode         string `json:"styleMode"`
	ExplicitStyleMode bool   `json:"explicitStyleMode"`
	TriggerEventID    string `json:"triggerEventId"`
}

// CaptureUISnapshot implements spec.md §4.7 capture_ui_snapshot: a 5s
// capture deadline, the session's safeMode flag as its privacy policy (the
// spec's "configured privacy policy" has no dedicated schema field — safeMode
// is the one session-level privacy toggle spec.md §3 defines, see
// DESIGN.md), and the literal computed-full→computed-lite silent downgrade
// rule when the caller didn't set explicitStyleMode.
func (d *Deps) CaptureUISnapshot(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a captureUISnapshotArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	if a.Trigger == "" {
		a.Trigger = store.SnapshotTriggerManual
	}
	styleMode := a.StyleMode
	if styleMode == "" {
		styleMode = store.StyleModeLite
	}
	if styleMode == store.StyleModeFull && !a.ExplicitStyleMode {
		styleMode = store.StyleModeLite
	}

	sess, err := d.Store.GetSession(ctx, a.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.SafeMode && a.Trigger != store.SnapshotTriggerManual {
		return nil, &common.ValidationError{Param: "trigger", Message: fmt.Sprintf("session privacy policy (safeMode) permits only manual triggers, got %q", a.Trigger)}
	}

	req := map[string]any{
		"sessionId":      a.SessionID,
		"trigger":        a.Trigger,
		"selector":       a.Selector,
		"styleMode":      styleMode,
		"triggerEventId": a.TriggerEventID,
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	res, err := d.capture(ctx, a.SessionID, wire.CmdCaptureUISnapshot, reqJSON, snapshotTimeout)
	if err != nil {
		return nil, err
	}

	var captured struct {
		URL        string          `json:"url"`
		DOM        json.RawMessage `json:"dom"`
		Styles     json.RawMessage `json:"styles"`
		PNGDataURL string          `json:"pngDataUrl"`
	}
	if err := decodeCapturePayload(res, &captured); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"trigger":        a.Trigger,
		"triggerEventId": a.TriggerEventID,
		"selector":       a.Selector,
		"mode":           store.SnapshotModeBoth,
		"styleMode":      styleMode,
		"url":            captured.URL,
		"dom":            captured.DOM,
		"styles":         captured.Styles,
		"pngDataUrl":     captured.PNGDataURL,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	if err := d.Store.InsertEventBatch(ctx, []store.EventInput{{
		SessionID: a.SessionID,
		Timestamp: now,
		EventType: wire.EventTypeUISnapshot,
		Payload:   payload,
	}}); err != nil {
		return nil, err
	}

	snaps, err := d.Store.ListSnapshots(ctx, a.SessionID, 1, 0)
	if err != nil {
		return nil, err
	}
	var snap *store.Snapshot
	if len(snaps) > 0 {
		snap = &snaps[0]
	}

	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: res.Truncated}, nil, map[string]any{
		"snapshot": snap,
	}), nil
}
