package v2

import (
	"context"
	"encoding/json"

	"github.com/basinlabs/browserbridge/internal/tools/common"
	"github.com/basinlabs/browserbridge/internal/wire"
)

type computedStylesArgs struct {
	SessionID string `json:"sessionId"`
	Selector  string `json:"selector"`
	StyleMode string `json:"styleMode"`
}

// GetComputedStyles implements spec.md §4.7 get_computed_styles: 3s capture
// deadline.
func (d *Deps) GetComputedStyles(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a computedStylesArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	if a.Selector == "" {
		return nil, common.MissingParam("selector")
	}
	res, err := d.capture(ctx, a.SessionID, wire.CmdCaptureComputedStyle, args, styleTimeout)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := decodeCapturePayload(res, &payload); err != nil {
		return nil, err
	}
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: res.Truncated}, nil, map[string]any{
		"styles": payload,
	}), nil
}

type layoutMetricsArgs struct {
	SessionID string `json:"sessionId"`
	Selector  string `json:"selector"`
}

// GetLayoutMetrics implements spec.md §4.7 get_layout_metrics: 3s capture
// deadline.
func (d *Deps) GetLayoutMetrics(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a layoutMetricsArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	res, err := d.capture(ctx, a.SessionID, wire.CmdCaptureLayoutMetrics, args, styleTimeout)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := decodeCapturePayload(res, &payload); err != nil {
		return nil, err
	}
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: res.Truncated}, nil, map[string]any{
		"metrics": payload,
	}), nil
}
