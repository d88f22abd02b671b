package v2

import (
	"context"
	"encoding/json"

	"github.com/basinlabs/browserbridge/internal/tools/common"
	"github.com/basinlabs/browserbridge/internal/wire"
)

type domSubtreeArgs struct {
	SessionID string `json:"sessionId"`
	Selector  string `json:"selector"`
	MaxDepth  int    `json:"maxDepth"`
	MaxBytes  int    `json:"maxBytes"`
}

// GetDomSubtree implements spec.md §4.7 get_dom_subtree: 4s capture deadline.
func (d *Deps) GetDomSubtree(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a domSubtreeArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	if a.Selector == "" {
		return nil, common.MissingParam("selector")
	}
	res, err := d.capture(ctx, a.SessionID, wire.CmdCaptureDOMSubtree, args, domTimeout)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := decodeCapturePayload(res, &payload); err != nil {
		return nil, err
	}
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: res.Truncated}, nil, map[string]any{
		"dom": payload,
	}), nil
}

type domDocumentArgs struct {
	SessionID string `json:"sessionId"`
	MaxBytes  int    `json:"maxBytes"`
}

// GetDomDocument implements spec.md §4.7 get_dom_document: 4s capture
// deadline, with an HTML→outline fallback when the agent signals a partial
// capture on timeout (Truncated in the capture_result).
func (d *Deps) GetDomDocument(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a domDocumentArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	res, err := d.capture(ctx, a.SessionID, wire.CmdCaptureDOMDocument, args, domTimeout)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := decodeCapturePayload(res, &payload); err != nil {
		return nil, err
	}
	if res.Truncated {
		payload = outlineFallback(payload)
	}
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: res.Truncated}, nil, map[string]any{
		"document": payload,
	}), nil
}

// outlineFallback reduces a partial DOM document capture to a coarse outline
// (tag + id/class path) when the full HTML couldn't be captured in time.
func outlineFallback(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{"outline": nil, "fallback": true}
	}
	return map[string]any{"outline": payload["outline"], "html": payload["html"], "fallback": true}
}
