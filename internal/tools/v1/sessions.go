package v1

import (
	"context"
	"encoding/json"
	"time"

	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
)

type listSessionsArgs struct {
	SinceMinutes int64 `json:"sinceMinutes"`
	Limit        int   `json:"limit"`
	Offset       int   `json:"offset"`
}

// sessionEntry is a Session plus live-connection metadata from the Session
// Registry, present only when the session is currently bound.
type sessionEntry struct {
	store.Session
	Connection *session.ConnectionState `json:"connection,omitempty"`
}

// ListSessions implements spec.md §4.7 list_sessions.
func (d *Deps) ListSessions(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a listSessionsArgs
	if len(args) > 0 {
		_ = json.Unmarshal(args, &a)
	}
	limit := common.NormalizeLimit(a.Limit, 25)
	offset := common.NormalizeOffset(a.Offset)

	var sinceFloorMs int64
	if a.SinceMinutes > 0 {
		sinceFloorMs = time.Now().UnixMilli() - a.SinceMinutes*60_000
	}

	rows, err := d.Store.ListRecentSessions(ctx, sinceFloorMs, common.FetchLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(rows, limit)

	entries := make([]sessionEntry, 0, len(page))
	for _, sess := range page {
		entry := sessionEntry{Session: sess}
		if st, ok := d.Sessions.ConnectionState(sess.SessionID); ok && st.Bound {
			cp := st
			entry.Connection = &cp
		}
		entries = append(entries, entry)
	}

	return common.Envelope("", common.LimitsApplied{MaxResults: limit, Truncated: truncated}, nil, map[string]any{
		"sessions": entries,
	}), nil
}

type sessionSummaryArgs struct {
	SessionID         string `json:"sessionId"`
	PreviousSessionID string `json:"previousSessionId"`
}

// GetSessionSummary implements spec.md §4.7 get_session_summary, plus the
// SPEC_FULL.md `previousSessionId` delta extension.
func (d *Deps) GetSessionSummary(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a sessionSummaryArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}

	sum, err := d.Store.GetSessionSummary(ctx, a.SessionID)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{"summary": sum}
	if a.PreviousSessionID != "" {
		prev, err := d.Store.GetSessionSummary(ctx, a.PreviousSessionID)
		if err == nil {
			extra["delta"] = map[string]any{
				"errorCountDelta":          sum.ErrorCount - prev.ErrorCount,
				"networkFailureCountDelta": sum.NetworkFailureCount - prev.NetworkFailureCount,
			}
		}
	}

	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: false}, nil, extra), nil
}
