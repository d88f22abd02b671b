package v2

import (
	"context"
	"encoding/json"

	"github.com/basinlabs/browserbridge/internal/session"
	"github.com/basinlabs/browserbridge/internal/tools/common"
)

type liveConsoleArgs struct {
	SessionID string   `json:"sessionId"`
	Substring string   `json:"substring"`
	Levels    []string `json:"levels"`
	Limit     int      `json:"limit"`
}

// GetLiveConsoleLogs implements spec.md §4.7 get_live_console_logs: served
// entirely from the Session Registry's in-memory ring (glossary: "queryable
// through a tool without touching the database"), with filter/paging applied
// server-side — no capture round-trip to the agent is needed since the ring
// is already mirrored at ingest time (internal/ingest.mirrorLiveConsole).
func (d *Deps) GetLiveConsoleLogs(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a liveConsoleArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = session.DefaultLiveConsoleLimit
	}
	if limit > session.MaxLiveConsoleLimit {
		limit = session.MaxLiveConsoleLimit
	}

	res := d.Sessions.QueryConsole(a.SessionID, session.ConsoleFilter{
		Substring: a.Substring,
		Levels:    a.Levels,
		Limit:     limit,
	})

	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: res.Truncated}, nil, map[string]any{
		"entries": res.Entries,
		"dropped": res.Dropped,
		"buffered": res.Buffered,
	}), nil
}
