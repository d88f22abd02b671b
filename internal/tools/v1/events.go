package v1

import (
	"context"
	"encoding/json"

	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
)

type eventFilterArgs struct {
	SessionID string          `json:"sessionId"`
	URL       string          `json:"url"`
	Kinds     []string        `json:"kinds"`
	Level     string          `json:"level"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
	TabID     json.RawMessage `json:"tabId"`
}

func (a eventFilterArgs) toFilter(limit int) (store.EventFilter, error) {
	origin, err := common.ValidateURLFilter(a.URL)
	if err != nil {
		return store.EventFilter{}, err
	}
	if _, err := common.ValidateTabID(a.TabID); err != nil {
		return store.EventFilter{}, err
	}
	if a.SessionID == "" && origin == "" {
		return store.EventFilter{}, &common.ValidationError{Param: "sessionId", Message: "one of sessionId or url is required"}
	}
	f := store.EventFilter{
		SessionID:    a.SessionID,
		OriginFilter: origin,
		Limit:        limit,
		Offset:       common.NormalizeOffset(a.Offset),
	}
	for _, k := range a.Kinds {
		f.Kinds = append(f.Kinds, storeKind(k))
	}
	return f, nil
}

func eventPayloads(events []store.Event) []json.RawMessage {
	out := make([]json.RawMessage, len(events))
	for i, ev := range events {
		out[i] = json.RawMessage(ev.Payload)
	}
	return out
}

// redactedEventRows pairs each event with its (re-)redacted payload for the
// JSON response, merging per-row redaction counts.
func (d *Deps) redactedEventRows(events []store.Event) ([]map[string]any, map[string]int) {
	redacted, summary := common.RedactPayloads(d.Redactor, eventPayloads(events))
	rows := make([]map[string]any, len(events))
	for i, ev := range events {
		rows[i] = map[string]any{
			"id":        ev.ID,
			"sessionId": ev.SessionID,
			"timestamp": ev.Timestamp,
			"kind":      ev.Kind,
			"tabId":     ev.TabID,
			"origin":    ev.Origin,
			"data":      redacted[i],
		}
	}
	return rows, summary
}

// GetRecentEvents implements spec.md §4.7 get_recent_events.
func (d *Deps) GetRecentEvents(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a eventFilterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &common.ValidationError{Message: "invalid arguments"}
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	f, err := a.toFilter(common.FetchLimit(limit))
	if err != nil {
		return nil, err
	}
	events, err := d.Store.RecentEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(events, limit)
	rows, summary := d.redactedEventRows(page)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, summary, map[string]any{
		"events": rows,
	}), nil
}

// GetNavigationHistory implements spec.md §4.7 get_navigation_history.
func (d *Deps) GetNavigationHistory(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a eventFilterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &common.ValidationError{Message: "invalid arguments"}
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	f, err := a.toFilter(common.FetchLimit(limit))
	if err != nil {
		return nil, err
	}
	events, err := d.Store.NavigationHistory(ctx, f)
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(events, limit)
	rows, summary := d.redactedEventRows(page)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, summary, map[string]any{
		"navigation": rows,
	}), nil
}

// GetConsoleEvents implements spec.md §4.7 get_console_events.
func (d *Deps) GetConsoleEvents(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a eventFilterArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &common.ValidationError{Message: "invalid arguments"}
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	f, err := a.toFilter(common.FetchLimit(limit))
	if err != nil {
		return nil, err
	}
	events, err := d.Store.ConsoleEvents(ctx, store.ConsoleFilter{EventFilter: f, Level: a.Level})
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(events, limit)
	rows, summary := d.redactedEventRows(page)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, summary, map[string]any{
		"console": rows,
	}), nil
}

type elementRefsArgs struct {
	SessionID string `json:"sessionId"`
	Selector  string `json:"selector"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

// GetElementRefs implements spec.md §4.7 get_element_refs.
func (d *Deps) GetElementRefs(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a elementRefsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &common.ValidationError{Message: "invalid arguments"}
	}
	if a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	if a.Selector == "" {
		return nil, common.MissingParam("selector")
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	events, err := d.Store.ElementRefsBySelector(ctx, a.SessionID, a.Selector, common.FetchLimit(limit), common.NormalizeOffset(a.Offset))
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(events, limit)
	rows, summary := d.redactedEventRows(page)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, summary, map[string]any{
		"elementRefs": rows,
	}), nil
}
