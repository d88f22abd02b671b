package v1

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/basinlabs/browserbridge/internal/store"
	"github.com/basinlabs/browserbridge/internal/tools/common"
	"github.com/basinlabs/browserbridge/internal/wire"
)

type errorFingerprintsArgs struct {
	SessionID    string `json:"sessionId"`
	SinceMinutes int64  `json:"sinceMinutes"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

// GetErrorFingerprints implements spec.md §4.7 get_error_fingerprints.
func (d *Deps) GetErrorFingerprints(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a errorFingerprintsArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, &common.ValidationError{Message: "invalid arguments"}
		}
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	var sinceMs int64
	if a.SinceMinutes > 0 {
		sinceMs = time.Now().UnixMilli() - a.SinceMinutes*60_000
	}
	rows, err := d.Store.ErrorFingerprints(ctx, a.SessionID, sinceMs, common.FetchLimit(limit), common.NormalizeOffset(a.Offset))
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(rows, limit)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, nil, map[string]any{
		"fingerprints": page,
	}), nil
}

type networkFailuresArgs struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	ErrorType string `json:"errorType"`
	GroupBy   string `json:"groupBy"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

// GetNetworkFailures implements spec.md §4.7 get_network_failures.
func (d *Deps) GetNetworkFailures(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a networkFailuresArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &common.ValidationError{Message: "invalid arguments"}
	}
	origin, err := common.ValidateURLFilter(a.URL)
	if err != nil {
		return nil, err
	}
	if a.SessionID == "" && origin == "" {
		return nil, &common.ValidationError{Param: "sessionId", Message: "one of sessionId or url is required"}
	}
	limit := common.NormalizeLimit(a.Limit, 50)
	rows, err := d.Store.NetworkFailures(ctx, store.NetworkFilter{
		SessionID:    a.SessionID,
		OriginFilter: origin,
		ErrorType:    a.ErrorType,
		Limit:        common.FetchLimit(limit),
		Offset:       common.NormalizeOffset(a.Offset),
	})
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(rows, limit)

	extra := map[string]any{"failures": page}
	if a.GroupBy == "url" || a.GroupBy == "domain" || a.GroupBy == "errorType" {
		extra["groups"] = groupNetworkFailures(page, a.GroupBy)
	}
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, nil, extra), nil
}

func groupNetworkFailures(rows []store.NetworkRecord, groupBy string) map[string]int {
	out := map[string]int{}
	for _, r := range rows {
		var key string
		switch groupBy {
		case "url":
			key = r.URL
		case "domain":
			key = r.Origin
		case "errorType":
			key = r.ErrorClass
		}
		if key == "" {
			key = "(unknown)"
		}
		out[key]++
	}
	return out
}

type explainLastFailureArgs struct {
	SessionID       string `json:"sessionId"`
	LookbackSeconds int64  `json:"lookbackSeconds"`
}

// ExplainLastFailure implements spec.md §4.7 explain_last_failure: pick the
// later of (latest error event, latest network failure) as the anchor, build
// a timeline within ±lookbackSeconds, and classify the root cause by
// proximity heuristics.
func (d *Deps) ExplainLastFailure(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a explainLastFailureArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	lookback := a.LookbackSeconds
	if lookback <= 0 {
		lookback = 30
	}

	errs, err := d.Store.RecentEvents(ctx, store.EventFilter{SessionID: a.SessionID, Kinds: []wire.StoredKind{wire.KindError}, Limit: 1})
	if err != nil {
		return nil, err
	}
	failures, err := d.Store.NetworkFailures(ctx, store.NetworkFilter{SessionID: a.SessionID, Limit: 1})
	if err != nil {
		return nil, err
	}

	var anchorTs int64
	var anchorKind string
	if len(errs) > 0 {
		anchorTs, anchorKind = errs[0].Timestamp, "error"
	}
	if len(failures) > 0 && failures[0].Timestamp > anchorTs {
		anchorTs, anchorKind = failures[0].Timestamp, "network"
	}
	if anchorTs == 0 {
		return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: 0, Truncated: false}, nil, map[string]any{
			"rootCause": "no error or network failure found for this session",
		}), nil
	}

	windowMs := lookback * 1000
	timelineEvents, err := d.Store.TimelineWindow(ctx, a.SessionID, anchorTs-windowMs, anchorTs+windowMs)
	if err != nil {
		return nil, err
	}
	timelineNetwork, err := d.Store.NetworkWindow(ctx, a.SessionID, anchorTs-windowMs, anchorTs+windowMs)
	if err != nil {
		return nil, err
	}

	rootCause := classifyRootCause(anchorTs, anchorKind, timelineEvents, timelineNetwork)

	rows, summary := d.redactedEventRows(timelineEvents)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: len(rows), Truncated: false}, summary, map[string]any{
		"anchorTimestamp": anchorTs,
		"anchorKind":      anchorKind,
		"rootCause":       rootCause,
		"timeline":        rows,
		"networkWindow":   timelineNetwork,
	}), nil
}

// classifyRootCause applies spec.md §4.7's proximity heuristics: a failing
// network row within 5s before the anchor implies a network root cause;
// failing that, a UI action within 10s before implies a UI trigger;
// otherwise unclassified.
func classifyRootCause(anchorTs int64, anchorKind string, events []store.Event, network []store.NetworkRecord) string {
	for _, n := range network {
		if !n.IsFailure() {
			continue
		}
		delta := anchorTs - n.Timestamp
		if delta >= 0 && delta <= 5000 {
			return "network: " + n.URL + " failed shortly before the anchor"
		}
	}
	for _, ev := range events {
		if ev.Kind != wire.KindUI {
			continue
		}
		delta := anchorTs - ev.Timestamp
		if delta >= 0 && delta <= 10000 {
			return "ui: a user action preceded the anchor " + anchorKind
		}
	}
	return "unclassified"
}

type eventCorrelationArgs struct {
	EventID       string `json:"eventId"`
	WindowSeconds int64  `json:"windowSeconds"`
}

type correlatedItem struct {
	Kind             string  `json:"kind"`
	ID               string  `json:"id"`
	Timestamp        int64   `json:"timestamp"`
	DeltaMs          int64   `json:"deltaMs"`
	CorrelationScore float64 `json:"correlationScore"`
	Relationship     string  `json:"relationship"`
}

// GetEventCorrelation implements spec.md §4.7 get_event_correlation.
func (d *Deps) GetEventCorrelation(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a eventCorrelationArgs
	if err := json.Unmarshal(args, &a); err != nil || a.EventID == "" {
		return nil, common.MissingParam("eventId")
	}
	window := a.WindowSeconds
	if window <= 0 {
		window = 5
	}
	if window > 60 {
		window = 60
	}

	anchor, err := d.Store.GetEvent(ctx, a.EventID)
	if err != nil {
		return nil, err
	}
	windowMs := window * 1000
	events, err := d.Store.TimelineWindow(ctx, anchor.SessionID, anchor.Timestamp-windowMs, anchor.Timestamp+windowMs)
	if err != nil {
		return nil, err
	}
	network, err := d.Store.NetworkWindow(ctx, anchor.SessionID, anchor.Timestamp-windowMs, anchor.Timestamp+windowMs)
	if err != nil {
		return nil, err
	}

	var items []correlatedItem
	for _, ev := range events {
		if ev.ID == anchor.ID {
			continue
		}
		items = append(items, scoreCandidate(anchor, ev.ID, string(ev.Kind), ev.Timestamp, windowMs))
	}
	for _, n := range network {
		if !n.IsFailure() {
			continue
		}
		items = append(items, scoreCandidate(anchor, n.ID, "network", n.Timestamp, windowMs))
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].CorrelationScore != items[j].CorrelationScore {
			return items[i].CorrelationScore > items[j].CorrelationScore
		}
		return abs64(items[i].DeltaMs) < abs64(items[j].DeltaMs)
	})
	truncated := len(items) > 50
	if truncated {
		items = items[:50]
	}

	return common.Envelope(anchor.SessionID, common.LimitsApplied{MaxResults: 50, Truncated: truncated}, nil, map[string]any{
		"anchorEventId": anchor.ID,
		"correlated":    items,
	}), nil
}

// semanticWeight implements spec.md §4.7's fixed weight table.
func semanticWeight(anchorKind, candidateKind string) float64 {
	isErrNet := func(k string) bool { return k == "error" || k == "network" }
	switch {
	case isErrNet(anchorKind) && candidateKind == "ui":
		return 0.85
	case candidateKind == "ui" && isErrNet(anchorKind):
		return 0.85
	case isErrNet(anchorKind) && isErrNet(candidateKind):
		return 0.9
	case anchorKind == "ui" && isErrNet(candidateKind):
		return 0.75
	case candidateKind == "nav" || anchorKind == "nav":
		return 0.6
	default:
		return 0.45
	}
}

func scoreCandidate(anchor *store.Event, id, kind string, ts, windowMs int64) correlatedItem {
	delta := ts - anchor.Timestamp
	temporalDecay := 1.0 - math.Abs(float64(delta))/float64(windowMs)
	if temporalDecay < 0 {
		temporalDecay = 0
	}
	weight := semanticWeight(string(anchor.Kind), kind)
	score := 0.7*weight + 0.3*temporalDecay

	relationship := "co-occurring"
	switch {
	case delta < 0:
		relationship = kind + " preceded the anchor"
	case delta > 0:
		relationship = kind + " followed the anchor"
	}

	return correlatedItem{
		Kind:             kind,
		ID:               id,
		Timestamp:        ts,
		DeltaMs:          delta,
		CorrelationScore: score,
		Relationship:     relationship,
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
