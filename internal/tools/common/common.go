// Package common holds the envelope shape and input-validation helpers
// shared by every V1/V2 tool handler (spec.md §4.7): the uniform
// `{sessionId?, limitsApplied, redactionSummary?, ...toolSpecific}` response
// shape, pagination clamping, and the typed validation errors for malformed
// url/tabId parameters.
package common

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/basinlabs/browserbridge/internal/redaction"
)

// LimitsApplied is the pagination envelope every tool response carries.
type LimitsApplied struct {
	MaxResults int  `json:"maxResults"`
	Truncated  bool `json:"truncated"`
}

// ValidationError is returned by handlers for malformed tool input; the Tool
// Runtime maps it onto a typed StructuredError rather than INTERNAL_ERROR.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func MissingParam(param string) error {
	return &ValidationError{Param: param, Message: fmt.Sprintf("%s is required", param)}
}

// LiveDisconnectedError is returned by V2 handlers once a live-tool error has
// been normalized onto the closed LIVE_SESSION_DISCONNECTED kind (spec.md
// §4.7, §7).
type LiveDisconnectedError struct{ Message string }

func (e *LiveDisconnectedError) Error() string { return e.Message }

// CaptureTimeoutError marks a capture_command deadline expiry (spec.md §5,
// §8 scenario 1): "Capture command timed out after <ms>ms".
type CaptureTimeoutError struct{ Message string }

func (e *CaptureTimeoutError) Error() string { return e.Message }

// CaptureFailedError wraps an agent-reported capture failure (ok=false).
type CaptureFailedError struct{ Message string }

func (e *CaptureFailedError) Error() string {
	if e.Message == "" {
		return "capture failed"
	}
	return e.Message
}

// NormalizeLimit clamps limit into [1, 200], defaulting when zero, per
// spec.md §4.7 pagination rules.
func NormalizeLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	return limit
}

// NormalizeOffset clamps offset to non-negative.
func NormalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// ValidateURLFilter parses an optional url filter parameter; empty is
// permitted (caller decides whether it's required in context).
func ValidateURLFilter(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", &ValidationError{Param: "url", Message: "url must be a valid absolute http(s) URL"}
	}
	return u.Scheme + "://" + u.Host, nil
}

// ValidateTabID checks a raw JSON number decodes as an integer tabId.
func ValidateTabID(raw json.RawMessage) (*int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &ValidationError{Param: "tabId", Message: "tabId must be an integer"}
	}
	if f != float64(int64(f)) {
		return nil, &ValidationError{Param: "tabId", Message: "tabId must be an integer"}
	}
	v := int64(f)
	return &v, nil
}

// Envelope builds the uniform tool-response envelope. extra holds
// tool-specific fields merged at the top level.
func Envelope(sessionID string, limits LimitsApplied, redactionSummary map[string]int, extra map[string]any) map[string]any {
	out := map[string]any{"limitsApplied": limits}
	if sessionID != "" {
		out["sessionId"] = sessionID
	}
	if len(redactionSummary) > 0 {
		out["redactionSummary"] = redactionSummary
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// FetchLimit returns limit+1 so callers can detect truncation per spec.md
// §4.7: "Tools fetch limit+1 rows and set truncated = (returned > limit)".
func FetchLimit(limit int) int { return limit + 1 }

// SplitTruncated trims a slice of length up-to-(limit+1) back down to limit
// and reports whether it was truncated.
func SplitTruncated[T any](rows []T, limit int) ([]T, bool) {
	if len(rows) > limit {
		return rows[:limit], true
	}
	return rows, false
}

// RedactPayloads re-applies the Redactor to already-persisted payloads before
// they leave the process in a tool response, merging each payload's Summary
// into one counter map. Events are redacted once at ingest time; this is a
// second, idempotent pass (redact(redact(x)) = redact(x)) that only reports
// non-empty counts when stored data predates a Redactor rule or arrived via
// import from an unredacted export.
func RedactPayloads(r *redaction.Redactor, payloads []json.RawMessage) ([]json.RawMessage, map[string]int) {
	out := make([]json.RawMessage, len(payloads))
	merged := map[string]int{}
	for i, p := range payloads {
		redacted, summary := r.RedactJSON(p)
		out[i] = redacted
		if !summary.Empty() {
			for rule, count := range summary.Counts {
				merged[rule] += count
			}
		}
	}
	if len(merged) == 0 {
		return out, nil
	}
	return out, merged
}
