package store

import (
	"encoding/json"
	"net/url"
	"strings"
)

// NormalizeOrigin reduces an absolute http(s) URL to scheme+host+port,
// returning "" for anything else (data:, blob:, relative, malformed) per
// spec.md §3's Event.Origin invariant.
func NormalizeOrigin(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// payloadURLFields lists the JSON keys in an event payload that can carry a
// URL for origin-filter purposes, per spec.md §4.1's cross-session matching
// rule: payload.url, payload.to, payload.href, payload.location.
var payloadURLFields = []string{"url", "to", "href", "location"}

// eventMatchesOrigin implements spec.md §4.1's origin filter:
// events.origin = filter OR (origin IS NULL AND any payload URL field
// equals filter or is prefixed by "<filter>/").
func eventMatchesOrigin(storedOrigin string, payload []byte, filterOrigin string) bool {
	if storedOrigin != "" {
		return storedOrigin == filterOrigin
	}
	if len(payload) == 0 {
		return false
	}
	var tree map[string]json.RawMessage
	if err := json.Unmarshal(payload, &tree); err != nil {
		return false
	}
	prefix := filterOrigin + "/"
	for _, field := range payloadURLFields {
		raw, ok := tree[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if s == filterOrigin || strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
