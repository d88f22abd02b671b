// Package redaction implements the Redactor from spec.md §4.3: given a
// decoded value tree, recursively returns a new tree where credential-shaped
// strings are replaced with a marker recording which rule matched, and
// values under sensitive key names are fully redacted regardless of shape.
// In safe mode, a small set of whole event kinds is dropped before it ever
// reaches the tree walk.
//
// The credential-shape regexes and Luhn validator are carried over from the
// teacher's flat string-scrubbing engine; what changed is the traversal —
// the teacher matched directly against serialized tool-result text, this
// walks the decoded tree so object-shaped fields (cookie jars, storage
// dumps) can be redacted as a unit rather than leaking structure.
package redaction

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/basinlabs/browserbridge/internal/wire"
)

// Pattern is one configurable credential-shape rule.
type Pattern struct {
	Name        string `json:"name"`
	Pattern     string `json:"pattern"`
	Replacement string `json:"replacement,omitempty"`
}

// Config is the JSON shape of a user-supplied pattern file.
type Config struct {
	Patterns []Pattern `json:"patterns"`
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	validate    func(match string) bool
}

// builtinPatterns are the always-active credential-shape rules (spec.md
// §4.3(a)): Authorization/bearer/api-key/password key=value lines, JWTs,
// cookie-shaped strings, and a few common secret formats worth catching
// even though the spec only names the first group explicitly.
var builtinPatterns = []struct {
	name     string
	pattern  string
	validate func(string) bool
}{
	{name: "aws-key", pattern: `AKIA[0-9A-Z]{16}`},
	{name: "bearer-token", pattern: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{name: "basic-auth", pattern: `Basic [A-Za-z0-9+/]+=*`},
	{name: "jwt", pattern: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{name: "github-pat", pattern: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{name: "private-key", pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{name: "credit-card", pattern: `\b([0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4})\b`, validate: luhnValidateMatch},
	{name: "ssn", pattern: `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`},
	{name: "api-key-kv", pattern: `(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[:=]\s*\S+`},
	{name: "cookie-shaped", pattern: `(?i)(session|sid|token)\s*=\s*[A-Za-z0-9+/=_-]{16,}`},
}

// sensitiveKeyNames are exact (case-insensitive) key-name matches that fully
// redact the value under them, whatever its shape (spec.md §4.3(b)).
var sensitiveKeyNames = map[string]bool{
	"cookie":   true,
	"password": true,
	"token":    true,
	"value":    true,
	"input":    true,
}

// sensitiveKeySuffixes are dotted-path suffixes ("*.storage", "form.value")
// matched against the accumulated key path from the tree's root.
var sensitiveKeySuffixes = []string{
	"storage",
	"form.value",
}

// Summary counts how many redactions each rule applied to a tree, surfaced
// to callers as the `redactionSummary` tool-response field.
type Summary struct {
	Counts map[string]int
}

func newSummary() *Summary {
	return &Summary{Counts: map[string]int{}}
}

func (s *Summary) bump(rule string) {
	s.Counts[rule]++
}

// Empty reports whether no rule fired.
func (s *Summary) Empty() bool {
	return s == nil || len(s.Counts) == 0
}

// Redactor applies the tree-walk redaction rules. Safe for concurrent use
// after construction.
type Redactor struct {
	patterns []compiledPattern
}

// New builds a Redactor with the built-in patterns plus any valid custom
// patterns loaded from configPath. An empty or unreadable configPath is not
// an error — the engine falls back to built-ins only.
func New(configPath string) *Redactor {
	r := &Redactor{}
	for _, bp := range builtinPatterns {
		re, err := regexp.Compile(bp.pattern)
		if err != nil {
			continue // built-ins are fixed at compile time; never actually fails
		}
		r.patterns = append(r.patterns, compiledPattern{
			name: bp.name, regex: re, replacement: "[REDACTED:" + bp.name + "]", validate: bp.validate,
		})
	}
	if configPath != "" {
		r.loadConfig(configPath)
	}
	return r
}

func (r *Redactor) loadConfig(path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is from trusted config location
	if err != nil {
		return
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			continue
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "[REDACTED:" + p.Name + "]"
		}
		r.patterns = append(r.patterns, compiledPattern{name: p.Name, regex: re, replacement: replacement})
	}
}

// ShouldDropEventType reports whether an inbound eventType must be dropped
// wholesale before persistence because the session is in safe mode
// (spec.md §4.3: cookie/storage/local_storage/session_storage).
func ShouldDropEventType(eventType string, safeMode bool) bool {
	return safeMode && wire.SafeModeDroppableEventTypes[eventType]
}

// RedactJSON decodes raw JSON into a generic tree, walks it, and
// re-encodes. Malformed JSON passes through unredacted with an empty
// summary — callers already store payloads as opaque JSON and a single
// malformed event shouldn't abort the batch.
func (r *Redactor) RedactJSON(raw json.RawMessage) (json.RawMessage, *Summary) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return raw, newSummary()
	}
	summary := newSummary()
	redacted := r.redactValue(tree, "", summary)
	out, err := json.Marshal(redacted)
	if err != nil {
		return raw, newSummary()
	}
	return out, summary
}

// RedactValue walks an already-decoded tree (map[string]any / []any /
// scalars), the shape produced by encoding/json's default unmarshal into
// `any`. Used directly by V1/V2 tool handlers on rows read back from Store.
func (r *Redactor) RedactValue(v any) (any, *Summary) {
	summary := newSummary()
	return r.redactValue(v, "", summary), summary
}

func (r *Redactor) redactValue(v any, path string, summary *Summary) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			childPath := joinPath(path, k)
			if keyIsSensitive(k, childPath) {
				out[k] = "[REDACTED:sensitive-key]"
				summary.bump("sensitive-key")
				continue
			}
			out[k] = r.redactValue(child, childPath, summary)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = r.redactValue(elem, path, summary)
		}
		return out
	case string:
		return r.redactString(val, summary)
	default:
		return val // numbers, bools, null pass through unchanged
	}
}

func (r *Redactor) redactString(s string, summary *Summary) string {
	out := s
	for _, p := range r.patterns {
		if p.validate != nil {
			out = p.regex.ReplaceAllStringFunc(out, func(match string) string {
				if p.validate(match) {
					summary.bump(p.name)
					return p.replacement
				}
				return match
			})
			continue
		}
		if p.regex.MatchString(out) {
			out = p.regex.ReplaceAllString(out, p.replacement)
			summary.bump(p.name)
		}
	}
	return out
}

func joinPath(parent, key string) string {
	key = strings.ToLower(key)
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func keyIsSensitive(key, path string) bool {
	if sensitiveKeyNames[strings.ToLower(key)] {
		return true
	}
	for _, suffix := range sensitiveKeySuffixes {
		if path == suffix || strings.HasSuffix(path, "."+suffix) {
			return true
		}
	}
	return false
}

// luhnValid checks if a numeric string passes the Luhn algorithm, used to
// cut false positives on the credit-card pattern.
func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

func luhnValidateMatch(match string) bool {
	return luhnValid(match)
}
