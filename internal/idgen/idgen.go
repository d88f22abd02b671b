// Package idgen mints the human-readable and content-addressed ids used
// across the Store: session ids, error-fingerprint ids, and row ids for
// entities where google/uuid is a better fit than a readable string.
package idgen

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var adjectives = []string{
	"amber", "brisk", "calm", "dusty", "eager", "faint", "gentle", "hollow",
	"indigo", "jolly", "keen", "lucid", "muted", "nimble", "ochre", "plucky",
	"quiet", "russet", "sly", "tidy", "umber", "vivid", "wry", "zesty",
}

var animals = []string{
	"otter", "heron", "lynx", "falcon", "badger", "marten", "vole", "wren",
	"gecko", "ibex", "tapir", "egret", "stoat", "shrike", "pika", "kudu",
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID mints `sess-<adj>-<animal>-<YYYYMMDD>-<6 base36>`.
func NewSessionID(now time.Time) string {
	adj := adjectives[randIntn(len(adjectives))]
	animal := animals[randIntn(len(animals))]
	suffix := randBase36(6)
	return fmt.Sprintf("sess-%s-%s-%s-%s", adj, animal, now.UTC().Format("20060102"), suffix)
}

var sessionIDPattern = regexp.MustCompile(`^sess-[a-z]+-[a-z]+-\d{8}-[0-9a-z]{6}$`)

// LooksLikeSessionID reports whether s matches the minted session id shape.
// Import paths use this to validate ids received over the wire or from
// import/export payloads before treating them as trusted keys.
func LooksLikeSessionID(s string) bool {
	return sessionIDPattern.MatchString(s)
}

// NewCorrelationID mints a unique id for a pending capture command.
func NewCorrelationID() string {
	return uuid.NewString()
}

// NewRowID mints a unique id for a plain row (events, network, snapshots).
func NewRowID() string {
	return uuid.NewString()
}

// ErrorFingerprintID computes `fp-<sha256(message+stack)[:16]>` from the
// normalized (lowercased, whitespace-collapsed, trimmed) message+stack pair.
func ErrorFingerprintID(message, stack string) string {
	norm := normalizeForFingerprint(message) + "\x00" + normalizeForFingerprint(stack)
	sum := sha256.Sum256([]byte(norm))
	return "fp-" + hex.EncodeToString(sum[:])[:16]
}

func normalizeForFingerprint(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// SanitizeForPath sanitizes a session id for use as a directory/filename
// component: only lowercase letters, digits, dot, dash, underscore survive.
func SanitizeForPath(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		return "unknown"
	}
	return out
}

func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func randBase36(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = base36Alphabet[randIntn(len(base36Alphabet))]
	}
	return string(b)
}
