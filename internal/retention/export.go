package retention

import (
	"context"

	"github.com/basinlabs/browserbridge/internal/store"
)

// ExportSessionJSON delegates to the Store's JSON export (spec.md §4.4);
// kept on Engine so the admin HTTP surface has one module to call into for
// every retention-adjacent operation (eviction, sweep, export, import).
func (e *Engine) ExportSessionJSON(ctx context.Context, sessionID string, includePNGBase64 bool) (*store.ExportPayload, error) {
	return e.store.ExportSessionJSON(ctx, sessionID, includePNGBase64)
}

// ExportSessionZIP delegates to the Store's ZIP export.
func (e *Engine) ExportSessionZIP(ctx context.Context, sessionID string) ([]byte, error) {
	return e.store.ExportSessionZIP(ctx, sessionID)
}

// ImportSessionJSON delegates to the Store's JSON import.
func (e *Engine) ImportSessionJSON(ctx context.Context, payload store.ExportPayload, nowMs int64) (string, error) {
	return e.store.ImportSessionJSON(ctx, payload, nowMs)
}

// ImportSessionZIP delegates to the Store's ZIP import.
func (e *Engine) ImportSessionZIP(ctx context.Context, zipBytes []byte, nowMs int64) (string, error) {
	return e.store.ImportSessionZIP(ctx, zipBytes, nowMs)
}
