package v1

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/basinlabs/browserbridge/internal/tools/common"
)

type listSnapshotsArgs struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
}

// ListSnapshots implements spec.md §4.7 list_snapshots.
func (d *Deps) ListSnapshots(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a listSnapshotsArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SessionID == "" {
		return nil, common.MissingParam("sessionId")
	}
	limit := common.NormalizeLimit(a.Limit, 25)
	rows, err := d.Store.ListSnapshots(ctx, a.SessionID, common.FetchLimit(limit), common.NormalizeOffset(a.Offset))
	if err != nil {
		return nil, err
	}
	page, truncated := common.SplitTruncated(rows, limit)
	return common.Envelope(a.SessionID, common.LimitsApplied{MaxResults: limit, Truncated: truncated}, nil, map[string]any{
		"snapshots": page,
	}), nil
}

type snapshotForEventArgs struct {
	EventID    string `json:"eventId"`
	MaxDeltaMs int64  `json:"maxDeltaMs"`
}

// GetSnapshotForEvent implements spec.md §4.7 get_snapshot_for_event:
// prefer the exact trigger_event_id link, falling back to the nearest
// snapshot within maxDeltaMs.
func (d *Deps) GetSnapshotForEvent(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a snapshotForEventArgs
	if err := json.Unmarshal(args, &a); err != nil || a.EventID == "" {
		return nil, common.MissingParam("eventId")
	}
	maxDelta := a.MaxDeltaMs
	if maxDelta <= 0 {
		maxDelta = 5000
	}
	snap, err := d.Store.GetSnapshotForEvent(ctx, a.EventID, maxDelta)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Envelope("", common.LimitsApplied{MaxResults: 0, Truncated: false}, nil, map[string]any{
			"snapshot": nil,
		}), nil
	}
	if err != nil {
		return nil, err
	}
	return common.Envelope(snap.SessionID, common.LimitsApplied{MaxResults: 1, Truncated: false}, nil, map[string]any{
		"snapshot": snap,
	}), nil
}

type snapshotAssetArgs struct {
	SnapshotID string `json:"snapshotId"`
	Offset     int64  `json:"offset"`
	ChunkSize  int64  `json:"chunkSize"`
	Encoding   string `json:"encoding"` // "base64" (default) or "bytes"
}

const (
	defaultAssetChunk = 64 << 10
	maxAssetChunk     = 256 << 10
)

// GetSnapshotAsset implements spec.md §4.7 get_snapshot_asset: bounded chunk
// reads of a snapshot's PNG asset, returned as base64 or a raw byte array.
func (d *Deps) GetSnapshotAsset(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var a snapshotAssetArgs
	if err := json.Unmarshal(args, &a); err != nil || a.SnapshotID == "" {
		return nil, common.MissingParam("snapshotId")
	}
	chunkSize := a.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultAssetChunk
	}
	if chunkSize > maxAssetChunk {
		chunkSize = maxAssetChunk
	}
	chunk, done, err := d.Store.GetSnapshotAssetChunk(ctx, a.SnapshotID, a.Offset, chunkSize)
	if err != nil {
		return nil, err
	}

	extra := map[string]any{
		"snapshotId": a.SnapshotID,
		"offset":     a.Offset,
		"eof":        done,
		"bytesRead":  len(chunk),
	}
	if a.Encoding == "bytes" {
		extra["bytes"] = chunk
	} else {
		extra["base64"] = base64.StdEncoding.EncodeToString(chunk)
	}

	return common.Envelope("", common.LimitsApplied{MaxResults: 1, Truncated: !done}, nil, extra), nil
}
