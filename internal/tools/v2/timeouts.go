package v2

import "time"

// Capture deadlines per spec.md §5: "subtree/document 4s, styles/metrics
// 3s, UI snapshot 5s". internal/bridge.ToolCallTimeout allows the same
// durations for the outer JSON-RPC request so a capture never gets killed by
// the transport before its own deadline fires.
const (
	domTimeout      = 4 * time.Second
	styleTimeout    = 3 * time.Second
	snapshotTimeout = 5 * time.Second
)
