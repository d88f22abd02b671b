package bridge

import (
	"encoding/json"
	"testing"
	"time"
)

func toolCallParams(t *testing.T, name string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(map[string]any{"name": name, "arguments": map[string]any{}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestToolCallTimeoutClassesByToolName(t *testing.T) {
	cases := []struct {
		tool string
		want time.Duration
	}{
		{"list_sessions", FastTimeout},
		{"get_recent_events", FastTimeout},
		{"get_dom_subtree", DOMTimeout},
		{"get_dom_document", DOMTimeout},
		{"get_computed_styles", StyleTimeout},
		{"get_layout_metrics", StyleTimeout},
		{"capture_ui_snapshot", SnapshotTimeout},
		{"get_live_console_logs", SnapshotTimeout},
	}
	for _, tc := range cases {
		got := ToolCallTimeout("tools/call", toolCallParams(t, tc.tool))
		if got != tc.want {
			t.Errorf("ToolCallTimeout(%q) = %v, want %v", tc.tool, got, tc.want)
		}
	}
}

func TestToolCallTimeoutNonCallMethodsAreFast(t *testing.T) {
	if got := ToolCallTimeout("resources/read", nil); got != FastTimeout {
		t.Errorf("resources/read timeout = %v, want %v", got, FastTimeout)
	}
	if got := ToolCallTimeout("tools/list", nil); got != FastTimeout {
		t.Errorf("tools/list timeout = %v, want %v", got, FastTimeout)
	}
}

func TestExtractToolName(t *testing.T) {
	if got := ExtractToolName("tools/call", toolCallParams(t, "get_dom_subtree")); got != "get_dom_subtree" {
		t.Errorf("ExtractToolName = %q, want get_dom_subtree", got)
	}
	if got := ExtractToolName("tools/list", toolCallParams(t, "get_dom_subtree")); got != "" {
		t.Errorf("ExtractToolName for non-call method = %q, want empty", got)
	}
}
