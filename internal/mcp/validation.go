// validation.go — schema-level parameter validation for tool calls
// (spec.md §4.7): catches typo'd argument names before a handler ever sees
// them, so an LLM gets "unknown parameter" feedback instead of the
// parameter silently being ignored.
package mcp

import (
	"encoding/json"
	"fmt"
)

// ValidateParamsAgainstSchema checks incoming JSON keys against a tool's
// known property names from its InputSchema. Returns a warning per unknown
// field; known fields and missing-but-optional fields produce no warning.
func ValidateParamsAgainstSchema(data json.RawMessage, schema map[string]any) []string {
	if len(data) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	var warnings []string
	for k := range raw {
		if _, known := props[k]; !known {
			warnings = append(warnings, fmt.Sprintf("unknown parameter '%s' (ignored)", k))
		}
	}
	return warnings
}
