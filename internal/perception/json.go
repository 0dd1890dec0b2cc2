package perception

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON pulls the JSON payload out of a completion that may wrap it
// in markdown fences or surrounding prose. Returns the tightest span that
// starts at the first brace and ends at the last.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	// Fenced block first: models often reply ```json ... ```.
	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.Index(rest, "```"); end >= 0 {
			text = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	var end int
	if text[start] == '{' {
		end = strings.LastIndex(text, "}")
	} else {
		end = strings.LastIndex(text, "]")
	}
	if end <= start {
		return text[start:]
	}
	return text[start : end+1]
}

// unmarshalLoose unmarshals LLM output into v, repairing near-JSON replies
// (trailing commas, single quotes, unquoted keys) before giving up.
func unmarshalLoose(text string, v any) error {
	payload := extractJSON(text)
	if payload == "" {
		return fmt.Errorf("completion carried no JSON payload")
	}

	err := json.Unmarshal([]byte(payload), v)
	if err == nil {
		return nil
	}

	fixed, repairErr := jsonrepair.JSONRepair(payload)
	if repairErr != nil {
		return fmt.Errorf("failed to parse completion: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), v); err != nil {
		return fmt.Errorf("failed to parse repaired completion: %w", err)
	}
	return nil
}
