package llm

import (
	"encoding/json"
	"strings"

	apperrors "github.com/bbrew/core/internal/errors"
)

// StripFences removes a surrounding markdown code fence, with or without a
// language tag. Models add these despite instructions not to.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ParseObject extracts a JSON object from model output, tolerating fences
// and prose around the braces.
func ParseObject(text string) (map[string]any, error) {
	cleaned := StripFences(text)

	var obj map[string]any
	if err := json.Unmarshal([]byte(cleaned), &obj); err == nil {
		return obj, nil
	}

	// Salvage the outermost object from surrounding prose.
	start := strings.IndexByte(cleaned, '{')
	end := strings.LastIndexByte(cleaned, '}')
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, apperrors.New(apperrors.CodeMalformedResponse, "model response is not a JSON object")
}
