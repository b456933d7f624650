package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"taleforge-server/internal/models"
)

// SegmentContent is the JSON contract every text provider must return for a
// segment request.
type SegmentContent struct {
	SegmentText      string                   `json:"segmentText"`
	Choices          []string                 `json:"choices"`
	IsEnd            bool                     `json:"isEnd"`
	ImagePrompt      string                   `json:"imagePrompt"`
	VisualContext    *models.VisualContext    `json:"visualContext,omitempty"`
	NarrativeContext *models.NarrativeContext `json:"narrativeContext,omitempty"`
}

// ExtractJSON returns the first balanced top-level JSON object found in raw.
// Models occasionally wrap the object in prose or markdown fences; everything
// around the braces is discarded.
func ExtractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in response")
}

// ParseSegmentContent extracts and validates provider output. A reply missing
// the segment text, or missing choices on a non-ending segment, fails with
// ErrInvalidContent so the caller treats it as a provider failure.
func ParseSegmentContent(raw string) (*SegmentContent, error) {
	jsonStr, err := ExtractJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidContent, err)
	}

	var content SegmentContent
	if err := json.Unmarshal([]byte(jsonStr), &content); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidContent, err)
	}

	if strings.TrimSpace(content.SegmentText) == "" {
		return nil, fmt.Errorf("%w: missing segmentText", models.ErrInvalidContent)
	}
	if !content.IsEnd && len(content.Choices) == 0 {
		return nil, fmt.Errorf("%w: missing choices on a non-ending segment", models.ErrInvalidContent)
	}
	// An ending never offers choices, whatever the model produced.
	if content.IsEnd {
		content.Choices = []string{}
	}
	return &content, nil
}
