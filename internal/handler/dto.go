package handler

import (
	"github.com/google/uuid"

	"taleforge-server/internal/models"
)

// APIResponse is the uniform response envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// GenerateSegmentRequestDTO is the body of POST /api/stories/segments.
// A new story sets genre and prompt; a continuation sets storyId,
// parentSegmentId and choiceText.
type GenerateSegmentRequestDTO struct {
	Prompt          string     `json:"prompt"`
	Genre           string     `json:"genre"`
	StoryID         *uuid.UUID `json:"storyId"`
	ParentSegmentID *uuid.UUID `json:"parentSegmentId"`
	ChoiceText      string     `json:"choiceText"`
	SkipImage       bool       `json:"skipImage"`
	SkipAudio       bool       `json:"skipAudio"`
}

// FinishStoryRequestDTO is the body of POST /api/stories/:id/finish.
type FinishStoryRequestDTO struct {
	SkipImage bool `json:"skipImage"`
	SkipAudio bool `json:"skipAudio"`
}

// StoryWithSegmentsDTO is the payload of GET /api/stories/:id.
type StoryWithSegmentsDTO struct {
	Story    models.Story          `json:"story"`
	Segments []models.StorySegment `json:"segments"`
}
