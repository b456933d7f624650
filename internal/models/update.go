package models

import "github.com/google/uuid"

// Client update event types.
const (
	UpdateEventInsert = "INSERT"
	UpdateEventUpdate = "UPDATE"
)

// Tables referenced by client updates.
const (
	UpdateTableStories  = "stories"
	UpdateTableSegments = "story_segments"
)

// SegmentUpdate is the row snapshot pushed to subscribed clients when a
// segment changes.
type SegmentUpdate struct {
	ID                    uuid.UUID        `json:"id"`
	StoryID               uuid.UUID        `json:"storyId"`
	ImageURL              *string          `json:"imageUrl,omitempty"`
	ImageGenerationStatus GenerationStatus `json:"imageGenerationStatus"`
	AudioURL              *string          `json:"audioUrl,omitempty"`
	AudioGenerationStatus GenerationStatus `json:"audioGenerationStatus"`
}

// ClientUpdate is the payload published to the client updates queue and
// forwarded over websocket to subscribers of StoryID.
type ClientUpdate struct {
	EventType string         `json:"eventType"`
	Table     string         `json:"table"`
	StoryID   uuid.UUID      `json:"storyId"`
	Segment   *SegmentUpdate `json:"segment,omitempty"`
	Story     *Story         `json:"story,omitempty"`
}
