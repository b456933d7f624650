package messaging

import (
	"github.com/google/uuid"

	"taleforge-server/internal/models"
)

// MediaKind distinguishes the two media task flavors.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindAudio MediaKind = "audio"
)

// MediaTaskPayload is one background media generation task. Prompt carries
// the enhanced image prompt for image tasks and the narration text for audio
// tasks. Chain snapshots the provider settings at enqueue time so a task is
// processed with the configuration its request saw.
type MediaTaskPayload struct {
	TaskID         uuid.UUID            `json:"taskId"`
	Kind           MediaKind            `json:"kind"`
	StoryID        uuid.UUID            `json:"storyId"`
	SegmentID      uuid.UUID            `json:"segmentId"`
	Prompt         string               `json:"prompt"`
	NegativePrompt string               `json:"negativePrompt,omitempty"`
	Voice          string               `json:"voice,omitempty"`
	Speed          float64              `json:"speed,omitempty"`
	Chain          models.ProviderChain `json:"chain"`
}
