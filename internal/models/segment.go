package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerationStatus tracks asynchronous media generation for a segment.
type GenerationStatus string

const (
	StatusNotStarted GenerationStatus = "not_started"
	StatusPending    GenerationStatus = "pending"
	StatusInProgress GenerationStatus = "in_progress"
	StatusCompleted  GenerationStatus = "completed"
	StatusFailed     GenerationStatus = "failed"
)

// StorySegment is one node of the story tree. ParentSegmentID is nil only for
// the root segment; at most one child may exist per parent.
type StorySegment struct {
	ID                    uuid.UUID         `db:"id" json:"id"`
	StoryID               uuid.UUID         `db:"story_id" json:"storyId"`
	ParentSegmentID       *uuid.UUID        `db:"parent_segment_id" json:"parentSegmentId,omitempty"`
	SegmentText           string            `db:"segment_text" json:"segmentText"`
	Choices               []string          `db:"choices" json:"choices"`
	IsEnd                 bool              `db:"is_end" json:"isEnd"`
	TriggeringChoiceText  *string           `db:"triggering_choice_text" json:"triggeringChoiceText,omitempty"`
	ImagePrompt           *string           `db:"image_prompt" json:"imagePrompt,omitempty"`
	ImageURL              *string           `db:"image_url" json:"imageUrl,omitempty"`
	ImageGenerationStatus GenerationStatus  `db:"image_generation_status" json:"imageGenerationStatus"`
	AudioURL              *string           `db:"audio_url" json:"audioUrl,omitempty"`
	AudioGenerationStatus GenerationStatus  `db:"audio_generation_status" json:"audioGenerationStatus"`
	VisualContext         *VisualContext    `db:"visual_context" json:"visualContext,omitempty"`
	NarrativeContext      *NarrativeContext `db:"narrative_context" json:"narrativeContext,omitempty"`
	WordCount             int               `db:"word_count" json:"wordCount"`
	CreatedAt             time.Time         `db:"created_at" json:"createdAt"`
}

// CountWords returns the whitespace-separated word count of the segment text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
