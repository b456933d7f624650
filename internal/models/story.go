package models

import (
	"time"

	"github.com/google/uuid"
)

// Story is the top-level narrative aggregate. UserID is nil for anonymous
// sessions; such stories are keyed by the client session instead.
type Story struct {
	ID                    uuid.UUID        `db:"id" json:"id"`
	Title                 string           `db:"title" json:"title"`
	Genre                 string           `db:"genre" json:"genre"`
	StoryMode             string           `db:"story_mode" json:"storyMode"`
	UserID                *uuid.UUID       `db:"user_id" json:"userId,omitempty"`
	IsPublic              bool             `db:"is_public" json:"isPublic"`
	IsCompleted           bool             `db:"is_completed" json:"isCompleted"`
	ThumbnailURL          *string          `db:"thumbnail_url" json:"thumbnailUrl,omitempty"`
	SegmentCount          int              `db:"segment_count" json:"segmentCount"`
	FullStoryAudioURL     *string          `db:"full_story_audio_url" json:"fullStoryAudioUrl,omitempty"`
	AudioGenerationStatus GenerationStatus `db:"audio_generation_status" json:"audioGenerationStatus"`
	CreatedAt             time.Time        `db:"created_at" json:"createdAt"`
	PublishedAt           *time.Time       `db:"published_at" json:"publishedAt,omitempty"`
}
