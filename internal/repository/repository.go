package repository

import (
	"context"

	"github.com/google/uuid"

	"taleforge-server/internal/models"
)

// StoryRepository persists story aggregates.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	ListPublic(ctx context.Context, limit, offset int) ([]models.Story, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	SetThumbnail(ctx context.Context, id uuid.UUID, thumbnailURL string) error
}

// SegmentRepository persists story segments. Create enforces the tree
// invariants: one root per story, at most one child per parent.
type SegmentRepository interface {
	Create(ctx context.Context, segment *models.StorySegment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StorySegment, error)
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.StorySegment, error)
	GetLatest(ctx context.Context, storyID uuid.UUID) (*models.StorySegment, error)
	SetImageStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error
	SetAudioStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error
	UpdateImageResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, imageURL *string) error
	UpdateAudioResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, audioURL *string) error
}

// SettingsRepository reads and writes the admin-tunable generation settings.
type SettingsRepository interface {
	GetGenerationSettings(ctx context.Context) (models.GenerationSettings, error)
	UpsertProviderChain(ctx context.Context, key string, chain models.ProviderChain) error
}
