package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"taleforge-server/internal/models"
)

// Mock StoryRepository
type StoryRepository struct {
	mock.Mock
}

func (m *StoryRepository) Create(ctx context.Context, story *models.Story) error {
	args := m.Called(ctx, story)
	return args.Error(0)
}
func (m *StoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	args := m.Called(ctx, id)
	story, _ := args.Get(0).(*models.Story)
	return story, args.Error(1)
}
func (m *StoryRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Story, error) {
	args := m.Called(ctx, limit, offset)
	stories, _ := args.Get(0).([]models.Story)
	return stories, args.Error(1)
}
func (m *StoryRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *StoryRepository) SetThumbnail(ctx context.Context, id uuid.UUID, thumbnailURL string) error {
	args := m.Called(ctx, id, thumbnailURL)
	return args.Error(0)
}

// Mock SegmentRepository
type SegmentRepository struct {
	mock.Mock
}

func (m *SegmentRepository) Create(ctx context.Context, segment *models.StorySegment) error {
	args := m.Called(ctx, segment)
	return args.Error(0)
}
func (m *SegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StorySegment, error) {
	args := m.Called(ctx, id)
	segment, _ := args.Get(0).(*models.StorySegment)
	return segment, args.Error(1)
}
func (m *SegmentRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.StorySegment, error) {
	args := m.Called(ctx, storyID)
	segments, _ := args.Get(0).([]models.StorySegment)
	return segments, args.Error(1)
}
func (m *SegmentRepository) GetLatest(ctx context.Context, storyID uuid.UUID) (*models.StorySegment, error) {
	args := m.Called(ctx, storyID)
	segment, _ := args.Get(0).(*models.StorySegment)
	return segment, args.Error(1)
}
func (m *SegmentRepository) SetImageStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
func (m *SegmentRepository) SetAudioStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}
func (m *SegmentRepository) UpdateImageResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, imageURL *string) error {
	args := m.Called(ctx, id, status, imageURL)
	return args.Error(0)
}
func (m *SegmentRepository) UpdateAudioResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, audioURL *string) error {
	args := m.Called(ctx, id, status, audioURL)
	return args.Error(0)
}

// Mock SettingsRepository
type SettingsRepository struct {
	mock.Mock
}

func (m *SettingsRepository) GetGenerationSettings(ctx context.Context) (models.GenerationSettings, error) {
	args := m.Called(ctx)
	settings, _ := args.Get(0).(models.GenerationSettings)
	return settings, args.Error(1)
}
func (m *SettingsRepository) UpsertProviderChain(ctx context.Context, key string, chain models.ProviderChain) error {
	args := m.Called(ctx, key, chain)
	return args.Error(0)
}
