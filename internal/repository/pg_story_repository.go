package repository

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

const createStorySQL = `
INSERT INTO stories (id, title, genre, story_mode, user_id, is_public, is_completed, segment_count, audio_generation_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const getStoryByIDSQL = `
SELECT id, title, genre, story_mode, user_id, is_public, is_completed, thumbnail_url,
       segment_count, full_story_audio_url, audio_generation_status, created_at, published_at
FROM stories
WHERE id = $1`

const listPublicStoriesSQL = `
SELECT id, title, genre, story_mode, user_id, is_public, is_completed, thumbnail_url,
       segment_count, full_story_audio_url, audio_generation_status, created_at, published_at
FROM stories
WHERE is_public = TRUE
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`

const markStoryCompletedSQL = `
UPDATE stories SET is_completed = TRUE WHERE id = $1`

const setStoryThumbnailSQL = `
UPDATE stories SET thumbnail_url = $2 WHERE id = $1`

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ StoryRepository = (*pgStoryRepository)(nil)

func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) *pgStoryRepository {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("pg_story_repo"),
	}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	_, err := r.pool.Exec(ctx, createStorySQL,
		story.ID, story.Title, story.Genre, story.StoryMode, story.UserID,
		story.IsPublic, story.IsCompleted, story.SegmentCount,
		story.AudioGenerationStatus, story.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert story %s: %w", story.ID, err)
	}
	r.logger.Debug("Story created", zap.String("story_id", story.ID.String()))
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	var story models.Story
	err := pgxscan.Get(ctx, r.pool, &story, getStoryByIDSQL, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to get story %s: %w", id, err)
	}
	return &story, nil
}

func (r *pgStoryRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Story, error) {
	stories := []models.Story{}
	err := pgxscan.Select(ctx, r.pool, &stories, listPublicStoriesSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list public stories: %w", err)
	}
	return stories, nil
}

func (r *pgStoryRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, markStoryCompletedSQL, id)
	if err != nil {
		return fmt.Errorf("failed to mark story %s completed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}

func (r *pgStoryRepository) SetThumbnail(ctx context.Context, id uuid.UUID, thumbnailURL string) error {
	tag, err := r.pool.Exec(ctx, setStoryThumbnailSQL, id, thumbnailURL)
	if err != nil {
		return fmt.Errorf("failed to set thumbnail for story %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}
