package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

// The leaf guard makes the insert conditional: a child row lands only while
// its parent has no other child. The NOT EXISTS check alone is not race-safe
// under READ COMMITTED, so the uq_story_segments_one_child index backs it up
// and the loser surfaces as either zero rows or a 23505.
const createChildSegmentSQL = `
INSERT INTO story_segments (id, story_id, parent_segment_id, segment_text, choices, is_end,
                            triggering_choice_text, image_prompt, image_generation_status,
                            audio_generation_status, visual_context, narrative_context,
                            word_count, created_at)
SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
WHERE NOT EXISTS (
    SELECT 1 FROM story_segments WHERE parent_segment_id = $3
)`

const createRootSegmentSQL = `
INSERT INTO story_segments (id, story_id, parent_segment_id, segment_text, choices, is_end,
                            triggering_choice_text, image_prompt, image_generation_status,
                            audio_generation_status, visual_context, narrative_context,
                            word_count, created_at)
VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const bumpSegmentCountSQL = `
UPDATE stories SET segment_count = segment_count + 1 WHERE id = $1`

const segmentColumns = `
id, story_id, parent_segment_id, segment_text, choices, is_end, triggering_choice_text,
image_prompt, image_url, image_generation_status, audio_url, audio_generation_status,
visual_context, narrative_context, word_count, created_at`

const getSegmentByIDSQL = `
SELECT ` + segmentColumns + `
FROM story_segments
WHERE id = $1`

const listSegmentsByStorySQL = `
SELECT ` + segmentColumns + `
FROM story_segments
WHERE story_id = $1
ORDER BY created_at ASC, id ASC`

const getLatestSegmentSQL = `
SELECT ` + segmentColumns + `
FROM story_segments
WHERE story_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

const setImageStatusSQL = `
UPDATE story_segments SET image_generation_status = $2 WHERE id = $1`

const setAudioStatusSQL = `
UPDATE story_segments SET audio_generation_status = $2 WHERE id = $1`

const updateImageResultSQL = `
UPDATE story_segments SET image_generation_status = $2, image_url = $3 WHERE id = $1`

const updateAudioResultSQL = `
UPDATE story_segments SET audio_generation_status = $2, audio_url = $3 WHERE id = $1`

type pgSegmentRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ SegmentRepository = (*pgSegmentRepository)(nil)

func NewPgSegmentRepository(pool *pgxpool.Pool, logger *zap.Logger) *pgSegmentRepository {
	return &pgSegmentRepository{
		pool:   pool,
		logger: logger.Named("pg_segment_repo"),
	}
}

func (r *pgSegmentRepository) Create(ctx context.Context, segment *models.StorySegment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin segment insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if segment.ParentSegmentID == nil {
		_, err = tx.Exec(ctx, createRootSegmentSQL,
			segment.ID, segment.StoryID, segment.SegmentText, segment.Choices,
			segment.IsEnd, segment.TriggeringChoiceText, segment.ImagePrompt,
			segment.ImageGenerationStatus, segment.AudioGenerationStatus,
			segment.VisualContext, segment.NarrativeContext,
			segment.WordCount, segment.CreatedAt)
		if err != nil {
			if mapped := mapSegmentInsertError(err); mapped != nil {
				return mapped
			}
			return fmt.Errorf("failed to insert root segment %s: %w", segment.ID, err)
		}
	} else {
		tag, err := tx.Exec(ctx, createChildSegmentSQL,
			segment.ID, segment.StoryID, segment.ParentSegmentID, segment.SegmentText,
			segment.Choices, segment.IsEnd, segment.TriggeringChoiceText, segment.ImagePrompt,
			segment.ImageGenerationStatus, segment.AudioGenerationStatus,
			segment.VisualContext, segment.NarrativeContext,
			segment.WordCount, segment.CreatedAt)
		if err != nil {
			if mapped := mapSegmentInsertError(err); mapped != nil {
				return mapped
			}
			return fmt.Errorf("failed to insert segment %s: %w", segment.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrParentNotLeaf
		}
	}

	if _, err := tx.Exec(ctx, bumpSegmentCountSQL, segment.StoryID); err != nil {
		return fmt.Errorf("failed to bump segment count for story %s: %w", segment.StoryID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit segment insert: %w", err)
	}
	r.logger.Debug("Segment created",
		zap.String("segment_id", segment.ID.String()),
		zap.String("story_id", segment.StoryID.String()),
		zap.Bool("is_end", segment.IsEnd))
	return nil
}

// mapSegmentInsertError translates unique violations on the segment tree
// indexes into their domain errors. Returns nil for anything else.
func mapSegmentInsertError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "uq_story_segments_one_root":
		return models.ErrRootExists
	case "uq_story_segments_one_child":
		return models.ErrParentNotLeaf
	}
	return nil
}

func (r *pgSegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.StorySegment, error) {
	var segment models.StorySegment
	err := pgxscan.Get(ctx, r.pool, &segment, getSegmentByIDSQL, id)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to get segment %s: %w", id, err)
	}
	return &segment, nil
}

func (r *pgSegmentRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.StorySegment, error) {
	segments := []models.StorySegment{}
	err := pgxscan.Select(ctx, r.pool, &segments, listSegmentsByStorySQL, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments for story %s: %w", storyID, err)
	}
	return segments, nil
}

func (r *pgSegmentRepository) GetLatest(ctx context.Context, storyID uuid.UUID) (*models.StorySegment, error) {
	var segment models.StorySegment
	err := pgxscan.Get(ctx, r.pool, &segment, getLatestSegmentSQL, storyID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, models.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("failed to get latest segment for story %s: %w", storyID, err)
	}
	return &segment, nil
}

func (r *pgSegmentRepository) SetImageStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	return r.execStatusUpdate(ctx, setImageStatusSQL, id, status)
}

func (r *pgSegmentRepository) SetAudioStatus(ctx context.Context, id uuid.UUID, status models.GenerationStatus) error {
	return r.execStatusUpdate(ctx, setAudioStatusSQL, id, status)
}

func (r *pgSegmentRepository) UpdateImageResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, imageURL *string) error {
	tag, err := r.pool.Exec(ctx, updateImageResultSQL, id, status, imageURL)
	if err != nil {
		return fmt.Errorf("failed to update image result for segment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSegmentNotFound
	}
	return nil
}

func (r *pgSegmentRepository) UpdateAudioResult(ctx context.Context, id uuid.UUID, status models.GenerationStatus, audioURL *string) error {
	tag, err := r.pool.Exec(ctx, updateAudioResultSQL, id, status, audioURL)
	if err != nil {
		return fmt.Errorf("failed to update audio result for segment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSegmentNotFound
	}
	return nil
}

func (r *pgSegmentRepository) execStatusUpdate(ctx context.Context, sql string, id uuid.UUID, status models.GenerationStatus) error {
	tag, err := r.pool.Exec(ctx, sql, id, status)
	if err != nil {
		return fmt.Errorf("failed to update status for segment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSegmentNotFound
	}
	return nil
}
