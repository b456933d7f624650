package story

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleforge-server/internal/messaging"
	"taleforge-server/internal/models"
	"taleforge-server/internal/prompt"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/ratelimit"
	"taleforge-server/internal/repository"
)

// TextPolicy is the slice of the provider policy the orchestrator needs.
type TextPolicy interface {
	GenerateText(ctx context.Context, chain provider.Chain, req provider.TextRequest, validate func(string) error) (string, error)
}

// GenerateSegmentRequest describes one segment generation call. Exactly one
// of the two shapes is valid: a new story (no StoryID) seeded from Genre and
// Prompt, or a continuation (StoryID + ParentSegmentID + ChoiceText).
type GenerateSegmentRequest struct {
	StoryID         *uuid.UUID
	ParentSegmentID *uuid.UUID
	UserID          *uuid.UUID
	SessionKey      string
	Genre           string
	Prompt          string
	ChoiceText      string
	SkipImage       bool
	SkipAudio       bool
}

// Service orchestrates the generation pipeline: rate limit, prompt assembly,
// provider policy, durable insert, media task dispatch.
type Service struct {
	stories   repository.StoryRepository
	segments  repository.SegmentRepository
	settings  repository.SettingsRepository
	policy    TextPolicy
	assembler *prompt.Assembler
	tasks     messaging.TaskPublisher
	updates   messaging.ClientUpdatePublisher
	limiter   ratelimit.Limiter
	logger    *zap.Logger
}

func NewService(
	stories repository.StoryRepository,
	segments repository.SegmentRepository,
	settings repository.SettingsRepository,
	policy TextPolicy,
	assembler *prompt.Assembler,
	tasks messaging.TaskPublisher,
	updates messaging.ClientUpdatePublisher,
	limiter ratelimit.Limiter,
	logger *zap.Logger,
) *Service {
	return &Service{
		stories:   stories,
		segments:  segments,
		settings:  settings,
		policy:    policy,
		assembler: assembler,
		tasks:     tasks,
		updates:   updates,
		limiter:   limiter,
		logger:    logger.Named("story_service"),
	}
}

// RateKey returns the limiter key for a request: the user id when present,
// the anonymous session key otherwise.
func (r GenerateSegmentRequest) RateKey() string {
	if r.UserID != nil {
		return "user:" + r.UserID.String()
	}
	return "anon:" + r.SessionKey
}

// GenerateSegment runs the synchronous half of the pipeline and returns the
// persisted segment. Image and audio generation continue in the background;
// the segment row carries their pending statuses.
func (s *Service) GenerateSegment(ctx context.Context, req GenerateSegmentRequest) (*models.StorySegment, error) {
	// The rate gate comes first: a rejected request must cost no provider
	// call and no row.
	allowed, err := s.limiter.Allow(ctx, req.RateKey())
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return nil, models.ErrRateLimited
	}

	settings, err := s.settings.GetGenerationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation settings: %w", err)
	}
	textChain, err := provider.ChainFromSettings(settings.Text)
	if err != nil {
		return nil, fmt.Errorf("invalid text provider settings: %w", err)
	}

	var (
		story         *models.Story
		priorSegments []models.StorySegment
	)
	if req.StoryID != nil {
		story, err = s.stories.GetByID(ctx, *req.StoryID)
		if err != nil {
			return nil, err
		}
		if story.IsCompleted {
			return nil, models.ErrStoryCompleted
		}
		priorSegments, err = s.segments.ListByStory(ctx, story.ID)
		if err != nil {
			return nil, err
		}
	}

	promptReq := prompt.SegmentPromptRequest{
		Genre:         req.Genre,
		SeedPrompt:    req.Prompt,
		ChoiceText:    req.ChoiceText,
		PriorSegments: priorSegments,
	}
	if story != nil {
		promptReq.Genre = story.Genre
	}
	if len(priorSegments) > 0 {
		last := priorSegments[len(priorSegments)-1]
		promptReq.VisualContext = last.VisualContext
		promptReq.NarrativeContext = last.NarrativeContext
	}
	system, user := s.assembler.BuildSegmentPrompt(promptReq)

	raw, err := s.policy.GenerateText(ctx, textChain, provider.TextRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    settings.Tuning.MaxTokens,
		Temperature:  settings.Tuning.Temperature,
	}, validateSegmentShape)
	if err != nil {
		// No row exists at this point: a text failure leaves no trace.
		return nil, err
	}
	content, err := prompt.ParseSegmentContent(raw)
	if err != nil {
		return nil, err
	}

	if story == nil {
		story = s.newStory(req, content)
		if err := s.stories.Create(ctx, story); err != nil {
			return nil, err
		}
	}

	segment := s.buildSegment(story, req, content)
	if err := s.segments.Create(ctx, segment); err != nil {
		return nil, err
	}
	s.logger.Info("Segment persisted",
		zap.String("segment_id", segment.ID.String()),
		zap.String("story_id", story.ID.String()),
		zap.Bool("is_end", segment.IsEnd))

	s.notifySegmentInsert(ctx, segment)
	s.dispatchMediaTasks(ctx, segment, settings)
	return segment, nil
}

// FinishStory generates the concluding segment through the same pipeline and
// marks the story completed. The ending invariant is enforced here: whatever
// the provider returned, the stored segment is terminal and choice-free.
func (s *Service) FinishStory(ctx context.Context, storyID uuid.UUID, skipImage, skipAudio bool) (*models.StorySegment, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.IsCompleted {
		return nil, models.ErrStoryCompleted
	}

	segments, err := s.segments.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, models.ErrSegmentNotFound
	}
	latest := segments[len(segments)-1]

	settings, err := s.settings.GetGenerationSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load generation settings: %w", err)
	}
	textChain, err := provider.ChainFromSettings(settings.Text)
	if err != nil {
		return nil, fmt.Errorf("invalid text provider settings: %w", err)
	}

	system, user := s.assembler.BuildEndingPrompt(*story, segments)
	raw, err := s.policy.GenerateText(ctx, textChain, provider.TextRequest{
		SystemPrompt: system,
		UserPrompt:   user,
		MaxTokens:    settings.Tuning.MaxTokens,
		Temperature:  settings.Tuning.Temperature,
	}, validateSegmentShape)
	if err != nil {
		return nil, err
	}
	content, err := prompt.ParseSegmentContent(raw)
	if err != nil {
		return nil, err
	}

	// Terminal segment, no choices. Overwrites any provider disagreement.
	content.IsEnd = true
	content.Choices = []string{}

	endReq := GenerateSegmentRequest{
		StoryID:         &story.ID,
		ParentSegmentID: &latest.ID,
		SkipImage:       skipImage,
		SkipAudio:       skipAudio,
	}
	segment := s.buildSegment(story, endReq, content)
	if err := s.segments.Create(ctx, segment); err != nil {
		return nil, err
	}

	if err := s.stories.MarkCompleted(ctx, storyID); err != nil {
		return nil, err
	}
	s.logger.Info("Story completed",
		zap.String("story_id", storyID.String()),
		zap.String("ending_segment_id", segment.ID.String()))

	s.notifySegmentInsert(ctx, segment)
	s.dispatchMediaTasks(ctx, segment, settings)
	return segment, nil
}

// RetryImage republishes the image task of an existing segment. The worker
// overwrites the previous status and URL, so the retry is idempotent.
func (s *Service) RetryImage(ctx context.Context, segmentID uuid.UUID) error {
	segment, err := s.segments.GetByID(ctx, segmentID)
	if err != nil {
		return err
	}
	if segment.ImagePrompt == nil || *segment.ImagePrompt == "" {
		return fmt.Errorf("%w: segment has no image prompt", models.ErrInvalidInput)
	}
	settings, err := s.settings.GetGenerationSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load generation settings: %w", err)
	}

	if err := s.segments.SetImageStatus(ctx, segmentID, models.StatusPending); err != nil {
		return err
	}
	return s.tasks.PublishMediaTask(ctx, messaging.MediaTaskPayload{
		TaskID:         uuid.New(),
		Kind:           messaging.MediaKindImage,
		StoryID:        segment.StoryID,
		SegmentID:      segment.ID,
		Prompt:         *segment.ImagePrompt,
		NegativePrompt: settings.Tuning.NegativePrompt,
		Chain:          settings.Image,
	})
}

// RetryAudio republishes the narration task of an existing segment.
func (s *Service) RetryAudio(ctx context.Context, segmentID uuid.UUID) error {
	segment, err := s.segments.GetByID(ctx, segmentID)
	if err != nil {
		return err
	}
	settings, err := s.settings.GetGenerationSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load generation settings: %w", err)
	}

	if err := s.segments.SetAudioStatus(ctx, segmentID, models.StatusPending); err != nil {
		return err
	}
	return s.tasks.PublishMediaTask(ctx, messaging.MediaTaskPayload{
		TaskID:    uuid.New(),
		Kind:      messaging.MediaKindAudio,
		StoryID:   segment.StoryID,
		SegmentID: segment.ID,
		Prompt:    segment.SegmentText,
		Voice:     settings.Tuning.Voice,
		Speed:     settings.Tuning.Speed,
		Chain:     settings.TTS,
	})
}

// GetStory returns a story with its ordered segments.
func (s *Service) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, []models.StorySegment, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	segments, err := s.segments.ListByStory(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	return story, segments, nil
}

// GetGenerationSettings returns the effective provider configuration.
func (s *Service) GetGenerationSettings(ctx context.Context) (models.GenerationSettings, error) {
	return s.settings.GetGenerationSettings(ctx)
}

// UpdateProviderChain stores a new provider chain for one generation kind.
// The chain is validated against the closed provider enum before it lands.
func (s *Service) UpdateProviderChain(ctx context.Context, key string, chain models.ProviderChain) error {
	switch key {
	case repository.SettingTextProviders, repository.SettingImageProviders, repository.SettingTTSProviders:
	default:
		return fmt.Errorf("%w: unknown settings key %q", models.ErrInvalidInput, key)
	}
	if _, err := provider.ChainFromSettings(chain); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if err := s.settings.UpsertProviderChain(ctx, key, chain); err != nil {
		return err
	}
	s.logger.Info("Provider chain updated",
		zap.String("key", key),
		zap.String("primary", chain.Primary),
		zap.String("fallback", chain.Fallback))
	return nil
}

// ListPublicStories returns the public story feed.
func (s *Service) ListPublicStories(ctx context.Context, limit, offset int) ([]models.Story, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.stories.ListPublic(ctx, limit, offset)
}

func validateSegmentShape(raw string) error {
	_, err := prompt.ParseSegmentContent(raw)
	return err
}

func (s *Service) newStory(req GenerateSegmentRequest, content *prompt.SegmentContent) *models.Story {
	title := deriveTitle(req.Prompt, content.SegmentText)
	return &models.Story{
		ID:                    uuid.New(),
		Title:                 title,
		Genre:                 req.Genre,
		StoryMode:             "interactive",
		UserID:                req.UserID,
		IsPublic:              false,
		AudioGenerationStatus: models.StatusNotStarted,
		CreatedAt:             time.Now().UTC(),
	}
}

func (s *Service) buildSegment(story *models.Story, req GenerateSegmentRequest, content *prompt.SegmentContent) *models.StorySegment {
	segment := &models.StorySegment{
		ID:                    uuid.New(),
		StoryID:               story.ID,
		ParentSegmentID:       req.ParentSegmentID,
		SegmentText:           content.SegmentText,
		Choices:               content.Choices,
		IsEnd:                 content.IsEnd,
		ImageGenerationStatus: models.StatusNotStarted,
		AudioGenerationStatus: models.StatusNotStarted,
		VisualContext:         content.VisualContext,
		NarrativeContext:      content.NarrativeContext,
		WordCount:             models.CountWords(content.SegmentText),
		CreatedAt:             time.Now().UTC(),
	}
	if req.ChoiceText != "" {
		choice := req.ChoiceText
		segment.TriggeringChoiceText = &choice
	}
	if content.ImagePrompt != "" {
		enhanced := prompt.EnhanceImagePrompt(content.ImagePrompt, content.VisualContext)
		segment.ImagePrompt = &enhanced
		if !req.SkipImage {
			segment.ImageGenerationStatus = models.StatusPending
		}
	}
	if !req.SkipAudio {
		segment.AudioGenerationStatus = models.StatusPending
	}
	return segment
}

// dispatchMediaTasks enqueues the background media work. A publish failure
// downgrades that medium to failed and the request still succeeds: media is
// best-effort once the text is durable.
func (s *Service) dispatchMediaTasks(ctx context.Context, segment *models.StorySegment, settings models.GenerationSettings) {
	if segment.ImageGenerationStatus == models.StatusPending && segment.ImagePrompt != nil {
		err := s.tasks.PublishMediaTask(ctx, messaging.MediaTaskPayload{
			TaskID:         uuid.New(),
			Kind:           messaging.MediaKindImage,
			StoryID:        segment.StoryID,
			SegmentID:      segment.ID,
			Prompt:         *segment.ImagePrompt,
			NegativePrompt: settings.Tuning.NegativePrompt,
			Chain:          settings.Image,
		})
		if err != nil {
			s.logger.Error("Failed to publish image task, marking failed",
				zap.String("segment_id", segment.ID.String()), zap.Error(err))
			segment.ImageGenerationStatus = models.StatusFailed
			if updErr := s.segments.SetImageStatus(ctx, segment.ID, models.StatusFailed); updErr != nil {
				s.logger.Error("Failed to record image task failure", zap.Error(updErr))
			}
		}
	}
	if segment.AudioGenerationStatus == models.StatusPending {
		err := s.tasks.PublishMediaTask(ctx, messaging.MediaTaskPayload{
			TaskID:    uuid.New(),
			Kind:      messaging.MediaKindAudio,
			StoryID:   segment.StoryID,
			SegmentID: segment.ID,
			Prompt:    segment.SegmentText,
			Voice:     settings.Tuning.Voice,
			Speed:     settings.Tuning.Speed,
			Chain:     settings.TTS,
		})
		if err != nil {
			s.logger.Error("Failed to publish audio task, marking failed",
				zap.String("segment_id", segment.ID.String()), zap.Error(err))
			segment.AudioGenerationStatus = models.StatusFailed
			if updErr := s.segments.SetAudioStatus(ctx, segment.ID, models.StatusFailed); updErr != nil {
				s.logger.Error("Failed to record audio task failure", zap.Error(updErr))
			}
		}
	}
}

func (s *Service) notifySegmentInsert(ctx context.Context, segment *models.StorySegment) {
	err := s.updates.PublishClientUpdate(ctx, models.ClientUpdate{
		EventType: models.UpdateEventInsert,
		Table:     models.UpdateTableSegments,
		StoryID:   segment.StoryID,
		Segment: &models.SegmentUpdate{
			ID:                    segment.ID,
			StoryID:               segment.StoryID,
			ImageURL:              segment.ImageURL,
			ImageGenerationStatus: segment.ImageGenerationStatus,
			AudioURL:              segment.AudioURL,
			AudioGenerationStatus: segment.AudioGenerationStatus,
		},
	})
	if err != nil {
		s.logger.Warn("Failed to publish segment insert update",
			zap.String("segment_id", segment.ID.String()), zap.Error(err))
	}
}

func deriveTitle(seed, segmentText string) string {
	source := strings.TrimSpace(seed)
	if source == "" {
		source = strings.TrimSpace(segmentText)
	}
	words := strings.Fields(source)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if title == "" {
		title = "Untitled Story"
	}
	return title
}
