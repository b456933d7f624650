package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"taleforge-server/internal/messaging"
	"taleforge-server/internal/models"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/repository"
	"taleforge-server/internal/storage"
)

var mediaTasksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "taleforge_worker_media_tasks_total",
		Help: "Total media generation tasks processed by the worker.",
	},
	[]string{"kind", "status"},
)

// MediaPolicy is the slice of the provider policy the worker needs.
type MediaPolicy interface {
	GenerateImage(ctx context.Context, chain provider.Chain, req provider.ImageRequest) ([]byte, error)
	GenerateSpeech(ctx context.Context, chain provider.Chain, req provider.SpeechRequest) ([]byte, error)
}

// Handler processes media generation tasks. Every outcome, success or
// failure, ends in a segment status write plus a client notification; task
// errors never escape the handler.
type Handler struct {
	segments repository.SegmentRepository
	stories  repository.StoryRepository
	policy   MediaPolicy
	store    storage.FileStore
	updates  messaging.ClientUpdatePublisher
	logger   *zap.Logger
}

func NewHandler(
	segments repository.SegmentRepository,
	stories repository.StoryRepository,
	policy MediaPolicy,
	store storage.FileStore,
	updates messaging.ClientUpdatePublisher,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		segments: segments,
		stories:  stories,
		policy:   policy,
		store:    store,
		updates:  updates,
		logger:   logger.Named("media_worker"),
	}
}

var _ messaging.DeliveryHandler = (*Handler)(nil)

// HandleDelivery processes one task delivery. The returned bool is the ack
// decision: malformed payloads are rejected without requeue, everything else
// is acked after the status write.
func (h *Handler) HandleDelivery(ctx context.Context, delivery amqp.Delivery) bool {
	var payload messaging.MediaTaskPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		h.logger.Error("Failed to unmarshal media task payload, rejecting", zap.Error(err))
		return false
	}

	log := h.logger.With(
		zap.String("task_id", payload.TaskID.String()),
		zap.String("kind", string(payload.Kind)),
		zap.String("segment_id", payload.SegmentID.String()),
		zap.String("story_id", payload.StoryID.String()),
	)

	switch payload.Kind {
	case messaging.MediaKindImage:
		h.processImageTask(ctx, payload, log)
	case messaging.MediaKindAudio:
		h.processAudioTask(ctx, payload, log)
	default:
		log.Error("Unknown media task kind, rejecting")
		return false
	}
	return true
}

func (h *Handler) processImageTask(ctx context.Context, payload messaging.MediaTaskPayload, log *zap.Logger) {
	if err := h.segments.SetImageStatus(ctx, payload.SegmentID, models.StatusInProgress); err != nil {
		log.Error("Failed to mark image task in progress", zap.Error(err))
		return
	}

	imageURL, err := h.generateAndStoreImage(ctx, payload)
	if err != nil {
		log.Warn("Image generation failed", zap.Error(err))
		mediaTasksTotal.With(prometheus.Labels{"kind": "image", "status": "failed"}).Inc()
		if updErr := h.segments.UpdateImageResult(ctx, payload.SegmentID, models.StatusFailed, nil); updErr != nil {
			log.Error("Failed to record image failure", zap.Error(updErr))
		}
		h.notifySegment(ctx, payload, log)
		return
	}

	if err := h.segments.UpdateImageResult(ctx, payload.SegmentID, models.StatusCompleted, &imageURL); err != nil {
		log.Error("Failed to record image result", zap.Error(err))
		return
	}
	mediaTasksTotal.With(prometheus.Labels{"kind": "image", "status": "completed"}).Inc()
	log.Info("Image generation completed", zap.String("image_url", imageURL))

	h.maybeSetThumbnail(ctx, payload, imageURL, log)
	h.notifySegment(ctx, payload, log)
}

func (h *Handler) processAudioTask(ctx context.Context, payload messaging.MediaTaskPayload, log *zap.Logger) {
	if err := h.segments.SetAudioStatus(ctx, payload.SegmentID, models.StatusInProgress); err != nil {
		log.Error("Failed to mark audio task in progress", zap.Error(err))
		return
	}

	audioURL, err := h.generateAndStoreAudio(ctx, payload)
	if err != nil {
		log.Warn("Audio generation failed", zap.Error(err))
		mediaTasksTotal.With(prometheus.Labels{"kind": "audio", "status": "failed"}).Inc()
		if updErr := h.segments.UpdateAudioResult(ctx, payload.SegmentID, models.StatusFailed, nil); updErr != nil {
			log.Error("Failed to record audio failure", zap.Error(updErr))
		}
		h.notifySegment(ctx, payload, log)
		return
	}

	if err := h.segments.UpdateAudioResult(ctx, payload.SegmentID, models.StatusCompleted, &audioURL); err != nil {
		log.Error("Failed to record audio result", zap.Error(err))
		return
	}
	mediaTasksTotal.With(prometheus.Labels{"kind": "audio", "status": "completed"}).Inc()
	log.Info("Audio generation completed", zap.String("audio_url", audioURL))

	h.notifySegment(ctx, payload, log)
}

func (h *Handler) generateAndStoreImage(ctx context.Context, payload messaging.MediaTaskPayload) (string, error) {
	chain, err := provider.ChainFromSettings(payload.Chain)
	if err != nil {
		return "", fmt.Errorf("invalid image provider chain: %w", err)
	}
	data, err := h.policy.GenerateImage(ctx, chain, provider.ImageRequest{
		Prompt:         payload.Prompt,
		NegativePrompt: payload.NegativePrompt,
	})
	if err != nil {
		return "", err
	}
	relPath := fmt.Sprintf("stories/%s/segments/%s.png", payload.StoryID, payload.SegmentID)
	return h.store.Save(relPath, data)
}

func (h *Handler) generateAndStoreAudio(ctx context.Context, payload messaging.MediaTaskPayload) (string, error) {
	chain, err := provider.ChainFromSettings(payload.Chain)
	if err != nil {
		return "", fmt.Errorf("invalid tts provider chain: %w", err)
	}
	data, err := h.policy.GenerateSpeech(ctx, chain, provider.SpeechRequest{
		Text:  payload.Prompt,
		Voice: payload.Voice,
		Speed: payload.Speed,
	})
	if err != nil {
		return "", err
	}
	relPath := fmt.Sprintf("stories/%s/segments/%s.mp3", payload.StoryID, payload.SegmentID)
	return h.store.Save(relPath, data)
}

// maybeSetThumbnail promotes a completed root-segment image to the story
// thumbnail.
func (h *Handler) maybeSetThumbnail(ctx context.Context, payload messaging.MediaTaskPayload, imageURL string, log *zap.Logger) {
	segment, err := h.segments.GetByID(ctx, payload.SegmentID)
	if err != nil {
		log.Error("Failed to load segment for thumbnail check", zap.Error(err))
		return
	}
	if segment.ParentSegmentID != nil {
		return
	}
	if err := h.stories.SetThumbnail(ctx, payload.StoryID, imageURL); err != nil {
		log.Error("Failed to set story thumbnail", zap.Error(err))
		return
	}
	log.Info("Story thumbnail set from root segment image")
	if err := h.updates.PublishClientUpdate(ctx, models.ClientUpdate{
		EventType: models.UpdateEventUpdate,
		Table:     models.UpdateTableStories,
		StoryID:   payload.StoryID,
	}); err != nil {
		log.Warn("Failed to publish story update", zap.Error(err))
	}
}

// notifySegment pushes the fresh row state to subscribers. Sent on success
// and on failure so clients stop polling either way.
func (h *Handler) notifySegment(ctx context.Context, payload messaging.MediaTaskPayload, log *zap.Logger) {
	segment, err := h.segments.GetByID(ctx, payload.SegmentID)
	if err != nil {
		log.Error("Failed to load segment for notification", zap.Error(err))
		return
	}
	err = h.updates.PublishClientUpdate(ctx, models.ClientUpdate{
		EventType: models.UpdateEventUpdate,
		Table:     models.UpdateTableSegments,
		StoryID:   payload.StoryID,
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
		log.Warn("Failed to publish segment update", zap.Error(err))
	}
}
