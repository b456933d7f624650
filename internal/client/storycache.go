package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

// Fetcher loads the authoritative segment state, typically over the HTTP
// API. Used by the reconciliation burst after an image completes.
type Fetcher interface {
	FetchSegment(ctx context.Context, id uuid.UUID) (*models.StorySegment, error)
}

// Config tunes the cache. ReconcileDelays is the burst of delayed refetches
// fired when an image completes, absorbing read lag behind the notification.
type Config struct {
	ReconcileDelays []time.Duration
}

// DefaultReconcileDelays mirrors the production burst.
var DefaultReconcileDelays = []time.Duration{
	200 * time.Millisecond,
	500 * time.Millisecond,
	1000 * time.Millisecond,
}

// StoryCache is the client-side segment cache kept in sync by websocket
// updates. Applying the same update any number of times converges to the
// same state.
type StoryCache struct {
	mu       sync.RWMutex
	segments map[uuid.UUID]models.StorySegment
	byStory  map[uuid.UUID][]uuid.UUID

	fetcher Fetcher
	delays  []time.Duration
	sleep   func(ctx context.Context, d time.Duration) bool
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func NewStoryCache(fetcher Fetcher, cfg Config, logger *zap.Logger) *StoryCache {
	delays := cfg.ReconcileDelays
	if len(delays) == 0 {
		delays = DefaultReconcileDelays
	}
	return &StoryCache{
		segments: make(map[uuid.UUID]models.StorySegment),
		byStory:  make(map[uuid.UUID][]uuid.UUID),
		fetcher:  fetcher,
		delays:   delays,
		sleep:    sleepCtx,
		logger:   logger.Named("story_cache"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// PutSegment stores or overwrites a segment and keeps the story's ordered id
// list consistent.
func (c *StoryCache) PutSegment(segment models.StorySegment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(segment)
}

func (c *StoryCache) putLocked(segment models.StorySegment) {
	if _, exists := c.segments[segment.ID]; !exists {
		c.byStory[segment.StoryID] = append(c.byStory[segment.StoryID], segment.ID)
	}
	c.segments[segment.ID] = segment
}

// Segment returns a cached segment by id.
func (c *StoryCache) Segment(id uuid.UUID) (models.StorySegment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	segment, ok := c.segments[id]
	return segment, ok
}

// StorySegments returns the cached segments of a story in insertion order.
func (c *StoryCache) StorySegments(storyID uuid.UUID) []models.StorySegment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.byStory[storyID]
	segments := make([]models.StorySegment, 0, len(ids))
	for _, id := range ids {
		segments = append(segments, c.segments[id])
	}
	return segments
}

// ApplyUpdate folds one websocket notification into the cache. A segment
// update whose image URL matches the cached entry is a no-op; anything else
// overwrites the entry and patches the story list. A completed image
// additionally schedules the reconciliation burst.
func (c *StoryCache) ApplyUpdate(ctx context.Context, update models.ClientUpdate) {
	if update.Table != models.UpdateTableSegments || update.Segment == nil {
		return
	}
	notified := update.Segment

	c.mu.Lock()
	cached, exists := c.segments[notified.ID]
	if exists && sameURL(cached.ImageURL, notified.ImageURL) &&
		cached.ImageGenerationStatus == notified.ImageGenerationStatus &&
		cached.AudioGenerationStatus == notified.AudioGenerationStatus {
		c.mu.Unlock()
		return
	}

	if !exists {
		cached = models.StorySegment{ID: notified.ID, StoryID: notified.StoryID}
	}
	cached.ImageURL = notified.ImageURL
	cached.ImageGenerationStatus = notified.ImageGenerationStatus
	cached.AudioURL = notified.AudioURL
	cached.AudioGenerationStatus = notified.AudioGenerationStatus
	c.putLocked(cached)
	c.mu.Unlock()

	if notified.ImageGenerationStatus == models.StatusCompleted && c.fetcher != nil {
		c.scheduleReconciliation(ctx, notified.ID)
	}
}

// scheduleReconciliation fires delayed authoritative refetches. Each hit is
// applied through the same overwrite path, so repeats are harmless.
func (c *StoryCache) scheduleReconciliation(ctx context.Context, segmentID uuid.UUID) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, delay := range c.delays {
			if !c.sleep(ctx, delay) {
				return
			}
			segment, err := c.fetcher.FetchSegment(ctx, segmentID)
			if err != nil {
				c.logger.Debug("Reconciliation fetch failed",
					zap.String("segment_id", segmentID.String()), zap.Error(err))
				continue
			}
			c.PutSegment(*segment)
		}
	}()
}

// WaitReconciliation blocks until scheduled reconciliation bursts finish.
// Intended for shutdown and tests.
func (c *StoryCache) WaitReconciliation() {
	c.wg.Wait()
}

func sameURL(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
