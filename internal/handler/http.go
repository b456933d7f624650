package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taleforge-server/internal/middleware"
	"taleforge-server/internal/models"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/story"
	"taleforge-server/internal/ws"
)

// Prober checks reachability of an external provider endpoint.
type Prober interface {
	Ping(ctx context.Context) error
}

// HTTPHandler exposes the story API and the websocket endpoint.
type HTTPHandler struct {
	service *story.Service
	hub     *ws.Hub
	probers map[string]Prober
	logger  *zap.Logger
}

func NewHTTPHandler(service *story.Service, hub *ws.Hub, probers map[string]Prober, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		hub:     hub,
		probers: probers,
		logger:  logger.Named("http_handler"),
	}
}

// RegisterRoutes attaches all endpoints to the router.
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/health/providers", h.ProviderHealth)
	router.GET("/ws", h.Subscribe)

	api := router.Group("/api")
	{
		api.POST("/stories/segments", h.GenerateSegment)
		api.POST("/stories/:id/finish", h.FinishStory)
		api.GET("/stories/:id", h.GetStory)
		api.GET("/stories", h.ListStories)
		api.POST("/segments/:id/image", h.RetryImage)
		api.POST("/segments/:id/audio", h.RetryAudio)

		admin := api.Group("/admin")
		{
			admin.GET("/settings/providers", h.GetProviderSettings)
			admin.PUT("/settings/providers/:key", h.UpdateProviderChain)
		}
	}
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ProviderHealth probes configured provider endpoints. Diagnostic only; the
// generation path never consults it.
func (h *HTTPHandler) ProviderHealth(c *gin.Context) {
	results := make(map[string]string, len(h.probers))
	for name, prober := range h.probers {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
		if err := prober.Ping(ctx); err != nil {
			results[name] = "unreachable: " + err.Error()
		} else {
			results[name] = "ok"
		}
		cancel()
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: results})
}

func (h *HTTPHandler) GenerateSegment(c *gin.Context) {
	var dto GenerateSegmentRequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	if err := validateGenerateRequest(dto); err != nil {
		h.respondError(c, err)
		return
	}

	segment, err := h.service.GenerateSegment(c.Request.Context(), story.GenerateSegmentRequest{
		StoryID:         dto.StoryID,
		ParentSegmentID: dto.ParentSegmentID,
		UserID:          middleware.UserID(c),
		SessionKey:      middleware.SessionKey(c),
		Genre:           dto.Genre,
		Prompt:          dto.Prompt,
		ChoiceText:      dto.ChoiceText,
		SkipImage:       dto.SkipImage,
		SkipAudio:       dto.SkipAudio,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: segment})
}

func (h *HTTPHandler) FinishStory(c *gin.Context) {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	// The body is optional; defaults apply when absent or malformed.
	var dto FinishStoryRequestDTO
	_ = c.ShouldBindJSON(&dto)

	segment, err := h.service.FinishStory(c.Request.Context(), storyID, dto.SkipImage, dto.SkipAudio)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: segment})
}

func (h *HTTPHandler) GetStory(c *gin.Context) {
	storyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	st, segments, err := h.service.GetStory(c.Request.Context(), storyID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: StoryWithSegmentsDTO{Story: *st, Segments: segments}})
}

func (h *HTTPHandler) ListStories(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	stories, err := h.service.ListPublicStories(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: stories})
}

func (h *HTTPHandler) RetryImage(c *gin.Context) {
	segmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	if err := h.service.RetryImage(c.Request.Context(), segmentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true})
}

func (h *HTTPHandler) RetryAudio(c *gin.Context) {
	segmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	if err := h.service.RetryAudio(c.Request.Context(), segmentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, APIResponse{Success: true})
}

// GetProviderSettings returns the effective provider chains, stored overrides
// merged over defaults.
func (h *HTTPHandler) GetProviderSettings(c *gin.Context) {
	settings, err := h.service.GetGenerationSettings(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: settings})
}

// UpdateProviderChain replaces the provider chain for one generation kind.
func (h *HTTPHandler) UpdateProviderChain(c *gin.Context) {
	var chain models.ProviderChain
	if err := c.ShouldBindJSON(&chain); err != nil {
		h.respondError(c, models.ErrInvalidInput)
		return
	}
	if err := h.service.UpdateProviderChain(c.Request.Context(), c.Param("key"), chain); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true})
}

// respondError maps service errors onto the envelope and status codes.
func (h *HTTPHandler) respondError(c *gin.Context, err error) {
	var allFailed *provider.AllProvidersFailedError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrSegmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrStoryCompleted),
		errors.Is(err, models.ErrParentNotLeaf),
		errors.Is(err, models.ErrRootExists):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.As(err, &allFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, APIResponse{Success: false, Error: err.Error()})
}

func validateGenerateRequest(dto GenerateSegmentRequestDTO) error {
	if dto.StoryID == nil {
		if dto.Genre == "" && dto.Prompt == "" {
			return models.ErrInvalidInput
		}
		if dto.ParentSegmentID != nil {
			return models.ErrInvalidInput
		}
		return nil
	}
	if dto.ParentSegmentID == nil || dto.ChoiceText == "" {
		return models.ErrInvalidInput
	}
	return nil
}

func intQuery(c *gin.Context, key string, def int) int {
	value := c.Query(key)
	if value == "" {
		return def
	}
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}
