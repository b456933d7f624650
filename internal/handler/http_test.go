package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
	"taleforge-server/internal/provider"
)

func TestValidateGenerateRequest(t *testing.T) {
	storyID := uuid.New()
	parentID := uuid.New()

	tests := []struct {
		name    string
		dto     GenerateSegmentRequestDTO
		wantErr bool
	}{
		{"new story with genre", GenerateSegmentRequestDTO{Genre: "fantasy"}, false},
		{"new story with prompt", GenerateSegmentRequestDTO{Prompt: "a lighthouse keeper"}, false},
		{"new story without seed", GenerateSegmentRequestDTO{}, true},
		{"new story with stray parent", GenerateSegmentRequestDTO{Genre: "fantasy", ParentSegmentID: &parentID}, true},
		{"continuation", GenerateSegmentRequestDTO{StoryID: &storyID, ParentSegmentID: &parentID, ChoiceText: "Open the door"}, false},
		{"continuation without parent", GenerateSegmentRequestDTO{StoryID: &storyID, ChoiceText: "Open the door"}, true},
		{"continuation without choice", GenerateSegmentRequestDTO{StoryID: &storyID, ParentSegmentID: &parentID}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGenerateRequest(tt.dto)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &HTTPHandler{logger: zap.NewNop()}

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", models.ErrRateLimited, http.StatusTooManyRequests},
		{"story not found", models.ErrStoryNotFound, http.StatusNotFound},
		{"segment not found", models.ErrSegmentNotFound, http.StatusNotFound},
		{"story completed", models.ErrStoryCompleted, http.StatusConflict},
		{"parent not leaf", models.ErrParentNotLeaf, http.StatusConflict},
		{"root exists", models.ErrRootExists, http.StatusConflict},
		{"invalid input", models.ErrInvalidInput, http.StatusBadRequest},
		{"all providers failed", &provider.AllProvidersFailedError{Kind: "text"}, http.StatusBadGateway},
		{"wrapped provider failure", errors.Join(errors.New("pipeline"), &provider.AllProvidersFailedError{Kind: "image"}), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			h.respondError(c, tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestIntQueryFallsBackOnGarbage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/stories?limit=abc&offset=30", nil)

	assert.Equal(t, 20, intQuery(c, "limit", 20))
	assert.Equal(t, 30, intQuery(c, "offset", 0))
	assert.Equal(t, 0, intQuery(c, "missing", 0))
}
