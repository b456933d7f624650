package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taleforge-server/internal/messaging"
	messagingmocks "taleforge-server/internal/messaging/mocks"
	"taleforge-server/internal/models"
	"taleforge-server/internal/provider"
	repomocks "taleforge-server/internal/repository/mocks"
)

type fakeMediaPolicy struct {
	imageData  []byte
	imageErr   error
	speechData []byte
	speechErr  error
}

func (f *fakeMediaPolicy) GenerateImage(_ context.Context, _ provider.Chain, _ provider.ImageRequest) ([]byte, error) {
	return f.imageData, f.imageErr
}

func (f *fakeMediaPolicy) GenerateSpeech(_ context.Context, _ provider.Chain, _ provider.SpeechRequest) ([]byte, error) {
	return f.speechData, f.speechErr
}

type fakeStore struct {
	savedPath string
	savedData []byte
	url       string
	err       error
}

func (f *fakeStore) Save(relPath string, data []byte) (string, error) {
	f.savedPath = relPath
	f.savedData = data
	return f.url, f.err
}

type handlerFixture struct {
	segments *repomocks.SegmentRepository
	stories  *repomocks.StoryRepository
	policy   *fakeMediaPolicy
	store    *fakeStore
	updates  *messagingmocks.ClientUpdatePublisher
	handler  *Handler
}

func newHandlerFixture(policy *fakeMediaPolicy, store *fakeStore) *handlerFixture {
	f := &handlerFixture{
		segments: new(repomocks.SegmentRepository),
		stories:  new(repomocks.StoryRepository),
		policy:   policy,
		store:    store,
		updates:  new(messagingmocks.ClientUpdatePublisher),
	}
	f.handler = NewHandler(f.segments, f.stories, policy, store, f.updates, zap.NewNop())
	return f
}

func imageDelivery(t *testing.T, payload messaging.MediaTaskPayload) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp.Delivery{Body: body}
}

func validChain() models.ProviderChain {
	return models.ProviderChain{Primary: "ovh", Fallback: "openai"}
}

func TestHandleDelivery_ImageSuccess(t *testing.T) {
	storyID := uuid.New()
	segmentID := uuid.New()
	parentID := uuid.New()
	f := newHandlerFixture(
		&fakeMediaPolicy{imageData: []byte{0x89, 0x50, 0x4e, 0x47}},
		&fakeStore{url: "http://media.local/stories/x/segments/y.png"},
	)

	f.segments.On("SetImageStatus", mock.Anything, segmentID, models.StatusInProgress).Return(nil)
	f.segments.On("UpdateImageResult", mock.Anything, segmentID, models.StatusCompleted,
		mock.MatchedBy(func(url *string) bool { return url != nil && *url != "" })).Return(nil)
	// Non-root segment: no thumbnail write.
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID, ParentSegmentID: &parentID,
		ImageGenerationStatus: models.StatusCompleted,
	}, nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.MatchedBy(func(u models.ClientUpdate) bool {
		return u.EventType == models.UpdateEventUpdate && u.Table == models.UpdateTableSegments
	})).Return(nil)

	acked := f.handler.HandleDelivery(context.Background(), imageDelivery(t, messaging.MediaTaskPayload{
		TaskID: uuid.New(), Kind: messaging.MediaKindImage,
		StoryID: storyID, SegmentID: segmentID,
		Prompt: "a dark hall", Chain: validChain(),
	}))

	assert.True(t, acked)
	assert.Contains(t, f.store.savedPath, segmentID.String())
	f.segments.AssertExpectations(t)
	f.stories.AssertNotCalled(t, "SetThumbnail", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_ImageFailureIsNonFatal(t *testing.T) {
	storyID := uuid.New()
	segmentID := uuid.New()
	f := newHandlerFixture(
		&fakeMediaPolicy{imageErr: &provider.AllProvidersFailedError{Kind: "image"}},
		&fakeStore{},
	)

	f.segments.On("SetImageStatus", mock.Anything, segmentID, models.StatusInProgress).Return(nil)
	f.segments.On("UpdateImageResult", mock.Anything, segmentID, models.StatusFailed, (*string)(nil)).Return(nil)
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID,
		ImageGenerationStatus: models.StatusFailed,
	}, nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)

	acked := f.handler.HandleDelivery(context.Background(), imageDelivery(t, messaging.MediaTaskPayload{
		TaskID: uuid.New(), Kind: messaging.MediaKindImage,
		StoryID: storyID, SegmentID: segmentID,
		Prompt: "a dark hall", Chain: validChain(),
	}))

	assert.True(t, acked, "a provider failure is recorded, not requeued")
	f.segments.AssertExpectations(t)
	f.updates.AssertCalled(t, "PublishClientUpdate", mock.Anything, mock.Anything)
}

func TestHandleDelivery_RootImagePromotesThumbnail(t *testing.T) {
	storyID := uuid.New()
	segmentID := uuid.New()
	url := "http://media.local/stories/x/segments/root.png"
	f := newHandlerFixture(&fakeMediaPolicy{imageData: []byte{1}}, &fakeStore{url: url})

	f.segments.On("SetImageStatus", mock.Anything, segmentID, models.StatusInProgress).Return(nil)
	f.segments.On("UpdateImageResult", mock.Anything, segmentID, models.StatusCompleted, &url).Return(nil)
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID, ParentSegmentID: nil,
		ImageURL: &url, ImageGenerationStatus: models.StatusCompleted,
	}, nil)
	f.stories.On("SetThumbnail", mock.Anything, storyID, url).Return(nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)

	acked := f.handler.HandleDelivery(context.Background(), imageDelivery(t, messaging.MediaTaskPayload{
		TaskID: uuid.New(), Kind: messaging.MediaKindImage,
		StoryID: storyID, SegmentID: segmentID,
		Prompt: "opening scene", Chain: validChain(),
	}))

	assert.True(t, acked)
	f.stories.AssertCalled(t, "SetThumbnail", mock.Anything, storyID, url)
}

func TestHandleDelivery_AudioSuccess(t *testing.T) {
	storyID := uuid.New()
	segmentID := uuid.New()
	url := "http://media.local/stories/x/segments/y.mp3"
	f := newHandlerFixture(&fakeMediaPolicy{speechData: []byte{0xff, 0xfb}}, &fakeStore{url: url})

	f.segments.On("SetAudioStatus", mock.Anything, segmentID, models.StatusInProgress).Return(nil)
	f.segments.On("UpdateAudioResult", mock.Anything, segmentID, models.StatusCompleted, &url).Return(nil)
	parentID := uuid.New()
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID, ParentSegmentID: &parentID,
		AudioURL: &url, AudioGenerationStatus: models.StatusCompleted,
	}, nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)

	acked := f.handler.HandleDelivery(context.Background(), imageDelivery(t, messaging.MediaTaskPayload{
		TaskID: uuid.New(), Kind: messaging.MediaKindAudio,
		StoryID: storyID, SegmentID: segmentID,
		Prompt: "You push open the heavy door.", Chain: models.ProviderChain{Primary: "openai"},
	}))

	assert.True(t, acked)
	assert.Contains(t, f.store.savedPath, ".mp3")
	f.segments.AssertExpectations(t)
}

func TestHandleDelivery_MalformedPayloadRejected(t *testing.T) {
	f := newHandlerFixture(&fakeMediaPolicy{}, &fakeStore{})

	acked := f.handler.HandleDelivery(context.Background(), amqp.Delivery{Body: []byte("not json")})

	assert.False(t, acked, "malformed payloads are rejected without requeue")
	f.segments.AssertNotCalled(t, "SetImageStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_StoreFailureMarksFailed(t *testing.T) {
	storyID := uuid.New()
	segmentID := uuid.New()
	f := newHandlerFixture(
		&fakeMediaPolicy{imageData: []byte{1}},
		&fakeStore{err: errors.New("disk full")},
	)

	f.segments.On("SetImageStatus", mock.Anything, segmentID, models.StatusInProgress).Return(nil)
	f.segments.On("UpdateImageResult", mock.Anything, segmentID, models.StatusFailed, (*string)(nil)).Return(nil)
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID, ImageGenerationStatus: models.StatusFailed,
	}, nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)

	acked := f.handler.HandleDelivery(context.Background(), imageDelivery(t, messaging.MediaTaskPayload{
		TaskID: uuid.New(), Kind: messaging.MediaKindImage,
		StoryID: storyID, SegmentID: segmentID,
		Prompt: "a dark hall", Chain: validChain(),
	}))

	assert.True(t, acked)
	f.segments.AssertExpectations(t)
}
