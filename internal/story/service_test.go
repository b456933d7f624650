package story

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taleforge-server/internal/messaging"
	messagingmocks "taleforge-server/internal/messaging/mocks"
	"taleforge-server/internal/models"
	"taleforge-server/internal/prompt"
	"taleforge-server/internal/provider"
	"taleforge-server/internal/repository"
	repomocks "taleforge-server/internal/repository/mocks"
)

const validSegmentJSON = `{
	"segmentText": "You push open the heavy door and step into the dark hall.",
	"choices": ["Light a torch", "Call out", "Retreat"],
	"isEnd": false,
	"imagePrompt": "a dark stone hall behind a heavy door",
	"visualContext": {"style": "ink wash", "setting": "ruined keep", "characters": {}},
	"narrativeContext": {"summary": "entered the keep", "currentObjective": "find the archive", "arcStage": "development"}
}`

const endingWithChoicesJSON = `{
	"segmentText": "The dawn breaks and the long night is finally over.",
	"choices": ["Keep exploring", "Go home", "Sleep"],
	"isEnd": false,
	"imagePrompt": "sunrise over a ruined keep"
}`

type fakePolicy struct {
	raw   string
	err   error
	calls int
}

func (f *fakePolicy) GenerateText(_ context.Context, _ provider.Chain, _ provider.TextRequest, validate func(string) error) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if validate != nil {
		if err := validate(f.raw); err != nil {
			return "", err
		}
	}
	return f.raw, nil
}

type fakeLimiter struct {
	allowed bool
	calls   int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string) (bool, error) {
	f.calls++
	return f.allowed, nil
}

type serviceFixture struct {
	stories  *repomocks.StoryRepository
	segments *repomocks.SegmentRepository
	settings *repomocks.SettingsRepository
	policy   *fakePolicy
	tasks    *messagingmocks.TaskPublisher
	updates  *messagingmocks.ClientUpdatePublisher
	limiter  *fakeLimiter
	svc      *Service
}

func newServiceFixture(t *testing.T, policy *fakePolicy, limiter *fakeLimiter) *serviceFixture {
	t.Helper()
	assembler, err := prompt.NewAssembler(prompt.Config{})
	require.NoError(t, err)

	f := &serviceFixture{
		stories:  new(repomocks.StoryRepository),
		segments: new(repomocks.SegmentRepository),
		settings: new(repomocks.SettingsRepository),
		policy:   policy,
		tasks:    new(messagingmocks.TaskPublisher),
		updates:  new(messagingmocks.ClientUpdatePublisher),
		limiter:  limiter,
	}
	f.svc = NewService(f.stories, f.segments, f.settings, f.policy, assembler,
		f.tasks, f.updates, f.limiter, zap.NewNop())
	return f
}

func TestGenerateSegment_NewStoryHappyPath(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{raw: validSegmentJSON}, &fakeLimiter{allowed: true})

	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)
	f.stories.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).Return(nil)
	f.segments.On("Create", mock.Anything, mock.AnythingOfType("*models.StorySegment")).Return(nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)
	f.tasks.On("PublishMediaTask", mock.Anything, mock.Anything).Return(nil)

	segment, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		Genre:      "fantasy",
		Prompt:     "a ruined keep hides an archive",
		SessionKey: "session-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "You push open the heavy door and step into the dark hall.", segment.SegmentText)
	assert.Len(t, segment.Choices, 3)
	assert.False(t, segment.IsEnd)
	assert.Nil(t, segment.ParentSegmentID)
	assert.Equal(t, models.StatusPending, segment.ImageGenerationStatus)
	assert.Equal(t, models.StatusPending, segment.AudioGenerationStatus)
	assert.Equal(t, 12, segment.WordCount)
	require.NotNil(t, segment.ImagePrompt)
	assert.Contains(t, *segment.ImagePrompt, "Art style: ink wash")

	f.stories.AssertExpectations(t)
	f.segments.AssertExpectations(t)
	f.tasks.AssertNumberOfCalls(t, "PublishMediaTask", 2)
}

func TestGenerateSegment_RateLimitedBeforeProviders(t *testing.T) {
	policy := &fakePolicy{raw: validSegmentJSON}
	f := newServiceFixture(t, policy, &fakeLimiter{allowed: false})

	_, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		Genre:      "fantasy",
		SessionKey: "session-1",
	})

	assert.ErrorIs(t, err, models.ErrRateLimited)
	assert.Equal(t, 0, policy.calls, "no provider may be invoked after a rate reject")
	f.segments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.stories.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestGenerateSegment_TextFailureLeavesNoRow(t *testing.T) {
	policyErr := &provider.AllProvidersFailedError{Kind: "text"}
	f := newServiceFixture(t, &fakePolicy{err: policyErr}, &fakeLimiter{allowed: true})

	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)

	_, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		Genre:      "fantasy",
		SessionKey: "session-1",
	})

	var allFailed *provider.AllProvidersFailedError
	require.ErrorAs(t, err, &allFailed)
	f.stories.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.segments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.tasks.AssertNotCalled(t, "PublishMediaTask", mock.Anything, mock.Anything)
}

func TestGenerateSegment_CompletedStoryRejected(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{raw: validSegmentJSON}, &fakeLimiter{allowed: true})

	storyID := uuid.New()
	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)
	f.stories.On("GetByID", mock.Anything, storyID).Return(&models.Story{ID: storyID, IsCompleted: true}, nil)

	parentID := uuid.New()
	_, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		StoryID:         &storyID,
		ParentSegmentID: &parentID,
		ChoiceText:      "Light a torch",
		SessionKey:      "session-1",
	})

	assert.ErrorIs(t, err, models.ErrStoryCompleted)
}

func TestGenerateSegment_ParentNotLeafPassesThrough(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{raw: validSegmentJSON}, &fakeLimiter{allowed: true})

	storyID := uuid.New()
	parentID := uuid.New()
	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)
	f.stories.On("GetByID", mock.Anything, storyID).Return(&models.Story{ID: storyID, Genre: "fantasy"}, nil)
	f.segments.On("ListByStory", mock.Anything, storyID).Return([]models.StorySegment{
		{ID: parentID, StoryID: storyID, SegmentText: "The keep looms."},
	}, nil)
	f.segments.On("Create", mock.Anything, mock.Anything).Return(models.ErrParentNotLeaf)

	_, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		StoryID:         &storyID,
		ParentSegmentID: &parentID,
		ChoiceText:      "Light a torch",
		SessionKey:      "session-1",
	})

	assert.ErrorIs(t, err, models.ErrParentNotLeaf)
	f.tasks.AssertNotCalled(t, "PublishMediaTask", mock.Anything, mock.Anything)
}

func TestGenerateSegment_PublishFailureDowngradesStatusOnly(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{raw: validSegmentJSON}, &fakeLimiter{allowed: true})

	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)
	f.stories.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.segments.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)
	f.tasks.On("PublishMediaTask", mock.Anything, mock.MatchedBy(func(p messaging.MediaTaskPayload) bool {
		return p.Kind == messaging.MediaKindImage
	})).Return(errors.New("broker down"))
	f.tasks.On("PublishMediaTask", mock.Anything, mock.MatchedBy(func(p messaging.MediaTaskPayload) bool {
		return p.Kind == messaging.MediaKindAudio
	})).Return(nil)
	f.segments.On("SetImageStatus", mock.Anything, mock.Anything, models.StatusFailed).Return(nil)

	segment, err := f.svc.GenerateSegment(context.Background(), GenerateSegmentRequest{
		Genre:      "fantasy",
		Prompt:     "seed",
		SessionKey: "session-1",
	})

	require.NoError(t, err, "a media dispatch failure must not fail the request")
	assert.Equal(t, models.StatusFailed, segment.ImageGenerationStatus)
	assert.Equal(t, models.StatusPending, segment.AudioGenerationStatus)
	f.segments.AssertCalled(t, "SetImageStatus", mock.Anything, segment.ID, models.StatusFailed)
}

func TestFinishStory_ForcesEndingInvariant(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{raw: endingWithChoicesJSON}, &fakeLimiter{allowed: true})

	storyID := uuid.New()
	latestID := uuid.New()
	f.stories.On("GetByID", mock.Anything, storyID).Return(&models.Story{ID: storyID, Genre: "fantasy", Title: "The Keep"}, nil)
	f.segments.On("ListByStory", mock.Anything, storyID).Return([]models.StorySegment{
		{ID: latestID, StoryID: storyID, SegmentText: "The night drags on."},
	}, nil)
	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)

	var stored *models.StorySegment
	f.segments.On("Create", mock.Anything, mock.MatchedBy(func(seg *models.StorySegment) bool {
		stored = seg
		return true
	})).Return(nil)
	f.stories.On("MarkCompleted", mock.Anything, storyID).Return(nil)
	f.updates.On("PublishClientUpdate", mock.Anything, mock.Anything).Return(nil)
	f.tasks.On("PublishMediaTask", mock.Anything, mock.Anything).Return(nil)

	segment, err := f.svc.FinishStory(context.Background(), storyID, false, true)

	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.IsEnd, "ending segment must be terminal even when the provider said otherwise")
	assert.Empty(t, stored.Choices)
	require.NotNil(t, stored.ParentSegmentID)
	assert.Equal(t, latestID, *stored.ParentSegmentID)
	assert.True(t, segment.IsEnd)
	f.stories.AssertCalled(t, "MarkCompleted", mock.Anything, storyID)
}

func TestFinishStory_AlreadyCompletedGuard(t *testing.T) {
	policy := &fakePolicy{raw: endingWithChoicesJSON}
	f := newServiceFixture(t, policy, &fakeLimiter{allowed: true})

	storyID := uuid.New()
	f.stories.On("GetByID", mock.Anything, storyID).Return(&models.Story{ID: storyID, IsCompleted: true}, nil)

	_, err := f.svc.FinishStory(context.Background(), storyID, false, false)

	assert.ErrorIs(t, err, models.ErrStoryCompleted)
	assert.Equal(t, 0, policy.calls, "a second ending must never reach a provider")
	f.segments.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUpdateProviderChain_RejectsUnknownProvider(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{}, &fakeLimiter{allowed: true})

	err := f.svc.UpdateProviderChain(context.Background(), repository.SettingTextProviders,
		models.ProviderChain{Primary: "mistral"})

	assert.ErrorIs(t, err, models.ErrInvalidInput)
	f.settings.AssertNotCalled(t, "UpsertProviderChain", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateProviderChain_StoresValidChain(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{}, &fakeLimiter{allowed: true})

	chain := models.ProviderChain{Primary: "openai", Fallback: "ollama"}
	f.settings.On("UpsertProviderChain", mock.Anything, repository.SettingImageProviders, chain).Return(nil)

	err := f.svc.UpdateProviderChain(context.Background(), repository.SettingImageProviders, chain)

	require.NoError(t, err)
	f.settings.AssertExpectations(t)
}

func TestRetryImage_RepublishesTask(t *testing.T) {
	f := newServiceFixture(t, &fakePolicy{}, &fakeLimiter{allowed: true})

	segmentID := uuid.New()
	storyID := uuid.New()
	imagePrompt := "a dark hall. Art style: ink wash. Setting: ruined keep."
	f.segments.On("GetByID", mock.Anything, segmentID).Return(&models.StorySegment{
		ID: segmentID, StoryID: storyID, ImagePrompt: &imagePrompt,
		ImageGenerationStatus: models.StatusFailed,
	}, nil)
	f.settings.On("GetGenerationSettings", mock.Anything).Return(models.DefaultGenerationSettings(), nil)
	f.segments.On("SetImageStatus", mock.Anything, segmentID, models.StatusPending).Return(nil)
	f.tasks.On("PublishMediaTask", mock.Anything, mock.MatchedBy(func(p messaging.MediaTaskPayload) bool {
		return p.Kind == messaging.MediaKindImage && p.SegmentID == segmentID && p.Prompt == imagePrompt
	})).Return(nil)

	err := f.svc.RetryImage(context.Background(), segmentID)

	require.NoError(t, err)
	f.tasks.AssertExpectations(t)
	f.segments.AssertExpectations(t)
}
