package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taleforge-server/internal/models"
)

func newTestAssembler(t *testing.T, cfg Config) *Assembler {
	t.Helper()
	a, err := NewAssembler(cfg)
	require.NoError(t, err)
	return a
}

func TestBuildSegmentPrompt_FirstSegment(t *testing.T) {
	a := newTestAssembler(t, Config{})

	system, user := a.BuildSegmentPrompt(SegmentPromptRequest{
		Genre:      "horror",
		SeedPrompt: "a lighthouse keeper hears knocking from below",
	})

	assert.Contains(t, system, "segmentText")
	assert.Contains(t, user, "horror")
	assert.Contains(t, user, "lighthouse keeper")
	assert.NotContains(t, user, "The reader chose")
}

func TestBuildSegmentPrompt_ContinuationCarriesChoiceAndWindow(t *testing.T) {
	a := newTestAssembler(t, Config{})

	choice := "Open the door"
	system, user := a.BuildSegmentPrompt(SegmentPromptRequest{
		Genre:      "fantasy",
		ChoiceText: "Descend the stairs",
		PriorSegments: []models.StorySegment{
			{SegmentText: "The tower stood silent."},
			{SegmentText: "You found a door.", TriggeringChoiceText: &choice},
		},
		NarrativeContext: &models.NarrativeContext{
			Summary:          "exploring the tower",
			CurrentObjective: "find the source of the light",
			ArcStage:         models.ArcDevelopment,
		},
	})

	assert.Contains(t, system, "choices")
	assert.Contains(t, user, "The tower stood silent.")
	assert.Contains(t, user, "[The reader chose: Open the door]")
	assert.Contains(t, user, `The reader chose: "Descend the stairs"`)
	assert.Contains(t, user, "find the source of the light")
}

func TestBuildSegmentPrompt_ContinuationCarriesCharacters(t *testing.T) {
	a := newTestAssembler(t, Config{})

	_, user := a.BuildSegmentPrompt(SegmentPromptRequest{
		ChoiceText:    "go on",
		PriorSegments: []models.StorySegment{{SegmentText: "The tower stood silent."}},
		VisualContext: &models.VisualContext{
			Style:   "oil painting",
			Setting: "ruined tower",
			Characters: map[string]string{
				"Mira":   "silver-haired archivist in a grey cloak",
				"Calder": "scarred soldier with a brass lantern",
			},
		},
	})

	assert.Contains(t, user, `style="oil painting"`)
	assert.Contains(t, user, "Recurring characters: Calder (scarred soldier with a brass lantern); Mira (silver-haired archivist in a grey cloak).")
}

func TestBuildSegmentPrompt_WindowBoundedBySegmentCap(t *testing.T) {
	a := newTestAssembler(t, Config{MaxWindowSegments: 2})

	_, user := a.BuildSegmentPrompt(SegmentPromptRequest{
		ChoiceText: "go on",
		PriorSegments: []models.StorySegment{
			{SegmentText: "oldest passage"},
			{SegmentText: "middle passage"},
			{SegmentText: "newest passage"},
		},
	})

	assert.NotContains(t, user, "oldest passage")
	assert.Contains(t, user, "middle passage")
	assert.Contains(t, user, "newest passage")
}

func TestBuildSegmentPrompt_WindowBoundedByTokenBudget(t *testing.T) {
	a := newTestAssembler(t, Config{MaxWindowSegments: 10, TokenBudget: 40})

	long := strings.Repeat("the winding road stretched on and on ", 20)
	_, user := a.BuildSegmentPrompt(SegmentPromptRequest{
		ChoiceText: "go on",
		PriorSegments: []models.StorySegment{
			{SegmentText: long},
			{SegmentText: "the final stretch"},
		},
	})

	// The newest segment always survives; the oversized older one is dropped.
	assert.Contains(t, user, "the final stretch")
	assert.NotContains(t, user, "winding road")
}

func TestBuildEndingPrompt(t *testing.T) {
	a := newTestAssembler(t, Config{})

	system, user := a.BuildEndingPrompt(
		models.Story{Title: "The Lighthouse", Genre: "horror"},
		[]models.StorySegment{{SegmentText: "The knocking grew louder."}},
	)

	assert.Contains(t, system, `"isEnd": true`)
	assert.Contains(t, user, "The Lighthouse")
	assert.Contains(t, user, "The knocking grew louder.")
	assert.Contains(t, user, "Write the ending now.")
}

func TestEnhanceImagePrompt(t *testing.T) {
	visual := &models.VisualContext{Style: "oil painting", Setting: "storm-lashed coast"}
	enhanced := EnhanceImagePrompt("a lighthouse at night", visual)
	assert.Equal(t, "a lighthouse at night. Art style: oil painting. Setting: storm-lashed coast.", enhanced)

	assert.Equal(t, "a lighthouse at night", EnhanceImagePrompt("a lighthouse at night", nil))
}

func TestEnhanceImagePrompt_IncludesCharacters(t *testing.T) {
	visual := &models.VisualContext{
		Style:   "oil painting",
		Setting: "storm-lashed coast",
		Characters: map[string]string{
			"Mira":   "silver-haired archivist",
			"Calder": "scarred soldier",
		},
	}

	enhanced := EnhanceImagePrompt("a lighthouse at night", visual)
	assert.Equal(t,
		"a lighthouse at night. Art style: oil painting. Setting: storm-lashed coast. Characters: Calder (scarred soldier); Mira (silver-haired archivist).",
		enhanced)
}

func TestParseSegmentContent_Valid(t *testing.T) {
	raw := "Here is your story:\n```json\n" + `{
		"segmentText": "You step inside.",
		"choices": ["Look around", "Call out", "Leave"],
		"isEnd": false,
		"imagePrompt": "a dark hallway",
		"narrativeContext": {"summary": "s", "currentObjective": "o", "arcStage": "climax"}
	}` + "\n```"

	content, err := ParseSegmentContent(raw)
	require.NoError(t, err)
	assert.Equal(t, "You step inside.", content.SegmentText)
	assert.Len(t, content.Choices, 3)
	assert.False(t, content.IsEnd)
	require.NotNil(t, content.NarrativeContext)
	assert.Equal(t, models.ArcClimax, content.NarrativeContext.ArcStage)
}

func TestParseSegmentContent_EndingDropsChoices(t *testing.T) {
	raw := `{"segmentText": "The end.", "choices": ["stray choice"], "isEnd": true, "imagePrompt": "sunset"}`

	content, err := ParseSegmentContent(raw)
	require.NoError(t, err)
	assert.True(t, content.IsEnd)
	assert.Empty(t, content.Choices)
}

func TestParseSegmentContent_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"no json", "sorry, I cannot continue this story"},
		{"unbalanced", `{"segmentText": "oops"`},
		{"missing segment text", `{"choices": ["a", "b", "c"], "isEnd": false}`},
		{"missing choices", `{"segmentText": "You walk on.", "isEnd": false}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSegmentContent(tc.raw)
			assert.ErrorIs(t, err, models.ErrInvalidContent)
		})
	}
}
