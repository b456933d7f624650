package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"taleforge-server/internal/models"
)

const segmentSystemPrompt = `You are a master interactive-fiction storyteller. Continue the story in vivid second-person prose.

Respond ONLY with a single JSON object, no markdown fences, with exactly these fields:
{
  "segmentText": "the next story passage, 120-200 words",
  "choices": ["three distinct actions the reader may take", "...", "..."],
  "isEnd": false,
  "imagePrompt": "a concise visual description of this scene for an illustrator",
  "visualContext": {"style": "...", "setting": "...", "characters": {"name": "appearance"}},
  "narrativeContext": {"summary": "...", "currentObjective": "...", "arcStage": "setup|development|climax|resolution"}
}

Rules: choices must contain exactly 3 entries unless isEnd is true, in which case choices must be an empty array. Keep visualContext consistent with earlier segments so illustrations match.`

const endingSystemPrompt = `You are a master interactive-fiction storyteller. Write the final passage that concludes the story, resolving its open threads.

Respond ONLY with a single JSON object, no markdown fences, with exactly these fields:
{
  "segmentText": "the closing passage, 150-250 words",
  "choices": [],
  "isEnd": true,
  "imagePrompt": "a concise visual description of the final scene for an illustrator",
  "visualContext": {"style": "...", "setting": "...", "characters": {"name": "appearance"}},
  "narrativeContext": {"summary": "...", "currentObjective": "...", "arcStage": "resolution"}
}`

// SegmentPromptRequest carries everything the assembler needs for one prompt.
// PriorSegments are ordered oldest first; only the trailing window that fits
// the token budget is included.
type SegmentPromptRequest struct {
	Genre            string
	SeedPrompt       string // set only for the first segment
	ChoiceText       string // set only for continuations
	PriorSegments    []models.StorySegment
	VisualContext    *models.VisualContext
	NarrativeContext *models.NarrativeContext
}

// Config bounds the assembled prompt window.
type Config struct {
	MaxWindowSegments int // hard cap on included prior segments
	TokenBudget       int // tiktoken budget for the prior-segment window
}

// Assembler builds provider-agnostic prompts for segment and ending
// generation.
type Assembler struct {
	encoder           *tiktoken.Tiktoken
	maxWindowSegments int
	tokenBudget       int
}

func NewAssembler(cfg Config) (*Assembler, error) {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	maxWindow := cfg.MaxWindowSegments
	if maxWindow <= 0 {
		maxWindow = 5
	}
	budget := cfg.TokenBudget
	if budget <= 0 {
		budget = 2000
	}
	return &Assembler{
		encoder:           encoder,
		maxWindowSegments: maxWindow,
		tokenBudget:       budget,
	}, nil
}

// CountTokens measures text against the prompt window budget.
func (a *Assembler) CountTokens(text string) int {
	return len(a.encoder.Encode(text, nil, nil))
}

// BuildSegmentPrompt returns the system and user prompts for the next
// segment. First segments seed from the genre and the player's prompt;
// continuations carry the chosen action plus a bounded window of prior prose.
func (a *Assembler) BuildSegmentPrompt(req SegmentPromptRequest) (system, user string) {
	var sb strings.Builder

	if len(req.PriorSegments) == 0 {
		fmt.Fprintf(&sb, "Begin a new %s story.\n", orDefault(req.Genre, "fantasy"))
		if req.SeedPrompt != "" {
			fmt.Fprintf(&sb, "Story seed from the player: %s\n", req.SeedPrompt)
		}
		return segmentSystemPrompt, sb.String()
	}

	fmt.Fprintf(&sb, "The story so far (%s genre):\n\n", orDefault(req.Genre, "fantasy"))
	sb.WriteString(a.trailingWindow(req.PriorSegments))

	if req.NarrativeContext != nil {
		fmt.Fprintf(&sb, "\nNarrative state: summary=%q; objective=%q; arc stage=%s.\n",
			req.NarrativeContext.Summary, req.NarrativeContext.CurrentObjective, req.NarrativeContext.ArcStage)
	}
	if req.VisualContext != nil {
		fmt.Fprintf(&sb, "Visual continuity: style=%q; setting=%q.\n",
			req.VisualContext.Style, req.VisualContext.Setting)
		if chars := renderCharacters(req.VisualContext.Characters); chars != "" {
			fmt.Fprintf(&sb, "Recurring characters: %s.\n", chars)
		}
	}
	fmt.Fprintf(&sb, "\nThe reader chose: %q\nContinue the story from that choice.\n", req.ChoiceText)
	return segmentSystemPrompt, sb.String()
}

// BuildEndingPrompt returns the prompts that conclude a story from its full
// transcript. The window is still token-bounded; the oldest prose drops first.
func (a *Assembler) BuildEndingPrompt(story models.Story, segments []models.StorySegment) (system, user string) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The complete story so far (%s genre, titled %q):\n\n",
		orDefault(story.Genre, "fantasy"), story.Title)
	sb.WriteString(a.trailingWindow(segments))
	sb.WriteString("\nWrite the ending now.\n")
	return endingSystemPrompt, sb.String()
}

// EnhanceImagePrompt appends the story's style anchors so every illustration
// of one story shares a look.
func EnhanceImagePrompt(imagePrompt string, visual *models.VisualContext) string {
	if visual == nil || visual.Style == "" {
		return imagePrompt
	}
	enhanced := fmt.Sprintf("%s. Art style: %s. Setting: %s.", imagePrompt, visual.Style, visual.Setting)
	if chars := renderCharacters(visual.Characters); chars != "" {
		enhanced = fmt.Sprintf("%s Characters: %s.", enhanced, chars)
	}
	return enhanced
}

// renderCharacters flattens the name-to-appearance map in stable name order.
func renderCharacters(characters map[string]string) string {
	if len(characters) == 0 {
		return ""
	}
	names := make([]string, 0, len(characters))
	for name := range characters {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s (%s)", name, characters[name]))
	}
	return strings.Join(parts, "; ")
}

// trailingWindow renders the newest segments that fit both the segment cap
// and the token budget, oldest first.
func (a *Assembler) trailingWindow(segments []models.StorySegment) string {
	if len(segments) > a.maxWindowSegments {
		segments = segments[len(segments)-a.maxWindowSegments:]
	}

	// Walk backwards until the budget is exhausted.
	used := 0
	first := len(segments)
	for i := len(segments) - 1; i >= 0; i-- {
		cost := a.CountTokens(segments[i].SegmentText)
		if used+cost > a.tokenBudget && first < len(segments) {
			break
		}
		used += cost
		first = i
	}

	var sb strings.Builder
	for _, seg := range segments[first:] {
		if seg.TriggeringChoiceText != nil && *seg.TriggeringChoiceText != "" {
			fmt.Fprintf(&sb, "[The reader chose: %s]\n", *seg.TriggeringChoiceText)
		}
		sb.WriteString(seg.SegmentText)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
