package models

// ArcStage names the narrative arc position a story currently occupies.
type ArcStage string

const (
	ArcSetup       ArcStage = "setup"
	ArcDevelopment ArcStage = "development"
	ArcClimax      ArcStage = "climax"
	ArcResolution  ArcStage = "resolution"
)

// ParseArcStage maps free-form provider output onto the closed arc enum,
// falling back to development for anything unrecognized.
func ParseArcStage(s string) ArcStage {
	switch ArcStage(s) {
	case ArcSetup, ArcDevelopment, ArcClimax, ArcResolution:
		return ArcStage(s)
	default:
		return ArcDevelopment
	}
}

// VisualContext carries the style anchors reused across image prompts so the
// illustrations of one story stay consistent.
type VisualContext struct {
	Style      string            `json:"style"`
	Setting    string            `json:"setting"`
	Characters map[string]string `json:"characters"`
}

// NarrativeContext is the running summary the text provider maintains between
// segments.
type NarrativeContext struct {
	Summary          string   `json:"summary"`
	CurrentObjective string   `json:"currentObjective"`
	ArcStage         ArcStage `json:"arcStage"`
}
