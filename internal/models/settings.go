package models

// ProviderChain names the primary provider and its optional fallback for one
// generation kind. An empty Fallback means the primary attempt is final.
type ProviderChain struct {
	Primary  string `json:"primary"`
	Fallback string `json:"fallback,omitempty"`
}

// GenerationTuning carries the per-kind adapter parameters read once per
// generation request.
type GenerationTuning struct {
	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"maxTokens"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Voice          string  `json:"voice,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// GenerationSettings is the admin-tunable provider configuration, stored as
// jsonb rows in admin_settings and merged over compiled-in defaults.
type GenerationSettings struct {
	Text   ProviderChain    `json:"textProviders"`
	Image  ProviderChain    `json:"imageProviders"`
	TTS    ProviderChain    `json:"ttsProviders"`
	Tuning GenerationTuning `json:"tuning"`
}

// DefaultGenerationSettings mirrors the shipped provider wiring used when the
// admin_settings table carries no override.
func DefaultGenerationSettings() GenerationSettings {
	return GenerationSettings{
		Text:  ProviderChain{Primary: "ovh", Fallback: "openai"},
		Image: ProviderChain{Primary: "ovh", Fallback: "openai"},
		TTS:   ProviderChain{Primary: "openai"},
		Tuning: GenerationTuning{
			Temperature:    0.8,
			MaxTokens:      1500,
			NegativePrompt: "blurry, low quality, deformed, text, watermark",
			Voice:          "fable",
			Speed:          1.0,
		},
	}
}
