package provider

import (
	"context"
	"fmt"
	"strings"

	"taleforge-server/internal/models"
)

// Name identifies a configured generation provider. The set is closed:
// configuration naming anything else fails at startup instead of silently
// falling back.
type Name string

const (
	NameOpenAI Name = "openai"
	NameOVH    Name = "ovh"
	NameOllama Name = "ollama"
)

// ParseName validates a provider identifier from config or admin settings.
func ParseName(s string) (Name, error) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case NameOpenAI:
		return NameOpenAI, nil
	case NameOVH:
		return NameOVH, nil
	case NameOllama:
		return NameOllama, nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownProvider, s)
	}
}

// TextRequest is a single chat-style completion request.
type TextRequest struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Temperature  float32
}

// ImageRequest asks for one rendered image.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
}

// SpeechRequest asks for narrated audio of Text.
type SpeechRequest struct {
	Text  string
	Voice string
	Speed float64
}

// TextGenerator produces raw completion text. Returning an empty string is an
// error; callers validate the content shape separately.
type TextGenerator interface {
	Name() Name
	GenerateText(ctx context.Context, req TextRequest) (string, error)
}

// ImageGenerator produces encoded image bytes (PNG or JPEG).
type ImageGenerator interface {
	Name() Name
	GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error)
}

// SpeechGenerator produces encoded audio bytes (MP3).
type SpeechGenerator interface {
	Name() Name
	GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Registry holds the adapters built at startup, keyed by provider name.
// Lookups fail for names the deployment did not wire.
type Registry struct {
	text   map[Name]TextGenerator
	image  map[Name]ImageGenerator
	speech map[Name]SpeechGenerator
}

func NewRegistry() *Registry {
	return &Registry{
		text:   make(map[Name]TextGenerator),
		image:  make(map[Name]ImageGenerator),
		speech: make(map[Name]SpeechGenerator),
	}
}

func (r *Registry) RegisterText(g TextGenerator)     { r.text[g.Name()] = g }
func (r *Registry) RegisterImage(g ImageGenerator)   { r.image[g.Name()] = g }
func (r *Registry) RegisterSpeech(g SpeechGenerator) { r.speech[g.Name()] = g }

func (r *Registry) Text(name Name) (TextGenerator, error) {
	g, ok := r.text[name]
	if !ok {
		return nil, fmt.Errorf("%w: no text adapter for %q", models.ErrUnknownProvider, name)
	}
	return g, nil
}

func (r *Registry) Image(name Name) (ImageGenerator, error) {
	g, ok := r.image[name]
	if !ok {
		return nil, fmt.Errorf("%w: no image adapter for %q", models.ErrUnknownProvider, name)
	}
	return g, nil
}

func (r *Registry) Speech(name Name) (SpeechGenerator, error) {
	g, ok := r.speech[name]
	if !ok {
		return nil, fmt.Errorf("%w: no speech adapter for %q", models.ErrUnknownProvider, name)
	}
	return g, nil
}

// Attempt records one failed provider invocation.
type Attempt struct {
	Provider Name
	Err      error
}

// AllProvidersFailedError reports that every provider in the chain failed for
// one request. It aggregates the per-provider causes in invocation order.
type AllProvidersFailedError struct {
	Kind     string // text, image or speech
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Provider, a.Err))
	}
	return fmt.Sprintf("all %s providers failed [%s]", e.Kind, strings.Join(parts, "; "))
}

func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}
