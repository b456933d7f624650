package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI adapter. BaseURL is overridable so
// OpenAI-compatible gateways can be pointed at without code changes.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	TextModel  string // default gpt-4o-mini
	ImageModel string // default dall-e-3
	TTSModel   string // default tts-1
}

type openAIProvider struct {
	client     *openaigo.Client
	textModel  string
	imageModel string
	ttsModel   string
	logger     *zap.Logger
}

var (
	_ TextGenerator   = (*openAIProvider)(nil)
	_ ImageGenerator  = (*openAIProvider)(nil)
	_ SpeechGenerator = (*openAIProvider)(nil)
)

// NewOpenAI builds the adapter serving text, image and speech generation
// through the OpenAI API.
func NewOpenAI(cfg OpenAIConfig, logger *zap.Logger) *openAIProvider {
	clientCfg := openaigo.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	textModel := cfg.TextModel
	if textModel == "" {
		textModel = openaigo.GPT4oMini
	}
	imageModel := cfg.ImageModel
	if imageModel == "" {
		imageModel = openaigo.CreateImageModelDallE3
	}
	ttsModel := cfg.TTSModel
	if ttsModel == "" {
		ttsModel = string(openaigo.TTSModel1)
	}
	return &openAIProvider{
		client:     openaigo.NewClientWithConfig(clientCfg),
		textModel:  textModel,
		imageModel: imageModel,
		ttsModel:   ttsModel,
		logger:     logger.Named("openai"),
	}
}

func (p *openAIProvider) Name() Name { return NameOpenAI }

func (p *openAIProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemPrompt},
	}
	if req.UserPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: req.UserPrompt,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       p.textModel,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{
			Type: openaigo.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai returned an empty completion")
	}
	p.logger.Debug("Chat completion finished",
		zap.String("model", p.textModel),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	resp, err := p.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         req.Prompt,
		Model:          p.imageModel,
		N:              1,
		Size:           openaigo.CreateImageSize1024x1024,
		Quality:        openaigo.CreateImageQualityStandard,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("openai returned no image data")
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode openai image payload: %w", err)
	}
	return data, nil
}

func (p *openAIProvider) GenerateSpeech(ctx context.Context, req SpeechRequest) ([]byte, error) {
	voice := openaigo.VoiceFable
	if req.Voice != "" {
		voice = openaigo.SpeechVoice(req.Voice)
	}
	speed := req.Speed
	if speed == 0 {
		speed = 1.0
	}
	resp, err := p.client.CreateSpeech(ctx, openaigo.CreateSpeechRequest{
		Model: openaigo.SpeechModel(p.ttsModel),
		Input: req.Text,
		Voice: voice,
		Speed: speed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech generation failed: %w", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read openai speech stream: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("openai returned empty audio")
	}
	return data, nil
}
