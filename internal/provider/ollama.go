package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// OllamaConfig configures the local-model text adapter.
type OllamaConfig struct {
	BaseURL string // e.g. http://localhost:11434
	Model   string
	Timeout time.Duration
}

type ollamaProvider struct {
	client *api.Client
	model  string
	logger *zap.Logger
}

var _ TextGenerator = (*ollamaProvider)(nil)

// NewOllama builds the adapter for a local Ollama instance. Only text
// generation is served; image and speech chains must name another provider.
func NewOllama(cfg OllamaConfig, logger *zap.Logger) (*ollamaProvider, error) {
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	return &ollamaProvider{
		client: api.NewClient(baseURL, &http.Client{Timeout: timeout}),
		model:  cfg.Model,
		logger: logger.Named("ollama"),
	}, nil
}

func (p *ollamaProvider) Name() Name { return NameOllama }

func (p *ollamaProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	messages := []api.Message{{Role: "system", Content: req.SystemPrompt}}
	if req.UserPrompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: req.UserPrompt})
	}

	options := map[string]interface{}{}
	if req.Temperature > 0 {
		options["temperature"] = float64(req.Temperature)
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Format:   []byte(`"json"`),
		Options:  options,
	}

	var content strings.Builder
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat request failed: %w", err)
	}
	if strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("ollama returned an empty completion")
	}
	p.logger.Debug("Chat completion finished", zap.String("model", p.model))
	return content.String(), nil
}
