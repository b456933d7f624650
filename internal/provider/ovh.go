package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// OVHConfig configures the OVH AI Endpoints adapter. TextURL points at an
// OpenAI-compatible chat completions route, ImageURL at an SDXL text2image
// route returning raw image bytes.
type OVHConfig struct {
	AccessToken string
	TextURL     string
	TextModel   string
	ImageURL    string
	Timeout     time.Duration
}

type ovhProvider struct {
	httpClient  *http.Client
	accessToken string
	textURL     string
	textModel   string
	imageURL    string
	logger      *zap.Logger
}

var (
	_ TextGenerator  = (*ovhProvider)(nil)
	_ ImageGenerator = (*ovhProvider)(nil)
)

// NewOVH builds the adapter for OVH AI Endpoints.
func NewOVH(cfg OVHConfig, logger *zap.Logger) *ovhProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &ovhProvider{
		httpClient:  &http.Client{Timeout: timeout},
		accessToken: cfg.AccessToken,
		textURL:     cfg.TextURL,
		textModel:   cfg.TextModel,
		imageURL:    cfg.ImageURL,
		logger:      logger.Named("ovh"),
	}
}

func (p *ovhProvider) Name() Name { return NameOVH }

type ovhChatRequest struct {
	Model       string           `json:"model"`
	Messages    []ovhChatMessage `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
}

type ovhChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ovhChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *ovhProvider) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	messages := []ovhChatMessage{{Role: "system", Content: req.SystemPrompt}}
	if req.UserPrompt != "" {
		messages = append(messages, ovhChatMessage{Role: "user", Content: req.UserPrompt})
	}
	body, err := json.Marshal(ovhChatRequest{
		Model:       p.textModel,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal ovh chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.textURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create ovh chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ovh chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ovh chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("OVH chat endpoint returned an error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(respBody, 512)))
		return "", fmt.Errorf("ovh chat endpoint returned status %d", resp.StatusCode)
	}

	var parsed ovhChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode ovh chat response: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("ovh returned an empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (p *ovhProvider) GenerateImage(ctx context.Context, req ImageRequest) ([]byte, error) {
	payload := map[string]string{"prompt": req.Prompt}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ovh image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.imageURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create ovh image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/octet-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ovh image request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ovh image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("OVH image endpoint returned an error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", truncate(data, 512)))
		return nil, fmt.Errorf("ovh image endpoint returned status %d", resp.StatusCode)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("ovh returned an empty image")
	}
	return data, nil
}

// Ping checks reachability of the OVH text endpoint. Used by the provider
// health probe, not by the generation path.
func (p *ovhProvider) Ping(ctx context.Context) error {
	_, err := p.GenerateText(ctx, TextRequest{
		SystemPrompt: "Reply with the single word: ok",
		MaxTokens:    5,
	})
	return err
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
