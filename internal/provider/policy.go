package provider

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"taleforge-server/internal/models"
)

// Chain is a validated primary/fallback pair. Fallback may be empty, in which
// case the primary attempt is final.
type Chain struct {
	Primary  Name
	Fallback Name
}

// ChainFromSettings validates a configured provider chain against the closed
// provider enum.
func ChainFromSettings(pc models.ProviderChain) (Chain, error) {
	primary, err := ParseName(pc.Primary)
	if err != nil {
		return Chain{}, err
	}
	chain := Chain{Primary: primary}
	if pc.Fallback != "" {
		fallback, err := ParseName(pc.Fallback)
		if err != nil {
			return Chain{}, err
		}
		chain.Fallback = fallback
	}
	return chain, nil
}

func (c Chain) names() []Name {
	names := []Name{c.Primary}
	if c.Fallback != "" && c.Fallback != c.Primary {
		names = append(names, c.Fallback)
	}
	return names
}

// Policy runs a request through a provider chain: the primary first, then the
// fallback once on any primary failure. There are no retries against the same
// provider and no further hops; a double failure surfaces as
// *AllProvidersFailedError carrying both causes.
type Policy struct {
	registry    *Registry
	callTimeout time.Duration
	logger      *zap.Logger
}

func NewPolicy(registry *Registry, callTimeout time.Duration, logger *zap.Logger) *Policy {
	if callTimeout == 0 {
		callTimeout = 120 * time.Second
	}
	return &Policy{
		registry:    registry,
		callTimeout: callTimeout,
		logger:      logger.Named("provider_policy"),
	}
}

// GenerateText runs the text chain. A non-nil validate hook is applied to
// each provider reply; a validation failure counts as a provider failure and
// triggers the fallback, so shape-broken output never reaches the caller.
func (p *Policy) GenerateText(ctx context.Context, chain Chain, req TextRequest, validate func(string) error) (string, error) {
	var attempts []Attempt
	for i, name := range chain.names() {
		gen, err := p.registry.Text(name)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		if i > 0 {
			providerFallbacksTotal.With(prometheus.Labels{"kind": "text"}).Inc()
		}
		p.logger.Info("Attempting text generation", zap.String("provider", string(name)))

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		start := time.Now()
		content, err := gen.GenerateText(callCtx, req)
		providerRequestDuration.With(prometheus.Labels{"provider": string(name), "kind": "text"}).Observe(time.Since(start).Seconds())
		cancel()
		if err == nil && validate != nil {
			err = validate(content)
		}
		if err != nil {
			providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "text", "status": "error"}).Inc()
			p.logger.Warn("Text generation attempt failed",
				zap.String("provider", string(name)), zap.Error(err))
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "text", "status": "success"}).Inc()
		p.logger.Info("Text generation succeeded", zap.String("provider", string(name)))
		return content, nil
	}
	return "", &AllProvidersFailedError{Kind: "text", Attempts: attempts}
}

// GenerateImage runs the image chain. Empty payloads are adapter errors.
func (p *Policy) GenerateImage(ctx context.Context, chain Chain, req ImageRequest) ([]byte, error) {
	var attempts []Attempt
	for i, name := range chain.names() {
		gen, err := p.registry.Image(name)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		if i > 0 {
			providerFallbacksTotal.With(prometheus.Labels{"kind": "image"}).Inc()
		}
		p.logger.Info("Attempting image generation", zap.String("provider", string(name)))

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		start := time.Now()
		data, err := gen.GenerateImage(callCtx, req)
		providerRequestDuration.With(prometheus.Labels{"provider": string(name), "kind": "image"}).Observe(time.Since(start).Seconds())
		cancel()
		if err != nil {
			providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "image", "status": "error"}).Inc()
			p.logger.Warn("Image generation attempt failed",
				zap.String("provider", string(name)), zap.Error(err))
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "image", "status": "success"}).Inc()
		p.logger.Info("Image generation succeeded",
			zap.String("provider", string(name)), zap.Int("bytes", len(data)))
		return data, nil
	}
	return nil, &AllProvidersFailedError{Kind: "image", Attempts: attempts}
}

// GenerateSpeech runs the TTS chain.
func (p *Policy) GenerateSpeech(ctx context.Context, chain Chain, req SpeechRequest) ([]byte, error) {
	var attempts []Attempt
	for i, name := range chain.names() {
		gen, err := p.registry.Speech(name)
		if err != nil {
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		if i > 0 {
			providerFallbacksTotal.With(prometheus.Labels{"kind": "speech"}).Inc()
		}
		p.logger.Info("Attempting speech generation", zap.String("provider", string(name)))

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		start := time.Now()
		data, err := gen.GenerateSpeech(callCtx, req)
		providerRequestDuration.With(prometheus.Labels{"provider": string(name), "kind": "speech"}).Observe(time.Since(start).Seconds())
		cancel()
		if err != nil {
			providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "speech", "status": "error"}).Inc()
			p.logger.Warn("Speech generation attempt failed",
				zap.String("provider", string(name)), zap.Error(err))
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		providerRequestsTotal.With(prometheus.Labels{"provider": string(name), "kind": "speech", "status": "success"}).Inc()
		p.logger.Info("Speech generation succeeded", zap.String("provider", string(name)))
		return data, nil
	}
	return nil, &AllProvidersFailedError{Kind: "speech", Attempts: attempts}
}
