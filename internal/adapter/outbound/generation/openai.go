package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/uniedit/creditgate/internal/model"
	"github.com/uniedit/creditgate/internal/port/outbound"
	"github.com/uniedit/creditgate/internal/shared/config"
	"go.uber.org/zap"
)

// maxResponseBytes bounds the provider response; b64 images are large.
const maxResponseBytes = 64 << 20

// Config holds the provider endpoint and circuit breaker settings.
type Config struct {
	BaseURL          string
	APIKey           string
	Model            string
	Size             string
	FailureThreshold uint32
	SuccessThreshold uint32
	CircuitTimeout   time.Duration
}

// ConfigFrom converts the provider configuration section.
func ConfigFrom(cfg *config.ProviderConfig) *Config {
	return &Config{
		BaseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:           cfg.APIKey,
		Model:            cfg.Model,
		Size:             cfg.Size,
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		CircuitTimeout:   cfg.CircuitTimeout,
	}
}

// OpenAIProvider generates images through an OpenAI-compatible images endpoint.
// Calls go through a circuit breaker; an open breaker fails fast as transient.
type OpenAIProvider struct {
	client  *http.Client
	config  *Config
	breaker *gobreaker.CircuitBreaker[any]
	logger  *zap.Logger
}

// Compile-time interface check
var _ outbound.GenerationProviderPort = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new generation provider client.
func NewOpenAIProvider(client *http.Client, cfg *Config, logger *zap.Logger) *OpenAIProvider {
	logger = logger.Named("generation")
	failures := cfg.FailureThreshold
	if failures == 0 {
		failures = 5
	}
	halfOpen := cfg.SuccessThreshold
	if halfOpen == 0 {
		halfOpen = 1
	}

	settings := gobreaker.Settings{
		Name:        "generation-provider",
		MaxRequests: halfOpen,
		Interval:    60 * time.Second,
		Timeout:     cfg.CircuitTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Rejected prompts and callers going away say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || outbound.IsPermanentProviderError(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &OpenAIProvider{
		client:  client,
		config:  cfg,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
	}
}

// openAIImageRequest represents an OpenAI image generation request.
type openAIImageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// openAIImageResponse represents an OpenAI image generation response.
type openAIImageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url,omitempty"`
		B64JSON       string `json:"b64_json,omitempty"`
		RevisedPrompt string `json:"revised_prompt,omitempty"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Generate produces count images for the prompt.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, count int) ([]model.GeneratedImage, error) {
	out, err := p.breaker.Execute(func() (any, error) {
		return p.generate(ctx, prompt, count)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, outbound.NewTransientProviderError("circuit_open", err)
		}
		return nil, err
	}
	return out.([]model.GeneratedImage), nil
}

func (p *OpenAIProvider) generate(ctx context.Context, prompt string, count int) ([]model.GeneratedImage, error) {
	body, err := json.Marshal(&openAIImageRequest{
		Model:          p.config.Model,
		Prompt:         prompt,
		N:              count,
		Size:           p.config.Size,
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, outbound.NewPermanentProviderError("bad_request", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/v1/images/generations", bytes.NewReader(body))
	if err != nil {
		return nil, outbound.NewPermanentProviderError("bad_request", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, outbound.NewTransientProviderError("timeout", ctxErr)
		}
		return nil, outbound.NewTransientProviderError("network", fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, outbound.NewTransientProviderError("timeout", ctxErr)
		}
		return nil, outbound.NewTransientProviderError("network", fmt.Errorf("read response: %w", err))
	}

	var parsed openAIImageResponse
	decodeErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, parsed.Error)
	}
	if decodeErr != nil {
		return nil, outbound.NewTransientProviderError("bad_response", fmt.Errorf("unmarshal response: %w", decodeErr))
	}
	if parsed.Error != nil {
		return nil, outbound.NewTransientProviderError(errorCode(parsed.Error, "provider_error"), errors.New(parsed.Error.Message))
	}

	images := make([]model.GeneratedImage, 0, len(parsed.Data))
	for _, data := range parsed.Data {
		images = append(images, model.GeneratedImage{
			URL:           data.URL,
			B64JSON:       data.B64JSON,
			RevisedPrompt: data.RevisedPrompt,
		})
	}
	return images, nil
}

// classifyStatus maps a non-200 response to a provider error.
// 408, 409, 429 and 5xx may succeed on retry; other 4xx will not.
func classifyStatus(status int, apiErr *openAIError) error {
	err := fmt.Errorf("unexpected status code: %d", status)
	if apiErr != nil && apiErr.Message != "" {
		err = fmt.Errorf("status %d: %s", status, apiErr.Message)
	}

	var pe *outbound.ProviderError
	switch {
	case status == http.StatusTooManyRequests:
		pe = outbound.NewTransientProviderError(errorCode(apiErr, "rate_limited"), err)
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		pe = outbound.NewTransientProviderError(errorCode(apiErr, "retryable"), err)
	case status >= 500:
		pe = outbound.NewTransientProviderError(errorCode(apiErr, "server_error"), err)
	default:
		pe = outbound.NewPermanentProviderError(errorCode(apiErr, "rejected"), err)
	}
	pe.StatusCode = status
	return pe
}

func errorCode(apiErr *openAIError, fallback string) string {
	if apiErr == nil {
		return fallback
	}
	if apiErr.Code != "" {
		return apiErr.Code
	}
	if apiErr.Type != "" {
		return apiErr.Type
	}
	return fallback
}

// State returns the circuit breaker state.
func (p *OpenAIProvider) State() gobreaker.State {
	return p.breaker.State()
}
