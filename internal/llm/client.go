// Package llm holds the remote language-model and embedding clients.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plantsage/backend/internal/embedding"
	"github.com/plantsage/backend/internal/metrics"
	"github.com/plantsage/backend/pkg/circuitbreaker"
	"github.com/plantsage/backend/pkg/config"
	"github.com/plantsage/backend/pkg/logger"
	"github.com/plantsage/backend/pkg/retry"
)

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	// JSON asks providers that support it to constrain output to a JSON object.
	JSON bool
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Completer is a chat-completion model.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// guard runs remote calls behind a circuit breaker with retries. Retrying
// is owned here so callers never retry themselves.
type guard struct {
	provider string
	timeout  time.Duration
	cb       *circuitbreaker.CircuitBreaker
	retry    retry.Config
}

func newGuard(provider string, timeout time.Duration, retryable func(error) bool) *guard {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	log := logger.Named("llm")
	return &guard{
		provider: provider,
		timeout:  timeout,
		cb: circuitbreaker.NewCircuitBreaker(provider, circuitbreaker.Config{
			MaxRequests:      5,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
			Logger:           log,
		}),
		retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Retryable:    retryable,
			Logger:       log,
		},
	}
}

func (g *guard) do(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return g.cb.Execute(ctx, func() error {
		return retry.Do(ctx, g.retry, func() error {
			return fn(ctx)
		})
	})
}

func (g *guard) recordUsage(u Usage) {
	metrics.LLMTokensUsed.WithLabelValues(g.provider, "prompt").Add(float64(u.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(g.provider, "completion").Add(float64(u.CompletionTokens))
}

// retryableStatus treats rate limiting and server errors as transient.
// Zero means no HTTP status was available.
func retryableStatus(code int) bool {
	return code == 0 || code == 429 || code >= 500
}

func pick[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// NewCompleter builds the configured chat model.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second

	var (
		c   Completer
		err error
	)
	switch cfg.Provider {
	case "openai":
		c = NewOpenAIClient(cfg.APIKey, cfg.Model, "", cfg.Temperature, cfg.MaxTokens, timeout)
	case "anthropic":
		c = NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, timeout)
	case "gemini":
		c, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("LLM client initialized",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
	)
	return c, nil
}

// NewEmbedder builds the configured embedding gateway.
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig, dim int, timeout time.Duration) (embedding.BatchGateway, error) {
	switch cfg.Provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, "", cfg.Model, 0, 0, timeout)
		c.embeddingDim = dim
		if cfg.BatchSize > 0 {
			c.batchSize = cfg.BatchSize
		}
		return c, nil
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.APIKey,
			EmbeddingModel: cfg.Model,
			EmbeddingDim:   dim,
			Timeout:        timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
	}
}
