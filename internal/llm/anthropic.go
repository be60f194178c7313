package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicClient struct {
	client      anthropic.Client
	model       string
	temperature float32
	maxTokens   int
	guard       *guard
}

func NewAnthropicClient(apiKey, model string, temperature float32, maxTokens int, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{
		// The SDK retries on its own; ours is the single retry layer.
		client:      anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		guard:       newGuard("anthropic", timeout, anthropicRetryable),
	}
}

func anthropicRetryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	return true
}

func (c *AnthropicClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(pick(req.MaxTokens, c.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropic.Float(float64(pick(req.Temperature, c.temperature))),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	var result *CompletionResponse
	err := c.guard.do(ctx, func(ctx context.Context) error {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}

		var text strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}

		in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
		result = &CompletionResponse{
			Content: text.String(),
			Usage:   Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.guard.recordUsage(result.Usage)
	return result, nil
}
