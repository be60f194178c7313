package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey         string
	Model          string
	Temperature    float32
	MaxTokens      int
	EmbeddingModel string
	EmbeddingDim   int
	Timeout        time.Duration
}

type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	guard  *guard
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		cfg:    cfg,
		guard:  newGuard("gemini", cfg.Timeout, geminiRetryable),
	}, nil
}

func geminiRetryable(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	return true
}

func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(pick(req.Temperature, c.cfg.Temperature)),
		MaxOutputTokens: int32(pick(req.MaxTokens, c.cfg.MaxTokens)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	contents := []*genai.Content{genai.NewContentFromText(req.UserPrompt, genai.RoleUser)}

	var result *CompletionResponse
	err := c.guard.do(ctx, func(ctx context.Context) error {
		resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, contents, config)
		if err != nil {
			return fmt.Errorf("failed to generate content: %w", err)
		}

		var text strings.Builder
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			break
		}

		result = &CompletionResponse{Content: text.String()}
		if u := resp.UsageMetadata; u != nil {
			result.Usage = Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.guard.recordUsage(result.Usage)
	return result, nil
}

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	config := &genai.EmbedContentConfig{}
	if c.cfg.EmbeddingDim > 0 {
		dim := int32(c.cfg.EmbeddingDim)
		config.OutputDimensionality = &dim
	}

	var out [][]float32
	err := c.guard.do(ctx, func(ctx context.Context) error {
		result, err := c.client.Models.EmbedContent(ctx, c.cfg.EmbeddingModel, contents, config)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if result == nil || len(result.Embeddings) != len(texts) {
			return fmt.Errorf("embedding count mismatch: expected %d", len(texts))
		}
		out = make([][]float32, len(result.Embeddings))
		for i, e := range result.Embeddings {
			out[i] = e.Values
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
