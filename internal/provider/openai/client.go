// Package openai adapts an OpenAI-compatible API to the backend LM and
// Vectorizer capabilities. Any server speaking the OpenAI wire format
// works through the BaseURL setting.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/dsp/internal/backend"
)

// Config holds the provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	// Model is the chat model used for generation.
	Model string
	// EmbedModel is the embedding model.
	EmbedModel string
	// Dimensions requests reduced-dimension embeddings when > 0.
	Dimensions int
}

// Client wraps one go-openai client for both capabilities.
type Client struct {
	api        *openai.Client
	model      string
	embedModel openai.EmbeddingModel
	dimensions int
}

// New creates a Client from the config.
func New(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		embedModel: openai.EmbeddingModel(cfg.EmbedModel),
		dimensions: cfg.Dimensions,
	}
}

// LM returns the language-model capability.
func (c *Client) LM() backend.LM { return &lm{c} }

// Vectorizer returns the embedding capability.
func (c *Client) Vectorizer() backend.Vectorizer { return &vectorizer{c} }

type lm struct{ c *Client }

func (l *lm) Name() string { return "openai/" + l.c.model }

func (l *lm) Generate(ctx context.Context, prompt string, opts backend.GenerateOptions) ([]backend.Generation, error) {
	n := opts.N
	if n <= 0 {
		n = 1
	}

	resp, err := l.c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		N:           n,
		Temperature: float32(opts.Temperature),
		Stop:        opts.Stop,
		MaxTokens:   opts.MaxTokens,
		LogProbs:    true,
	})
	if err != nil {
		return nil, parseAPIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	gens := make([]backend.Generation, len(resp.Choices))
	for i, choice := range resp.Choices {
		g := backend.Generation{Text: choice.Message.Content}
		if choice.LogProbs != nil && len(choice.LogProbs.Content) > 0 {
			var sum float64
			for _, tok := range choice.LogProbs.Content {
				sum += tok.LogProb
			}
			g.LogProb = sum / float64(len(choice.LogProbs.Content))
			g.HasLogProb = true
		}
		gens[i] = g
	}
	return gens, nil
}

type vectorizer struct{ c *Client }

func (v *vectorizer) Name() string { return "openai/" + string(v.c.embedModel) }

func (v *vectorizer) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          v.c.embedModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if v.c.dimensions > 0 {
		req.Dimensions = v.c.dimensions
	}

	resp, err := v.c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError("embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// parseAPIError extracts a human-readable error from the API response.
func parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("%s API error %d: %s", op, reqErr.HTTPStatusCode, detail)
		}
		return fmt.Errorf("%s API error %d: %s", op, reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s", op, apiErr.HTTPStatusCode, apiErr.Message)
	}

	return fmt.Errorf("%s request failed: %w", op, err)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
