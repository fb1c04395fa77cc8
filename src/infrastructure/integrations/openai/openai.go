package openai

import (
	"context"
	"errors"

	goopenai "github.com/sashabaranov/go-openai"

	"rageval/src/infrastructure/apperr"
)

// Client talks to an OpenAI-compatible API for one model
type Client struct {
	client *goopenai.Client
	model  string
}

// NewClient creates a client. baseURL may be empty to use the public API.
func NewClient(apiKey, baseURL, model string) (*Client, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.InvalidArgument, "openai api key is required")
	}

	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Client{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// Model returns the model name the client sends requests for
func (c *Client) Model() string {
	return c.model
}

// Embed generates an embedding for a single text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(text) == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "cannot embed empty text")
	}

	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(c.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, wrapError("openai embeddings request failed", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperr.New(apperr.UpstreamFailure, "no embedding data returned from API")
	}

	src := resp.Data[0].Embedding
	v := make([]float32, len(src))
	for i := range src {
		v[i] = float32(src[i])
	}
	return v, nil
}

// Complete sends a system and user message and returns the first choice
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]goopenai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", wrapError("openai chat completion request failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.UpstreamFailure, "no choices returned from API")
	}

	return resp.Choices[0].Message.Content, nil
}

// Ping lists models to check the API is reachable and the key is accepted
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, "openai is not reachable", err)
	}
	return nil
}

func wrapError(message string, err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 400 {
		return apperr.Wrap(apperr.InvalidArgument, message, err)
	}
	return apperr.Wrap(apperr.UpstreamFailure, message, err)
}
