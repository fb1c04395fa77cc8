package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"rageval/src/infrastructure/apperr"
	"rageval/src/infrastructure/log"
)

const (
	DefaultURL = "http://localhost:11434"
)

// ErrTruncated is returned when the response was truncated
type ErrTruncated struct {
	Message string
}

func (e *ErrTruncated) Error() string {
	return e.Message
}

// Client represents an Ollama API client bound to one model
type Client struct {
	api     *api.Client
	model   string
	options map[string]interface{}
}

// NewClient creates a new Ollama API client for the given model
func NewClient(baseURL string, c *http.Client, model string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	// older configs point at the /api prefix; the api package adds it itself
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/api")

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	return &Client{
		api:   api.NewClient(u, c),
		model: model,
		options: map[string]interface{}{
			"temperature": 0.0,
		},
	}, nil
}

// Model returns the model name the client sends requests for
func (c *Client) Model() string {
	return c.model
}

// Embed generates an embedding vector for the given text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  c.model,
		Prompt: text,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamFailure, "ollama embeddings request failed", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, apperr.New(apperr.UpstreamFailure, "ollama returned an empty embedding")
	}

	// Convert float64 to float32
	embedding32 := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		embedding32[i] = float32(v)
	}

	return embedding32, nil
}

// Complete performs model generation with the given system message and prompt
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	stream := true
	req := &api.GenerateRequest{
		Model:   c.model,
		System:  system,
		Prompt:  prompt,
		Stream:  &stream,
		Options: c.options,
	}

	var fullResponse strings.Builder
	done := false
	err := c.api.Generate(ctx, req, func(resp api.GenerateResponse) error {
		fullResponse.WriteString(resp.Response)
		if resp.Done {
			done = true
			if resp.DoneReason == "length" {
				return &ErrTruncated{Message: "Response was truncated by the model"}
			}
		}
		return nil
	})
	if err != nil {
		log.Error(err, "failed to generate with ollama", "model", c.model)
		var truncated *ErrTruncated
		if errors.As(err, &truncated) {
			return "", truncated
		}
		return "", apperr.Wrap(apperr.UpstreamFailure, "ollama generate request failed", err)
	}

	if !done || fullResponse.Len() == 0 {
		return "", apperr.New(apperr.UpstreamFailure, "no response received from Ollama")
	}

	return fullResponse.String(), nil
}

// Ping checks that the Ollama server is reachable
func (c *Client) Ping(ctx context.Context) error {
	if err := c.api.Heartbeat(ctx); err != nil {
		return apperr.Wrap(apperr.Unavailable, "ollama is not reachable", err)
	}
	return nil
}
