package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned by New when no API key is available.
var ErrNotConfigured = errors.New("inference service not configured")

// Inferrer turns a question into an answer.
type Inferrer interface {
	Infer(ctx context.Context, question string) (string, error)
}

// Error wraps any failure of the upstream call: transport, non-2xx status or
// a response without usable text.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config describes how to reach the model.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// HTTPClient is optional; the SDK default (no timeout) is used when nil.
	HTTPClient *http.Client
}

// Client calls Gemini through its OpenAI-compatible Chat Completions endpoint.
type Client struct {
	client *openai.Client
	model  string
}

// New creates a Client. It returns ErrNotConfigured when cfg.APIKey is empty.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}, nil
}

// Model returns the model name sent with every request.
func (c *Client) Model() string {
	return c.model
}

// Infer sends question as a single user message and returns the text of the
// first choice verbatim. One request, no retries, no streaming.
func (c *Client) Infer(ctx context.Context, question string) (string, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: question},
		},
	})
	if err != nil {
		return "", &Error{Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", &Error{Err: fmt.Errorf("response from %s contained no choices", c.model)}
	}

	slog.Debug("inference completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"finish_reason", resp.Choices[0].FinishReason,
		"total_tokens", resp.Usage.TotalTokens,
	)

	return resp.Choices[0].Message.Content, nil
}
