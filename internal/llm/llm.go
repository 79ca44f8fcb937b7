// Package llm wraps Genkit text generation behind a small client used by
// the answer pipeline and the session summarizer.
//
// The client adds what raw genkit.Generate does not: proactive rate
// limiting, bounded retry with exponential backoff for transient provider
// errors, and conversion from the application's turn log to Genkit
// messages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
)

// ErrEmptyResponse indicates the model returned no usable text.
var ErrEmptyResponse = errors.New("model returned empty response")

// Config contains the required parameters for the client.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Logger    *slog.Logger

	// Retry settings; zero value uses defaults.
	Retry RetryConfig

	// RateLimiter applies to every attempt. nil installs the default
	// (10 req/s sustained, burst 30).
	RateLimiter *rate.Limiter
}

// Client calls the language model. Safe for concurrent use.
type Client struct {
	g           *genkit.Genkit
	modelName   string
	logger      *slog.Logger
	retry       RetryConfig
	rateLimiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Client{
		g:           cfg.Genkit,
		modelName:   cfg.ModelName,
		logger:      logger,
		retry:       retry,
		rateLimiter: rl,
	}, nil
}

// Generate produces text for userText given a system instruction and prior
// conversation messages. history may be empty.
func (c *Client) Generate(ctx context.Context, system string, history []*ai.Message, userText string) (string, error) {
	messages := make([]*ai.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(userText)))

	opts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithMessages(messages...),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem(system))
	}

	resp, err := c.generateWithRetry(ctx, opts)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// summarizeInstruction asks for a factual compression of old conversation
// turns. Entity names must survive so later follow-up questions referring
// to them can still be resolved.
const summarizeInstruction = `Summarize the conversation transcript below into a short factual summary.
Keep every person, project, document and product NAME that appears; later questions may refer back to them.
Keep stated facts and decisions; drop greetings and phrasing.
Write plain prose, no formatting, at most 10 sentences.`

// Summarize collapses a conversation transcript into a short factual
// summary. Satisfies the session store's Summarizer interface.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	out, err := c.Generate(ctx, summarizeInstruction, nil, transcript)
	if err != nil {
		return "", fmt.Errorf("summarize transcript: %w", err)
	}
	return out, nil
}
