package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// APIError is a non-OK response from the Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
}

// Client is a minimal Telegram Bot API client covering what the bot needs:
// long polling, text replies and typing indicators.
type Client struct {
	token   string
	apiBase string
	httpc   *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithAPIBase overrides the Bot API endpoint. Used by tests.
func WithAPIBase(base string) ClientOption {
	return func(c *Client) { c.apiBase = base }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpc *http.Client) ClientOption {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient creates a Client.
func NewClient(token string, opts ...ClientOption) (*Client, error) {
	if token == "" {
		return nil, errors.New("bot token is required")
	}
	c := &Client{
		token:   token,
		apiBase: defaultAPIBase,
		httpc:   &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// call posts params to a Bot API method and decodes the result into out.
func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var zero T

	body, err := json.Marshal(params)
	if err != nil {
		return zero, fmt.Errorf("encoding %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return zero, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return zero, fmt.Errorf("reading %s response: %w", method, err)
	}

	var envelope apiResponse[T]
	if err := json.Unmarshal(data, &envelope); err != nil {
		return zero, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		return zero, &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
	}
	return envelope.Result, nil
}

// GetUpdates long-polls for new updates after offset. Blocks up to
// timeout server-side; the HTTP deadline is padded past it so a quiet
// poll is not mistaken for a transport failure.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	return call[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	})
}

// SendMessage sends a plain-text reply to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := call[Message](ctx, c, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// SendTyping shows the "typing..." indicator while a pipeline run is in
// flight.
func (c *Client) SendTyping(ctx context.Context, chatID int64) error {
	_, err := call[bool](ctx, c, "sendChatAction", map[string]any{
		"chat_id": chatID,
		"action":  "typing",
	})
	return err
}
