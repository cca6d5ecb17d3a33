package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"

	"pillchat-backend/internal/conversation"
)

// Endpoint identifies the chat completions service used for a session.
type Endpoint struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Merge returns e with every non-empty field of override applied. The
// configured key never travels to an overridden base URL.
func (e Endpoint) Merge(override Endpoint) Endpoint {
	if v := strings.TrimSpace(override.BaseURL); v != "" {
		if v != e.BaseURL {
			e.APIKey = ""
		}
		e.BaseURL = v
	}
	if v := strings.TrimSpace(override.APIKey); v != "" {
		e.APIKey = v
	}
	if v := strings.TrimSpace(override.Model); v != "" {
		e.Model = v
	}
	return e
}

type Options struct {
	Temperature float32
	MaxTokens   int
	// JSONMode asks the endpoint for response_format json_object.
	JSONMode bool
	Timeout  time.Duration
	// Transport is the base round tripper, http.DefaultTransport when nil.
	Transport http.RoundTripper
}

// Client performs one blocking chat completion per call. It keeps no state
// between calls.
type Client struct {
	opts Options
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 600
	}
	return &Client{opts: opts}
}

func (c *Client) httpClient(token string) *http.Client {
	base := c.opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if strings.TrimSpace(token) == "" {
		return &http.Client{Transport: base, Timeout: c.opts.Timeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: base})
	hc := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	hc.Timeout = c.opts.Timeout
	return hc
}

func (c *Client) openaiClient(ep Endpoint) *openai.Client {
	// The bearer header is set by the oauth2 transport.
	cfg := openai.DefaultConfig("")
	if ep.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(ep.BaseURL, "/")
	}
	cfg.HTTPClient = c.httpClient(ep.APIKey)
	return openai.NewClientWithConfig(cfg)
}

// Complete sends messages to the endpoint and returns the text of the first
// choice. Every failure is reported as a *CompletionError.
func (c *Client) Complete(ctx context.Context, ep Endpoint, messages []conversation.Message) (string, error) {
	if strings.TrimSpace(ep.Model) == "" {
		return "", &CompletionError{Cause: "no model configured"}
	}
	req := openai.ChatCompletionRequest{
		Model:       ep.Model,
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
		Messages:    convertMessages(messages),
	}
	if c.opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.openaiClient(ep).CreateChatCompletion(ctx, req)
	if err != nil {
		cerr := classify(err)
		log.Warn().Err(err).Int("status", cerr.StatusCode).Str("model", ep.Model).Msg("chat completion failed")
		return "", cerr
	}
	log.Debug().
		Str("model", ep.Model).
		Dur("elapsed", time.Since(start)).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("chat completion")
	if len(resp.Choices) == 0 {
		return "", &CompletionError{Cause: "completion returned no choices"}
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", &CompletionError{Cause: "completion body is empty"}
	}
	return text, nil
}

func convertMessages(msgs []conversation.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		if role == "" {
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func classify(err error) *CompletionError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CompletionError{
			Cause:      fmt.Sprintf("endpoint returned status %d: %s", apiErr.HTTPStatusCode, apiErr.Message),
			StatusCode: apiErr.HTTPStatusCode,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CompletionError{
			Cause:      fmt.Sprintf("endpoint returned status %d", reqErr.HTTPStatusCode),
			StatusCode: reqErr.HTTPStatusCode,
			Err:        err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CompletionError{Cause: "request timed out", Err: err}
	}
	return &CompletionError{Cause: "request failed: " + err.Error(), Err: err}
}
