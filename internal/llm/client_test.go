package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pillchat-backend/internal/conversation"
)

type capturedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

func completionServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Authorization = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test-model",
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

var messages = []conversation.Message{
	{Role: conversation.RoleSystem, Content: "sys"},
	{Role: conversation.RoleUser, Content: "Billing"},
}

func TestCompleteReturnsFirstChoice(t *testing.T) {
	srv, captured := completionServer(t, http.StatusOK, chatBody(`{"assistant_message":"hi"}`))
	c := NewClient(Options{JSONMode: true, MaxTokens: 128, Timeout: 5 * time.Second})

	text, err := c.Complete(context.Background(), Endpoint{BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "test-model"}, messages)
	require.NoError(t, err)
	assert.Equal(t, `{"assistant_message":"hi"}`, text)

	assert.Equal(t, "/v1/chat/completions", captured.Path)
	assert.Equal(t, "Bearer secret", captured.Authorization)
	assert.Equal(t, "test-model", captured.Body["model"])
	assert.Equal(t, map[string]any{"type": "json_object"}, captured.Body["response_format"])
	msgs, ok := captured.Body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCompleteNonSuccessStatus(t *testing.T) {
	srv, _ := completionServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`)
	c := NewClient(Options{})

	_, err := c.Complete(context.Background(), Endpoint{BaseURL: srv.URL, APIKey: "k", Model: "m"}, messages)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, http.StatusInternalServerError, cerr.StatusCode)
	assert.Contains(t, cerr.Error(), "boom")
}

func TestCompleteEmptyBody(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, chatBody("   "))
	c := NewClient(Options{})

	_, err := c.Complete(context.Background(), Endpoint{BaseURL: srv.URL, APIKey: "k", Model: "m"}, messages)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Cause, "empty")
}

func TestCompleteNoChoices(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, `{"id":"x","choices":[]}`)
	c := NewClient(Options{})

	_, err := c.Complete(context.Background(), Endpoint{BaseURL: srv.URL, APIKey: "k", Model: "m"}, messages)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
}

func TestCompleteTransportError(t *testing.T) {
	srv, _ := completionServer(t, http.StatusOK, chatBody("x"))
	url := srv.URL
	srv.Close()

	c := NewClient(Options{Timeout: time.Second})
	_, err := c.Complete(context.Background(), Endpoint{BaseURL: url, APIKey: "k", Model: "m"}, messages)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
	assert.Zero(t, cerr.StatusCode)
}

func TestCompleteWithoutModel(t *testing.T) {
	c := NewClient(Options{})
	_, err := c.Complete(context.Background(), Endpoint{}, messages)
	var cerr *CompletionError
	require.ErrorAs(t, err, &cerr)
}

func TestEndpointMerge(t *testing.T) {
	base := Endpoint{BaseURL: "https://api.example.com/v1", APIKey: "a", Model: "m1"}
	got := base.Merge(Endpoint{Model: " m2 "})
	assert.Equal(t, Endpoint{BaseURL: "https://api.example.com/v1", APIKey: "a", Model: "m2"}, got)
	assert.Equal(t, base, base.Merge(Endpoint{}))

	moved := base.Merge(Endpoint{BaseURL: "https://other.example.com/v1"})
	assert.Empty(t, moved.APIKey)
	assert.Equal(t, "b", base.Merge(Endpoint{BaseURL: "https://other.example.com/v1", APIKey: "b"}).APIKey)
	assert.Equal(t, "a", base.Merge(Endpoint{BaseURL: base.BaseURL}).APIKey)
}

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, ValidateBaseURL("https://api.openai.com/v1", false))
	assert.NoError(t, ValidateBaseURL("http://localhost:11434/v1", true))

	for _, raw := range []string{
		"http://api.openai.com/v1",
		"ftp://example.com",
		"https://localhost/v1",
		"https://127.0.0.1/v1",
		"https://10.0.0.5/v1",
		"https:///v1",
	} {
		assert.Error(t, ValidateBaseURL(raw, false), raw)
	}
}
