package types

import "pillchat-backend/internal/conversation"

type StartSessionRequest struct {
	Settings *EndpointSettings `json:"settings,omitempty"`
}

// EndpointSettings is the sidebar override of the completion endpoint.
type EndpointSettings struct {
	BaseURL string `json:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
	Model   string `json:"model,omitempty"`
}

type ChoiceRequest struct {
	Choice string `json:"choice"`
}

// FormRequest carries submitted values by field name. Values may be JSON
// strings, booleans or numbers.
type FormRequest struct {
	Values map[string]any `json:"values"`
}

type SessionView struct {
	SessionID     string                 `json:"sessionId"`
	Phase         conversation.Phase     `json:"phase"`
	Pending       conversation.Pending   `json:"pending"`
	History       []conversation.Message `json:"history"`
	TermsAccepted bool                   `json:"termsAccepted"`
	Model         string                 `json:"model,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

type ProfileResponse struct {
	Title          string   `json:"title"`
	Greeting       string   `json:"greeting"`
	Starters       []string `json:"starters"`
	TermsRequired  bool     `json:"termsRequired"`
	Terms          string   `json:"terms,omitempty"`
	ClientSettings bool     `json:"clientSettings"`
	ContinueLabel  string   `json:"continueLabel"`
	DefaultModel   string   `json:"defaultModel"`
}

type HelloResponse struct {
	Message string `json:"message"`
	UTC     string `json:"utc"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
