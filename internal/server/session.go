package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"pillchat-backend/internal/chat"
	"pillchat-backend/internal/conversation"
	"pillchat-backend/internal/llm"
	"pillchat-backend/internal/store"
	"pillchat-backend/internal/types"
)

// POST /api/session
// Starts a new conversation, ending the one the cookie pointed at, if any.
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req types.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var override *llm.Endpoint
	if req.Settings != nil {
		override = &llm.Endpoint{
			BaseURL: req.Settings.BaseURL,
			APIKey:  req.Settings.APIKey,
			Model:   req.Settings.Model,
		}
	}
	sess, err := s.chat.Start(r.Context(), override)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	// The previous conversation survives a rejected restart.
	if prev := getSessionID(r); prev != "" && prev != sess.ID {
		if err := s.chat.End(r.Context(), prev); err != nil {
			log.Warn().Err(err).Str("session", prev).Msg("failed to end previous session")
		}
	}
	SetSessionCookie(w, sess.ID, s.cfg.SessionTTL, s.cfg.CookieSecure)
	w.Header().Set("X-Session-Id", sess.ID)
	s.writeJSON(w, http.StatusCreated, s.view(sess, nil))
}

// GET /api/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.currentSession(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(sess, nil))
}

// DELETE /api/session
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if sid := getSessionID(r); sid != "" {
		if err := s.chat.End(r.Context(), sid); err != nil {
			s.writeServiceError(w, err)
			return
		}
	}
	ClearSessionCookie(w, s.cfg.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/session/terms
func (s *Server) handleAcceptTerms(w http.ResponseWriter, r *http.Request) {
	sid := getSessionID(r)
	if sid == "" {
		s.writeError(w, http.StatusNotFound, "no active session")
		return
	}
	sess, err := s.chat.AcceptTerms(r.Context(), sid)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(sess, nil))
}

// POST /api/turn/choice
func (s *Server) handleChoice(w http.ResponseWriter, r *http.Request) {
	var req types.ChoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sid := getSessionID(r)
	if sid == "" {
		s.writeError(w, http.StatusNotFound, "no active session")
		return
	}
	res, err := s.chat.SelectChoice(r.Context(), sid, req.Choice)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(res.Session, res.Failure))
}

// POST /api/turn/form
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	var req types.FormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	values, err := formValues(req.Values)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sid := getSessionID(r)
	if sid == "" {
		s.writeError(w, http.StatusNotFound, "no active session")
		return
	}
	res, err := s.chat.SubmitForm(r.Context(), sid, values)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(res.Session, res.Failure))
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	sid := getSessionID(r)
	if sid == "" {
		s.writeError(w, http.StatusNotFound, "no active session")
		return nil, false
	}
	sess, err := s.chat.Get(r.Context(), sid)
	if err != nil {
		s.writeServiceError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) view(sess *store.Session, failure error) types.SessionView {
	v := types.SessionView{
		SessionID:     sess.ID,
		Phase:         sess.State.Phase(),
		Pending:       sess.State.Pending,
		History:       sess.State.History,
		TermsAccepted: sess.TermsAccepted,
		Model:         sess.Endpoint.Model,
	}
	if v.History == nil {
		v.History = []conversation.Message{}
	}
	if v.Model == "" {
		v.Model = s.cfg.Model
	}
	if failure != nil {
		v.Error = failure.Error()
	}
	return v
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, chat.ErrTermsNotAccepted):
		s.writeError(w, http.StatusForbidden, "please accept the terms first")
	case errors.Is(err, chat.ErrTurnInProgress):
		s.writeError(w, http.StatusConflict, "a turn is already in progress")
	case errors.Is(err, conversation.ErrConversationEnded):
		s.writeError(w, http.StatusConflict, "the conversation has ended")
	case errors.Is(err, conversation.ErrUnknownChoice),
		errors.Is(err, conversation.ErrNoPendingForm),
		errors.Is(err, conversation.ErrInvalidSubmission):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, chat.ErrInvalidSettings):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// formValues flattens JSON form values to the strings the state machine
// validates. Null values count as missing.
func formValues(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case nil:
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("field %q has an unsupported value", k)
		}
	}
	return out, nil
}
