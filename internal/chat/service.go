package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"pillchat-backend/internal/conversation"
	"pillchat-backend/internal/llm"
	"pillchat-backend/internal/store"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrTermsNotAccepted = errors.New("terms have not been accepted")
	ErrTurnInProgress   = errors.New("a turn is already in progress for this session")
	ErrInvalidSettings  = errors.New("invalid endpoint settings")
)

// Completer performs one completion round trip.
type Completer interface {
	Complete(ctx context.Context, ep llm.Endpoint, messages []conversation.Message) (string, error)
}

type Options struct {
	Greeting      string
	Starters      []string
	FailureNotice string
	RequireTerms  bool
	// Endpoint is the default endpoint for every session.
	Endpoint llm.Endpoint
	// AllowOverrides lets a session replace the endpoint, token and model.
	AllowOverrides bool
	AllowHTTP      bool
}

// TurnResult is the outcome of a turn. Failure is set when the completion
// failed; the session then holds the failure notice and its previous pending
// interaction.
type TurnResult struct {
	Session *store.Session
	Failure error
}

// Service runs guided conversation turns. Turns of one session are
// serialized; different sessions never share state.
type Service struct {
	store     store.SessionStore
	completer Completer
	prompt    *conversation.PromptBuilder
	opts      Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(st store.SessionStore, completer Completer, prompt *conversation.PromptBuilder, opts Options) *Service {
	if strings.TrimSpace(opts.FailureNotice) == "" {
		opts.FailureNotice = "Something went wrong, please try again."
	}
	return &Service{
		store:     st,
		completer: completer,
		prompt:    prompt,
		opts:      opts,
		locks:     make(map[string]*sync.Mutex),
	}
}

// Start creates a fresh session with the greeting and starter pills.
func (s *Service) Start(ctx context.Context, override *llm.Endpoint) (*store.Session, error) {
	sess := &store.Session{
		ID:            uuid.NewString(),
		State:         conversation.Start(s.opts.Greeting, s.opts.Starters),
		TermsAccepted: !s.opts.RequireTerms,
	}
	if override != nil && *override != (llm.Endpoint{}) {
		if !s.opts.AllowOverrides {
			return nil, errors.Wrap(ErrInvalidSettings, "client settings are disabled")
		}
		if override.BaseURL != "" {
			if err := llm.ValidateBaseURL(override.BaseURL, s.opts.AllowHTTP); err != nil {
				return nil, errors.Wrap(ErrInvalidSettings, err.Error())
			}
		}
		sess.Endpoint = *override
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	log.Info().Str("session", sess.ID).Str("phase", string(sess.State.Phase())).Msg("session started")
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.forget(id)
		return nil, ErrSessionNotFound
	}
	return sess, err
}

// End disposes of the session state.
func (s *Service) End(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.forget(id)
	log.Info().Str("session", id).Msg("session ended")
	return nil
}

func (s *Service) AcceptTerms(ctx context.Context, id string) (*store.Session, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.TermsAccepted {
		return sess, nil
	}
	sess.TermsAccepted = true
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SelectChoice runs a turn for a pill pick.
func (s *Service) SelectChoice(ctx context.Context, id, label string) (*TurnResult, error) {
	return s.turn(ctx, id, func(st *conversation.State) (string, error) {
		return st.SelectChoice(label)
	})
}

// SubmitForm runs a turn for a form submission.
func (s *Service) SubmitForm(ctx context.Context, id string, values map[string]string) (*TurnResult, error) {
	return s.turn(ctx, id, func(st *conversation.State) (string, error) {
		return st.SubmitForm(values)
	})
}

func (s *Service) turn(ctx context.Context, id string, input func(*conversation.State) (string, error)) (*TurnResult, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.TermsAccepted {
		return nil, ErrTermsNotAccepted
	}
	userText, err := input(sess.State)
	if err != nil {
		return nil, err
	}

	sess.State.AddUser(userText)
	logger := log.With().Str("session", id).Logger()

	raw, cerr := s.completer.Complete(ctx, s.opts.Endpoint.Merge(sess.Endpoint), s.prompt.Build(sess.State.History))
	result := &TurnResult{Session: sess}
	if cerr != nil {
		logger.Warn().Err(cerr).Msg("turn failed")
		sess.State.Fail(s.opts.FailureNotice)
		result.Failure = cerr
	} else {
		turn, derr := conversation.DecodeTurn(raw)
		if derr != nil {
			logger.Warn().Err(derr).Msg("model reply did not follow the turn contract")
			turn = conversation.Fallback(raw)
		}
		sess.State.Apply(turn)
		logger.Info().Str("phase", string(sess.State.Phase())).Msg("turn applied")
	}

	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return result, nil
}

// save writes sess back. A session ended while its turn was running is
// reported as not found.
func (s *Service) save(ctx context.Context, sess *store.Session) error {
	err := s.store.Save(ctx, sess)
	if errors.Is(err, store.ErrNotFound) {
		s.forget(sess.ID)
		return ErrSessionNotFound
	}
	return errors.Wrap(err, "failed to save session")
}

// lock serializes turns per session. A second concurrent turn is rejected
// instead of queued so the caller can keep showing its busy state.
func (s *Service) lock(id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	if !l.TryLock() {
		return nil, ErrTurnInProgress
	}
	return l.Unlock, nil
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
}

// Sweep drops sessions idle longer than ttl.
func (s *Service) Sweep(ctx context.Context, ttl time.Duration) {
	removed, err := s.store.Sweep(ctx, time.Now().Add(-ttl))
	if err != nil {
		log.Error().Err(err).Msg("session sweep failed")
		return
	}
	for _, id := range removed {
		s.forget(id)
	}
	if len(removed) > 0 {
		log.Info().Int("count", len(removed)).Msg("expired sessions removed")
	}
}
