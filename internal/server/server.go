package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"pillchat-backend/internal/chat"
	"pillchat-backend/internal/config"
	"pillchat-backend/internal/conversation"
	"pillchat-backend/internal/db"
	"pillchat-backend/internal/llm"
	"pillchat-backend/internal/store"
	"pillchat-backend/internal/types"
)

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	profile  config.Profile
	chat     *chat.Service
	database *db.DB
	now      func() time.Time
}

// NewServer wires the chat service from configuration: chat profile, session
// store (PostgreSQL when DB_URL is set, memory otherwise) and completion client.
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	profile, err := config.LoadProfile(cfg.ProfileFile)
	if err != nil {
		return nil, err
	}
	profile = cfg.Apply(profile)

	var (
		database *db.DB
		sessions store.SessionStore
	)
	if cfg.DatabaseURL != "" {
		database, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize database")
		}
		log.Info().Msg("database connection established")
		if err := database.Migrate(ctx, db.Migrations()); err != nil {
			database.Close()
			return nil, errors.Wrap(err, "failed to run migrations")
		}
		sessions = store.NewDatabaseStore(database, cfg.SessionTTL)
	} else {
		log.Info().Msg("DB_URL not provided, keeping sessions in memory")
		sessions = store.NewMemoryStore(cfg.SessionTTL)
	}

	prompt, err := conversation.NewPromptBuilder(profile.System, cfg.MaxHistory)
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(llm.Options{
		Temperature: profile.Style.Temperature,
		MaxTokens:   profile.Style.MaxTokens,
		JSONMode:    profile.Style.JSONMode,
		Timeout:     cfg.CompletionTimeout,
	})
	svc := chat.NewService(sessions, client, prompt, chat.Options{
		Greeting:      profile.Greeting,
		Starters:      profile.Starters,
		FailureNotice: profile.FailureNotice,
		RequireTerms:  cfg.RequireTerms,
		Endpoint: llm.Endpoint{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.Model,
		},
		AllowOverrides: cfg.AllowClientSettings,
		AllowHTTP:      cfg.AllowHTTPEndpoints,
	})

	s := New(cfg, profile, svc)
	s.database = database
	return s, nil
}

// New builds the HTTP surface around an already wired chat service.
func New(cfg config.Config, profile config.Profile, svc *chat.Service) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Session-Id"},
		ExposedHeaders:   []string{"X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:  r,
		cfg:     cfg,
		profile: profile,
		chat:    svc,
		now:     time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/hello", s.handleHello)
	s.router.Get("/api/profile", s.handleProfile)
	// Session lifecycle
	s.router.Post("/api/session", s.handleStartSession)
	s.router.Get("/api/session", s.handleGetSession)
	s.router.Delete("/api/session", s.handleEndSession)
	s.router.Post("/api/session/terms", s.handleAcceptTerms)
	// Turns
	s.router.Post("/api/turn/choice", s.handleChoice)
	s.router.Post("/api/turn/form", s.handleForm)
}

func (s *Server) Router() http.Handler { return s.router }

// RunSweeper removes idle sessions until ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	interval := s.cfg.SessionTTL / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.chat.Sweep(ctx, s.cfg.SessionTTL)
		}
	}
}

func (s *Server) Close() error {
	if s.database != nil {
		return s.database.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	if s.database != nil {
		if err := s.database.HealthCheck(r.Context()); err != nil {
			log.Error().Err(err).Msg("database health check failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHello(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HelloResponse{
		Message: "Hello, world!",
		UTC:     s.now().UTC().Format("2006-01-02 15:04:05") + " UTC",
	})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	starters := s.profile.Starters
	if starters == nil {
		starters = []string{}
	}
	s.writeJSON(w, http.StatusOK, types.ProfileResponse{
		Title:          s.profile.Title,
		Greeting:       s.profile.Greeting,
		Starters:       starters,
		TermsRequired:  s.cfg.RequireTerms,
		Terms:          s.profile.Terms,
		ClientSettings: s.cfg.AllowClientSettings,
		ContinueLabel:  conversation.ContinueLabel,
		DefaultModel:   s.cfg.Model,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}
