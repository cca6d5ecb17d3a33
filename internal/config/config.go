package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Completion endpoint defaults; sessions may override them when
	// AllowClientSettings is set.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Model         string
	// Chat profile (system instruction, greeting, starters, style)
	ProfileFile string
	// Overrides applied on top of the profile file when non-empty
	Title    string
	Greeting string
	Starters []string
	// Database; empty keeps sessions in memory
	DatabaseURL string
	// Sessions
	SessionTTL   time.Duration
	CookieSecure bool
	MaxHistory   int
	RequireTerms bool
	// Completion
	CompletionTimeout   time.Duration
	AllowClientSettings bool
	AllowHTTPEndpoints  bool
	// Logging
	LogLevel  string
	LogFormat string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:                getEnvDefault("PORT", "8080"),
		AllowedOrigin:       getEnvDefault("ALLOWED_ORIGIN", "*"),
		OpenAIAPIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		Model:               getEnvDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ProfileFile:         getEnvDefault("CHAT_PROFILE_FILE", "prompts/guided.yaml"),
		Title:               os.Getenv("CHAT_TITLE"),
		Greeting:            os.Getenv("CHAT_GREETING"),
		Starters:            getEnvListDefault("CHAT_STARTERS", nil),
		DatabaseURL:         os.Getenv("DB_URL"),
		SessionTTL:          getEnvDurationDefault("SESSION_TTL", 30*time.Minute),
		CookieSecure:        getEnvBoolDefault("COOKIE_SECURE", false),
		MaxHistory:          getEnvIntDefault("MAX_HISTORY", 40),
		RequireTerms:        getEnvBoolDefault("REQUIRE_TERMS", false),
		CompletionTimeout:   getEnvDurationDefault("COMPLETION_TIMEOUT", 60*time.Second),
		AllowClientSettings: getEnvBoolDefault("ALLOW_CLIENT_SETTINGS", false),
		AllowHTTPEndpoints:  getEnvBoolDefault("ALLOW_HTTP_ENDPOINTS", false),
		LogLevel:            getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvDefault("LOG_FORMAT", "json"),
	}
	if cfg.OpenAIAPIKey == "" && !cfg.AllowClientSettings {
		log.Warn().Msg("OPENAI_API_KEY is not set; completions will fail until provided")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvIntDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid integer")
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring invalid duration")
	}
	return def
}
