package config

import (
	"io/fs"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Profile describes what the chat says and how it asks the model.
type Profile struct {
	Title         string   `yaml:"title"`
	Greeting      string   `yaml:"greeting"`
	Starters      []string `yaml:"starters"`
	System        string   `yaml:"system"`
	FailureNotice string   `yaml:"failure_notice"`
	Terms         string   `yaml:"terms"`
	Style         struct {
		Temperature float32 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
		JSONMode    bool    `yaml:"json_mode"`
	} `yaml:"style"`
}

const defaultSystem = `You are a helpful support assistant in a guided chat.
The user cannot type free text. Each reply must either offer a few short choices,
ask for structured input with a small form, or close the conversation.
Keep choices under five words and offer at most five of them.
Only request a form when you need specific values such as an ID or an email.
Set final to true only when the user's request is fully handled.`

func DefaultProfile() Profile {
	p := Profile{
		Title:         "Guided chat",
		Greeting:      "Hi! What can I help you with today?",
		System:        defaultSystem,
		FailureNotice: "Something went wrong, please try again.",
	}
	p.Style.Temperature = 0.2
	p.Style.MaxTokens = 600
	p.Style.JSONMode = true
	return p
}

// LoadProfile reads a YAML profile. Keys missing from the file keep their
// defaults, and a missing file yields the default profile.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("chat profile not found, using defaults")
			return p, nil
		}
		return p, errors.Wrapf(err, "failed to read chat profile %s", path)
	}
	if err := yaml.Unmarshal(b, &p); err != nil {
		return p, errors.Wrapf(err, "failed to parse chat profile %s", path)
	}
	if strings.TrimSpace(p.System) == "" {
		p.System = defaultSystem
	}
	if strings.TrimSpace(p.FailureNotice) == "" {
		p.FailureNotice = DefaultProfile().FailureNotice
	}
	return p, nil
}

// Apply overlays the environment overrides onto the profile.
func (c Config) Apply(p Profile) Profile {
	if c.Title != "" {
		p.Title = c.Title
	}
	if c.Greeting != "" {
		p.Greeting = c.Greeting
	}
	if len(c.Starters) > 0 {
		p.Starters = append([]string(nil), c.Starters...)
	}
	return p
}
