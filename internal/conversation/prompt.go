package conversation

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// PromptBuilder prepends the system instruction to the transcript. The
// instruction carries the JSON Schema of TurnResponse so the contract the
// parser enforces and the one the model sees cannot drift apart.
type PromptBuilder struct {
	system     string
	maxHistory int
}

func NewPromptBuilder(instruction string, maxHistory int) (*PromptBuilder, error) {
	schema, err := TurnSchema()
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(instruction))
	b.WriteString("\n\nReply with a single JSON object matching this schema and nothing else:\n")
	b.WriteString(schema)
	return &PromptBuilder{system: b.String(), maxHistory: maxHistory}, nil
}

func (p *PromptBuilder) System() string { return p.system }

// TurnSchema returns the JSON Schema of the turn contract.
func TurnSchema() (string, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(&TurnResponse{})
	b, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal turn schema")
	}
	return string(b), nil
}

// Build returns the message sequence for one completion request. Failed
// attempts (a user message answered by a local notice) are left out, and
// only the most recent maxHistory messages are kept when a limit is set.
func (p *PromptBuilder) Build(history []Message) []Message {
	kept := make([]Message, 0, len(history))
	for _, m := range history {
		if m.Notice {
			if n := len(kept); n > 0 && kept[n-1].Role == RoleUser {
				kept = kept[:n-1]
			}
			continue
		}
		if m.Role == RoleSystem {
			continue
		}
		kept = append(kept, m)
	}
	if p.maxHistory > 0 && len(kept) > p.maxHistory {
		kept = kept[len(kept)-p.maxHistory:]
	}
	out := make([]Message, 0, len(kept)+1)
	out = append(out, Message{Role: RoleSystem, Content: p.system})
	return append(out, kept...)
}
