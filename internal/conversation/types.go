package conversation

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the session transcript. Notice marks assistant
// messages produced locally (e.g. a failed completion) rather than by the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Notice  bool   `json:"notice,omitempty"`
}

type FieldKind string

const (
	KindShortText FieldKind = "short_text"
	KindChoice    FieldKind = "choice"
	KindBoolean   FieldKind = "boolean"
)

type FieldSpec struct {
	Name    string    `json:"name" jsonschema:"description=Identifier of the field; unique within the form"`
	Label   string    `json:"label" jsonschema:"description=Text shown next to the input"`
	Kind    FieldKind `json:"kind" jsonschema:"enum=short_text,enum=choice,enum=boolean"`
	Options []string  `json:"options,omitempty" jsonschema:"description=Allowed values; required when kind is choice"`
}

// FormSpec describes structured input the model wants collected instead of a pill pick.
type FormSpec struct {
	Fields []FieldSpec `json:"fields"`
}

// Validate checks the fixed set of form rules: at least one field, unique
// non-empty names, a known kind, and options for choice fields.
func (f FormSpec) Validate() error {
	if len(f.Fields) == 0 {
		return errors.New("form has no fields")
	}
	seen := make(map[string]struct{}, len(f.Fields))
	for i, fld := range f.Fields {
		name := strings.TrimSpace(fld.Name)
		if name == "" {
			return fmt.Errorf("field %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate field name %q", name)
		}
		seen[name] = struct{}{}
		switch fld.Kind {
		case KindShortText, KindBoolean:
		case KindChoice:
			if len(fld.Options) == 0 {
				return fmt.Errorf("choice field %q has no options", name)
			}
		default:
			return fmt.Errorf("field %q has unknown kind %q", name, fld.Kind)
		}
	}
	return nil
}

func (f FormSpec) clone() FormSpec {
	out := FormSpec{Fields: make([]FieldSpec, len(f.Fields))}
	for i, fld := range f.Fields {
		fld.Options = append([]string(nil), fld.Options...)
		out.Fields[i] = fld
	}
	return out
}

// TurnResponse is the JSON object the model is instructed to return each turn.
type TurnResponse struct {
	AssistantMessage string    `json:"assistant_message" jsonschema:"required,description=Message shown to the user"`
	NextChoices      []string  `json:"next_choices" jsonschema:"required,description=Short pill labels the user can pick; empty when a form is requested or the conversation is final"`
	RequestedForm    *FormSpec `json:"requested_form" jsonschema:"required,description=Form to collect structured input or null"`
	Final            bool      `json:"final" jsonschema:"required,description=True when the conversation is over"`
}
