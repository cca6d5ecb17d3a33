package conversation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ContinueLabel is the generic affordance offered while idle.
const ContinueLabel = "Continue"

var (
	ErrConversationEnded = errors.New("conversation has ended")
	ErrUnknownChoice     = errors.New("choice is not one of the offered pills")
	ErrNoPendingForm     = errors.New("no form is pending")
	ErrInvalidSubmission = errors.New("invalid form submission")
)

// State is the per-session transcript plus the interaction currently offered.
// History is append-only.
type State struct {
	History []Message `json:"history"`
	Pending Pending   `json:"pending"`
}

// Start creates the state for a new session: the greeting becomes the first
// assistant message and the starters, if any, the first pills.
func Start(greeting string, starters []string) *State {
	s := &State{Pending: NoPending()}
	if strings.TrimSpace(greeting) != "" {
		s.History = append(s.History, Message{Role: RoleAssistant, Content: greeting})
	}
	if labels := cleanLabels(starters); len(labels) > 0 {
		s.Pending = Pills(labels)
	}
	return s
}

func (s *State) Phase() Phase { return PhaseOf(s.Pending) }

func (s *State) Clone() *State {
	return &State{
		History: append([]Message(nil), s.History...),
		Pending: s.Pending.clone(),
	}
}

// Resolve derives the next pending interaction from a parsed turn.
// final wins over everything, a form wins over pills.
func Resolve(turn TurnResponse) Pending {
	switch {
	case turn.Final:
		return Ended()
	case turn.RequestedForm != nil && len(turn.RequestedForm.Fields) > 0:
		return Form(*turn.RequestedForm)
	case len(turn.NextChoices) > 0:
		return Pills(turn.NextChoices)
	default:
		return NoPending()
	}
}

// SelectChoice validates a pill pick against the pending interaction and
// returns the user message that summarizes it. While idle only ContinueLabel
// is accepted.
func (s *State) SelectChoice(label string) (string, error) {
	label = strings.TrimSpace(label)
	switch s.Pending.Kind {
	case PendingEnded:
		return "", ErrConversationEnded
	case PendingPills:
		for _, c := range s.Pending.Choices {
			if c == label {
				return label, nil
			}
		}
	case PendingNone:
		if label == ContinueLabel {
			return label, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownChoice, "%q", label)
}

// SubmitForm validates the submitted values against the pending form and
// returns the user message that summarizes them, one "Label: value" line per
// field in form order.
func (s *State) SubmitForm(values map[string]string) (string, error) {
	switch s.Pending.Kind {
	case PendingEnded:
		return "", ErrConversationEnded
	case PendingForm:
	default:
		return "", ErrNoPendingForm
	}
	lines := make([]string, 0, len(s.Pending.Form.Fields))
	for _, fld := range s.Pending.Form.Fields {
		raw, ok := values[fld.Name]
		if !ok {
			return "", errors.Wrapf(ErrInvalidSubmission, "missing field %q", fld.Name)
		}
		v, err := normalizeValue(fld, raw)
		if err != nil {
			return "", err
		}
		label := fld.Label
		if label == "" {
			label = fld.Name
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, v))
	}
	return strings.Join(lines, "\n"), nil
}

func normalizeValue(fld FieldSpec, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	switch fld.Kind {
	case KindChoice:
		for _, o := range fld.Options {
			if o == v {
				return v, nil
			}
		}
		return "", errors.Wrapf(ErrInvalidSubmission, "field %q: %q is not an option", fld.Name, v)
	case KindBoolean:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return "", errors.Wrapf(ErrInvalidSubmission, "field %q: %q is not a boolean", fld.Name, v)
		}
		if b {
			return "yes", nil
		}
		return "no", nil
	default:
		if v == "" {
			return "", errors.Wrapf(ErrInvalidSubmission, "field %q is empty", fld.Name)
		}
		return v, nil
	}
}

// AddUser appends the user side of a turn.
func (s *State) AddUser(content string) {
	s.History = append(s.History, Message{Role: RoleUser, Content: content})
}

// Apply appends the model's message and moves to the pending interaction the
// turn implies.
func (s *State) Apply(turn TurnResponse) {
	s.History = append(s.History, Message{Role: RoleAssistant, Content: turn.AssistantMessage})
	s.Pending = Resolve(turn)
}

// Fail records a failed completion. Pending is left untouched so the user can
// retry the same choice or form.
func (s *State) Fail(notice string) {
	s.History = append(s.History, Message{Role: RoleAssistant, Content: notice, Notice: true})
}

func cleanLabels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
