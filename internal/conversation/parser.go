package conversation

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedTurn is returned by DecodeTurn when the model reply does not
// follow the turn contract. ParseTurn recovers from it.
var ErrMalformedTurn = errors.New("malformed turn response")

type wireTurn struct {
	AssistantMessage *string   `json:"assistant_message"`
	NextChoices      []string  `json:"next_choices"`
	RequestedForm    *FormSpec `json:"requested_form"`
	Final            bool      `json:"final"`
}

// DecodeTurn strictly decodes a model reply. A JSON object embedded in
// surrounding prose or a code fence is accepted.
func DecodeTurn(raw string) (TurnResponse, error) {
	var w wireTurn
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		span, ok := objectSpan(raw)
		if !ok {
			return TurnResponse{}, errors.Wrap(ErrMalformedTurn, err.Error())
		}
		w = wireTurn{}
		if err2 := json.Unmarshal([]byte(span), &w); err2 != nil {
			return TurnResponse{}, errors.Wrap(ErrMalformedTurn, err2.Error())
		}
	}
	if w.AssistantMessage == nil {
		return TurnResponse{}, errors.Wrap(ErrMalformedTurn, "missing assistant_message")
	}
	// An empty form counts as absent, and a final turn never shows its form.
	form := w.RequestedForm
	if form != nil && (len(form.Fields) == 0 || w.Final) {
		form = nil
	}
	if form != nil {
		if err := form.Validate(); err != nil {
			return TurnResponse{}, errors.Wrap(ErrMalformedTurn, err.Error())
		}
	}
	return TurnResponse{
		AssistantMessage: *w.AssistantMessage,
		NextChoices:      cleanLabels(w.NextChoices),
		RequestedForm:    form,
		Final:            w.Final,
	}, nil
}

// ParseTurn never fails: a reply that cannot be decoded becomes a plain
// assistant message with no choices, no form and final=false.
func ParseTurn(raw string) TurnResponse {
	turn, err := DecodeTurn(raw)
	if err != nil {
		return Fallback(raw)
	}
	return turn
}

func Fallback(raw string) TurnResponse {
	return TurnResponse{AssistantMessage: raw, NextChoices: []string{}}
}

func objectSpan(raw string) (string, bool) {
	first := strings.IndexByte(raw, '{')
	last := strings.LastIndexByte(raw, '}')
	if first < 0 || last <= first {
		return "", false
	}
	return raw[first : last+1], true
}
