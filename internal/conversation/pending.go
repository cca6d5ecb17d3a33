package conversation

type PendingKind string

const (
	PendingNone  PendingKind = "none"
	PendingPills PendingKind = "pills"
	PendingForm  PendingKind = "form"
	PendingEnded PendingKind = "ended"
)

// Pending is the interaction currently offered to the user. Exactly one kind
// is active; Choices is set only for pills and Form only for forms.
type Pending struct {
	Kind    PendingKind `json:"kind"`
	Choices []string    `json:"choices,omitempty"`
	Form    *FormSpec   `json:"form,omitempty"`
}

func NoPending() Pending { return Pending{Kind: PendingNone} }

func Ended() Pending { return Pending{Kind: PendingEnded} }

func Pills(choices []string) Pending {
	return Pending{Kind: PendingPills, Choices: append([]string(nil), choices...)}
}

func Form(spec FormSpec) Pending {
	c := spec.clone()
	return Pending{Kind: PendingForm, Form: &c}
}

func (p Pending) clone() Pending {
	switch p.Kind {
	case PendingPills:
		return Pills(p.Choices)
	case PendingForm:
		if p.Form != nil {
			return Form(*p.Form)
		}
	}
	return Pending{Kind: p.Kind}
}

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingChoice Phase = "awaiting_choice"
	PhaseAwaitingForm   Phase = "awaiting_form"
	PhaseEnded          Phase = "ended"
)

// PhaseOf maps a pending interaction to the state it implies.
func PhaseOf(p Pending) Phase {
	switch p.Kind {
	case PendingPills:
		return PhaseAwaitingChoice
	case PendingForm:
		return PhaseAwaitingForm
	case PendingEnded:
		return PhaseEnded
	default:
		return PhaseIdle
	}
}
