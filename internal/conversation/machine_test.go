package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accountForm() *FormSpec {
	return &FormSpec{Fields: []FieldSpec{{Name: "account_id", Label: "Account ID", Kind: KindShortText}}}
}

func TestStart(t *testing.T) {
	s := Start("Hello!", []string{"Billing", "Technical"})
	assert.Equal(t, Pills([]string{"Billing", "Technical"}), s.Pending)
	assert.Equal(t, PhaseAwaitingChoice, s.Phase())
	require.Len(t, s.History, 1)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Hello!"}, s.History[0])

	idle := Start("Hello!", nil)
	assert.Equal(t, PendingNone, idle.Pending.Kind)
	assert.Equal(t, PhaseIdle, idle.Phase())
}

func TestResolveFinalWins(t *testing.T) {
	turns := []TurnResponse{
		{Final: true},
		{Final: true, NextChoices: []string{"a", "b"}},
		{Final: true, RequestedForm: accountForm()},
		{Final: true, NextChoices: []string{"a"}, RequestedForm: accountForm()},
		{Final: true, RequestedForm: &FormSpec{Fields: []FieldSpec{}}},
	}
	for _, turn := range turns {
		s := Start("hi", []string{"x"})
		s.Apply(turn)
		assert.Equal(t, Ended(), s.Pending)
		assert.Equal(t, PhaseEnded, s.Phase())
	}
}

func TestResolveFormBeatsChoices(t *testing.T) {
	p := Resolve(TurnResponse{NextChoices: []string{"a", "b"}, RequestedForm: accountForm()})
	assert.Equal(t, PendingForm, p.Kind)
	assert.Empty(t, p.Choices)
	assert.Equal(t, accountForm(), p.Form)
}

func TestResolveChoicesAndIdle(t *testing.T) {
	assert.Equal(t, Pills([]string{"a"}), Resolve(TurnResponse{NextChoices: []string{"a"}}))
	assert.Equal(t, NoPending(), Resolve(TurnResponse{}))
}

func TestResolveEmptyFormIsAbsent(t *testing.T) {
	empty := &FormSpec{}
	assert.Equal(t, Pills([]string{"a", "b"}), Resolve(TurnResponse{NextChoices: []string{"a", "b"}, RequestedForm: empty}))
	assert.Equal(t, NoPending(), Resolve(TurnResponse{RequestedForm: empty}))
}

func TestSelectChoice(t *testing.T) {
	s := Start("hi", []string{"Billing", "Technical"})

	msg, err := s.SelectChoice(" Billing ")
	require.NoError(t, err)
	assert.Equal(t, "Billing", msg)

	_, err = s.SelectChoice("Sales")
	assert.ErrorIs(t, err, ErrUnknownChoice)

	idle := Start("hi", nil)
	msg, err = idle.SelectChoice(ContinueLabel)
	require.NoError(t, err)
	assert.Equal(t, ContinueLabel, msg)
	_, err = idle.SelectChoice("Billing")
	assert.ErrorIs(t, err, ErrUnknownChoice)
}

func TestSubmitForm(t *testing.T) {
	s := Start("hi", nil)
	s.Apply(TurnResponse{AssistantMessage: "Details please", RequestedForm: &FormSpec{Fields: []FieldSpec{
		{Name: "account_id", Label: "Account ID", Kind: KindShortText},
		{Name: "plan", Label: "Plan", Kind: KindChoice, Options: []string{"Free", "Pro"}},
		{Name: "urgent", Label: "Urgent", Kind: KindBoolean},
	}}})

	msg, err := s.SubmitForm(map[string]string{"account_id": "12345", "plan": "Pro", "urgent": "true"})
	require.NoError(t, err)
	assert.Equal(t, "Account ID: 12345\nPlan: Pro\nUrgent: yes", msg)

	bad := []map[string]string{
		{"plan": "Pro", "urgent": "true"},
		{"account_id": "  ", "plan": "Pro", "urgent": "true"},
		{"account_id": "1", "plan": "Enterprise", "urgent": "true"},
		{"account_id": "1", "plan": "Pro", "urgent": "maybe"},
	}
	for _, values := range bad {
		_, err := s.SubmitForm(values)
		assert.ErrorIs(t, err, ErrInvalidSubmission)
	}
	assert.Equal(t, PendingForm, s.Pending.Kind)
}

func TestSubmitFormWithoutForm(t *testing.T) {
	s := Start("hi", []string{"a"})
	_, err := s.SubmitForm(map[string]string{"x": "y"})
	assert.ErrorIs(t, err, ErrNoPendingForm)
}

func TestEndedRejectsInput(t *testing.T) {
	s := Start("hi", []string{"a"})
	s.Apply(TurnResponse{AssistantMessage: "bye", Final: true})

	_, err := s.SelectChoice("a")
	assert.ErrorIs(t, err, ErrConversationEnded)
	_, err = s.SubmitForm(map[string]string{})
	assert.ErrorIs(t, err, ErrConversationEnded)
}

func TestFailKeepsPending(t *testing.T) {
	s := Start("hi", []string{"Billing", "Technical"})
	before := s.Pending

	s.AddUser("Billing")
	s.Fail("Something went wrong, please try again.")

	assert.Equal(t, before, s.Pending)
	require.Len(t, s.History, 3)
	last := s.History[2]
	assert.Equal(t, RoleAssistant, last.Role)
	assert.True(t, last.Notice)
}

func TestCloneIsIndependent(t *testing.T) {
	s := Start("hi", []string{"a", "b"})
	c := s.Clone()
	c.AddUser("a")
	c.Pending.Choices[0] = "changed"

	assert.Len(t, s.History, 1)
	assert.Equal(t, "a", s.Pending.Choices[0])
}
