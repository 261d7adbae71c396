package intake

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrEmptyInput is returned for blank user input; the state is unchanged.
	ErrEmptyInput = errors.New("intake: input is empty")
	// ErrCompleted is returned for input after the last step; the state is unchanged.
	ErrCompleted = errors.New("intake: intake already completed")
)

// Origin identifies who wrote a chat message.
type Origin string

const (
	OriginUser Origin = "user"
	OriginBot  Origin = "bot"
)

// Message is one entry in the chat log shown to the patient.
type Message struct {
	Origin    Origin    `json:"origin"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserData is the collected patient record, one field per step.
type UserData struct {
	PatientName    string `json:"patient_name"`
	PhoneNumber    string `json:"phone_number"`
	BirthDate      string `json:"birth_date"`
	ChiefComplaint string `json:"chief_complaint"`
}

// With returns a copy of d with the field owned by step set to value.
// Steps that own no field return d unchanged.
func (d UserData) With(step Step, value string) UserData {
	switch step {
	case StepName:
		d.PatientName = value
	case StepPhone:
		d.PhoneNumber = value
	case StepBirthDate:
		d.BirthDate = value
	case StepComplaint:
		d.ChiefComplaint = value
	case StepCompleted:
	}
	return d
}

// Field returns the value stored for step.
func (d UserData) Field(step Step) string {
	switch step {
	case StepName:
		return d.PatientName
	case StepPhone:
		return d.PhoneNumber
	case StepBirthDate:
		return d.BirthDate
	case StepComplaint:
		return d.ChiefComplaint
	}
	return ""
}

// State is the client's view of one intake conversation. It is a value: every
// transition returns a new State.
type State struct {
	SessionID string
	Step      Step
	Data      UserData
}

// NewState starts a conversation at the first step.
func NewState(sessionID string) State {
	return State{SessionID: sessionID, Step: StepName}
}

// Completed reports whether every field has been collected.
func (s State) Completed() bool {
	return s.Step == StepCompleted
}

// TurnEffect describes the remote call a transition requires. Step is the
// step active when the input was given; Data already includes the input.
type TurnEffect struct {
	SessionID string
	Step      Step
	Message   string
	Data      UserData
}

// Advance applies one user input to s. It returns the prospective next state
// and the remote effect needed to commit it. The caller commits next only
// after the effect succeeds; on error s is to be kept as is.
func Advance(s State, input string) (State, TurnEffect, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return s, TurnEffect{}, ErrEmptyInput
	}
	if !s.Step.Collecting() {
		return s, TurnEffect{}, ErrCompleted
	}

	data := s.Data.With(s.Step, text)
	next := State{
		SessionID: s.SessionID,
		Step:      s.Step.Next(),
		Data:      data,
	}
	effect := TurnEffect{
		SessionID: s.SessionID,
		Step:      s.Step,
		Message:   text,
		Data:      data,
	}
	return next, effect, nil
}
