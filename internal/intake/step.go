// Package intake holds the appointment intake conversation: the fixed step
// sequence, the collected patient record, and the pure transition between them.
package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStep is returned when a step literal is not one of the five known values.
var ErrUnknownStep = errors.New("intake: unknown step")

// Step is one position in the intake sequence. The zero value is invalid.
type Step int

const (
	StepName Step = iota + 1
	StepPhone
	StepBirthDate
	StepComplaint
	StepCompleted
)

// Steps lists every step in order, terminal state last.
var Steps = []Step{StepName, StepPhone, StepBirthDate, StepComplaint, StepCompleted}

// ParseStep maps a wire literal onto a Step.
func ParseStep(raw string) (Step, error) {
	switch strings.TrimSpace(raw) {
	case "name_step":
		return StepName, nil
	case "phone_step":
		return StepPhone, nil
	case "birth_step":
		return StepBirthDate, nil
	case "complaint_step":
		return StepComplaint, nil
	case "completed":
		return StepCompleted, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStep, raw)
}

// String returns the wire literal.
func (s Step) String() string {
	switch s {
	case StepName:
		return "name_step"
	case StepPhone:
		return "phone_step"
	case StepBirthDate:
		return "birth_step"
	case StepComplaint:
		return "complaint_step"
	case StepCompleted:
		return "completed"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	return s >= StepName && s <= StepCompleted
}

// Collecting reports whether a user turn may be taken at s.
func (s Step) Collecting() bool {
	return s >= StepName && s < StepCompleted
}

// Next returns the following step. COMPLETED is terminal and returns itself.
func (s Step) Next() Step {
	if !s.Collecting() {
		return s
	}
	return s + 1
}

// MarshalJSON encodes the wire literal.
func (s Step) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStep, int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a wire literal, rejecting unknown values.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("intake: step must be a string: %w", err)
	}
	parsed, err := ParseStep(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
