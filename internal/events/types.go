package events

import "time"

// IntakeCompletedV1 is emitted when the last intake field has been stored.
type IntakeCompletedV1 struct {
	SessionID      string    `json:"session_id"`
	PatientName    string    `json:"patient_name"`
	PhoneNumber    string    `json:"phone_number"`
	BirthDate      string    `json:"birth_date"`
	ChiefComplaint string    `json:"chief_complaint"`
	TurnCount      int       `json:"turn_count"`
	CompletedAt    time.Time `json:"completed_at"`
}

func (IntakeCompletedV1) EventType() string { return "intake.completed.v1" }

// SessionAggregate names the aggregate an intake session's events belong to.
func SessionAggregate(sessionID string) string {
	return "intake_session:" + sessionID
}
