package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField is returned when a turn request lacks a required field.
	ErrMissingField = errors.New("conversation: missing request field")
	// ErrEmptyCompletion is returned when the model produced no text.
	ErrEmptyCompletion = errors.New("conversation: empty completion")
	// ErrSessionNotFound is returned by stores when no row exists for a session.
	ErrSessionNotFound = errors.New("conversation: session not found")
	// ErrVersionConflict is returned when another turn for the session committed first.
	ErrVersionConflict = errors.New("conversation: session version conflict")
	// ErrTurnInProgress is returned when a turn for the session is already running.
	ErrTurnInProgress = errors.New("conversation: turn already in progress")
)

// ErrorKind classifies turn failures for logs and metrics. Every kind maps to
// the same HTTP 500 envelope.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindValidation ErrorKind = "validation"
	KindModel      ErrorKind = "model"
	KindStore      ErrorKind = "store"
	KindConflict   ErrorKind = "conflict"
)

// TurnError carries the failure kind, a message safe to show the client, and the cause.
type TurnError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind) + " error"
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

func newTurnError(kind ErrorKind, err error, format string, args ...any) *TurnError {
	return &TurnError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindStore for unclassified errors.
func KindOf(err error) ErrorKind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindStore
}
