package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// CanonicalEvent is a versioned domain event; its type string ends in ".vN".
type CanonicalEvent interface {
	EventType() string
}

// Envelope is the outbox payload: the event plus where and when it happened.
type Envelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	EventType     string          `json:"event_type"`
	Aggregate     string          `json:"aggregate"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

var (
	errMissingAggregate = errors.New("events: aggregate is required")
	errNilEvent         = errors.New("events: canonical event required")
	errMissingType      = errors.New("events: event type missing")

	newEventID = uuid.New
)

// NewEnvelope wraps evt for aggregate. A zero occurredAt means now.
func NewEnvelope(aggregate, correlationID string, evt CanonicalEvent, occurredAt time.Time) (Envelope, error) {
	aggregate = strings.TrimSpace(aggregate)
	switch {
	case aggregate == "":
		return Envelope{}, errMissingAggregate
	case evt == nil:
		return Envelope{}, errNilEvent
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		return Envelope{}, errMissingType
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Envelope{
		EventID:       newEventID(),
		EventType:     eventType,
		Aggregate:     aggregate,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: strings.TrimSpace(correlationID),
		Payload:       payload,
	}, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppendEnvelope inserts env into the outbox through exec, which should be
// the transaction that wrote the state change the event describes.
func AppendEnvelope(ctx context.Context, exec execer, env Envelope) error {
	if exec == nil {
		return fmt.Errorf("events: exec required")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	if _, err := exec.Exec(ctx, `
		INSERT INTO outbox (id, aggregate, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, env.EventID, env.Aggregate, env.EventType, data); err != nil {
		return fmt.Errorf("events: append %s: %w", env.EventType, err)
	}
	return nil
}

// DecodeEnvelope parses an outbox payload. When out is non-nil the envelope
// must carry out's event type and its payload is unmarshalled into out.
func DecodeEnvelope(data []byte, out CanonicalEvent) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	if out == nil {
		return env, nil
	}
	if want := out.EventType(); env.EventType != want {
		return env, fmt.Errorf("events: envelope type %q, want %q", env.EventType, want)
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return env, fmt.Errorf("events: decode %s payload: %w", env.EventType, err)
	}
	return env, nil
}
