package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-intake-chat/internal/events"
	"github.com/wolfman30/hospital-intake-chat/internal/intake"
)

// TurnRecord is one stored turn of a session's history.
type TurnRecord struct {
	Seq       int         `json:"seq"`
	Step      intake.Step `json:"step"`
	UserText  string      `json:"user_text"`
	BotText   string      `json:"bot_text"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionRecord is the stored view of a session: the collected record plus
// its ordered turn history. Version counts committed turns.
type SessionRecord struct {
	ID string `json:"id"`
	intake.UserData
	Version   int          `json:"version"`
	History   []TurnRecord `json:"chat_history"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// TurnWrite is everything one committed turn persists.
type TurnWrite struct {
	SessionID       string
	ExpectedVersion int
	Data            intake.UserData
	Turn            TurnRecord
	// Event, when set, is appended to the outbox in the same transaction.
	Event         events.CanonicalEvent
	CorrelationID string
}

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// SessionStore persists intake sessions to Postgres as a session row plus an
// append-only turn log keyed by (session_id, seq).
type SessionStore struct {
	db     pgxDB
	tracer trace.Tracer
}

// NewSessionStore creates a store backed by pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	if pool == nil {
		panic("conversation: pgx pool required")
	}
	return newSessionStoreWithDB(pool)
}

func newSessionStoreWithDB(db pgxDB) *SessionStore {
	return &SessionStore{
		db:     db,
		tracer: otel.Tracer("intake.internal.conversation.session_store"),
	}
}

// Load returns the session row and its turns. A missing row yields ErrSessionNotFound.
func (s *SessionStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_store.load",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	rec := SessionRecord{ID: sessionID}
	err := s.db.QueryRow(ctx, `
		SELECT patient_name, phone_number, birth_date, chief_complaint, version, created_at, updated_at
		FROM intake_sessions
		WHERE id = $1
	`, sessionID).Scan(
		&rec.PatientName,
		&rec.PhoneNumber,
		&rec.BirthDate,
		&rec.ChiefComplaint,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: load session: %w", err)
	}

	history, err := s.loadTurns(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	rec.History = history
	return &rec, nil
}

func (s *SessionStore) loadTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, step, user_text, bot_text, created_at
		FROM intake_turns
		WHERE session_id = $1
		ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load turns: %w", err)
	}
	defer rows.Close()

	history := []TurnRecord{}
	for rows.Next() {
		var (
			turn TurnRecord
			step string
		)
		if err := rows.Scan(&turn.Seq, &step, &turn.UserText, &turn.BotText, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		parsed, err := intake.ParseStep(step)
		if err != nil {
			return nil, fmt.Errorf("conversation: turn %d: %w", turn.Seq, err)
		}
		turn.Step = parsed
		history = append(history, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: iterate turns: %w", err)
	}
	return history, nil
}

// AppendTurn commits one turn. The session row is written only if its version
// still equals w.ExpectedVersion; otherwise ErrVersionConflict is returned and
// nothing is written. It returns the new version.
func (s *SessionStore) AppendTurn(ctx context.Context, w TurnWrite) (version int, err error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_store.append_turn",
		trace.WithAttributes(
			attribute.String("session_id", w.SessionID),
			attribute.Int("expected_version", w.ExpectedVersion),
		))
	defer func() {
		if err != nil && !errors.Is(err, ErrVersionConflict) {
			span.RecordError(err)
		}
		span.End()
	}()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("conversation: begin turn tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	ts := w.Turn.Timestamp.UTC()
	var ct pgconn.CommandTag
	if w.ExpectedVersion == 0 {
		ct, err = tx.Exec(ctx, `
			INSERT INTO intake_sessions (id, patient_name, phone_number, birth_date, chief_complaint, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
			ON CONFLICT (id) DO NOTHING
		`, w.SessionID, w.Data.PatientName, w.Data.PhoneNumber, w.Data.BirthDate, w.Data.ChiefComplaint, ts)
	} else {
		ct, err = tx.Exec(ctx, `
			UPDATE intake_sessions
			SET patient_name = $2, phone_number = $3, birth_date = $4, chief_complaint = $5,
				version = version + 1, updated_at = $6
			WHERE id = $1 AND version = $7
		`, w.SessionID, w.Data.PatientName, w.Data.PhoneNumber, w.Data.BirthDate, w.Data.ChiefComplaint, ts, w.ExpectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("conversation: write session: %w", err)
	}
	if ct.RowsAffected() != 1 {
		err = ErrVersionConflict
		return 0, err
	}

	version = w.ExpectedVersion + 1
	_, err = tx.Exec(ctx, `
		INSERT INTO intake_turns (session_id, seq, step, user_text, bot_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, w.SessionID, version, w.Turn.Step.String(), w.Turn.UserText, w.Turn.BotText, ts)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = ErrVersionConflict
			return 0, err
		}
		return 0, fmt.Errorf("conversation: insert turn: %w", err)
	}

	if w.Event != nil {
		var env events.Envelope
		env, err = events.NewEnvelope(events.SessionAggregate(w.SessionID), w.CorrelationID, w.Event, ts)
		if err != nil {
			return 0, err
		}
		if err = events.AppendEnvelope(ctx, tx, env); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("conversation: commit turn: %w", err)
	}
	return version, nil
}

// SessionSummary is a list entry for the staff viewer.
type SessionSummary struct {
	ID string `json:"id"`
	intake.UserData
	Version   int       `json:"version"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListRecent returns the most recently updated sessions, newest first.
func (s *SessionStore) ListRecent(ctx context.Context, limit int) ([]SessionSummary, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.session_store.list_recent")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, patient_name, phone_number, birth_date, chief_complaint, version, updated_at
		FROM intake_sessions
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("conversation: list sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionSummary{}
	for rows.Next() {
		var sum SessionSummary
		if err := rows.Scan(&sum.ID, &sum.PatientName, &sum.PhoneNumber, &sum.BirthDate, &sum.ChiefComplaint, &sum.Version, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan session: %w", err)
		}
		sum.Completed = sum.ChiefComplaint != ""
		out = append(out, sum)
	}
	return out, rows.Err()
}
