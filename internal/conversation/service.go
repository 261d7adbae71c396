package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/events"
	"github.com/wolfman30/hospital-intake-chat/internal/intake"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

// TurnRequest is the body the chat UI posts for every user message.
type TurnRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId"`
	Step      string           `json:"step"`
	UserData  *intake.UserData `json:"userData"`
}

// TurnRequestFromEffect builds the wire request for a client-side transition.
func TurnRequestFromEffect(effect intake.TurnEffect) TurnRequest {
	data := effect.Data
	return TurnRequest{
		Message:   effect.Message,
		SessionID: effect.SessionID,
		Step:      effect.Step.String(),
		UserData:  &data,
	}
}

// SessionRepository is the row store a turn reads from and writes to.
type SessionRepository interface {
	Load(ctx context.Context, sessionID string) (*SessionRecord, error)
	AppendTurn(ctx context.Context, w TurnWrite) (int, error)
}

// TurnLocker guards against two in-flight turns for one session.
type TurnLocker interface {
	Acquire(ctx context.Context, sessionID string) (func(), error)
}

// TurnMetrics records turn outcomes.
type TurnMetrics interface {
	ObserveTurn(step, outcome string, seconds float64)
	ObserveModel(seconds float64, inputTokens, outputTokens int32)
	ObserveCompleted()
}

// TurnServiceConfig wires a TurnService. Secrets are checked on every turn;
// LLM and Store may be nil when the secrets are missing.
type TurnServiceConfig struct {
	Secrets config.Secrets
	LLM     LLMClient
	Store   SessionRepository
	Lock    TurnLocker
	Metrics TurnMetrics
	Logger  *logging.Logger

	// Generation settings forwarded on every model call.
	Temperature     float32
	MaxOutputTokens int32
}

// TurnService runs one intake turn: prompt, model call, and persistence.
type TurnService struct {
	secrets config.Secrets
	llm     LLMClient
	store   SessionRepository
	lock    TurnLocker
	metrics TurnMetrics
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time

	temperature     float32
	maxOutputTokens int32
}

// NewTurnService creates a turn service.
func NewTurnService(cfg TurnServiceConfig) *TurnService {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TurnService{
		secrets: cfg.Secrets,
		llm:     cfg.LLM,
		store:   cfg.Store,
		lock:    cfg.Lock,
		metrics: cfg.Metrics,
		logger:  logger,
		tracer:  otel.Tracer("intake.internal.conversation.service"),
		now:     time.Now,

		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
	}
}

type correlationKey struct{}

// WithCorrelationID attaches a request id that is copied onto outbox events.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// HandleTurn runs the turn steps in order and returns the generated reply.
// Any failure is a *TurnError and nothing is written.
func (s *TurnService) HandleTurn(ctx context.Context, req TurnRequest) (reply string, err error) {
	start := s.now()
	stepLabel := "unknown"
	if parsed, perr := intake.ParseStep(req.Step); perr == nil {
		stepLabel = parsed.String()
	}

	ctx, span := s.tracer.Start(ctx, "conversation.turn",
		trace.WithAttributes(attribute.String("session_id", req.SessionID), attribute.String("step", stepLabel)))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			span.SetStatus(codes.Error, outcome)
			span.RecordError(err)
		}
		span.End()
		if s.metrics != nil {
			s.metrics.ObserveTurn(stepLabel, outcome, s.now().Sub(start).Seconds())
		}
	}()

	if err := s.secrets.Validate(); err != nil {
		missing := s.secrets.Missing()
		s.logger.Error("CRITICAL: one or more environment variables are missing", "missing", missing)
		return "", newTurnError(KindConfig, err, "Server configuration error: Required environment variables (%s) are missing.", strings.Join(missing, ", "))
	}

	step, err := validateRequest(req)
	if err != nil {
		return "", err
	}
	logger := s.logger.With("session_id", req.SessionID, "step", step.String())
	logger.Info("turn received")

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx, req.SessionID)
		if err != nil {
			if errors.Is(err, ErrTurnInProgress) {
				return "", newTurnError(KindConflict, err, "A previous message for this session is still being processed.")
			}
			return "", newTurnError(KindStore, err, "Failed to lock session: %v", err)
		}
		defer release()
	}

	reply, err = s.generate(ctx, logger, step, req.Message)
	if err != nil {
		logger.Error("model call failed", "error", err)
		return "", err
	}

	prior, err := s.store.Load(ctx, req.SessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		prior = &SessionRecord{ID: req.SessionID}
	case err != nil:
		logger.Error("session lookup failed", "error", err)
		return "", newTurnError(KindStore, err, "Failed to read session history: %v", err)
	}

	now := s.now().UTC()
	write := TurnWrite{
		SessionID:       req.SessionID,
		ExpectedVersion: prior.Version,
		Data:            *req.UserData,
		Turn: TurnRecord{
			Seq:       prior.Version + 1,
			Step:      step,
			UserText:  req.Message,
			BotText:   reply,
			Timestamp: now,
		},
		CorrelationID: correlationID(ctx),
	}
	if step.Next() == intake.StepCompleted {
		write.Event = events.IntakeCompletedV1{
			SessionID:      req.SessionID,
			PatientName:    req.UserData.PatientName,
			PhoneNumber:    req.UserData.PhoneNumber,
			BirthDate:      req.UserData.BirthDate,
			ChiefComplaint: req.UserData.ChiefComplaint,
			TurnCount:      prior.Version + 1,
			CompletedAt:    now,
		}
	}

	version, err := s.store.AppendTurn(ctx, write)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			logger.Warn("turn lost version race", "expected_version", prior.Version)
			return "", newTurnError(KindConflict, err, "Session was updated by another request; please resend.")
		}
		logger.Error("session write failed", "error", err)
		return "", newTurnError(KindStore, err, "Failed to save session: %v", err)
	}

	if write.Event != nil && s.metrics != nil {
		s.metrics.ObserveCompleted()
	}
	logger.Info("turn saved", "version", version, "reply_length", len(reply))
	return reply, nil
}

func validateRequest(req TurnRequest) (intake.Step, error) {
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Step) == "" || req.UserData == nil {
		return 0, newTurnError(KindValidation, ErrMissingField, "Invalid request: Missing 'message', 'sessionId', 'step', or 'userData'.")
	}
	step, err := intake.ParseStep(req.Step)
	if err != nil {
		return 0, newTurnError(KindValidation, err, "Invalid request: unknown step %q.", req.Step)
	}
	if !step.Collecting() {
		return 0, newTurnError(KindValidation, intake.ErrCompleted, "Invalid request: intake is already completed.")
	}
	return step, nil
}

func (s *TurnService) generate(ctx context.Context, logger *logging.Logger, step intake.Step, message string) (string, error) {
	prompt, err := intake.UserPrompt(step, message)
	if err != nil {
		return "", newTurnError(KindValidation, err, "Invalid request: %v", err)
	}

	started := s.now()
	resp, err := s.llm.Complete(ctx, LLMRequest{
		System:      []string{intake.SystemInstruction},
		Prompt:      prompt,
		MaxTokens:   s.maxOutputTokens,
		Temperature: s.temperature,
	})
	if s.metrics != nil {
		s.metrics.ObserveModel(s.now().Sub(started).Seconds(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	if err != nil {
		return "", newTurnError(KindModel, err, "Gemini API request failed: %v", err)
	}
	logger.Info("model replied",
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", newTurnError(KindModel, ErrEmptyCompletion, "Received an empty response from Gemini API.")
	}
	return text, nil
}
