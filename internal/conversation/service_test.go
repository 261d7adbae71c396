package conversation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hospital-intake-chat/internal/config"
	"github.com/wolfman30/hospital-intake-chat/internal/events"
	"github.com/wolfman30/hospital-intake-chat/internal/intake"
	"github.com/wolfman30/hospital-intake-chat/pkg/logging"
)

var testSecrets = config.Secrets{
	GeminiAPIKey:    "key",
	StoreURL:        "postgres://localhost/intake",
	StoreServiceKey: "service-key",
}

type stubLLM struct {
	replies []string
	err     error
	usage   TokenUsage
	calls   []LLMRequest
}

func (s *stubLLM) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	if len(s.replies) == 0 {
		return LLMResponse{Text: "네, 알겠습니다.", Usage: s.usage, StopReason: "STOP"}, nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return LLMResponse{Text: reply, Usage: s.usage, StopReason: "STOP"}, nil
}

// memoryStore is an in-memory SessionRepository with the same version check
// as SessionStore.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionRecord
	events   []events.CanonicalEvent
	loadErr  error
	writeErr error
	writes   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]*SessionRecord{}}
}

func (m *memoryStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	rec, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *rec
	cp.History = append([]TurnRecord(nil), rec.History...)
	return &cp, nil
}

func (m *memoryStore) AppendTurn(ctx context.Context, w TurnWrite) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	rec, ok := m.sessions[w.SessionID]
	current := 0
	if ok {
		current = rec.Version
	}
	if current != w.ExpectedVersion {
		return 0, ErrVersionConflict
	}
	if !ok {
		rec = &SessionRecord{ID: w.SessionID, CreatedAt: w.Turn.Timestamp}
		m.sessions[w.SessionID] = rec
	}
	rec.UserData = w.Data
	rec.Version = current + 1
	turn := w.Turn
	turn.Seq = rec.Version
	rec.History = append(rec.History, turn)
	rec.UpdatedAt = w.Turn.Timestamp
	if w.Event != nil {
		m.events = append(m.events, w.Event)
	}
	return rec.Version, nil
}

type recordingMetrics struct {
	turns        []string
	models       int
	inputTokens  int32
	outputTokens int32
	completed    int
}

func (r *recordingMetrics) ObserveTurn(step, outcome string, seconds float64) {
	r.turns = append(r.turns, step+":"+outcome)
}
func (r *recordingMetrics) ObserveModel(seconds float64, in, out int32) {
	r.models++
	r.inputTokens += in
	r.outputTokens += out
}
func (r *recordingMetrics) ObserveCompleted() { r.completed++ }

func newTestService(llm LLMClient, store SessionRepository, metrics TurnMetrics) *TurnService {
	svc := NewTurnService(TurnServiceConfig{
		Secrets: testSecrets,
		LLM:     llm,
		Store:   store,
		Metrics: metrics,
		Logger:  logging.Default(),
	})
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func runConversation(t *testing.T, svc *TurnService, sessionID string, inputs []string) intake.State {
	t.Helper()
	state := intake.NewState(sessionID)
	for _, input := range inputs {
		next, effect, err := intake.Advance(state, input)
		require.NoError(t, err)
		_, err = svc.HandleTurn(context.Background(), TurnRequestFromEffect(effect))
		require.NoError(t, err)
		state = next
	}
	return state
}

func TestHandleTurn_FullIntake(t *testing.T) {
	llm := &stubLLM{replies: []string{
		"감사합니다, 김철수님. 연락 가능한 전화번호를 알려주세요.",
		"생년월일을 알려주세요.",
		"어디가 불편하신가요?",
		"두통이 있으시군요. 빠른 시간 안에 연락드리겠습니다.",
	}}
	store := newMemoryStore()
	metrics := &recordingMetrics{}
	svc := newTestService(llm, store, metrics)

	state := runConversation(t, svc, "s-1", []string{"김철수", "010-1234-5678", "1990년 1월 1일", "두통이 있어요"})
	assert.True(t, state.Completed())

	rec := store.sessions["s-1"]
	require.NotNil(t, rec)
	assert.Equal(t, intake.UserData{
		PatientName:    "김철수",
		PhoneNumber:    "010-1234-5678",
		BirthDate:      "1990년 1월 1일",
		ChiefComplaint: "두통이 있어요",
	}, rec.UserData)
	assert.Equal(t, 4, rec.Version)
	require.Len(t, rec.History, 4)
	for i, step := range []intake.Step{intake.StepName, intake.StepPhone, intake.StepBirthDate, intake.StepComplaint} {
		assert.Equal(t, step, rec.History[i].Step)
		assert.Equal(t, i+1, rec.History[i].Seq)
	}
	assert.Equal(t, "두통이 있으시군요. 빠른 시간 안에 연락드리겠습니다.", rec.History[3].BotText)

	require.Len(t, store.events, 1)
	evt, ok := store.events[0].(events.IntakeCompletedV1)
	require.True(t, ok)
	assert.Equal(t, "두통이 있어요", evt.ChiefComplaint)
	assert.Equal(t, 4, evt.TurnCount)

	require.Len(t, llm.calls, 4)
	assert.Equal(t, []string{intake.SystemInstruction}, llm.calls[0].System)
	assert.Contains(t, llm.calls[0].Prompt, "Current step: name_step")
	assert.Contains(t, llm.calls[3].Prompt, "Current step: complaint_step")
	assert.Equal(t, 1, metrics.completed)
	assert.Equal(t, 4, metrics.models)
	assert.Equal(t, "complaint_step:ok", metrics.turns[3])
}

func TestHandleTurn_GenerationSettingsAndUsage(t *testing.T) {
	llm := &stubLLM{usage: TokenUsage{InputTokens: 120, OutputTokens: 30, TotalTokens: 150}}
	metrics := &recordingMetrics{}
	var logs bytes.Buffer
	svc := NewTurnService(TurnServiceConfig{
		Secrets:         testSecrets,
		LLM:             llm,
		Store:           newMemoryStore(),
		Metrics:         metrics,
		Logger:          logging.NewWithWriter("info", &logs),
		Temperature:     0.4,
		MaxOutputTokens: 256,
	})

	_, err := svc.HandleTurn(context.Background(), TurnRequest{
		Message:   "김철수",
		SessionID: "s-usage",
		Step:      "name_step",
		UserData:  &intake.UserData{PatientName: "김철수"},
	})
	require.NoError(t, err)

	require.Len(t, llm.calls, 1)
	assert.Equal(t, float32(0.4), llm.calls[0].Temperature)
	assert.Equal(t, int32(256), llm.calls[0].MaxTokens)
	assert.Equal(t, int32(120), metrics.inputTokens)
	assert.Equal(t, int32(30), metrics.outputTokens)

	out := logs.String()
	assert.Contains(t, out, `"msg":"model replied"`)
	assert.Contains(t, out, `"stop_reason":"STOP"`)
	assert.Contains(t, out, `"output_tokens":30`)
	assert.NotContains(t, out, "김철수")
}

func TestHandleTurn_WritesPayloadFields(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(&stubLLM{}, store, nil)

	_, err := svc.HandleTurn(context.Background(), TurnRequest{
		Message:   "010-9999-8888",
		SessionID: "s-2",
		Step:      "phone_step",
		UserData:  &intake.UserData{PatientName: "이영희", PhoneNumber: "010-9999-8888"},
	})
	require.NoError(t, err)
	assert.Equal(t, "이영희", store.sessions["s-2"].PatientName)
	assert.Equal(t, "010-9999-8888", store.sessions["s-2"].PhoneNumber)
	assert.Empty(t, store.events)
}

func TestHandleTurn_MissingSecrets(t *testing.T) {
	llm := &stubLLM{}
	svc := NewTurnService(TurnServiceConfig{Secrets: config.Secrets{GeminiAPIKey: "k"}})

	_, err := svc.HandleTurn(context.Background(), TurnRequest{Message: "a", SessionID: "s", Step: "name_step", UserData: &intake.UserData{}})
	require.Error(t, err)
	assert.Equal(t, KindConfig, KindOf(err))
	assert.ErrorIs(t, err, config.ErrMissingSecrets)
	assert.Equal(t, "Server configuration error: Required environment variables (STORE_URL, STORE_SERVICE_KEY) are missing.", err.Error())
	assert.Empty(t, llm.calls)
}

func TestHandleTurn_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		req  TurnRequest
		want error
	}{
		{"missing message", TurnRequest{SessionID: "s", Step: "name_step", UserData: &intake.UserData{}}, ErrMissingField},
		{"blank message", TurnRequest{Message: "   ", SessionID: "s", Step: "name_step", UserData: &intake.UserData{}}, ErrMissingField},
		{"missing session", TurnRequest{Message: "a", Step: "name_step", UserData: &intake.UserData{}}, ErrMissingField},
		{"missing step", TurnRequest{Message: "a", SessionID: "s", UserData: &intake.UserData{}}, ErrMissingField},
		{"missing user data", TurnRequest{Message: "a", SessionID: "s", Step: "name_step"}, ErrMissingField},
		{"unknown step", TurnRequest{Message: "a", SessionID: "s", Step: "email_step", UserData: &intake.UserData{}}, intake.ErrUnknownStep},
		{"completed step", TurnRequest{Message: "a", SessionID: "s", Step: "completed", UserData: &intake.UserData{}}, intake.ErrCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{}
			store := newMemoryStore()
			svc := newTestService(llm, store, nil)

			_, err := svc.HandleTurn(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindValidation, KindOf(err))
			assert.Empty(t, llm.calls)
			assert.Zero(t, store.writes)
		})
	}
}

func TestHandleTurn_MissingFieldMessage(t *testing.T) {
	svc := newTestService(&stubLLM{}, newMemoryStore(), nil)
	_, err := svc.HandleTurn(context.Background(), TurnRequest{SessionID: "s"})
	assert.EqualError(t, err, "Invalid request: Missing 'message', 'sessionId', 'step', or 'userData'.")
}

func TestHandleTurn_ModelFailureWritesNothing(t *testing.T) {
	store := newMemoryStore()
	metrics := &recordingMetrics{}
	svc := newTestService(&stubLLM{err: errors.New("quota exceeded")}, store, metrics)

	_, err := svc.HandleTurn(context.Background(), TurnRequest{Message: "김철수", SessionID: "s", Step: "name_step", UserData: &intake.UserData{PatientName: "김철수"}})
	require.Error(t, err)
	assert.Equal(t, KindModel, KindOf(err))
	assert.Contains(t, err.Error(), "Gemini API request failed")
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Zero(t, store.writes)
	assert.Equal(t, []string{"name_step:model"}, metrics.turns)
}

func TestHandleTurn_EmptyCompletionWritesNothing(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(&stubLLM{replies: []string{"   "}}, store, nil)

	_, err := svc.HandleTurn(context.Background(), TurnRequest{Message: "김철수", SessionID: "s", Step: "name_step", UserData: &intake.UserData{PatientName: "김철수"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
	assert.Equal(t, "Received an empty response from Gemini API.", err.Error())
	assert.Zero(t, store.writes)
}

func TestHandleTurn_ReadFailureWritesNothing(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("permission denied")
	svc := newTestService(&stubLLM{}, store, nil)

	_, err := svc.HandleTurn(context.Background(), TurnRequest{Message: "김철수", SessionID: "s", Step: "name_step", UserData: &intake.UserData{PatientName: "김철수"}})
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Contains(t, err.Error(), "permission denied")
	assert.Zero(t, store.writes)
}

func TestHandleTurn_WriteFailure(t *testing.T) {
	store := newMemoryStore()
	store.writeErr = errors.New("disk full")
	svc := newTestService(&stubLLM{}, store, nil)

	_, err := svc.HandleTurn(context.Background(), TurnRequest{Message: "김철수", SessionID: "s", Step: "name_step", UserData: &intake.UserData{PatientName: "김철수"}})
	require.Error(t, err)
	assert.Equal(t, KindStore, KindOf(err))
	assert.Contains(t, err.Error(), "Failed to save session")
}

type racingStore struct {
	*memoryStore
}

// Load reports a stale version, as if another turn committed in between.
func (r racingStore) Load(ctx context.Context, sessionID string) (*SessionRecord, error) {
	rec, err := r.memoryStore.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rec.Version--
	return rec, nil
}

func TestHandleTurn_VersionConflict(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(&stubLLM{}, store, nil)
	runConversation(t, svc, "s-1", []string{"김철수"})

	racing := newTestService(&stubLLM{}, racingStore{store}, nil)
	_, err := racing.HandleTurn(context.Background(), TurnRequest{Message: "010", SessionID: "s-1", Step: "phone_step", UserData: &intake.UserData{PatientName: "김철수", PhoneNumber: "010"}})
	require.Error(t, err)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, store.sessions["s-1"].Version)
	assert.Empty(t, store.sessions["s-1"].PhoneNumber)
}

func TestHandleTurn_TurnInProgress(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewTurnLock(client, time.Minute)
	store := newMemoryStore()

	svc := NewTurnService(TurnServiceConfig{Secrets: testSecrets, LLM: &stubLLM{}, Store: store, Lock: lock})

	held, err := lock.Acquire(context.Background(), "s-1")
	require.NoError(t, err)

	req := TurnRequest{Message: "김철수", SessionID: "s-1", Step: "name_step", UserData: &intake.UserData{PatientName: "김철수"}}
	_, err = svc.HandleTurn(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Zero(t, store.writes)

	held()
	_, err = svc.HandleTurn(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, mr.Exists("intake:turn_lock:s-1"))
}

func TestHandleTurn_RetryAfterFailure(t *testing.T) {
	store := newMemoryStore()
	llm := &stubLLM{err: errors.New("timeout")}
	svc := newTestService(llm, store, nil)

	state := intake.NewState("s-1")
	next, effect, err := intake.Advance(state, "김철수")
	require.NoError(t, err)
	_, err = svc.HandleTurn(context.Background(), TurnRequestFromEffect(effect))
	require.Error(t, err)

	// The client keeps its prior state and resends the same step.
	llm.err = nil
	_, effect, err = intake.Advance(state, "김철수")
	require.NoError(t, err)
	_, err = svc.HandleTurn(context.Background(), TurnRequestFromEffect(effect))
	require.NoError(t, err)
	assert.Equal(t, intake.StepPhone, next.Step)
	assert.Equal(t, 1, store.sessions["s-1"].Version)
}
