package chatclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
	"github.com/wolfman30/hospital-intake-chat/internal/intake"
)

// Input hints for an open and a finished chat.
const (
	InputPlaceholder  = "메시지를 입력하세요..."
	ClosedPlaceholder = "상담이 종료되었습니다."
)

const (
	unknownErrorDetail = "알 수 없는 오류가 발생했습니다."
	emptyReplyText     = "응답을 받지 못했습니다. 다시 시도해주세요."
)

// ErrTurnInFlight is returned when Send is called while a turn is pending.
var ErrTurnInFlight = errors.New("chatclient: a turn is already in flight")

// Turner sends one turn to the server.
type Turner interface {
	Turn(ctx context.Context, req conversation.TurnRequest) (string, error)
}

// Session is one patient's chat: the intake state plus the visible log. Only
// one turn may be in flight at a time.
type Session struct {
	turner Turner
	now    func() time.Time

	mu    sync.Mutex
	state intake.State
	log   []intake.Message
	busy  bool
}

// NewSession starts a chat with a fresh session id and the greeting.
func NewSession(turner Turner) *Session {
	s := &Session{
		turner: turner,
		now:    time.Now,
		state:  intake.NewState(uuid.NewString()),
	}
	s.log = []intake.Message{{Origin: intake.OriginBot, Text: intake.Greeting, Timestamp: s.now()}}
	return s
}

// State returns the committed intake state.
func (s *Session) State() intake.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Log returns a copy of the visible messages.
func (s *Session) Log() []intake.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]intake.Message(nil), s.log...)
}

// Busy reports whether a turn is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Placeholder is the input hint for the current state.
func (s *Session) Placeholder() string {
	if s.State().Completed() {
		return ClosedPlaceholder
	}
	return InputPlaceholder
}

// Send submits input. Blank input and input after completion are ignored
// with their intake errors. On success the next state is committed and the
// reply is appended. On failure an apology is appended, the state is kept,
// and the error is returned so the same step can be answered again.
func (s *Session) Send(ctx context.Context, input string) (intake.Message, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return intake.Message{}, ErrTurnInFlight
	}
	next, effect, err := intake.Advance(s.state, input)
	if err != nil {
		s.mu.Unlock()
		return intake.Message{}, err
	}
	s.log = append(s.log, intake.Message{Origin: intake.OriginUser, Text: effect.Message, Timestamp: s.now()})
	s.busy = true
	s.mu.Unlock()

	reply, turnErr := s.turner.Turn(ctx, conversation.TurnRequestFromEffect(effect))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false

	var bot intake.Message
	if turnErr != nil {
		bot = intake.Message{
			Origin:    intake.OriginBot,
			Text:      "죄송합니다, 시스템에 오류가 발생했습니다. (오류: " + errorDetail(turnErr) + ")",
			Timestamp: s.now(),
		}
		s.log = append(s.log, bot)
		return bot, turnErr
	}

	s.state = next
	if reply == "" {
		reply = emptyReplyText
	}
	bot = intake.Message{Origin: intake.OriginBot, Text: reply, Timestamp: s.now()}
	s.log = append(s.log, bot)
	return bot, nil
}
