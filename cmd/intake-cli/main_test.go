package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/hospital-intake-chat/internal/chatclient"
	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
)

type scriptedTurner struct {
	replies []string
	failAt  int
	calls   int
}

func (s *scriptedTurner) Turn(_ context.Context, _ conversation.TurnRequest) (string, error) {
	s.calls++
	if s.calls == s.failAt {
		return "", &chatclient.TurnFailure{Status: 500, Detail: "Edge Function failed: boom"}
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func TestRun_CompletesIntake(t *testing.T) {
	turner := &scriptedTurner{replies: []string{"전화번호?", "생년월일?", "증상?", "빠른 시간 안에 연락드리겠습니다."}}
	session := chatclient.NewSession(turner)
	in := strings.NewReader("김철수\n\n010-1234-5678\n19900101\n두통\n남은 입력\n")
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), session, in, &out))

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "=== 병원 예약 챗봇 ===\n"))
	assert.Contains(t, text, "챗봇: 안녕하세요! 병원 예약 챗봇입니다.")
	assert.Contains(t, text, "[메시지를 입력하세요...] > ")
	assert.Contains(t, text, "챗봇: 빠른 시간 안에 연락드리겠습니다.")
	assert.True(t, strings.HasSuffix(text, "(상담이 종료되었습니다.)\n"))
	assert.Equal(t, 4, turner.calls)
	assert.Equal(t, "두통", session.State().Data.ChiefComplaint)
}

func TestRun_FailedTurnRepeatsStep(t *testing.T) {
	turner := &scriptedTurner{replies: []string{"전화번호?"}, failAt: 1}
	session := chatclient.NewSession(turner)
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), session, strings.NewReader("김철수\n김철수\n"), &out))

	assert.Contains(t, out.String(), "챗봇: 죄송합니다, 시스템에 오류가 발생했습니다.")
	assert.Contains(t, out.String(), "챗봇: 전화번호?")
	assert.Equal(t, "김철수", session.State().Data.PatientName)
	assert.False(t, session.State().Completed())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stdin closed") }

func TestRun_InputError(t *testing.T) {
	session := chatclient.NewSession(&scriptedTurner{})
	err := run(context.Background(), session, failingReader{}, &bytes.Buffer{})
	require.Error(t, err)
}
