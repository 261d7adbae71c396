package intake

import (
	"fmt"
	"strings"
)

// Prompt text lives here so it can be tuned without touching the turn logic.

const (
	// Greeting opens every new chat.
	Greeting = "안녕하세요! 병원 예약 챗봇입니다. 예약을 위해 먼저 성함을 알려주시겠어요?"

	// SystemInstruction is sent with every model call.
	SystemInstruction = "You are a friendly hospital appointment assistant. Always reply in Korean."

	// ClosingLine must end the final reply.
	ClosingLine = "빠른 시간 안에 연락드리겠습니다."
)

// Instruction returns the model instruction for a turn taken at step. The
// second result is false for steps that accept no turn.
func Instruction(step Step) (string, bool) {
	switch step {
	case StepName:
		return "You received the user's name. Now, ask for a contact phone number.", true
	case StepPhone:
		return "You received the phone number. Now, ask for their date of birth (e.g., 1990-01-01).", true
	case StepBirthDate:
		return "You received the date of birth. Now, ask for the reason for their visit (chief complaint) in detail.", true
	case StepComplaint:
		return fmt.Sprintf("You received the reason for the visit. Thank them kindly and end the conversation by saying, %q.", ClosingLine), true
	case StepCompleted:
		return "", false
	}
	return "", false
}

// UserPrompt builds the per-turn prompt for step and the user's message.
func UserPrompt(step Step, message string) (string, error) {
	instruction, ok := Instruction(step)
	if !ok {
		return "", fmt.Errorf("%w: no turn is taken at %s", ErrUnknownStep, step)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current step: %s\n", step)
	fmt.Fprintf(&b, "User's message: %q\n\n", message)
	b.WriteString("Your instruction for this step:\n")
	b.WriteString(instruction)
	return b.String(), nil
}
