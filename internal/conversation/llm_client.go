package conversation

import "context"

// TokenUsage is what the provider billed for one call.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is a one-shot completion: system instructions plus a single user prompt.
// Zero MaxTokens or Temperature keeps the model default.
type LLMRequest struct {
	System      []string
	Prompt      string
	MaxTokens   int32
	Temperature float32
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
