package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/hospital-intake-chat/internal/conversation"
)

const turnPath = "/functions/v1/chat-handler"

// TurnFailure is a non-2xx turn response. Detail is the server's error
// message when the body carried one.
type TurnFailure struct {
	Status int
	Detail string
}

func (e *TurnFailure) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("turn failed with status %d", e.Status)
}

// Client posts turns to the chat function.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. A nil httpClient
// gets a 60s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Turn sends one turn and returns the reply text. The call is made once;
// failures are returned to the caller.
func (c *Client) Turn(ctx context.Context, req conversation.TurnRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("chatclient: encode turn: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+turnPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chatclient: post turn: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("chatclient: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		failure := &TurnFailure{Status: resp.StatusCode}
		var env conversation.ErrorResponse
		if json.Unmarshal(raw, &env) == nil {
			failure.Detail = env.Error
		}
		return "", failure
	}

	var ok conversation.TurnResponse
	if err := json.Unmarshal(raw, &ok); err != nil {
		return "", fmt.Errorf("chatclient: decode response: %w", err)
	}
	return ok.Response, nil
}

// errorDetail picks the text shown inside the apology message: the server's
// error envelope when present, otherwise the raw failure text.
func errorDetail(err error) string {
	var failure *TurnFailure
	switch {
	case errors.As(err, &failure):
		return failure.Error()
	case err != nil:
		return err.Error()
	}
	return unknownErrorDetail
}
