package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type remoteRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id,omitempty"`
}

type remoteResponse struct {
	Response string `json:"response"`
	Answer   string `json:"answer"`
}

// RemoteLLM talks to a hosted question/answer endpoint. It takes a single
// prompt, so chat messages are flattened into labelled blocks.
type RemoteLLM struct {
	url        string
	httpClient *http.Client
}

func NewRemoteLLM(url string, timeout time.Duration) *RemoteLLM {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteLLM{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *RemoteLLM) Name() string { return "remote" }

func (r *RemoteLLM) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	body, err := json.Marshal(remoteRequest{
		Question: RenderPrompt(messages),
		UserID:   UserIDFromContext(ctx),
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", ErrLLMUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrLLMUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", ErrLLMUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d: %s", ErrLLMUnavailable, resp.StatusCode, string(raw))
	}

	var parsed remoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: parse response: %w", ErrLLMUnavailable, err)
	}
	if parsed.Response != "" {
		return parsed.Response, nil
	}
	if parsed.Answer != "" {
		return parsed.Answer, nil
	}
	return "", fmt.Errorf("%w: response has neither response nor answer", ErrLLMUnavailable)
}

// Stream has no incremental transport on the remote side; the whole answer is
// delivered as one token.
func (r *RemoteLLM) Stream(ctx context.Context, messages []ChatMessage, onToken func(string) error) (string, error) {
	text, err := r.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if err := onToken(text); err != nil {
		return "", err
	}
	return text, nil
}

// RenderPrompt flattens a chat transcript into a single prompt string.
func RenderPrompt(messages []ChatMessage) string {
	if len(messages) == 1 && messages[0].Role == RoleUser {
		return messages[0].Content
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(m.Role)
		b.WriteString("]\n")
		b.WriteString(m.Content)
	}
	return b.String()
}

type userIDKey struct{}

// WithUserID attaches the caller id forwarded to the remote endpoint.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}
