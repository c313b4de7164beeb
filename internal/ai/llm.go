package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mapleportal/internal/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrLLMUnavailable = errors.New("llm unavailable")

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// LLM is the only way the chatbot reaches a model.
type LLM interface {
	Generate(ctx context.Context, messages []ChatMessage) (string, error)
	// Stream calls onToken for each text delta and returns the full text.
	// An error from onToken aborts the generation.
	Stream(ctx context.Context, messages []ChatMessage, onToken func(token string) error) (string, error)
	Name() string
}

// Pinger is implemented by adapters that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func NewLLM(cfg *config.Config, logger *zap.Logger) (LLM, error) {
	timeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	switch provider := cfg.ResolvedLLMProvider(); provider {
	case config.ProviderRemote:
		return NewRemoteLLM(cfg.LLM.RemoteURL, timeout), nil
	case config.ProviderLocal:
		return NewLocalLLM(cfg.LLM.LocalURL, cfg.LLM.LocalModelPath, cfg.LLM.APIKey, timeout, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrLLMUnavailable, provider)
	}
}

var (
	sharedLLMOnce sync.Once
	sharedLLM     LLM
	sharedLLMErr  error
)

// SharedLLM returns the process-wide adapter. The provider is fixed by the
// first call.
func SharedLLM(cfg *config.Config, logger *zap.Logger) (LLM, error) {
	sharedLLMOnce.Do(func() {
		sharedLLM, sharedLLMErr = NewLLM(cfg, logger)
		if sharedLLMErr == nil && logger != nil {
			logger.Info("llm adapter ready", zap.String("provider", sharedLLM.Name()))
		}
	})
	return sharedLLM, sharedLLMErr
}

type nodeKey struct{}

// WithNode tags a call with the graph node issuing it.
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey{}, node)
}

func NodeFromContext(ctx context.Context) string {
	node, _ := ctx.Value(nodeKey{}).(string)
	return node
}
