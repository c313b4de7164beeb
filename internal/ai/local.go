package ai

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LocalLLM drives the self-hosted model at LOCAL_MODEL_PATH through the
// inference server that loaded it (vLLM, llama.cpp server, TGI).
type LocalLLM struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
	logger *zap.Logger
}

func NewLocalLLM(baseURL, modelPath, apiKey string, timeout time.Duration, logger *zap.Logger) *LocalLLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalLLM{
		client: NewOpenAICompatibleClient(timeout),
		cfg: DefaultSampling(ChatConfig{
			BaseURL: baseURL,
			APIKey:  apiKey,
			Model:   modelPath,
		}),
		logger: logger.Named("llm.local"),
	}
}

func (l *LocalLLM) Name() string { return "local" }

func (l *LocalLLM) Generate(ctx context.Context, messages []ChatMessage) (string, error) {
	text, err := l.client.Complete(ctx, l.cfg, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	return text, nil
}

func (l *LocalLLM) Stream(ctx context.Context, messages []ChatMessage, onToken func(string) error) (string, error) {
	l.logger.Debug("stream", zap.String("node", NodeFromContext(ctx)), zap.Int("messages", len(messages)))
	text, err := l.client.StreamComplete(ctx, l.cfg, messages, onToken)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	return text, nil
}

// Ping checks that the inference server is up and serves the configured model.
func (l *LocalLLM) Ping(ctx context.Context) error {
	ids, err := l.client.Models(ctx, l.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLLMUnavailable, err)
	}
	for _, id := range ids {
		if id == l.cfg.Model {
			return nil
		}
	}
	l.logger.Warn("configured model not listed by server", zap.String("model", l.cfg.Model), zap.Strings("served", ids))
	return nil
}
