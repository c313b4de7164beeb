package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/cache"
	"mapleportal/internal/chatbot"
	"mapleportal/internal/metrics"
	"mapleportal/internal/model"
	"mapleportal/internal/rag"
)

const (
	MaxSessionIDLength = 128
	MaxMessageLength   = 1000
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
)

// MessageArchive receives the messages of every completed turn.
type MessageArchive interface {
	Publish(ctx context.Context, msgs ...model.Message) error
}

type ChatService struct {
	graph   *chatbot.Graph
	store   cache.CheckpointStore
	archive MessageArchive
	logger  *zap.Logger
}

type TurnInput struct {
	SessionID string
	Message   string
}

type TurnResult struct {
	Response  string               `json:"response"`
	Thinking  string               `json:"thinking"`
	Route     string               `json:"route"`
	Query     string               `json:"query,omitempty"`
	Retrieved []rag.RetrievedChunk `json:"retrieved,omitempty"`
}

type SessionView struct {
	SessionID string           `json:"session_id"`
	Messages  []ai.ChatMessage `json:"messages"`
	Query     string           `json:"query"`
	Version   int64            `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewChatService wires the graph to the checkpoint store. archive may be nil.
func NewChatService(graph *chatbot.Graph, store cache.CheckpointStore, archive MessageArchive, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{
		graph:   graph,
		store:   store,
		archive: archive,
		logger:  logger.Named("app.chat"),
	}
}

// Generate runs one turn and returns the parsed answer.
func (s *ChatService) Generate(ctx context.Context, input TurnInput) (*TurnResult, error) {
	return s.runTurn(ctx, input, nil)
}

// Stream runs one turn, passing every model token to sink as it is produced.
func (s *ChatService) Stream(ctx context.Context, input TurnInput, sink chatbot.Sink) (*TurnResult, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidInput)
	}
	return s.runTurn(ctx, input, sink)
}

// Validate normalizes input; it is exported so that handlers can reject a
// request before committing to a streaming response.
func (s *ChatService) Validate(input TurnInput) (TurnInput, error) {
	input.SessionID = strings.TrimSpace(input.SessionID)
	input.Message = strings.TrimSpace(input.Message)
	switch {
	case input.SessionID == "":
		return input, fmt.Errorf("%w: session_id is required", ErrInvalidInput)
	case utf8.RuneCountInString(input.SessionID) > MaxSessionIDLength:
		return input, fmt.Errorf("%w: session_id exceeds %d characters", ErrInvalidInput, MaxSessionIDLength)
	case input.Message == "":
		return input, fmt.Errorf("%w: message is required", ErrInvalidInput)
	case utf8.RuneCountInString(input.Message) > MaxMessageLength:
		return input, fmt.Errorf("%w: message exceeds %d characters", ErrInvalidInput, MaxMessageLength)
	}
	return input, nil
}

func (s *ChatService) runTurn(ctx context.Context, input TurnInput, sink chatbot.Sink) (*TurnResult, error) {
	input, err := s.Validate(input)
	if err != nil {
		metrics.Get().ChatTurns.WithLabelValues("none", "invalid").Inc()
		return nil, err
	}

	unlock, err := s.store.Lock(ctx, input.SessionID)
	if err != nil {
		if errors.Is(err, cache.ErrSessionBusy) {
			metrics.Get().ChatTurns.WithLabelValues("none", "busy").Inc()
		}
		return nil, err
	}
	defer unlock()

	cp, err := s.store.Load(ctx, input.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}
	if cp == nil {
		cp = &cache.Checkpoint{ThreadID: input.SessionID}
	}

	state := &chatbot.State{
		Messages: append(append([]ai.ChatMessage(nil), cp.Messages...), ai.ChatMessage{Role: ai.RoleUser, Content: input.Message}),
		Query:    cp.Query,
	}
	turn, err := s.graph.Run(ai.WithUserID(ctx, input.SessionID), state, sink)
	if err != nil {
		metrics.Get().ChatTurns.WithLabelValues("none", "error").Inc()
		s.logger.Error("turn failed", zap.String("session_id", input.SessionID), zap.Error(err))
		return nil, err
	}

	response, thinking := chatbot.ParseThinking(turn.Answer)
	if thinking != "" && thinking != chatbot.ThinkingParseError {
		// Keep scratchpads out of the history fed to later turns.
		state.Messages[len(state.Messages)-1].Content = response
	}

	cp.Messages = state.Messages
	cp.Query = state.Query
	if err := s.store.Save(ctx, cp); err != nil {
		metrics.Get().ChatTurns.WithLabelValues(turn.Verdict.String(), "error").Inc()
		return nil, fmt.Errorf("save session failed: %w", err)
	}
	metrics.Get().ChatTurns.WithLabelValues(turn.Verdict.String(), "ok").Inc()

	s.publish(ctx, input.SessionID, turn.Verdict.String(), state.Messages[len(state.Messages)-2:])

	return &TurnResult{
		Response:  response,
		Thinking:  thinking,
		Route:     turn.Verdict.String(),
		Query:     turn.Query,
		Retrieved: turn.Retrieved,
	}, nil
}

func (s *ChatService) publish(ctx context.Context, sessionID, route string, msgs []ai.ChatMessage) {
	if s.archive == nil {
		return
	}
	now := time.Now()
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.Message{
			ThreadID:  sessionID,
			Role:      m.Role,
			Content:   m.Content,
			Route:     route,
			CreatedAt: now,
		})
	}
	// The turn is already saved; archive failures must not fail it.
	if err := s.archive.Publish(context.WithoutCancel(ctx), out...); err != nil {
		s.logger.Warn("archive publish failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *ChatService) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	cp, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, ErrSessionNotFound
	}
	return &SessionView{
		SessionID: cp.ThreadID,
		Messages:  cp.Messages,
		Query:     cp.Query,
		Version:   cp.Version,
		UpdatedAt: cp.UpdatedAt,
	}, nil
}

// ClearSession deletes a thread. It waits for no one: a turn in flight makes
// it fail with cache.ErrSessionBusy.
func (s *ChatService) ClearSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}
	unlock, err := s.store.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Delete(ctx, sessionID)
}
