package chatbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/rag"
)

var tracer = otel.Tracer("mapleportal/chatbot")

var ErrNoUserMessage = errors.New("state has no user message")

// Retriever is the knowledge base lookup used by the retrieve node.
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts rag.RetrieveOptions) ([]rag.RetrievedChunk, error)
}

type Options struct {
	TopK          int
	MinSimilarity float64
	// HistoryTokenBudget bounds the history sent with each call; <= 0 keeps all.
	HistoryTokenBudget int
}

// Graph runs route -> rewrite -> retrieve -> generate_rag, or route ->
// generate_chat, over a thread's state.
type Graph struct {
	llm       ai.LLM
	retriever Retriever
	opts      Options
	trimmer   *HistoryTrimmer
	logger    *zap.Logger
}

func NewGraph(llm ai.LLM, retriever Retriever, opts Options, logger *zap.Logger) (*Graph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.TopK < 1 {
		opts.TopK = rag.DefaultTopK
	}
	trimmer, err := NewHistoryTrimmer(opts.HistoryTokenBudget)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer failed: %w", err)
	}
	return &Graph{
		llm:       llm,
		retriever: retriever,
		opts:      opts,
		trimmer:   trimmer,
		logger:    logger.Named("chatbot.graph"),
	}, nil
}

// Run applies one turn to state, whose last user message is the question.
// On success the answer is appended to state.Messages; on error state.Messages
// is left as it was. With a non-nil sink every LLM call streams its tokens
// into it, tagged by node.
func (g *Graph) Run(ctx context.Context, state *State, sink Sink) (*Turn, error) {
	question := state.LastUserMessage()
	if strings.TrimSpace(question) == "" {
		return nil, ErrNoUserMessage
	}
	ctx, span := tracer.Start(ctx, "chatbot.run")
	defer span.End()

	verdict, err := g.route(ctx, question, sink)
	if err != nil {
		return nil, err
	}
	turn := &Turn{Verdict: verdict}
	span.SetAttributes(attribute.String("route", turn.Verdict.String()))

	var answer string
	switch turn.Verdict {
	case VerdictSearch:
		query, rerr := g.rewrite(ctx, state, question, sink)
		if rerr != nil {
			return nil, rerr
		}
		state.Query = query
		turn.Retrieved = g.retrieve(ctx, state.Query)
		state.Context = rag.FormatContext(turn.Retrieved)
		answer, err = g.generate(ctx, NodeGenerateRAG, ragSystemPrompt(state.Context), state.Messages, sink)
	default:
		state.Context = ""
		answer, err = g.generate(ctx, NodeGenerateChat, chatPrompt, state.Messages, sink)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return nil, err
	}

	state.Messages = append(state.Messages, ai.ChatMessage{Role: ai.RoleAssistant, Content: answer})
	turn.Query = state.Query
	turn.Context = state.Context
	turn.Answer = answer
	return turn, nil
}

func (g *Graph) route(ctx context.Context, question string, sink Sink) (Verdict, error) {
	out, err := g.call(ctx, NodeRoute, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: routePrompt},
		{Role: ai.RoleUser, Content: question},
	}, sink)
	if err != nil {
		if fatal(ctx, err) {
			return VerdictChat, err
		}
		g.logger.Warn("route failed, falling back to chat", zap.Error(err))
		return VerdictChat, nil
	}
	v := ParseVerdict(out)
	g.logger.Debug("routed", zap.String("verdict", v.String()), zap.String("raw", out))
	return v, nil
}

func (g *Graph) rewrite(ctx context.Context, state *State, question string, sink Sink) (string, error) {
	msgs := append([]ai.ChatMessage{{Role: ai.RoleSystem, Content: rewritePrompt}}, g.trimmer.Trim(state.Messages)...)
	out, err := g.call(ctx, NodeRewrite, msgs, sink)
	if err != nil {
		if fatal(ctx, err) {
			return "", err
		}
		g.logger.Warn("rewrite failed, using raw question", zap.Error(err))
		return question, nil
	}
	if query := cleanQuery(out); query != "" {
		return query, nil
	}
	return question, nil
}

func (g *Graph) retrieve(ctx context.Context, query string) []rag.RetrievedChunk {
	chunks, err := g.retriever.Retrieve(ctx, query, rag.RetrieveOptions{
		K:             g.opts.TopK,
		MinSimilarity: g.opts.MinSimilarity,
	})
	if err != nil {
		g.logger.Error("retrieve failed, continuing without context", zap.Error(err))
		return []rag.RetrievedChunk{}
	}
	return chunks
}

func (g *Graph) generate(ctx context.Context, node, system string, history []ai.ChatMessage, sink Sink) (string, error) {
	msgs := append([]ai.ChatMessage{{Role: ai.RoleSystem, Content: system}}, g.trimmer.Trim(history)...)
	out, err := g.call(ctx, node, msgs, sink)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", node, err)
	}
	return strings.TrimSpace(out), nil
}

// sinkError marks a failure raised by the consumer rather than the model.
type sinkError struct{ err error }

func (e *sinkError) Error() string { return e.err.Error() }
func (e *sinkError) Unwrap() error { return e.err }

func (g *Graph) call(ctx context.Context, node string, msgs []ai.ChatMessage, sink Sink) (string, error) {
	ctx = ai.WithNode(ctx, node)
	if sink == nil {
		return g.llm.Generate(ctx, msgs)
	}
	var consumerErr error
	out, err := g.llm.Stream(ctx, msgs, func(token string) error {
		if token == "" {
			return nil
		}
		if err := sink(Event{Node: node, Content: token}); err != nil {
			consumerErr = &sinkError{err: err}
			return consumerErr
		}
		return nil
	})
	if consumerErr != nil {
		return "", consumerErr
	}
	return out, err
}

// fatal reports failures no fallback may hide: cancellation and a consumer
// that stopped reading.
func fatal(ctx context.Context, err error) bool {
	var se *sinkError
	return ctx.Err() != nil || errors.As(err, &se)
}
