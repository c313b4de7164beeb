// Package aitest provides a scripted ai.LLM for tests.
package aitest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"mapleportal/internal/ai"
)

type reply struct {
	tokens []string
	err    error
}

// Call records one request seen by the fake.
type Call struct {
	Node     string
	Messages []ai.ChatMessage
	Streamed bool
}

// ScriptedLLM answers per graph node (see ai.WithNode). Replies queued for a
// node are consumed in order; the last one repeats.
type ScriptedLLM struct {
	mu      sync.Mutex
	replies map[string][]reply
	calls   []Call

	// Gate, when set, holds every call until a value is received or ctx ends.
	Gate chan struct{}
	// Entered receives a value (non-blocking) when a call starts.
	Entered chan struct{}
}

func NewScriptedLLM() *ScriptedLLM {
	return &ScriptedLLM{replies: make(map[string][]reply)}
}

// On queues a reply for node, streamed as the given tokens.
func (s *ScriptedLLM) On(node string, tokens ...string) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[node] = append(s.replies[node], reply{tokens: tokens})
	return s
}

// Fail queues an error for node.
func (s *ScriptedLLM) Fail(node string, err error) *ScriptedLLM {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[node] = append(s.replies[node], reply{err: err})
	return s
}

func (s *ScriptedLLM) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *ScriptedLLM) CallsFor(node string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Node == node {
			out = append(out, c)
		}
	}
	return out
}

// Nodes lists the node of every call in order.
func (s *ScriptedLLM) Nodes() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Node
	}
	return out
}

func (s *ScriptedLLM) Name() string { return "scripted" }

func (s *ScriptedLLM) Generate(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	r, err := s.next(ctx, messages, false)
	if err != nil {
		return "", err
	}
	return strings.Join(r.tokens, ""), nil
}

func (s *ScriptedLLM) Stream(ctx context.Context, messages []ai.ChatMessage, onToken func(string) error) (string, error) {
	r, err := s.next(ctx, messages, true)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, tok := range r.tokens {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onToken(tok); err != nil {
			return "", err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

func (s *ScriptedLLM) next(ctx context.Context, messages []ai.ChatMessage, streamed bool) (reply, error) {
	node := ai.NodeFromContext(ctx)

	s.mu.Lock()
	s.calls = append(s.calls, Call{Node: node, Messages: append([]ai.ChatMessage(nil), messages...), Streamed: streamed})
	queue := s.replies[node]
	var r reply
	ok := len(queue) > 0
	if ok {
		r = queue[0]
		if len(queue) > 1 {
			s.replies[node] = queue[1:]
		}
	}
	s.mu.Unlock()

	if s.Entered != nil {
		select {
		case s.Entered <- struct{}{}:
		default:
		}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return reply{}, ctx.Err()
		}
	}
	if !ok {
		return reply{}, fmt.Errorf("%w: no reply scripted for node %q", ai.ErrLLMUnavailable, node)
	}
	if r.err != nil {
		return reply{}, r.err
	}
	return r, nil
}
