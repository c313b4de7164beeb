package chatbot

import (
	"strings"

	"mapleportal/internal/ai"
	"mapleportal/internal/rag"
)

// Node names carried by streamed events.
const (
	NodeRoute        = "route"
	NodeRewrite      = "rewrite"
	NodeRetrieve     = "retrieve"
	NodeGenerateRAG  = "generate_rag"
	NodeGenerateChat = "generate_chat"
)

// State is the per-thread graph state. Messages only grow; Query and Context
// are overwritten on every turn.
type State struct {
	Messages []ai.ChatMessage `json:"messages"`
	Query    string           `json:"query"`
	Context  string           `json:"context"`
}

func (s *State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == ai.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

type Verdict int

const (
	VerdictChat Verdict = iota
	VerdictSearch
)

func (v Verdict) String() string {
	if v == VerdictSearch {
		return "search"
	}
	return "chat"
}

// ParseVerdict reads the router output. Anything that does not mention
// "search" is chat.
func ParseVerdict(raw string) Verdict {
	if strings.Contains(strings.ToLower(StripThinking(raw)), "search") {
		return VerdictSearch
	}
	return VerdictChat
}

// Event is one streamed token tagged with the node that produced it.
type Event struct {
	Node    string
	Content string
}

// Sink receives streamed events. Returning an error aborts the turn.
type Sink func(Event) error

// Turn is the outcome of one graph run.
type Turn struct {
	Verdict   Verdict
	Query     string
	Context   string
	Retrieved []rag.RetrievedChunk
	Answer    string
}
