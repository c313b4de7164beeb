package chatbot

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"mapleportal/internal/ai"
)

func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// perMessageOverhead approximates the role and separator tokens of the chat format.
const perMessageOverhead = 4

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func cl100k() (*tiktoken.Tiktoken, error) {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	return encoding, encodingErr
}

// HistoryTrimmer keeps the newest messages that fit in a token budget.
type HistoryTrimmer struct {
	enc    *tiktoken.Tiktoken
	budget int
}

// NewHistoryTrimmer returns a trimmer; a budget <= 0 disables trimming.
func NewHistoryTrimmer(budget int) (*HistoryTrimmer, error) {
	if budget <= 0 {
		return &HistoryTrimmer{}, nil
	}
	enc, err := cl100k()
	if err != nil {
		return nil, err
	}
	return &HistoryTrimmer{enc: enc, budget: budget}, nil
}

func (t *HistoryTrimmer) Count(m ai.ChatMessage) int {
	if t.enc == nil {
		return 0
	}
	return len(t.enc.Encode(m.Content, nil, nil)) + perMessageOverhead
}

// Trim drops the oldest messages until the rest fit. The last message is
// always kept even when it alone exceeds the budget.
func (t *HistoryTrimmer) Trim(messages []ai.ChatMessage) []ai.ChatMessage {
	if t == nil || t.enc == nil || len(messages) == 0 {
		return messages
	}
	used := t.Count(messages[len(messages)-1])
	start := len(messages) - 1
	for i := len(messages) - 2; i >= 0; i-- {
		n := t.Count(messages[i])
		if used+n > t.budget {
			break
		}
		used += n
		start = i
	}
	return messages[start:]
}
