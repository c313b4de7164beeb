package app

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/ai"
	"mapleportal/internal/ai/aitest"
	"mapleportal/internal/cache"
	"mapleportal/internal/chatbot"
	"mapleportal/internal/model"
	"mapleportal/internal/rag"
	"mapleportal/internal/vectorstore"
)

type constantEmbedder struct{}

func (constantEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (constantEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constantEmbedder) Dimension() int { return 2 }
func (constantEmbedder) Close() error   { return nil }

type recordingArchive struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (a *recordingArchive) Publish(_ context.Context, msgs ...model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, msgs...)
	return nil
}

type fixture struct {
	llm     *aitest.ScriptedLLM
	store   *cache.MemoryCheckpointStore
	vectors *rag.VectorStore
	archive *recordingArchive
	svc     *ChatService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		llm:     aitest.NewScriptedLLM(),
		store:   cache.NewMemoryCheckpointStore(0),
		archive: &recordingArchive{},
	}
	f.vectors = rag.NewVectorStore(vectorstore.NewMemoryStore(), constantEmbedder{}, zap.NewNop())
	graph, err := chatbot.NewGraph(f.llm, rag.NewRetriever(f.vectors, 3), chatbot.Options{TopK: 3, HistoryTokenBudget: 2048}, zap.NewNop())
	require.NoError(t, err)
	f.svc = NewChatService(graph, f.store, f.archive, zap.NewNop())
	return f
}

func (f *fixture) seedXmas(t *testing.T) {
	t.Helper()
	_, err := f.vectors.AddChunks(context.Background(), []vectorstore.Chunk{{
		DocumentID: "xmas",
		Content:    "12월 25일까지 진행되는 이벤트이담.",
		Metadata: map[string]string{
			vectorstore.MetaTitle:    "크리스마스 이벤트",
			vectorstore.MetaCategory: "events",
		},
	}})
	require.NoError(t, err)
}

func TestGreetingTakesChatPath(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "chat").On(chatbot.NodeGenerateChat, "반갑담!")

	res, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s1", Message: "안녕"})
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", res.Response)
	assert.Equal(t, "", res.Thinking)
	assert.Equal(t, "chat", res.Route)

	view, err := f.svc.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []ai.ChatMessage{
		{Role: ai.RoleUser, Content: "안녕"},
		{Role: ai.RoleAssistant, Content: "반갑담!"},
	}, view.Messages)

	require.Len(t, f.archive.msgs, 2)
	assert.Equal(t, "s1", f.archive.msgs[0].ThreadID)
	assert.Equal(t, ai.RoleAssistant, f.archive.msgs[1].Role)
}

func TestGameQuestionThenFollowUp(t *testing.T) {
	f := newFixture(t)
	f.seedXmas(t)
	f.llm.On(chatbot.NodeRoute, "search").
		On(chatbot.NodeRewrite, "크리스마스 이벤트 기간").
		On(chatbot.NodeRewrite, "크리스마스 이벤트 종료일까지 남은 일수").
		On(chatbot.NodeGenerateRAG, "12월 25일까지이담.").
		On(chatbot.NodeGenerateRAG, "남은 날짜는 달력을 확인해야 한담.")

	res, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s2", Message: "크리스마스 이벤트는 언제까지?"})
	require.NoError(t, err)
	assert.Contains(t, res.Response, "12월 25일")
	require.Len(t, res.Retrieved, 1)
	assert.Equal(t, "크리스마스 이벤트", res.Retrieved[0].Title)

	res, err = f.svc.Generate(context.Background(), TurnInput{SessionID: "s2", Message: "그럼 며칠 남았어?"})
	require.NoError(t, err)
	assert.Equal(t, "크리스마스 이벤트 종료일까지 남은 일수", res.Query)

	rewrite := f.llm.CallsFor(chatbot.NodeRewrite)[1].Messages
	var contents []string
	for _, m := range rewrite[1:] {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"크리스마스 이벤트는 언제까지?", "12월 25일까지이담.", "그럼 며칠 남았어?"}, contents)
	assert.NotContains(t, res.Query, "그럼")

	view, err := f.svc.GetSession(context.Background(), "s2")
	require.NoError(t, err)
	assert.Len(t, view.Messages, 4)
	assert.Equal(t, res.Query, view.Query)
}

func TestUnknownTopicUsesEmptyContext(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "search").
		On(chatbot.NodeRewrite, "비밀 보스 패턴").
		On(chatbot.NodeGenerateRAG, "알 수 없는 내용이담")

	res, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s3", Message: "비밀 보스 패턴 알려줘"})
	require.NoError(t, err)
	assert.Empty(t, res.Retrieved)
	assert.Contains(t, res.Response, "알 수 없는 내용이담")
	system := f.llm.CallsFor(chatbot.NodeGenerateRAG)[0].Messages[0].Content
	assert.NotContains(t, system, "[문서 1]")
}

func TestThinkingIsSplitAndNotStored(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "chat").On(chatbot.NodeGenerateChat, "<think>인사다</think>반갑담!")

	res, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s5", Message: "안녕"})
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", res.Response)
	assert.Equal(t, "인사다", res.Thinking)

	view, err := f.svc.GetSession(context.Background(), "s5")
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", view.Messages[1].Content)
}

func TestInvalidInputTouchesNothing(t *testing.T) {
	f := newFixture(t)
	cases := []TurnInput{
		{SessionID: "", Message: ""},
		{SessionID: "s6", Message: "   "},
		{SessionID: strings.Repeat("x", MaxSessionIDLength+1), Message: "안녕"},
		{SessionID: "s6", Message: strings.Repeat("가", MaxMessageLength+1)},
	}
	for _, in := range cases {
		_, err := f.svc.Generate(context.Background(), in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Empty(t, f.llm.Calls())
	assert.Equal(t, 0, f.store.Len())

	_, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s6", Message: strings.Repeat("가", MaxMessageLength)})
	assert.NotErrorIs(t, err, ErrInvalidInput)
}

func TestFailedTurnSavesNothing(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "chat").Fail(chatbot.NodeGenerateChat, ai.ErrLLMUnavailable)

	_, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s7", Message: "안녕"})
	assert.ErrorIs(t, err, ai.ErrLLMUnavailable)
	_, err = f.svc.GetSession(context.Background(), "s7")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, f.archive.msgs)
}

func TestConcurrentTurnIsRejected(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "chat").On(chatbot.NodeGenerateChat, "반갑담!")
	f.llm.Gate = make(chan struct{})
	f.llm.Entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s8", Message: "안녕"})
		done <- err
	}()
	<-f.llm.Entered

	_, err := f.svc.Generate(context.Background(), TurnInput{SessionID: "s8", Message: "또 안녕"})
	assert.ErrorIs(t, err, cache.ErrSessionBusy)
	assert.ErrorIs(t, f.svc.ClearSession(context.Background(), "s8"), cache.ErrSessionBusy)

	close(f.llm.Gate)
	require.NoError(t, <-done)

	view, err := f.svc.GetSession(context.Background(), "s8")
	require.NoError(t, err)
	assert.Len(t, view.Messages, 2)

	require.NoError(t, f.svc.ClearSession(context.Background(), "s8"))
	_, err = f.svc.GetSession(context.Background(), "s8")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStreamForwardsEvents(t *testing.T) {
	f := newFixture(t)
	f.llm.On(chatbot.NodeRoute, "chat").On(chatbot.NodeGenerateChat, "반갑", "담!")

	var nodes []string
	res, err := f.svc.Stream(context.Background(), TurnInput{SessionID: "s4", Message: "안녕"}, func(e chatbot.Event) error {
		nodes = append(nodes, e.Node)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", res.Response)
	assert.Equal(t, []string{chatbot.NodeRoute, chatbot.NodeGenerateChat, chatbot.NodeGenerateChat}, nodes)
}
