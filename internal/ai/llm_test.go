package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mapleportal/internal/config"
)

func TestRemoteLLMReadsResponseOrAnswer(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got.UserID == "answer" {
			_ = json.NewEncoder(w).Encode(map[string]string{"answer": "from answer"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "from response"})
	}))
	defer srv.Close()

	llm := NewRemoteLLM(srv.URL, time.Second)
	out, err := llm.Generate(context.Background(), []ChatMessage{{Role: RoleUser, Content: "안녕"}})
	require.NoError(t, err)
	assert.Equal(t, "from response", out)
	assert.Equal(t, "안녕", got.Question)

	out, err = llm.Generate(WithUserID(context.Background(), "answer"), []ChatMessage{{Role: RoleUser, Content: "q"}})
	require.NoError(t, err)
	assert.Equal(t, "from answer", out)
}

func TestRemoteLLMErrorsAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewRemoteLLM(srv.URL, time.Second).Generate(context.Background(), []ChatMessage{{Role: RoleUser, Content: "q"}})
	assert.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestRemoteLLMStreamSingleToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"response": "반갑담!"})
	}))
	defer srv.Close()

	var tokens []string
	out, err := NewRemoteLLM(srv.URL, time.Second).Stream(context.Background(),
		[]ChatMessage{{Role: RoleUser, Content: "안녕"}},
		func(tok string) error { tokens = append(tokens, tok); return nil })
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", out)
	assert.Equal(t, []string{"반갑담!"}, tokens)
}

func TestRenderPrompt(t *testing.T) {
	out := RenderPrompt([]ChatMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	})
	assert.Equal(t, "[system]\nsys\n\n[user]\nhi", out)
}

func TestLocalLLMStreamsDeltas(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"반갑", "담!"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.LLM.Provider = config.ProviderLocal
	cfg.LLM.LocalURL = srv.URL + "/v1"
	llm, err := NewLLM(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "local", llm.Name())

	var tokens []string
	out, err := llm.Stream(context.Background(), []ChatMessage{{Role: RoleUser, Content: "안녕"}},
		func(tok string) error { tokens = append(tokens, tok); return nil })
	require.NoError(t, err)
	assert.Equal(t, "반갑담!", out)
	assert.Equal(t, []string{"반갑", "담!"}, tokens)

	assert.Equal(t, cfg.LLM.LocalModelPath, body["model"])
	assert.EqualValues(t, 1024, body["max_tokens"])
	assert.EqualValues(t, 40, body["top_k"])
	assert.InDelta(t, 1.1, body["repetition_penalty"], 1e-9)
}

func TestNewLLMAutoSelectsRemote(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.RemoteURL = "http://example.invalid/ask"
	llm, err := NewLLM(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "remote", llm.Name())
}
