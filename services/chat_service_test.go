package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github/itish2003/pointer/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingModel struct {
	model    string
	messages []models.ChatMessage
	tokens   []string
	err      error
}

func (r *recordingModel) StreamChat(_ context.Context, model string, messages []models.ChatMessage, onToken TokenFunc) error {
	r.model = model
	r.messages = messages
	for _, tok := range r.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return r.err
}

func collect(t *testing.T, svc ChatService, req models.ChatRequest) (string, error) {
	t.Helper()
	var sb strings.Builder
	err := svc.Stream(context.Background(), req, func(tok string) error {
		sb.WriteString(tok)
		return nil
	})
	return sb.String(), err
}

func TestChatPrependsSystemMessage(t *testing.T) {
	m := &recordingModel{tokens: []string{"Hel", "lo"}}
	svc := NewChatService(m, nil, "llama3.2", "default persona", zap.NewNop())

	history := []models.ChatMessage{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hey"},
		{Role: "user", Content: "how are you"},
	}
	out, err := collect(t, svc, models.ChatRequest{Messages: history, System: "be brief"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
	assert.Equal(t, "llama3.2", m.model)
	require.Len(t, m.messages, 4)
	assert.Equal(t, models.ChatMessage{Role: "system", Content: "be brief"}, m.messages[0])
	assert.Equal(t, history, m.messages[1:])
}

func TestChatDefaultsPersonaAndHonorsModelOverride(t *testing.T) {
	m := &recordingModel{}
	svc := NewChatService(m, nil, "llama3.2", "default persona", zap.NewNop())

	_, err := collect(t, svc, models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
		Model:    "qwen",
	})
	require.NoError(t, err)
	assert.Equal(t, "default persona", m.messages[0].Content)
	assert.Equal(t, "qwen", m.model)
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	svc := NewChatService(&recordingModel{}, nil, "m", "p", zap.NewNop())
	_, err := collect(t, svc, models.ChatRequest{})
	assert.ErrorIs(t, err, ErrEmptyMessages)
}

func TestChatWrapsModelErrors(t *testing.T) {
	svc := NewChatService(&recordingModel{err: errors.New("boom")}, nil, "m", "p", zap.NewNop())
	_, err := collect(t, svc, models.ChatRequest{Messages: []models.ChatMessage{{Role: "user", Content: "x"}}})
	assert.ErrorIs(t, err, ErrUpstreamModel)
}

func TestChatUseMemoryAppendsContext(t *testing.T) {
	mem, _ := newTestMemory(t, &letterEmbedder{})
	_, err := mem.Ingest(context.Background(), "The office wifi password is hunter2.", nil)
	require.NoError(t, err)

	m := &recordingModel{}
	svc := NewChatService(m, mem, "m", "persona", zap.NewNop())
	_, err = collect(t, svc, models.ChatRequest{
		Messages:  []models.ChatMessage{{Role: "user", Content: "what is the wifi password"}},
		UseMemory: true,
	})
	require.NoError(t, err)

	system := m.messages[0].Content
	assert.True(t, strings.HasPrefix(system, "persona\n\nRelevant context from memory:\n"), system)
	assert.Contains(t, system, "hunter2")
	assert.True(t, strings.HasSuffix(system, "Use the above context to inform your response if relevant.\n"))
}

func TestBuildMemoryContextEmpty(t *testing.T) {
	assert.Equal(t, "", BuildMemoryContext(nil))
	assert.Equal(t, "", BuildMemoryContext([]models.MemoryMatch{{Text: "  "}}))
}

func TestOllamaChatStreamsNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		for _, tok := range []string{"The", " answer", " is 4"} {
			fmt.Fprintf(w, `{"model":"llama3.2","message":{"role":"assistant","content":%q},"done":false}`+"\n", tok)
		}
		fmt.Fprintln(w, `{"model":"llama3.2","message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	var tokens []string
	err := NewOllamaChat(srv.Client(), srv.URL).StreamChat(context.Background(), "llama3.2",
		[]models.ChatMessage{{Role: "user", Content: "2+2"}},
		func(tok string) error {
			tokens = append(tokens, tok)
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"The", " answer", " is 4"}, tokens)
}

func TestOllamaChatStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
		fmt.Fprintln(w, `{"error":"model crashed"}`)
	}))
	defer srv.Close()

	err := NewOllamaChat(srv.Client(), srv.URL).StreamChat(context.Background(), "m",
		[]models.ChatMessage{{Role: "user", Content: "x"}}, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestOllamaChatTruncatedStreamFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"The answer"},"done":false}`)
	}))
	defer srv.Close()

	var tokens []string
	err := NewOllamaChat(srv.Client(), srv.URL).StreamChat(context.Background(), "m",
		[]models.ChatMessage{{Role: "user", Content: "x"}},
		func(tok string) error {
			tokens = append(tokens, tok)
			return nil
		})
	require.ErrorIs(t, err, ErrStreamIncomplete)
	assert.Equal(t, []string{"The answer"}, tokens)
}

func TestChatTruncatedModelStreamIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"par"},"done":false}`)
	}))
	defer srv.Close()

	chat := NewChatService(NewOllamaChat(srv.Client(), srv.URL), nil, "m", "persona", zap.NewNop())
	err := chat.Stream(context.Background(), models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: "x"}},
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrUpstreamModel)
	assert.ErrorIs(t, err, ErrStreamIncomplete)
}
