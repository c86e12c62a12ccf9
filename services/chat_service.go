package services

import (
	"context"
	"fmt"
	"strings"

	"github/itish2003/pointer/models"

	"go.uber.org/zap"
)

// TokenFunc receives each streamed token. Returning an error stops the stream.
type TokenFunc func(token string) error

// ChatModel streams a completion for a message list whose first entry is the system message.
type ChatModel interface {
	StreamChat(ctx context.Context, model string, messages []models.ChatMessage, onToken TokenFunc) error
}

// ChatService composes the prompt and streams the model's answer.
type ChatService interface {
	Stream(ctx context.Context, req models.ChatRequest, onToken TokenFunc) error
}

type chatServiceImpl struct {
	model        ChatModel
	memory       MemoryService
	defaultModel string
	persona      string
	logger       *zap.Logger
}

// NewChatService builds the chat pipeline. memory may be nil, in which case use_memory is ignored.
func NewChatService(model ChatModel, memory MemoryService, defaultModel, persona string, logger *zap.Logger) ChatService {
	return &chatServiceImpl{
		model:        model,
		memory:       memory,
		defaultModel: defaultModel,
		persona:      persona,
		logger:       logger.Named("chat"),
	}
}

func (s *chatServiceImpl) Stream(ctx context.Context, req models.ChatRequest, onToken TokenFunc) error {
	if len(req.Messages) == 0 {
		return ErrEmptyMessages
	}

	system := req.System
	if strings.TrimSpace(system) == "" {
		system = s.persona
	}
	if req.UseMemory && s.memory != nil {
		system += s.memoryContext(ctx, req.Messages)
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	s.logger.Debug("streaming chat", zap.String("model", model), zap.Int("messages", len(req.Messages)))
	if err := s.model.StreamChat(ctx, model, ComposeMessages(system, req.Messages), onToken); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamModel, err)
	}
	return nil
}

// memoryContext searches with the last user message. Retrieval failures only cost the context.
func (s *chatServiceImpl) memoryContext(ctx context.Context, messages []models.ChatMessage) string {
	var query string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			query = messages[i].Content
			break
		}
	}
	if query == "" {
		return ""
	}

	matches, err := s.memory.Search(ctx, query, 0)
	if err != nil {
		s.logger.Warn("memory search failed, answering without context", zap.Error(err))
		return ""
	}
	if block := BuildMemoryContext(matches); block != "" {
		return "\n\n" + block
	}
	return ""
}
