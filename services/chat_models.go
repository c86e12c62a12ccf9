package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github/itish2003/pointer/models"

	"google.golang.org/genai"
)

// OllamaChat streams from Ollama's /api/chat, which answers with one JSON object per line.
type OllamaChat struct {
	httpClient *http.Client
	baseURL    string
}

func NewOllamaChat(client *http.Client, baseURL string) *OllamaChat {
	return &OllamaChat{httpClient: client, baseURL: baseURL}
}

func (o *OllamaChat) StreamChat(ctx context.Context, model string, messages []models.ChatMessage, onToken TokenFunc) error {
	reqBody, err := json.Marshal(models.OllamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal ollama chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create ollama http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call ollama chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama api returned non-200 status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var chunk models.OllamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				return fmt.Errorf("failed to decode ollama stream line: %w", err)
			}
			if chunk.Error != "" {
				return fmt.Errorf("ollama stream error: %s", chunk.Error)
			}
			if chunk.Message.Content != "" {
				if err := onToken(chunk.Message.Content); err != nil {
					return err
				}
			}
			if chunk.Done {
				return nil
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return ErrStreamIncomplete
			}
			return fmt.Errorf("failed to read ollama stream: %w", readErr)
		}
	}
}

// GeminiChat streams through the Gemini API. System messages become the system instruction.
type GeminiChat struct {
	client *genai.Client
}

func NewGeminiChat(client *genai.Client) *GeminiChat {
	return &GeminiChat{client: client}
}

func (g *GeminiChat) StreamChat(ctx context.Context, model string, messages []models.ChatMessage, onToken TokenFunc) error {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		var role genai.Role
		switch strings.ToLower(m.Role) {
		case "system":
			system = append(system, m.Content)
			continue
		case "assistant", "model":
			role = genai.RoleModel
		default:
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return fmt.Errorf("gemini stream failed: %w", err)
		}
		if text := resp.Text(); text != "" {
			if err := onToken(text); err != nil {
				return err
			}
		}
	}
	return nil
}
