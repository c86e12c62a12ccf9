package services

import (
	"strings"

	"github/itish2003/pointer/models"
)

// BuildMemoryContext renders search hits as the block appended to the system message
// when a chat asks to use memory. No hits renders nothing.
func BuildMemoryContext(matches []models.MemoryMatch) string {
	if len(matches) == 0 {
		return ""
	}
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Relevant context from memory:\n")
	sb.WriteString(strings.Join(texts, "\n\n"))
	sb.WriteString("\n---\nUse the above context to inform your response if relevant.\n")
	return sb.String()
}

// ComposeMessages puts the system message first and keeps the caller's order for the rest.
func ComposeMessages(system string, messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages)+1)
	out = append(out, models.ChatMessage{Role: "system", Content: system})
	return append(out, messages...)
}
