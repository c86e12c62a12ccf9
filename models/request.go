package models

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages  []ChatMessage `json:"messages"`
	System    string        `json:"system,omitempty"`
	Model     string        `json:"model,omitempty"`
	UseMemory bool          `json:"use_memory,omitempty"`
}

// IngestDataRequest is the body of POST /api/memory/ingest.
type IngestDataRequest struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchRequest is the body of POST /api/memory/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// ContextPart is a typed piece of context sent along with a query, e.g. the selected text.
type ContextPart struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// AgentRequest is the body the local fallback agent expects at POST /api/agent.
type AgentRequest struct {
	Message      string        `json:"message"`
	ContextParts []ContextPart `json:"context_parts"`
	SessionID    *string       `json:"session_id"`
}
