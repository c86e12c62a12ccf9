package models

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// IngestResponse is returned by POST /api/memory/ingest.
type IngestResponse struct {
	OK             bool `json:"ok"`
	ChunksIngested int  `json:"chunks_ingested"`
}

// MemoryMatch is one search hit.
type MemoryMatch struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// SearchResponse is returned by POST /api/memory/search.
type SearchResponse struct {
	Matches []MemoryMatch `json:"matches"`
}

// OKResponse is returned by DELETE /api/memory.
type OKResponse struct {
	OK bool `json:"ok"`
}

// StatsResponse is returned by GET /api/memory/stats.
type StatsResponse struct {
	Count int `json:"count"`
}

// AgentResponse is what the local fallback agent answers with.
type AgentResponse struct {
	Response  string                 `json:"response"`
	SessionID string                 `json:"session_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// StreamToken is one SSE data payload of the chat stream.
type StreamToken struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
