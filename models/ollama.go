package models

// OllamaEmbedRequest is used to structure the batched request to the Ollama /api/embed endpoint.
type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OllamaEmbedResponse holds one embedding per input, in input order.
type OllamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// OllamaChatRequest is the body of Ollama's /api/chat.
type OllamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// OllamaChatChunk is one NDJSON line of a streamed Ollama chat response.
type OllamaChatChunk struct {
	Model   string      `json:"model"`
	Message ChatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}
