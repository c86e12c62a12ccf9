package services

import "errors"

// Validation errors are surfaced verbatim to HTTP callers as 400s.
var (
	ErrEmptyText     = errors.New("text must not be empty")
	ErrEmptyQuery    = errors.New("query must not be empty")
	ErrEmptyMessages = errors.New("messages must not be empty")
)

// ErrUpstreamModel wraps every embedding or chat model failure.
var ErrUpstreamModel = errors.New("upstream model error")

// ErrEmbeddingMismatch means the embedder returned a different number of vectors than it was given texts.
var ErrEmbeddingMismatch = errors.New("embedding count does not match input count")

// ErrStreamIncomplete means a model stream ended before its final chunk.
var ErrStreamIncomplete = errors.New("model stream ended before completion")

// IsValidation reports whether err is one of the caller-input errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyText) || errors.Is(err, ErrEmptyQuery) || errors.Is(err, ErrEmptyMessages)
}
