package services

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// Reserved metadata keys. They are written by the memory pipeline and win over caller metadata.
const (
	MetaText        = "text"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaIngestedAt  = "ingested_at"
	MetaSource      = "source"

	// SourceMemory tags every chunk the memory pipeline stores.
	SourceMemory = "memory"
)

// TextChunk is one stored window of ingested text.
type TextChunk struct {
	ID          string
	Text        string
	Index       int
	TotalChunks int
	Embedding   []float32
	Metadata    map[string]interface{}
	IngestedAt  time.Time
}

// Match is a search hit.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]interface{}
}

// VectorIndex stores chunks and answers nearest-neighbour queries.
// Query returns at most topK matches ordered by descending score and never fails because topK exceeds the stored count.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []TextChunk) error
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankMatches sorts by descending score (ties by id for stable output) and truncates to topK.
func rankMatches(matches []Match, topK int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
	if topK >= 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// MemoryIndex keeps chunks in process memory. Used for tests and ephemeral runs.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string]TextChunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]TextChunk)}
}

func (m *MemoryIndex) Upsert(_ context.Context, chunks []TextChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *MemoryIndex) Query(_ context.Context, vector []float32, topK int) ([]Match, error) {
	m.mu.RLock()
	matches := make([]Match, 0, len(m.chunks))
	for _, c := range m.chunks {
		matches = append(matches, Match{
			ID:       c.ID,
			Score:    CosineSimilarity(vector, c.Embedding),
			Text:     c.Text,
			Metadata: c.Metadata,
		})
	}
	m.mu.RUnlock()
	return rankMatches(matches, topK), nil
}

func (m *MemoryIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	m.chunks = make(map[string]TextChunk)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}
