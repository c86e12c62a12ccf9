package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github/itish2003/pointer/logger"
	"github/itish2003/pointer/models"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"
)

// MemoryService is the retrieval pipeline: chunk, embed, store, search.
type MemoryService interface {
	Ingest(ctx context.Context, text string, metadata map[string]interface{}) (int, error)
	Search(ctx context.Context, query string, topK int) ([]models.MemoryMatch, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

type memoryServiceImpl struct {
	splitter    textsplitter.TextSplitter
	embedder    Embedder
	index       VectorIndex
	defaultTopK int
	logger      *zap.Logger
	now         func() time.Time
}

// NewMemoryService wires the pipeline. defaultTopK is used when a search asks for fewer than one match.
func NewMemoryService(splitter textsplitter.TextSplitter, embedder Embedder, index VectorIndex, defaultTopK int, logger *zap.Logger) MemoryService {
	if defaultTopK < 1 {
		defaultTopK = 5
	}
	return &memoryServiceImpl{
		splitter:    splitter,
		embedder:    embedder,
		index:       index,
		defaultTopK: defaultTopK,
		logger:      logger.Named("memory"),
		now:         time.Now,
	}
}

func (m *memoryServiceImpl) Ingest(ctx context.Context, text string, metadata map[string]interface{}) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}

	chunks, err := m.splitter.SplitText(text)
	if err != nil {
		return 0, fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := embedChecked(ctx, m.embedder, chunks)
	if err != nil {
		return 0, fmt.Errorf("could not embed chunks: %w", err)
	}

	ingestedAt := m.now().UTC()
	batch := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	stored := make([]TextChunk, len(chunks))
	for i, chunk := range chunks {
		stored[i] = TextChunk{
			ID:          chunkID(ingestedAt, batch, i),
			Text:        chunk,
			Index:       i,
			TotalChunks: len(chunks),
			Embedding:   vectors[i],
			Metadata:    chunkMetadata(metadata, chunk, i, len(chunks), ingestedAt),
			IngestedAt:  ingestedAt,
		}
	}

	if err := m.index.Upsert(ctx, stored); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	m.logger.Info("ingested text", zap.Int("chunks", len(stored)), zap.Int("chars", len(text)))
	return len(stored), nil
}

func (m *memoryServiceImpl) Search(ctx context.Context, query string, topK int) ([]models.MemoryMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if topK < 1 {
		topK = m.defaultTopK
	}

	vectors, err := embedChecked(ctx, m.embedder, []string{query})
	if err != nil {
		return nil, fmt.Errorf("could not embed query: %w", err)
	}

	hits, err := m.index.Query(ctx, vectors[0], topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}

	matches := make([]models.MemoryMatch, len(hits))
	for i, h := range hits {
		matches[i] = models.MemoryMatch{ID: h.ID, Score: h.Score, Text: h.Text, Metadata: h.Metadata}
	}
	m.logger.Debug("searched memory", zap.String("query", logger.Truncate(query, 80)), zap.Int("matches", len(matches)))
	return matches, nil
}

func (m *memoryServiceImpl) Clear(ctx context.Context) error {
	if err := m.index.Clear(ctx); err != nil {
		return err
	}
	m.logger.Info("cleared memory")
	return nil
}

func (m *memoryServiceImpl) Count(ctx context.Context) (int, error) {
	return m.index.Count(ctx)
}

// chunkID is <unix millis>-<per-ingest nonce>-<index>; the nonce keeps same-millisecond ingests apart.
func chunkID(ingestedAt time.Time, batch string, index int) string {
	return fmt.Sprintf("%d-%s-%d", ingestedAt.UnixMilli(), batch, index)
}

// chunkMetadata copies caller metadata and then writes the reserved keys, so the reserved keys always win.
func chunkMetadata(caller map[string]interface{}, text string, index, total int, ingestedAt time.Time) map[string]interface{} {
	meta := make(map[string]interface{}, len(caller)+5)
	for k, v := range caller {
		meta[k] = v
	}
	meta[MetaText] = text
	meta[MetaChunkIndex] = index
	meta[MetaTotalChunks] = total
	meta[MetaIngestedAt] = ingestedAt.Format(time.RFC3339Nano)
	meta[MetaSource] = SourceMemory
	return meta
}
