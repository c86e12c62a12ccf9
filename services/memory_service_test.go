package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// letterEmbedder embeds a text as its letter histogram, so similar texts score high.
type letterEmbedder struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	err     error
	short   bool
}

func (e *letterEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.batches = append(e.batches, texts)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, letterVector(t))
	}
	if e.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func letterVector(t string) []float32 {
	v := make([]float32, 27)
	for _, r := range strings.ToLower(t) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		} else {
			v[26] += 0.01
		}
	}
	return v
}

func newTestMemory(t *testing.T, e Embedder) (*memoryServiceImpl, *MemoryIndex) {
	t.Helper()
	chunker, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	idx := NewMemoryIndex()
	svc := NewMemoryService(chunker, e, idx, 5, zap.NewNop()).(*memoryServiceImpl)
	return svc, idx
}

func TestIngestSixHundredCharacters(t *testing.T) {
	e := &letterEmbedder{}
	svc, idx := newTestMemory(t, e)

	n, err := svc.Ingest(context.Background(), strings.Repeat("A", 600), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e.calls, "all chunks go in one embedding call")

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	lengths := map[int]int{}
	for _, c := range idx.chunks {
		lengths[c.Index] = len(c.Text)
		assert.Equal(t, 2, c.TotalChunks)
	}
	assert.Equal(t, map[int]int{0: 512, 1: 152}, lengths)
}

func TestIngestRejectsBlankText(t *testing.T) {
	e := &letterEmbedder{}
	svc, _ := newTestMemory(t, e)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.Ingest(context.Background(), text, nil)
		assert.ErrorIs(t, err, ErrEmptyText)
	}
	assert.Zero(t, e.calls)
}

func TestIngestEmbeddingOrder(t *testing.T) {
	e := &letterEmbedder{}
	svc, idx := newTestMemory(t, e)

	var sb strings.Builder
	for i := 0; i < 3000; i++ {
		sb.WriteByte(byte('a' + (i/300)%26))
	}
	n, err := svc.Ingest(context.Background(), sb.String(), nil)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	require.Len(t, e.batches, 1)
	batch := e.batches[0]
	require.Len(t, batch, n)
	for _, c := range idx.chunks {
		assert.Equal(t, batch[c.Index], c.Text)
		assert.Equal(t, letterVector(batch[c.Index]), c.Embedding)
	}
}

func TestIngestReservedMetadataWins(t *testing.T) {
	svc, idx := newTestMemory(t, &letterEmbedder{})
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	_, err := svc.Ingest(context.Background(), "refund policy is thirty days", map[string]interface{}{
		"text":         "spoofed",
		"chunk_index":  99,
		"total_chunks": 99,
		"ingested_at":  "yesterday",
		"source":       "elsewhere",
		"author":       "sam",
	})
	require.NoError(t, err)

	require.Len(t, idx.chunks, 1)
	for id, c := range idx.chunks {
		assert.True(t, strings.HasPrefix(id, "1767323045000-"), id)
		assert.True(t, strings.HasSuffix(id, "-0"), id)
		assert.Equal(t, "refund policy is thirty days", c.Metadata[MetaText])
		assert.Equal(t, 0, c.Metadata[MetaChunkIndex])
		assert.Equal(t, 1, c.Metadata[MetaTotalChunks])
		assert.Equal(t, fixed.Format(time.RFC3339Nano), c.Metadata[MetaIngestedAt])
		assert.Equal(t, SourceMemory, c.Metadata[MetaSource])
		assert.Equal(t, "sam", c.Metadata["author"])
	}
}

func TestIngestIDsUniqueWithinSameMillisecond(t *testing.T) {
	svc, idx := newTestMemory(t, &letterEmbedder{})
	fixed := time.Now()
	svc.now = func() time.Time { return fixed }

	for i := 0; i < 20; i++ {
		_, err := svc.Ingest(context.Background(), "same text", nil)
		require.NoError(t, err)
	}
	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestIngestEmbeddingFailures(t *testing.T) {
	svc, idx := newTestMemory(t, &letterEmbedder{short: true})
	_, err := svc.Ingest(context.Background(), strings.Repeat("x", 1000), nil)
	assert.ErrorIs(t, err, ErrEmbeddingMismatch)
	assert.ErrorIs(t, err, ErrUpstreamModel)

	svc, _ = newTestMemory(t, &letterEmbedder{err: errors.New("connection refused")})
	_, err = svc.Ingest(context.Background(), "hello", nil)
	assert.ErrorIs(t, err, ErrUpstreamModel)

	count, _ := idx.Count(context.Background())
	assert.Zero(t, count)
}

func TestSearchTopKAboveCount(t *testing.T) {
	svc, _ := newTestMemory(t, &letterEmbedder{})
	_, err := svc.Ingest(context.Background(), "Our refund policy allows returns within 30 days.", nil)
	require.NoError(t, err)

	matches, err := svc.Search(context.Background(), "refund policy", 3)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Our refund policy allows returns within 30 days.", matches[0].Text)
	assert.NotEmpty(t, matches[0].ID)
}

func TestSearchRanksAndDefaultsTopK(t *testing.T) {
	e := &letterEmbedder{}
	svc, _ := newTestMemory(t, e)
	ctx := context.Background()

	texts := []string{"zzzz zzzz", "apple apple", "banana", "cherry", "dates", "elderberry", "figs"}
	for _, txt := range texts {
		_, err := svc.Ingest(ctx, txt, nil)
		require.NoError(t, err)
	}

	matches, err := svc.Search(ctx, "apple", 0)
	require.NoError(t, err)
	require.Len(t, matches, 5)
	assert.Equal(t, "apple apple", matches[0].Text)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}

	last := e.batches[len(e.batches)-1]
	assert.Equal(t, []string{"apple"}, last, "queries embed as a one-element batch")
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	svc, _ := newTestMemory(t, &letterEmbedder{})
	_, err := svc.Search(context.Background(), "  ", 3)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestClearTwiceLeavesNoMatches(t *testing.T) {
	svc, _ := newTestMemory(t, &letterEmbedder{})
	ctx := context.Background()
	_, err := svc.Ingest(ctx, "something worth remembering", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx))
	require.NoError(t, svc.Clear(ctx))

	matches, err := svc.Search(ctx, "something", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
