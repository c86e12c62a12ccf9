package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconstruct(chunks []string, overlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			drop := overlap
			if drop > len(r) {
				drop = len(r)
			}
			r = r[drop:]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}

func TestChunkerSixHundredAs(t *testing.T) {
	c, err := NewChunker(512, 64)
	require.NoError(t, err)

	chunks, err := c.SplitText(strings.Repeat("A", 600))
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 512)
	assert.Len(t, chunks[1], 152)
}

func TestChunkerCountAndReconstruction(t *testing.T) {
	c, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	require.NoError(t, err)
	step := DefaultChunkSize - DefaultChunkOverlap

	lengths := []int{1, 63, 64, 447, 448, 449, 511, 512, 513, 896, 897, 1000, 4096, 10007}
	for _, n := range lengths {
		var sb strings.Builder
		for i := 0; i < n; i++ {
			sb.WriteByte(byte('a' + i%26))
		}
		text := sb.String()

		chunks, err := c.SplitText(text)
		require.NoError(t, err)

		want := (n + step - 1) / step
		assert.Equalf(t, want, len(chunks), "chunk count for len=%d", n)
		assert.Equalf(t, text, reconstruct(chunks, DefaultChunkOverlap), "reconstruction for len=%d", n)
		for i, ch := range chunks {
			assert.LessOrEqualf(t, len(ch), DefaultChunkSize, "chunk %d of len=%d too long", i, n)
		}
	}
}

func TestChunkerBoundariesAreCoveredByOverlap(t *testing.T) {
	c, err := NewChunker(8, 3)
	require.NoError(t, err)

	chunks, err := c.SplitText("abcdefghijklmnop")
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdefgh", "fghijklm", "klmnop", "p"}, chunks)
}

func TestChunkerEmptyInput(t *testing.T) {
	c, err := NewChunker(512, 64)
	require.NoError(t, err)

	chunks, err := c.SplitText("")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkerCountsRunes(t *testing.T) {
	c, err := NewChunker(4, 1)
	require.NoError(t, err)

	chunks, err := c.SplitText("héllo wörld")
	require.NoError(t, err)
	assert.Equal(t, "héll", chunks[0])
	assert.Equal(t, "héllo wörld", reconstruct(chunks, 1))
}

func TestNewChunkerValidation(t *testing.T) {
	_, err := NewChunker(0, 0)
	assert.Error(t, err)
	_, err = NewChunker(10, 10)
	assert.Error(t, err)
	_, err = NewChunker(10, -1)
	assert.Error(t, err)
}

func TestNewSplitter(t *testing.T) {
	s, err := NewSplitter("window", 512, 64)
	require.NoError(t, err)
	assert.IsType(t, &Chunker{}, s)

	s, err = NewSplitter("recursive", 100, 10)
	require.NoError(t, err)
	chunks, err := s.SplitText(strings.Repeat("word ", 100))
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	_, err = NewSplitter("sentences", 512, 64)
	assert.Error(t, err)
}
