package services

import (
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// Chunking defaults: 512 character windows that overlap by 64 characters.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64
)

// Chunker cuts text into fixed windows of Size characters, each window starting
// Size-Overlap characters after the previous one. The last window may be shorter.
// Characters are runes, so multi-byte text is never split inside a code point.
type Chunker struct {
	Size    int
	Overlap int
}

var _ textsplitter.TextSplitter = (*Chunker)(nil)

// NewChunker validates the window geometry.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{Size: size, Overlap: overlap}, nil
}

// SplitText implements textsplitter.TextSplitter. Empty text yields no chunks.
func (c *Chunker) SplitText(text string) ([]string, error) {
	runes := []rune(text)
	step := c.Size - c.Overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}

// NewSplitter picks the chunking strategy: "window" (the Chunker above) or
// "recursive" (langchaingo's separator-aware splitter with the same size and overlap).
func NewSplitter(strategy string, size, overlap int) (textsplitter.TextSplitter, error) {
	switch strategy {
	case "", "window":
		return NewChunker(size, overlap)
	case "recursive":
		if _, err := NewChunker(size, overlap); err != nil {
			return nil, err
		}
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		), nil
	default:
		return nil, fmt.Errorf("unknown chunk strategy %q", strategy)
	}
}
