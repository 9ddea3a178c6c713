// Package chunker splits a document into token-bounded chunks. Every chunk
// records its byte and token offset in the parent document, so positions found
// inside a chunk translate back to document coordinates by addition.
package chunker

import (
	"fmt"
	"sync"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// Config controls chunk size and overlap.
type Config struct {
	MaxChunkTokens    int
	OverlapTokens     int
	RespectBoundaries bool
}

// Validate checks MaxChunkTokens > 0 and 0 <= OverlapTokens < MaxChunkTokens.
func (c Config) Validate() error {
	if c.MaxChunkTokens <= 0 || c.OverlapTokens < 0 || c.OverlapTokens >= c.MaxChunkTokens {
		return &InvalidChunkConfigError{MaxChunkTokens: c.MaxChunkTokens, OverlapTokens: c.OverlapTokens}
	}
	return nil
}

// InvalidChunkConfigError reports unusable chunk parameters.
type InvalidChunkConfigError struct {
	MaxChunkTokens int
	OverlapTokens  int
}

func (e *InvalidChunkConfigError) Error() string {
	return fmt.Sprintf("max_chunk_tokens=%d overlap_tokens=%d: need max_chunk_tokens > 0 and 0 <= overlap_tokens < max_chunk_tokens",
		e.MaxChunkTokens, e.OverlapTokens)
}

func (e *InvalidChunkConfigError) Unwrap() error {
	return apperrors.ErrInvalidChunkConfig
}

// Chunk is a contiguous slice of a document. The first OverlapChars bytes of
// Text repeat the tail of the previous chunk.
type Chunk struct {
	Index             int
	Text              string
	CharOffset        int
	TokenOffset       int
	TokenCount        int
	OverlapChars      int
	DocumentID        string
	AdditionalContext string

	tokOnce sync.Once
	tokens  *tokenizer.TokenizedText
	tokErr  error
}

// Tokens returns the tokenized chunk text, computing it once.
func (c *Chunk) Tokens() (*tokenizer.TokenizedText, error) {
	c.tokOnce.Do(func() {
		c.tokens, c.tokErr = tokenizer.Tokenize(c.Text)
	})
	return c.tokens, c.tokErr
}

// CharEnd returns the document offset just past the chunk.
func (c *Chunk) CharEnd() int {
	return c.CharOffset + len(c.Text)
}

// Split chunks doc into windows of at most maxChunkTokens tokens, each
// repeating overlapTokens tokens of its predecessor.
func Split(doc *extraction.Document, maxChunkTokens, overlapTokens int) ([]*Chunk, error) {
	return SplitWithConfig(doc, Config{MaxChunkTokens: maxChunkTokens, OverlapTokens: overlapTokens})
}

// SplitWithConfig chunks doc according to cfg.
func SplitWithConfig(doc *extraction.Document, cfg Config) ([]*Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tt, err := doc.Tokens()
	if err != nil {
		return nil, fmt.Errorf("tokenizing document %s: %w", doc.ID(), err)
	}
	text := doc.Text
	tokens := tt.Tokens
	n := len(tokens)

	if n <= cfg.MaxChunkTokens {
		return []*Chunk{{
			Text:              text,
			TokenCount:        n,
			DocumentID:        doc.ID(),
			AdditionalContext: doc.AdditionalContext,
		}}, nil
	}

	// Token windows first; char spans are derived once the next window's
	// first non-overlapping token is known.
	type window struct{ start, end int }
	windows := make([]window, 0, n/(cfg.MaxChunkTokens-cfg.OverlapTokens)+1)
	start := 0
	for {
		end := start + cfg.MaxChunkTokens
		if end >= n {
			windows = append(windows, window{start, n})
			break
		}
		if cfg.RespectBoundaries {
			end = boundaryEnd(tokens, start, end, cfg.OverlapTokens)
		}
		windows = append(windows, window{start, end})
		start = end - cfg.OverlapTokens
	}

	chunks := make([]*Chunk, len(windows))
	prevCharEnd := 0
	for i, w := range windows {
		charStart := 0
		if i > 0 {
			charStart = tokens[w.start].CharStart
		}
		charEnd := len(text)
		if i < len(windows)-1 {
			charEnd = tokens[w.end].CharStart
		}
		overlap := 0
		if i > 0 {
			overlap = prevCharEnd - charStart
		}
		chunks[i] = &Chunk{
			Index:             i,
			Text:              text[charStart:charEnd],
			CharOffset:        charStart,
			TokenOffset:       w.start,
			TokenCount:        w.end - w.start,
			OverlapChars:      overlap,
			DocumentID:        doc.ID(),
			AdditionalContext: doc.AdditionalContext,
		}
		prevCharEnd = charEnd
	}
	return chunks, nil
}

// boundaryEnd pulls the window end back to the last sentence end or line
// start inside [start, end). The result keeps end-overlap > start so the
// next window always advances.
func boundaryEnd(tokens []tokenizer.Token, start, end, overlap int) int {
	for e := end; e-overlap > start && e > start+1; e-- {
		if tokens[e].FirstAfterNewline || tokenizer.IsSentenceEnd(tokens[e-1]) {
			return e
		}
	}
	return end
}

// Reconstruct joins chunks back into the document text, dropping each
// chunk's overlapping prefix.
func Reconstruct(chunks []*Chunk) string {
	size := 0
	for _, c := range chunks {
		size += len(c.Text) - c.OverlapChars
	}
	buf := make([]byte, 0, size)
	for _, c := range chunks {
		buf = append(buf, c.Text[c.OverlapChars:]...)
	}
	return string(buf)
}
