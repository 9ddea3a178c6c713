package llm

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens with a BPE encoding, falling back to a
// four-characters-per-token estimate when the encoding is unavailable.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the named tiktoken encoding. The
// encoding is loaded on first use. An empty name always estimates.
func NewTokenCounter(encoding string) *TokenCounter {
	return &TokenCounter{encoding: encoding}
}

// Count returns the number of tokens in text.
func (c *TokenCounter) Count(text string) int {
	if c == nil {
		return estimateTokens(text)
	}
	c.once.Do(func() {
		if c.encoding == "" {
			return
		}
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			slog.Default().With("component", "llm").Warn("tiktoken encoding unavailable, estimating token counts",
				"encoding", c.encoding, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return estimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
