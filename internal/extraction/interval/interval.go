// Package interval provides the character and token interval value types used
// to anchor extractions in source text. Both are half-open: End is exclusive.
package interval

import "fmt"

// Char is a half-open byte range [StartPos, EndPos) into a UTF-8 text.
type Char struct {
	StartPos int `json:"start_pos"`
	EndPos   int `json:"end_pos"`
}

// NewChar returns a pointer to Char{start, end}.
func NewChar(start, end int) *Char {
	return &Char{StartPos: start, EndPos: end}
}

func (c Char) Len() int {
	return c.EndPos - c.StartPos
}

// Contains reports whether other lies entirely inside c.
func (c Char) Contains(other Char) bool {
	return c.StartPos <= other.StartPos && other.EndPos <= c.EndPos
}

// Overlaps reports whether c and other share at least one position.
func (c Char) Overlaps(other Char) bool {
	return c.StartPos < other.EndPos && other.StartPos < c.EndPos
}

// Shift translates c by offset.
func (c Char) Shift(offset int) Char {
	return Char{StartPos: c.StartPos + offset, EndPos: c.EndPos + offset}
}

// Validate checks 0 <= StartPos <= EndPos <= textLen.
func (c Char) Validate(textLen int) error {
	if c.StartPos < 0 || c.StartPos > c.EndPos || c.EndPos > textLen {
		return fmt.Errorf("char interval [%d,%d) out of range for text of length %d",
			c.StartPos, c.EndPos, textLen)
	}
	return nil
}

func (c Char) String() string {
	return fmt.Sprintf("[%d,%d)", c.StartPos, c.EndPos)
}

// Token is a half-open range [Start, End) of token indices.
type Token struct {
	Start int `json:"start_index"`
	End   int `json:"end_index"`
}

// NewToken returns a pointer to Token{start, end}.
func NewToken(start, end int) *Token {
	return &Token{Start: start, End: end}
}

func (t Token) Len() int {
	return t.End - t.Start
}

func (t Token) Contains(other Token) bool {
	return t.Start <= other.Start && other.End <= t.End
}

func (t Token) Overlaps(other Token) bool {
	return t.Start < other.End && other.Start < t.End
}

func (t Token) Shift(offset int) Token {
	return Token{Start: t.Start + offset, End: t.End + offset}
}

func (t Token) String() string {
	return fmt.Sprintf("tokens[%d,%d)", t.Start, t.End)
}
