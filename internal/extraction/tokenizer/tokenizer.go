// Package tokenizer splits text into word, number and punctuation tokens while
// keeping the byte offsets of every token in the source text. Whitespace is
// skipped, so the gap between two tokens is always whitespace.
package tokenizer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/nasher721/Extract721/internal/extraction/interval"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// Type classifies a token.
type Type int

const (
	Word Type = iota
	Number
	Punctuation
)

func (t Type) String() string {
	switch t {
	case Word:
		return "word"
	case Number:
		return "number"
	case Punctuation:
		return "punctuation"
	default:
		return "unknown"
	}
}

// Token is a single lexical unit and its byte span in the source text.
type Token struct {
	Index             int
	Type              Type
	CharStart         int
	CharEnd           int
	Text              string
	FirstAfterNewline bool
}

// TokenizedText is the token sequence of Text.
type TokenizedText struct {
	Text   string
	Tokens []Token
}

// TokenizationError reports malformed input at a byte offset.
type TokenizationError struct {
	Offset int
}

func (e *TokenizationError) Error() string {
	return fmt.Sprintf("invalid UTF-8 at byte %d", e.Offset)
}

func (e *TokenizationError) Unwrap() error {
	return apperrors.ErrTokenization
}

// Tokenize breaks text into tokens. It is a pure function of text: equal
// inputs always produce equal token sequences.
func Tokenize(text string) (*TokenizedText, error) {
	tokens := make([]Token, 0, len(text)/4)
	sawNewline := false
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size <= 1 {
			return nil, &TokenizationError{Offset: i}
		}
		switch {
		case unicode.IsSpace(r):
			if r == '\n' || r == '\r' {
				sawNewline = true
			}
			i += size
			continue
		case isWordRune(r):
			start := i
			allDigits := true
			for i < len(text) {
				r, size = utf8.DecodeRuneInString(text[i:])
				if r == utf8.RuneError && size <= 1 {
					return nil, &TokenizationError{Offset: i}
				}
				if !isWordRune(r) {
					break
				}
				if !unicode.IsDigit(r) {
					allDigits = false
				}
				i += size
			}
			typ := Word
			if allDigits {
				typ = Number
			}
			tokens = append(tokens, newToken(len(tokens), typ, text, start, i, sawNewline))
		default:
			tokens = append(tokens, newToken(len(tokens), Punctuation, text, i, i+size, sawNewline))
			i += size
		}
		sawNewline = false
	}
	return &TokenizedText{Text: text, Tokens: tokens}, nil
}

func newToken(index int, typ Type, text string, start, end int, afterNewline bool) Token {
	return Token{
		Index:             index,
		Type:              typ,
		CharStart:         start,
		CharEnd:           end,
		Text:              text[start:end],
		FirstAfterNewline: afterNewline && index > 0,
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r)
}

// Len returns the number of tokens.
func (t *TokenizedText) Len() int {
	return len(t.Tokens)
}

// CharInterval resolves a token interval to the byte span from the start of
// its first token to the end of its last token.
func (t *TokenizedText) CharInterval(ti interval.Token) (interval.Char, error) {
	if ti.Start < 0 || ti.End > len(t.Tokens) || ti.Start >= ti.End {
		return interval.Char{}, fmt.Errorf("token interval %s out of range for %d tokens", ti, len(t.Tokens))
	}
	return interval.Char{
		StartPos: t.Tokens[ti.Start].CharStart,
		EndPos:   t.Tokens[ti.End-1].CharEnd,
	}, nil
}

// Covering returns the tokens overlapping the byte span [start, end). ok is
// false when the span touches no token.
func (t *TokenizedText) Covering(start, end int) (ti interval.Token, ok bool) {
	first := t.FirstEndingAfter(start)
	last := first
	for last < len(t.Tokens) && t.Tokens[last].CharStart < end {
		last++
	}
	if first >= last {
		return interval.Token{}, false
	}
	return interval.Token{Start: first, End: last}, true
}

// FirstEndingAfter returns the index of the first token whose CharEnd is
// greater than pos, or Len() if there is none.
func (t *TokenizedText) FirstEndingAfter(pos int) int {
	lo, hi := 0, len(t.Tokens)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.Tokens[mid].CharEnd > pos {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// FirstStartingAt returns the index of the first token whose CharStart is at
// or after pos, or Len() if there is none.
func (t *TokenizedText) FirstStartingAt(pos int) int {
	lo, hi := 0, len(t.Tokens)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.Tokens[mid].CharStart >= pos {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Texts returns the literal text of every token.
func (t *TokenizedText) Texts() []string {
	out := make([]string, len(t.Tokens))
	for i, tok := range t.Tokens {
		out[i] = tok.Text
	}
	return out
}

// IsSentenceEnd reports whether tok closes a sentence.
func IsSentenceEnd(tok Token) bool {
	if tok.Type != Punctuation {
		return false
	}
	switch tok.Text {
	case ".", "!", "?", "。", "！", "？":
		return true
	}
	return false
}
