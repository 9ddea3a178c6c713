package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction/interval"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

func TestTokenize(t *testing.T) {
	tt, err := Tokenize("The patient has HTN and DM2.")
	require.NoError(t, err)

	assert.Equal(t, []string{"The", "patient", "has", "HTN", "and", "DM2", "."}, tt.Texts())
	assert.Equal(t, Word, tt.Tokens[5].Type)
	assert.Equal(t, Punctuation, tt.Tokens[6].Type)
	assert.Equal(t, 16, tt.Tokens[3].CharStart)
	assert.Equal(t, 19, tt.Tokens[3].CharEnd)
	for i, tok := range tt.Tokens {
		assert.Equal(t, i, tok.Index)
		assert.Equal(t, tok.Text, tt.Text[tok.CharStart:tok.CharEnd])
	}
}

func TestTokenizeTypes(t *testing.T) {
	tt, err := Tokenize("BP 120/80, HR 72")
	require.NoError(t, err)

	want := []struct {
		text string
		typ  Type
	}{
		{"BP", Word}, {"120", Number}, {"/", Punctuation}, {"80", Number},
		{",", Punctuation}, {"HR", Word}, {"72", Number},
	}
	require.Len(t, tt.Tokens, len(want))
	for i, w := range want {
		assert.Equal(t, w.text, tt.Tokens[i].Text)
		assert.Equal(t, w.typ, tt.Tokens[i].Type, w.text)
	}
}

func TestTokenizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"Aspirin 81 mg daily.\nMetformin 500 mg BID!",
		"café naïve — ünïcödé, 東京タワー。",
		"a\tb\r\nc",
	}
	for _, in := range inputs {
		first, err := Tokenize(in)
		require.NoError(t, err)
		second, err := Tokenize(in)
		require.NoError(t, err)
		assert.Equal(t, first, second, "input %q", in)
	}
}

func TestTokenizeOrdering(t *testing.T) {
	tt, err := Tokenize("x, y; z... (w)")
	require.NoError(t, err)
	for i := 1; i < len(tt.Tokens); i++ {
		assert.LessOrEqual(t, tt.Tokens[i-1].CharEnd, tt.Tokens[i].CharStart)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	tt, err := Tokenize("")
	require.NoError(t, err)
	assert.NotNil(t, tt.Tokens)
	assert.Equal(t, 0, tt.Len())
}

func TestTokenizeNewlineFlag(t *testing.T) {
	tt, err := Tokenize("first line\nsecond line")
	require.NoError(t, err)
	require.Len(t, tt.Tokens, 4)
	assert.False(t, tt.Tokens[0].FirstAfterNewline)
	assert.False(t, tt.Tokens[1].FirstAfterNewline)
	assert.True(t, tt.Tokens[2].FirstAfterNewline)
	assert.False(t, tt.Tokens[3].FirstAfterNewline)
}

func TestTokenizeInvalidUTF8(t *testing.T) {
	_, err := Tokenize("ok \xff\xfe bad")
	require.Error(t, err)

	var tokErr *TokenizationError
	require.True(t, errors.As(err, &tokErr))
	assert.Equal(t, 3, tokErr.Offset)
	assert.True(t, errors.Is(err, apperrors.ErrTokenization))
}

func TestCharInterval(t *testing.T) {
	tt, err := Tokenize("The patient has HTN and DM2.")
	require.NoError(t, err)

	ci, err := tt.CharInterval(interval.Token{Start: 3, End: 6})
	require.NoError(t, err)
	assert.Equal(t, interval.Char{StartPos: 16, EndPos: 27}, ci)

	_, err = tt.CharInterval(interval.Token{Start: 5, End: 9})
	assert.Error(t, err)
	_, err = tt.CharInterval(interval.Token{Start: 2, End: 2})
	assert.Error(t, err)
}

func TestCovering(t *testing.T) {
	tt, err := Tokenize("The patient has HTN and DM2.")
	require.NoError(t, err)

	ti, ok := tt.Covering(5, 14)
	require.True(t, ok)
	assert.Equal(t, interval.Token{Start: 1, End: 3}, ti)

	_, ok = tt.Covering(3, 4)
	assert.False(t, ok, "whitespace-only span covers no token")
}

func TestIsSentenceEnd(t *testing.T) {
	tt, err := Tokenize("Done. Next, more?")
	require.NoError(t, err)
	var ends []string
	for _, tok := range tt.Tokens {
		if IsSentenceEnd(tok) {
			ends = append(ends, tok.Text)
		}
	}
	assert.Equal(t, []string{".", "?"}, ends)
}
