package aligner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/interval"
	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
)

const sentence = "The patient has HTN and DM2."

func tokenize(t *testing.T, text string) *tokenizer.TokenizedText {
	t.Helper()
	tt, err := tokenizer.Tokenize(text)
	require.NoError(t, err)
	return tt
}

func TestAlignExact(t *testing.T) {
	a := New(DefaultOptions())
	r := a.Align("HTN and DM2", tokenize(t, sentence))

	require.True(t, r.Matched())
	assert.Equal(t, interval.Char{StartPos: 16, EndPos: 27}, *r.CharInterval)
	assert.Equal(t, interval.Token{Start: 3, End: 6}, *r.TokenInterval)
	assert.Equal(t, extraction.MatchExact, *r.Status)
	assert.Equal(t, "HTN and DM2", sentence[r.CharInterval.StartPos:r.CharInterval.EndPos])
}

func TestAlignSnapping(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		wantChars interval.Char
		wantStat  extraction.AlignmentStatus
	}{
		{"trailing partial kept", "has HTN and DM", interval.Char{StartPos: 12, EndPos: 27}, extraction.MatchGreater},
		{"leading partial kept", "ient has", interval.Char{StartPos: 4, EndPos: 15}, extraction.MatchGreater},
		{"leading partial dropped", "nt has HTN", interval.Char{StartPos: 12, EndPos: 19}, extraction.MatchLesser},
		{"inside one token", "atien", interval.Char{StartPos: 4, EndPos: 11}, extraction.MatchGreater},
		{"tiny piece of one token", "ie", interval.Char{StartPos: 4, EndPos: 11}, extraction.MatchGreater},
	}
	a := New(DefaultOptions())
	tt := tokenize(t, sentence)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := a.Align(tc.candidate, tt)
			require.True(t, r.Matched())
			assert.Equal(t, tc.wantChars, *r.CharInterval)
			assert.Equal(t, tc.wantStat, *r.Status)

			ci, err := tt.CharInterval(*r.TokenInterval)
			require.NoError(t, err)
			assert.Equal(t, ci, *r.CharInterval, "char interval matches token span")
		})
	}
}

func TestAlignNormalized(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "Assessment:  HTN,   and DM2 (poorly controlled).")

	r := a.Align("htn and dm2", tt)
	require.True(t, r.Matched())
	assert.Equal(t, "HTN,   and DM2", tt.Text[r.CharInterval.StartPos:r.CharInterval.EndPos])
	assert.Equal(t, extraction.MatchFuzzy, *r.Status, "punctuation does not count toward the span length")

	r = a.Align("DM2 poorly controlled", tt)
	require.True(t, r.Matched())
	assert.Equal(t, "DM2 (poorly controlled", tt.Text[r.CharInterval.StartPos:r.CharInterval.EndPos])
	assert.NotEqual(t, extraction.MatchExact, *r.Status)
}

func TestAlignNormalizedIgnoresPunctuation(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, sentence)

	for _, cand := range []string{"HTN, and DM2", "htn, and  dm2", "HTN; and DM2!"} {
		r := a.Align(cand, tt)
		require.True(t, r.Matched(), cand)
		assert.Equal(t, interval.Char{StartPos: 16, EndPos: 27}, *r.CharInterval, cand)
		assert.Equal(t, extraction.MatchFuzzy, *r.Status, cand)
	}
}

func TestAlignNormalizedCaseOnly(t *testing.T) {
	a := New(DefaultOptions())
	r := a.Align("the PATIENT", tokenize(t, sentence))
	require.True(t, r.Matched())
	assert.Equal(t, interval.Char{StartPos: 0, EndPos: 11}, *r.CharInterval)
	assert.Equal(t, extraction.MatchFuzzy, *r.Status)
}

func TestAlignNormalizedUnicode(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "Résumé reviewed: ＨＴＮ noted.")
	r := a.Align("htn noted", tt)
	require.True(t, r.Matched())
	assert.Equal(t, "ＨＴＮ noted", tt.Text[r.CharInterval.StartPos:r.CharInterval.EndPos])
}

func TestAlignFuzzy(t *testing.T) {
	a := New(DefaultOptions())
	r := a.Align("patient has HTN and DM 2", tokenize(t, sentence))

	require.True(t, r.Matched())
	assert.Equal(t, extraction.MatchFuzzy, *r.Status)
	assert.Equal(t, interval.Char{StartPos: 4, EndPos: 27}, *r.CharInterval)
	assert.Equal(t, interval.Token{Start: 1, End: 6}, *r.TokenInterval)
}

func TestAlignFuzzyPrefersTrueNearMatch(t *testing.T) {
	a := New(DefaultOptions())
	text := "Patient denies chest pain. Reports pain in the left arm."
	tt := tokenize(t, text)

	r := a.Align("chest pian", tt)
	require.True(t, r.Matched())
	assert.Equal(t, extraction.MatchFuzzy, *r.Status)
	assert.Equal(t, interval.Char{StartPos: 15, EndPos: 25}, *r.CharInterval)
	assert.Equal(t, "chest pain", text[r.CharInterval.StartPos:r.CharInterval.EndPos])

	r = a.Align("left arn", tt)
	require.True(t, r.Matched())
	assert.Equal(t, "left arm", text[r.CharInterval.StartPos:r.CharInterval.EndPos])
}

func TestAlignFuzzyRejectsSharedAffixes(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "Patient denies chest pain. Reports pain in the left arm.")

	for _, cand := range []string{"chest pressure", "arm pain in the knee", "denies fever", "left leg", "reports nausea pain"} {
		r := a.Align(cand, tt)
		assert.False(t, r.Matched(), "candidate %q matched %v", cand, r.CharInterval)
	}
}

func TestAlignParaphraseNeverPanics(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, sentence)

	var r Result
	assert.NotPanics(t, func() {
		r = a.Align("patient has hypertension and DM2", tt)
	})
	if r.Matched() {
		assert.Equal(t, extraction.MatchFuzzy, *r.Status)
	} else {
		assert.Nil(t, r.TokenInterval)
		assert.Nil(t, r.Status)
	}
}

func TestAlignMiss(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, sentence)

	for _, cand := range []string{"", "   ", "completely unrelated oncology history", "!!!"} {
		r := a.Align(cand, tt)
		assert.False(t, r.Matched(), "candidate %q", cand)
		assert.Nil(t, r.CharInterval)
		assert.Nil(t, r.TokenInterval)
		assert.Nil(t, r.Status)
	}

	r := a.Align("anything", tokenize(t, ""))
	assert.False(t, r.Matched())
}

func TestAlignThresholdConfigurable(t *testing.T) {
	tt := tokenize(t, sentence)
	strict := New(Options{FuzzyThreshold: 0.99, Normalize: true})
	assert.False(t, strict.Align("patient has HTN and DM 2", tt).Matched())

	disabled := New(Options{FuzzyThreshold: 1.5, Normalize: true})
	assert.False(t, disabled.Align("patient has HTN and DM 2", tt).Matched())

	noNormalize := New(Options{FuzzyThreshold: 1.5})
	assert.False(t, noNormalize.Align("htn and dm2", tt).Matched())
}

func TestSessionRepeatedText(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "Gave aspirin at 8am; aspirin repeated at noon.")
	s := a.NewSession(tt)

	first := s.Align("aspirin")
	second := s.Align("aspirin")
	require.True(t, first.Matched())
	require.True(t, second.Matched())

	assert.Equal(t, interval.Char{StartPos: 5, EndPos: 12}, *first.CharInterval)
	assert.Equal(t, interval.Char{StartPos: 21, EndPos: 28}, *second.CharInterval)
	assert.False(t, first.CharInterval.Overlaps(*second.CharInterval))
	assert.Equal(t, extraction.MatchExact, *second.Status)

	third := s.Align("aspirin")
	assert.False(t, third.Matched(), "no occurrence left to claim")
	assert.Nil(t, third.CharInterval)
}

func TestSessionIndependentCursors(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "pain in chest; chest pain")
	s := a.NewSession(tt)

	r := s.Align("chest pain")
	require.True(t, r.Matched())
	assert.Equal(t, 15, r.CharInterval.StartPos)

	r = s.Align("pain")
	require.True(t, r.Matched())
	assert.Equal(t, 0, r.CharInterval.StartPos, "cursor is per text")
}

func TestAlignAll(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "Gave aspirin at 8am; aspirin repeated at noon.")
	in := []extraction.Extraction{
		{ExtractionClass: "medication", ExtractionText: "aspirin", GroupIndex: extraction.Ptr(0)},
		{ExtractionClass: "medication", ExtractionText: "aspirin", GroupIndex: extraction.Ptr(1)},
		{ExtractionClass: "medication", ExtractionText: "warfarin"},
		{ExtractionClass: "medication", ExtractionText: "aspirin", GroupIndex: extraction.Ptr(2)},
	}
	out := a.AlignAll(tt, in)
	require.Len(t, out, 4)

	assert.Equal(t, 5, out[0].CharInterval.StartPos)
	assert.Equal(t, 21, out[1].CharInterval.StartPos)
	assert.False(t, out[2].Aligned())
	assert.False(t, out[3].Aligned(), "more claims than occurrences")
	assert.Equal(t, 1, *out[1].GroupIndex)
	assert.Nil(t, in[0].CharInterval, "inputs are not mutated")
}

func TestAlignDeterministic(t *testing.T) {
	a := New(DefaultOptions())
	tt := tokenize(t, "chest pain, chest pain, chest pain")
	first := a.Align("chest pian", tt)
	for i := 0; i < 5; i++ {
		again := a.Align("chest pian", tt)
		assert.Equal(t, first, again)
	}
	require.True(t, first.Matched())
	assert.Equal(t, 0, first.CharInterval.StartPos, "leftmost of equally good runs")
}
