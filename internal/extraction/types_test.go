package extraction

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction/interval"
)

var docIDPattern = regexp.MustCompile(`^doc_[0-9a-f]{8}$`)

func TestDocumentIDLazyAndStable(t *testing.T) {
	d := NewDocument("text", "")
	first := d.ID()
	assert.Regexp(t, docIDPattern, first)
	assert.Equal(t, first, d.ID())

	other := NewDocument("text", "")
	assert.NotEqual(t, first, other.ID())
}

func TestDocumentIDConcurrentFirstAccess(t *testing.T) {
	d := NewDocument("text", "")
	ids := make([]string, 32)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = d.ID()
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestNewDocumentWithID(t *testing.T) {
	assert.Equal(t, "note-42", NewDocumentWithID("note-42", "x", "").ID())
	assert.Regexp(t, docIDPattern, NewDocumentWithID("", "x", "").ID())
}

func TestDocumentTokensCached(t *testing.T) {
	d := NewDocument("The patient has HTN.", "")
	a, err := d.Tokens()
	require.NoError(t, err)
	b, err := d.Tokens()
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 5, a.Len())
}

func TestDocumentTokensInvalid(t *testing.T) {
	d := NewDocument("ok \xff bad", "")
	_, err := d.Tokens()
	require.Error(t, err)
}

func TestExtractionClone(t *testing.T) {
	status := MatchExact
	e := Extraction{
		ExtractionClass: "condition",
		ExtractionText:  "HTN",
		CharInterval:    &interval.Char{StartPos: 1, EndPos: 4},
		TokenInterval:   &interval.Token{Start: 0, End: 1},
		AlignmentStatus: &status,
		GroupIndex:      Ptr(2),
		Attributes: map[string]any{
			"severity": "mild",
			"sites":    []string{"left", "right"},
		},
	}
	c := e.Clone()

	c.CharInterval.StartPos = 99
	*c.GroupIndex = 7
	*c.AlignmentStatus = MatchFuzzy
	c.Attributes["severity"] = "severe"
	c.Attributes["sites"].([]string)[0] = "both"

	assert.Equal(t, 1, e.CharInterval.StartPos)
	assert.Equal(t, 2, *e.GroupIndex)
	assert.Equal(t, MatchExact, e.Status())
	assert.Equal(t, "mild", e.Attributes["severity"])
	assert.Equal(t, []string{"left", "right"}, e.Attributes["sites"])
}

func TestStatusCounts(t *testing.T) {
	exact, fuzzy := MatchExact, MatchFuzzy
	doc := &AnnotatedDocument{
		Extractions: []Extraction{
			{AlignmentStatus: &exact, CharInterval: &interval.Char{}},
			{AlignmentStatus: &exact, CharInterval: &interval.Char{}},
			{AlignmentStatus: &fuzzy, CharInterval: &interval.Char{}},
			{},
		},
	}
	assert.Equal(t, map[string]int{
		"match_exact": 2,
		"match_fuzzy": 1,
		"unaligned":   1,
	}, doc.StatusCounts())
}
