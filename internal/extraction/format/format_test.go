package format

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

func TestFormatterCompact(t *testing.T) {
	f := &Formatter{}
	out, err := f.Format([]extraction.Extraction{
		{ExtractionClass: "condition", ExtractionText: "HTN", Attributes: map[string]any{"status": "chronic"}},
		{ExtractionClass: "medication", ExtractionText: "aspirin"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"extractions":[{"condition":"HTN","condition_attributes":{"status":"chronic"}},{"medication":"aspirin","medication_attributes":{}}]}`,
		out)
}

func TestFormatterFencedIndented(t *testing.T) {
	out, err := (&Formatter{Fenced: true, Indent: "  "}).Format([]extraction.Extraction{
		{ExtractionClass: "condition", ExtractionText: "HTN"},
	})
	require.NoError(t, err)
	assert.Equal(t, "```json\n{\n  \"extractions\": [\n    {\n      \"condition\": \"HTN\",\n      \"condition_attributes\": {}\n    }\n  ]\n}\n```", out)
}

func TestFormatParseRoundTrip(t *testing.T) {
	in := []extraction.Extraction{
		{ExtractionClass: "condition", ExtractionText: "HTN", Attributes: map[string]any{"sites": []string{"a", "b"}}},
		{ExtractionClass: "medication", ExtractionText: "aspirin 81 mg"},
	}
	out, err := Default().Format(in)
	require.NoError(t, err)

	got, err := Parse(out)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "condition", got[0].ExtractionClass)
	assert.Equal(t, []string{"a", "b"}, got[0].Attributes["sites"])
	assert.Equal(t, "aspirin 81 mg", got[1].ExtractionText)
	assert.Equal(t, 1, *got[1].GroupIndex)
}

func TestParseShapes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		classes []string
		texts   []string
		groups  []int
	}{
		{
			name:    "api shape",
			raw:     `{"extractions":[{"extraction_class":"condition","extraction_text":"HTN","attributes":{"status":"chronic"}}]}`,
			classes: []string{"condition"},
			texts:   []string{"HTN"},
			groups:  []int{0},
		},
		{
			name:    "fenced",
			raw:     "Here you go:\n```json\n{\"extractions\":[{\"condition\":\"DM2\"}]}\n```\nDone.",
			classes: []string{"condition"},
			texts:   []string{"DM2"},
			groups:  []int{0},
		},
		{
			name:    "bare array",
			raw:     `[{"medication":"aspirin"},{"extraction_class":"dose","extraction_text":81}]`,
			classes: []string{"medication", "dose"},
			texts:   []string{"aspirin", "81"},
			groups:  []int{0, 1},
		},
		{
			name:    "several classes in one item keep key order",
			raw:     `{"extractions":[{"medication":"aspirin","medication_attributes":{"route":"po"},"dose":"81 mg"}]}`,
			classes: []string{"medication", "dose"},
			texts:   []string{"aspirin", "81 mg"},
			groups:  []int{0, 0},
		},
		{
			name:    "null class value skipped",
			raw:     `{"extractions":[{"condition":"HTN","allergy":null}]}`,
			classes: []string{"condition"},
			texts:   []string{"HTN"},
			groups:  []int{0},
		},
		{
			name: "empty list",
			raw:  `{"extractions":[]}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.raw)
			require.NoError(t, err)
			require.Len(t, got, len(tc.classes))
			for i, e := range got {
				assert.Equal(t, tc.classes[i], e.ExtractionClass)
				assert.Equal(t, tc.texts[i], e.ExtractionText)
				assert.Equal(t, tc.groups[i], *e.GroupIndex)
				assert.False(t, e.Aligned())
			}
		})
	}
}

func TestParseAttributesNormalized(t *testing.T) {
	got, err := Parse(`{"extractions":[{"extraction_class":"lab","extraction_text":"A1c 8.2","attributes":{"value":8.2,"flags":["high",1],"unit":null}}]}`)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "8.2", got[0].Attributes["value"])
	assert.Equal(t, []string{"high", "1"}, got[0].Attributes["flags"])
	v, ok := got[0].Attributes["unit"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"not json", "I could not find anything."},
		{"missing key", `{"results":[]}`},
		{"extractions not array", `{"extractions":{"a":"b"}}`},
		{"item not object", `{"extractions":["HTN"]}`},
		{"api missing text", `{"extractions":[{"extraction_class":"condition"}]}`},
		{"api empty class", `{"extractions":[{"extraction_class":"","extraction_text":"x"}]}`},
		{"object value", `{"extractions":[{"condition":{"text":"HTN"}}]}`},
		{"only attributes", `{"extractions":[{"condition_attributes":{}}]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.raw)
			require.Error(t, err)
			assert.Nil(t, got)

			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
			assert.True(t, errors.Is(err, apperrors.ErrInvalidModelOutput))
			assert.Equal(t, 422, apperrors.HTTPStatusCode(err))
		})
	}
}

func TestParseSkipsMalformedItems(t *testing.T) {
	raw := `{"extractions":[
		{"medication":"aspirin","medication_attributes":{"dose":"81mg"}},
		"HTN",
		{"extraction_class":"condition"},
		{"condition":{"text":"gout"}},
		{"extraction_class":"condition","extraction_text":"DM2"}
	]}`
	got, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "aspirin", got[0].ExtractionText)
	assert.Equal(t, "81mg", got[0].Attributes["dose"])
	assert.Equal(t, 0, *got[0].GroupIndex)
	assert.Equal(t, "DM2", got[1].ExtractionText)
	assert.Equal(t, 4, *got[1].GroupIndex, "group index follows the item position")

	got, err = Parse(`{"extractions":["HTN",{"condition_attributes":{}}]}`)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidModelOutput), "nothing readable")

	got, err = Parse(`{"extractions":[]}`)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCleanJSON(t *testing.T) {
	m, err := CleanJSON("```json\n{\"allergies\": \"NKDA\", \"vitals\": null}\n```")
	require.NoError(t, err)
	assert.Equal(t, "NKDA", m["allergies"])
	assert.Contains(t, m, "vitals")

	_, err = CleanJSON("not json at all")
	assert.True(t, errors.Is(err, apperrors.ErrInvalidModelOutput))

	_, err = CleanJSON("null")
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFences("  {\"a\":1}  "))
	assert.Equal(t, `[1]`, StripFences("```JSON [1] ```"))
}
