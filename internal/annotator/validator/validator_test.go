package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/extraction"
)

func fields(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	return ve.Fields
}

func TestValidateExtractRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     annotator.ExtractRequest
		wantErr []string
	}{
		{
			name: "valid",
			req:  annotator.ExtractRequest{Text: "Pt takes aspirin.", Prompt: "Extract meds.", Provider: "Gemini"},
		},
		{
			name:    "missing text and prompt",
			req:     annotator.ExtractRequest{Text: "  "},
			wantErr: []string{"text", "prompt"},
		},
		{
			name:    "unknown provider",
			req:     annotator.ExtractRequest{Text: "t", Prompt: "p", Provider: "mistral"},
			wantErr: []string{"provider"},
		},
		{
			name: "bad example",
			req: annotator.ExtractRequest{Text: "t", Prompt: "p", Examples: []extraction.ExampleData{
				{Text: "", Extractions: []extraction.Extraction{{ExtractionText: "x"}}},
			}},
			wantErr: []string{"examples[0].text", "examples[0].extractions[0].extraction_class"},
		},
		{
			name: "bad overrides",
			req: annotator.ExtractRequest{Text: "t", Prompt: "p",
				MaxChunkTokens:     extraction.Ptr(0),
				OverlapTokens:      extraction.Ptr(-1),
				ContextWindowChars: extraction.Ptr(-5),
			},
			wantErr: []string{"max_chunk_tokens", "overlap_tokens", "context_window_chars"},
		},
		{
			name:    "long document id",
			req:     annotator.ExtractRequest{Text: "t", Prompt: "p", DocumentID: strings.Repeat("d", 129)},
			wantErr: []string{"document_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExtractRequest(&tt.req)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			got := fields(t, err)
			assert.Len(t, got, len(tt.wantErr))
			for _, f := range tt.wantErr {
				assert.Contains(t, got, f)
			}
		})
	}
}

func TestValidateStructuredRequest(t *testing.T) {
	ok := annotator.StructuredRequest{Text: "t", ExtractionSchema: []annotator.SchemaField{{Name: "age", Type: "number"}}}
	assert.NoError(t, ValidateStructuredRequest(&ok))

	empty := annotator.StructuredRequest{Text: "t"}
	assert.Equal(t, "at least one field is required", fields(t, ValidateStructuredRequest(&empty))["extraction_schema"])

	dup := annotator.StructuredRequest{Text: "t", ExtractionSchema: []annotator.SchemaField{{Name: "age"}, {Name: " "}, {Name: "age"}}}
	got := fields(t, ValidateStructuredRequest(&dup))
	assert.Equal(t, "name is required", got["extraction_schema[1].name"])
	assert.Equal(t, `duplicate field "age"`, got["extraction_schema[2].name"])
}

func TestValidateClinicalRequest(t *testing.T) {
	assert.NoError(t, ValidateClinicalRequest(&annotator.ClinicalRequest{NoteText: "72M"}))
	got := fields(t, ValidateClinicalRequest(&annotator.ClinicalRequest{}))
	assert.Equal(t, map[string]string{"note_text": "note_text is required"}, got)
}

func TestValidateBatchRequest(t *testing.T) {
	schema := []annotator.SchemaField{{Name: "name"}}

	got := fields(t, ValidateBatchRequest(&annotator.BatchRequest{ExtractionSchema: schema}))
	assert.Contains(t, got, "items")

	items := make([]annotator.BatchItem, 101)
	for i := range items {
		items[i] = annotator.BatchItem{ID: strings.Repeat("i", i+1), Text: "t"}
	}
	got = fields(t, ValidateBatchRequest(&annotator.BatchRequest{Items: items, ExtractionSchema: schema}))
	assert.Equal(t, "at most 100 items are allowed", got["items"])

	got = fields(t, ValidateBatchRequest(&annotator.BatchRequest{
		Items:            []annotator.BatchItem{{ID: "a", Text: "t"}, {ID: "a", Text: ""}, {Text: "t"}},
		ExtractionSchema: schema,
	}))
	assert.Equal(t, `duplicate id "a"`, got["items[1].id"])
	assert.Equal(t, "items[1].text is required", got["items[1].text"])
	assert.Equal(t, "id is required", got["items[2].id"])
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"text": "a", "prompt": "b"}}
	assert.Equal(t, "prompt:b; text:a", err.Error())
}
