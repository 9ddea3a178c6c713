// Package validator checks API request bodies before they reach the
// pipeline and reports every offending field at once.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/llm"
)

const (
	maxTextLength       = 5 << 20
	maxDocumentIDLength = 128
	maxBatchItems       = 100
	maxSchemaFields     = 200
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, field := range keys {
		parts[i] = fmt.Sprintf("%s:%s", field, e.Fields[field])
	}
	return strings.Join(parts, "; ")
}

type fieldErrors map[string]string

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

func (f fieldErrors) text(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = field + " is required"
	} else if len(value) > maxTextLength {
		f[field] = fmt.Sprintf("%s must be at most %d bytes", field, maxTextLength)
	}
}

func (f fieldErrors) provider(name string) {
	if name != "" && !llm.Supported(name) {
		f["provider"] = fmt.Sprintf("unsupported provider, choose from %s", strings.Join(llm.Names(), ", "))
	}
}

func (f fieldErrors) schema(fields []annotator.SchemaField) {
	if len(fields) == 0 {
		f["extraction_schema"] = "at least one field is required"
		return
	}
	if len(fields) > maxSchemaFields {
		f["extraction_schema"] = fmt.Sprintf("at most %d fields are allowed", maxSchemaFields)
		return
	}
	seen := make(map[string]bool, len(fields))
	for i, sf := range fields {
		key := fmt.Sprintf("extraction_schema[%d].name", i)
		name := strings.TrimSpace(sf.Name)
		switch {
		case name == "":
			f[key] = "name is required"
		case seen[name]:
			f[key] = fmt.Sprintf("duplicate field %q", name)
		}
		seen[name] = true
	}
}

// ValidateExtractRequest checks text, prompt, examples, provider and the
// optional chunking overrides.
func ValidateExtractRequest(req *annotator.ExtractRequest) error {
	errs := make(fieldErrors)
	errs.text("text", req.Text)
	if strings.TrimSpace(req.Prompt) == "" {
		errs["prompt"] = "prompt is required"
	}
	for i, ex := range req.Examples {
		if strings.TrimSpace(ex.Text) == "" {
			errs[fmt.Sprintf("examples[%d].text", i)] = "example text is required"
		}
		for j, e := range ex.Extractions {
			if strings.TrimSpace(e.ExtractionClass) == "" {
				errs[fmt.Sprintf("examples[%d].extractions[%d].extraction_class", i, j)] = "extraction_class is required"
			}
		}
	}
	errs.provider(req.Provider)
	if len(req.DocumentID) > maxDocumentIDLength {
		errs["document_id"] = fmt.Sprintf("document_id must be at most %d characters", maxDocumentIDLength)
	}
	if req.MaxChunkTokens != nil && *req.MaxChunkTokens <= 0 {
		errs["max_chunk_tokens"] = "max_chunk_tokens must be positive"
	}
	if req.OverlapTokens != nil && *req.OverlapTokens < 0 {
		errs["overlap_tokens"] = "overlap_tokens must not be negative"
	}
	if req.ContextWindowChars != nil && *req.ContextWindowChars < 0 {
		errs["context_window_chars"] = "context_window_chars must not be negative"
	}
	return errs.err()
}

// ValidateStructuredRequest checks the text and schema.
func ValidateStructuredRequest(req *annotator.StructuredRequest) error {
	errs := make(fieldErrors)
	errs.text("text", req.Text)
	errs.schema(req.ExtractionSchema)
	errs.provider(req.Provider)
	return errs.err()
}

// ValidateClinicalRequest checks the note text.
func ValidateClinicalRequest(req *annotator.ClinicalRequest) error {
	errs := make(fieldErrors)
	errs.text("note_text", req.NoteText)
	errs.provider(req.Provider)
	return errs.err()
}

// ValidateBatchRequest checks item count, item ids and texts, and the
// schema.
func ValidateBatchRequest(req *annotator.BatchRequest) error {
	errs := make(fieldErrors)
	switch {
	case len(req.Items) == 0:
		errs["items"] = "at least one item is required"
	case len(req.Items) > maxBatchItems:
		errs["items"] = fmt.Sprintf("at most %d items are allowed", maxBatchItems)
	}
	seen := make(map[string]bool, len(req.Items))
	for i, item := range req.Items {
		if strings.TrimSpace(item.ID) == "" {
			errs[fmt.Sprintf("items[%d].id", i)] = "id is required"
		} else if seen[item.ID] {
			errs[fmt.Sprintf("items[%d].id", i)] = fmt.Sprintf("duplicate id %q", item.ID)
		}
		seen[item.ID] = true
		errs.text(fmt.Sprintf("items[%d].text", i), item.Text)
	}
	errs.schema(req.ExtractionSchema)
	errs.provider(req.Provider)
	return errs.err()
}
