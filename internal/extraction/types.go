// Package extraction defines the data model shared by the chunker, aligner and
// tracker: extractions, source documents, annotated results and few-shot
// examples.
package extraction

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nasher721/Extract721/internal/extraction/interval"
	"github.com/nasher721/Extract721/internal/extraction/tokenizer"
)

// AlignmentStatus describes how an extraction was anchored in its source.
type AlignmentStatus string

const (
	MatchExact   AlignmentStatus = "match_exact"
	MatchGreater AlignmentStatus = "match_greater"
	MatchLesser  AlignmentStatus = "match_lesser"
	MatchFuzzy   AlignmentStatus = "match_fuzzy"
)

// AttributeSuffix is appended to a class name to form the attributes key in
// the model answer format.
const AttributeSuffix = "_attributes"

// Extraction is one fact claimed by a model. Alignment fields stay nil when
// the text could not be located in the source.
type Extraction struct {
	ExtractionClass string           `json:"extraction_class" yaml:"extraction_class"`
	ExtractionText  string           `json:"extraction_text" yaml:"extraction_text"`
	CharInterval    *interval.Char   `json:"char_interval,omitempty" yaml:"-"`
	TokenInterval   *interval.Token  `json:"token_interval,omitempty" yaml:"-"`
	AlignmentStatus *AlignmentStatus `json:"alignment_status,omitempty" yaml:"-"`
	ExtractionIndex *int             `json:"extraction_index,omitempty" yaml:"-"`
	GroupIndex      *int             `json:"group_index,omitempty" yaml:"-"`
	Description     *string          `json:"description,omitempty" yaml:"description,omitempty"`
	Attributes      map[string]any   `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Aligned reports whether the extraction carries a source span.
func (e *Extraction) Aligned() bool {
	return e.CharInterval != nil
}

// Clone returns a deep copy of e.
func (e Extraction) Clone() Extraction {
	out := e
	if e.CharInterval != nil {
		c := *e.CharInterval
		out.CharInterval = &c
	}
	if e.TokenInterval != nil {
		t := *e.TokenInterval
		out.TokenInterval = &t
	}
	if e.AlignmentStatus != nil {
		s := *e.AlignmentStatus
		out.AlignmentStatus = &s
	}
	if e.ExtractionIndex != nil {
		i := *e.ExtractionIndex
		out.ExtractionIndex = &i
	}
	if e.GroupIndex != nil {
		g := *e.GroupIndex
		out.GroupIndex = &g
	}
	if e.Description != nil {
		d := *e.Description
		out.Description = &d
	}
	if e.Attributes != nil {
		out.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			if list, ok := v.([]string); ok {
				v = append([]string(nil), list...)
			}
			out.Attributes[k] = v
		}
	}
	return out
}

// Status returns the alignment status, or "" when unaligned.
func (e *Extraction) Status() AlignmentStatus {
	if e.AlignmentStatus == nil {
		return ""
	}
	return *e.AlignmentStatus
}

// Document is an input text. Its id and token sequence are computed on first
// use and cached.
type Document struct {
	Text              string
	AdditionalContext string

	idOnce sync.Once
	id     string

	tokOnce sync.Once
	tokens  *tokenizer.TokenizedText
	tokErr  error
}

// NewDocument creates a Document whose id is generated lazily.
func NewDocument(text, additionalContext string) *Document {
	return &Document{Text: text, AdditionalContext: additionalContext}
}

// NewDocumentWithID creates a Document with a caller-supplied id. An empty id
// falls back to lazy generation.
func NewDocumentWithID(id, text, additionalContext string) *Document {
	d := &Document{Text: text, AdditionalContext: additionalContext}
	if id != "" {
		d.idOnce.Do(func() { d.id = id })
	}
	return d
}

// ID returns the document id, generating "doc_" plus 8 hex characters the
// first time it is called.
func (d *Document) ID() string {
	d.idOnce.Do(func() {
		d.id = NewDocumentID()
	})
	return d.id
}

// Tokens returns the tokenized text, computing it once.
func (d *Document) Tokens() (*tokenizer.TokenizedText, error) {
	d.tokOnce.Do(func() {
		d.tokens, d.tokErr = tokenizer.Tokenize(d.Text)
	})
	return d.tokens, d.tokErr
}

// NewDocumentID returns a random id of the form doc_xxxxxxxx.
func NewDocumentID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// AnnotatedDocument is the merged result for one Document.
type AnnotatedDocument struct {
	DocumentID  string       `json:"document_id"`
	Text        string       `json:"text,omitempty"`
	Extractions []Extraction `json:"extractions"`

	tokOnce sync.Once
	tokens  *tokenizer.TokenizedText
	tokErr  error
}

// Tokens returns the tokenized text of the annotated document.
func (a *AnnotatedDocument) Tokens() (*tokenizer.TokenizedText, error) {
	a.tokOnce.Do(func() {
		a.tokens, a.tokErr = tokenizer.Tokenize(a.Text)
	})
	return a.tokens, a.tokErr
}

// StatusCounts tallies extractions by alignment status. Unaligned
// extractions are counted under "unaligned".
func (a *AnnotatedDocument) StatusCounts() map[string]int {
	counts := make(map[string]int, 5)
	for i := range a.Extractions {
		s := a.Extractions[i].Status()
		if s == "" {
			counts["unaligned"]++
			continue
		}
		counts[string(s)]++
	}
	return counts
}

// ExampleData is a few-shot demonstration passed to the prompt generator.
type ExampleData struct {
	Text        string       `json:"text" yaml:"text"`
	Extractions []Extraction `json:"extractions" yaml:"extractions"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
