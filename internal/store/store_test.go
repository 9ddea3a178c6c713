package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/interval"
	"github.com/nasher721/Extract721/pkg/config"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/postgres"
)

func annotated(id string, classes ...string) *extraction.AnnotatedDocument {
	doc := &extraction.AnnotatedDocument{DocumentID: id, Text: "Patient has HTN and DM2."}
	exact := extraction.MatchExact
	for i, c := range classes {
		doc.Extractions = append(doc.Extractions, extraction.Extraction{
			ExtractionClass: c,
			ExtractionText:  "HTN",
			CharInterval:    &interval.Char{StartPos: 12, EndPos: 15},
			AlignmentStatus: &exact,
			ExtractionIndex: extraction.Ptr(i),
			Attributes:      map[string]any{"severity": "mild"},
		})
	}
	return doc
}

func TestJSONLStoreSaveGet(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "doc_missing")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)

	require.NoError(t, s.Save(ctx, annotated("doc_a", "condition"), Meta{Provider: "gemini"}))
	require.NoError(t, s.Save(ctx, annotated("doc_b", "medication"), Meta{}))
	require.NoError(t, s.Save(ctx, annotated("doc_a", "condition", "diagnosis"), Meta{}))

	got, err := s.Get(ctx, "doc_a")
	require.NoError(t, err)
	require.Len(t, got.Extractions, 2, "latest line wins")
	assert.Equal(t, interval.Char{StartPos: 12, EndPos: 15}, *got.Extractions[0].CharInterval)
	assert.Equal(t, "mild", got.Extractions[0].Attributes["severity"])

	_, err = s.Get(ctx, "doc_c")
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))

	records, err := ReadJSONL(s.Path())
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "gemini", records[0].Meta.Provider)
}

func TestWriteJSONLAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.jsonl")
	docs := []*extraction.AnnotatedDocument{annotated("doc_1", "condition"), annotated("doc_2")}
	require.NoError(t, WriteJSONL(path, docs))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	records, err := ReadJSONL(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "doc_2", records[1].DocumentID)
	assert.Empty(t, records[1].Extractions)

	require.NoError(t, WriteJSONL(path, docs[:1]))
	records, err = ReadJSONL(path)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDecodeJSONLReportsLine(t *testing.T) {
	_, err := DecodeJSONL(strings.NewReader("{\"document_id\":\"a\"}\n\n{bad\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestMultiStore(t *testing.T) {
	a, err := NewJSONLStore(t.TempDir())
	require.NoError(t, err)
	b, err := NewJSONLStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Save(ctx, annotated("only_b", "x"), Meta{}))
	m := Multi{a, b}
	got, err := m.Get(ctx, "only_b")
	require.NoError(t, err)
	assert.Equal(t, "only_b", got.DocumentID)

	require.NoError(t, m.Save(ctx, annotated("both"), Meta{}))
	_, err = a.Get(ctx, "both")
	assert.NoError(t, err)

	_, err = m.Get(ctx, "none")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}

func TestClassesDistinctSorted(t *testing.T) {
	assert.Equal(t, []string{"condition", "medication"}, classes(annotated("d", "medication", "condition", "medication")))
}

// TestPostgresStore runs against a live database when LX_TEST_POSTGRES_HOST
// is set.
func TestPostgresStore(t *testing.T) {
	host := os.Getenv("LX_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("LX_TEST_POSTGRES_HOST not set")
	}
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Postgres.Host = host
	db, err := postgres.New(cfg.Postgres)
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()
	require.NoError(t, s.Migrate(ctx))

	id := extraction.NewDocumentID()
	require.NoError(t, s.Save(ctx, annotated(id, "condition"), Meta{Provider: "gemini", Model: "gemini-2.5-flash"}))
	require.NoError(t, s.Save(ctx, annotated(id, "condition", "medication"), Meta{}))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, got.Extractions, 2)

	ids, err := s.ListByClass(ctx, "medication", 10)
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	_, err = s.Get(ctx, "doc_absent0")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
}
