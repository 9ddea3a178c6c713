package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/lib/pq"

	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/pkg/postgres"
)

// Schema creates the annotated document table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS annotated_documents (
    document_id   TEXT PRIMARY KEY,
    text          TEXT NOT NULL,
    extractions   JSONB NOT NULL,
    classes       TEXT[] NOT NULL DEFAULT '{}',
    provider      TEXT,
    model         TEXT,
    job_id        TEXT,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS annotated_documents_classes_idx ON annotated_documents USING GIN (classes)`,
}

// PostgresStore keeps annotated documents in PostgreSQL.
type PostgresStore struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "document-store"),
	}
}

// Migrate creates the table and index if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.Migrate(ctx, Schema...)
}

// Save upserts doc. A re-run of the same document id replaces the earlier
// extractions.
func (s *PostgresStore) Save(ctx context.Context, doc *extraction.AnnotatedDocument, meta Meta) error {
	data, err := json.Marshal(doc.Extractions)
	if err != nil {
		return fmt.Errorf("marshaling extractions: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO annotated_documents (document_id, text, extractions, classes, provider, model, job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (document_id) DO UPDATE SET
			text = EXCLUDED.text,
			extractions = EXCLUDED.extractions,
			classes = EXCLUDED.classes,
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			job_id = EXCLUDED.job_id,
			updated_at = NOW()`,
		doc.DocumentID, doc.Text, data, pq.Array(classes(doc)),
		nullable(meta.Provider), nullable(meta.Model), nullable(meta.JobID),
	)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.DocumentID, err)
	}
	s.logger.Debug("document saved", "doc_id", doc.DocumentID, "extractions", len(doc.Extractions))
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, documentID string) (*extraction.AnnotatedDocument, error) {
	var (
		text string
		data []byte
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT text, extractions FROM annotated_documents WHERE document_id = $1`, documentID,
	).Scan(&text, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	doc := &extraction.AnnotatedDocument{DocumentID: documentID, Text: text}
	if err := json.Unmarshal(data, &doc.Extractions); err != nil {
		return nil, fmt.Errorf("decoding extractions of %s: %w", documentID, err)
	}
	return doc, nil
}

// ListByClass returns the ids of documents with at least one extraction of
// class, newest first.
func (s *PostgresStore) ListByClass(ctx context.Context, class string, limit int) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT document_id FROM annotated_documents WHERE classes @> $1 ORDER BY updated_at DESC LIMIT $2`,
		pq.Array([]string{class}), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents by class: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning document id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func classes(doc *extraction.AnnotatedDocument) []string {
	seen := make(map[string]struct{})
	for i := range doc.Extractions {
		seen[doc.Extractions[i].ExtractionClass] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
