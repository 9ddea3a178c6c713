// Package store persists annotated documents. PostgresStore keeps them in a
// JSONB table; JSONLStore appends them to a JSON Lines file.
package store

import (
	"context"
	"errors"

	"github.com/nasher721/Extract721/internal/extraction"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
)

// Meta describes how a document was produced.
type Meta struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	JobID    string `json:"job_id,omitempty"`
}

// DocumentStore saves and loads annotated documents. Get returns an error
// wrapping apperrors.ErrDocumentNotFound for unknown ids.
type DocumentStore interface {
	Save(ctx context.Context, doc *extraction.AnnotatedDocument, meta Meta) error
	Get(ctx context.Context, documentID string) (*extraction.AnnotatedDocument, error)
}

// Multi writes to every store and reads from the first one holding the
// document.
type Multi []DocumentStore

func (m Multi) Save(ctx context.Context, doc *extraction.AnnotatedDocument, meta Meta) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, doc, meta); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Get(ctx context.Context, documentID string) (*extraction.AnnotatedDocument, error) {
	for _, s := range m {
		doc, err := s.Get(ctx, documentID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, apperrors.ErrDocumentNotFound) {
			return nil, err
		}
	}
	return nil, notFound(documentID)
}

func notFound(id string) error {
	return apperrors.Newf(apperrors.ErrDocumentNotFound, 404, "document %s not found", id)
}
