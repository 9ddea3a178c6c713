package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nasher721/Extract721/internal/extraction"
)

// DefaultJSONLName is the file JSONLStore appends to.
const DefaultJSONLName = "annotated_documents.jsonl"

// Record is one line of a JSONL file.
type Record struct {
	DocumentID  string                  `json:"document_id"`
	Text        string                  `json:"text"`
	Extractions []extraction.Extraction `json:"extractions"`
	Meta        Meta                    `json:"meta"`
	SavedAt     time.Time               `json:"saved_at"`
}

// Document converts r back to an AnnotatedDocument.
func (r Record) Document() *extraction.AnnotatedDocument {
	return &extraction.AnnotatedDocument{DocumentID: r.DocumentID, Text: r.Text, Extractions: r.Extractions}
}

// JSONLStore appends documents to one JSON Lines file in dir. A later line
// for the same id supersedes earlier ones.
type JSONLStore struct {
	mu   sync.Mutex
	path string
}

// NewJSONLStore creates the directory if needed.
func NewJSONLStore(dir string) (*JSONLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating jsonl directory: %w", err)
	}
	return &JSONLStore{path: filepath.Join(dir, DefaultJSONLName)}, nil
}

// Path returns the file being written.
func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Save(_ context.Context, doc *extraction.AnnotatedDocument, meta Meta) error {
	line, err := json.Marshal(Record{
		DocumentID:  doc.DocumentID,
		Text:        doc.Text,
		Extractions: doc.Extractions,
		Meta:        meta,
		SavedAt:     time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling document %s: %w", doc.DocumentID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("appending document %s: %w", doc.DocumentID, err)
	}
	return f.Sync()
}

func (s *JSONLStore) Get(_ context.Context, documentID string) (*extraction.AnnotatedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, err := ReadJSONL(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, notFound(documentID)
	}
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].DocumentID == documentID {
			return records[i].Document(), nil
		}
	}
	return nil, notFound(documentID)
}

// ReadJSONL decodes every record in path.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeJSONL(f)
}

// DecodeJSONL decodes records from r, one JSON object per line. Blank lines
// are skipped.
func DecodeJSONL(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

// WriteJSONL writes docs to path, replacing any existing file. The data is
// written to a temporary file first and renamed into place.
func WriteJSONL(path string, docs []*extraction.AnnotatedDocument) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, doc := range docs {
		if err := enc.Encode(Record{DocumentID: doc.DocumentID, Text: doc.Text, Extractions: doc.Extractions}); err != nil {
			f.Close()
			return fmt.Errorf("encoding document %s: %w", doc.DocumentID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flushing %s: %w", tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmpPath, err)
	}
	return nil
}
