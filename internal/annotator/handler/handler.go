// Package handler serves the extraction HTTP API.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nasher721/Extract721/internal/annotator"
	"github.com/nasher721/Extract721/internal/annotator/validator"
	"github.com/nasher721/Extract721/internal/export"
	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/fileparse"
	"github.com/nasher721/Extract721/internal/llm"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/logger"
)

const (
	defaultMaxBodyBytes = 10 << 20
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// JobQueue accepts annotation jobs. annotator.JobPublisher implements it.
type JobQueue interface {
	Enqueue(ctx context.Context, req annotator.ExtractRequest) (*annotator.JobAccepted, error)
}

// DocumentGetter loads stored annotated documents.
type DocumentGetter interface {
	Get(ctx context.Context, id string) (*extraction.AnnotatedDocument, error)
}

// Options carries the optional collaborators. A nil Jobs or Documents makes
// the matching routes answer 503.
type Options struct {
	Jobs            JobQueue
	Documents       DocumentGetter
	Files           *fileparse.Parser
	DefaultProvider string
	MaxBodyBytes    int64
}

type Handler struct {
	pipeline *annotator.Pipeline
	opts     Options
	logger   *slog.Logger
}

func New(p *annotator.Pipeline, opts Options) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Files == nil {
		opts.Files = fileparse.New("", nil)
	}
	return &Handler{
		pipeline: p,
		opts:     opts,
		logger:   slog.Default().With("component", "annotator-handler"),
	}
}

// Providers lists the provider catalogue.
func (h *Handler) Providers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"providers":        llm.Catalogue,
		"default_provider": h.opts.DefaultProvider,
	})
}

// Extract runs the full pipeline over one text.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var req annotator.ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateExtractRequest(&req)) {
		return
	}
	resp, err := h.pipeline.Extract(r.Context(), req)
	if err != nil {
		h.fail(w, r, "extraction failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("document extracted",
		"document_id", resp.Document.DocumentID,
		"chunks", resp.Stats.Chunks,
		"extractions", resp.Stats.Extractions,
		"cached", resp.Stats.Cached,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Structured extracts schema fields as one JSON object.
func (h *Handler) Structured(w http.ResponseWriter, r *http.Request) {
	var req annotator.StructuredRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateStructuredRequest(&req)) {
		return
	}
	data, err := h.pipeline.Structured(r.Context(), req)
	if err != nil {
		h.fail(w, r, "structured extraction failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// Clinical runs the clinical note template.
func (h *Handler) Clinical(w http.ResponseWriter, r *http.Request) {
	var req annotator.ClinicalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateClinicalRequest(&req)) {
		return
	}
	res, err := h.pipeline.Clinical(r.Context(), req)
	if err != nil {
		h.fail(w, r, "clinical extraction failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"structured":     res.Data,
		"raw_llm_output": res.Raw,
	})
}

// ClinicalStream runs the clinical note template and relays the model's
// reply as server-sent events: one `data: {"chunk": ...}` event per piece,
// then `event: end`. A failure before the first piece is a normal JSON
// error; after it, an `event: error` closes the stream.
func (h *Handler) ClinicalStream(w http.ResponseWriter, r *http.Request) {
	var req annotator.ClinicalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateClinicalRequest(&req)) {
		return
	}

	sse := newEventWriter(w)
	_, err := h.pipeline.ClinicalStream(r.Context(), req, func(chunk string) error {
		return sse.send("", map[string]string{"chunk": chunk})
	})
	switch {
	case err == nil:
		sse.send("end", map[string]string{"status": "complete"})
	case !sse.started:
		h.fail(w, r, "clinical extraction failed", err)
	default:
		logger.FromContext(r.Context()).Error("clinical stream failed", "error", err)
		sse.send("error", map[string]string{"error": err.Error()})
	}
}

// Batch runs schema extraction over several texts.
func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	var req annotator.BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateBatchRequest(&req)) {
		return
	}
	results, err := h.pipeline.Batch(r.Context(), req)
	if err != nil {
		h.fail(w, r, "batch extraction failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// EnqueueJob queues an extraction for the worker.
func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	if h.opts.Jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "job queue is not configured")
		return
	}
	var req annotator.ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.validate(w, validator.ValidateExtractRequest(&req)) {
		return
	}
	accepted, err := h.opts.Jobs.Enqueue(r.Context(), req)
	if err != nil {
		h.fail(w, r, "queueing job failed", err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, accepted)
}

// GetDocument returns a stored annotated document.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if h.opts.Documents == nil {
		h.writeError(w, http.StatusServiceUnavailable, "document store is not configured")
		return
	}
	doc, err := h.opts.Documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, "loading document failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// ParseFile extracts text from an uploaded file in the "file" form field.
func (h *Handler) ParseFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "reading upload failed")
		return
	}
	res, err := h.opts.Files.Parse(r.Context(), header.Filename, content)
	if err != nil {
		h.fail(w, r, "parsing file failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

type exportRequest struct {
	Rows     []export.Row `json:"rows"`
	Filename string       `json:"filename"`
}

// ExportCSV returns the rows as a CSV download.
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !h.decode(w, r, &req) {
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, req.Rows); err != nil {
		h.fail(w, r, "csv export failed", err)
		return
	}
	h.writeFile(w, "text/csv; charset=utf-8", export.SanitizeFilename(req.Filename)+".csv", buf.Bytes())
}

// ExportXLSX returns the rows as an XLSX download.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !h.decode(w, r, &req) {
		return
	}
	data, err := export.XLSX(req.Rows)
	if err != nil {
		h.fail(w, r, "xlsx export failed", err)
		return
	}
	h.writeFile(w, xlsxContentType, export.SanitizeFilename(req.Filename)+".xlsx", data)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (h *Handler) validate(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "validation failed",
			"fields":  validationErr.Fields,
		})
		return false
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
	return false
}

// fail logs err and answers with its mapped status. AppError messages are
// shown to the caller; unclassified errors are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	logger.FromContext(r.Context()).Error(msg, "error", err, "status_code", status)

	message := err.Error()
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.Message
	case status == http.StatusInternalServerError:
		message = msg
	}
	h.writeError(w, status, message)
}

func (h *Handler) writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write download", "filename", filename, "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
