// Package router wires the extraction API routes and applies the middleware
// chain (RequestID → CORS → Metrics → RateLimit → Timeout).
package router

import (
	"net/http"
	"time"

	"github.com/nasher721/Extract721/internal/analytics"
	"github.com/nasher721/Extract721/internal/annotator/handler"
	"github.com/nasher721/Extract721/internal/auth/ratelimit"
	gwmw "github.com/nasher721/Extract721/internal/gateway/middleware"
	"github.com/nasher721/Extract721/pkg/health"
	"github.com/nasher721/Extract721/pkg/metrics"
	pkgmw "github.com/nasher721/Extract721/pkg/middleware"
)

// Deps are the router's optional collaborators. Nil values switch the
// matching route or middleware off.
type Deps struct {
	Health    *health.Checker
	Analytics *analytics.Handler
	Metrics   *metrics.Metrics
	Limiter   *ratelimit.Limiter
	RateLimit int
	CORS      gwmw.CORSConfig
	Timeout   time.Duration
}

// New builds the full HTTP handler.
//
// Route table:
//
//	GET    /api/providers           → provider catalogue
//	POST   /api/extract             → chunked extraction with alignment
//	POST   /api/extract-structured  → schema extraction
//	POST   /api/clinical-extract    → clinical note template
//	POST   /api/clinical-extract-stream → clinical template as server-sent events
//	POST   /api/extract-batch       → schema extraction over many texts
//	POST   /api/jobs                → queue an extraction on Kafka
//	GET    /api/documents/{id}      → stored annotated document
//	POST   /api/parse-file          → .txt/.docx/.pdf to text
//	POST   /api/export-csv          → rows to CSV
//	POST   /api/export-xlsx         → rows to XLSX
//	GET    /api/analytics           → alignment statistics
//	GET    /health, /health/live, /health/ready
func New(h *handler.Handler, d Deps) http.Handler {
	mux := http.NewServeMux()

	if d.Health != nil {
		mux.HandleFunc("GET /health", d.Health.Handler())
		mux.HandleFunc("GET /health/live", d.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", d.Health.ReadyHandler())
	}

	mux.HandleFunc("GET /api/providers", h.Providers)
	mux.HandleFunc("POST /api/extract", h.Extract)
	mux.HandleFunc("POST /api/extract-structured", h.Structured)
	mux.HandleFunc("POST /api/clinical-extract", h.Clinical)
	mux.HandleFunc("POST /api/clinical-extract-stream", h.ClinicalStream)
	mux.HandleFunc("POST /api/extract-batch", h.Batch)
	mux.HandleFunc("POST /api/jobs", h.EnqueueJob)
	mux.HandleFunc("GET /api/documents/{id}", h.GetDocument)
	mux.HandleFunc("POST /api/parse-file", h.ParseFile)
	mux.HandleFunc("POST /api/export-csv", h.ExportCSV)
	mux.HandleFunc("POST /api/export-xlsx", h.ExportXLSX)

	if d.Analytics != nil {
		mux.HandleFunc("GET /api/analytics", d.Analytics.Stats)
	}

	mws := []func(http.Handler) http.Handler{
		pkgmw.RequestID,
		gwmw.CORS(d.CORS),
	}
	if d.Metrics != nil {
		mws = append(mws, pkgmw.Metrics(d.Metrics))
	}
	mws = append(mws,
		gwmw.RateLimit(d.Limiter, d.RateLimit),
		pkgmw.Timeout(d.Timeout),
	)
	return pkgmw.Chain(mux, mws...)
}
