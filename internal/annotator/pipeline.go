package annotator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nasher721/Extract721/internal/analytics"
	"github.com/nasher721/Extract721/internal/extraction"
	"github.com/nasher721/Extract721/internal/extraction/aligner"
	"github.com/nasher721/Extract721/internal/extraction/chunker"
	"github.com/nasher721/Extract721/internal/extraction/format"
	"github.com/nasher721/Extract721/internal/extraction/prompt"
	"github.com/nasher721/Extract721/internal/extraction/tracker"
	"github.com/nasher721/Extract721/internal/llm"
	"github.com/nasher721/Extract721/internal/store"
	"github.com/nasher721/Extract721/pkg/config"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/logger"
	"github.com/nasher721/Extract721/pkg/metrics"
	"github.com/nasher721/Extract721/pkg/tracing"
)

// Options holds the pipeline defaults. Chunk sizes and the context window
// can be overridden per request.
type Options struct {
	Chunk              chunker.Config
	ContextWindowChars int
	TrackerShards      int
	Concurrency        int
	Aligner            aligner.Options
	Temperature        float64
	MaxOutputTokens    int
	CacheResults       bool
}

// OptionsFromConfig maps the extraction, llm and annotator sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Chunk: chunker.Config{
			MaxChunkTokens:    cfg.Extraction.MaxChunkTokens,
			OverlapTokens:     cfg.Extraction.OverlapTokens,
			RespectBoundaries: cfg.Extraction.RespectBoundaries,
		},
		ContextWindowChars: cfg.Extraction.ContextWindowChars,
		TrackerShards:      cfg.Extraction.TrackerShards,
		Concurrency:        cfg.Annotator.Concurrency,
		Aligner: aligner.Options{
			FuzzyThreshold: cfg.Extraction.FuzzyMatchThreshold,
			Normalize:      cfg.Extraction.Normalize,
		},
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		CacheResults:    cfg.Annotator.CacheResults,
	}
}

// ProviderSource resolves a provider name and optional key. llm.Registry
// implements it.
type ProviderSource interface {
	Get(name, apiKey string) (llm.Provider, error)
}

// EventSink receives one event per annotated document. analytics.Collector
// implements it.
type EventSink interface {
	Track(ev analytics.AlignmentEvent)
}

// Deps are the pipeline's collaborators. Everything except Providers may be
// nil.
type Deps struct {
	Providers       ProviderSource
	Cache           *Cache
	Store           store.DocumentStore
	Events          EventSink
	Metrics         *metrics.Metrics
	Tracer          *tracing.Tracer
	DefaultProvider string
	DefaultModel    string
}

// Pipeline runs documents through chunk, prompt, model, parse, align and
// merge.
type Pipeline struct {
	opts    Options
	deps    Deps
	aligner *aligner.Aligner
	logger  *slog.Logger
}

// New creates a Pipeline.
func New(opts Options, deps Deps) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		opts:    opts,
		deps:    deps,
		aligner: aligner.New(opts.Aligner),
		logger:  slog.Default().With("component", "annotator"),
	}
}

// Options returns the pipeline defaults.
func (p *Pipeline) Options() Options {
	return p.opts
}

type jobIDKey struct{}

// WithJobID returns a copy of ctx carrying the queued job id, recorded on
// stored documents and events.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

func jobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}

// run is one document's pass through the pipeline.
type run struct {
	provider llm.Provider
	model    string
	opts     Options
	tracker  *tracker.Tracker
	doc      *extraction.Document
}

type chunkOutcome struct {
	extractions  []extraction.Extraction
	promptTokens int
	totalTokens  int
	err          error
}

// Extract annotates req.Text. Chunk failures are reported in the response;
// an error is returned only for bad input, an unusable provider, a
// document whose every chunk failed, or cancellation.
func (p *Pipeline) Extract(ctx context.Context, req ExtractRequest) (*ExtractResponse, error) {
	opts, err := p.requestOptions(req)
	if err != nil {
		return nil, err
	}
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}

	ctx, span := p.deps.Tracer.Start(ctx, "extract", logger.RequestID(ctx))
	defer p.deps.Tracer.Finish(span)
	span.SetAttr("provider", provider.Name())

	compute := func() (*ExtractResponse, error) {
		gen := prompt.NewGenerator(prompt.Template{Description: req.Prompt, Examples: req.Examples})
		tr := tracker.New(gen, tracker.Options{ContextWindowChars: opts.ContextWindowChars, Shards: 1})
		doc := extraction.NewDocumentWithID(req.DocumentID, req.Text, req.AdditionalContext)
		return p.annotate(ctx, run{provider: provider, model: model, opts: opts, tracker: tr, doc: doc})
	}

	if p.deps.Cache == nil || !opts.CacheResults {
		return compute()
	}
	resp, hit, err := p.deps.Cache.GetOrCompute(ctx, CacheKey(req, provider.Name(), model, opts), compute)
	if err != nil {
		return nil, err
	}
	if !hit {
		return resp, nil
	}
	cached := *resp
	cached.Stats.Cached = true
	span.SetAttr("cached", true)
	p.recordCached(ctx, &cached)
	return &cached, nil
}

// DocumentOutcome is the result of one document of AnnotateAll.
type DocumentOutcome struct {
	DocumentID string
	Response   *ExtractResponse
	Err        error
}

// AnnotateAll runs docs concurrently with the prompt, examples and provider
// of req, sharing one tracker. Per-document failures are reported in the
// outcomes; the error covers setup problems and cancellation.
func (p *Pipeline) AnnotateAll(ctx context.Context, req ExtractRequest, docs []*extraction.Document) ([]DocumentOutcome, error) {
	opts, err := p.requestOptions(req)
	if err != nil {
		return nil, err
	}
	provider, model, err := p.resolve(req.Provider, req.ModelID, req.APIKey)
	if err != nil {
		return nil, err
	}
	gen := prompt.NewGenerator(prompt.Template{Description: req.Prompt, Examples: req.Examples})
	tr := tracker.New(gen, tracker.Options{ContextWindowChars: opts.ContextWindowChars, Shards: opts.TrackerShards})

	outcomes := make([]DocumentOutcome, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			resp, err := p.annotate(gctx, run{provider: provider, model: model, opts: opts, tracker: tr, doc: doc})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			outcomes[i] = DocumentOutcome{DocumentID: doc.ID(), Response: resp, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Pipeline) requestOptions(req ExtractRequest) (Options, error) {
	opts := p.opts
	if req.MaxChunkTokens != nil {
		opts.Chunk.MaxChunkTokens = *req.MaxChunkTokens
	}
	if req.OverlapTokens != nil {
		opts.Chunk.OverlapTokens = *req.OverlapTokens
	}
	if req.ContextWindowChars != nil {
		if *req.ContextWindowChars < 0 {
			return opts, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"context_window_chars must not be negative, got %d", *req.ContextWindowChars)
		}
		opts.ContextWindowChars = *req.ContextWindowChars
	}
	if err := opts.Chunk.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// resolve picks the provider and model. An empty model falls back to the
// configured default for the default provider, and to the first catalogued
// model otherwise.
func (p *Pipeline) resolve(name, model, apiKey string) (llm.Provider, string, error) {
	if name == "" {
		name = p.deps.DefaultProvider
	}
	provider, err := p.deps.Providers.Get(name, apiKey)
	if err != nil {
		return nil, "", err
	}
	if model == "" {
		if name == p.deps.DefaultProvider && p.deps.DefaultModel != "" {
			model = p.deps.DefaultModel
		} else {
			model = llm.DefaultModel(name)
		}
	}
	return provider, model, nil
}

func (p *Pipeline) annotate(ctx context.Context, r run) (*ExtractResponse, error) {
	start := time.Now()
	docID := r.doc.ID()
	ctx, span := tracing.StartChildSpan(ctx, "annotate")
	defer span.End()
	span.SetAttr("document_id", docID)
	defer r.tracker.Forget(docID)
	log := logger.FromContext(ctx).With("component", "annotator", "document_id", docID)

	chunks, err := chunker.SplitWithConfig(r.doc, r.opts.Chunk)
	if err != nil {
		p.recordFailure(ctx, r, docID, start, err)
		return nil, err
	}
	span.SetAttr("chunks", len(chunks))

	// Prompts are built in chunk order so each carries its predecessor's tail.
	prompts := make([]string, len(chunks))
	for i, c := range chunks {
		prompts[i], err = r.tracker.BuildPrompt(c.Text, docID, c.AdditionalContext)
		if err != nil {
			p.recordFailure(ctx, r, docID, start, err)
			return nil, err
		}
	}

	var (
		results      = make([]tracker.ChunkResult, 0, len(chunks))
		promptTokens int
		totalTokens  int
	)
	seq := tracker.NewSequencer(func(i int, o chunkOutcome) {
		c := chunks[i]
		promptTokens += o.promptTokens
		totalTokens += o.totalTokens
		if o.err != nil {
			log.Warn("chunk failed", "chunk", i, "error", o.err)
			results = append(results, tracker.NewChunkResult(c, nil, o.err))
			return
		}
		tt, err := c.Tokens()
		if err != nil {
			results = append(results, tracker.NewChunkResult(c, nil, err))
			return
		}
		results = append(results, tracker.NewChunkResult(c, p.aligner.AlignAll(tt, o.extractions), nil))
	})

	jsonMode := llm.SupportsJSONMode(r.provider.Name())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i := range chunks {
		g.Go(func() error {
			o := p.callChunk(gctx, r, i, prompts[i], jsonMode)
			if err := ctx.Err(); err != nil {
				return err
			}
			seq.Submit(i, o)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.recordFailure(ctx, r, docID, start, err)
		return nil, err
	}

	failed := tracker.Failed(results)
	if len(chunks) > 0 && len(failed) == len(chunks) {
		err := fmt.Errorf("all %d chunks of %s failed: %w", len(chunks), docID, failed[0].Err)
		p.recordFailure(ctx, r, docID, start, err)
		return nil, err
	}

	doc := tracker.Merge(docID, r.doc.Text, results)
	resp := &ExtractResponse{
		Success:  true,
		Document: doc,
		Stats: Stats{
			Provider:     r.provider.Name(),
			Model:        r.model,
			Chunks:       len(chunks),
			FailedChunks: len(failed),
			Extractions:  len(doc.Extractions),
			StatusCounts: doc.StatusCounts(),
			PromptTokens: promptTokens,
			TotalTokens:  totalTokens,
			LatencyMs:    time.Since(start).Milliseconds(),
		},
	}
	for _, f := range failed {
		resp.ChunkErrors = append(resp.ChunkErrors, ChunkError{Index: f.Index, Error: f.Err.Error()})
	}

	p.save(ctx, r, doc)
	p.recordSuccess(ctx, r, resp, start)
	log.Info("document annotated",
		"chunks", len(chunks),
		"failed_chunks", len(failed),
		"extractions", len(doc.Extractions),
		"latency_ms", resp.Stats.LatencyMs,
	)
	return resp, nil
}

func (p *Pipeline) callChunk(ctx context.Context, r run, index int, text string, jsonMode bool) chunkOutcome {
	ctx, span := tracing.StartChildSpan(ctx, "chunk")
	defer span.End()
	span.SetAttr("chunk", index)

	resp, err := r.provider.Generate(ctx, llm.Request{
		Model:           r.model,
		Prompt:          text,
		Temperature:     r.opts.Temperature,
		MaxOutputTokens: r.opts.MaxOutputTokens,
		JSONMode:        jsonMode,
	})
	if err != nil {
		span.SetAttr("error", err.Error())
		return chunkOutcome{err: err}
	}
	out := chunkOutcome{promptTokens: resp.PromptTokens, totalTokens: resp.TotalTokens}
	out.extractions, out.err = format.Parse(resp.Text)
	span.SetAttr("extractions", len(out.extractions))
	return out
}

func (p *Pipeline) save(ctx context.Context, r run, doc *extraction.AnnotatedDocument) {
	if p.deps.Store == nil {
		return
	}
	meta := store.Meta{Provider: r.provider.Name(), Model: r.model, JobID: jobIDFrom(ctx)}
	if err := p.deps.Store.Save(ctx, doc, meta); err != nil {
		logger.FromContext(ctx).Error("saving annotated document failed",
			"document_id", doc.DocumentID,
			"error", err,
		)
	}
}

func (p *Pipeline) recordSuccess(ctx context.Context, r run, resp *ExtractResponse, start time.Time) {
	outcome := "ok"
	if resp.Stats.FailedChunks > 0 {
		outcome = "partial"
	}
	if m := p.deps.Metrics; m != nil {
		m.DocumentsAnnotated.WithLabelValues(outcome).Inc()
		m.AnnotateLatency.WithLabelValues(r.provider.Name()).Observe(time.Since(start).Seconds())
		m.ChunksPerDocument.Observe(float64(resp.Stats.Chunks))
		for status, n := range resp.Stats.StatusCounts {
			m.ExtractionsTotal.WithLabelValues(status).Add(float64(n))
		}
	}
	if p.deps.Events == nil {
		return
	}
	ev := analytics.NewAlignmentEvent(resp.Document)
	p.fillEvent(ctx, &ev, resp.Stats)
	p.deps.Events.Track(ev)
}

func (p *Pipeline) recordCached(ctx context.Context, resp *ExtractResponse) {
	if m := p.deps.Metrics; m != nil {
		m.DocumentsAnnotated.WithLabelValues("cached").Inc()
	}
	if p.deps.Events == nil {
		return
	}
	ev := analytics.NewAlignmentEvent(resp.Document)
	p.fillEvent(ctx, &ev, resp.Stats)
	p.deps.Events.Track(ev)
}

func (p *Pipeline) recordFailure(ctx context.Context, r run, docID string, start time.Time, err error) {
	logger.FromContext(ctx).Error("annotation failed",
		"component", "annotator",
		"document_id", docID,
		"error", err,
	)
	if m := p.deps.Metrics; m != nil {
		m.DocumentsAnnotated.WithLabelValues("failed").Inc()
	}
	if p.deps.Events == nil {
		return
	}
	ev := analytics.NewAlignmentEvent(nil)
	ev.Type = analytics.EventDocumentFailed
	ev.DocumentID = docID
	ev.Error = err.Error()
	p.fillEvent(ctx, &ev, Stats{
		Provider:  r.provider.Name(),
		Model:     r.model,
		LatencyMs: time.Since(start).Milliseconds(),
	})
	p.deps.Events.Track(ev)
}

func (p *Pipeline) fillEvent(ctx context.Context, ev *analytics.AlignmentEvent, s Stats) {
	ev.JobID = jobIDFrom(ctx)
	ev.RequestID = logger.RequestID(ctx)
	ev.Provider = s.Provider
	ev.Model = s.Model
	ev.Chunks = s.Chunks
	ev.FailedChunks = s.FailedChunks
	ev.PromptTokens = s.PromptTokens
	ev.LatencyMs = s.LatencyMs
	ev.Cached = s.Cached
}
