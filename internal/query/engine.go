// Package query answers natural-language queries against committed indexes.
//
// The engine reads only the committed record the registry hands out, loads
// that exact version through an LRU cache keyed by (document, version,
// checksum), and ranks hits by score descending, then chunk id ascending,
// then document id ascending. A reindex therefore changes what a query sees
// only once the new version is committed.
package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/embeddings"
	"github.com/fyrsmithlabs/docindex/internal/indexstore"
	"github.com/fyrsmithlabs/docindex/internal/logging"
	"github.com/fyrsmithlabs/docindex/internal/registry"
	"github.com/fyrsmithlabs/docindex/internal/synthesis"
)

const (
	defaultK           = 5
	defaultMaxK        = 100
	defaultHighCut     = 0.75
	defaultLowCut      = 0.5
	defaultCacheSize   = 64
	defaultConcurrency = 8

	// MinThreshold admits every result.
	MinThreshold = -1.0
)

// Loader loads a specific committed index version.
type Loader interface {
	LoadRecord(ctx context.Context, rec domain.IndexRecord) (*indexstore.Loaded, error)
}

// Options configures an Engine. Zero values select defaults; a nil
// DefaultThreshold admits everything.
type Options struct {
	DefaultK         int
	MaxK             int
	DefaultThreshold *float64
	HighCut          float64
	LowCut           float64
	CacheSize        int
	// Concurrency bounds parallel per-document searches.
	Concurrency int

	Synthesizer synthesis.Synthesizer
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Request is a query. Threshold nil selects the default threshold.
type Request struct {
	DocumentID string   `json:"document_id,omitempty"`
	Text       string   `json:"query"`
	K          int      `json:"k,omitempty"`
	Threshold  *float64 `json:"threshold,omitempty"`
}

// Response carries ranked results and their citations. Both slices are
// non-nil, possibly empty.
type Response struct {
	Results   []domain.QueryResult `json:"results"`
	Citations []domain.Citation    `json:"citations"`
}

// AnswerResponse is a synthesized answer with the results it was built from.
type AnswerResponse struct {
	Answer    string               `json:"answer"`
	Results   []domain.QueryResult `json:"results"`
	Citations []domain.Citation    `json:"citations"`
}

// SummaryRequest asks for a summary of a registered document or of Text.
type SummaryRequest struct {
	DocumentID string
	Text       string
	Type       synthesis.SummaryType
}

// SummaryResponse is a generated summary.
type SummaryResponse struct {
	Summary   string                `json:"summary"`
	WordCount int                   `json:"word_count"`
	Type      synthesis.SummaryType `json:"type"`
	Status    string                `json:"status"`
}

// Engine runs queries.
type Engine struct {
	registry *registry.Registry
	embedder embeddings.Embedder
	loader   Loader
	synth    synthesis.Synthesizer
	tracer   trace.Tracer
	logger   *zap.Logger

	defaultK    int
	maxK        int
	threshold   float64
	highCut     float64
	lowCut      float64
	concurrency int

	cache *lru.Cache[string, *indexstore.Loaded]
	loads singleflight.Group
}

// New creates an Engine.
func New(reg *registry.Registry, embedder embeddings.Embedder, loader Loader, opts Options) (*Engine, error) {
	if reg == nil || embedder == nil || loader == nil {
		return nil, errors.New("query engine requires a registry, an embedder and a loader")
	}
	if opts.MaxK <= 0 {
		opts.MaxK = defaultMaxK
	}
	if opts.DefaultK <= 0 {
		opts.DefaultK = min(defaultK, opts.MaxK)
	}
	if opts.DefaultK > opts.MaxK {
		return nil, fmt.Errorf("%w: default k %d exceeds max k %d", domain.ErrValidation, opts.DefaultK, opts.MaxK)
	}
	threshold := MinThreshold
	if opts.DefaultThreshold != nil {
		threshold = *opts.DefaultThreshold
	}
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}
	if opts.HighCut == 0 && opts.LowCut == 0 {
		opts.HighCut, opts.LowCut = defaultHighCut, defaultLowCut
	}
	if opts.HighCut < opts.LowCut {
		return nil, fmt.Errorf("%w: high cut %.3f below low cut %.3f", domain.ErrValidation, opts.HighCut, opts.LowCut)
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/fyrsmithlabs/docindex/internal/query")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cache, err := lru.New[string, *indexstore.Loaded](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating index cache: %w", err)
	}

	return &Engine{
		registry:    reg,
		embedder:    embedder,
		loader:      loader,
		synth:       opts.Synthesizer,
		tracer:      opts.Tracer,
		logger:      opts.Logger.Named("query"),
		defaultK:    opts.DefaultK,
		maxK:        opts.MaxK,
		threshold:   threshold,
		highCut:     opts.HighCut,
		lowCut:      opts.LowCut,
		concurrency: opts.Concurrency,
		cache:       cache,
	}, nil
}

func validateThreshold(t float64) error {
	if math.IsNaN(t) || t < -1 || t > 1 {
		return fmt.Errorf("%w: threshold must be within [-1, 1]", domain.ErrValidation)
	}
	return nil
}

// target is one committed index to search.
type target struct {
	record   domain.IndexRecord
	filename string
}

// Query embeds the request text, searches one document (DocumentID set) or
// every indexed document, keeps the top K by score and then drops results
// scoring below the threshold.
func (e *Engine) Query(ctx context.Context, req Request) (resp *Response, err error) {
	k, threshold, err := e.normalize(&req)
	if err != nil {
		return nil, err
	}

	scope := "all"
	if req.DocumentID != "" {
		scope = "document"
		ctx = logging.WithDocumentID(ctx, req.DocumentID)
	}
	ctx, span := e.tracer.Start(ctx, "query.Query", trace.WithAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.Int("k", k),
		attribute.Float64("threshold", threshold),
	))
	start := time.Now()
	defer func() {
		QueryDuration.WithLabelValues(scope).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "query failed")
		} else {
			span.SetAttributes(attribute.Int("results", len(resp.Results)))
		}
		span.End()
	}()

	targets, err := e.targets(req.DocumentID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("documents", len(targets)))
	if len(targets) == 0 {
		return &Response{Results: []domain.QueryResult{}, Citations: []domain.Citation{}}, nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	perDoc := make([][]domain.QueryResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results, err := e.search(gctx, t, vector, k)
			if err != nil {
				return fmt.Errorf("document %q: %w", t.record.DocumentID, err)
			}
			perDoc[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []domain.QueryResult
	for _, rs := range perDoc {
		merged = append(merged, rs...)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ChunkID != b.ChunkID {
			return a.ChunkID < b.ChunkID
		}
		return a.DocumentID < b.DocumentID
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	results := make([]domain.QueryResult, 0, len(merged))
	for _, r := range merged {
		if r.Score < threshold {
			continue
		}
		r.Confidence = Tier(r.Score, e.highCut, e.lowCut)
		results = append(results, r)
	}

	e.logger.Debug("query done", append(logging.ContextFields(ctx),
		zap.Int("documents", len(targets)),
		zap.Int("candidates", len(merged)),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))...)

	return &Response{Results: results, Citations: Citations(results)}, nil
}

func (e *Engine) normalize(req *Request) (k int, threshold float64, err error) {
	if strings.TrimSpace(req.Text) == "" {
		return 0, 0, fmt.Errorf("%w: query text required", domain.ErrValidation)
	}
	k = req.K
	if k <= 0 {
		k = e.defaultK
	}
	if k > e.maxK {
		return 0, 0, fmt.Errorf("%w: k %d exceeds maximum %d", domain.ErrValidation, k, e.maxK)
	}
	threshold = e.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := validateThreshold(threshold); err != nil {
		return 0, 0, err
	}
	return k, threshold, nil
}

func (e *Engine) targets(docID string) ([]target, error) {
	if docID != "" {
		rec, entry, err := e.registry.Queryable(docID)
		if err != nil {
			return nil, err
		}
		return []target{{record: rec, filename: filenameOf(rec, entry)}}, nil
	}
	entries := e.registry.QueryableAll()
	targets := make([]target, 0, len(entries))
	for _, entry := range entries {
		targets = append(targets, target{record: *entry.Record, filename: filenameOf(*entry.Record, entry)})
	}
	return targets, nil
}

func filenameOf(rec domain.IndexRecord, entry registry.Entry) string {
	if rec.Filename != "" {
		return rec.Filename
	}
	return entry.Document.Filename
}

func (e *Engine) search(ctx context.Context, t target, vector []float32, k int) ([]domain.QueryResult, error) {
	loaded, err := e.load(ctx, t.record)
	if err != nil {
		return nil, err
	}
	hits, err := loaded.Index.Search(vector, k)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QueryResult, 0, len(hits))
	for _, h := range hits {
		c, ok := loaded.Chunk(h.ChunkID)
		if !ok {
			return nil, fmt.Errorf("%w: hit for unknown chunk %d", domain.ErrIndexCorruption, h.ChunkID)
		}
		out = append(out, domain.QueryResult{
			DocumentID: t.record.DocumentID,
			ChunkID:    c.ID,
			Filename:   t.filename,
			Text:       c.Text,
			Score:      h.Score,
			Page:       c.Page,
			Start:      c.Start,
			End:        c.End,
		})
	}
	return out, nil
}

func cacheKey(rec domain.IndexRecord) string {
	return rec.DocumentID + "\x00" + strconv.Itoa(rec.Version) + "\x00" + rec.Checksum
}

// load returns the loaded index for rec, reading it at most once per key
// even under concurrent queries.
func (e *Engine) load(ctx context.Context, rec domain.IndexRecord) (*indexstore.Loaded, error) {
	key := cacheKey(rec)
	if loaded, ok := e.cache.Get(key); ok {
		CacheHitsTotal.Inc()
		return loaded, nil
	}
	CacheMissesTotal.Inc()

	v, err, _ := e.loads.Do(key, func() (any, error) {
		if loaded, ok := e.cache.Get(key); ok {
			return loaded, nil
		}
		loaded, err := e.loader.LoadRecord(context.WithoutCancel(ctx), rec)
		if err != nil {
			return nil, err
		}
		e.cache.Add(key, loaded)
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*indexstore.Loaded), nil
}

// Purge drops every cached index.
func (e *Engine) Purge() {
	e.cache.Purge()
}

// Answer runs the query and asks the synthesizer to answer from the
// results. With no results above the threshold the answer is empty and the
// synthesizer is not called.
func (e *Engine) Answer(ctx context.Context, req Request) (*AnswerResponse, error) {
	if e.synth == nil {
		return nil, fmt.Errorf("%w: answer synthesis is not configured", domain.ErrUnavailable)
	}
	resp, err := e.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &AnswerResponse{Results: resp.Results, Citations: resp.Citations}
	if len(resp.Results) == 0 {
		return out, nil
	}
	answer, err := e.synth.Answer(ctx, req.Text, resp.Results)
	if err != nil {
		return nil, err
	}
	out.Answer = answer
	return out, nil
}

// Summarize summarizes req.Text, or the registered text of req.DocumentID
// when Text is empty. A document that is unknown or has no text is
// reported as not processed.
func (e *Engine) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResponse, error) {
	if e.synth == nil {
		return nil, fmt.Errorf("%w: summaries are not configured", domain.ErrUnavailable)
	}
	if req.Type == "" {
		req.Type = synthesis.DefaultSummaryType
	}

	text := req.Text
	if text == "" {
		if req.DocumentID == "" {
			return nil, fmt.Errorf("%w: document_id or text required", domain.ErrValidation)
		}
		entry, err := e.registry.Get(req.DocumentID)
		if err != nil || !entry.HasText() {
			return nil, fmt.Errorf("%w: document %q has not been processed", domain.ErrNotProcessed, req.DocumentID)
		}
		text = entry.Document.Text
	}

	summary, err := e.synth.Summarize(ctx, text, req.Type)
	if err != nil {
		return nil, err
	}
	return &SummaryResponse{
		Summary:   summary,
		WordCount: len(strings.Fields(summary)),
		Type:      req.Type,
		Status:    "success",
	}, nil
}
