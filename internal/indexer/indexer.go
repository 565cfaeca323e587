// Package indexer runs document index builds.
//
// A build is gated by the registry, chunks the document text snapshotted at
// build start, embeds the chunks in parallel batches, builds an exact vector
// index and persists it as a new version. Only a fully persisted version is
// committed; any failure leaves the previously committed version in place.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/chunker"
	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/embeddings"
	"github.com/fyrsmithlabs/docindex/internal/events"
	"github.com/fyrsmithlabs/docindex/internal/indexstore"
	"github.com/fyrsmithlabs/docindex/internal/logging"
	"github.com/fyrsmithlabs/docindex/internal/registry"
	"github.com/fyrsmithlabs/docindex/internal/vectorindex"
)

const (
	// DefaultChunkSize and DefaultOverlap are word counts.
	DefaultChunkSize = 250
	DefaultOverlap   = 50
)

// Store is the persistence the indexer needs.
type Store interface {
	Persist(ctx context.Context, a indexstore.Artifact) (*domain.IndexRecord, error)
	NextVersion(ctx context.Context, docID string) (int, error)
	Prune(ctx context.Context, docID string) int
	DeleteVersion(ctx context.Context, rec domain.IndexRecord) error
	Delete(ctx context.Context, docID string) error
}

// Options configures an Indexer.
type Options struct {
	ChunkSize int
	Overlap   int
	Publisher events.Publisher
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Indexer builds and deletes document indexes.
type Indexer struct {
	registry  *registry.Registry
	embedder  embeddings.Embedder
	store     Store
	publisher events.Publisher
	tracer    trace.Tracer
	logger    *zap.Logger

	chunkSize int
	overlap   int
}

// BuildRequest asks for a build. Zero ChunkSize and Overlap select the
// configured defaults.
type BuildRequest struct {
	DocumentID string `json:"document_id"`
	ChunkSize  int    `json:"chunk_size"`
	Overlap    int    `json:"overlap"`
}

// BuildResult describes a finished build.
type BuildResult struct {
	DocumentID string           `json:"document_id"`
	BuildID    string           `json:"build_id"`
	Version    int              `json:"version,omitempty"`
	Chunks     int              `json:"total_chunks"`
	Dimension  int              `json:"embedding_dimension,omitempty"`
	IndexType  domain.IndexType `json:"index_type,omitempty"`
	Status     registry.State   `json:"status"`
	Duration   time.Duration    `json:"duration_ns"`
}

// New creates an Indexer.
func New(reg *registry.Registry, embedder embeddings.Embedder, store Store, opts Options) (*Indexer, error) {
	if reg == nil || embedder == nil || store == nil {
		return nil, errors.New("indexer requires a registry, an embedder and a store")
	}
	if opts.ChunkSize == 0 && opts.Overlap == 0 {
		opts.ChunkSize, opts.Overlap = DefaultChunkSize, DefaultOverlap
	}
	if err := chunker.ValidateParams(opts.ChunkSize, opts.Overlap); err != nil {
		return nil, fmt.Errorf("default chunking: %w", err)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/fyrsmithlabs/docindex/internal/indexer")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Indexer{
		registry:  reg,
		embedder:  embedder,
		store:     store,
		publisher: opts.Publisher,
		tracer:    opts.Tracer,
		logger:    opts.Logger.Named("indexer"),
		chunkSize: opts.ChunkSize,
		overlap:   opts.Overlap,
	}, nil
}

// Build indexes a document, or reindexes it when it already has a committed
// index. Parameter errors are returned before the document state changes.
// A build that starts and fails returns a result with status
// indexing_failed alongside an error wrapping domain.ErrIndexBuildFailed and
// the cause.
func (ix *Indexer) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	size, overlap := req.ChunkSize, req.Overlap
	if size == 0 && overlap == 0 {
		size, overlap = ix.chunkSize, ix.overlap
	} else if size == 0 {
		size = ix.chunkSize
	}
	if err := chunker.ValidateParams(size, overlap); err != nil {
		return nil, err
	}

	ticket, err := ix.registry.BeginBuild(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithDocumentID(ticket.Context(), req.DocumentID)
	ctx, span := ix.tracer.Start(ctx, "indexer.Build", trace.WithAttributes(
		attribute.String("document.id", req.DocumentID),
		attribute.String("build.id", ticket.ID),
		attribute.Int("chunk_size", size),
		attribute.Int("overlap", overlap),
	))
	defer span.End()

	log := ix.logger.With(logging.ContextFields(ctx)...).With(zap.String("build_id", ticket.ID))
	log.Info("build started",
		zap.String("prior_state", string(ticket.PriorState)),
		zap.Int("document_version", ticket.Document.Version))
	ix.publish(ctx, events.Event{Kind: events.KindBuildStarted, DocumentID: req.DocumentID, BuildID: ticket.ID})

	result := &BuildResult{DocumentID: req.DocumentID, BuildID: ticket.ID}
	rec, chunks, err := ix.run(ctx, ticket, size, overlap)
	if err == nil {
		err = ix.registry.Commit(ticket, *rec)
		if err != nil {
			// Removed mid-build; drop only the version this build persisted.
			if delErr := ix.store.DeleteVersion(context.WithoutCancel(ctx), *rec); delErr != nil {
				log.Warn("removing artifacts of a deleted document", zap.Error(delErr))
			}
		} else if n := ix.store.Prune(context.WithoutCancel(ctx), req.DocumentID); n > 0 {
			log.Debug("pruned expired versions", zap.Int("removed", n))
		}
	}
	result.Chunks = chunks
	result.Duration = time.Since(ticket.StartedAt)

	if err != nil {
		if failErr := ix.registry.Fail(ticket, err); failErr != nil {
			log.Debug("build ended for a removed document", zap.Error(failErr))
		}
		result.Status = registry.StateIndexingFailed
		if !errors.Is(err, domain.ErrIndexBuildFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrIndexBuildFailed, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		log.Error("build failed", zap.Error(err), zap.Duration("duration", result.Duration))
		ix.publish(ctx, events.Event{
			Kind:       events.KindBuildFailed,
			DocumentID: req.DocumentID,
			BuildID:    ticket.ID,
			Error:      err.Error(),
		})
		return result, err
	}

	result.Version = rec.Version
	result.Dimension = rec.Dimension
	result.IndexType = rec.IndexType
	result.Status = registry.StateIndexed
	span.SetAttributes(attribute.Int("index.version", rec.Version), attribute.Int("index.chunks", chunks))

	log.Info("build committed",
		zap.Int("version", rec.Version),
		zap.Int("chunks", chunks),
		zap.Int("dimension", rec.Dimension),
		zap.Duration("duration", result.Duration))
	ix.publish(ctx, events.Event{
		Kind:       events.KindBuildCommitted,
		DocumentID: req.DocumentID,
		BuildID:    ticket.ID,
		Version:    rec.Version,
		ChunkCount: chunks,
	})
	return result, nil
}

func (ix *Indexer) run(ctx context.Context, ticket *registry.Ticket, size, overlap int) (*domain.IndexRecord, int, error) {
	doc := ticket.Document

	chunks, err := chunker.ChunkDocument(&doc, size, overlap)
	if err != nil {
		return nil, 0, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, len(chunks), fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, len(chunks), fmt.Errorf("%w: %d vectors for %d chunks", domain.ErrEmbeddingService, len(vectors), len(chunks))
	}

	cvs := make([]vectorindex.ChunkVector, len(chunks))
	for i, c := range chunks {
		cvs[i] = vectorindex.ChunkVector{ChunkID: c.ID, Vector: vectors[i]}
	}
	idx, err := vectorindex.Build(cvs)
	if err != nil {
		return nil, len(chunks), fmt.Errorf("building index: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, len(chunks), err
	}
	version, err := ix.store.NextVersion(ctx, doc.ID)
	if err != nil {
		return nil, len(chunks), err
	}
	rec, err := ix.store.Persist(ctx, indexstore.Artifact{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Version:    version,
		Index:      idx,
		Chunks:     chunks,
	})
	if err != nil {
		return nil, len(chunks), err
	}
	return rec, len(chunks), nil
}

// Delete cancels any in-flight build of id and removes its registry entry,
// records and artifacts.
func (ix *Indexer) Delete(ctx context.Context, id string) error {
	if _, err := ix.registry.Remove(id); err != nil {
		return err
	}
	if err := ix.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting index of %q: %w", id, err)
	}
	ix.logger.Info("document deleted", logging.ContextFields(logging.WithDocumentID(ctx, id))...)
	ix.publish(ctx, events.Event{Kind: events.KindDeleted, DocumentID: id})
	return nil
}

// publish never fails the caller; delivery problems are logged.
func (ix *Indexer) publish(ctx context.Context, ev events.Event) {
	if err := ix.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		ix.logger.Warn("publishing event",
			zap.String("kind", string(ev.Kind)),
			zap.String("document_id", ev.DocumentID),
			zap.Error(err))
	}
}
