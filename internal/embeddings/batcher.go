package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fyrsmithlabs/docindex/internal/config"
	"github.com/fyrsmithlabs/docindex/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
	defaultMaxAttempts = 3
	defaultBaseBackoff = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
)

// BatcherConfig controls batching, parallelism and retries.
type BatcherConfig struct {
	Model             string
	BatchSize         int
	Concurrency       int
	RequestsPerSecond float64 // 0 disables rate limiting
	MaxAttempts       int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	Timeout           time.Duration // per attempt, 0 disables
	// Dimension every vector must have; 0 uses the provider's.
	Dimension int
}

// BatcherConfigFrom builds a BatcherConfig from the embeddings section.
func BatcherConfigFrom(c config.EmbeddingsConfig) BatcherConfig {
	return BatcherConfig{
		Model:             c.Model,
		BatchSize:         c.BatchSize,
		Concurrency:       c.Concurrency,
		RequestsPerSecond: c.RequestsPerSecond,
		MaxAttempts:       c.MaxAttempts,
		BaseBackoff:       c.BaseBackoff.Duration(),
		MaxBackoff:        c.MaxBackoff.Duration(),
		Timeout:           c.Timeout.Duration(),
		Dimension:         c.Dimension,
	}
}

// Batcher wraps a Provider with batching, bounded parallelism, a token
// bucket, per-attempt timeouts and exponential-backoff retries of transient
// failures. Output order always matches input order.
type Batcher struct {
	provider Provider
	cfg      BatcherConfig
	limiter  *rate.Limiter
	metrics  *Metrics
	logger   *zap.Logger
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) BatcherOption {
	return func(b *Batcher) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) BatcherOption {
	return func(b *Batcher) {
		if m != nil {
			b.metrics = m
		}
	}
}

// NewBatcher creates a Batcher around provider.
func NewBatcher(provider Provider, cfg BatcherConfig, opts ...BatcherOption) (*Batcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = provider.Dimension()
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension unknown", ErrInvalidConfig)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("%w: requests per second cannot be negative", ErrInvalidConfig)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	b := &Batcher{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics == nil {
		b.metrics = NewMetrics(nil, b.logger)
	}
	return b, nil
}

// Dimension returns the dimension every returned vector has.
func (b *Batcher) Dimension() int {
	return b.cfg.Dimension
}

// Model returns the configured model name.
func (b *Batcher) Model() string {
	return b.cfg.Model
}

// EmbedDocuments embeds texts in batches. Any batch failure fails the call.
func (b *Batcher) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)

	for start := 0; start < len(texts); start += b.cfg.BatchSize {
		if gctx.Err() != nil {
			break
		}
		end := min(start+b.cfg.BatchSize, len(texts))
		g.Go(func() error {
			batch := texts[start:end]
			vectors, err := b.withRetry(gctx, "embed_documents", len(batch), func(actx context.Context) ([][]float32, error) {
				return b.provider.EmbedDocuments(actx, batch)
			})
			if err != nil {
				return err
			}
			copy(out[start:end], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, ErrEmptyInput)
	}
	vectors, err := b.withRetry(ctx, "embed_query", 1, func(actx context.Context) ([][]float32, error) {
		v, err := b.provider.EmbedQuery(actx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// withRetry runs call until it succeeds, fails fatally, exhausts the attempt
// budget or ctx ends. Results are checked for count and dimension.
func (b *Batcher) withRetry(ctx context.Context, op string, n int, call func(context.Context) ([][]float32, error)) ([][]float32, error) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= b.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			b.metrics.RecordRetry(ctx, b.cfg.Model, op)
			b.logger.Debug("retrying embedding batch",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Int("batch_size", n),
				zap.Error(lastErr))
			select {
			case <-time.After(b.backoff(attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := b.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		vectors, err := b.attempt(ctx, call)
		if err == nil {
			if err := b.check(vectors, n); err != nil {
				b.metrics.RecordBatch(ctx, b.cfg.Model, op, time.Since(start), n, err)
				return nil, err
			}
			b.metrics.RecordBatch(ctx, b.cfg.Model, op, time.Since(start), n, nil)
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !IsTransient(err) {
			if !errors.Is(err, domain.ErrEmbeddingService) {
				err = fmt.Errorf("%w: %w", domain.ErrEmbeddingService, err)
			}
			b.metrics.RecordBatch(ctx, b.cfg.Model, op, time.Since(start), n, err)
			return nil, err
		}
	}

	err := fmt.Errorf("%w: giving up after %d attempts: %v", domain.ErrEmbeddingService, b.cfg.MaxAttempts, lastErr)
	b.metrics.RecordBatch(ctx, b.cfg.Model, op, time.Since(start), n, err)
	return nil, err
}

func (b *Batcher) attempt(ctx context.Context, call func(context.Context) ([][]float32, error)) ([][]float32, error) {
	if b.cfg.Timeout <= 0 {
		return call(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	vectors, err := call(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		return nil, transient("attempt timed out after %s", b.cfg.Timeout)
	}
	return vectors, err
}

// backoff returns base * 2^(retry-1), capped at MaxBackoff.
func (b *Batcher) backoff(retry int) time.Duration {
	d := b.cfg.BaseBackoff * time.Duration(1<<(retry-1))
	if d <= 0 || d > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return d
}

func (b *Batcher) check(vectors [][]float32, n int) error {
	if len(vectors) != n {
		return fatal("expected %d vectors, got %d", n, len(vectors))
	}
	for i, v := range vectors {
		if len(v) != b.cfg.Dimension {
			return fatal("vector %d has dimension %d, expected %d", i, len(v), b.cfg.Dimension)
		}
		for _, x := range v {
			if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				return fatal("vector %d contains non-finite values", i)
			}
		}
	}
	return nil
}
