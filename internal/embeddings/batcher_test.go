package embeddings

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// scriptedProvider returns v[0] = strconv.Atoi(text) and fails according to
// fail, which sees the 1-based call number.
type scriptedProvider struct {
	dim   int
	calls atomic.Int32
	fail  func(call int32, texts []string) error
	wrong func(texts []string) [][]float32

	mu      sync.Mutex
	batches [][]string
}

func (p *scriptedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	n := p.calls.Add(1)
	p.mu.Lock()
	p.batches = append(p.batches, texts)
	p.mu.Unlock()

	if p.fail != nil {
		if err := p.fail(n, texts); err != nil {
			return nil, err
		}
	}
	if p.wrong != nil {
		return p.wrong(texts), nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, p.dim)
		x, _ := strconv.Atoi(t)
		v[0] = float32(x)
		out[i] = v
	}
	return out, nil
}

func (p *scriptedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *scriptedProvider) Dimension() int { return p.dim }
func (p *scriptedProvider) Close() error   { return nil }

func numbered(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = strconv.Itoa(i)
	}
	return out
}

func fastConfig() BatcherConfig {
	return BatcherConfig{
		Model:       "test",
		BatchSize:   3,
		Concurrency: 4,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestBatcher_PreservesOrder(t *testing.T) {
	p := &scriptedProvider{dim: 4}
	b, err := NewBatcher(p, fastConfig())
	require.NoError(t, err)

	vectors, err := b.EmbedDocuments(context.Background(), numbered(10))
	require.NoError(t, err)
	require.Len(t, vectors, 10)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0])
	}

	// 10 texts in batches of 3.
	assert.Equal(t, int32(4), p.calls.Load())
	for _, batch := range p.batches {
		assert.LessOrEqual(t, len(batch), 3)
	}
}

func TestBatcher_RetriesTransientFailures(t *testing.T) {
	p := &scriptedProvider{dim: 4, fail: func(call int32, _ []string) error {
		if call <= 2 {
			return transient("status 503")
		}
		return nil
	}}
	b, err := NewBatcher(p, fastConfig())
	require.NoError(t, err)

	vectors, err := b.EmbedDocuments(context.Background(), numbered(2))
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestBatcher_FailsAfterMaxAttempts(t *testing.T) {
	p := &scriptedProvider{dim: 4, fail: func(int32, []string) error {
		return transient("status 503")
	}}
	b, err := NewBatcher(p, fastConfig())
	require.NoError(t, err)

	_, err = b.EmbedDocuments(context.Background(), numbered(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
	assert.Equal(t, int32(3), p.calls.Load())
}

func TestBatcher_FatalErrorNotRetried(t *testing.T) {
	p := &scriptedProvider{dim: 4, fail: func(int32, []string) error {
		return errors.New("model exploded")
	}}
	b, err := NewBatcher(p, fastConfig())
	require.NoError(t, err)

	_, err = b.EmbedDocuments(context.Background(), numbered(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestBatcher_OneBatchFailureFailsWholeCall(t *testing.T) {
	p := &scriptedProvider{dim: 4, fail: func(_ int32, texts []string) error {
		if texts[0] == "6" {
			return fatal("status 400: bad input")
		}
		return nil
	}}
	cfg := fastConfig()
	cfg.Concurrency = 1
	b, err := NewBatcher(p, cfg)
	require.NoError(t, err)

	vectors, err := b.EmbedDocuments(context.Background(), numbered(12))
	require.Error(t, err)
	assert.Nil(t, vectors)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	// Batches after the failing one are never scheduled.
	assert.LessOrEqual(t, p.calls.Load(), int32(4))
}

func TestBatcher_ValidatesResults(t *testing.T) {
	tests := []struct {
		name  string
		wrong func([]string) [][]float32
		want  string
	}{
		{"count mismatch", func(texts []string) [][]float32 {
			return [][]float32{make([]float32, 4)}
		}, "expected 2 vectors"},
		{"dimension mismatch", func(texts []string) [][]float32 {
			return [][]float32{make([]float32, 4), make([]float32, 5)}
		}, "dimension 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{dim: 4, wrong: tt.wrong}
			b, err := NewBatcher(p, fastConfig())
			require.NoError(t, err)

			_, err = b.EmbedDocuments(context.Background(), numbered(2))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEmbeddingService)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBatcher_Canceled(t *testing.T) {
	p := &scriptedProvider{dim: 4}
	b, err := NewBatcher(p, fastConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.EmbedDocuments(ctx, numbered(9))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBatcher_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{dim: 4, fail: func(int32, []string) error {
		cancel()
		return transient("status 503")
	}}
	cfg := fastConfig()
	cfg.BaseBackoff = time.Minute
	cfg.MaxBackoff = time.Minute
	b, err := NewBatcher(p, cfg)
	require.NoError(t, err)

	_, err = b.EmbedDocuments(ctx, numbered(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestBatcher_PerAttemptTimeout(t *testing.T) {
	p := &scriptedProvider{dim: 4, fail: func(int32, []string) error { return nil }}
	blocking := &blockingProvider{scriptedProvider: p}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	cfg.Timeout = 20 * time.Millisecond
	b, err := NewBatcher(blocking, cfg)
	require.NoError(t, err)

	_, err = b.EmbedDocuments(context.Background(), numbered(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingService)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, int32(2), blocking.calls.Load())
}

// blockingProvider blocks every call until its context ends.
type blockingProvider struct {
	*scriptedProvider
}

func (p *blockingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBatcher_EmptyInput(t *testing.T) {
	b, err := NewBatcher(&scriptedProvider{dim: 4}, fastConfig())
	require.NoError(t, err)

	_, err = b.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = b.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestBatcher_EmbedQuery(t *testing.T) {
	b, err := NewBatcher(&scriptedProvider{dim: 4}, fastConfig())
	require.NoError(t, err)

	v, err := b.EmbedQuery(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, float32(7), v[0])
	assert.Equal(t, 4, b.Dimension())
}

func TestBatcher_Backoff(t *testing.T) {
	b, err := NewBatcher(&scriptedProvider{dim: 4}, BatcherConfig{
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  300 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, b.backoff(1))
	assert.Equal(t, 200*time.Millisecond, b.backoff(2))
	assert.Equal(t, 300*time.Millisecond, b.backoff(3))
	assert.Equal(t, 300*time.Millisecond, b.backoff(40))
}

func TestNewBatcher_Validation(t *testing.T) {
	_, err := NewBatcher(nil, BatcherConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatcher(&scriptedProvider{dim: 0}, BatcherConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewBatcher(&scriptedProvider{dim: 4}, BatcherConfig{RequestsPerSecond: -1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBatcher_RecordsRetryMetrics(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	metrics := NewMetrics(tel.Meter("test"), nil)

	p := &scriptedProvider{dim: 4, fail: func(call int32, _ []string) error {
		if call <= 2 {
			return transient("status 429")
		}
		return nil
	}}
	b, err := NewBatcher(p, fastConfig(), WithMetrics(metrics))
	require.NoError(t, err)

	_, err = b.EmbedDocuments(context.Background(), numbered(1))
	require.NoError(t, err)

	rm, err := tel.Collect(context.Background())
	require.NoError(t, err)

	m, ok := telemetry.FindMetric(rm, "docindex.embedding.retries_total")
	require.True(t, ok)
	sum := m.Data.(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	_, ok = telemetry.FindMetric(rm, "docindex.embedding.duration_seconds")
	assert.True(t, ok)
}

func TestBatcher_WithTEI(t *testing.T) {
	srv, calls := teiStub(t, func(call int32) int {
		if call == 1 {
			return 503
		}
		return 200
	})
	client, err := NewTEIClient(TEIConfig{BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)
	b, err := NewBatcher(client, fastConfig())
	require.NoError(t, err)

	vectors, err := b.EmbedDocuments(context.Background(), []string{"ab"})
	require.NoError(t, err)
	assert.Equal(t, float32(2), vectors[0][0])
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}
