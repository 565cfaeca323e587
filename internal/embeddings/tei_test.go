package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// teiStub answers /embed with one 3-d vector per input whose first element
// is the input length.
func teiStub(t *testing.T, status func(call int32) int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		require.Equal(t, "/embed", r.URL.Path)

		if status != nil {
			if code := status(n); code != http.StatusOK {
				http.Error(w, "stub failure", code)
				return
			}
		}

		var req struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
			var single string
			require.NoError(t, json.Unmarshal(req.Inputs, &single))
			inputs = []string{single}
		}
		out := make([][]float32, len(inputs))
		for i, in := range inputs {
			out[i] = []float32{float32(len(in)), 1, 0}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTEIClient_EmbedDocuments(t *testing.T) {
	srv, _ := teiStub(t, nil)
	c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL + "/", Dimension: 3})
	require.NoError(t, err)

	vectors, err := c.EmbedDocuments(context.Background(), []string{"a", "abcd"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(4), vectors[1][0])
	assert.Equal(t, 3, c.Dimension())
}

func TestTEIClient_EmbedQuery(t *testing.T) {
	srv, _ := teiStub(t, nil)
	c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	v, err := c.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1, 0}, v)

	_, err = c.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := teiStub(t, func(int32) int { return tt.status })
			c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL, Dimension: 3})
			require.NoError(t, err)

			_, err = c.EmbedDocuments(context.Background(), []string{"x"})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrEmbeddingService)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestTEIClient_TransportErrorIsTransient(t *testing.T) {
	srv, _ := teiStub(t, nil)
	url := srv.URL
	srv.Close()

	c, err := NewTEIClient(TEIConfig{BaseURL: url, Dimension: 3})
	require.NoError(t, err)
	_, err = c.EmbedDocuments(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestTEIClient_CanceledContext(t *testing.T) {
	srv, _ := teiStub(t, nil)
	c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL, Dimension: 3})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.EmbedDocuments(ctx, []string{"x"})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, IsTransient(err))
}

func TestTEIClient_AuthorizationHeader(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode([][]float32{{1, 0, 0}})
	}))
	defer srv.Close()

	c, err := NewTEIClient(TEIConfig{BaseURL: srv.URL, APIKey: "tok", Dimension: 3})
	require.NoError(t, err)
	_, err = c.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got)
}

func TestTEIConfig_Validate(t *testing.T) {
	_, err := NewTEIClient(TEIConfig{Dimension: 3})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewTEIClient(TEIConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
