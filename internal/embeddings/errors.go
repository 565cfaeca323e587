package embeddings

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// retryableError marks a transient failure.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// transient wraps err as a retryable embedding service failure.
func transient(format string, args ...any) error {
	return &retryableError{err: fmt.Errorf("%w: "+format, append([]any{domain.ErrEmbeddingService}, args...)...)}
}

// fatal wraps err as a non-retryable embedding service failure.
func fatal(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrEmbeddingService}, args...)...)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// classifyStatus maps a non-200 HTTP status to a transient or fatal error.
func classifyStatus(status int, body []byte) error {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return transient("status %d: %s", status, truncate(body, 256))
	default:
		return fatal("status %d: %s", status, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
