package domain

import (
	"context"
	"errors"
)

// Sentinel errors shared by every layer. Packages wrap these with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is.
var (
	// ErrValidation indicates bad caller input (chunk parameters, empty query, k out of range).
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates an unknown document id or a missing index record.
	ErrNotFound = errors.New("not found")

	// ErrNotProcessed indicates a document whose text has not been submitted yet.
	ErrNotProcessed = errors.New("document not processed")

	// ErrNotIndexed indicates a query against a document without a committed index.
	ErrNotIndexed = errors.New("document not indexed")

	// ErrAlreadyIndexing indicates a concurrent build for the same document.
	ErrAlreadyIndexing = errors.New("document is already being indexed")

	// ErrEmbeddingService indicates a fatal embedding collaborator failure.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrSynthesisService indicates an answer/summary model failure.
	ErrSynthesisService = errors.New("synthesis service error")

	// ErrIndexBuildFailed indicates a build or persist failure that was rolled back.
	ErrIndexBuildFailed = errors.New("index build failed")

	// ErrIndexCorruption indicates an on-disk artifact that does not match its record.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrUnavailable indicates an optional collaborator that is not configured.
	ErrUnavailable = errors.New("service unavailable")
)

// ErrorCode is the structured error code exposed to callers.
type ErrorCode string

// Error codes returned by the HTTP API.
const (
	CodeValidation       ErrorCode = "validation_error"
	CodeNotFound         ErrorCode = "not_found"
	CodeNotProcessed     ErrorCode = "not_processed"
	CodeNotIndexed       ErrorCode = "not_indexed"
	CodeAlreadyIndexing  ErrorCode = "already_indexing"
	CodeEmbeddingService ErrorCode = "embedding_service_error"
	CodeSynthesisService ErrorCode = "synthesis_service_error"
	CodeIndexBuildFailed ErrorCode = "index_build_failed"
	CodeIndexCorruption  ErrorCode = "index_corruption"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeCanceled         ErrorCode = "canceled"
	CodeInternal         ErrorCode = "internal_error"
)

// codeOrder is checked top to bottom; the most specific cause wins, so an
// embedding failure wrapped in ErrIndexBuildFailed reports the embedding code.
var codeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrValidation, CodeValidation},
	{ErrAlreadyIndexing, CodeAlreadyIndexing},
	{ErrNotProcessed, CodeNotProcessed},
	{ErrNotIndexed, CodeNotIndexed},
	{ErrEmbeddingService, CodeEmbeddingService},
	{ErrSynthesisService, CodeSynthesisService},
	{ErrIndexCorruption, CodeIndexCorruption},
	{ErrIndexBuildFailed, CodeIndexBuildFailed},
	{ErrNotFound, CodeNotFound},
	{ErrUnavailable, CodeUnavailable},
	{context.Canceled, CodeCanceled},
}

// Code maps an error to its structured code. Unknown errors are internal.
func Code(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, c := range codeOrder {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
