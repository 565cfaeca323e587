// Package embeddings turns text into vectors.
//
// A Provider talks to one backend: a Text-Embeddings-Inference server (tei),
// a local ONNX model (fastembed, cgo builds only) or a deterministic feature
// hasher (hash) for offline use. Batcher wraps a Provider with batching,
// bounded parallelism, rate limiting, retries and dimension checks; the
// build pipeline and query engine only ever talk to a Batcher.
package embeddings
