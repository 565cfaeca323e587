// Package domain defines the data model shared by the docindex pipeline:
// documents, chunks, index records, query results and citations, plus the
// error taxonomy every package wraps.
//
// Values in this package carry no behavior beyond small lookups; the
// pipeline stages live in chunker, vectorindex, indexstore, registry,
// indexer and query.
package domain
