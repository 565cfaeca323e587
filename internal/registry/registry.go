// Package registry tracks documents and the lifecycle of their indexes.
//
// Each document moves through a small state machine:
//
//	unindexed ──BeginBuild──▶ indexing ──Commit──▶ indexed ◀──Commit──┐
//	                             │                   │               │
//	                            Fail            BeginBuild           │
//	                             ▼                   ▼               │
//	                      indexing_failed ◀──Fail── reindexing ──────┘
//
// A failed build never touches the committed record: a document that was
// queryable before the build stays queryable against the same version.
//
// At most one build per document is in flight. A second BeginBuild fails
// fast with domain.ErrAlreadyIndexing instead of waiting. Readers only ever
// see the last committed IndexRecord, so a query never observes a build in
// progress.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

// State is the index lifecycle state of a document.
type State string

const (
	StateUnindexed      State = "unindexed"
	StateIndexing       State = "indexing"
	StateIndexed        State = "indexed"
	StateReindexing     State = "reindexing"
	StateIndexingFailed State = "indexing_failed"
)

var allStates = []State{StateUnindexed, StateIndexing, StateIndexed, StateReindexing, StateIndexingFailed}

// States returns every state in lifecycle order.
func States() []State {
	return append([]State(nil), allStates...)
}

// Building reports whether a build is in flight.
func (s State) Building() bool {
	return s == StateIndexing || s == StateReindexing
}

// maxIDLength bounds document ids.
const maxIDLength = 256

// idPattern rejects control characters.
var idPattern = regexp.MustCompile(`^[^\x00-\x1f\x7f]+$`)

// ValidateID checks a document id.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: document id required", domain.ErrValidation)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: document id too long (max %d)", domain.ErrValidation, maxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: document id contains control characters", domain.ErrValidation)
	}
	return nil
}

// Entry is a point-in-time view of a registered document.
type Entry struct {
	Document  domain.Document     `json:"document"`
	State     State               `json:"state"`
	Record    *domain.IndexRecord `json:"index,omitempty"`
	LastError string              `json:"last_error,omitempty"`

	// RolledBackTo is set after a failed build: indexed when the last
	// committed record is still served, unindexed otherwise.
	RolledBackTo State     `json:"rolled_back_to,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasText reports whether the document text is available for a build.
func (e *Entry) HasText() bool {
	return e.Document.Text != ""
}

// Ticket is the right to run one build. It snapshots the document as it was
// when the build began.
type Ticket struct {
	ID         string
	Document   domain.Document
	PriorState State
	StartedAt  time.Time

	ctx context.Context
}

// Context is canceled when the document is removed mid-build.
func (t *Ticket) Context() context.Context {
	return t.ctx
}

type entry struct {
	doc        domain.Document
	state      State
	record     *domain.IndexRecord
	lastError  string
	rolledBack State
	updatedAt  time.Time

	// set while a build is in flight
	build  string
	cancel context.CancelFunc
}

func (e *entry) snapshot() Entry {
	out := Entry{
		Document:  copyDocument(e.doc),
		State:        e.state,
		LastError:    e.lastError,
		RolledBackTo: e.rolledBack,
		UpdatedAt:    e.updatedAt,
	}
	if e.record != nil {
		rec := *e.record
		out.Record = &rec
	}
	return out
}

func copyDocument(d domain.Document) domain.Document {
	if d.Pages != nil {
		d.Pages = append([]domain.PageStart(nil), d.Pages...)
	}
	return d
}

// Registry is the in-memory document registry. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  *zap.Logger
	now     func() time.Time
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  logger.Named("registry"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	r.updateGauge()
	return r
}

// Register adds a document or replaces its text. A replaced document keeps
// its state and committed record; the new text is used by the next build and
// gets the next document version.
func (r *Registry) Register(doc domain.Document) (Entry, error) {
	if err := ValidateID(doc.ID); err != nil {
		return Entry{}, err
	}
	if err := doc.Validate(); err != nil {
		return Entry{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	doc = copyDocument(doc)
	doc.AddedAt = now

	e, ok := r.entries[doc.ID]
	if !ok {
		doc.Version = 1
		e = &entry{doc: doc, state: StateUnindexed, updatedAt: now}
		r.entries[doc.ID] = e
		r.logger.Info("document registered", zap.String("document_id", doc.ID))
	} else {
		doc.Version = e.doc.Version + 1
		e.doc = doc
		e.updatedAt = now
		r.logger.Info("document text replaced",
			zap.String("document_id", doc.ID), zap.Int("document_version", doc.Version))
	}
	r.updateGaugeLocked()
	return e.snapshot(), nil
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, notFound(id)
	}
	return e.snapshot(), nil
}

// List returns every entry ordered by document id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Document.ID < out[j].Document.ID })
	return out
}

// Remove drops the entry for id and cancels its in-flight build, if any.
// It returns the removed entry.
func (r *Registry) Remove(id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, notFound(id)
	}
	if e.cancel != nil {
		e.cancel()
	}
	delete(r.entries, id)
	r.updateGaugeLocked()
	r.logger.Info("document removed", zap.String("document_id", id))
	return e.snapshot(), nil
}

// BeginBuild moves id into indexing (or reindexing when a committed record
// exists) and returns a ticket for the build. It never blocks: a build already
// in flight yields domain.ErrAlreadyIndexing. The ticket context derives from
// parent and is canceled by Remove.
func (r *Registry) BeginBuild(parent context.Context, id string) (*Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, notFound(id)
	}
	if e.state.Building() {
		return nil, fmt.Errorf("%w: %q", domain.ErrAlreadyIndexing, id)
	}
	if e.doc.Text == "" {
		return nil, fmt.Errorf("%w: %q has no text to index", domain.ErrNotProcessed, id)
	}

	prior := e.state
	next := StateIndexing
	if e.record != nil {
		next = StateReindexing
	}

	ctx, cancel := context.WithCancel(parent)
	t := &Ticket{
		ID:         uuid.New().String(),
		Document:   copyDocument(e.doc),
		PriorState: prior,
		StartedAt:  r.now(),
		ctx:        ctx,
	}
	e.state = next
	e.build = t.ID
	e.cancel = cancel
	e.updatedAt = t.StartedAt
	r.updateGaugeLocked()
	return t, nil
}

// Commit records a successful build.
func (r *Registry) Commit(t *Ticket, rec domain.IndexRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.ticketEntry(t)
	if err != nil {
		return err
	}
	e.record = &rec
	e.state = StateIndexed
	e.lastError = ""
	e.rolledBack = ""
	r.finishLocked(e)
	return nil
}

// Fail ends a build without a new record. The entry moves to
// indexing_failed, keeps its committed record (if any) and stores cause as
// LastError.
func (r *Registry) Fail(t *Ticket, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.ticketEntry(t)
	if err != nil {
		return err
	}
	e.state = StateIndexingFailed
	e.rolledBack = StateUnindexed
	if e.record != nil {
		e.rolledBack = StateIndexed
	}
	if cause != nil {
		e.lastError = cause.Error()
	}
	r.finishLocked(e)
	return nil
}

// ticketEntry returns the entry a ticket was issued for, or ErrNotFound if
// the document was removed or the ticket is stale.
func (r *Registry) ticketEntry(t *Ticket) (*entry, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil ticket", domain.ErrValidation)
	}
	e, ok := r.entries[t.Document.ID]
	if !ok || e.build != t.ID {
		return nil, fmt.Errorf("%w: build %s of %q is no longer active", domain.ErrNotFound, t.ID, t.Document.ID)
	}
	return e, nil
}

func (r *Registry) finishLocked(e *entry) {
	if e.cancel != nil {
		e.cancel()
	}
	e.build = ""
	e.cancel = nil
	e.updatedAt = r.now()
	r.updateGaugeLocked()
}

// Restore seeds indexed entries from committed records, typically the
// catalog contents at startup. Documents already registered are left alone.
// Restored documents have no text; they can be queried but need new text
// before they can be rebuilt.
func (r *Registry) Restore(records []domain.IndexRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if _, ok := r.entries[rec.DocumentID]; ok {
			continue
		}
		rec := rec
		r.entries[rec.DocumentID] = &entry{
			doc: domain.Document{
				ID:       rec.DocumentID,
				Filename: rec.Filename,
				AddedAt:  rec.BuiltAt,
			},
			state:     StateIndexed,
			record:    &rec,
			updatedAt: r.now(),
		}
		restored++
	}
	r.updateGaugeLocked()
	return restored
}

// Queryable returns the last committed record for id. It is available in
// every state once a build has committed, including during a reindex.
func (r *Registry) Queryable(id string) (domain.IndexRecord, Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.IndexRecord{}, Entry{}, notFound(id)
	}
	if e.record == nil {
		return domain.IndexRecord{}, Entry{}, fmt.Errorf("%w: %q is %s", domain.ErrNotIndexed, id, e.state)
	}
	return *e.record, e.snapshot(), nil
}

// QueryableAll returns the committed record of every indexed document,
// ordered by document id.
func (r *Registry) QueryableAll() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.record != nil {
			out = append(out, e.snapshot())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Document.ID < out[j].Document.ID })
	return out
}

func notFound(id string) error {
	return fmt.Errorf("%w: document %q", domain.ErrNotFound, id)
}
