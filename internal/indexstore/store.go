// Package indexstore persists vector index artifacts and their catalog.
//
// Artifacts live under <dir>/docs/<docKey>/v<version>/ and are written to a
// staging directory first, then promoted with a single rename. The catalog is
// a SQLite database of IndexRecords in which the current record of a document
// is flipped inside one transaction. A reader therefore sees either the old
// version or the new one, never a mix.
package indexstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/fyrsmithlabs/docindex/internal/domain"
	"github.com/fyrsmithlabs/docindex/internal/indexstore/migrations"
	"github.com/fyrsmithlabs/docindex/internal/vectorindex"
)

const (
	catalogFile   = "catalog.db"
	docsDir       = "docs"
	indexFile     = "index.gob"
	chunksFile    = "chunks.json"
	stagingPrefix = ".staging-"
	versionPrefix = "v"

	// maxPlainKey bounds hex-encoded ids; longer ids are hashed.
	maxPlainKey = 96
)

// Options configures a Store.
type Options struct {
	// RetainVersions is how many committed versions per document are kept,
	// the current one included. Values below 1 mean 1.
	RetainVersions int

	// PersistTimeout bounds a single Persist call. Zero disables it.
	PersistTimeout time.Duration

	Logger *zap.Logger
}

// Store is the on-disk index store.
type Store struct {
	dir    string
	db     *sql.DB
	retain int
	// persistTimeout applies to Persist only; loads are never cut short.
	persistTimeout time.Duration
	logger         *zap.Logger
}

// Loaded is a verified, decoded index version ready for search.
type Loaded struct {
	Record domain.IndexRecord
	Index  *vectorindex.Index
	Chunks []domain.Chunk

	byID map[int]int
}

// Chunk returns the chunk with the given id.
func (l *Loaded) Chunk(id int) (domain.Chunk, bool) {
	i, ok := l.byID[id]
	if !ok {
		return domain.Chunk{}, false
	}
	return l.Chunks[i], true
}

// Open opens (creating if needed) the store rooted at dir.
func Open(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: index dir required", domain.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Join(dir, docsDir), 0700); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	dbPath := filepath.Join(dir, catalogFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retain := opts.RetainVersions
	if retain < 1 {
		retain = 1
	}

	s := &Store{
		dir:            dir,
		db:             db,
		retain:         retain,
		persistTimeout: opts.PersistTimeout,
		logger:         logger.Named("indexstore"),
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the catalog.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the store root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// DocKey returns the filesystem-safe directory name for a document id.
func DocKey(docID string) string {
	key := hex.EncodeToString([]byte(docID))
	if len(key) <= maxPlainKey {
		return key
	}
	sum := sha256.Sum256([]byte(docID))
	return "h-" + hex.EncodeToString(sum[:])
}

// Artifact is one built index version ready to persist.
type Artifact struct {
	DocumentID string
	Filename   string
	Version    int
	Index      *vectorindex.Index
	Chunks     []domain.Chunk
}

// Persist writes the artifact and makes it the current version of its
// document. Older versions are kept until Prune.
//
// On any failure nothing becomes visible: the staged or promoted directory is
// removed and the previous current record is left as it was. Returned errors
// wrap domain.ErrIndexBuildFailed.
func (s *Store) Persist(ctx context.Context, a Artifact) (rec *domain.IndexRecord, err error) {
	docID, version, idx, chunks := a.DocumentID, a.Version, a.Index, a.Chunks
	if docID == "" || version <= 0 || idx == nil {
		return nil, fmt.Errorf("%w: persist needs a document id, a positive version and an index", domain.ErrValidation)
	}
	if len(chunks) != idx.Len() {
		return nil, fmt.Errorf("%w: %d chunks for %d vectors", domain.ErrValidation, len(chunks), idx.Len())
	}

	if s.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		PersistDuration.Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			PersistTotal.WithLabelValues("success").Inc()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			PersistTotal.WithLabelValues("canceled").Inc()
		default:
			PersistTotal.WithLabelValues("error").Inc()
		}
	}()

	docDir := filepath.Join(s.dir, docsDir, DocKey(docID))
	if err := os.MkdirAll(docDir, 0700); err != nil {
		return nil, buildFailed("creating document directory", err)
	}

	staging := filepath.Join(docDir, stagingPrefix+uuid.New().String())
	if err := os.Mkdir(staging, 0700); err != nil {
		return nil, buildFailed("creating staging directory", err)
	}
	final := filepath.Join(docDir, versionPrefix+strconv.Itoa(version))
	promoted := false
	defer func() {
		if err == nil {
			return
		}
		target := staging
		if promoted {
			target = final
		}
		if rmErr := os.RemoveAll(target); rmErr != nil {
			s.logger.Warn("removing failed index artifacts",
				zap.String("path", target), zap.Error(rmErr))
		}
	}()

	checksum, err := writeIndex(filepath.Join(staging, indexFile), idx)
	if err != nil {
		return nil, buildFailed("writing index", err)
	}
	if err := writeChunks(filepath.Join(staging, chunksFile), chunks); err != nil {
		return nil, buildFailed("writing chunks", err)
	}
	if err := syncDir(staging); err != nil {
		return nil, buildFailed("syncing staging directory", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, buildFailed("before promote", err)
	}

	if _, err := s.record(ctx, docID, version); err == nil {
		return nil, buildFailed("promoting", fmt.Errorf("version %d already committed", version))
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, buildFailed("checking catalog", err)
	}
	// A directory without a record is debris from an interrupted persist.
	if err := os.RemoveAll(final); err != nil {
		return nil, buildFailed("clearing stale version directory", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return nil, buildFailed("promoting staging directory", err)
	}
	promoted = true
	if err := syncDir(docDir); err != nil {
		return nil, buildFailed("syncing document directory", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, buildFailed("before commit", err)
	}

	rel := func(name string) string {
		return filepath.ToSlash(filepath.Join(docsDir, DocKey(docID), versionPrefix+strconv.Itoa(version), name))
	}
	rec = &domain.IndexRecord{
		DocumentID: docID,
		Filename:   a.Filename,
		Version:    version,
		IndexPath:  rel(indexFile),
		ChunksPath: rel(chunksFile),
		BuiltAt:    time.Now().UTC(),
		ChunkCount: idx.Len(),
		Dimension:  idx.Dimension(),
		IndexType:  idx.Type(),
		Checksum:   checksum,
		Current:    true,
	}
	if err := s.commit(ctx, rec); err != nil {
		return nil, buildFailed("committing record", err)
	}

	s.logger.Info("index version committed",
		zap.String("document_id", docID),
		zap.Int("version", version),
		zap.Int("chunks", rec.ChunkCount),
		zap.Duration("duration", time.Since(start)))
	return rec, nil
}

func buildFailed(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrIndexBuildFailed, step, err)
}

func (s *Store) commit(ctx context.Context, rec *domain.IndexRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE index_records SET is_current = 0 WHERE document_id = ? AND is_current = 1`,
		rec.DocumentID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO index_records (document_id, filename, version, index_path, chunks_path, built_at,
			chunk_count, dimension, index_type, checksum, is_current)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, rec.DocumentID, rec.Filename, rec.Version, rec.IndexPath, rec.ChunksPath, rec.BuiltAt.UnixNano(),
		rec.ChunkCount, rec.Dimension, string(rec.IndexType), rec.Checksum); err != nil {
		return err
	}
	return tx.Commit()
}

// Prune drops versions of docID beyond the retention limit and returns how
// many were removed. Call it only once the current version is the one being
// served: older versions stay loadable until then. Failures are logged.
func (s *Store) Prune(ctx context.Context, docID string) int {
	history, err := s.History(ctx, docID)
	if err != nil {
		s.logger.Warn("listing versions for retention", zap.String("document_id", docID), zap.Error(err))
		return 0
	}
	if len(history) <= s.retain {
		return 0
	}
	removed := 0
	for _, rec := range history[s.retain:] {
		if rec.Current {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM index_records WHERE document_id = ? AND version = ?`,
			docID, rec.Version); err != nil {
			s.logger.Warn("deleting expired record",
				zap.String("document_id", docID), zap.Int("version", rec.Version), zap.Error(err))
			continue
		}
		dir := filepath.Dir(s.abs(rec.IndexPath))
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("removing expired version", zap.String("path", dir), zap.Error(err))
		}
		removed++
	}
	return removed
}

// DeleteVersion removes the single version rec describes. The record must
// match on version and checksum, so a same-numbered version written after the
// document was deleted and registered again is left alone. When rec was
// current, the newest remaining version becomes current again.
func (s *Store) DeleteVersion(ctx context.Context, rec domain.IndexRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deleting version: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM index_records WHERE document_id = ? AND version = ? AND checksum = ?`,
		rec.DocumentID, rec.Version, rec.Checksum)
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting record: %w", err)
	}
	if n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE index_records SET is_current = 1
		WHERE document_id = ?
		  AND version = (SELECT MAX(version) FROM index_records WHERE document_id = ?)
		  AND NOT EXISTS (SELECT 1 FROM index_records WHERE document_id = ? AND is_current = 1)
	`, rec.DocumentID, rec.DocumentID, rec.DocumentID); err != nil {
		return fmt.Errorf("restoring current version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deleting version: %w", err)
	}

	if err := os.RemoveAll(filepath.Dir(s.abs(rec.IndexPath))); err != nil {
		return fmt.Errorf("removing artifacts: %w", err)
	}
	return nil
}

func writeIndex(path string, idx *vectorindex.Index) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	if err := idx.Encode(io.MultiWriter(f, h)); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeChunks(path string, chunks []domain.Chunk) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(chunks); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (s *Store) abs(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}

// Load returns the current version of docID, verified against its record.
func (s *Store) Load(ctx context.Context, docID string) (*Loaded, error) {
	rec, err := s.Current(ctx, docID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			LoadTotal.WithLabelValues("not_found").Inc()
		} else {
			LoadTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	return s.LoadRecord(ctx, *rec)
}

// LoadRecord reads and verifies the artifacts of a specific record.
func (s *Store) LoadRecord(ctx context.Context, rec domain.IndexRecord) (*Loaded, error) {
	loaded, err := s.loadRecord(ctx, rec)
	switch {
	case err == nil:
		LoadTotal.WithLabelValues("success").Inc()
	case errors.Is(err, domain.ErrIndexCorruption):
		LoadTotal.WithLabelValues("corrupt").Inc()
		CorruptionsTotal.Inc()
		s.logger.Error("index artifact failed verification",
			zap.String("document_id", rec.DocumentID),
			zap.Int("version", rec.Version),
			zap.Error(err))
	default:
		LoadTotal.WithLabelValues("error").Inc()
	}
	return loaded, err
}

func (s *Store) loadRecord(ctx context.Context, rec domain.IndexRecord) (*Loaded, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(s.abs(rec.IndexPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, corrupt(rec, "index artifact missing")
		}
		return nil, fmt.Errorf("reading index artifact: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != rec.Checksum {
		return nil, corrupt(rec, "checksum mismatch")
	}

	idx, err := vectorindex.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("document %q version %d: %w", rec.DocumentID, rec.Version, err)
	}
	if idx.Dimension() != rec.Dimension {
		return nil, corrupt(rec, "dimension %d, record says %d", idx.Dimension(), rec.Dimension)
	}
	if idx.Len() != rec.ChunkCount {
		return nil, corrupt(rec, "%d vectors, record says %d", idx.Len(), rec.ChunkCount)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.abs(rec.ChunksPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, corrupt(rec, "chunks artifact missing")
		}
		return nil, fmt.Errorf("opening chunks artifact: %w", err)
	}
	defer f.Close()

	var chunks []domain.Chunk
	if err := json.NewDecoder(f).Decode(&chunks); err != nil {
		return nil, corrupt(rec, "decoding chunks: %v", err)
	}
	if len(chunks) != rec.ChunkCount {
		return nil, corrupt(rec, "%d chunks, record says %d", len(chunks), rec.ChunkCount)
	}

	byID := make(map[int]int, len(chunks))
	for i, c := range chunks {
		if _, dup := byID[c.ID]; dup {
			return nil, corrupt(rec, "duplicate chunk id %d", c.ID)
		}
		byID[c.ID] = i
	}
	for _, id := range idx.ChunkIDs() {
		if _, ok := byID[id]; !ok {
			return nil, corrupt(rec, "vector for unknown chunk %d", id)
		}
	}

	return &Loaded{Record: rec, Index: idx, Chunks: chunks, byID: byID}, nil
}

func corrupt(rec domain.IndexRecord, format string, args ...any) error {
	return fmt.Errorf("%w: document %q version %d: %s",
		domain.ErrIndexCorruption, rec.DocumentID, rec.Version, fmt.Sprintf(format, args...))
}

const recordColumns = `document_id, filename, version, index_path, chunks_path, built_at,
	chunk_count, dimension, index_type, checksum, is_current`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.IndexRecord, error) {
	var (
		rec       domain.IndexRecord
		builtAt   int64
		indexType string
		current   int
	)
	if err := row.Scan(&rec.DocumentID, &rec.Filename, &rec.Version, &rec.IndexPath, &rec.ChunksPath, &builtAt,
		&rec.ChunkCount, &rec.Dimension, &indexType, &rec.Checksum, &current); err != nil {
		return nil, err
	}
	rec.BuiltAt = time.Unix(0, builtAt).UTC()
	rec.IndexType = domain.IndexType(indexType)
	rec.Current = current == 1
	return &rec, nil
}

// Current returns the current record of docID.
func (s *Store) Current(ctx context.Context, docID string) (*domain.IndexRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE document_id = ? AND is_current = 1`, docID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no index for document %q", domain.ErrNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading current record: %w", err)
	}
	return rec, nil
}

func (s *Store) record(ctx context.Context, docID string, version int) (*domain.IndexRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE document_id = ? AND version = ?`, docID, version)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %q version %d", domain.ErrNotFound, docID, version)
	}
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	return rec, nil
}

// History returns every retained record of docID, newest first.
func (s *Store) History(ctx context.Context, docID string) ([]domain.IndexRecord, error) {
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE document_id = ? ORDER BY version DESC`, docID)
}

// ListCurrent returns the current record of every document, ordered by id.
func (s *Store) ListCurrent(ctx context.Context) ([]domain.IndexRecord, error) {
	return s.query(ctx,
		`SELECT `+recordColumns+` FROM index_records WHERE is_current = 1 ORDER BY document_id`)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.IndexRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var records []domain.IndexRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return records, nil
}

// NextVersion returns the version a new build of docID should use.
func (s *Store) NextVersion(ctx context.Context, docID string) (int, error) {
	var v int
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM index_records WHERE document_id = ?`, docID)
	if err := row.Scan(&v); err != nil {
		return 0, fmt.Errorf("reading latest version: %w", err)
	}
	return v + 1, nil
}

// Delete removes every record and artifact of docID. Deleting an unknown
// document is not an error.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM index_records WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(s.dir, docsDir, DocKey(docID))); err != nil {
		return fmt.Errorf("removing artifacts: %w", err)
	}
	return nil
}

// CleanupStaging removes staging directories and version directories that no
// record points at, both left behind by an interrupted persist. It returns the
// number of directories removed.
func (s *Store) CleanupStaging(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT index_path FROM index_records`)
	if err != nil {
		return 0, fmt.Errorf("listing records: %w", err)
	}
	live := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning record path: %w", err)
		}
		live[filepath.Dir(s.abs(p))] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterating record paths: %w", err)
	}

	root := filepath.Join(s.dir, docsDir)
	docs, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", root, err)
	}

	removed := 0
	for _, doc := range docs {
		if !doc.IsDir() {
			continue
		}
		docDir := filepath.Join(root, doc.Name())
		entries, err := os.ReadDir(docDir)
		if err != nil {
			return removed, fmt.Errorf("reading %s: %w", docDir, err)
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			path := filepath.Join(docDir, e.Name())
			orphan := strings.HasPrefix(e.Name(), stagingPrefix)
			if !orphan && strings.HasPrefix(e.Name(), versionPrefix) {
				_, ok := live[path]
				orphan = !ok
			}
			if !orphan {
				continue
			}
			if err := os.RemoveAll(path); err != nil {
				return removed, fmt.Errorf("removing %s: %w", path, err)
			}
			s.logger.Info("removed orphaned index directory", zap.String("path", path))
			removed++
		}
	}
	return removed, nil
}
