// Package vector persists the three embedding collections (documents,
// concepts, experiences) in one SQLite file, vectors.db. Similarity search
// orders by a cosine distance SQL function: the pure Go build registers a
// compat scalar on the modernc driver, and the sqlite_vec build loads the
// sqlite-vec extension instead. Embeddings are little-endian float32 blobs;
// the store never computes them.
package vector

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// DefaultDimension matches the bundled embedding models.
const DefaultDimension = 1024

const (
	documentsTable   = "endgame_memory"
	conceptsTable    = "endgame_concepts"
	experiencesTable = "endgame_experiences"
)

var collectionSchemas = map[string]string{
	documentsTable: `
		CREATE TABLE IF NOT EXISTS endgame_memory (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			user_id TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			created_at TEXT NOT NULL DEFAULT ''
		)`,
	conceptsTable: `
		CREATE TABLE IF NOT EXISTS endgame_concepts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			created_at TEXT NOT NULL DEFAULT ''
		)`,
	experiencesTable: `
		CREATE TABLE IF NOT EXISTS endgame_experiences (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			created_at TEXT NOT NULL DEFAULT ''
		)`,
}

// Store owns vectors.db. One connection, writes serialized by the mutex.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	dim    int
}

// NewStore opens (or creates) vectors.db at path. dim is the embedding
// dimension the process will write; if the documents collection already holds
// vectors of a different dimension, all three collections are reset.
func NewStore(path string, dim int) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryVector, "NewStore")
	defer timer.Stop()

	if dim <= 0 {
		dim = DefaultDimension
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create vector store directory: %w", err)
		}
	}

	s := &Store{dbPath: path, dim: dim}
	if err := s.open(); err != nil {
		return nil, err
	}

	if err := s.checkDimension(); err != nil {
		s.db.Close()
		return nil, err
	}

	logging.Vector("Vector store ready at %s (driver=%s, dim=%d)", path, vectorDriver, dim)
	return s, nil
}

// open dials the database and builds the collection tables. Caller holds the
// write lock (or is the constructor).
func (s *Store) open() error {
	db, err := sql.Open(vectorDriver, s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryVector).Debug("Pragma failed: %s: %v", pragma, err)
		}
	}

	for name, schema := range collectionSchemas {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_memory_user ON endgame_memory(user_id)"); err != nil {
		logging.Get(logging.CategoryVector).Debug("Index creation failed: %v", err)
	}

	s.db = db
	return nil
}

// checkDimension resets the collections when stored vectors disagree with
// the configured dimension. This is the only destructive automatic action.
func (s *Store) checkDimension() error {
	var mismatched int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM endgame_memory WHERE embedding IS NOT NULL AND length(embedding) > 0 AND length(embedding) <> ?",
		s.dim*4,
	).Scan(&mismatched)
	if err != nil {
		return fmt.Errorf("failed to inspect stored dimensions: %w", err)
	}
	if mismatched == 0 {
		return nil
	}

	logging.Get(logging.CategoryVector).Warn(
		"Found %d vectors with a stale dimension; resetting collections: %v",
		mismatched, types.ErrDimensionMismatch,
	)
	return s.resetLocked()
}

// resetLocked drops and recreates all three collections.
func (s *Store) resetLocked() error {
	for name := range collectionSchemas {
		if _, err := s.db.Exec("DROP TABLE IF EXISTS " + name); err != nil {
			return fmt.Errorf("failed to drop collection %s: %w", name, err)
		}
	}
	for name, schema := range collectionSchemas {
		if _, err := s.db.Exec(schema); err != nil {
			return fmt.Errorf("failed to recreate collection %s: %w", name, err)
		}
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_memory_user ON endgame_memory(user_id)"); err != nil {
		logging.Get(logging.CategoryVector).Debug("Index creation failed: %v", err)
	}
	return nil
}

// ClearAll empties every collection, mirroring the reset path.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.resetLocked(); err != nil {
		return err
	}
	logging.Vector("Cleared all vector collections")
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path returns the vectors.db location.
func (s *Store) Path() string { return s.dbPath }

// Dimension returns the configured embedding width.
func (s *Store) Dimension() int { return s.dim }

// GetStats reports per-collection counts.
func (s *Store) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"dimension": s.dim,
		"driver":    vectorDriver,
	}
	for key, table := range map[string]string{
		"documents":   documentsTable,
		"concepts":    conceptsTable,
		"experiences": experiencesTable,
	} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			logging.Get(logging.CategoryVector).Debug("Count failed for %s: %v", table, err)
			continue
		}
		stats[key] = count
	}
	return stats
}

// withRetry runs a write closure. A busy or read-only handle is reopened and
// the closure retried once before the error surfaces. Caller holds the write
// lock.
func (s *Store) withRetry(op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !isTransient(err) {
		return err
	}

	logging.Get(logging.CategoryVector).Warn("Transient %s failure, reopening handle: %v", op, err)
	s.db.Close()
	if openErr := s.open(); openErr != nil {
		return fmt.Errorf("%w: reopen failed: %v", types.ErrStorageBusy, openErr)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageBusy, err)
	}
	return nil
}

// execRetry is withRetry over a single statement.
func (s *Store) execRetry(op, query string, args ...any) error {
	return s.withRetry(op, func() error {
		_, err := s.db.Exec(query, args...)
		return err
	})
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") ||
		strings.Contains(msg, "locked") ||
		strings.Contains(msg, "readonly") ||
		strings.Contains(msg, "read-only")
}

// encodeVector serializes an embedding in the sqlite-vec blob layout.
func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// decodeVector is the inverse of encodeVector. Truncated blobs decode to nil.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func encodeMetadata(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMetadata(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return map[string]any{}
	}
	return m
}
