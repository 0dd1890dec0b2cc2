// Package store implements the canonical strategic graph on a single SQLite
// database (brain.db). Two flat tables hold the graph (nodes, edges), two
// mirror tables hold the staging airlock (staging_nodes, staging_edges), and
// side tables hold experiences, H3 energy history, calibrations, and persona
// configuration. All operations are partitioned by user_id.
//
// The store opens one connection (WAL, busy_timeout=5000) and serializes
// mutations behind a write lock. Single-row writes are fire-and-log and
// return bool; batch writes skip bad rows and continue; reads return errors.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver

	"endgame/internal/logging"
	"endgame/internal/types"
)

// GraphStore is the single handle to brain.db. Safe for concurrent use.
type GraphStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

const nodesSchema = `
CREATE TABLE IF NOT EXISTS nodes (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT DEFAULT '',
	attributes TEXT DEFAULT '{}',
	status TEXT DEFAULT 'confirmed',
	time_metadata TEXT,
	strategic_role TEXT DEFAULT '',
	energy_impact INTEGER DEFAULT 0,
	alignment_score REAL DEFAULT 0.5,
	source_file TEXT DEFAULT '',
	created_at TEXT DEFAULT '',
	PRIMARY KEY (id, user_id)
)`

const edgesSchema = `
CREATE TABLE IF NOT EXISTS edges (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	relation TEXT NOT NULL,
	user_id TEXT NOT NULL,
	properties TEXT DEFAULT '{}',
	created_at TEXT DEFAULT '',
	PRIMARY KEY (source, target, relation, user_id)
)`

const stagingNodesSchema = `
CREATE TABLE IF NOT EXISTS staging_nodes (
	id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	type TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT DEFAULT '',
	attributes TEXT DEFAULT '{}',
	status TEXT DEFAULT 'pending',
	time_metadata TEXT,
	strategic_role TEXT DEFAULT '',
	energy_impact INTEGER DEFAULT 0,
	alignment_score REAL DEFAULT 0.5,
	source_file TEXT DEFAULT '',
	created_at TEXT DEFAULT '',
	PRIMARY KEY (id, user_id)
)`

const stagingEdgesSchema = `
CREATE TABLE IF NOT EXISTS staging_edges (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	relation TEXT NOT NULL,
	user_id TEXT NOT NULL,
	properties TEXT DEFAULT '{}',
	created_at TEXT DEFAULT '',
	PRIMARY KEY (source, target, relation, user_id)
)`

const experiencesSchema = `
CREATE TABLE IF NOT EXISTS experiences (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	trigger_scenario TEXT DEFAULT '',
	insight TEXT DEFAULT '',
	strategy TEXT DEFAULT '',
	created_at TEXT DEFAULT ''
)`

const h3EnergySchema = `
CREATE TABLE IF NOT EXISTS h3_energy (
	user_id TEXT NOT NULL,
	date TEXT NOT NULL,
	mind INTEGER DEFAULT 0,
	body INTEGER DEFAULT 0,
	spirit INTEGER DEFAULT 0,
	vocation INTEGER DEFAULT 0,
	created_at TEXT DEFAULT '',
	PRIMARY KEY (user_id, date)
)`

const h3CalibrationsSchema = `
CREATE TABLE IF NOT EXISTS h3_calibrations (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	energy TEXT DEFAULT '{}',
	mood_note TEXT DEFAULT '',
	blockers TEXT DEFAULT '[]',
	wins TEXT DEFAULT '[]',
	calibration_type TEXT DEFAULT '',
	created_at TEXT DEFAULT ''
)`

const personaConfigsSchema = `
CREATE TABLE IF NOT EXISTS persona_configs (
	user_id TEXT PRIMARY KEY,
	config TEXT DEFAULT '{}',
	updated_at TEXT DEFAULT ''
)`

// NewGraphStore opens (or creates) brain.db at dbPath and ensures the schema
// is current. Fatal errors here abort startup.
func NewGraphStore(dbPath string) (*GraphStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewGraphStore")
	defer timer.Stop()

	logging.Store("Opening graph store at: %s", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}

	// One writer connection; the RWMutex serializes access above the driver.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		logging.StoreDebug("PRAGMA synchronous failed (non-fatal): %v", err)
	}

	s := &GraphStore{db: db, dbPath: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Graph store ready: %s", dbPath)
	return s, nil
}

// initialize creates missing tables, applies column migrations, and creates
// indexes. Index failures are logged and ignored.
func (s *GraphStore) initialize() error {
	tables := []string{
		nodesSchema,
		edgesSchema,
		stagingNodesSchema,
		stagingEdgesSchema,
		experiencesSchema,
		h3EnergySchema,
		h3CalibrationsSchema,
		personaConfigsSchema,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_nodes_user_type ON nodes(user_id, type)",
		"CREATE INDEX IF NOT EXISTS idx_nodes_user_status ON nodes(user_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_edges_user_source ON edges(user_id, source)",
		"CREATE INDEX IF NOT EXISTS idx_edges_user_target ON edges(user_id, target)",
		"CREATE INDEX IF NOT EXISTS idx_staging_nodes_user ON staging_nodes(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_staging_edges_user ON staging_edges(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_experiences_user ON experiences(user_id)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			logging.StoreDebug("Index creation failed (non-fatal): %v", err)
		}
	}

	return nil
}

// Close releases the underlying database handle.
func (s *GraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.Store("Closing graph store: %s", s.dbPath)
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the location of the backing database file.
func (s *GraphStore) Path() string {
	return s.dbPath
}

// execRetry runs a write statement, retrying once when SQLite reports a
// transient busy, locked, or read-only condition.
func (s *GraphStore) execRetry(query string, args ...any) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(150*time.Millisecond), 1)
	err := backoff.Retry(func() error {
		if _, err := s.db.Exec(query, args...); err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, policy)
	if err != nil && isTransient(err) {
		return fmt.Errorf("%w: %v", types.ErrStorageBusy, err)
	}
	return err
}

// exec is the fire-and-log form used by single-row writes.
func (s *GraphStore) exec(query string, args ...any) bool {
	if err := s.execRetry(query, args...); err != nil {
		logging.StoreError("Write failed: %v", err)
		return false
	}
	return true
}

// encodeJSON marshals v for a TEXT column, falling back to the given zero
// literal ("{}" or "[]") when v is nil or unmarshalable.
func encodeJSON(v any, zero string) string {
	if v == nil {
		return zero
	}
	data, err := json.Marshal(v)
	if err != nil {
		logging.StoreDebug("JSON encode failed, storing %s: %v", zero, err)
		return zero
	}
	return string(data)
}

// decodeAttributes parses an attributes column value. Bad blobs yield an
// empty map rather than a failed read.
func decodeAttributes(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" || raw.String == "{}" {
		return map[string]any{}
	}
	var attrs map[string]any
	if err := json.Unmarshal([]byte(raw.String), &attrs); err != nil {
		logging.StoreDebug("Attributes decode failed: %v", err)
		return map[string]any{}
	}
	return attrs
}

// decodeTimeMetadata parses a time_metadata column value, nil when absent.
func decodeTimeMetadata(raw sql.NullString) *types.TimeMetadata {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tm types.TimeMetadata
	if err := json.Unmarshal([]byte(raw.String), &tm); err != nil {
		logging.StoreDebug("Time metadata decode failed: %v", err)
		return nil
	}
	return &tm
}

// encodeTimeMetadata renders time metadata for storage, NULL when absent.
func encodeTimeMetadata(tm *types.TimeMetadata) any {
	if tm == nil {
		return nil
	}
	data, err := json.Marshal(tm)
	if err != nil {
		return nil
	}
	return string(data)
}

// Migration adds a column to an existing table when it is missing. Older
// databases predate the strategic columns on nodes and staging_nodes.
type Migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []Migration{
	{"nodes", "status", "TEXT DEFAULT 'confirmed'"},
	{"nodes", "time_metadata", "TEXT"},
	{"nodes", "strategic_role", "TEXT DEFAULT ''"},
	{"nodes", "energy_impact", "INTEGER DEFAULT 0"},
	{"nodes", "alignment_score", "REAL DEFAULT 0.5"},
	{"nodes", "source_file", "TEXT DEFAULT ''"},
	{"staging_nodes", "status", "TEXT DEFAULT 'pending'"},
	{"staging_nodes", "time_metadata", "TEXT"},
	{"staging_nodes", "strategic_role", "TEXT DEFAULT ''"},
	{"staging_nodes", "energy_impact", "INTEGER DEFAULT 0"},
	{"staging_nodes", "alignment_score", "REAL DEFAULT 0.5"},
	{"staging_nodes", "source_file", "TEXT DEFAULT ''"},
}

// RunMigrations applies column migrations for databases created by older
// builds. Columns are only ever added, never dropped.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	skipped := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("Table missing, skipping migration: %s.%s", m.Table, m.Column)
			skipped++
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			skipped++
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			logging.Get(logging.CategoryStore).Warn("Migration failed (may already exist): %s.%s: %v", m.Table, m.Column, err)
			skipped++
			continue
		}
		logging.Store("Migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	logging.StoreDebug("Schema migrations complete: applied=%d, skipped=%d", applied, skipped)
	return nil
}

// columnExists checks a table for a column via PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// tableExists checks whether a table is present in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	if err != nil {
		logging.StoreDebug("Table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}

// HealReport summarizes what SelfHeal repaired.
type HealReport struct {
	VisionsMerged        int
	SelvesMerged         int
	OrphanGoalsLinked    int
	StagingVisionsMerged int
	StagingSelvesMerged  int
}

// SelfHeal normalizes the core identity rows for userID. It merges duplicate
// Vision nodes into vision_{userID}, renames stray Self nodes to id==userID,
// guarantees the Self node and the OWNS edge to the vision, attaches orphan
// Goal nodes to the vision, and applies the same normalization to the
// staging mirror. Safe to run repeatedly.
func (s *GraphStore) SelfHeal(userID string) (*HealReport, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SelfHeal")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin healing transaction: %w", err)
	}
	defer tx.Rollback()

	report := &HealReport{}
	visionID := types.VisionNodeID(userID)

	report.VisionsMerged, err = healVision(tx, "nodes", "edges", userID)
	if err != nil {
		return nil, err
	}
	report.SelvesMerged, err = healSelf(tx, "nodes", "edges", userID)
	if err != nil {
		return nil, err
	}

	// The owner row and the OWNS edge must exist even on a fresh database.
	_, err = tx.Exec(
		"INSERT OR IGNORE INTO nodes (id, user_id, type, name, content, status, attributes, alignment_score, created_at) VALUES (?, ?, 'Self', 'Self', 'The Owner', 'confirmed', '{}', 1.0, ?)",
		userID, userID, types.NowISO(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure Self node: %w", err)
	}
	_, err = tx.Exec(
		"INSERT OR IGNORE INTO edges (source, target, relation, user_id, properties, created_at) VALUES (?, ?, 'OWNS', ?, '{}', ?)",
		userID, visionID, userID, types.NowISO(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure OWNS edge: %w", err)
	}

	// Goals with no HAS_GOAL from the vision get attached to it.
	orphanRows, err := tx.Query(`
		SELECT id FROM nodes
		WHERE user_id = ? AND type = 'Goal'
		AND id NOT IN (SELECT target FROM edges WHERE user_id = ? AND source = ? AND relation = 'HAS_GOAL')`,
		userID, userID, visionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan for orphan goals: %w", err)
	}
	var orphans []string
	for orphanRows.Next() {
		var id string
		if err := orphanRows.Scan(&id); err == nil {
			orphans = append(orphans, id)
		}
	}
	orphanRows.Close()
	for _, goalID := range orphans {
		_, err = tx.Exec(
			"INSERT OR IGNORE INTO edges (source, target, relation, user_id, properties, created_at) VALUES (?, ?, 'HAS_GOAL', ?, '{}', ?)",
			visionID, goalID, userID, types.NowISO(),
		)
		if err != nil {
			logging.StoreError("Failed to link orphan goal %s: %v", goalID, err)
			continue
		}
		logging.Store("Linked orphan goal %s to vision", goalID)
		report.OrphanGoalsLinked++
	}

	// Staged rows carry the same identity invariants as canonical ones.
	report.StagingVisionsMerged, err = healVision(tx, "staging_nodes", "staging_edges", userID)
	if err != nil {
		return nil, err
	}
	report.StagingSelvesMerged, err = healSelf(tx, "staging_nodes", "staging_edges", userID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit healing transaction: %w", err)
	}

	logging.Store("Self-heal complete for %s: visions=%d selves=%d orphan_goals=%d staging_visions=%d staging_selves=%d",
		userID, report.VisionsMerged, report.SelvesMerged, report.OrphanGoalsLinked,
		report.StagingVisionsMerged, report.StagingSelvesMerged)
	return report, nil
}

type healRow struct {
	id        string
	name      string
	content   string
	attrs     map[string]any
	createdAt string
}

// healVision merges every Vision row in nodeTable into the canonical
// vision_{userID} row. Contents join by newline, attributes merge, edges
// redirect to the canonical id, and the stray rows are deleted.
func healVision(tx *sql.Tx, nodeTable, edgeTable, userID string) (int, error) {
	canonical := types.VisionNodeID(userID)
	rows, err := collectHealRows(tx, nodeTable, userID, "Vision")
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 || (len(rows) == 1 && rows[0].id == canonical) {
		return 0, nil
	}

	var contents []string
	merged := map[string]any{}
	name := "My Vision"
	createdAt := types.NowISO()
	for i, r := range rows {
		if i == 0 {
			if r.name != "" {
				name = r.name
			}
			if r.createdAt != "" {
				createdAt = r.createdAt
			}
		}
		if r.content != "" {
			contents = append(contents, r.content)
		}
		merged = types.MergeAttributes(merged, r.attrs)
	}

	_, err = tx.Exec(fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (id, user_id, type, name, content, attributes, status, alignment_score, created_at)
		VALUES (?, ?, 'Vision', ?, ?, ?, 'confirmed', 1.0, ?)`, nodeTable),
		canonical, userID, name, strings.Join(contents, "\n"), encodeJSON(merged, "{}"), createdAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to write canonical vision: %w", err)
	}

	mergedCount := 0
	for _, r := range rows {
		if r.id == canonical {
			continue
		}
		if err := redirectEdges(tx, edgeTable, userID, r.id, canonical); err != nil {
			return mergedCount, err
		}
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?", nodeTable), r.id, userID); err != nil {
			return mergedCount, fmt.Errorf("failed to delete stray vision %s: %w", r.id, err)
		}
		mergedCount++
	}
	if mergedCount > 0 {
		logging.Store("Merged %d vision rows into %s (%s)", mergedCount, canonical, nodeTable)
	}
	return mergedCount, nil
}

// healSelf renames stray Self rows so the surviving id equals userID.
func healSelf(tx *sql.Tx, nodeTable, edgeTable, userID string) (int, error) {
	rows, err := collectHealRows(tx, nodeTable, userID, "Self")
	if err != nil {
		return 0, err
	}

	mergedCount := 0
	for _, r := range rows {
		if r.id == userID {
			continue
		}
		_, err = tx.Exec(fmt.Sprintf(`
			INSERT OR IGNORE INTO %s (id, user_id, type, name, content, attributes, status, alignment_score, created_at)
			VALUES (?, ?, 'Self', ?, ?, ?, 'confirmed', 1.0, ?)`, nodeTable),
			userID, userID, r.name, r.content, encodeJSON(r.attrs, "{}"), r.createdAt,
		)
		if err != nil {
			return mergedCount, fmt.Errorf("failed to write canonical self: %w", err)
		}
		if err := redirectEdges(tx, edgeTable, userID, r.id, userID); err != nil {
			return mergedCount, err
		}
		if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?", nodeTable), r.id, userID); err != nil {
			return mergedCount, fmt.Errorf("failed to delete stray self %s: %w", r.id, err)
		}
		mergedCount++
	}
	if mergedCount > 0 {
		logging.Store("Normalized %d self rows to %s (%s)", mergedCount, userID, nodeTable)
	}
	return mergedCount, nil
}

func collectHealRows(tx *sql.Tx, table, userID, nodeType string) ([]healRow, error) {
	query := fmt.Sprintf(
		"SELECT id, name, content, attributes, created_at FROM %s WHERE user_id = ? AND type = ? ORDER BY created_at ASC",
		table,
	)
	rows, err := tx.Query(query, userID, nodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s rows for healing: %w", nodeType, err)
	}
	defer rows.Close()

	var out []healRow
	for rows.Next() {
		var r healRow
		var content, attrs, createdAt sql.NullString
		if err := rows.Scan(&r.id, &r.name, &content, &attrs, &createdAt); err != nil {
			continue
		}
		r.content = content.String
		r.attrs = decodeAttributes(attrs)
		r.createdAt = createdAt.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// redirectEdges rewrites edge endpoints from oldID to newID in both
// directions. Rows that would collide with an existing edge are dropped.
func redirectEdges(tx *sql.Tx, edgeTable, userID, oldID, newID string) error {
	updates := []string{
		fmt.Sprintf("UPDATE OR IGNORE %s SET source = ? WHERE source = ? AND user_id = ?", edgeTable),
		fmt.Sprintf("UPDATE OR IGNORE %s SET target = ? WHERE target = ? AND user_id = ?", edgeTable),
	}
	for _, q := range updates {
		if _, err := tx.Exec(q, newID, oldID, userID); err != nil {
			return fmt.Errorf("failed to redirect edges %s -> %s: %w", oldID, newID, err)
		}
	}
	_, err := tx.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE (source = ? OR target = ?) AND user_id = ?", edgeTable),
		oldID, oldID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to drop residual edges for %s: %w", oldID, err)
	}
	return nil
}

// ClearAll wipes every row owned by userID: graph, staging, experiences,
// H3 history, calibrations, and persona configuration.
func (s *GraphStore) ClearAll(userID string) bool {
	timer := logging.StartTimer(logging.CategoryStore, "ClearAll")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"nodes", "edges",
		"staging_nodes", "staging_edges",
		"experiences",
		"h3_energy", "h3_calibrations", "persona_configs",
	}
	ok := true
	for _, table := range tables {
		if _, err := s.db.Exec("DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			logging.StoreError("ClearAll failed on %s: %v", table, err)
			ok = false
		}
	}
	logging.Store("ClearAll for user %s (ok=%v)", userID, ok)
	return ok
}

// ClearGraphOnly wipes the canonical nodes and edges for userID, leaving
// staging, experiences, and the H3/persona tables intact.
func (s *GraphStore) ClearGraphOnly(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := true
	for _, table := range []string{"nodes", "edges"} {
		if _, err := s.db.Exec("DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			logging.StoreError("ClearGraphOnly failed on %s: %v", table, err)
			ok = false
		}
	}
	logging.Store("ClearGraphOnly for user %s (ok=%v)", userID, ok)
	return ok
}
