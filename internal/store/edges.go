package store

import (
	"database/sql"
	"fmt"
	"strings"

	"endgame/internal/logging"
	"endgame/internal/types"
)

const edgeColumns = "source, target, relation, user_id, properties, created_at"

const insertEdgeSQL = `
	INSERT OR IGNORE INTO edges (source, target, relation, user_id, properties, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// UpsertEdge writes one directed edge, idempotent on the composite key.
// The relation is stored verbatim; readers degrade unknown relations.
func (s *GraphStore) UpsertEdge(userID, source, target, relation string, properties map[string]any) bool {
	if source == "" || target == "" || relation == "" {
		logging.StoreDebug("Skipping edge with empty endpoint or relation for user %s", userID)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(insertEdgeSQL, source, target, relation, userID, encodeJSON(properties, "{}"), types.NowISO())
}

// UpsertRelations writes extracted relations in one transaction. Endpoint
// names resolve to node ids (self aliases map to the user id), and unknown
// relations degrade to RELATES_TO. Bad rows are skipped. Returns the number
// of edges written.
func (s *GraphStore) UpsertRelations(userID string, relations []types.Relation) int {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertRelations")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("UpsertRelations begin failed: %v", err)
		return 0
	}
	defer tx.Rollback()

	written := 0
	now := types.NowISO()
	for _, r := range relations {
		source := resolveEndpoint(userID, r.Source)
		target := resolveEndpoint(userID, r.Target)
		if source == "" || target == "" || source == target {
			continue
		}
		relation := types.NormalizeRelation(r.Relation)

		res, err := tx.Exec(insertEdgeSQL, source, target, relation, userID, "{}", now)
		if err != nil {
			logging.StoreError("UpsertRelations failed for %s -%s-> %s: %v", r.Source, relation, r.Target, err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("UpsertRelations commit failed: %v", err)
		return 0
	}
	logging.Store("Wrote %d/%d relations for user %s", written, len(relations), userID)
	return written
}

// AddMentionsBatch links a source node (typically a Log) to each target id
// with MENTIONS edges. Returns the number of edges written.
func (s *GraphStore) AddMentionsBatch(userID, sourceID string, targetIDs []string) int {
	if sourceID == "" {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("AddMentionsBatch begin failed: %v", err)
		return 0
	}
	defer tx.Rollback()

	written := 0
	now := types.NowISO()
	for _, target := range targetIDs {
		if target == "" || target == sourceID {
			continue
		}
		res, err := tx.Exec(insertEdgeSQL, sourceID, target, types.RelationMentions, userID, "{}", now)
		if err != nil {
			logging.StoreError("AddMentionsBatch failed for %s -> %s: %v", sourceID, target, err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("AddMentionsBatch commit failed: %v", err)
		return 0
	}
	return written
}

// GetEdges returns every edge owned by userID.
func (s *GraphStore) GetEdges(userID string) ([]types.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryEdges(fmt.Sprintf("SELECT %s FROM edges WHERE user_id = ?", edgeColumns), userID)
}

// resolveEndpoint turns an extracted entity name into a node id. Self
// aliases and the raw user id map to the Self node; everything else hashes
// to the stable concept id.
func resolveEndpoint(userID, name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	if trimmed == userID {
		return userID
	}
	switch strings.ToLower(trimmed) {
	case "user", "self", "me":
		return userID
	}
	return types.StableNodeID(trimmed)
}

// queryEdges runs an edge-shaped query. Caller holds the read lock.
func (s *GraphStore) queryEdges(query string, args ...any) ([]types.Edge, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("edge query failed: %w", err)
	}
	defer rows.Close()

	var out []types.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			logging.StoreDebug("Edge scan failed, skipping row: %v", err)
			continue
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEdge(rows rowScanner) (*types.Edge, error) {
	var e types.Edge
	var props, createdAt sql.NullString
	if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.UserID, &props, &createdAt); err != nil {
		return nil, err
	}
	e.Properties = decodeAttributes(props)
	e.CreatedAt = createdAt.String
	return &e, nil
}
