package store

import (
	"fmt"
	"strings"

	"endgame/internal/logging"
	"endgame/internal/types"
)

const insertStagingEdgeSQL = `
	INSERT OR IGNORE INTO staging_edges (source, target, relation, user_id, properties, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

// AddToStaging writes extracted nodes and edges into the staging mirror.
// Staged nodes are always pending and carry the originating file. Bad rows
// are skipped. Returns the number of nodes and edges staged.
func (s *GraphStore) AddToStaging(userID string, nodes []types.Node, edges []types.Edge, sourceFile string) (int, int) {
	timer := logging.StartTimer(logging.CategoryStore, "AddToStaging")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("AddToStaging begin failed: %v", err)
		return 0, 0
	}
	defer tx.Rollback()

	stagedNodes := 0
	for _, node := range nodes {
		if node.SourceFile == "" {
			node.SourceFile = sourceFile
		}
		node = normalizeNode(userID, node)
		node.Status = types.StatusPending
		if node.Name == "" && node.Content == "" {
			continue
		}
		if _, err := tx.Exec(upsertNodeSQL("staging_nodes"), nodeArgs(node)...); err != nil {
			logging.StoreError("AddToStaging node write failed for %q: %v", node.Name, err)
			continue
		}
		stagedNodes++
	}

	stagedEdges := 0
	now := types.NowISO()
	for _, e := range edges {
		if e.Source == "" || e.Target == "" || e.Relation == "" {
			continue
		}
		_, err := tx.Exec(insertStagingEdgeSQL,
			e.Source, e.Target, e.Relation, userID, encodeJSON(e.Properties, "{}"), now)
		if err != nil {
			logging.StoreError("AddToStaging edge write failed for %s -> %s: %v", e.Source, e.Target, err)
			continue
		}
		stagedEdges++
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("AddToStaging commit failed: %v", err)
		return 0, 0
	}
	logging.Store("Staged %d nodes and %d edges for user %s (source=%s)", stagedNodes, stagedEdges, userID, sourceFile)
	return stagedNodes, stagedEdges
}

// GetStaging returns every staged node and edge for userID.
func (s *GraphStore) GetStaging(userID string) (*types.GraphData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes, err := s.queryNodes(
		fmt.Sprintf("SELECT %s FROM staging_nodes WHERE user_id = ? ORDER BY created_at DESC", nodeColumns),
		userID,
	)
	if err != nil {
		return nil, err
	}
	edges, err := s.queryEdges(
		fmt.Sprintf("SELECT %s FROM staging_edges WHERE user_id = ?", edgeColumns),
		userID,
	)
	if err != nil {
		return nil, err
	}
	return &types.GraphData{Nodes: nodes, Links: edges}, nil
}

// CommitStaging promotes staged rows into the canonical graph. A nil or
// empty nodeIDs promotes everything; a subset promotes those nodes plus the
// staged edges whose endpoints are both in the subset. Promoted rows leave
// staging with status confirmed. Returns the number of nodes promoted.
func (s *GraphStore) CommitStaging(userID string, nodeIDs []string) (int, error) {
	timer := logging.StartTimer(logging.CategoryStore, "CommitStaging")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	all := len(nodeIDs) == 0
	subset := make(map[string]bool, len(nodeIDs))
	for _, id := range nodeIDs {
		subset[id] = true
	}

	query := fmt.Sprintf("SELECT %s FROM staging_nodes WHERE user_id = ?", nodeColumns)
	rows, err := tx.Query(query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read staged nodes: %w", err)
	}
	var staged []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			continue
		}
		if all || subset[n.ID] {
			staged = append(staged, *n)
		}
	}
	rows.Close()

	promoted := 0
	for _, node := range staged {
		stagedID := node.ID
		node.Status = types.StatusConfirmed
		node = normalizeNode(userID, node)
		if _, err := tx.Exec(upsertNodeSQL("nodes"), nodeArgs(node)...); err != nil {
			logging.StoreError("CommitStaging node promote failed for %s: %v", stagedID, err)
			continue
		}
		if _, err := tx.Exec("DELETE FROM staging_nodes WHERE id = ? AND user_id = ?", stagedID, userID); err != nil {
			logging.StoreError("CommitStaging staging delete failed for %s: %v", stagedID, err)
			continue
		}
		promoted++
	}

	edgeRows, err := tx.Query(
		fmt.Sprintf("SELECT %s FROM staging_edges WHERE user_id = ?", edgeColumns), userID)
	if err != nil {
		return promoted, fmt.Errorf("failed to read staged edges: %w", err)
	}
	var stagedEdges []types.Edge
	for edgeRows.Next() {
		e, err := scanEdge(edgeRows)
		if err != nil {
			continue
		}
		if all || (subset[e.Source] && subset[e.Target]) {
			stagedEdges = append(stagedEdges, *e)
		}
	}
	edgeRows.Close()

	promotedEdges := 0
	for _, e := range stagedEdges {
		created := e.CreatedAt
		if created == "" {
			created = types.NowISO()
		}
		_, err := tx.Exec(insertEdgeSQL,
			e.Source, e.Target, e.Relation, userID, encodeJSON(e.Properties, "{}"), created)
		if err != nil {
			logging.StoreError("CommitStaging edge promote failed for %s -> %s: %v", e.Source, e.Target, err)
			continue
		}
		_, err = tx.Exec(
			"DELETE FROM staging_edges WHERE source = ? AND target = ? AND relation = ? AND user_id = ?",
			e.Source, e.Target, e.Relation, userID)
		if err != nil {
			logging.StoreError("CommitStaging staged edge delete failed: %v", err)
			continue
		}
		promotedEdges++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging promotion: %w", err)
	}

	logging.Store("Committed %d nodes and %d edges from staging for user %s", promoted, promotedEdges, userID)
	return promoted, nil
}

// MergeStaging folds one staged node into another: staged edges are
// rewritten from sourceID to targetID in both directions, then the source
// row is deleted.
func (s *GraphStore) MergeStaging(userID, sourceID, targetID string) bool {
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("MergeStaging begin failed: %v", err)
		return false
	}
	defer tx.Rollback()

	if err := redirectEdges(tx, "staging_edges", userID, sourceID, targetID); err != nil {
		logging.StoreError("MergeStaging redirect failed: %v", err)
		return false
	}
	if _, err := tx.Exec("DELETE FROM staging_nodes WHERE id = ? AND user_id = ?", sourceID, userID); err != nil {
		logging.StoreError("MergeStaging delete failed for %s: %v", sourceID, err)
		return false
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("MergeStaging commit failed: %v", err)
		return false
	}
	logging.Store("Merged staged node %s into %s for user %s", sourceID, targetID, userID)
	return true
}

// UpdateStagingNode replaces the editable fields of a staged row. The row
// keeps its id and created_at.
func (s *GraphStore) UpdateStagingNode(userID string, node types.Node) bool {
	if node.ID == "" {
		return false
	}
	nodeType := types.NormalizeNodeType(string(node.Type))
	status := node.Status
	if status == "" {
		status = types.StatusPending
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE staging_nodes
		SET type = ?, name = ?, content = ?, attributes = ?, status = ?, energy_impact = ?, alignment_score = ?
		WHERE id = ? AND user_id = ?`,
		string(nodeType), strings.TrimSpace(node.Name), node.Content,
		encodeJSON(node.Attributes, "{}"), status, node.EnergyImpact, node.AlignmentScore,
		node.ID, userID,
	)
	if err != nil {
		logging.StoreError("UpdateStagingNode failed for %s: %v", node.ID, err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// DeleteStagingNode removes a staged node and every staged edge touching it.
func (s *GraphStore) DeleteStagingNode(userID, nodeID string) bool {
	if nodeID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("DeleteStagingNode begin failed: %v", err)
		return false
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM staging_nodes WHERE id = ? AND user_id = ?", nodeID, userID)
	if err != nil {
		logging.StoreError("DeleteStagingNode failed for %s: %v", nodeID, err)
		return false
	}
	if _, err := tx.Exec("DELETE FROM staging_edges WHERE (source = ? OR target = ?) AND user_id = ?", nodeID, nodeID, userID); err != nil {
		logging.StoreError("DeleteStagingNode edge cleanup failed for %s: %v", nodeID, err)
		return false
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("DeleteStagingNode commit failed: %v", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// ClearStaging empties the staging mirror for userID.
func (s *GraphStore) ClearStaging(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := true
	for _, table := range []string{"staging_nodes", "staging_edges"} {
		if _, err := s.db.Exec("DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			logging.StoreError("ClearStaging failed on %s: %v", table, err)
			ok = false
		}
	}
	return ok
}
