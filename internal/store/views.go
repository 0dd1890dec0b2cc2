package store

import (
	"fmt"
	"strings"

	"endgame/internal/logging"
	"endgame/internal/types"
)

const (
	globalViewCap    = 2000
	strategicViewCap = 1000
)

// GetGraphData projects the graph for one view:
//
//	global    - every type, energy then recency, capped at 2000
//	strategic - the execution hierarchy, ordered by tier, capped at 1000
//	people    - Person/Organization around the Self node
//	social    - alias of people
//	staging   - the same projection over the staging mirror
//
// Edges with at least one endpoint in the projected set are included; the
// missing endpoints are filled in from the same table so links never dangle.
func (s *GraphStore) GetGraphData(userID string, view types.ViewType) (*types.GraphData, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetGraphData")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	nodeTable, edgeTable := "nodes", "edges"
	if view == types.ViewStaging {
		nodeTable, edgeTable = "staging_nodes", "staging_edges"
	}

	nodes, err := s.queryNodes(viewNodeQuery(nodeTable, view), userID)
	if err != nil {
		return nil, err
	}

	edges, err := s.queryEdges(
		fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ?", edgeColumns, edgeTable), userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		seen[n.ID] = true
	}

	var kept []types.Edge
	missing := map[string]bool{}
	for _, e := range edges {
		srcIn, dstIn := seen[e.Source], seen[e.Target]
		if !srcIn && !dstIn {
			continue
		}
		kept = append(kept, e)
		if !srcIn {
			missing[e.Source] = true
		}
		if !dstIn {
			missing[e.Target] = true
		}
	}

	if len(missing) > 0 {
		ghosts, err := s.fetchNodesByIDs(nodeTable, userID, keys(missing))
		if err != nil {
			logging.StoreError("Ghost fill failed: %v", err)
		} else {
			for _, g := range ghosts {
				if !seen[g.ID] {
					seen[g.ID] = true
					nodes = append(nodes, g)
				}
			}
		}
	}

	return &types.GraphData{Nodes: nodes, Links: kept}, nil
}

// viewNodeQuery builds the node selection for a view. Unknown views fall
// back to the global projection.
func viewNodeQuery(table string, view types.ViewType) string {
	switch view {
	case types.ViewStrategic:
		return fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE user_id = ? AND type IN ('Self', 'Vision', 'Goal', 'Project', 'Task', 'Action', 'Insight')
			ORDER BY CASE type
				WHEN 'Self' THEN 0
				WHEN 'Vision' THEN 1
				WHEN 'Goal' THEN 2
				WHEN 'Project' THEN 3
				WHEN 'Task' THEN 4
				WHEN 'Insight' THEN 5
				ELSE 6 END,
				created_at DESC
			LIMIT %d`, nodeColumns, table, strategicViewCap)
	case types.ViewPeople, types.ViewSocial:
		return fmt.Sprintf(`
			SELECT %s FROM %s
			WHERE user_id = ? AND type IN ('Person', 'Organization', 'Self')
			ORDER BY CASE type WHEN 'Self' THEN 0 ELSE 1 END, energy_impact DESC`,
			nodeColumns, table)
	case types.ViewStaging:
		return fmt.Sprintf(
			"SELECT %s FROM %s WHERE user_id = ? ORDER BY created_at DESC",
			nodeColumns, table)
	default:
		return fmt.Sprintf(
			"SELECT %s FROM %s WHERE user_id = ? ORDER BY energy_impact DESC, created_at DESC LIMIT %d",
			nodeColumns, table, globalViewCap)
	}
}

// fetchNodesByIDs loads specific rows from nodeTable, chunking the IN list
// to stay under SQLite's bound-parameter limit.
func (s *GraphStore) fetchNodesByIDs(nodeTable, userID string, ids []string) ([]types.Node, error) {
	const chunkSize = 400
	var out []types.Node
	for start := 0; start < len(ids); start += chunkSize {
		end := start + chunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		placeholders := strings.Repeat("?,", len(chunk))
		placeholders = placeholders[:len(placeholders)-1]
		args := make([]any, 0, len(chunk)+1)
		args = append(args, userID)
		for _, id := range chunk {
			args = append(args, id)
		}

		nodes, err := s.queryNodes(
			fmt.Sprintf("SELECT %s FROM %s WHERE user_id = ? AND id IN (%s)", nodeColumns, nodeTable, placeholders),
			args...,
		)
		if err != nil {
			return out, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func keys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// GetStats reports node totals, the per-type histogram, and the edge count.
func (s *GraphStore) GetStats(userID string) (*types.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.GraphStats{NodesByType: map[string]int{}}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM nodes WHERE user_id = ?", userID).Scan(&stats.TotalNodes); err != nil {
		return nil, fmt.Errorf("failed to count nodes: %w", err)
	}

	rows, err := s.db.Query("SELECT type, COUNT(*) FROM nodes WHERE user_id = ? GROUP BY type", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count nodes by type: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			continue
		}
		stats.NodesByType[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM edges WHERE user_id = ?", userID).Scan(&stats.TotalEdges); err != nil {
		return nil, fmt.Errorf("failed to count edges: %w", err)
	}
	return stats, nil
}
