package store

import (
	"database/sql"
	"fmt"
	"strings"

	"endgame/internal/logging"
	"endgame/internal/types"
)

// nodeColumns is the scan order shared by every node query.
const nodeColumns = "id, user_id, type, name, content, attributes, status, time_metadata, strategic_role, energy_impact, alignment_score, source_file, created_at"

// upsertNodeSQL preserves existing content unless the incoming value is
// non-empty, keeps the original created_at, and overwrites everything else.
func upsertNodeSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, user_id, type, name, content, attributes, status, time_metadata, strategic_role, energy_impact, alignment_score, source_file, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, user_id) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			content = CASE WHEN excluded.content <> '' THEN excluded.content ELSE %s.content END,
			attributes = excluded.attributes,
			status = excluded.status,
			time_metadata = excluded.time_metadata,
			strategic_role = excluded.strategic_role,
			energy_impact = excluded.energy_impact,
			alignment_score = excluded.alignment_score,
			source_file = CASE WHEN excluded.source_file <> '' THEN excluded.source_file ELSE %s.source_file END`,
		table, table, table)
}

// normalizeNode fills defaults and forces canonical ids. Self and Vision
// nodes always land on their fixed per-user ids regardless of the id the
// caller supplied.
func normalizeNode(userID string, node types.Node) types.Node {
	node.UserID = userID
	node.Type = types.NormalizeNodeType(string(node.Type))
	node.Name = strings.TrimSpace(node.Name)

	switch node.Type {
	case types.TypeSelf:
		node.ID = userID
	case types.TypeVision:
		node.ID = types.VisionNodeID(userID)
	default:
		if node.ID == "" {
			node.ID = types.CanonicalNodeID(userID, node.Type, node.Name)
		}
	}

	if node.Status == "" {
		node.Status = types.StatusConfirmed
	}
	if node.AlignmentScore == 0 {
		node.AlignmentScore = types.DefaultAlignment(node.Type)
	}
	if node.Attributes == nil {
		node.Attributes = map[string]any{}
	}
	if node.CreatedAt == "" {
		node.CreatedAt = types.NowISO()
	}
	return node
}

func nodeArgs(n types.Node) []any {
	return []any{
		n.ID, n.UserID, string(n.Type), n.Name, n.Content,
		encodeJSON(n.Attributes, "{}"),
		n.Status,
		encodeTimeMetadata(n.TimeMetadata),
		n.StrategicRole,
		n.EnergyImpact,
		n.AlignmentScore,
		n.SourceFile,
		n.CreatedAt,
	}
}

// UpsertNode writes a single node, idempotent by (id, user_id). On conflict
// the stored content survives unless the incoming content is non-empty.
func (s *GraphStore) UpsertNode(userID string, node types.Node) bool {
	node = normalizeNode(userID, node)
	if node.Name == "" && node.Content == "" {
		logging.StoreDebug("Skipping empty node upsert for user %s", userID)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(upsertNodeSQL("nodes"), nodeArgs(node)...)
}

// BatchUpsertEntities writes extracted entities in one transaction. Each
// entity's dossier merges into the stored attributes: lists union while
// preserving order, scalar values are replaced by the incoming side. Bad
// rows are skipped. Returns the number of rows written.
func (s *GraphStore) BatchUpsertEntities(userID string, entities []types.Entity) int {
	timer := logging.StartTimer(logging.CategoryStore, "BatchUpsertEntities")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("BatchUpsertEntities begin failed: %v", err)
		return 0
	}
	defer tx.Rollback()

	written := 0
	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		nodeType := types.NormalizeNodeType(e.Type)
		id := types.CanonicalNodeID(userID, nodeType, name)

		var existingAttrs sql.NullString
		err := tx.QueryRow("SELECT attributes FROM nodes WHERE id = ? AND user_id = ?", id, userID).Scan(&existingAttrs)
		if err != nil && err != sql.ErrNoRows {
			logging.StoreError("BatchUpsertEntities lookup failed for %q: %v", name, err)
			continue
		}
		attrs := types.MergeAttributes(decodeAttributes(existingAttrs), e.Dossier)

		node := types.Node{
			ID:         id,
			Type:       nodeType,
			Name:       name,
			Content:    e.Content,
			Attributes: attrs,
			Status:     e.Status,
		}
		if e.EnergyImpact != nil {
			node.EnergyImpact = *e.EnergyImpact
		}
		if e.AlignmentScore != nil {
			node.AlignmentScore = *e.AlignmentScore
		}
		node = normalizeNode(userID, node)

		if _, err := tx.Exec(upsertNodeSQL("nodes"), nodeArgs(node)...); err != nil {
			logging.StoreError("BatchUpsertEntities write failed for %q: %v", name, err)
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("BatchUpsertEntities commit failed: %v", err)
		return 0
	}
	logging.Store("Upserted %d/%d entities for user %s", written, len(entities), userID)
	return written
}

// AddLog appends a Log node. Content is truncated to 200 characters; the
// event timestamp doubles as created_at so date-prefix queries work.
func (s *GraphStore) AddLog(userID, logID, content, timestamp, logType string) bool {
	snippet := truncateRunes(content, 200)
	attrs := map[string]any{"timestamp": timestamp, "log_type": logType}

	node := types.Node{
		ID:         logID,
		Type:       types.TypeLog,
		Name:       snippet,
		Content:    snippet,
		Attributes: attrs,
		Status:     types.StatusConfirmed,
		CreatedAt:  timestamp,
	}
	node = normalizeNode(userID, node)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exec(upsertNodeSQL("nodes"), nodeArgs(node)...)
}

// AddConceptsBatch inserts Concept nodes by name, leaving existing rows
// untouched. Returns the number of rows inserted.
func (s *GraphStore) AddConceptsBatch(userID string, names []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		logging.StoreError("AddConceptsBatch begin failed: %v", err)
		return 0
	}
	defer tx.Rollback()

	inserted := 0
	now := types.NowISO()
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		id := types.CanonicalNodeID(userID, types.TypeConcept, name)
		res, err := tx.Exec(`
			INSERT INTO nodes (id, user_id, type, name, content, attributes, status, alignment_score, created_at)
			VALUES (?, ?, 'Concept', ?, '', '{}', 'confirmed', 0.5, ?)
			ON CONFLICT(id, user_id) DO NOTHING`,
			id, userID, name, now,
		)
		if err != nil {
			logging.StoreError("AddConceptsBatch failed for %q: %v", name, err)
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		logging.StoreError("AddConceptsBatch commit failed: %v", err)
		return 0
	}
	return inserted
}

// GetNode fetches a single node by id.
func (s *GraphStore) GetNode(userID, id string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		fmt.Sprintf("SELECT %s FROM nodes WHERE id = ? AND user_id = ?", nodeColumns),
		id, userID,
	)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s: %w", id, err)
	}
	return node, nil
}

// GetNodesByType returns all nodes of one type, newest first.
func (s *GraphStore) GetNodesByType(userID, nodeType string) ([]types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryNodes(
		fmt.Sprintf("SELECT %s FROM nodes WHERE user_id = ? AND type = ? ORDER BY created_at DESC", nodeColumns),
		userID, string(types.NormalizeNodeType(nodeType)),
	)
}

// GetSubEntities returns the nodes reachable from parentID over outgoing
// edges, optionally restricted to one relation.
func (s *GraphStore) GetSubEntities(userID, parentID, relation string) ([]types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := fmt.Sprintf(`
		SELECT %s FROM nodes n
		JOIN edges e ON e.target = n.id AND e.user_id = n.user_id
		WHERE e.source = ? AND e.user_id = ?`, prefixColumns("n"))
	args := []any{parentID, userID}
	if relation != "" {
		query += " AND e.relation = ?"
		args = append(args, relation)
	}
	query += " ORDER BY n.created_at DESC"
	return s.queryNodes(query, args...)
}

// GetPendingTasks returns unconfirmed Task nodes, newest first.
func (s *GraphStore) GetPendingTasks(userID string, limit int) ([]types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	return s.queryNodes(
		fmt.Sprintf("SELECT %s FROM nodes WHERE user_id = ? AND type = 'Task' AND status = 'pending' ORDER BY created_at DESC LIMIT ?", nodeColumns),
		userID, limit,
	)
}

// GetLogsByDate returns Log nodes whose created_at starts with datePrefix
// (e.g. "2026-08-24"), in chronological order.
func (s *GraphStore) GetLogsByDate(userID, datePrefix string) ([]types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryNodes(
		fmt.Sprintf("SELECT %s FROM nodes WHERE user_id = ? AND type = 'Log' AND created_at LIKE ? ORDER BY created_at ASC", nodeColumns),
		userID, datePrefix+"%",
	)
}

// GetStrategicContext serializes the vision, goals, and projects into a
// compact block for prompt assembly. Empty when the user has no strategy yet.
func (s *GraphStore) GetStrategicContext(userID string) (string, error) {
	visions, err := s.GetNodesByType(userID, "Vision")
	if err != nil {
		return "", err
	}
	goals, err := s.GetNodesByType(userID, "Goal")
	if err != nil {
		return "", err
	}
	projects, err := s.GetNodesByType(userID, "Project")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if len(visions) > 0 {
		text := visions[0].Content
		if text == "" {
			text = visions[0].Name
		}
		fmt.Fprintf(&b, "Vision: %s\n", text)
	}
	for _, g := range goals {
		fmt.Fprintf(&b, "Goal: %s\n", g.Name)
	}
	for _, p := range projects {
		fmt.Fprintf(&b, "Project: %s\n", p.Name)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// queryNodes runs a node-shaped query. Caller holds the read lock.
func (s *GraphStore) queryNodes(query string, args ...any) ([]types.Node, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("node query failed: %w", err)
	}
	defer rows.Close()
	return scanNodeRows(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*types.Node, error) {
	var n types.Node
	var typ string
	var content, attrs, status, timeMeta, role, sourceFile, createdAt sql.NullString
	var energy sql.NullInt64
	var alignment sql.NullFloat64

	err := row.Scan(&n.ID, &n.UserID, &typ, &n.Name, &content, &attrs, &status,
		&timeMeta, &role, &energy, &alignment, &sourceFile, &createdAt)
	if err != nil {
		return nil, err
	}

	n.Type = types.NodeType(typ)
	n.Content = content.String
	n.Attributes = decodeAttributes(attrs)
	n.Status = status.String
	n.TimeMetadata = decodeTimeMetadata(timeMeta)
	n.StrategicRole = role.String
	n.EnergyImpact = int(energy.Int64)
	n.AlignmentScore = alignment.Float64
	n.SourceFile = sourceFile.String
	n.CreatedAt = createdAt.String
	return &n, nil
}

func scanNodeRows(rows *sql.Rows) ([]types.Node, error) {
	var out []types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			logging.StoreDebug("Node scan failed, skipping row: %v", err)
			continue
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// prefixColumns qualifies nodeColumns with a table alias for joins.
func prefixColumns(alias string) string {
	cols := strings.Split(nodeColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// truncateRunes caps s at n runes without splitting multibyte characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
