package store

import (
	"strings"
	"testing"

	"endgame/internal/types"
)

// insertRaw bypasses the upsert normalization so tests can plant the broken
// shapes SelfHeal exists to repair.
func insertRaw(t *testing.T, s *GraphStore, table, id, userID, nodeType, name, content string) {
	t.Helper()
	_, err := s.db.Exec(
		"INSERT INTO "+table+" (id, user_id, type, name, content, attributes, status, created_at) VALUES (?, ?, ?, ?, ?, '{}', 'confirmed', ?)",
		id, userID, nodeType, name, content, types.NowISO(),
	)
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}
}

func TestSelfHealVisionMerge(t *testing.T) {
	s := newTestStore(t)

	insertRaw(t, s, "nodes", "vision_old_1", testUser, "Vision", "Old Vision", "part one")
	insertRaw(t, s, "nodes", "vision_old_2", testUser, "Vision", "Another", "part two")
	s.UpsertEdge(testUser, "vision_old_1", "goal_x", "HAS_GOAL", nil)
	s.UpsertEdge(testUser, "other", "vision_old_2", "RELATES_TO", nil)

	report, err := s.SelfHeal(testUser)
	if err != nil {
		t.Fatalf("SelfHeal failed: %v", err)
	}
	if report.VisionsMerged != 2 {
		t.Fatalf("expected 2 visions merged, got %d", report.VisionsMerged)
	}

	canonical := types.VisionNodeID(testUser)
	v, err := s.GetNode(testUser, canonical)
	if err != nil {
		t.Fatalf("canonical vision missing: %v", err)
	}
	if !strings.Contains(v.Content, "part one") || !strings.Contains(v.Content, "part two") {
		t.Errorf("contents should join, got %q", v.Content)
	}

	visions, _ := s.GetNodesByType(testUser, "Vision")
	if len(visions) != 1 {
		t.Fatalf("exactly one vision should survive, got %d", len(visions))
	}

	edges, _ := s.GetEdges(testUser)
	for _, e := range edges {
		if e.Source == "vision_old_1" || e.Target == "vision_old_2" {
			t.Errorf("edge still references stray vision: %+v", e)
		}
	}
}

func TestSelfHealSelfNormalize(t *testing.T) {
	s := newTestStore(t)

	insertRaw(t, s, "nodes", "self_stray", testUser, "Self", "Me", "owner")
	s.UpsertEdge(testUser, "self_stray", "concept_1", "KNOWS", nil)

	report, err := s.SelfHeal(testUser)
	if err != nil {
		t.Fatalf("SelfHeal failed: %v", err)
	}
	if report.SelvesMerged != 1 {
		t.Fatalf("expected 1 self normalized, got %d", report.SelvesMerged)
	}

	self, err := s.GetNode(testUser, testUser)
	if err != nil {
		t.Fatalf("Self should live at id==userID: %v", err)
	}
	if self.Name != "Me" {
		t.Errorf("normalized self should keep its fields, got %+v", self)
	}

	edges, _ := s.GetEdges(testUser)
	var relinked bool
	for _, e := range edges {
		if e.Source == testUser && e.Target == "concept_1" {
			relinked = true
		}
		if e.Source == "self_stray" {
			t.Errorf("edge still references stray self: %+v", e)
		}
	}
	if !relinked {
		t.Error("KNOWS edge should follow the renamed self")
	}
}

func TestSelfHealBootstrapsEmptyUser(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.SelfHeal(testUser); err != nil {
		t.Fatalf("SelfHeal failed: %v", err)
	}

	if _, err := s.GetNode(testUser, testUser); err != nil {
		t.Errorf("Self node should exist after heal: %v", err)
	}

	edges, _ := s.GetEdges(testUser)
	var owns bool
	for _, e := range edges {
		if e.Source == testUser && e.Target == types.VisionNodeID(testUser) && e.Relation == "OWNS" {
			owns = true
		}
	}
	if !owns {
		t.Error("OWNS edge to the vision should exist after heal")
	}
}

func TestSelfHealOrphanGoals(t *testing.T) {
	s := newTestStore(t)

	s.UpsertNode(testUser, types.Node{Type: "Vision", Name: "North"})
	s.UpsertNode(testUser, types.Node{Type: "Goal", Name: "Orphan"})
	s.UpsertNode(testUser, types.Node{Type: "Goal", Name: "Linked"})
	visionID := types.VisionNodeID(testUser)
	linkedID := types.StableNodeID("Linked")
	s.UpsertEdge(testUser, visionID, linkedID, "HAS_GOAL", nil)

	report, err := s.SelfHeal(testUser)
	if err != nil {
		t.Fatalf("SelfHeal failed: %v", err)
	}
	if report.OrphanGoalsLinked != 1 {
		t.Fatalf("expected 1 orphan linked, got %d", report.OrphanGoalsLinked)
	}

	goals, _ := s.GetSubEntities(testUser, visionID, "HAS_GOAL")
	if len(goals) != 2 {
		t.Fatalf("both goals should hang off the vision, got %d", len(goals))
	}
}

func TestSelfHealStagingMirror(t *testing.T) {
	s := newTestStore(t)

	insertRaw(t, s, "staging_nodes", "vision_staged_dup", testUser, "Vision", "Draft Vision", "draft")

	report, err := s.SelfHeal(testUser)
	if err != nil {
		t.Fatalf("SelfHeal failed: %v", err)
	}
	if report.StagingVisionsMerged != 1 {
		t.Fatalf("expected 1 staged vision normalized, got %d", report.StagingVisionsMerged)
	}

	staged, _ := s.GetStaging(testUser)
	for _, n := range staged.Nodes {
		if n.Type == types.TypeVision && n.ID != types.VisionNodeID(testUser) {
			t.Errorf("staged vision should sit on the canonical id, got %s", n.ID)
		}
	}
}

func TestSelfHealIdempotent(t *testing.T) {
	s := newTestStore(t)

	insertRaw(t, s, "nodes", "vision_dup", testUser, "Vision", "V", "text")
	if _, err := s.SelfHeal(testUser); err != nil {
		t.Fatalf("first heal failed: %v", err)
	}

	report, err := s.SelfHeal(testUser)
	if err != nil {
		t.Fatalf("second heal failed: %v", err)
	}
	if report.VisionsMerged != 0 || report.SelvesMerged != 0 || report.OrphanGoalsLinked != 0 {
		t.Errorf("second heal should be a no-op, got %+v", report)
	}

	visions, _ := s.GetNodesByType(testUser, "Vision")
	selves, _ := s.GetNodesByType(testUser, "Self")
	if len(visions) != 1 || len(selves) != 1 {
		t.Errorf("expected exactly one vision and one self, got %d/%d", len(visions), len(selves))
	}
}
