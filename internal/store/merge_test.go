package store

import (
	"testing"

	"endgame/internal/types"
)

func TestMergeNodes(t *testing.T) {
	s := newTestStore(t)

	s.UpsertNode(testUser, types.Node{
		Type: "Person",
		Name: "Ada",
		Attributes: map[string]any{
			"role":   "engineer",
			"skills": []any{"go"},
		},
	})
	s.UpsertNode(testUser, types.Node{
		Type: "Person",
		Name: "Ada L",
		Attributes: map[string]any{
			"role":   "mathematician",
			"city":   "London",
			"skills": []any{"math"},
		},
	})
	masterID := types.StableNodeID("Ada")
	slaveID := types.StableNodeID("Ada L")
	s.UpsertEdge(testUser, slaveID, "project_1", "WORKS_ON", nil)
	s.UpsertEdge(testUser, "log_1", slaveID, "MENTIONS", nil)

	if !s.MergeNodes(testUser, masterID, slaveID) {
		t.Fatal("MergeNodes failed")
	}

	master, err := s.GetNode(testUser, masterID)
	if err != nil {
		t.Fatalf("master missing after merge: %v", err)
	}
	if master.Attributes["role"] != "engineer" {
		t.Errorf("master scalar should win, got %v", master.Attributes["role"])
	}
	if master.Attributes["city"] != "London" {
		t.Errorf("slave should fill gaps, got %v", master.Attributes["city"])
	}
	skills, _ := master.Attributes["skills"].([]any)
	if len(skills) != 2 {
		t.Errorf("lists should union, got %v", skills)
	}

	if _, err := s.GetNode(testUser, slaveID); err == nil {
		t.Error("slave should be deleted after merge")
	}

	edges, _ := s.GetEdges(testUser)
	var outbound, inbound bool
	for _, e := range edges {
		if e.Source == slaveID || e.Target == slaveID {
			t.Errorf("edge still references slave: %+v", e)
		}
		if e.Source == masterID && e.Target == "project_1" {
			outbound = true
		}
		if e.Source == "log_1" && e.Target == masterID {
			inbound = true
		}
	}
	if !outbound || !inbound {
		t.Errorf("edges should redirect in both directions, outbound=%v inbound=%v", outbound, inbound)
	}
}

func TestMergeNodesCollidingEdges(t *testing.T) {
	s := newTestStore(t)

	s.UpsertNode(testUser, types.Node{Type: "Concept", Name: "Rust"})
	s.UpsertNode(testUser, types.Node{Type: "Concept", Name: "Rust Lang"})
	masterID := types.StableNodeID("Rust")
	slaveID := types.StableNodeID("Rust Lang")

	// Both nodes already connect to the same target; the redirect must not
	// produce a duplicate key.
	s.UpsertEdge(testUser, masterID, "goal_1", "RELATES_TO", nil)
	s.UpsertEdge(testUser, slaveID, "goal_1", "RELATES_TO", nil)

	if !s.MergeNodes(testUser, masterID, slaveID) {
		t.Fatal("MergeNodes failed")
	}

	edges, _ := s.GetEdges(testUser)
	if len(edges) != 1 {
		t.Fatalf("colliding edges should collapse to one, got %d", len(edges))
	}
	if edges[0].Source != masterID {
		t.Errorf("surviving edge should start at the master, got %s", edges[0].Source)
	}
}

func TestMergeNodesMissingRow(t *testing.T) {
	s := newTestStore(t)

	s.UpsertNode(testUser, types.Node{Type: "Concept", Name: "Rust"})
	masterID := types.StableNodeID("Rust")

	if s.MergeNodes(testUser, masterID, "missing_slave") {
		t.Error("merge with a missing slave should fail")
	}
	if s.MergeNodes(testUser, "missing_master", masterID) {
		t.Error("merge with a missing master should fail")
	}
	if s.MergeNodes(testUser, masterID, masterID) {
		t.Error("merging a node into itself should fail")
	}
}
