package types

import (
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStableNodeIDDeterministic(t *testing.T) {
	a := StableNodeID("Endgame OS 重构")
	b := StableNodeID("Endgame OS 重构")
	if a != b {
		t.Fatalf("same name produced different ids: %s vs %s", a, b)
	}
	if a == StableNodeID("Another Project") {
		t.Fatal("different names collided")
	}
}

func TestStableNodeIDFormat(t *testing.T) {
	id := StableNodeID("Quantum Research")
	matched, err := regexp.MatchString(`^con_[0-9a-f]{16}$`, id)
	if err != nil {
		t.Fatal(err)
	}
	if !matched {
		t.Errorf("unexpected id format: %s", id)
	}
}

func TestStableNodeIDTrimsWhitespace(t *testing.T) {
	if StableNodeID("  EOS  ") != StableNodeID("EOS") {
		t.Error("surrounding whitespace should not change the id")
	}
}

func TestCanonicalNodeID(t *testing.T) {
	if got := CanonicalNodeID("u1", TypeSelf, "whatever"); got != "u1" {
		t.Errorf("Self id = %s, want u1", got)
	}
	if got := CanonicalNodeID("u1", TypeVision, "whatever"); got != "vision_u1" {
		t.Errorf("Vision id = %s, want vision_u1", got)
	}
	if got := CanonicalNodeID("u1", TypeProject, "P"); got != StableNodeID("P") {
		t.Errorf("Project id = %s, want stable id", got)
	}
}

func TestNormalizeRelation(t *testing.T) {
	cases := map[string]string{
		"HAS_GOAL":      "HAS_GOAL",
		"has_goal":      "HAS_GOAL",
		"has goal":      "HAS_GOAL",
		"blocked-by":    "BLOCKED_BY",
		"  OWNS  ":      "OWNS",
		"LOVES":         "RELATES_TO",
		"":              "RELATES_TO",
		"contributesto": "RELATES_TO",
	}
	for in, want := range cases {
		if got := NormalizeRelation(in); got != want {
			t.Errorf("NormalizeRelation(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeNodeType(t *testing.T) {
	cases := map[string]NodeType{
		"Project":      TypeProject,
		"project":      TypeProject,
		"ORGANIZATION": TypeOrganization,
		"gizmo":        TypeConcept,
		"":             TypeConcept,
	}
	for in, want := range cases {
		if got := NormalizeNodeType(in); got != want {
			t.Errorf("NormalizeNodeType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStrategicRankOrdering(t *testing.T) {
	ladder := []NodeType{TypeSelf, TypeVision, TypeGoal, TypeProject, TypeTask, TypeInsight}
	for i := 1; i < len(ladder); i++ {
		if StrategicRank(ladder[i-1]) >= StrategicRank(ladder[i]) {
			t.Errorf("%s should rank before %s", ladder[i-1], ladder[i])
		}
	}
	if StrategicRank(TypeConcept) <= StrategicRank(TypeInsight) {
		t.Error("non-ladder types must rank after Insight")
	}
}

func TestDefaultAlignment(t *testing.T) {
	if DefaultAlignment(TypeSelf) != 1.0 || DefaultAlignment(TypeVision) != 1.0 {
		t.Error("identity singletons default to alignment 1.0")
	}
	if DefaultAlignment(TypeTask) != 0.5 {
		t.Error("other types default to alignment 0.5")
	}
}

func TestMergeAttributesListsUnion(t *testing.T) {
	existing := map[string]any{
		"dossier": map[string]any{
			"skills": []any{"go", "sql"},
			"city":   "Shanghai",
		},
	}
	incoming := map[string]any{
		"dossier": map[string]any{
			"skills": []any{"sql", "rust"},
			"city":   "Hangzhou",
		},
	}
	got := MergeAttributes(existing, incoming)
	want := map[string]any{
		"dossier": map[string]any{
			"skills": []any{"go", "sql", "rust"},
			"city":   "Hangzhou",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeAttributesDoesNotMutateInputs(t *testing.T) {
	existing := map[string]any{"tags": []any{"a"}}
	incoming := map[string]any{"tags": []any{"b"}}
	_ = MergeAttributes(existing, incoming)
	if len(existing["tags"].([]any)) != 1 || len(incoming["tags"].([]any)) != 1 {
		t.Error("inputs were mutated")
	}
}

func TestMergeAttributesScalarReplaces(t *testing.T) {
	got := MergeAttributes(
		map[string]any{"status_note": "old", "count": float64(1)},
		map[string]any{"status_note": "new"},
	)
	if got["status_note"] != "new" {
		t.Errorf("scalar should be replaced, got %v", got["status_note"])
	}
	if got["count"] != float64(1) {
		t.Errorf("untouched key should survive, got %v", got["count"])
	}
}

func TestExtractionResultEmpty(t *testing.T) {
	if !(ExtractionResult{}).Empty() {
		t.Error("zero value should be empty")
	}
	r := ExtractionResult{Entities: []Entity{{Name: "x", Type: "Concept"}}}
	if r.Empty() {
		t.Error("result with an entity is not empty")
	}
}

func TestNeutralAlignment(t *testing.T) {
	n := NeutralAlignment()
	if n.Score != 0.5 || n.Reason != "unknown" {
		t.Errorf("unexpected neutral note: %+v", n)
	}
}
