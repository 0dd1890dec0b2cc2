// Package types provides shared type definitions used across endgame packages.
// This package exists to break import cycles between the stores, the perception
// layer, and the services. Types in this package are foundational data
// structures with no dependencies beyond the standard library.
package types

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// NODE TAXONOMY
// =============================================================================

// NodeType classifies a node in the strategic graph.
type NodeType string

const (
	TypeSelf         NodeType = "Self"
	TypeVision       NodeType = "Vision"
	TypeGoal         NodeType = "Goal"
	TypeProject      NodeType = "Project"
	TypeTask         NodeType = "Task"
	TypeAction       NodeType = "Action"
	TypeInsight      NodeType = "Insight"
	TypePerson       NodeType = "Person"
	TypeOrganization NodeType = "Organization"
	TypeConcept      NodeType = "Concept"
	TypeLog          NodeType = "Log"
	TypeEvent        NodeType = "Event"
	TypeExperience   NodeType = "Experience"
	TypeTool         NodeType = "Tool"
)

// knownTypes maps lowercase spellings to the canonical type.
var knownTypes = map[string]NodeType{
	"self":         TypeSelf,
	"vision":       TypeVision,
	"goal":         TypeGoal,
	"project":      TypeProject,
	"task":         TypeTask,
	"action":       TypeAction,
	"insight":      TypeInsight,
	"person":       TypePerson,
	"organization": TypeOrganization,
	"concept":      TypeConcept,
	"log":          TypeLog,
	"event":        TypeEvent,
	"experience":   TypeExperience,
	"tool":         TypeTool,
}

// NormalizeNodeType maps an extractor-provided type string onto the closed
// taxonomy. Unknown or empty types degrade to Concept; the extractor's output
// is never trusted verbatim.
func NormalizeNodeType(s string) NodeType {
	if t, ok := knownTypes[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return TypeConcept
}

// strategicRank orders types for the strategic view projection. Lower sorts
// first. Types outside the strategic ladder share the last rank.
var strategicRank = map[NodeType]int{
	TypeSelf:    0,
	TypeVision:  1,
	TypeGoal:    2,
	TypeProject: 3,
	TypeTask:    4,
	TypeInsight: 5,
}

// StrategicRank returns the sort rank of a type in the strategic view.
func StrategicRank(t NodeType) int {
	if r, ok := strategicRank[t]; ok {
		return r
	}
	return 6
}

// DefaultAlignment returns the alignment score a node of the given type
// receives when the extractor supplies none: 1.0 for the two identity
// singletons, 0.5 for everything else.
func DefaultAlignment(t NodeType) float64 {
	if t == TypeSelf || t == TypeVision {
		return 1.0
	}
	return 0.5
}

// Node status values. A pending node lives in or originated from the staging
// mirror and has not been human-confirmed.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// =============================================================================
// RELATION VOCABULARY
// =============================================================================

// relations is the closed set of edge relations the engine understands.
var relations = map[string]struct{}{
	"OWNS": {}, "DECOMPOSES_TO": {}, "ACHIEVED_BY": {}, "HAS_GOAL": {},
	"HAS_PROJECT": {}, "CONSISTS_OF": {}, "HAS_TASK": {}, "EXECUTES": {},
	"MENTIONS": {}, "RELATES_TO": {}, "KNOWS": {}, "SUPPORTS": {},
	"PARTNERS_WITH": {}, "BELONGS_TO": {}, "INFLUENCES": {},
	"CONTRIBUTES_TO": {}, "BLOCKED_BY": {}, "GENERATES": {}, "DEFINES": {},
	"IS_A": {}, "PART_OF": {},
}

// Relations the engine itself emits.
const (
	RelationOwns     = "OWNS"
	RelationHasGoal  = "HAS_GOAL"
	RelationMentions = "MENTIONS"
	RelationRelates  = "RELATES_TO"
)

// NormalizeRelation maps an extractor-provided relation onto the closed
// vocabulary. Spellings are uppercased and spaces collapse to underscores;
// anything still unrecognized degrades to RELATES_TO.
func NormalizeRelation(s string) string {
	r := strings.ToUpper(strings.TrimSpace(s))
	r = strings.ReplaceAll(r, " ", "_")
	r = strings.ReplaceAll(r, "-", "_")
	if _, ok := relations[r]; ok {
		return r
	}
	return RelationRelates
}

// KnownRelation reports whether r is in the closed vocabulary verbatim.
func KnownRelation(r string) bool {
	_, ok := relations[r]
	return ok
}

// =============================================================================
// STABLE IDS
// =============================================================================

// StableNodeID derives the deterministic id for a named entity:
// con_ followed by the first 16 hex chars of md5(name). Re-extracting the
// same name from any text converges on the same id.
func StableNodeID(name string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(name)))
	return "con_" + hex.EncodeToString(sum[:])[:16]
}

// VisionNodeID returns the canonical id of a user's Vision singleton.
func VisionNodeID(userID string) string {
	return "vision_" + userID
}

// CanonicalNodeID resolves the id a node must carry given its type: the Self
// singleton is the user id itself, the Vision singleton is vision_{user},
// and every other node derives from its name.
func CanonicalNodeID(userID string, t NodeType, name string) string {
	switch t {
	case TypeSelf:
		return userID
	case TypeVision:
		return VisionNodeID(userID)
	default:
		return StableNodeID(name)
	}
}

// =============================================================================
// GRAPH RECORDS
// =============================================================================

// TimeMetadata carries the optional scheduling window of a node.
type TimeMetadata struct {
	StartDate  string `json:"start_date,omitempty"`
	TargetDate string `json:"target_date,omitempty"`
}

// Node is the unit of structured memory.
type Node struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Type           NodeType       `json:"type"`
	Name           string         `json:"name"`
	Content        string         `json:"content,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	Status         string         `json:"status"`
	TimeMetadata   *TimeMetadata  `json:"time_metadata,omitempty"`
	StrategicRole  string         `json:"strategic_role,omitempty"`
	EnergyImpact   int            `json:"energy_impact"`
	AlignmentScore float64        `json:"alignment_score"`
	SourceFile     string         `json:"source_file,omitempty"`
	CreatedAt      string         `json:"created_at,omitempty"`
}

// Edge is a directed, typed relation. The composite key is
// (source, target, relation, user_id).
type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Relation   string         `json:"relation"`
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  string         `json:"created_at,omitempty"`
}

// GraphData is the {nodes, links} projection consumed by views and the UI.
type GraphData struct {
	Nodes []Node `json:"nodes"`
	Links []Edge `json:"links"`
}

// GraphStats summarizes one user's partition.
type GraphStats struct {
	TotalNodes  int            `json:"total_nodes"`
	NodesByType map[string]int `json:"nodes_by_type"`
	TotalEdges  int            `json:"total_edges"`
}

// ViewType selects a graph projection.
type ViewType string

const (
	ViewGlobal    ViewType = "global"
	ViewStrategic ViewType = "strategic"
	ViewPeople    ViewType = "people"
	ViewSocial    ViewType = "social"
	ViewStaging   ViewType = "staging"
)

// Experience is a distilled (trigger, insight, strategy) tuple produced by
// self-reflection. It is stored in the graph and mirrored in the experience
// vector collection under the same id.
type Experience struct {
	ID              string `json:"id"`
	UserID          string `json:"user_id"`
	TriggerScenario string `json:"trigger_scenario"`
	Insight         string `json:"insight"`
	Strategy        string `json:"strategy"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// =============================================================================
// COLLABORATOR ROWS (H3 / persona)
// =============================================================================

// H3Energy is one day of four-dimensional energy readings. The analytics
// that produce it live outside the engine; brain.db owns the rows.
type H3Energy struct {
	UserID    string `json:"user_id"`
	Date      string `json:"date"`
	Mind      int    `json:"mind"`
	Body      int    `json:"body"`
	Spirit    int    `json:"spirit"`
	Vocation  int    `json:"vocation"`
	CreatedAt string `json:"created_at,omitempty"`
}

// H3Calibration is one manual or guided calibration snapshot.
type H3Calibration struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Energy          map[string]int `json:"energy"`
	MoodNote        string         `json:"mood_note,omitempty"`
	Blockers        []string       `json:"blockers,omitempty"`
	Wins            []string       `json:"wins,omitempty"`
	CalibrationType string         `json:"calibration_type,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
}

// =============================================================================
// ATTRIBUTE (DOSSIER) MERGING
// =============================================================================

// MergeAttributes folds incoming attribute values into existing ones and
// returns the merged map. The rule, applied recursively: when both sides are
// maps, merge key-wise; when both sides are lists, union them preserving
// first-seen order; otherwise the incoming value replaces the existing one.
// Neither input map is mutated.
func MergeAttributes(existing, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, in := range incoming {
		ex, ok := merged[k]
		if !ok {
			merged[k] = in
			continue
		}
		switch exv := ex.(type) {
		case map[string]any:
			if inv, ok := in.(map[string]any); ok {
				merged[k] = MergeAttributes(exv, inv)
				continue
			}
		case []any:
			if inv, ok := in.([]any); ok {
				merged[k] = unionLists(exv, inv)
				continue
			}
		}
		merged[k] = in
	}
	return merged
}

// unionLists concatenates b onto a, dropping duplicates. Elements compare by
// their printed form, which is stable for the JSON scalar types that appear
// in dossiers.
func unionLists(a, b []any) []any {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [2][]any{a, b} {
		for _, v := range list {
			key := fmt.Sprintf("%T:%v", v, v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// NowISO returns the current time in the ISO-8601 form persisted throughout
// brain.db. RFC 3339 strings sort lexicographically in timestamp order.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}
