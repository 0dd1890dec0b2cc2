package types

// Extraction wire types. These mirror the JSON contracts between the
// perception layer and the LLM backends. Unknown fields are tolerated on
// unmarshal; missing fields default during validation.

// Entity is one extracted entity from a chat turn or document chunk.
// Ids are never carried on the wire; the engine re-derives them from the
// name via StableNodeID.
type Entity struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	Content        string         `json:"content,omitempty"`
	Status         string         `json:"status,omitempty"`
	EnergyImpact   *int           `json:"energy_impact,omitempty"`
	AlignmentScore *float64       `json:"alignment_score,omitempty"`
	Dossier        map[string]any `json:"dossier,omitempty"`
}

// Relation is one extracted source-relation-target triple. Endpoints are
// entity names, not ids.
type Relation struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// ExtractionResult is the chat-turn extraction payload.
type ExtractionResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Empty reports whether the extraction carries nothing usable.
func (r ExtractionResult) Empty() bool {
	return len(r.Entities) == 0 && len(r.Relations) == 0
}

// RawNode is one node summary from the bulk (large-model) extractor. Ids are
// caller-scoped and valid only within a single ingestion run; consolidation
// replaces them with stable ids.
type RawNode struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// RawEdge is one edge from the bulk extractor, endpoints by raw node name.
type RawEdge struct {
	Source   string `json:"source"`
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// BulkExtraction is the per-chunk payload of the bulk extractor.
type BulkExtraction struct {
	Nodes []RawNode `json:"nodes"`
	Edges []RawEdge `json:"edges"`
}

// Consolidation is the reduce-phase payload: a rename mapping from original
// extracted names to standardized names, plus the standardized node list.
type Consolidation struct {
	Mapping       map[string]string `json:"mapping"`
	StandardNodes []RawNode         `json:"standard_nodes"`
}

// MergeDecision is the arbiter's verdict on whether a set of names denotes
// one underlying entity.
type MergeDecision struct {
	ShouldMerge bool   `json:"should_merge"`
	MasterName  string `json:"master_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AlignmentNote scores how close a message sits to the user's vision.
// The neutral default is {0.5, "unknown"}.
type AlignmentNote struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// NeutralAlignment is the fallback note used when the alignment call fails.
func NeutralAlignment() AlignmentNote {
	return AlignmentNote{Score: 0.5, Reason: "unknown"}
}
