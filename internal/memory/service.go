// Package memory is the cognitive center: per-interaction extraction and
// policy applied directly to the canonical graph. It is ingestion in
// miniature, without the staging detour, plus the identity bootstrap and
// the concept consolidation sweep.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"endgame/internal/embedding"
	"endgame/internal/logging"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

const (
	// minInformativeLength is the floor below which a message is never
	// worth a model call.
	minInformativeLength = 20

	// conceptMatchThreshold gates entity alignment: names at or above this
	// cosine similarity reuse the existing concept instead of minting one.
	conceptMatchThreshold = 0.85
)

// stopPhrases are whole-message acknowledgments that carry no memory value.
var stopPhrases = []string{
	"好的", "收到", "谢谢", "明白", "再见",
	"ok", "thanks", "yes", "no", "bye",
}

// logicMarkers signal reasoning worth keeping even without a core keyword.
var logicMarkers = []string{
	"because", "so", "if", "define",
	"因为", "所以", "但是", "如果", "定义", "实现", "属于",
}

// IsInformative is the attention filter: accept text only when it is long
// enough, is not a bare acknowledgment, and touches either a configured
// core keyword or a logical marker. The policy is aggressive; most small
// talk never reaches the extractor.
func IsInformative(text string, coreKeywords []string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minInformativeLength {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range stopPhrases {
		if lower == phrase {
			return false
		}
	}

	for _, keyword := range coreKeywords {
		k := strings.ToLower(strings.TrimSpace(keyword))
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	for _, marker := range logicMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Service owns the per-turn write path into the two stores.
type Service struct {
	graph     *store.GraphStore
	vectors   *vector.Store
	embedder  embedding.Engine
	extractor *perception.Extractor
	keywords  []string
}

// NewService wires the memory service over already-opened stores. The
// keyword list parameterizes the attention filter.
func NewService(graph *store.GraphStore, vectors *vector.Store, embedder embedding.Engine, extractor *perception.Extractor, coreKeywords []string) *Service {
	return &Service{
		graph:     graph,
		vectors:   vectors,
		embedder:  embedder,
		extractor: extractor,
		keywords:  coreKeywords,
	}
}

func (s *Service) informative(text string) bool {
	return IsInformative(text, s.keywords)
}

// InteractionResult summarizes what one chat turn contributed.
type InteractionResult struct {
	Stored      bool
	LogID       string
	Entities    int
	Relations   int
	NewConcepts int
}

// ProcessChatInteraction runs the per-turn pipeline: attention filter,
// document vector, structured extraction, status policy, graph writes, and
// the chat log. Failures past the filter degrade instead of aborting; the
// raw turn always survives as a document vector and a Log node.
func (s *Service) ProcessChatInteraction(ctx context.Context, userID, conversationID, userMsg, aiMsg string) (*InteractionResult, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "ProcessChatInteraction")
	defer timer.Stop()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	if !s.informative(userMsg) && !s.informative(aiMsg) {
		logging.Get(logging.CategoryMemory).Debug("Turn for %s failed the attention filter, nothing stored", userID)
		return &InteractionResult{}, nil
	}

	combined := fmt.Sprintf("User: %s\nAI: %s", userMsg, aiMsg)
	timestamp := types.NowISO()
	logID := fmt.Sprintf("chat_%s", uuid.New().String()[:6])

	docVec := embedding.EmbedOrZero(ctx, s.embedder, combined)
	meta := map[string]any{
		"type":            "chat",
		"user_id":         userID,
		"conversation_id": conversationID,
		"timestamp":       timestamp,
	}
	if err := s.vectors.AddDocuments([]string{combined}, []map[string]any{meta}, []string{logID}, [][]float32{docVec}); err != nil {
		logging.Get(logging.CategoryMemory).Error("Chat vector write failed: %v", err)
	}

	strategicContext, err := s.graph.GetStrategicContext(userID)
	if err != nil {
		strategicContext = ""
	}
	extraction, err := s.extractor.ExtractStructuredMemory(ctx, combined, userID, strategicContext)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("Extraction failed, keeping the raw log only: %v", err)
		extraction = types.ExtractionResult{}
	}

	entities := applyStatusPolicy(extraction.Entities, timestamp)
	entityCount := s.graph.BatchUpsertEntities(userID, entities)
	mentionIDs, minted := s.alignConcepts(ctx, userID, entities)
	relationCount := s.graph.UpsertRelations(userID, extraction.Relations)

	s.graph.AddLog(userID, logID, combined, timestamp, "chat_history")
	if len(mentionIDs) > 0 {
		s.graph.AddMentionsBatch(userID, logID, mentionIDs)
	}

	logging.Memory("Chat turn for %s: %d entities, %d relations, %d new concepts, log %s",
		userID, entityCount, relationCount, minted, logID)
	return &InteractionResult{
		Stored:      true,
		LogID:       logID,
		Entities:    entityCount,
		Relations:   relationCount,
		NewConcepts: minted,
	}, nil
}

// applyStatusPolicy fills the status the extractor left blank: actionable
// types start pending, everything else lands confirmed. An explicit status
// from the model survives. Every entity gets a last_mentioned stamp so
// repeated mentions refresh the dossier.
func applyStatusPolicy(entities []types.Entity, timestamp string) []types.Entity {
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		if e.Status == "" {
			switch types.NormalizeNodeType(e.Type) {
			case types.TypeTask, types.TypePerson:
				e.Status = types.StatusPending
			default:
				e.Status = types.StatusConfirmed
			}
		}
		if e.Dossier == nil {
			e.Dossier = map[string]any{}
		}
		e.Dossier["last_mentioned"] = timestamp
		out = append(out, e)
	}
	return out
}

// alignConcepts maintains the concept index for confirmed entities: a name
// close enough to an existing concept reuses its id, anything genuinely new
// mints a vector under the entity's canonical id. Pending entities wait for
// confirmation before entering the index. Returns the concept ids the chat
// log should mention and how many vectors were minted.
func (s *Service) alignConcepts(ctx context.Context, userID string, entities []types.Entity) (mentionIDs []string, minted int) {
	var confirmed []types.Entity
	for _, e := range entities {
		if e.Status == types.StatusConfirmed {
			confirmed = append(confirmed, e)
		}
	}
	if len(confirmed) == 0 {
		return nil, 0
	}

	names := make([]string, len(confirmed))
	for i, e := range confirmed {
		names[i] = e.Name
	}
	vecs := embedding.EmbedBatchOrZero(ctx, s.embedder, names)

	for i, e := range confirmed {
		if isZeroVector(vecs[i]) {
			logging.Get(logging.CategoryMemory).Debug("Embedding degraded for %q, alignment skipped", e.Name)
			continue
		}
		match, err := s.vectors.FindSimilarConcept(vecs[i], conceptMatchThreshold)
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Concept lookup failed for %q: %v", e.Name, err)
			continue
		}
		if match != nil {
			mentionIDs = append(mentionIDs, match.ID)
			continue
		}
		id := types.CanonicalNodeID(userID, types.NormalizeNodeType(e.Type), e.Name)
		if s.vectors.AddConcept(id, e.Name, vecs[i]) {
			minted++
		}
		mentionIDs = append(mentionIDs, id)
	}
	return mentionIDs, minted
}

// SyncUserToSelfNode seeds or refreshes the user's identity anchors: the
// Self singleton, the Vision it owns, and a Goal per milestone. This is
// the only path that creates Self or Vision; extracted references fold
// into them through id canonicalization.
func (s *Service) SyncUserToSelfNode(userID, visionTitle, visionDescription string, milestones []string) error {
	timer := logging.StartTimer(logging.CategoryMemory, "SyncUserToSelfNode")
	defer timer.Stop()

	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", types.ErrValidation)
	}

	if !s.graph.UpsertNode(userID, types.Node{
		Type:    types.TypeSelf,
		Name:    "Self",
		Content: "The Owner",
		Status:  types.StatusConfirmed,
	}) {
		return fmt.Errorf("self node write failed for user %s", userID)
	}

	title := strings.TrimSpace(visionTitle)
	if title == "" {
		logging.Memory("Self node synced for %s without a vision", userID)
		return nil
	}

	visionID := types.VisionNodeID(userID)
	if !s.graph.UpsertNode(userID, types.Node{
		Type:    types.TypeVision,
		Name:    title,
		Content: visionDescription,
		Status:  types.StatusConfirmed,
	}) {
		return fmt.Errorf("vision node write failed for user %s", userID)
	}
	s.graph.UpsertEdge(userID, userID, visionID, types.RelationOwns, nil)

	for _, milestone := range milestones {
		name := strings.TrimSpace(milestone)
		if name == "" {
			continue
		}
		if !s.graph.UpsertNode(userID, types.Node{
			Type:   types.TypeGoal,
			Name:   name,
			Status: types.StatusConfirmed,
		}) {
			continue
		}
		goalID := types.CanonicalNodeID(userID, types.TypeGoal, name)
		s.graph.UpsertEdge(userID, visionID, goalID, types.RelationHasGoal, nil)
	}

	logging.Memory("Identity anchors synced for %s: vision %q, %d milestones", userID, title, len(milestones))
	return nil
}

// ConsolidationReport summarizes one consolidation sweep.
type ConsolidationReport struct {
	GroupsAnalyzed int
	Merged         int
}

// ConsolidateConcepts sweeps the user's Concept nodes for semantic
// duplicates: embed the names, cluster pairs above the threshold, put each
// cluster to the arbiter, and fold approved groups into a master node.
// Only Concept nodes are touched; merging Tasks or higher tiers is not
// worth the risk. A threshold outside (0,1] falls back to the default.
func (s *Service) ConsolidateConcepts(ctx context.Context, userID string, threshold float64) (*ConsolidationReport, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "ConsolidateConcepts")
	defer timer.Stop()

	if threshold <= 0 || threshold > 1 {
		threshold = conceptMatchThreshold
	}

	nodes, err := s.graph.GetNodesByType(userID, string(types.TypeConcept))
	if err != nil {
		return nil, fmt.Errorf("concept scan failed: %w", err)
	}
	if len(nodes) < 2 {
		return &ConsolidationReport{}, nil
	}

	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	vecs := embedding.EmbedBatchOrZero(ctx, s.embedder, names)

	report := &ConsolidationReport{}
	for _, group := range clusterBySimilarity(vecs, threshold) {
		report.GroupsAnalyzed++

		groupNames := make([]string, len(group))
		for i, idx := range group {
			groupNames[i] = nodes[idx].Name
		}
		decision, err := s.extractor.ArbitrateMerge(ctx, groupNames)
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("Merge arbitration failed for %v: %v", groupNames, err)
			continue
		}
		if !decision.ShouldMerge {
			logging.Get(logging.CategoryMemory).Debug("Merge rejected for %v: %s", groupNames, decision.Reason)
			continue
		}

		// The arbiter picks the surviving name when it matches a member;
		// otherwise the first clustered node wins. Ids are derived from
		// names, so the master is never renamed.
		master := group[0]
		for _, idx := range group {
			if strings.EqualFold(strings.TrimSpace(nodes[idx].Name), strings.TrimSpace(decision.MasterName)) {
				master = idx
				break
			}
		}

		var dropped []string
		for _, idx := range group {
			if idx == master {
				continue
			}
			if s.graph.MergeNodes(userID, nodes[master].ID, nodes[idx].ID) {
				dropped = append(dropped, nodes[idx].ID)
				report.Merged++
			}
		}
		if len(dropped) > 0 {
			s.vectors.DeleteConcepts(dropped)
		}
	}

	logging.Memory("Consolidation for %s: %d groups analyzed, %d nodes merged", userID, report.GroupsAnalyzed, report.Merged)
	return report, nil
}

// clusterBySimilarity groups vector indexes whose pairwise cosine
// similarity reaches the threshold, single linkage. Zero vectors never
// cluster; cosine against them is 0. Only groups with more than one
// member are returned, ordered by their first index.
func clusterBySimilarity(vecs [][]float32, threshold float64) [][]int {
	parent := make([]int, len(vecs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			sim, err := embedding.CosineSimilarity(vecs[i], vecs[j])
			if err != nil || sim < threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[rj] = ri
			}
		}
	}

	groups := make(map[int][]int)
	for i := range vecs {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	var out [][]int
	for _, g := range groups {
		if len(g) > 1 {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
