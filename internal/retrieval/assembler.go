// Package retrieval composes the plain-text context blob the agent layer
// consumes each turn: system time, dated vector recall, structured graph
// recall, past strategies, and a vision alignment note. Sections degrade
// independently, so a missing store or model shrinks the blob instead of
// failing the turn.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"endgame/internal/embedding"
	"endgame/internal/logging"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

const (
	// defaultRecallHits is the vector recall top-k.
	defaultRecallHits = 10

	// Structured recall caps per node type.
	maxProjects = 15
	maxTasks    = 20
	maxGoals    = 5

	// maxConcepts caps the loose concept recall used without a graph keyword.
	maxConcepts = 5

	// snippetRunes keeps each recall line to one readable line, the same
	// width log nodes are truncated to.
	snippetRunes = 200
)

// GuidanceProvider hands back strategy lines for a query. The evolution
// service implements it; retrieval needs nothing else from it.
type GuidanceProvider interface {
	GetGuidance(ctx context.Context, query string) string
}

// Assembler builds the per-turn context blob from both stores, the
// experience index, and the perception layer.
type Assembler struct {
	graph     *store.GraphStore
	vectors   *vector.Store
	embedder  embedding.Engine
	extractor *perception.Extractor
	guidance  GuidanceProvider

	keywords   []string
	recallHits int
}

// NewAssembler wires the context assembler. keywords are the graph search
// terms that switch recall from loose concepts to the strategic block; a
// nil guidance provider simply drops the strategy section.
func NewAssembler(graph *store.GraphStore, vectors *vector.Store, embedder embedding.Engine, extractor *perception.Extractor, guidance GuidanceProvider, keywords []string) *Assembler {
	return &Assembler{
		graph:      graph,
		vectors:    vectors,
		embedder:   embedder,
		extractor:  extractor,
		guidance:   guidance,
		keywords:   keywords,
		recallHits: defaultRecallHits,
	}
}

// BuildContext assembles the context for one turn: system time, relevant
// memories, structured or concept recall, past strategies, and the
// alignment note, in that order. The blob is plain text; the caller passes
// it to the agent without interpreting it.
func (a *Assembler) BuildContext(ctx context.Context, userID, message, conversationID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	timer := logging.StartTimer(logging.CategoryRetrieval, "BuildContext")
	defer timer.Stop()

	vec := a.embedMessage(ctx, message)

	sections := []string{"Current system time: " + types.NowISO()}
	if recall := a.vectorRecall(userID, vec); recall != "" {
		sections = append(sections, recall)
	}
	if structured := a.structuredRecall(userID, message, vec); structured != "" {
		sections = append(sections, structured)
	}
	if a.guidance != nil {
		if strategies := a.guidance.GetGuidance(ctx, message); strategies != "" {
			sections = append(sections, "[Past strategies]\n"+strategies)
		}
	}
	note := a.extractor.AlignmentScore(ctx, message, a.visionText(userID))
	sections = append(sections, fmt.Sprintf("[Vision alignment]\nScore: %.2f\nReason: %s", note.Score, note.Reason))

	if conversationID == "" {
		conversationID = "-"
	}
	logging.Get(logging.CategoryRetrieval).Info("Assembled %d context sections for %s (conversation %s)",
		len(sections), userID, conversationID)
	return strings.Join(sections, "\n\n"), nil
}

// embedMessage returns the message vector or nil; recall sections that
// need it vanish quietly when embedding is down.
func (a *Assembler) embedMessage(ctx context.Context, message string) []float32 {
	if strings.TrimSpace(message) == "" {
		return nil
	}
	vec, err := a.embedder.Embed(ctx, message)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Message embedding failed: %v", err)
		return nil
	}
	return vec
}

// vectorRecall renders the nearest document chunks as dated one-line
// snippets, newest first.
func (a *Assembler) vectorRecall(userID string, vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	hits, err := a.vectors.SearchDocuments(vec, userID, a.recallHits)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Document recall failed: %v", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hitTimestamp(hits[i]) > hitTimestamp(hits[j])
	})

	var b strings.Builder
	b.WriteString("[Relevant memories]")
	for _, h := range hits {
		b.WriteString("\n- ")
		if ts := hitTimestamp(h); len(ts) >= 10 {
			fmt.Fprintf(&b, "(%s) ", ts[:10])
		}
		b.WriteString(snippet(h.Content))
	}
	return b.String()
}

// structuredRecall returns the strategic block when the message names a
// graph keyword, otherwise the nearest canonical concepts.
func (a *Assembler) structuredRecall(userID, message string, vec []float32) string {
	if a.hasGraphKeyword(message) {
		return a.strategicBlock(userID)
	}
	return a.conceptBlock(userID, vec)
}

func (a *Assembler) hasGraphKeyword(message string) bool {
	needle := strings.ToLower(message)
	for _, raw := range a.keywords {
		if kw := strings.ToLower(strings.TrimSpace(raw)); kw != "" && strings.Contains(needle, kw) {
			return true
		}
	}
	return false
}

// strategicBlock lists the user's projects, tasks, and goals with their
// dossier fields, capped per type.
func (a *Assembler) strategicBlock(userID string) string {
	var b strings.Builder
	b.WriteString("[Strategic graph]")
	wrote := false

	for _, part := range []struct {
		nodeType string
		limit    int
	}{
		{"Project", maxProjects},
		{"Task", maxTasks},
		{"Goal", maxGoals},
	} {
		nodes, err := a.graph.GetNodesByType(userID, part.nodeType)
		if err != nil {
			logging.Get(logging.CategoryRetrieval).Warn("%s recall failed: %v", part.nodeType, err)
			continue
		}
		if len(nodes) > part.limit {
			nodes = nodes[:part.limit]
		}
		for _, n := range nodes {
			b.WriteByte('\n')
			b.WriteString(nodeLine(n))
			wrote = true
		}
	}
	if !wrote {
		return ""
	}
	return b.String()
}

// conceptBlock lists the nearest canonical concepts. Concept vectors are
// global, so each id is resolved against this user's graph and misses are
// skipped.
func (a *Assembler) conceptBlock(userID string, vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	matches, err := a.vectors.SearchConcepts(vec, maxConcepts)
	if err != nil {
		logging.Get(logging.CategoryRetrieval).Warn("Concept recall failed: %v", err)
		return ""
	}

	var b strings.Builder
	b.WriteString("[Related concepts]")
	wrote := false
	for _, m := range matches {
		node, err := a.graph.GetNode(userID, m.ID)
		if err != nil {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(nodeLine(*node))
		wrote = true
	}
	if !wrote {
		return ""
	}
	return b.String()
}

// visionText returns the alignment anchor: the user's vision as name or
// "name: content". Empty when no vision exists yet.
func (a *Assembler) visionText(userID string) string {
	visions, err := a.graph.GetNodesByType(userID, "Vision")
	if err != nil || len(visions) == 0 {
		return ""
	}
	v := visions[0]
	if v.Content != "" && v.Content != v.Name {
		return v.Name + ": " + v.Content
	}
	return v.Name
}

// nodeLine renders one node as "Type: name (status): content [k=v, k=v]".
func nodeLine(n types.Node) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", n.Type, n.Name)
	if n.Status != "" {
		fmt.Fprintf(&b, " (%s)", n.Status)
	}
	if n.Content != "" && n.Content != n.Name {
		b.WriteString(": ")
		b.WriteString(snippet(n.Content))
	}
	if fields := dossierFields(n.Attributes); fields != "" {
		b.WriteString(" [")
		b.WriteString(fields)
		b.WriteByte(']')
	}
	return b.String()
}

// dossierFields flattens attributes into sorted k=v pairs, skipping the
// bookkeeping keys log nodes carry.
func dossierFields(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "timestamp" || k == "log_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}

func hitTimestamp(h vector.DocumentHit) string {
	ts, _ := h.Metadata["timestamp"].(string)
	return ts
}

// snippet folds text onto one line and truncates it to the log snippet
// width.
func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "..."
}
