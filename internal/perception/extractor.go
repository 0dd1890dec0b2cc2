package perception

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"endgame/internal/embedding"
	"endgame/internal/logging"
	"endgame/internal/types"
)

// Extractor runs the typed extraction operations over an LLMClient. It is
// stateless; one instance serves every pipeline concurrently.
type Extractor struct {
	client LLMClient

	// extractionTimeout bounds the heavy calls (chat and bulk extraction,
	// consolidation); the short timeout bounds arbitration, summary and
	// alignment. Both are ceilings under the caller's context.
	extractionTimeout time.Duration
	shortTimeout      time.Duration
}

// NewExtractor wraps client with the engine's default timeouts.
func NewExtractor(client LLMClient) *Extractor {
	return &Extractor{
		client:            client,
		extractionTimeout: 30 * time.Second,
		shortTimeout:      15 * time.Second,
	}
}

// WithTimeouts overrides the per-call ceilings. Zero keeps the default.
func (e *Extractor) WithTimeouts(extraction, short time.Duration) *Extractor {
	if extraction > 0 {
		e.extractionTimeout = extraction
	}
	if short > 0 {
		e.shortTimeout = short
	}
	return e
}

// ExtractStructuredMemory pulls entities and relations out of one chat
// interaction. First-person references resolve to an entity named userID
// with type Self; any entity the model names after the user is coerced to
// Self regardless of the type it claimed.
func (e *Extractor) ExtractStructuredMemory(ctx context.Context, text, userID, strategicContext string) (types.ExtractionResult, error) {
	timer := logging.StartTimer(logging.CategoryPerception, "extract_structured_memory")
	defer timer.Stop()

	var result types.ExtractionResult
	if strings.TrimSpace(text) == "" {
		return result, nil
	}

	contextBlock := ""
	if strategicContext != "" {
		contextBlock = "\n\n## Strategic context\n" + strategicContext
	}
	prompt := fmt.Sprintf(structuredMemoryPrompt, userID, userID, contextBlock, text)

	ctx, cancel := context.WithTimeout(ctx, e.extractionTimeout)
	defer cancel()

	reply, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return result, fmt.Errorf("extraction failed: %w", err)
	}
	if err := unmarshalLoose(reply, &result); err != nil {
		return types.ExtractionResult{}, err
	}

	// The model occasionally labels the owner as Person or Concept.
	for i := range result.Entities {
		if result.Entities[i].Name == userID {
			result.Entities[i].Type = string(types.TypeSelf)
		}
	}

	logging.Perception("extracted %d entities, %d relations from %d chars",
		len(result.Entities), len(result.Relations), len(text))
	return result, nil
}

// ExtractLargeModel is the map-phase bulk extractor for file ingestion:
// one chunk in, raw nodes and edges out. Node ids are assigned here and are
// only meaningful within the ingestion run that consolidates them.
func (e *Extractor) ExtractLargeModel(ctx context.Context, text, visionContext string) (types.BulkExtraction, error) {
	timer := logging.StartTimer(logging.CategoryPerception, "extract_large_model")
	defer timer.Stop()

	var result types.BulkExtraction
	if strings.TrimSpace(text) == "" {
		return result, nil
	}
	if visionContext == "" {
		visionContext = "(no vision set yet)"
	}

	system := fmt.Sprintf(bulkExtractionPrompt, visionContext)
	user := "Extract the strategic entities from this chunk:\n\n" + text

	ctx, cancel := context.WithTimeout(ctx, e.extractionTimeout)
	defer cancel()

	reply, err := e.client.CompleteWithSystem(ctx, system, user)
	if err != nil {
		return result, fmt.Errorf("bulk extraction failed: %w", err)
	}
	if err := unmarshalLoose(reply, &result); err != nil {
		return types.BulkExtraction{}, err
	}

	for i := range result.Nodes {
		if result.Nodes[i].ID == "" {
			result.Nodes[i].ID = fmt.Sprintf("raw_%d", i)
		}
	}
	return result, nil
}

// ConsolidateNodes runs the reduce-phase alignment over pooled node
// summaries: a rename mapping plus the deduplicated standard node list.
func (e *Extractor) ConsolidateNodes(ctx context.Context, summaries []types.RawNode) (types.Consolidation, error) {
	timer := logging.StartTimer(logging.CategoryPerception, "consolidate_nodes")
	defer timer.Stop()

	var result types.Consolidation
	if len(summaries) == 0 {
		return types.Consolidation{Mapping: map[string]string{}}, nil
	}

	payload, err := json.Marshal(summaries)
	if err != nil {
		return result, fmt.Errorf("failed to encode node summaries: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.extractionTimeout)
	defer cancel()

	reply, err := e.client.CompleteWithSystem(ctx, consolidationPrompt,
		"Entities to consolidate: "+string(payload))
	if err != nil {
		return result, fmt.Errorf("consolidation failed: %w", err)
	}
	if err := unmarshalLoose(reply, &result); err != nil {
		return types.Consolidation{}, err
	}
	if result.Mapping == nil {
		result.Mapping = map[string]string{}
	}

	logging.Perception("consolidated %d summaries into %d standard nodes",
		len(summaries), len(result.StandardNodes))
	return result, nil
}

// ArbitrateMerge asks whether a cluster of similar names denotes one
// entity. A merge verdict without a master name is downgraded to no-merge;
// acting on it would have no node to keep.
func (e *Extractor) ArbitrateMerge(ctx context.Context, names []string) (types.MergeDecision, error) {
	var decision types.MergeDecision
	if len(names) < 2 {
		return decision, nil
	}

	list := "- " + strings.Join(names, "\n- ")
	prompt := fmt.Sprintf(arbitrationPrompt, list)

	ctx, cancel := context.WithTimeout(ctx, e.shortTimeout)
	defer cancel()

	reply, err := e.client.Complete(ctx, prompt)
	if err != nil {
		return decision, fmt.Errorf("arbitration failed: %w", err)
	}
	if err := unmarshalLoose(reply, &decision); err != nil {
		return types.MergeDecision{}, err
	}
	if decision.ShouldMerge && decision.MasterName == "" {
		decision.ShouldMerge = false
		decision.Reason = "arbiter approved a merge without naming a master"
	}
	return decision, nil
}

// SummarizeText condenses text with an optional custom instruction.
func (e *Extractor) SummarizeText(ctx context.Context, text, prompt string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, e.shortTimeout)
	defer cancel()

	reply, err := e.client.CompleteWithSystem(ctx, prompt, text)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// AlignmentScore judges how close a message sits to the vision. Failures
// and unparseable replies return the neutral note rather than an error;
// alignment is advisory and must never block a pipeline.
func (e *Extractor) AlignmentScore(ctx context.Context, message, visionText string) types.AlignmentNote {
	if strings.TrimSpace(visionText) == "" {
		return types.NeutralAlignment()
	}

	ctx, cancel := context.WithTimeout(ctx, e.shortTimeout)
	defer cancel()

	reply, err := e.client.Complete(ctx, fmt.Sprintf(alignmentPrompt, visionText, message))
	if err != nil {
		logging.Get(logging.CategoryPerception).Warn("alignment check failed: %v", err)
		return types.NeutralAlignment()
	}
	return parseAlignment(reply)
}

// parseAlignment reads the Score:/Reason: line format. Missing or malformed
// lines fall back to the neutral values.
func parseAlignment(reply string) types.AlignmentNote {
	note := types.NeutralAlignment()
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "Score:"); ok {
			if score, err := strconv.ParseFloat(strings.TrimSpace(after), 64); err == nil && score >= 0 && score <= 1 {
				note.Score = score
			}
		} else if after, ok := strings.CutPrefix(line, "Reason:"); ok {
			if reason := strings.TrimSpace(after); reason != "" {
				note.Reason = reason
			}
		}
	}
	return note
}

// ComputeSimilarity is the in-process cosine between two vectors, exposed
// here so pipeline code needs no direct embedding import for comparisons.
func (e *Extractor) ComputeSimilarity(a, b []float32) (float64, error) {
	return embedding.CosineSimilarity(a, b)
}
