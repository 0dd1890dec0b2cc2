// Package ingestion turns uploaded artifacts into staged graph deltas and
// document vectors through a six-phase pipeline: parse, chunk, map, reduce,
// embed, load. Extraction lands in the staging mirror for human review; the
// canonical graph is never written here.
package ingestion

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"endgame/internal/embedding"
	"endgame/internal/logging"
	"endgame/internal/memory"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

// ProgressFunc receives pipeline milestones as (percent, message).
type ProgressFunc func(percent int, message string)

// Options bound the pipeline geometry. Zero values fall back to defaults.
type Options struct {
	ChunkSize            int
	ChunkOverlap         int
	ConcurrentExtractors int
	CoreKeywords         []string
}

// Report summarizes one ingestion run.
type Report struct {
	FileID          string `json:"file_id"`
	Chunks          int    `json:"chunks"`
	Extracted       int    `json:"extracted"`
	Skipped         int    `json:"skipped"`
	StagedNodes     int    `json:"staged_nodes"`
	StagedEdges     int    `json:"staged_edges"`
	DocumentVectors int    `json:"document_vectors"`
}

// Orchestrator runs the ingestion pipeline against the shared stores.
type Orchestrator struct {
	graph     *store.GraphStore
	vectors   *vector.Store
	embedder  embedding.Engine
	extractor *perception.Extractor
	jobs      *Jobs
	chunker   *Chunker
	batchSize int
	keywords  []string

	// batchPause throttles extraction batches to stay under provider
	// rate limits.
	batchPause time.Duration
}

// NewOrchestrator wires the pipeline to its stores.
func NewOrchestrator(graph *store.GraphStore, vectors *vector.Store, embedder embedding.Engine, extractor *perception.Extractor, jobs *Jobs, opts Options) *Orchestrator {
	batch := opts.ConcurrentExtractors
	if batch < 1 {
		batch = 10
	}
	return &Orchestrator{
		graph:      graph,
		vectors:    vectors,
		embedder:   embedder,
		extractor:  extractor,
		jobs:       jobs,
		chunker:    NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		batchSize:  batch,
		keywords:   opts.CoreKeywords,
		batchPause: time.Second,
	}
}

// IngestFile runs the full pipeline for one stored artifact, reporting
// milestones through progress (which may be nil). Cancellation via ctx is
// honored between extraction batches.
func (o *Orchestrator) IngestFile(ctx context.Context, userID, path string, progress ProgressFunc) (*Report, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", types.ErrValidation)
	}
	timer := logging.StartTimer(logging.CategoryIngestion, "IngestFile")
	defer timer.Stop()

	notify := func(percent int, message string) {
		if progress != nil {
			progress(percent, message)
		}
	}

	base := filepath.Base(path)
	notify(5, "parsing "+base)
	text, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s contains no extractable text", types.ErrValidation, base)
	}

	chunks := o.chunker.Split(text)
	fileID := "file_" + uuid.New().String()[:8]
	notify(10, fmt.Sprintf("split into %d chunks", len(chunks)))
	logging.Ingestion("Ingesting %s for user %s: %d chunks (%s)", base, userID, len(chunks), fileID)

	rep := &Report{FileID: fileID, Chunks: len(chunks)}

	results, extracted, skipped, err := o.mapChunks(ctx, userID, fileID, chunks, notify)
	if err != nil {
		return nil, err
	}
	rep.Extracted = extracted
	rep.Skipped = skipped

	// The end of the last batch is still a batch boundary.
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: ingestion aborted after extraction", types.ErrCancelled)
	}

	notify(70, "consolidating extraction")
	nodes, edges := o.reduce(ctx, userID, results)

	notify(80, "embedding documents")
	docs, metas, ids := o.documentBatch(userID, fileID, base, chunks, nodes)
	vecs := embedding.EmbedBatchOrZero(ctx, o.embedder, docs)
	if err := o.vectors.AddDocuments(docs, metas, ids, vecs); err != nil {
		logging.Get(logging.CategoryIngestion).Error("Document load failed for %s: %v", fileID, err)
	} else {
		rep.DocumentVectors = len(docs)
	}

	notify(90, "staging graph delta")
	rep.StagedNodes, rep.StagedEdges = o.graph.AddToStaging(userID, nodes, edges, base)

	notify(100, "done")
	logging.Ingestion("Ingest complete for %s: %d/%d chunks extracted, %d nodes and %d edges staged",
		fileID, extracted, len(chunks), rep.StagedNodes, rep.StagedEdges)
	return rep, nil
}

// IngestAsync registers a job and runs the pipeline in the background,
// returning the job id immediately. Progress and the terminal state land in
// the registry.
func (o *Orchestrator) IngestAsync(userID, path string) string {
	id, ctx := o.jobs.Begin(context.Background(), userID, filepath.Base(path))
	go func() {
		_, err := o.IngestFile(ctx, userID, path, func(percent int, message string) {
			o.jobs.Progress(id, percent, message)
		})
		o.jobs.Finish(id, err)
	}()
	return id
}

// Jobs exposes the run registry for status queries and cancellation.
func (o *Orchestrator) Jobs() *Jobs { return o.jobs }

// mapChunks fans chunk extraction out in batches of batchSize, pausing
// between batches. Chunks failing the attention filter are skipped without
// an extractor call; chunks whose extraction fails are logged and skipped.
// Every processed chunk also lands as a Log node so nightly reflection sees
// the ingested material.
func (o *Orchestrator) mapChunks(ctx context.Context, userID, fileID string, chunks []string, notify func(int, string)) ([]types.BulkExtraction, int, int, error) {
	results := make([]types.BulkExtraction, len(chunks))
	extracted, skipped := 0, 0
	timestamp := types.NowISO()
	vision := o.visionContext(userID)

	var mu sync.Mutex
	for batchStart := 0; batchStart < len(chunks); batchStart += o.batchSize {
		if ctx.Err() != nil {
			return nil, 0, 0, fmt.Errorf("%w: ingestion aborted at chunk %d", types.ErrCancelled, batchStart)
		}
		if batchStart > 0 && o.batchPause > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, 0, fmt.Errorf("%w: ingestion aborted at chunk %d", types.ErrCancelled, batchStart)
			case <-time.After(o.batchPause):
			}
		}

		end := min(batchStart+o.batchSize, len(chunks))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.batchSize)
		for i := batchStart; i < end; i++ {
			idx, chunk := i, chunks[i]
			if !memory.IsInformative(chunk, o.keywords) {
				mu.Lock()
				skipped++
				mu.Unlock()
				continue
			}
			o.graph.AddLog(userID, fmt.Sprintf("%s_c_%d", fileID, idx), chunk, timestamp, "file_chunk")

			g.Go(func() error {
				out, err := o.extractor.ExtractLargeModel(gctx, chunk, vision)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					logging.Get(logging.CategoryIngestion).Warn("Chunk %d of %s failed extraction: %v", idx, fileID, err)
					skipped++
					return nil
				}
				results[idx] = out
				extracted++
				return nil
			})
		}
		_ = g.Wait()
		notify(10+60*end/len(chunks), fmt.Sprintf("extracted %d/%d chunks", end, len(chunks)))
	}
	return results, extracted, skipped, nil
}

// reduce pools the chunk extractions into one deduplicated, consolidated
// graph delta with stable ids. Consolidation failure degrades to a naive
// name dedup so a flaky reduce call never loses a finished map phase.
func (o *Orchestrator) reduce(ctx context.Context, userID string, results []types.BulkExtraction) ([]types.Node, []types.Edge) {
	var rawNodes []types.RawNode
	var rawEdges []types.RawEdge
	for _, r := range results {
		rawNodes = append(rawNodes, r.Nodes...)
		rawEdges = append(rawEdges, r.Edges...)
	}
	if len(rawNodes) == 0 {
		return nil, nil
	}

	// Dedup summaries by (name, type), first occurrence wins.
	seen := make(map[string]bool, len(rawNodes))
	summaries := make([]types.RawNode, 0, len(rawNodes))
	for _, n := range rawNodes {
		n.Name = strings.TrimSpace(n.Name)
		if n.Name == "" {
			continue
		}
		key := strings.ToLower(n.Name) + "|" + strings.ToLower(n.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		summaries = append(summaries, n)
	}

	cons, err := o.extractor.ConsolidateNodes(ctx, summaries)
	if err != nil || len(cons.StandardNodes) == 0 {
		if err != nil {
			logging.Get(logging.CategoryIngestion).Warn("Consolidation failed, using naive dedup: %v", err)
		}
		cons = naiveConsolidation(summaries)
	}

	nameToID := make(map[string]string, len(cons.StandardNodes))
	nodes := make([]types.Node, 0, len(cons.StandardNodes))
	for _, sn := range cons.StandardNodes {
		name := strings.TrimSpace(sn.Name)
		if name == "" {
			continue
		}
		if _, dup := nameToID[name]; dup {
			continue
		}
		nodeType := types.NormalizeNodeType(sn.Type)
		id := types.CanonicalNodeID(userID, nodeType, name)
		nameToID[name] = id
		nodes = append(nodes, types.Node{
			ID:      id,
			Type:    nodeType,
			Name:    name,
			Content: sn.Content,
		})
	}

	sigs := make(map[string]bool, len(rawEdges))
	edges := make([]types.Edge, 0, len(rawEdges))
	for _, e := range rawEdges {
		src := resolveEndpoint(userID, cons.Mapping, nameToID, e.Source)
		tgt := resolveEndpoint(userID, cons.Mapping, nameToID, e.Target)
		rel := strings.TrimSpace(e.Relation)
		if src == "" || tgt == "" || rel == "" || src == tgt {
			continue
		}
		sig := src + "|" + rel + "|" + tgt
		if sigs[sig] {
			continue
		}
		sigs[sig] = true
		edges = append(edges, types.Edge{Source: src, Target: tgt, Relation: rel})
	}
	return nodes, edges
}

// naiveConsolidation keeps the raw summaries under an identity mapping,
// deduplicated by name with the last occurrence winning.
func naiveConsolidation(summaries []types.RawNode) types.Consolidation {
	index := make(map[string]int, len(summaries))
	nodes := make([]types.RawNode, 0, len(summaries))
	for _, n := range summaries {
		if i, ok := index[n.Name]; ok {
			nodes[i] = n
			continue
		}
		index[n.Name] = len(nodes)
		nodes = append(nodes, n)
	}
	return types.Consolidation{StandardNodes: nodes}
}

// selfAliases fold extracted references to the owner onto the Self node.
var selfAliases = map[string]bool{
	"self": true, "me": true, "user": true,
	"我": true, "本人": true, "本人身份": true, "主人": true, "我的": true,
}

// resolveEndpoint maps a raw edge endpoint to a staged node id. Names are
// first passed through the consolidation mapping; Self aliases and the user
// id resolve to the Self node; names without a standard node resolve to ""
// and the caller drops the edge.
func resolveEndpoint(userID string, mapping map[string]string, nameToID map[string]string, raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}
	if mapped, ok := mapping[name]; ok && strings.TrimSpace(mapped) != "" {
		name = strings.TrimSpace(mapped)
	}
	if name == userID || selfAliases[strings.ToLower(name)] {
		return userID
	}
	return nameToID[name]
}

// documentBatch assembles the embed/load payload: every original chunk plus
// the text of every staged Goal and Project node, the latter stored under
// the node id so recall can link back into the graph.
func (o *Orchestrator) documentBatch(userID, fileID, sourceFile string, chunks []string, nodes []types.Node) ([]string, []map[string]any, []string) {
	timestamp := types.NowISO()

	docs := make([]string, 0, len(chunks))
	metas := make([]map[string]any, 0, len(chunks))
	ids := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chunk)
		ids = append(ids, fmt.Sprintf("%s_c_%d", fileID, i))
		metas = append(metas, map[string]any{
			"type":      "file",
			"filename":  sourceFile,
			"file_id":   fileID,
			"user_id":   userID,
			"timestamp": timestamp,
		})
	}

	for _, n := range nodes {
		if n.Type != types.TypeGoal && n.Type != types.TypeProject {
			continue
		}
		text := n.Name
		if n.Content != "" {
			text = n.Name + ": " + n.Content
		}
		docs = append(docs, text)
		ids = append(ids, n.ID)
		metas = append(metas, map[string]any{
			"type":      "node",
			"node_type": string(n.Type),
			"filename":  sourceFile,
			"user_id":   userID,
			"timestamp": timestamp,
		})
	}
	return docs, metas, ids
}

// visionContext renders the user's vision for the bulk extractor prompt.
func (o *Orchestrator) visionContext(userID string) string {
	visions, err := o.graph.GetNodesByType(userID, "Vision")
	if err != nil || len(visions) == 0 {
		return ""
	}
	v := visions[0]
	if v.Content == "" {
		return v.Name
	}
	return v.Name + ": " + v.Content
}
