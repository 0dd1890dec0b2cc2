package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endgame/internal/embedding"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

// routeClient dispatches canned completions by prompt shape so one stub
// serves both the map and reduce phases.
type routeClient struct {
	mu            sync.Mutex
	bulk          string
	consolidation string
	bulkErr       error
	consErr       error
	bulkCalls     int
	consCalls     int
}

func (c *routeClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *routeClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.HasPrefix(user, "Entities to consolidate") {
		c.consCalls++
		if c.consErr != nil {
			return "", c.consErr
		}
		return c.consolidation, nil
	}
	c.bulkCalls++
	if c.bulkErr != nil {
		return "", c.bulkErr
	}
	return c.bulk, nil
}

func (c *routeClient) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bulkCalls, c.consCalls
}

// stubEmbedder returns mapped vectors and degrades unknown texts to nil,
// which the helpers turn into zero-vectors.
type stubEmbedder struct {
	dim  int
	vecs map[string][]float32
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vecs[text], nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vecs[t]
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return e.dim }
func (e *stubEmbedder) Name() string    { return "stub" }

func newTestOrchestrator(t *testing.T, client perception.LLMClient, embedder embedding.Engine) (*Orchestrator, *store.GraphStore, *vector.Store) {
	t.Helper()

	graph, err := store.NewGraphStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	vectors, err := vector.NewStore(filepath.Join(t.TempDir(), "vectors.db"), embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	orch := NewOrchestrator(graph, vectors, embedder, perception.NewExtractor(client), NewJobs(), Options{
		ChunkSize:            200,
		ChunkOverlap:         20,
		ConcurrentExtractors: 4,
		CoreKeywords:         []string{"project", "roadmap", "项目"},
	})
	orch.batchPause = 0
	return orch, graph, vectors
}

func writeArtifact(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const informativeText = "The Endgame OS project roadmap needs a working ingestion pipeline because quarterly planning depends on it."

func TestIngestFileStagesGraphDelta(t *testing.T) {
	const userID = "u1"

	client := &routeClient{
		bulk: `{
		  "nodes": [
		    {"id": "n1", "type": "Project", "name": "Endgame OS", "content": "Personal strategy engine"},
		    {"id": "n2", "type": "Task", "name": "Ship ingestion", "content": ""},
		    {"id": "n3", "type": "Concept", "name": "endgame os", "content": "duplicate spelling"}
		  ],
		  "edges": [
		    {"source": "Endgame OS", "relation": "CONSISTS_OF", "target": "Ship ingestion"},
		    {"source": "我", "relation": "OWNS", "target": "Endgame OS"},
		    {"source": "Endgame OS", "relation": "RELATES_TO", "target": "Ghost Entity"},
		    {"source": "Endgame OS", "relation": "CONSISTS_OF", "target": "Ship ingestion"}
		  ]
		}`,
		consolidation: `{
		  "mapping": {"endgame os": "Endgame OS"},
		  "standard_nodes": [
		    {"type": "Project", "name": "Endgame OS", "content": "Personal strategy engine"},
		    {"type": "Task", "name": "Ship ingestion", "content": "Land the pipeline"},
		    {"type": "Goal", "name": "Q4 launch", "content": "Launch before December"}
		  ]
		}`,
	}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{
		informativeText: {1, 0, 0, 0},
	}}
	orch, graph, vectors := newTestOrchestrator(t, client, embedder)

	path := writeArtifact(t, "strategy.txt", informativeText)

	var milestones []int
	rep, err := orch.IngestFile(context.Background(), userID, path, func(percent int, message string) {
		milestones = append(milestones, percent)
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rep.FileID, "file_"))
	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 1, rep.Extracted)
	assert.Equal(t, 0, rep.Skipped)
	assert.Equal(t, 3, rep.StagedNodes)
	assert.Equal(t, 2, rep.StagedEdges, "ghost and duplicate edges are dropped")
	assert.Equal(t, 3, rep.DocumentVectors, "one chunk plus the Goal and Project nodes")

	bulkCalls, consCalls := client.counts()
	assert.Equal(t, 1, bulkCalls)
	assert.Equal(t, 1, consCalls)

	// Progress runs from parse to done.
	require.NotEmpty(t, milestones)
	assert.Equal(t, 5, milestones[0])
	assert.Equal(t, 100, milestones[len(milestones)-1])

	// Everything extracted sits in staging as pending, nothing canonical.
	staged, err := graph.GetStaging(userID)
	require.NoError(t, err)
	require.Len(t, staged.Nodes, 3)
	for _, n := range staged.Nodes {
		assert.Equal(t, types.StatusPending, n.Status)
		assert.Equal(t, "strategy.txt", n.SourceFile)
	}

	projectID := types.StableNodeID("Endgame OS")
	taskID := types.StableNodeID("Ship ingestion")
	foundConsists, foundOwns := false, false
	for _, e := range staged.Links {
		if e.Source == projectID && e.Target == taskID && e.Relation == "CONSISTS_OF" {
			foundConsists = true
		}
		if e.Source == userID && e.Target == projectID && e.Relation == "OWNS" {
			foundOwns = true
		}
	}
	assert.True(t, foundConsists, "project -> task edge should survive consolidation")
	assert.True(t, foundOwns, "self alias should fold onto the user id")

	canonical, err := graph.GetNodesByType(userID, "Project")
	require.NoError(t, err)
	assert.Empty(t, canonical, "ingestion must not touch the canonical graph")

	// The processed chunk is recorded as a Log node for nightly reflection.
	log, err := graph.GetNode(userID, rep.FileID+"_c_0")
	require.NoError(t, err)
	assert.Equal(t, types.TypeLog, log.Type)
	assert.Equal(t, "file_chunk", log.Attributes["log_type"])

	// The chunk vector is searchable and carries the file metadata.
	hits, err := vectors.SearchDocuments([]float32{1, 0, 0, 0}, userID, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, rep.FileID+"_c_0", hits[0].ID)
	assert.Equal(t, "file", hits[0].Metadata["type"])
	assert.Equal(t, "strategy.txt", hits[0].Metadata["filename"])
}

func TestIngestFileIdempotentIDs(t *testing.T) {
	const userID = "u1"
	client := &routeClient{
		bulk: `{"nodes": [{"id": "n1", "type": "Project", "name": "Endgame OS", "content": "v1"}], "edges": []}`,
		consolidation: `{
		  "mapping": {},
		  "standard_nodes": [{"type": "Project", "name": "Endgame OS", "content": "v1"}]
		}`,
	}
	orch, graph, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "strategy.txt", informativeText)
	_, err := orch.IngestFile(context.Background(), userID, path, nil)
	require.NoError(t, err)
	_, err = orch.IngestFile(context.Background(), userID, path, nil)
	require.NoError(t, err)

	staged, err := graph.GetStaging(userID)
	require.NoError(t, err)
	require.Len(t, staged.Nodes, 1, "re-ingest converges on the same stable id")
	assert.Equal(t, types.StableNodeID("Endgame OS"), staged.Nodes[0].ID)
}

func TestIngestFileConsolidationFallback(t *testing.T) {
	const userID = "u1"
	client := &routeClient{
		bulk: `{
		  "nodes": [
		    {"id": "n1", "type": "Project", "name": "Endgame OS", "content": "engine"},
		    {"id": "n2", "type": "Concept", "name": "endgame os", "content": "raw spelling"}
		  ],
		  "edges": [{"source": "Endgame OS", "relation": "RELATES_TO", "target": "endgame os"}]
		}`,
		consErr: errors.New("model unavailable"),
	}
	orch, graph, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "strategy.txt", informativeText)
	rep, err := orch.IngestFile(context.Background(), userID, path, nil)
	require.NoError(t, err, "consolidation failure must not fail the run")

	assert.Equal(t, 2, rep.StagedNodes, "naive dedup keeps both raw spellings")
	assert.Equal(t, 1, rep.StagedEdges)

	staged, err := graph.GetStaging(userID)
	require.NoError(t, err)
	names := make([]string, 0, len(staged.Nodes))
	for _, n := range staged.Nodes {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"Endgame OS", "endgame os"}, names)
}

func TestIngestFileExtractionFailureSkipsChunk(t *testing.T) {
	const userID = "u1"
	client := &routeClient{bulkErr: errors.New("upstream timeout")}
	orch, graph, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "strategy.txt", informativeText)
	rep, err := orch.IngestFile(context.Background(), userID, path, nil)
	require.NoError(t, err, "a failing chunk is skipped, not fatal")

	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 0, rep.Extracted)
	assert.Equal(t, 1, rep.Skipped)
	assert.Equal(t, 0, rep.StagedNodes)
	assert.Equal(t, 1, rep.DocumentVectors, "the chunk is still embedded for recall")

	// The chunk was informative, so its Log node exists despite the failure.
	logs, err := graph.GetNodesByType(userID, "Log")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestIngestFileSkipsUninformativeChunks(t *testing.T) {
	const userID = "u1"
	client := &routeClient{}
	orch, graph, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "smalltalk.txt", "the weather is pleasant and nothing happened today at all")
	rep, err := orch.IngestFile(context.Background(), userID, path, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Chunks)
	assert.Equal(t, 0, rep.Extracted)
	assert.Equal(t, 1, rep.Skipped)

	bulkCalls, _ := client.counts()
	assert.Equal(t, 0, bulkCalls, "filtered chunks never reach the extractor")

	logs, err := graph.GetNodesByType(userID, "Log")
	require.NoError(t, err)
	assert.Empty(t, logs, "skipped chunks leave no Log node")

	assert.Equal(t, 1, rep.DocumentVectors, "recall still sees the raw text")
}

func TestIngestFileCancelled(t *testing.T) {
	client := &routeClient{bulk: `{"nodes": [], "edges": []}`}
	orch, _, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "strategy.txt", informativeText)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.IngestFile(ctx, "u1", path, nil)
	require.ErrorIs(t, err, types.ErrCancelled)
}

func TestIngestFileRequiresUser(t *testing.T) {
	client := &routeClient{}
	orch, _, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	_, err := orch.IngestFile(context.Background(), "  ", "nowhere.txt", nil)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestIngestAsyncTracksJob(t *testing.T) {
	client := &routeClient{
		bulk:          `{"nodes": [], "edges": []}`,
		consolidation: `{}`,
	}
	orch, _, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	path := writeArtifact(t, "strategy.txt", informativeText)
	jobID := orch.IngestAsync("u1", path)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, ok := orch.Jobs().Get(jobID)
		return ok && job.State != JobRunning
	}, 5*time.Second, 10*time.Millisecond)

	job, _ := orch.Jobs().Get(jobID)
	assert.Equal(t, JobCompleted, job.State)
	assert.Equal(t, 100, job.Percent)
	assert.Equal(t, "strategy.txt", job.SourceFile)
	assert.NotEmpty(t, job.FinishedAt)
}

func TestJobsLifecycle(t *testing.T) {
	jobs := NewJobs()
	id, ctx := jobs.Begin(context.Background(), "u1", "a.txt")

	job, ok := jobs.Get(id)
	require.True(t, ok)
	assert.Equal(t, JobRunning, job.State)
	assert.NotEmpty(t, job.StartedAt)

	jobs.Progress(id, 40, "extracting")
	job, _ = jobs.Get(id)
	assert.Equal(t, 40, job.Percent)
	assert.Equal(t, "extracting", job.Message)

	require.True(t, jobs.Cancel(id))
	assert.Error(t, ctx.Err(), "cancel must abort the run context")

	jobs.Finish(id, ctx.Err())
	job, _ = jobs.Get(id)
	assert.Equal(t, JobCancelled, job.State)

	jobs.Progress(id, 90, "late update")
	job, _ = jobs.Get(id)
	assert.Equal(t, 40, job.Percent, "terminal jobs ignore progress")
	assert.False(t, jobs.Cancel(id), "terminal jobs cannot be cancelled again")
}

func TestJobsFinishStates(t *testing.T) {
	jobs := NewJobs()

	okID, _ := jobs.Begin(context.Background(), "u1", "ok.txt")
	jobs.Finish(okID, nil)
	job, _ := jobs.Get(okID)
	assert.Equal(t, JobCompleted, job.State)
	assert.Equal(t, 100, job.Percent)

	badID, _ := jobs.Begin(context.Background(), "u1", "bad.txt")
	jobs.Finish(badID, errors.New("parse exploded"))
	job, _ = jobs.Get(badID)
	assert.Equal(t, JobFailed, job.State)
	assert.Equal(t, "parse exploded", job.Error)

	assert.Len(t, jobs.List(), 2)

	_, ok := jobs.Get("job_missing")
	assert.False(t, ok)
}

func TestIntakeFile(t *testing.T) {
	dataRoot := t.TempDir()
	src := writeArtifact(t, "notes.txt", "strategy notes")

	stored, err := IntakeFile(dataRoot, "u1", src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, filepath.Join(dataRoot, "uploads", "u1")))
	assert.True(t, strings.HasSuffix(stored, "_notes.txt"))

	data, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "strategy notes", string(data))

	again, err := IntakeFile(dataRoot, "u1", src)
	require.NoError(t, err)
	assert.NotEqual(t, stored, again, "repeated uploads never collide")

	_, err = IntakeFile(dataRoot, "", src)
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestWatcherIngestsSettledFiles(t *testing.T) {
	client := &routeClient{bulk: `{"nodes": [], "edges": []}`, consolidation: `{}`}
	orch, _, _ := newTestOrchestrator(t, client, &stubEmbedder{dim: 4})

	dataRoot := t.TempDir()
	inbox := filepath.Join(dataRoot, "inbox")
	require.NoError(t, os.MkdirAll(inbox, 0755))

	w, err := NewWatcher(orch, dataRoot, "u1", inbox)
	require.NoError(t, err)
	t.Cleanup(func() { w.watcher.Close() })

	dropped := filepath.Join(inbox, "drop.txt")
	require.NoError(t, os.WriteFile(dropped, []byte(informativeText), 0644))

	// Drive the settle path directly; the event loop is covered separately.
	w.debounceMap[dropped] = time.Now().Add(-time.Minute)
	w.processSettled()

	_, statErr := os.Stat(dropped)
	assert.True(t, os.IsNotExist(statErr), "the inbox file moves to uploads")

	entries, err := os.ReadDir(filepath.Join(dataRoot, "uploads", "u1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), "_drop.txt"))

	assert.Equal(t, 1, w.Stats().JobsStarted)

	require.Eventually(t, func() bool {
		list := orch.Jobs().List()
		return len(list) == 1 && list[0].State != JobRunning
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, JobCompleted, orch.Jobs().List()[0].State)
}

func TestWatcherHandleEventFilters(t *testing.T) {
	orchDir := t.TempDir()
	w, err := NewWatcher(nil, orchDir, "u1", filepath.Join(orchDir, "inbox"))
	require.NoError(t, err)
	t.Cleanup(func() { w.watcher.Close() })

	w.handleEvent(fsnotify.Event{Name: "/inbox/.drop.txt.swp", Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: "/inbox/report.txt", Op: fsnotify.Chmod})
	w.handleEvent(fsnotify.Event{Name: "/inbox/report.txt", Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: "/inbox/report.txt", Op: fsnotify.Write})

	assert.Equal(t, 1, w.Stats().FilesQueued)
	assert.Len(t, w.debounceMap, 1)
}
