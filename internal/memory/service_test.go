package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"endgame/internal/embedding"
	"endgame/internal/perception"
	"endgame/internal/store"
	"endgame/internal/types"
	"endgame/internal/vector"
)

// stubClient replays a canned completion so the pipeline runs without a
// remote model.
type stubClient struct {
	reply string
	err   error
	calls int
}

func (c *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.calls++
	return c.reply, c.err
}

func (c *stubClient) CompleteWithSystem(ctx context.Context, system, user string) (string, error) {
	c.calls++
	return c.reply, c.err
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

func newTestService(t *testing.T, client perception.LLMClient, embedder embedding.Engine, keywords []string) (*Service, *store.GraphStore, *vector.Store) {
	t.Helper()

	graph, err := store.NewGraphStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	vectors, err := vector.NewStore(filepath.Join(t.TempDir(), "vectors.db"), embedder.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	svc := NewService(graph, vectors, embedder, perception.NewExtractor(client), keywords)
	return svc, graph, vectors
}

func TestIsInformative(t *testing.T) {
	keywords := []string{"project", "goal", "目标"}

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"stop phrase", "ok", false},
		{"chinese stop phrase", "好的", false},
		{"too short despite keyword", "goal: ship it", false},
		{"keyword and long enough", "We should align the PROJECT roadmap this week", true},
		{"logic marker without keyword", "That broke because the cache was never invalidated", true},
		{"chinese markers", "因为我们需要重构整个系统所以这个季度很关键", true},
		{"long but inert", "the weather has been really pleasant around here", false},
		{"blank", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsInformative(tt.text, keywords))
		})
	}
}

func TestApplyStatusPolicy(t *testing.T) {
	timestamp := types.NowISO()
	entities := applyStatusPolicy([]types.Entity{
		{Name: "Ship the MVP", Type: "Task"},
		{Name: "Alice Chen", Type: "Person"},
		{Name: "Endgame OS Refactor", Type: "Project"},
		{Name: "Old Task", Type: "Task", Status: "completed"},
		{Name: "   ", Type: "Concept"},
	}, timestamp)

	require.Len(t, entities, 4)
	assert.Equal(t, types.StatusPending, entities[0].Status)
	assert.Equal(t, types.StatusPending, entities[1].Status)
	assert.Equal(t, types.StatusConfirmed, entities[2].Status)
	assert.Equal(t, "completed", entities[3].Status)
	for _, e := range entities {
		assert.Equal(t, timestamp, e.Dossier["last_mentioned"])
	}
}

func TestProcessChatInteraction(t *testing.T) {
	const userID = "u1"
	userMsg := "I am pushing the Endgame OS Refactor project forward with Alice Chen"
	aiMsg := "Noted, focusing on the MVP task"
	combined := "User: " + userMsg + "\nAI: " + aiMsg

	client := &stubClient{reply: `{
		"entities": [
			{"name": "Endgame OS Refactor", "type": "Project", "content": "Rebuild of the core"},
			{"name": "Alice Chen", "type": "Person"},
			{"name": "Ship the MVP", "type": "Task"}
		],
		"relations": [
			{"source": "Endgame OS Refactor", "relation": "CONSISTS_OF", "target": "Ship the MVP"}
		]
	}`}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{
		combined:              {0, 1, 0, 0},
		"Endgame OS Refactor": {1, 0, 0, 0},
	}}
	svc, graph, vectors := newTestService(t, client, embedder, []string{"project"})

	result, err := svc.ProcessChatInteraction(context.Background(), userID, "conv_1", userMsg, aiMsg)
	require.NoError(t, err)
	require.True(t, result.Stored)
	assert.Equal(t, 3, result.Entities)
	assert.Equal(t, 1, result.Relations)
	assert.Equal(t, 1, result.NewConcepts)
	assert.True(t, strings.HasPrefix(result.LogID, "chat_"))

	projectID := types.StableNodeID("Endgame OS Refactor")
	project, err := graph.GetNode(userID, projectID)
	require.NoError(t, err)
	assert.Equal(t, types.TypeProject, project.Type)
	assert.Equal(t, types.StatusConfirmed, project.Status)

	person, err := graph.GetNode(userID, types.StableNodeID("Alice Chen"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, person.Status)

	task, err := graph.GetNode(userID, types.StableNodeID("Ship the MVP"))
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, task.Status)

	logNode, err := graph.GetNode(userID, result.LogID)
	require.NoError(t, err)
	assert.Equal(t, types.TypeLog, logNode.Type)
	assert.Equal(t, "chat_history", logNode.Attributes["log_type"])

	edges, err := graph.GetEdges(userID)
	require.NoError(t, err)
	var hasConsistsOf, hasMention bool
	for _, e := range edges {
		if e.Source == projectID && e.Target == types.StableNodeID("Ship the MVP") && e.Relation == "CONSISTS_OF" {
			hasConsistsOf = true
		}
		if e.Source == result.LogID && e.Target == projectID && e.Relation == types.RelationMentions {
			hasMention = true
		}
	}
	assert.True(t, hasConsistsOf, "extracted relation missing")
	assert.True(t, hasMention, "chat log should mention the confirmed concept")

	hits, err := vectors.SearchDocuments([]float32{0, 1, 0, 0}, userID, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "conv_1", hits[0].Metadata["conversation_id"])
	assert.Equal(t, "chat", hits[0].Metadata["type"])

	match, err := vectors.FindSimilarConcept([]float32{1, 0, 0, 0}, 0.99)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, projectID, match.ID)
}

func TestProcessChatInteractionIdempotent(t *testing.T) {
	const userID = "u1"
	userMsg := "我在推进 Endgame OS 重构项目"
	combined := "User: " + userMsg + "\nAI: 好的"

	client := &stubClient{reply: `{
		"entities": [{"name": "Endgame OS 重构", "type": "Project"}],
		"relations": []
	}`}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{
		combined:          {0, 1, 0, 0},
		"Endgame OS 重构": {1, 0, 0, 0},
	}}
	svc, graph, vectors := newTestService(t, client, embedder, []string{"项目"})

	first, err := svc.ProcessChatInteraction(context.Background(), userID, "conv_1", userMsg, "好的")
	require.NoError(t, err)
	second, err := svc.ProcessChatInteraction(context.Background(), userID, "conv_1", userMsg, "好的")
	require.NoError(t, err)

	assert.Equal(t, 1, first.NewConcepts)
	assert.Equal(t, 0, second.NewConcepts, "repeated mention must reuse the aligned concept")
	assert.NotEqual(t, first.LogID, second.LogID)

	projects, err := graph.GetNodesByType(userID, "Project")
	require.NoError(t, err)
	assert.Len(t, projects, 1, "deterministic ids must converge on one node")

	hits, err := vectors.SearchDocuments([]float32{0, 1, 0, 0}, userID, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2, "each turn keeps its own document vector")
}

func TestProcessChatInteractionFiltered(t *testing.T) {
	client := &stubClient{reply: `{}`}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{}}
	svc, graph, _ := newTestService(t, client, embedder, []string{"project"})

	result, err := svc.ProcessChatInteraction(context.Background(), "u1", "conv_1", "ok", "收到")
	require.NoError(t, err)
	assert.False(t, result.Stored)
	assert.Zero(t, client.calls, "filtered turns must not reach the model")

	logs, err := graph.GetLogsByDate("u1", types.NowISO()[:10])
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestProcessChatInteractionExtractionFailure(t *testing.T) {
	client := &stubClient{err: context.DeadlineExceeded}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{}}
	svc, graph, _ := newTestService(t, client, embedder, []string{"project"})

	result, err := svc.ProcessChatInteraction(context.Background(), "u1", "conv_1",
		"the project timeline slipped again this sprint", "understood")
	require.NoError(t, err)
	require.True(t, result.Stored)
	assert.Zero(t, result.Entities)

	logNode, err := graph.GetNode("u1", result.LogID)
	require.NoError(t, err)
	assert.Equal(t, types.TypeLog, logNode.Type)
}

func TestProcessChatInteractionRequiresUser(t *testing.T) {
	client := &stubClient{reply: `{}`}
	embedder := &stubEmbedder{dim: 4}
	svc, _, _ := newTestService(t, client, embedder, nil)

	_, err := svc.ProcessChatInteraction(context.Background(), "  ", "conv_1", "hello", "hi")
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestSyncUserToSelfNode(t *testing.T) {
	client := &stubClient{reply: `{}`}
	embedder := &stubEmbedder{dim: 4}
	svc, graph, _ := newTestService(t, client, embedder, nil)

	require.NoError(t, svc.SyncUserToSelfNode("u1", "Build EOS", "The endgame operating system", []string{"MVP"}))

	self, err := graph.GetNode("u1", "u1")
	require.NoError(t, err)
	assert.Equal(t, types.TypeSelf, self.Type)

	vision, err := graph.GetNode("u1", "vision_u1")
	require.NoError(t, err)
	assert.Equal(t, types.TypeVision, vision.Type)
	assert.Equal(t, "Build EOS", vision.Name)
	assert.Equal(t, "The endgame operating system", vision.Content)

	goals, err := graph.GetSubEntities("u1", "vision_u1", types.RelationHasGoal)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, "MVP", goals[0].Name)

	edges, err := graph.GetEdges("u1")
	require.NoError(t, err)
	var owns bool
	for _, e := range edges {
		if e.Source == "u1" && e.Target == "vision_u1" && e.Relation == types.RelationOwns {
			owns = true
		}
	}
	assert.True(t, owns)

	// A second sync converges instead of duplicating.
	require.NoError(t, svc.SyncUserToSelfNode("u1", "Build EOS", "sharper description", []string{"MVP"}))
	visions, err := graph.GetNodesByType("u1", "Vision")
	require.NoError(t, err)
	assert.Len(t, visions, 1)
	goals, err = graph.GetSubEntities("u1", "vision_u1", types.RelationHasGoal)
	require.NoError(t, err)
	assert.Len(t, goals, 1)
}

func TestConsolidateConceptsMergesApprovedGroup(t *testing.T) {
	const userID = "u1"
	client := &stubClient{reply: `{"should_merge": true, "master_name": "machine learning", "reason": "same field"}`}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{
		"machine learning": {1, 0, 0, 0},
		"ML":               {0.9, 0.1, 0, 0},
		"cooking":          {0, 0, 1, 0},
	}}
	svc, graph, vectors := newTestService(t, client, embedder, nil)

	graph.AddConceptsBatch(userID, []string{"machine learning", "ML", "cooking"})
	masterID := types.StableNodeID("machine learning")
	slaveID := types.StableNodeID("ML")
	vectors.AddConcept(masterID, "machine learning", []float32{1, 0, 0, 0})
	vectors.AddConcept(slaveID, "ML", []float32{0.9, 0.1, 0, 0})

	report, err := svc.ConsolidateConcepts(context.Background(), userID, 0.85)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GroupsAnalyzed)
	assert.Equal(t, 1, report.Merged)

	concepts, err := graph.GetNodesByType(userID, "Concept")
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	names := []string{concepts[0].Name, concepts[1].Name}
	assert.Contains(t, names, "machine learning")
	assert.Contains(t, names, "cooking")

	_, err = graph.GetNode(userID, slaveID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	// The slave's vector is gone too: nothing matches it at near identity.
	match, err := vectors.FindSimilarConcept([]float32{0.9, 0.1, 0, 0}, 0.999)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestConsolidateConceptsRespectsRejection(t *testing.T) {
	const userID = "u1"
	client := &stubClient{reply: `{"should_merge": false, "reason": "different domains"}`}
	embedder := &stubEmbedder{dim: 4, vecs: map[string][]float32{
		"java":       {1, 0, 0, 0},
		"javascript": {0.95, 0.05, 0, 0},
	}}
	svc, graph, _ := newTestService(t, client, embedder, nil)

	graph.AddConceptsBatch(userID, []string{"java", "javascript"})

	report, err := svc.ConsolidateConcepts(context.Background(), userID, 0.85)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GroupsAnalyzed)
	assert.Zero(t, report.Merged)

	concepts, err := graph.GetNodesByType(userID, "Concept")
	require.NoError(t, err)
	assert.Len(t, concepts, 2)
}

func TestConsolidateConceptsTooFewNodes(t *testing.T) {
	client := &stubClient{reply: `{}`}
	embedder := &stubEmbedder{dim: 4}
	svc, graph, _ := newTestService(t, client, embedder, nil)

	graph.AddConceptsBatch("u1", []string{"solo"})

	report, err := svc.ConsolidateConcepts(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Zero(t, report.GroupsAnalyzed)
	assert.Zero(t, client.calls)
}

func TestClusterBySimilarity(t *testing.T) {
	vecs := [][]float32{
		{1, 0, 0, 0},
		{0.9, 0.1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 0},
	}
	groups := clusterBySimilarity(vecs, 0.85)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0])
}
