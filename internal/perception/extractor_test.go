package perception

import (
	"context"
	"errors"
	"strings"
	"testing"

	"endgame/internal/config"
)

// stubClient replays a canned reply and records what it was asked.
type stubClient struct {
	reply      string
	err        error
	calls      int
	lastSystem string
	lastUser   string
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return s.CompleteWithSystem(ctx, "", prompt)
}

func (s *stubClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	s.lastSystem = systemPrompt
	s.lastUser = userPrompt
	return s.reply, s.err
}

func TestExtractStructuredMemoryCoercesSelf(t *testing.T) {
	stub := &stubClient{reply: `{
		"entities": [
			{"name": "user_a", "type": "Person", "content": "the owner"},
			{"name": "Endgame OS", "type": "Project", "content": "knowledge engine"}
		],
		"relations": [
			{"source": "user_a", "relation": "EXECUTES", "target": "Endgame OS"}
		]
	}`}
	e := NewExtractor(stub)

	result, err := e.ExtractStructuredMemory(context.Background(), "I am building Endgame OS", "user_a", "")
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if len(result.Entities) != 2 || len(result.Relations) != 1 {
		t.Fatalf("unexpected counts: %d entities, %d relations", len(result.Entities), len(result.Relations))
	}
	if result.Entities[0].Type != "Self" {
		t.Errorf("entity named after the user should be coerced to Self, got %q", result.Entities[0].Type)
	}
	if result.Entities[1].Type != "Project" {
		t.Errorf("other entities keep their type, got %q", result.Entities[1].Type)
	}
	if !strings.Contains(stub.lastUser, `name "user_a"`) {
		t.Error("prompt should pin first-person references to the user id")
	}
}

func TestExtractStructuredMemoryEmptyText(t *testing.T) {
	stub := &stubClient{reply: `{}`}
	e := NewExtractor(stub)

	result, err := e.ExtractStructuredMemory(context.Background(), "   ", "user_a", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Empty() {
		t.Error("blank text should extract nothing")
	}
	if stub.calls != 0 {
		t.Errorf("blank text should not reach the model, got %d calls", stub.calls)
	}
}

func TestExtractStructuredMemoryRepairsJSON(t *testing.T) {
	// Fenced, with a trailing comma. Models do this constantly.
	stub := &stubClient{reply: "```json\n" + `{
		"entities": [{"name": "Rust", "type": "Concept",}],
		"relations": [],
	}` + "\n```"}
	e := NewExtractor(stub)

	result, err := e.ExtractStructuredMemory(context.Background(), "learning Rust because it matters", "user_a", "")
	if err != nil {
		t.Fatalf("repairable JSON should parse: %v", err)
	}
	if len(result.Entities) != 1 || result.Entities[0].Name != "Rust" {
		t.Errorf("unexpected entities: %+v", result.Entities)
	}
}

func TestExtractStructuredMemoryClientError(t *testing.T) {
	stub := &stubClient{err: errors.New("upstream down")}
	e := NewExtractor(stub)

	if _, err := e.ExtractStructuredMemory(context.Background(), "meaningful text", "user_a", ""); err == nil {
		t.Error("client failure should surface")
	}
}

func TestExtractLargeModelAssignsIDs(t *testing.T) {
	stub := &stubClient{reply: `{
		"nodes": [
			{"name": "Ship v1", "type": "Goal", "content": "first release"},
			{"id": "n7", "name": "Write docs", "type": "Task"}
		],
		"edges": [{"source": "Ship v1", "relation": "HAS_TASK", "target": "Write docs"}]
	}`}
	e := NewExtractor(stub)

	result, err := e.ExtractLargeModel(context.Background(), "chunk text", "become independent")
	if err != nil {
		t.Fatalf("bulk extraction failed: %v", err)
	}
	if result.Nodes[0].ID == "" {
		t.Error("nodes without ids should get run-scoped ids")
	}
	if result.Nodes[1].ID != "n7" {
		t.Errorf("model-provided id should survive, got %q", result.Nodes[1].ID)
	}
	if !strings.Contains(stub.lastSystem, "become independent") {
		t.Error("vision context should reach the system prompt")
	}
}

func TestConsolidateNodesEmptyInput(t *testing.T) {
	stub := &stubClient{reply: `{}`}
	e := NewExtractor(stub)

	result, err := e.ConsolidateNodes(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mapping == nil {
		t.Error("mapping should never be nil")
	}
	if stub.calls != 0 {
		t.Error("empty input should not reach the model")
	}
}

func TestArbitrateMergeRequiresMaster(t *testing.T) {
	stub := &stubClient{reply: `{"should_merge": true, "reason": "same person"}`}
	e := NewExtractor(stub)

	decision, err := e.ArbitrateMerge(context.Background(), []string{"Bob", "Robert Smith"})
	if err != nil {
		t.Fatalf("arbitration failed: %v", err)
	}
	if decision.ShouldMerge {
		t.Error("a merge verdict without a master name must be downgraded")
	}
}

func TestArbitrateMergeSingleName(t *testing.T) {
	stub := &stubClient{reply: `{"should_merge": true, "master_name": "x"}`}
	e := NewExtractor(stub)

	decision, err := e.ArbitrateMerge(context.Background(), []string{"only one"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.ShouldMerge || stub.calls != 0 {
		t.Error("fewer than two names is never a merge")
	}
}

func TestSummarizeTextEmptyInput(t *testing.T) {
	stub := &stubClient{reply: "should not be used"}
	e := NewExtractor(stub)

	out, err := e.SummarizeText(context.Background(), "", "")
	if err != nil || out != "" {
		t.Errorf("empty text summarizes to empty, got %q err %v", out, err)
	}
	if stub.calls != 0 {
		t.Error("empty text should not reach the model")
	}
}

func TestParseAlignment(t *testing.T) {
	cases := []struct {
		name       string
		reply      string
		wantScore  float64
		wantReason string
	}{
		{"well formed", "Score: 0.8\nReason: directly serves the vision", 0.8, "directly serves the vision"},
		{"score out of range", "Score: 7\nReason: confused", 0.5, "confused"},
		{"garbage", "I cannot help with that", 0.5, "unknown"},
		{"score only", "Score: 0.2", 0.2, "unknown"},
	}
	for _, tc := range cases {
		note := parseAlignment(tc.reply)
		if note.Score != tc.wantScore {
			t.Errorf("%s: score = %v, want %v", tc.name, note.Score, tc.wantScore)
		}
		if note.Reason != tc.wantReason {
			t.Errorf("%s: reason = %q, want %q", tc.name, note.Reason, tc.wantReason)
		}
	}
}

func TestAlignmentScoreDegradesOnFailure(t *testing.T) {
	stub := &stubClient{err: errors.New("rate limited")}
	e := NewExtractor(stub)

	note := e.AlignmentScore(context.Background(), "message", "the vision")
	if note.Score != 0.5 || note.Reason != "unknown" {
		t.Errorf("failed alignment should be neutral, got %+v", note)
	}

	note = e.AlignmentScore(context.Background(), "message", "")
	if note.Score != 0.5 {
		t.Error("missing vision should be neutral without a model call")
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"Here you go: {\"a\": 1} hope that helps", `{"a": 1}`},
		{"[1, 2, 3] trailing", `[1, 2, 3]`},
		{"no json here", "no json here"},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewClientFactory(t *testing.T) {
	if _, err := NewClient(config.LLMConfig{Provider: "smoke-signals"}); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := NewClient(config.LLMConfig{Provider: "gemini"}); err == nil {
		t.Error("gemini without an API key should fail")
	}
	if _, err := NewClient(config.LLMConfig{Provider: "openai", APIKey: "sk-test"}); err != nil {
		t.Errorf("openai with a key should construct: %v", err)
	}
	if _, err := NewClient(config.LLMConfig{Provider: "anthropic", APIKey: "sk-ant-test"}); err != nil {
		t.Errorf("anthropic with a key should construct: %v", err)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubClient{err: errors.New("connection refused")}
	guarded := NewBreakerClient(stub)

	for i := 0; i < 5; i++ {
		if _, err := guarded.Complete(context.Background(), "p"); err == nil {
			t.Fatal("failing client should error")
		}
	}
	before := stub.calls

	if _, err := guarded.Complete(context.Background(), "p"); err == nil {
		t.Fatal("open breaker should fail fast")
	}
	if stub.calls != before {
		t.Error("open breaker must not reach the backend")
	}
}
