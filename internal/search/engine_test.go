package search

import (
	"testing"
	"time"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/pkg/types"
)

// queryEchoEmbedder returns a fixed vector for any text, keyed by a map
// set up per test, so search ranking is deterministic.
type queryEchoEmbedder struct {
	byText map[string][]float32
	dim    int
}

func (e *queryEchoEmbedder) Embed(text string) (types.Embedding, error) {
	if v, ok := e.byText[text]; ok {
		return types.Embedding(v), nil
	}
	return make(types.Embedding, e.dim), nil
}

func (e *queryEchoEmbedder) EmbedBatch(texts []string) ([]types.Embedding, error) {
	out := make([]types.Embedding, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(t)
		out[i] = v
	}
	return out, nil
}

func (e *queryEchoEmbedder) Dimension() int   { return e.dim }
func (e *queryEchoEmbedder) Provider() string { return "fake" }
func (e *queryEchoEmbedder) Close() error     { return nil }

func buildTestEngine(t *testing.T) (*Engine, *core.Hierarchy) {
	t.Helper()
	h, err := core.NewHeap(32)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	embedder := &queryEchoEmbedder{dim: types.EmbeddingDim, byText: map[string][]float32{}}
	config := types.DefaultConfig().Search
	e, err := NewEngine(h, embedder, config)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, h
}

func TestApplyTokenBudgetStopsAtFirstOverBudget(t *testing.T) {
	e, _ := buildTestEngine(t)

	results := []types.SearchResult{
		{Level: types.LevelStatement}, // 50
		{Level: types.LevelStatement}, // 50
		{Level: types.LevelMessage},   // 500, pushes to 600
	}
	got := e.applyTokenBudget(results, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 results within 100 token budget, got %d", len(got))
	}
}

func TestExactScoreIsBoundedAndMonotonic(t *testing.T) {
	low := exactScore(0.5)
	high := exactScore(5.0)
	if low < 0 || low > 1 || high < 0 || high > 1 {
		t.Fatalf("exactScore out of [0,1]: low=%v high=%v", low, high)
	}
	if high <= low {
		t.Fatalf("expected higher bm25 to squash to a higher score: low=%v high=%v", low, high)
	}
	if exactScore(0) != 0 {
		t.Fatalf("exactScore(0) = %v, want 0", exactScore(0))
	}
}

func TestRecencyScoreDecaysWithAge(t *testing.T) {
	now := time.Now()
	halfLife := 7 * 24 * time.Hour

	fresh := recencyScore(now, now, halfLife)
	old := recencyScore(now, now.Add(-halfLife), halfLife)

	if fresh <= old {
		t.Fatalf("expected fresher content to score higher: fresh=%v old=%v", fresh, old)
	}
	// exp(-1) at exactly one half-life.
	if old < 0.35 || old > 0.38 {
		t.Fatalf("recency at one half-life = %v, want ~0.3679", old)
	}
}

func TestSearchRanksExactMatchHighest(t *testing.T) {
	e, h := buildTestEngine(t)

	agent, _, _ := h.CreateAgent("agent-1")
	session, _, _ := h.CreateSession(agent, "sess-1")
	msg, _ := h.CreateMessage(session)
	block, _ := h.CreateBlock(msg)
	s1, _ := h.CreateStatement(block)
	s2, _ := h.CreateStatement(block)

	h.SetText(s1, "the quick brown fox")
	h.SetText(s2, "totally unrelated content")

	e.IndexNode(&types.Node{ID: s1, Level: types.LevelStatement, Content: "the quick brown fox"}, make(types.Embedding, types.EmbeddingDim))
	e.IndexNode(&types.Node{ID: s2, Level: types.LevelStatement, Content: "totally unrelated content"}, make(types.Embedding, types.EmbeddingDim))

	results, err := e.Search(types.SearchOptions{Query: "quick brown fox", MaxResults: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	if results[0].NodeID != s1 {
		t.Fatalf("expected exact keyword match to rank first, got node %d", results[0].NodeID)
	}
}
