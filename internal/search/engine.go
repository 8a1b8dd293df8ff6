package search

import (
	"sort"
	"time"

	"github.com/chewxy/math32"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/internal/embedding"
	"github.com/anthropics/agentmemory/pkg/types"
)

// Engine provides unified search combining semantic and keyword search,
// fusing both into a single relevance score, then blending in recency and
// hierarchy-level boosts.
type Engine struct {
	hierarchy     *core.Hierarchy
	vectorIndex   *VectorIndex
	invertedIndex *InvertedIndex
	embedder      embedding.Engine
	config        types.SearchConfig
}

// NewEngine creates a new search engine bound to hierarchy, rebuilding its
// indices from the hierarchy's current contents.
func NewEngine(hierarchy *core.Hierarchy, embedder embedding.Engine, config types.SearchConfig) (*Engine, error) {
	e := &Engine{
		hierarchy:     hierarchy,
		vectorIndex:   NewVectorIndex(config),
		invertedIndex: NewInvertedIndex(),
		embedder:      embedder,
		config:        config,
	}

	if err := e.rebuildIndices(); err != nil {
		return nil, err
	}
	return e, nil
}

// rebuildIndices reconstructs search indices from the hierarchy.
func (e *Engine) rebuildIndices() error {
	var rebuildErr error
	e.hierarchy.IterSessions(func(sessionID types.NodeID, agentID, sid string) bool {
		nodes, err := e.hierarchy.GetSubtree(sessionID)
		if err != nil {
			rebuildErr = err
			return false
		}
		for _, node := range nodes {
			if node.Content != "" {
				e.invertedIndex.Add(node.ID, node.Content)
			}
			emb, err := e.hierarchy.GetEmbedding(node.ID)
			if err == nil && len(emb) > 0 {
				_ = e.vectorIndex.Add(node.Level, node.ID, emb)
			}
		}
		return true
	})
	return rebuildErr
}

// IndexNode adds a node to all search indices.
func (e *Engine) IndexNode(node *types.Node, emb types.Embedding) error {
	e.invertedIndex.Add(node.ID, node.Content)
	if len(emb) > 0 {
		if err := e.vectorIndex.Add(node.Level, node.ID, emb); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode removes a node from all search indices.
func (e *Engine) RemoveNode(id types.NodeID, level types.HierarchyLevel) error {
	e.invertedIndex.Remove(id)
	return e.vectorIndex.Remove(level, id)
}

// Search performs a hybrid search combining semantic and keyword matching.
func (e *Engine) Search(opts types.SearchOptions) ([]types.SearchResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = e.config.DefaultMaxResults
	}
	if opts.TopLevel == 0 && opts.BottomLevel == 0 {
		opts.TopLevel = types.LevelSession
		opts.BottomLevel = types.LevelStatement
	}

	queryEmb, err := e.embedder.Embed(opts.Query)
	if err != nil {
		return nil, types.WrapError("search.Search", types.ErrEmbeddingFailed, err)
	}

	candidateCount := e.config.MaxCandidates
	if candidateCount <= 0 {
		candidateCount = opts.MaxResults * 2
	}

	semanticMatches, err := e.vectorIndex.SearchMultiLevel(
		queryEmb,
		opts.TopLevel,
		opts.BottomLevel,
		candidateCount,
	)
	if err != nil {
		return nil, err
	}

	keywordMatches := e.invertedIndex.SearchWithScores(opts.Query, candidateCount)

	results := e.combineResults(semanticMatches, keywordMatches, opts)

	sort.Slice(results, func(i, j int) bool {
		return results[i].CombinedScore > results[j].CombinedScore
	})

	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}

	if opts.MaxTokens > 0 {
		results = e.applyTokenBudget(results, opts.MaxTokens)
	}

	return results, nil
}

// SearchWithResponse performs search and returns full response with metadata.
func (e *Engine) SearchWithResponse(opts types.SearchOptions) (*types.SearchResponse, error) {
	allResults, err := e.Search(types.SearchOptions{
		Query:       opts.Query,
		TopLevel:    opts.TopLevel,
		BottomLevel: opts.BottomLevel,
		MaxResults:  opts.MaxResults * 2,
		SessionID:   opts.SessionID,
		AgentID:     opts.AgentID,
		AfterTime:   opts.AfterTime,
		BeforeTime:  opts.BeforeTime,
		MaxTokens:   0,
	})
	if err != nil {
		return nil, err
	}

	totalResults := len(allResults)
	truncated := false
	tokensUsed := 0

	if len(allResults) > opts.MaxResults {
		allResults = allResults[:opts.MaxResults]
		truncated = true
	}

	if opts.MaxTokens > 0 {
		before := len(allResults)
		allResults = e.applyTokenBudget(allResults, opts.MaxTokens)
		for _, r := range allResults {
			tokensUsed += r.TokenCount
		}
		if len(allResults) < before {
			truncated = true
		}
	}

	return &types.SearchResponse{
		Results:      allResults,
		TotalResults: totalResults,
		Truncated:    truncated,
		TokensUsed:   tokensUsed,
	}, nil
}

// applyTokenBudget walks results in rank order, accumulating each result's
// per-level token cost, and stops at the first result that would push the
// running total over budget — it does not slice to a character estimate.
func (e *Engine) applyTokenBudget(results []types.SearchResult, maxTokens int) []types.SearchResult {
	tokenCount := 0
	for i := range results {
		cost := types.TokenCost[results[i].Level]
		if tokenCount+cost > maxTokens {
			return results[:i]
		}
		results[i].TokenCount = cost
		tokenCount += cost
	}
	return results
}

// exactScore squashes a raw BM25 score into [0,1] via logistic-style
// normalization bm25/(bm25+1), clamped for safety against negative scores.
func exactScore(bm25 float32) float32 {
	if bm25 <= 0 {
		return 0
	}
	s := bm25 / (bm25 + 1)
	if s > 1 {
		s = 1
	}
	return s
}

// recencyScore computes exp(-(now-createdAt)/halfLife).
func recencyScore(now, createdAt time.Time, halfLife time.Duration) float32 {
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	age := now.Sub(createdAt).Seconds()
	tau := halfLife.Seconds()
	return math32.Exp(float32(-age / tau))
}

// combineResults merges semantic and keyword candidate sets, applying the
// filters in opts, and computes each surviving result's full score
// breakdown.
func (e *Engine) combineResults(
	semantic []SearchMatch,
	keyword []KeywordMatch,
	opts types.SearchOptions,
) []types.SearchResult {
	semanticScores := make(map[types.NodeID]float32)
	for _, m := range semantic {
		sim := 1 - m.Distance
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		semanticScores[m.NodeID] = sim
	}

	exactScores := make(map[types.NodeID]float32)
	for _, m := range keyword {
		exactScores[m.NodeID] = exactScore(m.Score)
	}

	allNodes := make(map[types.NodeID]struct{}, len(semanticScores)+len(exactScores))
	for id := range semanticScores {
		allNodes[id] = struct{}{}
	}
	for id := range exactScores {
		allNodes[id] = struct{}{}
	}

	now := time.Now()
	results := make([]types.SearchResult, 0, len(allNodes))

	for id := range allNodes {
		node, err := e.hierarchy.GetNode(id)
		if err != nil {
			continue
		}
		if opts.SessionID != "" && node.SessionID != opts.SessionID {
			continue
		}
		if opts.AgentID != "" && node.AgentID != opts.AgentID {
			continue
		}
		if node.Level < opts.BottomLevel || node.Level > opts.TopLevel {
			continue
		}
		nodeTime := node.CreatedAt.UnixNano()
		if opts.AfterTime > 0 && nodeTime < opts.AfterTime {
			continue
		}
		if opts.BeforeTime > 0 && nodeTime > opts.BeforeTime {
			continue
		}

		semScore := semanticScores[id]
		exScore := exactScores[id]

		relevance := e.config.SemanticWeight*semScore + e.config.ExactWeight*exScore
		recency := recencyScore(now, node.CreatedAt, e.config.RecencyHalfLife)
		levelBoost := types.LevelBoost[node.Level]

		combined := e.config.RelevanceWeight*relevance +
			e.config.RecencyWeight*recency +
			e.config.LevelBoostWeight*levelBoost

		results = append(results, types.SearchResult{
			NodeID:         id,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			SemanticScore:  semScore,
			ExactScore:     exScore,
			RelevanceScore: relevance,
			RecencyScore:   recency,
			LevelBoost:     levelBoost,
			CombinedScore:  combined,
		})
	}

	return results
}

// SemanticSearch performs pure semantic search at a single level.
func (e *Engine) SemanticSearch(query string, level types.HierarchyLevel, k int) ([]types.SearchResult, error) {
	queryEmb, err := e.embedder.Embed(query)
	if err != nil {
		return nil, types.WrapError("search.SemanticSearch", types.ErrEmbeddingFailed, err)
	}

	matches, err := e.vectorIndex.Search(level, queryEmb, k)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(matches))
	for _, m := range matches {
		node, err := e.hierarchy.GetNode(m.NodeID)
		if err != nil {
			continue
		}
		sim := 1 - m.Distance
		if sim < 0 {
			sim = 0
		}
		results = append(results, types.SearchResult{
			NodeID:         m.NodeID,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			SemanticScore:  sim,
			RelevanceScore: sim,
			CombinedScore:  sim,
		})
	}
	return results, nil
}

// KeywordSearch performs pure keyword search.
func (e *Engine) KeywordSearch(query string, maxResults int) ([]types.SearchResult, error) {
	matches := e.invertedIndex.SearchWithScores(query, maxResults)

	results := make([]types.SearchResult, 0, len(matches))
	for _, m := range matches {
		node, err := e.hierarchy.GetNode(m.NodeID)
		if err != nil {
			continue
		}
		ex := exactScore(m.Score)
		results = append(results, types.SearchResult{
			NodeID:         m.NodeID,
			Level:          node.Level,
			Content:        node.Content,
			AgentID:        node.AgentID,
			SessionID:      node.SessionID,
			CreatedAt:      node.CreatedAt,
			ExactScore:     ex,
			RelevanceScore: ex,
			CombinedScore:  ex,
		})
	}
	return results, nil
}

// Stats returns search engine statistics.
func (e *Engine) Stats() map[string]interface{} {
	return map[string]interface{}{
		"vector_index":   e.vectorIndex.Stats(),
		"inverted_index": e.invertedIndex.Stats(),
	}
}

// Clear removes all entries from all indices.
func (e *Engine) Clear() {
	e.vectorIndex.Clear()
	e.invertedIndex.Clear()
}
