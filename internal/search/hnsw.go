// Package search provides semantic and keyword search capabilities.
package search

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/anthropics/agentmemory/pkg/types"
)

const (
	defaultM              = 16
	defaultEfConstruction = 200
	defaultEfSearch       = 50
	maxLayer              = 32
)

// hnswNode is one indexed vector plus its per-layer friend lists.
type hnswNode struct {
	id      types.NodeID
	vector  []float32
	friends [][]types.NodeID // friends[layer] = neighbor ids at that layer
}

// candidate pairs a node id with its distance to the current query, used
// while building and searching a graph.
type candidate struct {
	id   types.NodeID
	dist float32
}

// graph is a single hand-rolled HNSW index, one per hierarchy level.
type graph struct {
	mu          sync.RWMutex
	m           int
	efConstruct int
	efSearch    int
	levelMult   float64
	rng         *rand.Rand

	nodes    map[types.NodeID]*hnswNode
	entry    types.NodeID
	hasEntry bool
	deleted  *bitset.BitSet
}

func newGraph(m, efConstruct, efSearch int) *graph {
	return &graph{
		m:           m,
		efConstruct: efConstruct,
		efSearch:    efSearch,
		levelMult:   1 / math.Log(float64(m)),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		nodes:       make(map[types.NodeID]*hnswNode),
		deleted:     bitset.New(0),
	}
}

func (g *graph) randomLevel() int {
	r := g.rng.Float64()
	if r <= 0 {
		r = 1e-12
	}
	level := int(-math.Log(r) * g.levelMult)
	if level > maxLayer {
		level = maxLayer
	}
	return level
}

func (g *graph) isDeleted(id types.NodeID) bool {
	return g.deleted.Test(uint(id))
}

func (g *graph) friendsAt(id types.NodeID, layer int) []types.NodeID {
	n := g.nodes[id]
	if n == nil || layer >= len(n.friends) {
		return nil
	}
	return n.friends[layer]
}

// add inserts id/vector into the graph. Returns ErrAlreadyExists if id is
// already indexed (even if tombstoned).
func (g *graph) add(id types.NodeID, vector []float32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return types.Errorf("search.graph.add", types.ErrAlreadyExists, "node %d already indexed", id)
	}

	level := g.randomLevel()
	node := &hnswNode{id: id, vector: vector, friends: make([][]types.NodeID, level+1)}
	g.nodes[id] = node

	if !g.hasEntry {
		g.entry = id
		g.hasEntry = true
		return nil
	}

	entryPoint := g.entry
	entryNode := g.nodes[entryPoint]
	curDist := cosineDistance(vector, entryNode.vector)
	curLevel := len(entryNode.friends) - 1

	for l := curLevel; l > level; l-- {
		changed := true
		for changed {
			changed = false
			for _, nb := range g.friendsAt(entryPoint, l) {
				d := cosineDistance(vector, g.nodes[nb].vector)
				if d < curDist {
					curDist = d
					entryPoint = nb
					changed = true
				}
			}
		}
	}

	top := level
	if curLevel < top {
		top = curLevel
	}
	for l := top; l >= 0; l-- {
		found := g.searchLayer(vector, entryPoint, g.efConstruct, l, id)
		neighbors := selectNeighbors(found, g.m)
		node.friends[l] = neighbors
		for _, nb := range neighbors {
			nbNode := g.nodes[nb]
			nbNode.friends[l] = append(nbNode.friends[l], id)
			if len(nbNode.friends[l]) > g.m {
				nbNode.friends[l] = pruneFriends(nbNode.vector, nbNode.friends[l], g, g.m)
			}
		}
		if len(neighbors) > 0 {
			entryPoint = neighbors[0]
		}
	}

	if level > curLevel {
		g.entry = id
	}
	return nil
}

// pruneFriends keeps the m friends closest to owner's vector, stable
// tie-broken by lower id.
func pruneFriends(ownerVector []float32, ids []types.NodeID, g *graph, m int) []types.NodeID {
	cands := make([]candidate, 0, len(ids))
	for _, id := range ids {
		n := g.nodes[id]
		if n == nil {
			continue
		}
		cands = append(cands, candidate{id: id, dist: cosineDistance(ownerVector, n.vector)})
	}
	sortCandidates(cands)
	if len(cands) > m {
		cands = cands[:m]
	}
	out := make([]types.NodeID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

func sortCandidates(c []candidate) {
	sort.Slice(c, func(i, j int) bool {
		if c[i].dist == c[j].dist {
			return c[i].id < c[j].id
		}
		return c[i].dist < c[j].dist
	})
}

// selectNeighbors returns up to m closest candidates' ids, stable
// tie-broken by lower id.
func selectNeighbors(cands []candidate, m int) []types.NodeID {
	sortCandidates(cands)
	if len(cands) > m {
		cands = cands[:m]
	}
	out := make([]types.NodeID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// searchLayer performs a bounded beam search at layer starting from entry,
// excluding exclude (used during insertion to skip the node being added)
// and any tombstoned node.
func (g *graph) searchLayer(query []float32, entry types.NodeID, ef int, layer int, exclude types.NodeID) []candidate {
	visited := map[types.NodeID]bool{entry: true}
	entryDist := cosineDistance(query, g.nodes[entry].vector)
	candidates := []candidate{{entry, entryDist}}
	var results []candidate
	if entry != exclude && !g.isDeleted(entry) {
		results = append(results, candidate{entry, entryDist})
	}

	for len(candidates) > 0 {
		sortCandidates(candidates)
		c := candidates[0]
		candidates = candidates[1:]

		if len(results) >= ef {
			sortCandidates(results)
			if c.dist > results[len(results)-1].dist {
				break
			}
		}

		for _, nbID := range g.friendsAt(c.id, layer) {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true
			nbNode := g.nodes[nbID]
			if nbNode == nil {
				continue
			}
			d := cosineDistance(query, nbNode.vector)
			candidates = append(candidates, candidate{nbID, d})
			if nbID == exclude || g.isDeleted(nbID) {
				continue
			}
			results = append(results, candidate{nbID, d})
			if len(results) > ef {
				sortCandidates(results)
				results = results[:ef]
			}
		}
	}
	sortCandidates(results)
	return results
}

// search returns the k nearest (non-tombstoned) neighbors of query.
func (g *graph) search(query []float32, k int) []candidate {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}

	entryPoint := g.entry
	entryNode := g.nodes[entryPoint]
	curDist := cosineDistance(query, entryNode.vector)
	topLevel := len(entryNode.friends) - 1

	for l := topLevel; l > 0; l-- {
		changed := true
		for changed {
			changed = false
			for _, nb := range g.friendsAt(entryPoint, l) {
				d := cosineDistance(query, g.nodes[nb].vector)
				if d < curDist {
					curDist = d
					entryPoint = nb
					changed = true
				}
			}
		}
	}

	ef := g.efSearch
	if k > ef {
		ef = k
	}
	results := g.searchLayer(query, entryPoint, ef, 0, types.InvalidNodeID)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (g *graph) remove(id types.NodeID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return types.Errorf("search.graph.remove", types.ErrNotFound, "node %d not indexed", id)
	}
	g.deleted.Set(uint(id))
	return nil
}

// contains reports whether id is indexed and not tombstoned.
func (g *graph) contains(id types.NodeID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok && !g.isDeleted(id)
}

func (g *graph) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	count := 0
	for id := range g.nodes {
		if !g.isDeleted(id) {
			count++
		}
	}
	return count
}

// cosineDistance is 1 minus cosine similarity, so identical vectors have
// distance 0 and orthogonal vectors have distance 1.
func cosineDistance(a, b []float32) float32 {
	return 1 - cosineSimilarity(a, b)
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt32(na) * sqrt32(nb))
}

func sqrt32(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// VectorIndex provides approximate nearest neighbor search using a
// hand-rolled HNSW graph per hierarchy level.
type VectorIndex struct {
	graphs map[types.HierarchyLevel]*graph
	config types.SearchConfig
	mu     sync.RWMutex
}

// NewVectorIndex creates a new HNSW-based vector index, one graph per
// hierarchy level, configured from config's HNSW parameters (falling back
// to the package defaults when unset).
func NewVectorIndex(config types.SearchConfig) *VectorIndex {
	m := config.HNSWM
	if m == 0 {
		m = defaultM
	}
	efc := config.HNSWEfConstruct
	if efc == 0 {
		efc = defaultEfConstruction
	}
	efs := config.HNSWEfSearch
	if efs == 0 {
		efs = defaultEfSearch
	}

	vi := &VectorIndex{
		graphs: make(map[types.HierarchyLevel]*graph),
		config: config,
	}
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		vi.graphs[level] = newGraph(m, efc, efs)
	}
	return vi
}

// Add adds a vector to the index at the specified level. Returns
// ErrAlreadyExists if id is already indexed at that level.
func (vi *VectorIndex) Add(level types.HierarchyLevel, id types.NodeID, embedding types.Embedding) error {
	vi.mu.RLock()
	g, ok := vi.graphs[level]
	vi.mu.RUnlock()
	if !ok {
		return types.Errorf("search.VectorIndex.Add", types.ErrInvalidLevel, "invalid level: %d", level)
	}
	return g.add(id, embedding)
}

// Remove tombstones a vector so it is excluded from future searches.
func (vi *VectorIndex) Remove(level types.HierarchyLevel, id types.NodeID) error {
	vi.mu.RLock()
	g, ok := vi.graphs[level]
	vi.mu.RUnlock()
	if !ok {
		return types.Errorf("search.VectorIndex.Remove", types.ErrInvalidLevel, "invalid level: %d", level)
	}
	return g.remove(id)
}

// Search finds the k nearest neighbors to the query vector at level.
func (vi *VectorIndex) Search(level types.HierarchyLevel, query types.Embedding, k int) ([]SearchMatch, error) {
	vi.mu.RLock()
	g, ok := vi.graphs[level]
	vi.mu.RUnlock()
	if !ok {
		return nil, types.Errorf("search.VectorIndex.Search", types.ErrInvalidLevel, "invalid level: %d", level)
	}

	cands := g.search(query, k)
	results := make([]SearchMatch, len(cands))
	for i, c := range cands {
		results[i] = SearchMatch{NodeID: c.id, Level: level, Distance: c.dist}
	}
	return results, nil
}

// SearchMultiLevel searches across multiple hierarchy levels and returns
// the k globally-closest matches.
func (vi *VectorIndex) SearchMultiLevel(query types.Embedding, topLevel, bottomLevel types.HierarchyLevel, k int) ([]SearchMatch, error) {
	vi.mu.RLock()
	defer vi.mu.RUnlock()

	var all []SearchMatch
	for level := bottomLevel; level <= topLevel; level++ {
		g, ok := vi.graphs[level]
		if !ok {
			continue
		}
		for _, c := range g.search(query, k) {
			all = append(all, SearchMatch{NodeID: c.id, Level: level, Distance: c.dist})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Distance == all[j].Distance {
			return all[i].NodeID < all[j].NodeID
		}
		return all[i].Distance < all[j].Distance
	})
	if len(all) > k {
		all = all[:k]
	}
	return all, nil
}

// Contains reports whether id is indexed and not tombstoned at level.
func (vi *VectorIndex) Contains(level types.HierarchyLevel, id types.NodeID) bool {
	vi.mu.RLock()
	g, ok := vi.graphs[level]
	vi.mu.RUnlock()
	if !ok {
		return false
	}
	return g.contains(id)
}

// SearchMatch represents a search result from the vector index.
type SearchMatch struct {
	NodeID   types.NodeID
	Level    types.HierarchyLevel
	Distance float32
}

// Size returns the number of live (non-tombstoned) vectors at level.
func (vi *VectorIndex) Size(level types.HierarchyLevel) int {
	vi.mu.RLock()
	g, ok := vi.graphs[level]
	vi.mu.RUnlock()
	if !ok {
		return 0
	}
	return g.size()
}

// TotalSize returns the total number of live vectors across all levels.
func (vi *VectorIndex) TotalSize() int {
	vi.mu.RLock()
	defer vi.mu.RUnlock()
	total := 0
	for _, g := range vi.graphs {
		total += g.size()
	}
	return total
}

// Stats returns index statistics.
func (vi *VectorIndex) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"total_vectors": vi.TotalSize(),
	}
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		stats[level.String()+"_count"] = vi.Size(level)
	}
	return stats
}

// Clear removes all vectors from all indices.
func (vi *VectorIndex) Clear() {
	vi.mu.Lock()
	defer vi.mu.Unlock()
	for level := types.LevelStatement; level <= types.LevelAgent; level++ {
		vi.graphs[level] = newGraph(vi.graphs[level].m, vi.graphs[level].efConstruct, vi.graphs[level].efSearch)
	}
}
