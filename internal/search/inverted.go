package search

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/bits-and-blooms/bitset"

	"github.com/anthropics/agentmemory/pkg/types"
)

// BM25 parameters.
const (
	BM25K1 = 1.2  // Term saturation parameter
	BM25B  = 0.75 // Length normalization parameter
)

// posting is one document's entry in a token's posting list.
type posting struct {
	termFreq uint16
	firstPos uint32
}

// InvertedIndex provides keyword-based search using an inverted index with
// BM25 scoring. The shared tokenizer does no stop-word filtering — that
// filtering is the keyword extractor's job, not the index's.
type InvertedIndex struct {
	index      map[string]map[types.NodeID]posting
	docInfo    map[types.NodeID]*docInfo
	nodeTokens map[types.NodeID][]string
	deleted    *bitset.BitSet

	docCount    int
	totalDocLen int
	mu          sync.RWMutex
}

// docInfo stores document-level information for BM25 scoring.
type docInfo struct {
	length int
}

// NewInvertedIndex creates a new inverted index.
func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{
		index:      make(map[string]map[types.NodeID]posting),
		docInfo:    make(map[types.NodeID]*docInfo),
		nodeTokens: make(map[types.NodeID][]string),
		deleted:    bitset.New(0),
	}
}

// Add indexes a node's content, replacing any prior entry for id.
func (ii *InvertedIndex) Add(id types.NodeID, content string) {
	tokens := tokenize(content)
	if len(tokens) == 0 {
		return
	}

	ii.mu.Lock()
	defer ii.mu.Unlock()

	if oldTokens, exists := ii.nodeTokens[id]; exists {
		ii.removeUnlocked(id, oldTokens)
	}
	ii.deleted.Clear(uint(id))

	termFreqs := make(map[string]uint16)
	firstPos := make(map[string]uint32)
	for i, token := range tokens {
		if termFreqs[token] == 0 {
			firstPos[token] = uint32(i)
		}
		termFreqs[token]++
	}

	ii.nodeTokens[id] = tokens
	ii.docInfo[id] = &docInfo{length: len(tokens)}
	ii.docCount++
	ii.totalDocLen += len(tokens)

	for token, freq := range termFreqs {
		if ii.index[token] == nil {
			ii.index[token] = make(map[types.NodeID]posting)
		}
		ii.index[token][id] = posting{termFreq: freq, firstPos: firstPos[token]}
	}
}

// Remove removes a node from the index, tombstoning it and subtracting it
// from the corpus length statistics.
func (ii *InvertedIndex) Remove(id types.NodeID) {
	ii.mu.Lock()
	defer ii.mu.Unlock()

	tokens, exists := ii.nodeTokens[id]
	if !exists {
		return
	}
	ii.removeUnlocked(id, tokens)
	ii.deleted.Set(uint(id))
}

func (ii *InvertedIndex) removeUnlocked(id types.NodeID, tokens []string) {
	if info, ok := ii.docInfo[id]; ok {
		ii.totalDocLen -= info.length
		ii.docCount--
		delete(ii.docInfo, id)
	}
	for _, token := range tokens {
		if postings, ok := ii.index[token]; ok {
			delete(postings, id)
			if len(postings) == 0 {
				delete(ii.index, token)
			}
		}
	}
	delete(ii.nodeTokens, id)
}

// SearchAND finds nodes containing ALL query tokens, intersecting from the
// shortest posting list first to minimize work.
func (ii *InvertedIndex) SearchAND(query string) []types.NodeID {
	tokens := dedupe(tokenize(query))
	if len(tokens) == 0 {
		return nil
	}

	ii.mu.RLock()
	defer ii.mu.RUnlock()

	postingLists := make([]map[types.NodeID]posting, 0, len(tokens))
	for _, token := range tokens {
		pl, ok := ii.index[token]
		if !ok {
			return nil
		}
		postingLists = append(postingLists, pl)
	}
	sort.Slice(postingLists, func(i, j int) bool { return len(postingLists[i]) < len(postingLists[j]) })

	result := make(map[types.NodeID]struct{}, len(postingLists[0]))
	for id := range postingLists[0] {
		result[id] = struct{}{}
	}
	for _, pl := range postingLists[1:] {
		for id := range result {
			if _, exists := pl[id]; !exists {
				delete(result, id)
			}
		}
		if len(result) == 0 {
			return nil
		}
	}

	ids := make([]types.NodeID, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	return ids
}

// SearchOR finds nodes containing ANY query token.
func (ii *InvertedIndex) SearchOR(query string) []types.NodeID {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ii.mu.RLock()
	defer ii.mu.RUnlock()

	result := make(map[types.NodeID]struct{})
	for _, token := range tokens {
		if postings, ok := ii.index[token]; ok {
			for id := range postings {
				result[id] = struct{}{}
			}
		}
	}

	ids := make([]types.NodeID, 0, len(result))
	for id := range result {
		ids = append(ids, id)
	}
	return ids
}

// SearchWithScores finds nodes and returns them with raw Okapi BM25
// scores, highest first. Scores are not normalized — callers that need a
// [0,1] score apply their own squashing (see the search engine's exact
// score fusion).
func (ii *InvertedIndex) SearchWithScores(query string, maxResults int) []KeywordMatch {
	tokens := dedupe(tokenize(query))
	if len(tokens) == 0 {
		return nil
	}

	ii.mu.RLock()
	defer ii.mu.RUnlock()

	avgDocLen := 1.0
	if ii.docCount > 0 {
		avgDocLen = float64(ii.totalDocLen) / float64(ii.docCount)
	}

	scores := make(map[types.NodeID]float32)
	for _, token := range tokens {
		postings, ok := ii.index[token]
		if !ok {
			continue
		}

		df := len(postings)
		idf := math.Log((float64(ii.docCount)-float64(df)+0.5)/(float64(df)+0.5) + 1)

		for docID, p := range postings {
			docLen := 1.0
			if info, ok := ii.docInfo[docID]; ok {
				docLen = float64(info.length)
			}

			tf := float64(p.termFreq)
			denominator := tf + BM25K1*(1-BM25B+BM25B*(docLen/avgDocLen))
			numerator := tf * (BM25K1 + 1)
			score := idf * (numerator / denominator)
			scores[docID] += float32(score)
		}
	}

	results := make([]KeywordMatch, 0, len(scores))
	for id, score := range scores {
		results = append(results, KeywordMatch{NodeID: id, Score: score})
	}
	sortByScore(results)

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// KeywordMatch represents a keyword search result.
type KeywordMatch struct {
	NodeID types.NodeID
	Score  float32
}

// sortByScore sorts matches by score (descending), stable tie-broken by
// lower node id.
func sortByScore(matches []KeywordMatch) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].NodeID < matches[j].NodeID
		}
		return matches[i].Score > matches[j].Score
	})
}

// Contains checks if any node contains all query tokens.
func (ii *InvertedIndex) Contains(query string) bool {
	return len(ii.SearchAND(query)) > 0
}

// Size returns the number of unique tokens in the index.
func (ii *InvertedIndex) Size() int {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return len(ii.index)
}

// NodeCount returns the number of indexed nodes.
func (ii *InvertedIndex) NodeCount() int {
	ii.mu.RLock()
	defer ii.mu.RUnlock()
	return len(ii.nodeTokens)
}

// Clear removes all entries from the index.
func (ii *InvertedIndex) Clear() {
	ii.mu.Lock()
	defer ii.mu.Unlock()
	ii.index = make(map[string]map[types.NodeID]posting)
	ii.docInfo = make(map[types.NodeID]*docInfo)
	ii.nodeTokens = make(map[types.NodeID][]string)
	ii.deleted = bitset.New(0)
	ii.docCount = 0
	ii.totalDocLen = 0
}

// Stats returns index statistics.
func (ii *InvertedIndex) Stats() map[string]interface{} {
	ii.mu.RLock()
	defer ii.mu.RUnlock()

	avgDocLen := 0.0
	if ii.docCount > 0 {
		avgDocLen = float64(ii.totalDocLen) / float64(ii.docCount)
	}

	return map[string]interface{}{
		"unique_tokens":  len(ii.index),
		"indexed_nodes":  len(ii.nodeTokens),
		"avg_doc_length": avgDocLen,
	}
}

// tokenize splits text into lowercase word/identifier tokens. It
// deliberately does not filter stop words; callers that want that
// filtering (the session keyword extractor) apply it themselves.
func tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		token := current.String()
		if len(token) >= 2 {
			tokens = append(tokens, token)
		}
		current.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// dedupe removes duplicate tokens while preserving order.
func dedupe(tokens []string) []string {
	seen := make(map[string]struct{})
	result := make([]string, 0, len(tokens))

	for _, token := range tokens {
		if _, exists := seen[token]; !exists {
			seen[token] = struct{}{}
			result = append(result, token)
		}
	}

	return result
}
