package core

import (
	"context"

	"github.com/anthropics/agentmemory/internal/embedding"
	"github.com/anthropics/agentmemory/pkg/types"
)

// Pooler embeds leaf statement text and propagates mean-pooled embeddings
// up the tree through the session to its agent.
type Pooler struct {
	h        *Hierarchy
	embedder embedding.Engine
}

// NewPooler returns a Pooler bound to h, using embedder for leaf
// embedding generation.
func NewPooler(h *Hierarchy, embedder embedding.Engine) *Pooler {
	return &Pooler{h: h, embedder: embedder}
}

// EmbedMessage embeds each leaf statement under a freshly-created message
// node, in batches of types.BatchSize, then propagates the mean-pooled
// embedding up through block, message, session and agent.
func (p *Pooler) EmbedMessage(ctx context.Context, messageID types.NodeID, leafIDs []types.NodeID, leafTexts []string) error {
	if len(leafIDs) != len(leafTexts) {
		return types.Errorf("core.Pooler.EmbedMessage", types.ErrInvalidArg, "leafIDs and leafTexts length mismatch")
	}

	for start := 0; start < len(leafIDs); start += types.BatchSize {
		end := start + types.BatchSize
		if end > len(leafIDs) {
			end = len(leafIDs)
		}
		batchIDs := leafIDs[start:end]
		batchTexts := leafTexts[start:end]

		vectors, err := p.embedder.EmbedBatch(batchTexts)
		if err != nil {
			return types.WrapError("core.Pooler.EmbedMessage", types.ErrEmbeddingFailed, err)
		}
		if len(vectors) != len(batchIDs) {
			return types.Errorf("core.Pooler.EmbedMessage", types.ErrEmbeddingFailed, "embedder returned %d vectors for %d inputs", len(vectors), len(batchIDs))
		}
		for i, id := range batchIDs {
			if err := p.h.SetEmbedding(id, Normalize([]float32(vectors[i]))); err != nil {
				return err
			}
		}
	}

	node, err := p.h.GetNode(messageID)
	if err != nil {
		return err
	}
	return p.PropagateSession(node.SessionID)
}

// PropagateSession recomputes every internal node's embedding under the
// named session, via post-order DFS: a node's embedding is the
// L2-normalized mean of its children's embeddings, so leaves (already set
// by EmbedMessage) are pooled up through block, message and session.
func (p *Pooler) PropagateSession(sessionID string) error {
	var sessionNode types.NodeID
	found := false
	p.h.IterSessions(func(id types.NodeID, agentID, sid string) bool {
		if sid == sessionID {
			sessionNode = id
			found = true
			return false
		}
		return true
	})
	if !found {
		return types.Errorf("core.Pooler.PropagateSession", types.ErrNotFound, "session %q not found", sessionID)
	}

	if err := p.poolSubtree(sessionNode); err != nil {
		return err
	}

	parent, err := p.h.relations.Parent(sessionNode)
	if err != nil {
		return err
	}
	if parent.Valid() {
		return p.poolNode(parent)
	}
	return nil
}

// poolSubtree recomputes id's embedding, post-order, from its descendants.
// Leaf statements are assumed to already carry embeddings set by
// EmbedMessage and are left untouched.
func (p *Pooler) poolSubtree(id types.NodeID) error {
	children, err := p.h.GetChildren(id)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}
	for _, c := range children {
		if err := p.poolSubtree(c.ID); err != nil {
			return err
		}
	}
	return p.poolNode(id)
}

// poolNode recomputes id's embedding as the mean of the children that
// possess a vector, L2-normalized. Embedding slots are zero-initialized at
// alloc and filled only by an explicit Set, so an all-zero vector means
// "not yet embedded" and is excluded rather than folded into the mean. A
// node with no embedded children is left unchanged.
func (p *Pooler) poolNode(id types.NodeID) error {
	children, err := p.h.GetChildren(id)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return nil
	}

	var sum []float32
	embedded := 0
	for _, c := range children {
		vec, err := p.h.GetEmbedding(c.ID)
		if err != nil {
			return err
		}
		if !hasVector(vec) {
			continue
		}
		if sum == nil {
			sum = make([]float32, len(vec))
		}
		for i, v := range vec {
			sum[i] += v
		}
		embedded++
	}
	if embedded == 0 {
		return nil
	}
	n := float32(embedded)
	for i := range sum {
		sum[i] /= n
	}
	return p.h.SetEmbedding(id, Normalize(sum))
}

// hasVector reports whether vec carries an actual embedding rather than a
// zero-initialized placeholder.
func hasVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return true
		}
	}
	return false
}
