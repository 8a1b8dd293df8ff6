// Package core implements the hierarchical memory tree: the Relations and
// Embeddings column stores (C3/C4), the Hierarchy that binds them (C5), and
// the embedding Pooler (C6).
package core

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"

	"github.com/anthropics/agentmemory/internal/wal"
	"github.com/anthropics/agentmemory/pkg/types"
)

// CreateStatus reports whether an idempotent create found an existing node
// or made a new one.
type CreateStatus uint8

const (
	Created CreateStatus = iota
	Exists
)

const metadataMagic uint32 = 0x4D454D4F // "MEMO"
const metadataVersion uint32 = 2
const metadataHeaderSize = 12
const metaIDFieldLen = 64
const metaRoleFieldLen = 16
const metaRecordSize = 8 /*created_at_ns*/ + 4 /*embedding_idx*/ + metaIDFieldLen /*agent_id*/ + metaIDFieldLen /*session_id*/ + metaRoleFieldLen /*role*/

type nodeMeta struct {
	CreatedAt    time.Time
	EmbeddingIdx uint32
	AgentID      string
	SessionID    string
	Role         string
}

// Hierarchy owns one Relations and one Embeddings store, plus node metadata
// and text content side tables.
type Hierarchy struct {
	mu         sync.RWMutex
	relations  *Relations
	embeddings *Embeddings
	meta       map[types.NodeID]*nodeMeta
	text       map[types.NodeID][]byte
	wal        *wal.Log // nil when heap-only

	dataDir string // empty when heap-only (no metadata.dat persistence)

	agentIndex   map[string]types.NodeID
	sessionIndex map[string]types.NodeID // keyed by agentID + "\x00" + sessionID
}

// NewHeap creates an entirely heap-backed Hierarchy, used for tests and
// ephemeral deployments.
func NewHeap(capacity uint32) (*Hierarchy, error) {
	rel, err := NewRelationsHeap(capacity)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbeddingsHeap(types.EmbeddingDim, capacity)
	if err != nil {
		return nil, err
	}
	return newHierarchy(rel, emb, ""), nil
}

// Open opens (creating if absent) a file-backed Hierarchy rooted at dir,
// per the file layout in SPEC_FULL.md §6. syncWrites controls whether the
// write-ahead log fdatasyncs after every append.
func Open(dir string, capacity uint32, syncWrites bool) (*Hierarchy, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}
	rel, err := OpenRelationsMapped(dir, capacity)
	if err != nil {
		return nil, err
	}
	emb, err := OpenEmbeddingsMapped(dir, types.EmbeddingDim, capacity)
	if err != nil {
		return nil, err
	}
	h := newHierarchy(rel, emb, dir)
	if err := h.loadMetadata(); err != nil {
		return nil, err
	}

	walDir := filepath.Join(dir, "wal")
	if err := ensureDir(walDir); err != nil {
		return nil, err
	}
	log, err := wal.Open(filepath.Join(walDir, "operations.log"), syncWrites)
	if err != nil {
		return nil, err
	}
	h.wal = log

	// Relations, embeddings and node_meta are durable columnar/snapshot
	// stores; text_content has no such snapshot (SPEC_FULL.md §4.5), so the
	// WAL is its sole record and is replayed in full on every open.
	if err := log.Replay(0, func(rec wal.Record) error {
		h.applyTextRecord(rec)
		return nil
	}); err != nil {
		return nil, err
	}
	return h, nil
}

// applyTextRecord reconstructs text_content from a replayed WAL record,
// ignoring op types other than OpNodeUpdate. Payload layout: 4-byte
// NodeID, followed by the raw content bytes.
func (h *Hierarchy) applyTextRecord(rec wal.Record) {
	if rec.Op != wal.OpNodeUpdate || len(rec.Payload) < 4 {
		return
	}
	id := types.NodeID(binary.LittleEndian.Uint32(rec.Payload[0:4]))
	h.text[id] = append([]byte(nil), rec.Payload[4:]...)
}

func newHierarchy(rel *Relations, emb *Embeddings, dataDir string) *Hierarchy {
	return &Hierarchy{
		relations:    rel,
		embeddings:   emb,
		meta:         make(map[types.NodeID]*nodeMeta),
		text:         make(map[types.NodeID][]byte),
		dataDir:      dataDir,
		agentIndex:   make(map[string]types.NodeID),
		sessionIndex: make(map[string]types.NodeID),
	}
}

func sessionKey(agentID, sessionID string) string {
	return agentID + "\x00" + sessionID
}

// CreateAgent idempotently creates (or returns) the top-level node for
// agentID.
func (h *Hierarchy) CreateAgent(agentID string) (types.NodeID, CreateStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id, ok := h.agentIndex[agentID]; ok {
		return id, Exists, nil
	}

	id, err := h.relations.AllocNode()
	if err != nil {
		return 0, Created, err
	}
	if err := h.relations.SetLevel(id, types.LevelAgent); err != nil {
		return 0, Created, err
	}
	idx, err := h.embeddings.Alloc(types.LevelAgent)
	if err != nil {
		return 0, Created, err
	}
	h.meta[id] = &nodeMeta{CreatedAt: time.Now(), EmbeddingIdx: idx, AgentID: agentID}
	h.agentIndex[agentID] = id
	return id, Created, nil
}

// CreateSession idempotently creates (or returns) the session-level node
// under agentNode.
func (h *Hierarchy) CreateSession(agentNode types.NodeID, sessionID string) (types.NodeID, CreateStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	agentMeta, ok := h.meta[agentNode]
	if !ok {
		return 0, Created, types.Errorf("core.Hierarchy.CreateSession", types.ErrNotFound, "agent node %d not found", agentNode)
	}
	key := sessionKey(agentMeta.AgentID, sessionID)
	if id, ok := h.sessionIndex[key]; ok {
		return id, Exists, nil
	}

	id, err := h.createChildLocked(agentNode, types.LevelSession)
	if err != nil {
		return 0, Created, err
	}
	h.meta[id].AgentID = agentMeta.AgentID
	h.meta[id].SessionID = sessionID
	h.sessionIndex[key] = id
	return id, Created, nil
}

// CreateChild creates a new node at level under parent, failing with
// ErrInvalidLevel unless level < level(parent).
func (h *Hierarchy) CreateChild(parent types.NodeID, level types.HierarchyLevel) (types.NodeID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.createChildLocked(parent, level)
}

func (h *Hierarchy) createChildLocked(parent types.NodeID, level types.HierarchyLevel) (types.NodeID, error) {
	parentLevel, err := h.relations.Level(parent)
	if err != nil {
		return 0, err
	}
	if level >= parentLevel {
		return 0, types.Errorf("core.Hierarchy.createChild", types.ErrInvalidLevel, "child level %s must be below parent level %s", level, parentLevel)
	}

	id, err := h.relations.AllocNode()
	if err != nil {
		return 0, err
	}
	if err := h.relations.SetLevel(id, level); err != nil {
		return 0, err
	}
	if err := h.relations.SetParent(id, parent); err != nil {
		return 0, err
	}
	if err := h.relations.LinkChild(parent, id); err != nil {
		return 0, err
	}
	idx, err := h.embeddings.Alloc(level)
	if err != nil {
		return 0, err
	}

	parentMeta := h.meta[parent]
	m := &nodeMeta{CreatedAt: time.Now(), EmbeddingIdx: idx}
	if parentMeta != nil {
		m.AgentID = parentMeta.AgentID
		m.SessionID = parentMeta.SessionID
	}
	h.meta[id] = m
	return id, nil
}

// CreateMessage, CreateBlock, CreateStatement are typed helpers that
// enforce the level of parent exactly.
func (h *Hierarchy) CreateMessage(sessionNode types.NodeID) (types.NodeID, error) {
	return h.typedChild(sessionNode, types.LevelSession, types.LevelMessage)
}

func (h *Hierarchy) CreateBlock(messageNode types.NodeID) (types.NodeID, error) {
	return h.typedChild(messageNode, types.LevelMessage, types.LevelBlock)
}

func (h *Hierarchy) CreateStatement(blockNode types.NodeID) (types.NodeID, error) {
	return h.typedChild(blockNode, types.LevelBlock, types.LevelStatement)
}

func (h *Hierarchy) typedChild(parent types.NodeID, wantParentLevel, childLevel types.HierarchyLevel) (types.NodeID, error) {
	h.mu.RLock()
	actual, err := h.relations.Level(parent)
	h.mu.RUnlock()
	if err != nil {
		return 0, err
	}
	if actual != wantParentLevel {
		return 0, types.Errorf("core.Hierarchy.typedChild", types.ErrInvalidLevel, "parent must be level %s, got %s", wantParentLevel, actual)
	}
	return h.CreateChild(parent, childLevel)
}

// GetNode assembles a full Node record for id.
func (h *Hierarchy) GetNode(id types.NodeID) (*types.Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.getNodeLocked(id)
}

func (h *Hierarchy) getNodeLocked(id types.NodeID) (*types.Node, error) {
	level, err := h.relations.Level(id)
	if err != nil {
		return nil, err
	}
	parent, err := h.relations.Parent(id)
	if err != nil {
		return nil, err
	}
	firstChild, err := h.relations.FirstChild(id)
	if err != nil {
		return nil, err
	}
	nextSibling, err := h.relations.NextSibling(id)
	if err != nil {
		return nil, err
	}
	m := h.meta[id]
	n := &types.Node{
		ID:            id,
		Level:         level,
		ParentID:      parent,
		FirstChildID:  firstChild,
		NextSiblingID: nextSibling,
		Content:       string(h.text[id]),
	}
	if m != nil {
		n.CreatedAt = m.CreatedAt
		n.EmbeddingIndex = m.EmbeddingIdx
		n.AgentID = m.AgentID
		n.SessionID = m.SessionID
		n.Role = m.Role
	}
	return n, nil
}

// SetText copies bytes into id's owned text buffer and, if this Hierarchy
// is file-backed, durably records the write in the WAL before returning.
func (h *Hierarchy) SetText(id types.NodeID, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.relations.Level(id); err != nil {
		return err
	}
	if h.wal != nil {
		payload := make([]byte, 4+len(content))
		binary.LittleEndian.PutUint32(payload[0:4], uint32(id))
		copy(payload[4:], content)
		if _, err := h.wal.Append(wal.OpNodeUpdate, payload); err != nil {
			return err
		}
	}
	h.text[id] = []byte(content)
	return nil
}

// GetText returns id's stored text content.
func (h *Hierarchy) GetText(id types.NodeID) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return string(h.text[id]), nil
}

// SetRole records the message role (user, assistant, tool) on id.
func (h *Hierarchy) SetRole(id types.NodeID, role string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.meta[id]
	if m == nil {
		return types.Errorf("core.Hierarchy.SetRole", types.ErrNotFound, "no metadata for node %d", id)
	}
	m.Role = role
	return nil
}

// SetEmbedding stores vector as id's embedding, looking up its level and
// embedding_idx.
func (h *Hierarchy) SetEmbedding(id types.NodeID, vector []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	level, err := h.relations.Level(id)
	if err != nil {
		return err
	}
	m := h.meta[id]
	if m == nil {
		return types.Errorf("core.Hierarchy.SetEmbedding", types.ErrNotFound, "no metadata for node %d", id)
	}
	return h.embeddings.Set(level, m.EmbeddingIdx, vector)
}

// GetEmbedding returns id's current embedding vector.
func (h *Hierarchy) GetEmbedding(id types.NodeID) ([]float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	level, err := h.relations.Level(id)
	if err != nil {
		return nil, err
	}
	m := h.meta[id]
	if m == nil {
		return nil, types.Errorf("core.Hierarchy.GetEmbedding", types.ErrNotFound, "no metadata for node %d", id)
	}
	return h.embeddings.Get(level, m.EmbeddingIdx)
}

// Similarity returns the cosine similarity of a and b, or 0 if their levels
// differ.
func (h *Hierarchy) Similarity(a, b types.NodeID) (float32, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	la, err := h.relations.Level(a)
	if err != nil {
		return 0, err
	}
	lb, err := h.relations.Level(b)
	if err != nil {
		return 0, err
	}
	if la != lb {
		return 0, nil
	}
	ma, mb := h.meta[a], h.meta[b]
	if ma == nil || mb == nil {
		return 0, types.Errorf("core.Hierarchy.Similarity", types.ErrNotFound, "missing metadata")
	}
	return h.embeddings.Cosine(la, ma.EmbeddingIdx, mb.EmbeddingIdx)
}

// IterSessions visits each session-level node, streaming (id, agentID,
// sessionID). The callback may return false to stop early.
func (h *Hierarchy) IterSessions(cb func(id types.NodeID, agentID, sessionID string) bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for key, id := range h.sessionIndex {
		m := h.meta[id]
		if m == nil {
			continue
		}
		_ = key
		if !cb(id, m.AgentID, m.SessionID) {
			return
		}
	}
}

// GetChildren returns all children of parentID.
func (h *Hierarchy) GetChildren(parentID types.NodeID) ([]*types.Node, error) {
	h.mu.RLock()
	ids, err := h.relations.Children(parentID)
	h.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return h.collectNodes(ids)
}

// GetParent returns the parent of id, or ErrNotFound if id is a root.
func (h *Hierarchy) GetParent(id types.NodeID) (*types.Node, error) {
	h.mu.RLock()
	parent, err := h.relations.Parent(id)
	h.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !parent.Valid() {
		return nil, types.ErrNotFound
	}
	return h.GetNode(parent)
}

// GetAncestors returns id's ancestor chain, root-first.
func (h *Hierarchy) GetAncestors(id types.NodeID) ([]*types.Node, error) {
	h.mu.RLock()
	ids, err := h.relations.Ancestors(id)
	h.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	// Ancestors() returns nearest-first; reverse for root-first order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return h.collectNodes(ids)
}

// GetSiblings returns id's siblings, including id itself.
func (h *Hierarchy) GetSiblings(id types.NodeID) ([]*types.Node, error) {
	h.mu.RLock()
	ids, err := h.relations.Siblings(id)
	h.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return h.collectNodes(ids)
}

// GetDescendants returns all descendants of id, pre-order.
func (h *Hierarchy) GetDescendants(id types.NodeID) ([]*types.Node, error) {
	h.mu.RLock()
	ids, err := h.relations.Descendants(id)
	h.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return h.collectNodes(ids)
}

// GetSubtree returns rootID and all its descendants.
func (h *Hierarchy) GetSubtree(rootID types.NodeID) ([]*types.Node, error) {
	root, err := h.GetNode(rootID)
	if err != nil {
		return nil, err
	}
	rest, err := h.GetDescendants(rootID)
	if err != nil {
		return nil, err
	}
	return append([]*types.Node{root}, rest...), nil
}

// CountDescendants returns the size of id's subtree, excluding id.
func (h *Hierarchy) CountDescendants(id types.NodeID) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.relations.CountDescendants(id)
}

func (h *Hierarchy) collectNodes(ids []types.NodeID) ([]*types.Node, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*types.Node, 0, len(ids))
	for _, id := range ids {
		n, err := h.getNodeLocked(id)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Stats returns hierarchy-wide counters.
func (h *Hierarchy) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"node_count":    h.relations.Count(),
		"agent_count":   len(h.agentIndex),
		"session_count": len(h.sessionIndex),
	}
}

// Sync recursively syncs relations and embeddings, rewrites the metadata
// file, and fdatasyncs the write-ahead log.
func (h *Hierarchy) Sync() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.relations.Sync(); err != nil {
		return err
	}
	if err := h.embeddings.Sync(); err != nil {
		return err
	}
	if h.wal != nil {
		if err := h.wal.Sync(); err != nil {
			return err
		}
	}
	return h.writeMetadata()
}

// Close syncs and releases all underlying resources, including the WAL.
func (h *Hierarchy) Close() error {
	if err := h.Sync(); err != nil {
		return err
	}
	if h.wal != nil {
		if err := h.wal.Close(); err != nil {
			return err
		}
	}
	if err := h.relations.Close(); err != nil {
		return err
	}
	return h.embeddings.Close()
}

func (h *Hierarchy) metadataPath() string {
	return filepath.Join(h.dataDir, "metadata.dat")
}

// DataDir returns the directory backing this Hierarchy's durable files, or
// "" for a heap-only instance. Sibling stores (the session registry) use it
// to place their own files alongside metadata.dat.
func (h *Hierarchy) DataDir() string {
	return h.dataDir
}

// writeMetadata rewrites metadata.dat whole, via renameio for an atomic
// rename-into-place that cannot leave a torn file on crash.
func (h *Hierarchy) writeMetadata() error {
	if h.dataDir == "" {
		return nil
	}
	count := h.relations.Count()
	buf := make([]byte, metadataHeaderSize+int(count)*metaRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], metadataMagic)
	binary.LittleEndian.PutUint32(buf[4:8], metadataVersion)
	binary.LittleEndian.PutUint32(buf[8:12], count)

	for id := uint32(0); id < count; id++ {
		off := metadataHeaderSize + int(id)*metaRecordSize
		rec := buf[off : off+metaRecordSize]
		m := h.meta[types.NodeID(id)]
		if m == nil {
			continue
		}
		binary.LittleEndian.PutUint64(rec[0:8], uint64(m.CreatedAt.UnixNano()))
		binary.LittleEndian.PutUint32(rec[8:12], m.EmbeddingIdx)
		putFixedString(rec[12:12+metaIDFieldLen], m.AgentID)
		putFixedString(rec[12+metaIDFieldLen:12+2*metaIDFieldLen], m.SessionID)
		roleOff := 12 + 2*metaIDFieldLen
		putFixedString(rec[roleOff:roleOff+metaRoleFieldLen], m.Role)
	}

	return renameio.WriteFile(h.metadataPath(), buf, 0644)
}

func (h *Hierarchy) loadMetadata() error {
	data, err := os.ReadFile(h.metadataPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.WrapError("core.Hierarchy.loadMetadata", types.ErrStorageIO, err)
	}
	if len(data) < metadataHeaderSize {
		return types.Errorf("core.Hierarchy.loadMetadata", types.ErrStorageCorrupt, "metadata file too short")
	}
	if m := binary.LittleEndian.Uint32(data[0:4]); m != metadataMagic {
		return types.Errorf("core.Hierarchy.loadMetadata", types.ErrStorageCorrupt, "bad magic %#x", m)
	}
	count := binary.LittleEndian.Uint32(data[8:12])

	for id := uint32(0); id < count; id++ {
		off := metadataHeaderSize + int(id)*metaRecordSize
		if off+metaRecordSize > len(data) {
			break
		}
		rec := data[off : off+metaRecordSize]
		roleOff := 12 + 2*metaIDFieldLen
		m := &nodeMeta{
			CreatedAt:    time.Unix(0, int64(binary.LittleEndian.Uint64(rec[0:8]))),
			EmbeddingIdx: binary.LittleEndian.Uint32(rec[8:12]),
			AgentID:      getFixedString(rec[12 : 12+metaIDFieldLen]),
			SessionID:    getFixedString(rec[12+metaIDFieldLen : 12+2*metaIDFieldLen]),
			Role:         getFixedString(rec[roleOff : roleOff+metaRoleFieldLen]),
		}
		nodeID := types.NodeID(id)
		h.meta[nodeID] = m

		level, err := h.relations.Level(nodeID)
		if err != nil {
			continue
		}
		switch level {
		case types.LevelAgent:
			h.agentIndex[m.AgentID] = nodeID
		case types.LevelSession:
			h.sessionIndex[sessionKey(m.AgentID, m.SessionID)] = nodeID
		}
	}
	return nil
}

func putFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	n := copy(dst, s)
	_ = n
}

func getFixedString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
