// Package session implements the session registry and keyword extractor:
// a mapping from session_id to accumulated SessionMetadata, plus the text
// pipelines that keep that metadata populated.
package session

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio"

	"github.com/anthropics/agentmemory/internal/core"
	"github.com/anthropics/agentmemory/pkg/types"
)

const sessionsMagic uint32 = 0x53455353 // "SESS"
const sessionsVersion uint32 = 1
const sessionsHeaderSize = 12

// Manager is the session registry: session_id -> SessionMetadata, backed by
// agent/session nodes in the hierarchy, plus a global monotonic sequence
// counter used externally to tag mutations. Accumulated metadata (keywords,
// identifiers, files touched, title, counters) is durable: it round-trips
// through sessions.dat, a string-pool file sibling to the hierarchy's
// metadata.dat.
type Manager struct {
	mu         sync.RWMutex
	hierarchy  *core.Hierarchy
	extractor  *Extractor
	sessions   map[string]*types.Session
	agentNodes map[string]types.NodeID
	sequence   uint64
	dataDir    string // empty when heap-only (no sessions.dat persistence)
}

// NewManager creates a session registry bound to hierarchy, rebuilding its
// session cache from whatever sessions the hierarchy already knows about and
// then overlaying any accumulated metadata persisted in sessions.dat.
func NewManager(hierarchy *core.Hierarchy) (*Manager, error) {
	m := &Manager{
		hierarchy:  hierarchy,
		extractor:  NewExtractor(),
		sessions:   make(map[string]*types.Session),
		agentNodes: make(map[string]types.NodeID),
		dataDir:    hierarchy.DataDir(),
	}

	hierarchy.IterSessions(func(id types.NodeID, agentID, sessionID string) bool {
		node, err := hierarchy.GetNode(id)
		if err != nil {
			return true
		}
		m.sessions[sessionID] = &types.Session{
			ID:           sessionID,
			AgentID:      agentID,
			RootNodeID:   id,
			CreatedAt:    node.CreatedAt,
			LastActiveAt: node.CreatedAt,
			Keywords:     []types.Keyword{},
			Identifiers:  []types.Identifier{},
			FilesTouched: []string{},
		}
		return true
	})

	if err := m.loadSessions(); err != nil {
		return nil, err
	}

	return m, nil
}

// Register creates a new session under agentID, failing with
// ErrAlreadyExists if sessionID has already been registered.
func (m *Manager) Register(sessionID, agentID string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, types.Errorf("session.Manager.Register", types.ErrAlreadyExists, "session %q already registered", sessionID)
	}

	agentNode, ok := m.agentNodes[agentID]
	if !ok {
		id, _, err := m.hierarchy.CreateAgent(agentID)
		if err != nil {
			return nil, err
		}
		agentNode = id
		m.agentNodes[agentID] = id
	}

	sessionNode, _, err := m.hierarchy.CreateSession(agentNode, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &types.Session{
		ID:           sessionID,
		AgentID:      agentID,
		RootNodeID:   sessionNode,
		CreatedAt:    now,
		LastActiveAt: now,
		SequenceNum:  m.nextSequenceLocked(),
		Keywords:     []types.Keyword{},
		Identifiers:  []types.Identifier{},
		FilesTouched: []string{},
	}
	m.sessions[sessionID] = session
	return session, nil
}

// UpdateContent extracts keywords, identifiers, and file paths from text
// and merges them into sessionID's lists, de-duplicating by word/name/path
// and retaining the best score on collision.
func (m *Manager) UpdateContent(sessionID, text string) error {
	keywords, identifiers, files := m.extractor.Extract(sessionID, text)

	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}

	session.Keywords = mergeKeywords(session.Keywords, keywords)
	session.Identifiers = mergeIdentifiers(session.Identifiers, identifiers)
	session.FilesTouched = mergeFiles(session.FilesTouched, files)
	session.LastActiveAt = time.Now()
	return nil
}

// mergeKeywords unions a and b by word, keeping the higher score on
// collision, capped at types.MaxKeywords.
func mergeKeywords(a, b []types.Keyword) []types.Keyword {
	best := make(map[string]float64, len(a)+len(b))
	order := make([]string, 0, len(a)+len(b))
	for _, k := range a {
		if _, seen := best[k.Word]; !seen {
			order = append(order, k.Word)
		}
		if score, seen := best[k.Word]; !seen || k.Score > score {
			best[k.Word] = k.Score
		}
	}
	for _, k := range b {
		if _, seen := best[k.Word]; !seen {
			order = append(order, k.Word)
		}
		if score, seen := best[k.Word]; !seen || k.Score > score {
			best[k.Word] = k.Score
		}
	}

	merged := make([]types.Keyword, len(order))
	for i, w := range order {
		merged[i] = types.Keyword{Word: w, Score: best[w]}
	}
	sortKeywordsDesc(merged)
	if len(merged) > types.MaxKeywords {
		merged = merged[:types.MaxKeywords]
	}
	return merged
}

func sortKeywordsDesc(k []types.Keyword) {
	for i := 1; i < len(k); i++ {
		for j := i; j > 0 && k[j].Score > k[j-1].Score; j-- {
			k[j], k[j-1] = k[j-1], k[j]
		}
	}
}

// mergeIdentifiers unions a and b by name, keeping the first-seen kind on
// collision, capped at types.MaxIdentifiers.
func mergeIdentifiers(a, b []types.Identifier) []types.Identifier {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]types.Identifier, 0, len(a)+len(b))
	for _, id := range append(append([]types.Identifier{}, a...), b...) {
		if _, exists := seen[id.Name]; exists {
			continue
		}
		seen[id.Name] = struct{}{}
		merged = append(merged, id)
		if len(merged) >= types.MaxIdentifiers {
			break
		}
	}
	return merged
}

// mergeFiles unions a and b by path, capped at types.MaxFilesTouched.
func mergeFiles(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, f := range append(append([]string{}, a...), b...) {
		if _, exists := seen[f]; exists {
			continue
		}
		seen[f] = struct{}{}
		merged = append(merged, f)
		if len(merged) >= types.MaxFilesTouched {
			break
		}
	}
	return merged
}

// SetTitle stores title for sessionID and marks it as explicitly set.
func (m *Manager) SetTitle(sessionID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}
	session.Title = title
	session.TitleGenerated = true
	return nil
}

// UpdateStats accumulates message/block/statement counters for sessionID.
func (m *Manager) UpdateStats(sessionID string, dmsg, dblk, dstmt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return types.ErrNotFound
	}
	session.MessageCount += dmsg
	session.BlockCount += dblk
	session.StatementCount += dstmt
	return nil
}

// List returns session ids matching agentFilter (empty matches all) and
// falling within [afterTime, beforeTime] (zero bounds are unbounded),
// measured against each session's LastActiveAt.
func (m *Manager) List(agentFilter string, afterTime, beforeTime time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.sessions {
		if agentFilter != "" && s.AgentID != agentFilter {
			continue
		}
		if !afterTime.IsZero() && s.LastActiveAt.Before(afterTime) {
			continue
		}
		if !beforeTime.IsZero() && s.LastActiveAt.After(beforeTime) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// FindByKeyword returns ids of sessions with a keyword containing word,
// case-insensitively.
func (m *Manager) FindByKeyword(word string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(word)
	var ids []string
	for id, s := range m.sessions {
		for _, k := range s.Keywords {
			if strings.Contains(strings.ToLower(k.Word), needle) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// FindByFile returns ids of sessions that touched a file path containing
// substring, case-insensitively.
func (m *Manager) FindByFile(substring string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(substring)
	var ids []string
	for id, s := range m.sessions {
		for _, f := range s.FilesTouched {
			if strings.Contains(strings.ToLower(f), needle) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// GetMetadata returns a snapshot of sessionID's metadata.
func (m *Manager) GetMetadata(sessionID string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, types.ErrNotFound
	}
	snapshot := *session
	snapshot.Keywords = append([]types.Keyword{}, session.Keywords...)
	snapshot.Identifiers = append([]types.Identifier{}, session.Identifiers...)
	snapshot.FilesTouched = append([]string{}, session.FilesTouched...)
	return &snapshot, nil
}

// GetNextSequence increments and returns the registry's monotonic
// sequence counter.
func (m *Manager) GetNextSequence() uint64 {
	return atomic.AddUint64(&m.sequence, 1)
}

func (m *Manager) nextSequenceLocked() uint64 {
	return atomic.AddUint64(&m.sequence, 1)
}

// Count returns the total number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns session registry statistics.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make(map[string]struct{})
	for _, s := range m.sessions {
		agents[s.AgentID] = struct{}{}
	}

	return map[string]interface{}{
		"total_sessions": len(m.sessions),
		"agents":         len(agents),
	}
}

func (m *Manager) sessionsPath() string {
	return filepath.Join(m.dataDir, "sessions.dat")
}

// Sync rewrites sessions.dat whole, via renameio for an atomic
// rename-into-place that cannot leave a torn file on crash.
func (m *Manager) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dataDir == "" {
		return nil
	}

	var buf bytes.Buffer
	var header [sessionsHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], sessionsMagic)
	binary.LittleEndian.PutUint32(header[4:8], sessionsVersion)
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(m.sessions)))
	buf.Write(header[:])

	for _, s := range m.sessions {
		rec := encodeSessionRecord(s)
		var recLen [4]byte
		binary.LittleEndian.PutUint32(recLen[:], uint32(len(rec)))
		buf.Write(recLen[:])
		buf.Write(rec)
	}

	return renameio.WriteFile(m.sessionsPath(), buf.Bytes(), 0644)
}

// Close syncs the registry to sessions.dat. It does not touch the
// underlying hierarchy, which the caller owns and syncs separately.
func (m *Manager) Close() error {
	return m.Sync()
}

// loadSessions reads sessions.dat, if present, and overlays its accumulated
// metadata onto whatever sessions NewManager already reconstructed from the
// hierarchy. A session known to sessions.dat but no longer present in the
// hierarchy (shouldn't happen outside a corrupted store) is restored as-is.
func (m *Manager) loadSessions() error {
	data, err := os.ReadFile(m.sessionsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.WrapError("session.Manager.loadSessions", types.ErrStorageIO, err)
	}
	if len(data) < sessionsHeaderSize {
		return types.Errorf("session.Manager.loadSessions", types.ErrStorageCorrupt, "sessions file too short")
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != sessionsMagic {
		return types.Errorf("session.Manager.loadSessions", types.ErrStorageCorrupt, "bad magic %#x", magic)
	}
	count := binary.LittleEndian.Uint32(data[8:12])

	off := sessionsHeaderSize
	var maxSeq uint64
	for i := uint32(0); i < count; i++ {
		if off+4 > len(data) {
			break // torn tail; stop at the last complete record
		}
		recLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if recLen < 0 || off+recLen > len(data) {
			break
		}
		rec := data[off : off+recLen]
		off += recLen

		s, err := decodeSessionRecord(rec)
		if err != nil {
			continue
		}
		if s.SequenceNum > maxSeq {
			maxSeq = s.SequenceNum
		}
		if existing, ok := m.sessions[s.ID]; ok {
			existing.Title = s.Title
			existing.TitleGenerated = s.TitleGenerated
			existing.Keywords = s.Keywords
			existing.Identifiers = s.Identifiers
			existing.FilesTouched = s.FilesTouched
			existing.LastActiveAt = s.LastActiveAt
			existing.SequenceNum = s.SequenceNum
			existing.MessageCount = s.MessageCount
			existing.BlockCount = s.BlockCount
			existing.StatementCount = s.StatementCount
		} else {
			m.sessions[s.ID] = s
		}
	}
	if maxSeq > m.sequence {
		m.sequence = maxSeq
	}
	return nil
}

// encodeSessionRecord writes s as a fixed-width scalar region followed by
// its variable-length lists as length-prefixed blobs, per the sessions.dat
// string-pool layout.
func encodeSessionRecord(s *types.Session) []byte {
	var buf bytes.Buffer

	idField := make([]byte, types.MaxSessionIDLen)
	putFixedString(idField, s.ID)
	buf.Write(idField)

	agentField := make([]byte, types.MaxAgentIDLen)
	putFixedString(agentField, s.AgentID)
	buf.Write(agentField)

	writeUint32(&buf, uint32(s.RootNodeID))
	writeInt64(&buf, s.CreatedAt.UnixNano())
	writeInt64(&buf, s.LastActiveAt.UnixNano())
	writeUint64(&buf, s.SequenceNum)
	writeUint32(&buf, uint32(s.MessageCount))
	writeUint32(&buf, uint32(s.BlockCount))
	writeUint32(&buf, uint32(s.StatementCount))
	if s.TitleGenerated {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	writeBlob(&buf, []byte(s.Title))

	writeUint32(&buf, uint32(len(s.Keywords)))
	for _, k := range s.Keywords {
		writeBlob(&buf, []byte(k.Word))
		writeFloat64(&buf, k.Score)
	}

	writeUint32(&buf, uint32(len(s.Identifiers)))
	for _, id := range s.Identifiers {
		writeBlob(&buf, []byte(id.Name))
		buf.WriteByte(byte(id.Kind))
	}

	writeUint32(&buf, uint32(len(s.FilesTouched)))
	for _, f := range s.FilesTouched {
		writeBlob(&buf, []byte(f))
	}

	return buf.Bytes()
}

// decodeSessionRecord is the inverse of encodeSessionRecord. It stops and
// returns an error on a truncated record rather than panicking, so a torn
// tail from a crash mid-write degrades to "drop the last session" instead
// of a corrupt load.
func decodeSessionRecord(rec []byte) (*types.Session, error) {
	r := &byteReader{data: rec}

	id := getFixedString(r.take(types.MaxSessionIDLen))
	agentID := getFixedString(r.take(types.MaxAgentIDLen))
	rootNodeID := types.NodeID(r.uint32())
	createdAt := time.Unix(0, r.int64())
	lastActiveAt := time.Unix(0, r.int64())
	sequenceNum := r.uint64()
	messageCount := int(r.uint32())
	blockCount := int(r.uint32())
	statementCount := int(r.uint32())
	titleGenerated := r.byte() != 0
	title := string(r.blob())

	kwCount := r.uint32()
	keywords := make([]types.Keyword, 0, kwCount)
	for i := uint32(0); i < kwCount; i++ {
		word := string(r.blob())
		score := r.float64()
		keywords = append(keywords, types.Keyword{Word: word, Score: score})
	}

	idCount := r.uint32()
	identifiers := make([]types.Identifier, 0, idCount)
	for i := uint32(0); i < idCount; i++ {
		name := string(r.blob())
		kind := types.IdentifierKind(r.byte())
		identifiers = append(identifiers, types.Identifier{Name: name, Kind: kind})
	}

	fileCount := r.uint32()
	files := make([]string, 0, fileCount)
	for i := uint32(0); i < fileCount; i++ {
		files = append(files, string(r.blob()))
	}

	if r.err != nil {
		return nil, r.err
	}

	return &types.Session{
		ID:             id,
		AgentID:        agentID,
		Title:          title,
		TitleGenerated: titleGenerated,
		Keywords:       keywords,
		Identifiers:    identifiers,
		FilesTouched:   files,
		RootNodeID:     rootNodeID,
		CreatedAt:      createdAt,
		LastActiveAt:   lastActiveAt,
		SequenceNum:    sequenceNum,
		MessageCount:   messageCount,
		BlockCount:     blockCount,
		StatementCount: statementCount,
	}, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeFloat64(buf *bytes.Buffer, v float64) {
	writeUint64(buf, math.Float64bits(v))
}

func writeBlob(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

// byteReader is a bounds-checked cursor over a single sessions.dat record.
// Once a read runs past the end of the record it latches err and returns
// zero values for every subsequent call, so a caller only needs to check
// err once at the end.
type byteReader struct {
	data []byte
	pos  int
	err  error
}

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.pos+n > len(r.data) {
		r.err = types.Errorf("session.Manager.decodeSessionRecord", types.ErrStorageCorrupt, "truncated record")
		return make([]byte, n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *byteReader) uint32() uint32 { return binary.LittleEndian.Uint32(r.take(4)) }
func (r *byteReader) uint64() uint64 { return binary.LittleEndian.Uint64(r.take(8)) }
func (r *byteReader) int64() int64   { return int64(r.uint64()) }
func (r *byteReader) byte() byte     { return r.take(1)[0] }
func (r *byteReader) float64() float64 {
	return math.Float64frombits(r.uint64())
}
func (r *byteReader) blob() []byte {
	n := r.uint32()
	return r.take(int(n))
}

func putFixedString(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}

func getFixedString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
