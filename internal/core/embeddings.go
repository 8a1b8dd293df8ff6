package core

import (
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/anthropics/agentmemory/internal/arena"
	"github.com/anthropics/agentmemory/pkg/types"
)

const embeddingsMagic uint32 = 0x454D4230 // "EMB0"
const embeddingsVersion uint32 = 1
const embeddingsHeaderSize = 32 // magic, version, dim, count, capacity, 12 bytes reserved

// levelArena is one per-level vector column: a header followed by
// capacity*D float32 values.
type levelArena struct {
	a        *arena.Arena
	dim      uint32
	capacity uint32
	count    atomic.Uint32
}

func newLevelArena(a *arena.Arena, dim, capacity uint32, fresh bool) (*levelArena, error) {
	l := &levelArena{a: a, dim: dim, capacity: capacity}
	if fresh {
		if err := l.writeHeader(); err != nil {
			return nil, err
		}
		return l, nil
	}
	hdr, err := a.PtrAt(0, embeddingsHeaderSize)
	if err != nil {
		return nil, err
	}
	if m := binary.LittleEndian.Uint32(hdr[0:4]); m != embeddingsMagic {
		return nil, types.Errorf("core.newLevelArena", types.ErrStorageCorrupt, "bad magic %#x", m)
	}
	if v := binary.LittleEndian.Uint32(hdr[4:8]); v != embeddingsVersion {
		return nil, types.Errorf("core.newLevelArena", types.ErrStorageCorrupt, "unsupported version %d", v)
	}
	l.dim = binary.LittleEndian.Uint32(hdr[8:12])
	l.count.Store(binary.LittleEndian.Uint32(hdr[12:16]))
	l.capacity = binary.LittleEndian.Uint32(hdr[16:20])
	return l, nil
}

func (l *levelArena) writeHeader() error {
	hdr, err := l.a.PtrAt(0, embeddingsHeaderSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(hdr[0:4], embeddingsMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], embeddingsVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], l.dim)
	binary.LittleEndian.PutUint32(hdr[12:16], l.count.Load())
	binary.LittleEndian.PutUint32(hdr[16:20], l.capacity)
	for i := 20; i < embeddingsHeaderSize; i++ {
		hdr[i] = 0
	}
	return nil
}

func embeddingsSize(dim, capacity uint32) int {
	return embeddingsHeaderSize + int(capacity)*int(dim)*4
}

func (l *levelArena) slot(idx uint32) ([]byte, error) {
	if idx >= l.count.Load() {
		return nil, types.Errorf("core.levelArena.slot", types.ErrInvalidArg, "index %d out of bounds (count %d)", idx, l.count.Load())
	}
	off := uint64(embeddingsHeaderSize) + uint64(idx)*uint64(l.dim)*4
	return l.a.PtrAt(off, uint64(l.dim)*4)
}

// Alloc bumps the count and returns the index of a new, zeroed slot.
func (l *levelArena) Alloc() (uint32, error) {
	n := l.count.Load()
	if n >= l.capacity {
		return 0, types.Errorf("core.levelArena.Alloc", types.ErrFull, "embeddings column at capacity %d", l.capacity)
	}
	l.count.Store(n + 1)
	if err := l.writeHeader(); err != nil {
		return 0, err
	}
	b, err := l.a.PtrAt(uint64(embeddingsHeaderSize)+uint64(n)*uint64(l.dim)*4, uint64(l.dim)*4)
	if err != nil {
		return 0, err
	}
	for i := range b {
		b[i] = 0
	}
	return n, nil
}

// Set copies vector (length dim) into slot idx. The caller is responsible
// for L2 normalization.
func (l *levelArena) Set(idx uint32, vector []float32) error {
	if uint32(len(vector)) != l.dim {
		return types.Errorf("core.levelArena.Set", types.ErrInvalidArg, "vector has %d dims, want %d", len(vector), l.dim)
	}
	b, err := l.slot(idx)
	if err != nil {
		return err
	}
	for i, v := range vector {
		binary.LittleEndian.PutUint32(b[i*4:i*4+4], math.Float32bits(v))
	}
	return nil
}

// Get returns a copy of the vector at idx.
func (l *levelArena) Get(idx uint32) ([]float32, error) {
	b, err := l.slot(idx)
	if err != nil {
		return nil, err
	}
	out := make([]float32, l.dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : i*4+4]))
	}
	return out, nil
}

// Cosine computes the cosine similarity between slots a and b, returning 0
// if either magnitude is 0.
func (l *levelArena) Cosine(a, b uint32) (float32, error) {
	va, err := l.Get(a)
	if err != nil {
		return 0, err
	}
	vb, err := l.Get(b)
	if err != nil {
		return 0, err
	}
	return CosineSimilarity(va, vb), nil
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, using chewxy/math32 for the float32 sqrt.
func CosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math32.Sqrt(na) * math32.Sqrt(nb))
}

// Normalize returns the L2-normalized copy of v.
func Normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return append([]float32(nil), v...)
	}
	norm := math32.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Embeddings is the C4 column store: one vector column per hierarchy
// level.
type Embeddings struct {
	mu     sync.RWMutex
	dim    uint32
	levels [types.NumLevels]*levelArena
}

// NewEmbeddingsHeap creates an all-heap-backed Embeddings store.
func NewEmbeddingsHeap(dim, capacity uint32) (*Embeddings, error) {
	e := &Embeddings{dim: dim}
	for lvl := 0; lvl < types.NumLevels; lvl++ {
		a := arena.Create(embeddingsSize(dim, capacity))
		la, err := newLevelArena(a, dim, capacity, true)
		if err != nil {
			return nil, err
		}
		e.levels[lvl] = la
	}
	return e, nil
}

// OpenEmbeddingsMapped opens (creating if absent) the five mapped
// per-level embedding files under dir/embeddings/.
func OpenEmbeddingsMapped(dir string, dim, capacity uint32) (*Embeddings, error) {
	embDir := filepath.Join(dir, "embeddings")
	if err := ensureDir(embDir); err != nil {
		return nil, err
	}
	e := &Embeddings{dim: dim}
	for lvl := 0; lvl < types.NumLevels; lvl++ {
		path := filepath.Join(embDir, fmt.Sprintf("level_%d.bin", lvl))
		fresh := !fileExists(path)
		var a *arena.Arena
		var err error
		if fresh {
			a, err = arena.CreateMapped(path, embeddingsSize(dim, capacity))
		} else {
			a, err = arena.OpenMapped(path)
		}
		if err != nil {
			return nil, err
		}
		la, err := newLevelArena(a, dim, capacity, fresh)
		if err != nil {
			return nil, err
		}
		e.levels[lvl] = la
	}
	return e, nil
}

// Alloc reserves a new, zeroed vector slot at the given level.
func (e *Embeddings) Alloc(level types.HierarchyLevel) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levels[level].Alloc()
}

// Set stores vector at (level, idx). Caller must L2-normalize first.
func (e *Embeddings) Set(level types.HierarchyLevel, idx uint32, vector []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.levels[level].Set(idx, vector)
}

// Get returns the vector at (level, idx).
func (e *Embeddings) Get(level types.HierarchyLevel, idx uint32) ([]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.levels[level].Get(idx)
}

// Cosine computes cosine similarity between two slots at the same level.
func (e *Embeddings) Cosine(level types.HierarchyLevel, a, b uint32) (float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.levels[level].Cosine(a, b)
}

// Sync persists all five mapped levels.
func (e *Embeddings) Sync() error {
	for _, la := range e.levels {
		if la == nil {
			continue
		}
		if err := la.a.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying arenas.
func (e *Embeddings) Close() error {
	for _, la := range e.levels {
		if la == nil {
			continue
		}
		if err := la.a.Close(); err != nil {
			return err
		}
	}
	return nil
}
