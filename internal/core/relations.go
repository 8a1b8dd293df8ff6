package core

import (
	"encoding/binary"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/anthropics/agentmemory/internal/arena"
	"github.com/anthropics/agentmemory/pkg/types"
)

const relationsMagic uint32 = 0x52454C30 // "REL0"
const relationsVersion uint32 = 1
const relationsHeaderSize = 16 // magic, version, count, capacity

// column is a single fixed-width array over an Arena, with a REL0 header.
type column struct {
	a        *arena.Arena
	elemSize uint64
	count    atomic.Uint32
	capacity uint32
}

func newColumn(a *arena.Arena, elemSize uint64, capacity uint32, fresh bool) (*column, error) {
	c := &column{a: a, elemSize: elemSize, capacity: capacity}
	if fresh {
		if err := c.writeHeader(); err != nil {
			return nil, err
		}
		if _, err := a.Alloc(relationsHeaderSize, 8); err != nil {
			return nil, err
		}
		if _, err := a.Alloc(elemSize*uint64(capacity), elemSize); err != nil {
			return nil, err
		}
		return c, nil
	}

	hdr, err := a.PtrAt(0, relationsHeaderSize)
	if err != nil {
		return nil, err
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != relationsMagic {
		return nil, types.Errorf("core.newColumn", types.ErrStorageCorrupt, "bad magic %#x", magic)
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != relationsVersion {
		return nil, types.Errorf("core.newColumn", types.ErrStorageCorrupt, "unsupported version %d", version)
	}
	count := binary.LittleEndian.Uint32(hdr[8:12])
	cap32 := binary.LittleEndian.Uint32(hdr[12:16])
	c.capacity = cap32
	c.count.Store(count)
	return c, nil
}

func (c *column) writeHeader() error {
	hdr, err := c.headerSlot()
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(hdr[0:4], relationsMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], relationsVersion)
	binary.LittleEndian.PutUint32(hdr[8:12], c.count.Load())
	binary.LittleEndian.PutUint32(hdr[12:16], c.capacity)
	return nil
}

func (c *column) headerSlot() ([]byte, error) {
	return c.a.PtrAt(0, relationsHeaderSize)
}

func (c *column) slot(id types.NodeID) ([]byte, error) {
	if uint32(id) >= c.count.Load() {
		return nil, types.Errorf("core.column.slot", types.ErrInvalidArg, "id %d out of bounds (count %d)", id, c.count.Load())
	}
	off := relationsHeaderSize + uint64(id)*c.elemSize
	return c.a.PtrAt(off, c.elemSize)
}

func (c *column) bump() (types.NodeID, error) {
	n := c.count.Load()
	if n >= c.capacity {
		return 0, types.Errorf("core.column.bump", types.ErrFull, "relations column at capacity %d", c.capacity)
	}
	c.count.Store(n + 1)
	if err := c.writeHeader(); err != nil {
		return 0, err
	}
	return types.NodeID(n), nil
}

func (c *column) getU32(id types.NodeID) (types.NodeID, error) {
	b, err := c.slot(id)
	if err != nil {
		return 0, err
	}
	return types.NodeID(binary.LittleEndian.Uint32(b)), nil
}

func (c *column) setU32(id types.NodeID, v types.NodeID) error {
	b, err := c.slot(id)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
	return nil
}

func (c *column) getU8(id types.NodeID) (uint8, error) {
	b, err := c.slot(id)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *column) setU8(id types.NodeID, v uint8) error {
	b, err := c.slot(id)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

// Relations is the C3 column store: four parallel id-indexed columns
// (parent, first_child, next_sibling, level) expressing an ordered forest.
type Relations struct {
	mu         sync.RWMutex
	parent     *column
	firstChild *column
	nextSib    *column
	level      *column
}

func columnSize(capacity uint32, elemSize uint64) int {
	return relationsHeaderSize + int(capacity)*int(elemSize)
}

// NewRelationsHeap creates an all-heap-backed Relations store (used for
// testing, or in-memory-only deployments).
func NewRelationsHeap(capacity uint32) (*Relations, error) {
	pArena := arena.Create(columnSize(capacity, 4))
	fArena := arena.Create(columnSize(capacity, 4))
	sArena := arena.Create(columnSize(capacity, 4))
	lArena := arena.Create(columnSize(capacity, 1))
	return newRelations(pArena, fArena, sArena, lArena, capacity, true)
}

// OpenRelationsMapped opens (creating if absent) the four mapped relations
// files under dir/relations/.
func OpenRelationsMapped(dir string, capacity uint32) (*Relations, error) {
	relDir := filepath.Join(dir, "relations")
	if err := ensureDir(relDir); err != nil {
		return nil, err
	}
	parentPath := filepath.Join(relDir, "parent.bin")
	childPath := filepath.Join(relDir, "first_child.bin")
	sibPath := filepath.Join(relDir, "next_sibling.bin")
	levelPath := filepath.Join(relDir, "level.bin")

	fresh := !fileExists(parentPath)

	open := func(path string, elemSize uint64) (*arena.Arena, error) {
		if fresh {
			return arena.CreateMapped(path, columnSize(capacity, elemSize))
		}
		return arena.OpenMapped(path)
	}

	pArena, err := open(parentPath, 4)
	if err != nil {
		return nil, err
	}
	fArena, err := open(childPath, 4)
	if err != nil {
		return nil, err
	}
	sArena, err := open(sibPath, 4)
	if err != nil {
		return nil, err
	}
	lArena, err := open(levelPath, 1)
	if err != nil {
		return nil, err
	}
	return newRelations(pArena, fArena, sArena, lArena, capacity, fresh)
}

func newRelations(pArena, fArena, sArena, lArena *arena.Arena, capacity uint32, fresh bool) (*Relations, error) {
	p, err := newColumn(pArena, 4, capacity, fresh)
	if err != nil {
		return nil, err
	}
	f, err := newColumn(fArena, 4, capacity, fresh)
	if err != nil {
		return nil, err
	}
	s, err := newColumn(sArena, 4, capacity, fresh)
	if err != nil {
		return nil, err
	}
	l, err := newColumn(lArena, 1, capacity, fresh)
	if err != nil {
		return nil, err
	}
	return &Relations{parent: p, firstChild: f, nextSib: s, level: l}, nil
}

// AllocNode bumps the shared count across all four columns and initializes
// parent/first_child/next_sibling to INVALID and level to Statement.
func (r *Relations) AllocNode() (types.NodeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.parent.bump()
	if err != nil {
		return 0, err
	}
	if _, err := r.firstChild.bump(); err != nil {
		return 0, err
	}
	if _, err := r.nextSib.bump(); err != nil {
		return 0, err
	}
	if _, err := r.level.bump(); err != nil {
		return 0, err
	}

	if err := r.parent.setU32(id, types.InvalidNodeID); err != nil {
		return 0, err
	}
	if err := r.firstChild.setU32(id, types.InvalidNodeID); err != nil {
		return 0, err
	}
	if err := r.nextSib.setU32(id, types.InvalidNodeID); err != nil {
		return 0, err
	}
	if err := r.level.setU8(id, uint8(types.LevelStatement)); err != nil {
		return 0, err
	}
	return id, nil
}

// Count returns the number of allocated nodes.
func (r *Relations) Count() uint32 {
	return r.parent.count.Load()
}

func (r *Relations) Parent(id types.NodeID) (types.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parent.getU32(id)
}

func (r *Relations) SetParent(id, parent types.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parent.setU32(id, parent)
}

func (r *Relations) FirstChild(id types.NodeID) (types.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.firstChild.getU32(id)
}

func (r *Relations) SetFirstChild(id, child types.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstChild.setU32(id, child)
}

func (r *Relations) NextSibling(id types.NodeID) (types.NodeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextSib.getU32(id)
}

func (r *Relations) SetNextSibling(id, sibling types.NodeID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextSib.setU32(id, sibling)
}

func (r *Relations) Level(id types.NodeID) (types.HierarchyLevel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, err := r.level.getU8(id)
	return types.HierarchyLevel(v), err
}

func (r *Relations) SetLevel(id types.NodeID, level types.HierarchyLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level.setU8(id, uint8(level))
}

// LinkChild appends child to the tail of parent's sibling list, per the
// spec's child-linking policy: walk first_child/next_sibling to the tail
// and set next_sibling there (or first_child if the list was empty).
func (r *Relations) LinkChild(parent, child types.NodeID) error {
	head, err := r.FirstChild(parent)
	if err != nil {
		return err
	}
	if !head.Valid() {
		return r.SetFirstChild(parent, child)
	}
	cur := head
	for {
		next, err := r.NextSibling(cur)
		if err != nil {
			return err
		}
		if !next.Valid() {
			break
		}
		cur = next
	}
	return r.SetNextSibling(cur, child)
}

// Children returns the ordered child list of id, walking first_child then
// next_sibling.
func (r *Relations) Children(id types.NodeID) ([]types.NodeID, error) {
	var out []types.NodeID
	cur, err := r.FirstChild(id)
	if err != nil {
		return nil, err
	}
	for cur.Valid() {
		out = append(out, cur)
		next, err := r.NextSibling(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return out, nil
}

// Siblings returns the ordered siblings of id, including id itself.
func (r *Relations) Siblings(id types.NodeID) ([]types.NodeID, error) {
	parent, err := r.Parent(id)
	if err != nil {
		return nil, err
	}
	if !parent.Valid() {
		return []types.NodeID{id}, nil
	}
	return r.Children(parent)
}

// Ancestors returns the chain from id's parent up to (and including) the
// root, nearest-first.
func (r *Relations) Ancestors(id types.NodeID) ([]types.NodeID, error) {
	var out []types.NodeID
	cur, err := r.Parent(id)
	if err != nil {
		return nil, err
	}
	for cur.Valid() {
		out = append(out, cur)
		next, err := r.Parent(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return out, nil
}

// CountDescendants recursively sums the size of id's subtree (excluding
// id itself).
func (r *Relations) CountDescendants(id types.NodeID) (int, error) {
	children, err := r.Children(id)
	if err != nil {
		return 0, err
	}
	total := len(children)
	for _, c := range children {
		n, err := r.CountDescendants(c)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Descendants returns all descendants of id in pre-order.
func (r *Relations) Descendants(id types.NodeID) ([]types.NodeID, error) {
	children, err := r.Children(id)
	if err != nil {
		return nil, err
	}
	out := append([]types.NodeID{}, children...)
	for _, c := range children {
		sub, err := r.Descendants(c)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// Sync persists all four mapped columns.
func (r *Relations) Sync() error {
	for _, c := range []*column{r.parent, r.firstChild, r.nextSib, r.level} {
		if err := c.a.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying arenas.
func (r *Relations) Close() error {
	for _, c := range []*column{r.parent, r.firstChild, r.nextSib, r.level} {
		if err := c.a.Close(); err != nil {
			return err
		}
	}
	return nil
}
