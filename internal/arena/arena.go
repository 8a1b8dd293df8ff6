// Package arena implements a fixed-capacity, bump-allocated byte region,
// either as an anonymous heap buffer or a file-backed memory-mapped region.
// It is the allocator underneath the relations and embeddings column
// stores: both place a small header at offset 0 and address element slots
// at HeaderSize + i*ElemSize.
package arena

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/anthropics/agentmemory/pkg/types"
)

// Arena is a contiguous byte region with a monotonic bump allocator.
type Arena struct {
	mu       sync.Mutex
	buf      []byte // heap-backed storage, nil when mapped
	mapped   []byte // mmap-backed storage, nil when heap
	file     *os.File
	lock     *flock.Flock
	capacity uint64
	offset   atomic.Uint64
}

// Create allocates an anonymous, heap-backed arena of the given capacity.
func Create(size int) *Arena {
	return &Arena{
		buf:      make([]byte, size),
		capacity: uint64(size),
	}
}

// CreateMapped creates a new file of the given size and memory-maps it.
// An advisory exclusive flock guards the file against a second writer.
func CreateMapped(path string, size int) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, types.WrapError("arena.CreateMapped", types.ErrStorageIO, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, types.WrapError("arena.CreateMapped", types.ErrStorageIO, err)
	}
	return mapFile(f, size)
}

// OpenMapped opens an existing file-backed arena. Capacity is discovered
// from the file's current size.
func OpenMapped(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, types.WrapError("arena.OpenMapped", types.ErrStorageIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, types.WrapError("arena.OpenMapped", types.ErrStorageIO, err)
	}
	return mapFile(f, int(info.Size()))
}

func mapFile(f *os.File, size int) (*Arena, error) {
	lock := flock.New(f.Name() + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		f.Close()
		return nil, types.WrapError("arena.mapFile", types.ErrStorageIO, err)
	}
	if !locked {
		f.Close()
		return nil, types.Errorf("arena.mapFile", types.ErrClosed, "data directory is locked by another writer")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		lock.Unlock()
		f.Close()
		return nil, types.WrapError("arena.mapFile", types.ErrStorageIO, err)
	}

	return &Arena{
		mapped:   data,
		file:     f,
		lock:     lock,
		capacity: uint64(size),
	}, nil
}

// bytes returns the underlying storage slice, heap or mapped.
func (a *Arena) bytes() []byte {
	if a.mapped != nil {
		return a.mapped
	}
	return a.buf
}

// IsMapped reports whether this arena is backed by a memory-mapped file.
func (a *Arena) IsMapped() bool {
	return a.mapped != nil
}

// Capacity returns the total byte capacity of the arena.
func (a *Arena) Capacity() uint64 {
	return a.capacity
}

// Len returns the current high-water mark (bytes allocated so far).
func (a *Arena) Len() uint64 {
	return a.offset.Load()
}

func align(n, alignment uint64) uint64 {
	if alignment <= 1 {
		return n
	}
	rem := n % alignment
	if rem == 0 {
		return n
	}
	return n + (alignment - rem)
}

// Alloc reserves n bytes aligned to align, returning the offset of the
// slot. Fails with ErrFull if the high-water mark would exceed capacity.
func (a *Arena) Alloc(n uint64, alignment uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := align(a.offset.Load(), alignment)
	end := start + n
	if end > a.capacity {
		return 0, types.Errorf("arena.Alloc", types.ErrFull, "need %d bytes, %d available", n, a.capacity-start)
	}
	a.offset.Store(end)
	return start, nil
}

// PtrAt returns the n-byte slice at offset. Out-of-range is reported, not
// silently clamped.
func (a *Arena) PtrAt(offset, n uint64) ([]byte, error) {
	if offset+n > a.capacity {
		return nil, types.Errorf("arena.PtrAt", types.ErrInvalidArg, "offset %d len %d exceeds capacity %d", offset, n, a.capacity)
	}
	b := a.bytes()
	return b[offset : offset+n], nil
}

// OffsetOf returns the offset of a slice previously returned by PtrAt, the
// inverse of PtrAt.
func (a *Arena) OffsetOf(ptr []byte) (uint64, error) {
	base := a.bytes()
	if len(ptr) == 0 || len(base) == 0 {
		return 0, types.Errorf("arena.OffsetOf", types.ErrInvalidArg, "empty slice")
	}
	off := uintptrDiff(&base[0], &ptr[0])
	if off < 0 || uint64(off) > a.capacity {
		return 0, types.Errorf("arena.OffsetOf", types.ErrInvalidArg, "pointer not within arena")
	}
	return uint64(off), nil
}

// Sync persists mapped regions to disk; a no-op for heap arenas.
func (a *Arena) Sync() error {
	if a.mapped == nil {
		return nil
	}
	if err := unix.Msync(a.mapped, unix.MS_SYNC); err != nil {
		return types.WrapError("arena.Sync", types.ErrStorageIO, err)
	}
	return nil
}

// Grow extends the arena's capacity. Heap arenas move to a new, larger
// buffer and copy the used bytes across;
// mapped arenas refuse and return ErrFull, keeping the mapped code path
// simple (see DESIGN.md Open Questions).
func (a *Arena) Grow(newSize int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mapped != nil {
		return types.Errorf("arena.Grow", types.ErrFull, "mapped arenas do not support growth")
	}
	if uint64(newSize) <= a.capacity {
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, a.buf)
	a.buf = grown
	a.capacity = uint64(newSize)
	return nil
}

// Close unmaps and releases any OS resources held by the arena.
func (a *Arena) Close() error {
	if a.mapped == nil {
		return nil
	}
	err := unix.Munmap(a.mapped)
	a.mapped = nil
	if a.lock != nil {
		a.lock.Unlock()
	}
	if a.file != nil {
		a.file.Close()
	}
	if err != nil {
		return types.WrapError("arena.Close", types.ErrStorageIO, err)
	}
	return nil
}
