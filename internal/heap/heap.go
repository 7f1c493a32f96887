package heap

import (
	"github.com/rbheap/rbheap/internal/region"
)

// Config holds allocator tuning knobs.
type Config struct {
	// ChunkSize is the growth quantum requested from the region
	// provider when no free block fits. Must be a multiple of the
	// payload alignment.
	ChunkSize uint32
}

// DefaultConfig returns the default allocator configuration.
func DefaultConfig() *Config {
	return &Config{ChunkSize: chunkSize}
}

// Stats is a snapshot of allocator activity.
type Stats struct {
	Allocs         uint64
	Frees          uint64
	Reallocs       uint64
	Extends        uint64
	BytesRequested uint64
	BytesAllocated uint64
	BytesFreed     uint64
	HeapBytes      uint32
}

// Heap is the allocator core. Addresses handed out and accepted by its
// methods are byte offsets from the region's low bound; offset 0 is
// the null address. A Heap owns its region exclusively and is not
// goroutine-safe.
type Heap struct {
	provider region.Provider
	mem      []byte
	base     uint32 // prologue payload; its parent slot is the tree root
	config   *Config
	stats    Stats
}

// New builds a heap on the given region: a pad word, the prologue
// block whose payload holds the null tree root, the epilogue header,
// and one initial free chunk.
func New(p region.Provider, cfg *Config) (*Heap, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ChunkSize < minBlock+dwordSize || cfg.ChunkSize%dwordSize != 0 {
		return nil, &AllocError{Op: "init", Size: cfg.ChunkSize, Err: ErrInvalidSize}
	}

	h := &Heap{provider: p, config: cfg}
	low, err := p.Extend(wordSize + minBlock + wordSize)
	if err != nil {
		return nil, &AllocError{Op: "init", Err: ErrOutOfMemory, Cause: err}
	}
	h.mem = p.Bytes()
	h.base = low + dwordSize

	h.putWord(low, 0) // pad word aligns the prologue payload
	h.putWord(low+wordSize, pack(minBlock, false, true))
	h.setRoot(0)
	h.setLeft(h.base, 0)
	h.setRight(h.base, 0)
	h.putWord(h.ftr(h.base), pack(minBlock, false, true))
	h.putWord(hdr(h.nextBlock(h.base)), pack(0, false, true))

	if _, err := h.extend(cfg.ChunkSize / wordSize); err != nil {
		return nil, &AllocError{Op: "init", Err: ErrOutOfMemory, Cause: err}
	}
	return h, nil
}

// extend grows the region by the given word count (rounded up to an
// even number to keep headers doubleword-aligned), converts the old
// epilogue into a free block header, writes the new epilogue, and
// coalesces the fresh block with a free tail if one exists.
func (h *Heap) extend(words uint32) (uint32, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize
	bp, err := h.provider.Extend(size)
	if err != nil {
		return 0, err
	}
	h.mem = h.provider.Bytes()

	h.mark(bp, size, false)
	h.putWord(hdr(h.nextBlock(bp)), pack(0, false, true))
	h.stats.Extends++
	return h.coalesce(bp), nil
}

// adjust computes the effective block size for a request: small
// requests take the minimum block, larger ones reserve room for the
// boundary tags and the three pointer slots a future free needs, then
// round to the payload alignment.
func adjust(size uint32) uint32 {
	if size <= dwordSize+ptrFields {
		return minBlock
	}
	return align(size + ptrFields + overhead)
}

// Allocate returns the offset of a payload of at least size bytes, or
// an error when size is zero or the region cannot grow. Returned
// offsets are always multiples of the payload alignment.
func (h *Heap) Allocate(size uint32) (uint32, error) {
	if size == 0 {
		return 0, &AllocError{Op: "allocate", Size: size, Err: ErrInvalidSize}
	}
	asize := adjust(size)
	// A minimum block taken whole holds only minBlock-overhead payload
	// bytes, so a request larger than that searches for a block that
	// also fits the request plus its boundary tags.
	fit := asize
	if need := align(size + overhead); need > fit {
		fit = need
	}

	bp := h.findFit(fit)
	if bp == 0 {
		ext := asize
		if ext < h.config.ChunkSize {
			ext = h.config.ChunkSize
		}
		if _, err := h.extend(ext / wordSize); err != nil {
			return 0, &AllocError{Op: "allocate", Size: size, Err: ErrOutOfMemory, Cause: err}
		}
		if bp = h.findFit(fit); bp == 0 {
			return 0, &AllocError{Op: "allocate", Size: size, Err: ErrOutOfMemory}
		}
	}

	h.place(bp, asize)
	h.stats.Allocs++
	h.stats.BytesRequested += uint64(size)
	h.stats.BytesAllocated += uint64(h.size(bp))
	return bp, nil
}

// place claims asize bytes (already adjusted) at the free block bp. A
// remainder large enough to stand alone becomes a new free block; the
// claimed half absorbs one extra doubleword of split accounting.
func (h *Heap) place(bp, asize uint32) {
	csize := h.size(bp)
	if csize-asize >= minBlock+dwordSize {
		h.mark(bp, asize+dwordSize, true)
		rem := h.nextBlock(bp)
		h.mark(rem, csize-asize-dwordSize, false)
		h.treeInsert(rem)
	} else {
		h.mark(bp, csize, true)
	}
}

// Free releases the block at bp and merges it with free neighbors.
// Freeing offset 0 is a no-op; freeing a foreign or already-freed
// offset is undefined behavior, as the block metadata is trusted.
func (h *Heap) Free(bp uint32) {
	if bp == 0 {
		return
	}
	size := h.size(bp)
	h.mark(bp, size, false)
	h.coalesce(bp)
	h.stats.Frees++
	h.stats.BytesFreed += uint64(size)
}

// Reallocate moves the block at bp to a fresh allocation of the given
// size, copying the old payload up to size bytes. A zero bp behaves as
// Allocate, a zero size as Free. When the fresh allocation fails the
// original block is left intact.
func (h *Heap) Reallocate(bp, size uint32) (uint32, error) {
	if bp == 0 {
		return h.Allocate(size)
	}
	if size == 0 {
		h.Free(bp)
		return 0, nil
	}

	np, err := h.Allocate(size)
	if err != nil {
		return 0, err
	}
	n := h.size(bp) - overhead
	if size < n {
		n = size
	}
	copy(h.mem[np:np+n], h.mem[bp:bp+n])
	h.Free(bp)
	h.stats.Reallocs++
	return np, nil
}

// PayloadSize returns the usable bytes of the allocated block at bp.
func (h *Heap) PayloadSize(bp uint32) uint32 {
	return h.size(bp) - overhead
}

// Read copies n bytes out of the heap starting at offset addr.
func (h *Heap) Read(addr, n uint32) ([]byte, error) {
	if uint64(addr)+uint64(n) > uint64(len(h.mem)) {
		return nil, &AllocError{Op: "read", Size: n, Err: ErrInvalidSize}
	}
	out := make([]byte, n)
	copy(out, h.mem[addr:addr+n])
	return out, nil
}

// Write copies data into the heap at offset addr.
func (h *Heap) Write(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(h.mem)) {
		return &AllocError{Op: "write", Size: uint32(len(data)), Err: ErrInvalidSize}
	}
	copy(h.mem[addr:], data)
	return nil
}

// Stats returns a snapshot of allocator counters.
func (h *Heap) Stats() Stats {
	s := h.stats
	s.HeapBytes = h.provider.High() - h.provider.Low()
	return s
}
