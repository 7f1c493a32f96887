// Package rbheap is the public surface of the allocator: a heap of
// blocks carved from a contiguous region, indexed for best-fit reuse
// by a size-keyed red-black tree embedded in the free blocks
// themselves.
//
// Heap addresses are byte offsets into the heap's region, not Go
// pointers; read and write payloads through the Read/Write helpers or
// a provider-level view. A Heap is not goroutine-safe.
package rbheap

import (
	"context"

	"github.com/rbheap/rbheap/internal/heap"
	"github.com/rbheap/rbheap/internal/region"
)

// Failure sentinels, matched with errors.Is.
var (
	ErrOutOfMemory = heap.ErrOutOfMemory
	ErrInvalidSize = heap.ErrInvalidSize
)

// Stats is a snapshot of allocator counters.
type Stats = heap.Stats

// Provider is the region contract a custom backing store implements.
// Extend appends exactly n zeroed bytes to the region and returns the
// new segment's base offset; Bytes returns the backing view
// [Low, High), re-fetched by the heap after every extension.
type Provider interface {
	Extend(n uint32) (uint32, error)
	Low() uint32
	High() uint32
	Bytes() []byte
}

type config struct {
	chunkSize uint32
	limit     uint32
	provider  Provider
	wasmCtx   context.Context
	wasmPages uint32
	useWasm   bool
}

// Option configures a Heap at construction time.
type Option func(*config)

// WithChunkSize sets the growth quantum requested from the region when
// no free block fits. It must be a multiple of 8.
func WithChunkSize(n uint32) Option {
	return func(c *config) { c.chunkSize = n }
}

// WithLimit caps the default slice-backed region at n bytes.
func WithLimit(n uint32) Option {
	return func(c *config) { c.limit = n }
}

// WithProvider backs the heap with a caller-supplied region.
func WithProvider(p Provider) Option {
	return func(c *config) { c.provider = p }
}

// WithWasmMemory backs the heap with the linear memory of a wazero
// module of at most maxPages 64KiB pages. Close releases the module.
func WithWasmMemory(ctx context.Context, maxPages uint32) Option {
	return func(c *config) {
		c.useWasm = true
		c.wasmCtx = ctx
		c.wasmPages = maxPages
	}
}

// Heap is a dynamic memory allocator over a single region.
type Heap struct {
	inner  *heap.Heap
	closer func(context.Context) error
}

// New builds a heap over the configured region. The default backing
// store is a slice-backed region capped at 16MB.
func New(opts ...Option) (*Heap, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Heap{}
	provider := cfg.provider
	if provider == nil {
		if cfg.useWasm {
			if cfg.wasmCtx == nil {
				cfg.wasmCtx = context.Background()
			}
			wp, err := region.NewWasmProvider(cfg.wasmCtx, cfg.wasmPages)
			if err != nil {
				return nil, err
			}
			provider = wp
			h.closer = wp.Close
		} else {
			provider = region.NewSliceProvider(cfg.limit)
		}
	}

	hcfg := heap.DefaultConfig()
	if cfg.chunkSize != 0 {
		hcfg.ChunkSize = cfg.chunkSize
	}
	inner, err := heap.New(provider, hcfg)
	if err != nil {
		if h.closer != nil {
			_ = h.closer(cfg.wasmCtx)
		}
		return nil, err
	}
	h.inner = inner
	return h, nil
}

// Allocate returns the offset of a fresh payload of at least size
// bytes. Offsets are multiples of 8; 0 is never a valid payload.
func (h *Heap) Allocate(size uint32) (uint32, error) {
	return h.inner.Allocate(size)
}

// Free releases a previously allocated offset. Double frees and
// foreign offsets are undefined behavior.
func (h *Heap) Free(addr uint32) {
	h.inner.Free(addr)
}

// Reallocate resizes the allocation at addr, moving the payload. A
// zero addr allocates, a zero size frees. On failure the original
// allocation is untouched.
func (h *Heap) Reallocate(addr, size uint32) (uint32, error) {
	return h.inner.Reallocate(addr, size)
}

// PayloadSize returns the usable bytes of an allocated offset.
func (h *Heap) PayloadSize(addr uint32) uint32 {
	return h.inner.PayloadSize(addr)
}

// Read copies n bytes out of the heap starting at addr.
func (h *Heap) Read(addr, n uint32) ([]byte, error) {
	return h.inner.Read(addr, n)
}

// Write copies data into the heap at addr.
func (h *Heap) Write(addr uint32, data []byte) error {
	return h.inner.Write(addr, data)
}

// Check runs the heap consistency checker, printing diagnostics. It
// terminates the process with exit code 2 on epilogue damage.
func (h *Heap) Check(verbose bool) {
	h.inner.Check(verbose)
}

// CheckTree verifies the free-block index invariants.
func (h *Heap) CheckTree() error {
	return h.inner.CheckTree()
}

// Stats returns a snapshot of allocator counters.
func (h *Heap) Stats() Stats {
	return h.inner.Stats()
}

// Close releases region resources for providers that hold any (the
// WASM-backed region); otherwise it is a no-op.
func (h *Heap) Close(ctx context.Context) error {
	if h.closer != nil {
		return h.closer(ctx)
	}
	return nil
}
