package region

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// wasmPageSize is the WebAssembly linear memory page granularity.
const wasmPageSize = 64 * 1024

// WasmProvider is a region backed by the linear memory of a wazero
// module. Extend advances a byte watermark inside the memory, growing
// pages on demand; the limit is the memory's declared maximum.
type WasmProvider struct {
	runtime wazero.Runtime
	module  api.Module
	memory  api.Memory
	used    uint32
}

// NewWasmProvider instantiates a module exporting a single linear
// memory of at most maxPages pages and wraps it as a Provider.
func NewWasmProvider(ctx context.Context, maxPages uint32) (*WasmProvider, error) {
	if maxPages == 0 {
		maxPages = DefaultLimit / wasmPageSize
	}
	r := wazero.NewRuntime(ctx)
	mod, err := r.Instantiate(ctx, memoryModule(1, maxPages))
	if err != nil {
		_ = r.Close(ctx)
		return nil, &Error{
			Op:      "instantiate",
			Limit:   maxPages,
			Message: err.Error(),
		}
	}
	mem := mod.Memory()
	if mem == nil {
		_ = r.Close(ctx)
		return nil, &Error{
			Op:      "instantiate",
			Message: "module has no exported memory",
		}
	}
	return &WasmProvider{runtime: r, module: mod, memory: mem}, nil
}

// Extend appends n bytes to the region, growing the linear memory by
// whole pages when the watermark passes the current size.
func (p *WasmProvider) Extend(n uint32) (uint32, error) {
	if n == 0 {
		return 0, &Error{
			Op:      "extend",
			Message: "zero-length extension",
		}
	}
	need := uint64(p.used) + uint64(n)
	if need > uint64(^uint32(0)) {
		return 0, &Error{
			Op:        "extend",
			Requested: n,
			Message:   "extension overflows 32-bit address space",
		}
	}
	if have := uint64(p.memory.Size()); need > have {
		delta := uint32((need - have + wasmPageSize - 1) / wasmPageSize)
		if _, ok := p.memory.Grow(delta); !ok {
			return 0, &Error{
				Op:        "extend",
				Requested: n,
				Limit:     p.memory.Size(),
				Message:   "linear memory refused to grow",
			}
		}
	}
	base := p.used
	p.used = uint32(need)
	return base, nil
}

// Low returns the region's low bound.
func (p *WasmProvider) Low() uint32 { return 0 }

// High returns the region's high bound.
func (p *WasmProvider) High() uint32 { return p.used }

// Bytes returns a view of the used part of the linear memory. Growing
// the memory may remap it, so the view is only valid until the next
// Extend.
func (p *WasmProvider) Bytes() []byte {
	view, ok := p.memory.Read(0, p.used)
	if !ok {
		return nil
	}
	return view
}

// Close releases the wazero runtime and the module's memory.
func (p *WasmProvider) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// memoryModule builds the smallest WebAssembly binary that declares
// one linear memory of [minPages, maxPages] and exports it as "memory".
func memoryModule(minPages, maxPages uint32) []byte {
	limits := append([]byte{0x01}, uleb128(minPages)...)
	limits = append(limits, uleb128(maxPages)...)

	memSection := append([]byte{0x01}, limits...)

	exportSection := []byte{0x01, 0x06}
	exportSection = append(exportSection, "memory"...)
	exportSection = append(exportSection, 0x02, 0x00)

	bin := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	bin = appendSection(bin, 0x05, memSection)
	bin = appendSection(bin, 0x07, exportSection)
	return bin
}

func appendSection(bin []byte, id byte, body []byte) []byte {
	bin = append(bin, id)
	bin = append(bin, uleb128(uint32(len(body)))...)
	return append(bin, body...)
}

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}
