// Package region provides the contiguous memory regions the heap
// allocator carves blocks out of.  A Provider hands out bytes appended
// to a single monotonically growing range; it never reclaims them.
package region

import (
	"fmt"
)

// Error represents region-related errors.
type Error struct {
	Op        string
	Requested uint32
	Limit     uint32
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("region error [%s]: %s (requested=%d, limit=%d)",
		e.Op, e.Message, e.Requested, e.Limit)
}

// Provider is the contract the heap consumes. Extend appends exactly n
// zeroed bytes to the region and returns the offset of the new
// segment's base (the previous High). Bytes returns the current
// backing view [Low, High); the view is invalidated by Extend, so
// callers must re-fetch it after every extension.
type Provider interface {
	Extend(n uint32) (uint32, error)
	Low() uint32
	High() uint32
	Bytes() []byte
}

// DefaultLimit bounds the slice-backed provider when no limit is given.
const DefaultLimit = 16 << 20 // 16MB

// SliceProvider is a byte-slice backed region with a hard byte limit.
// It is the default provider and the one unit tests run against.
type SliceProvider struct {
	buf   []byte
	limit uint32
}

// NewSliceProvider creates a slice-backed region capped at limit bytes.
func NewSliceProvider(limit uint32) *SliceProvider {
	if limit == 0 {
		limit = DefaultLimit
	}
	return &SliceProvider{limit: limit}
}

// Extend appends n zeroed bytes and returns the new segment's base.
func (p *SliceProvider) Extend(n uint32) (uint32, error) {
	if n == 0 {
		return 0, &Error{
			Op:      "extend",
			Message: "zero-length extension",
		}
	}
	if uint64(len(p.buf))+uint64(n) > uint64(p.limit) {
		return 0, &Error{
			Op:        "extend",
			Requested: n,
			Limit:     p.limit,
			Message:   "region limit exceeded",
		}
	}
	base := uint32(len(p.buf))
	p.buf = append(p.buf, make([]byte, n)...)
	return base, nil
}

// Low returns the region's low bound.
func (p *SliceProvider) Low() uint32 { return 0 }

// High returns the region's high bound.
func (p *SliceProvider) High() uint32 { return uint32(len(p.buf)) }

// Bytes returns the current backing view.
func (p *SliceProvider) Bytes() []byte { return p.buf }
