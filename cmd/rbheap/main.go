package main

import (
	"fmt"
	"os"

	"github.com/rbheap/rbheap/pkg/rbheap"
)

func main() {
	h, err := rbheap.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize heap: %v\n", err)
		os.Exit(1)
	}

	// Exercise the allocator: a burst of allocations, a few frees to
	// force coalescing, and a growing reallocation.
	var addrs []uint32
	for _, size := range []uint32{16, 48, 256, 1024, 8, 4096} {
		addr, err := h.Allocate(size)
		if err != nil {
			fmt.Fprintf(os.Stderr, "allocate(%d): %v\n", size, err)
			os.Exit(1)
		}
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs[1:4] {
		h.Free(addr)
	}
	if _, err := h.Reallocate(addrs[0], 2048); err != nil {
		fmt.Fprintf(os.Stderr, "reallocate: %v\n", err)
		os.Exit(1)
	}

	h.Check(true)
	if err := h.CheckTree(); err != nil {
		fmt.Fprintf(os.Stderr, "tree check: %v\n", err)
		os.Exit(1)
	}

	s := h.Stats()
	fmt.Printf("allocs=%d frees=%d reallocs=%d extends=%d heap=%dB\n",
		s.Allocs, s.Frees, s.Reallocs, s.Extends, s.HeapBytes)
}
