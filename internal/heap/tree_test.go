package heap

import (
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// treeHeight walks the subtree at bp and returns its height in edges
// plus one; 0 for an empty subtree.
func treeHeight(h *Heap, bp uint32) int {
	if bp == 0 {
		return 0
	}
	l := treeHeight(h, h.left(bp))
	r := treeHeight(h, h.right(bp))
	if l > r {
		return l + 1
	}
	return r + 1
}

func treeCount(h *Heap, bp uint32) int {
	if bp == 0 {
		return 0
	}
	return 1 + treeCount(h, h.left(bp)) + treeCount(h, h.right(bp))
}

// makeFreeBlocks allocates count blocks of the given payload sizes with
// allocated separators in between, then frees the targets, leaving
// count isolated free blocks in the tree.
func makeFreeBlocks(t *testing.T, h *Heap, sizes []uint32) []uint32 {
	t.Helper()
	var targets []uint32
	for _, size := range sizes {
		bp, err := h.Allocate(size)
		require.NoError(t, err)
		targets = append(targets, bp)
		_, err = h.Allocate(16)
		require.NoError(t, err)
	}
	for _, bp := range targets {
		h.Free(bp)
	}
	return targets
}

func TestTreeExactMatchWins(t *testing.T) {
	h := newTestHeap(t, 0)

	frees := makeFreeBlocks(t, h, []uint32{40, 56, 88})
	require.Equal(t, uint32(96), h.size(frees[1]))

	// A request whose adjusted size is exactly 96 bytes must get the
	// 96-byte block back, not a larger one.
	bp, err := h.Allocate(64)
	require.NoError(t, err)
	assert.Equal(t, frees[1], bp)
}

func TestTreeDuplicateSizes(t *testing.T) {
	h := newTestHeap(t, 0)

	frees := makeFreeBlocks(t, h, []uint32{40, 40, 40, 40})
	for _, bp := range frees {
		require.Equal(t, uint32(80), h.size(bp))
	}
	require.NoError(t, h.CheckTree())

	// Each equal-sized node comes back exactly once.
	seen := map[uint32]bool{}
	for range frees {
		bp, err := h.Allocate(40)
		require.NoError(t, err)
		assert.False(t, seen[bp], "block 0x%x returned twice", bp)
		seen[bp] = true
		require.NoError(t, h.CheckTree())
	}
	for _, bp := range frees {
		assert.True(t, seen[bp], "block 0x%x never returned", bp)
	}
}

func TestTreeDeleteRebalances(t *testing.T) {
	h := newTestHeap(t, 0)

	sizes := make([]uint32, 20)
	for i := range sizes {
		sizes[i] = uint32(40 + 8*i)
	}
	makeFreeBlocks(t, h, sizes)
	require.NoError(t, h.CheckTree())

	// Delete in an order that exercises leaf, one-child and
	// two-children cases, re-verifying the invariants every time.
	order := []int{10, 0, 19, 5, 15, 1, 18, 9, 2, 3, 17, 11, 4, 12, 16, 6, 13, 7, 14, 8}
	for _, idx := range order {
		_, err := h.Allocate(sizes[idx])
		require.NoError(t, err)
		require.NoError(t, h.CheckTree())
		require.NoError(t, h.runCheck(false, io.Discard))
	}
}

func TestTreeDepthBound(t *testing.T) {
	h := newTestHeap(t, 0)

	sizes := make([]uint32, 64)
	for i := range sizes {
		sizes[i] = uint32(40 + 8*i)
	}
	makeFreeBlocks(t, h, sizes)
	require.NoError(t, h.CheckTree())

	n := treeCount(h, h.root())
	require.GreaterOrEqual(t, n, len(sizes))
	limit := 2 * math.Log2(float64(n)+1)
	assert.LessOrEqual(t, float64(treeHeight(h, h.root())), limit,
		"tree of %d nodes deeper than 2*log2(n+1)", n)
}

func TestRandomChurn(t *testing.T) {
	h := newTestHeap(t, 0)
	rng := rand.New(rand.NewSource(1))

	type alloc struct {
		addr    uint32
		size    uint32
		pattern byte
	}
	var live []alloc

	verify := func() {
		require.NoError(t, h.runCheck(false, io.Discard))
		require.NoError(t, h.CheckTree())
		for _, a := range live {
			data, err := h.Read(a.addr, a.size)
			require.NoError(t, err)
			for _, b := range data {
				require.Equal(t, a.pattern, b, "payload at 0x%x corrupted", a.addr)
			}
		}
	}

	for i := 0; i < 2000; i++ {
		if len(live) == 0 || rng.Intn(10) < 6 {
			size := uint32(1 + rng.Intn(400))
			addr, err := h.Allocate(size)
			require.NoError(t, err)
			pattern := byte(rng.Intn(255) + 1)
			data := make([]byte, size)
			for j := range data {
				data[j] = pattern
			}
			require.NoError(t, h.Write(addr, data))
			live = append(live, alloc{addr, size, pattern})
		} else {
			idx := rng.Intn(len(live))
			h.Free(live[idx].addr)
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		if i%64 == 0 {
			verify()
		}

		// Keep the depth bound holding throughout the churn.
		if n := treeCount(h, h.root()); n > 2 {
			limit := 2 * math.Log2(float64(n)+1)
			require.LessOrEqual(t, float64(treeHeight(h, h.root())), limit)
		}
	}
	verify()

	// Freeing everything collapses the heap into one free block.
	for _, a := range live {
		h.Free(a.addr)
	}
	root := h.root()
	require.NotZero(t, root)
	assert.Equal(t, h.provider.High()-(wordSize+minBlock+wordSize), h.size(root))
	assert.Zero(t, h.left(root))
	assert.Zero(t, h.right(root))
	assert.NoError(t, h.CheckTree())
}
