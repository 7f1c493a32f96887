package heap

// The free-block index is a red-black tree keyed by block size with
// duplicate keys placed on the right branch. Node storage is the free
// block's own payload: parent, left and right occupy the first three
// 8-byte slots. The root pointer lives in the prologue's parent slot,
// so all tree state is heap memory.

// Pointer-slot accessors for a free block used as a tree node.

func (h *Heap) parent(bp uint32) uint32 { return h.addr(bp) }
func (h *Heap) left(bp uint32) uint32   { return h.addr(bp + dwordSize) }
func (h *Heap) right(bp uint32) uint32  { return h.addr(bp + 2*dwordSize) }

func (h *Heap) setParent(bp, v uint32) { h.putAddr(bp, v) }
func (h *Heap) setLeft(bp, v uint32)   { h.putAddr(bp+dwordSize, v) }
func (h *Heap) setRight(bp, v uint32)  { h.putAddr(bp+2*dwordSize, v) }

// root returns the tree root, stored in the prologue's parent slot.
func (h *Heap) root() uint32 { return h.addr(h.base) }

func (h *Heap) setRoot(v uint32) { h.putAddr(h.base, v) }

// findFit removes and returns the smallest free block of size at least
// asize, or 0 when no block fits. An exact size match wins
// immediately; otherwise the search remembers the best candidate while
// descending left.
func (h *Heap) findFit(asize uint32) uint32 {
	var best uint32
	bp := h.root()
	for bp != 0 {
		switch {
		case h.size(bp) < asize:
			bp = h.right(bp)
		case h.size(bp) == asize:
			h.treeDelete(bp)
			return bp
		default:
			best = bp
			bp = h.left(bp)
		}
	}
	if best != 0 {
		h.treeDelete(best)
	}
	return best
}

// treeInsert links the free block at bp into the tree and rebalances.
// Equal sizes descend right, which lets findFit stop at the first
// exact match.
func (h *Heap) treeInsert(bp uint32) {
	var y uint32
	x := h.root()
	for x != 0 {
		y = x
		if h.size(bp) < h.size(x) {
			x = h.left(x)
		} else {
			x = h.right(x)
		}
	}
	h.setParent(bp, y)
	switch {
	case y == 0:
		h.setRoot(bp)
	case h.size(bp) < h.size(y):
		h.setLeft(y, bp)
	default:
		h.setRight(y, bp)
	}
	h.setLeft(bp, 0)
	h.setRight(bp, 0)
	h.paint(bp, true)
	h.insertFixup(bp)
}

func (h *Heap) insertFixup(bp uint32) {
	for {
		p := h.parent(bp)
		if p == 0 || !h.red(p) {
			break
		}
		g := h.parent(p)
		if p == h.left(g) {
			if u := h.right(g); u != 0 && h.red(u) {
				h.paint(p, false)
				h.paint(u, false)
				h.paint(g, true)
				bp = g
				continue
			}
			if bp == h.right(p) {
				bp = p
				h.rotateLeft(bp)
			}
			p = h.parent(bp)
			g = h.parent(p)
			h.paint(p, false)
			h.paint(g, true)
			h.rotateRight(g)
		} else {
			if u := h.left(g); u != 0 && h.red(u) {
				h.paint(p, false)
				h.paint(u, false)
				h.paint(g, true)
				bp = g
				continue
			}
			if bp == h.left(p) {
				bp = p
				h.rotateRight(bp)
			}
			p = h.parent(bp)
			g = h.parent(p)
			h.paint(p, false)
			h.paint(g, true)
			h.rotateLeft(g)
		}
	}
	h.paint(h.root(), false)
}

// treeDelete unlinks the free block at bp from the tree. Structural
// nulls are real zero pointers rather than a sentinel leaf, so the
// fixup receives the parent of the (possibly null) replacement
// explicitly.
func (h *Heap) treeDelete(z uint32) {
	y := z
	yWasRed := h.red(y)
	var x, par uint32
	switch {
	case h.left(z) == 0:
		x = h.right(z)
		par = h.parent(z)
		h.transplant(z, x)
	case h.right(z) == 0:
		x = h.left(z)
		par = h.parent(z)
		h.transplant(z, x)
	default:
		y = h.minimum(h.right(z))
		yWasRed = h.red(y)
		x = h.right(y)
		if h.parent(y) == z {
			if x != 0 {
				h.setParent(x, y)
			}
			par = y
		} else {
			h.transplant(y, h.right(y))
			par = h.parent(y)
			h.setRight(y, h.right(z))
			h.setParent(h.right(y), y)
		}
		h.transplant(z, y)
		h.setLeft(y, h.left(z))
		h.setParent(h.left(y), y)
		h.paint(y, h.red(z))
	}
	if !yWasRed {
		h.deleteFixup(x, par)
	}
}

func (h *Heap) deleteFixup(x, par uint32) {
	for x != h.root() && (x == 0 || !h.red(x)) {
		if x == h.left(par) {
			w := h.right(par)
			if w != 0 && h.red(w) {
				h.paint(w, false)
				h.paint(par, true)
				h.rotateLeft(par)
				w = h.right(par)
			}
			if (h.left(w) == 0 || !h.red(h.left(w))) &&
				(h.right(w) == 0 || !h.red(h.right(w))) {
				h.paint(w, true)
				x = par
				par = h.parent(par)
			} else {
				if h.right(w) == 0 || !h.red(h.right(w)) {
					h.paint(h.left(w), false)
					h.paint(w, true)
					h.rotateRight(w)
					w = h.right(par)
				}
				h.paint(w, h.red(par))
				h.paint(par, false)
				h.paint(h.right(w), false)
				h.rotateLeft(par)
				x = h.root()
			}
		} else {
			w := h.left(par)
			if w != 0 && h.red(w) {
				h.paint(w, false)
				h.paint(par, true)
				h.rotateRight(par)
				w = h.left(par)
			}
			if (h.left(w) == 0 || !h.red(h.left(w))) &&
				(h.right(w) == 0 || !h.red(h.right(w))) {
				h.paint(w, true)
				x = par
				par = h.parent(par)
			} else {
				if h.left(w) == 0 || !h.red(h.left(w)) {
					h.paint(h.right(w), false)
					h.paint(w, true)
					h.rotateLeft(w)
					w = h.left(par)
				}
				h.paint(w, h.red(par))
				h.paint(par, false)
				h.paint(h.left(w), false)
				h.rotateRight(par)
				x = h.root()
			}
		}
	}
	if x != 0 {
		h.paint(x, false)
	}
}

// transplant replaces the subtree rooted at u with the one rooted at
// v, updating the root slot when u was the root.
func (h *Heap) transplant(u, v uint32) {
	p := h.parent(u)
	switch {
	case p == 0:
		h.setRoot(v)
	case u == h.left(p):
		h.setLeft(p, v)
	default:
		h.setRight(p, v)
	}
	if v != 0 {
		h.setParent(v, p)
	}
}

// minimum descends to the leftmost node of the subtree rooted at bp.
func (h *Heap) minimum(bp uint32) uint32 {
	for h.left(bp) != 0 {
		bp = h.left(bp)
	}
	return bp
}

func (h *Heap) rotateLeft(x uint32) {
	y := h.right(x)
	h.setRight(x, h.left(y))
	if h.left(y) != 0 {
		h.setParent(h.left(y), x)
	}
	p := h.parent(x)
	h.setParent(y, p)
	switch {
	case p == 0:
		h.setRoot(y)
	case x == h.left(p):
		h.setLeft(p, y)
	default:
		h.setRight(p, y)
	}
	h.setLeft(y, x)
	h.setParent(x, y)
}

func (h *Heap) rotateRight(x uint32) {
	y := h.left(x)
	h.setLeft(x, h.right(y))
	if h.right(y) != 0 {
		h.setParent(h.right(y), x)
	}
	p := h.parent(x)
	h.setParent(y, p)
	switch {
	case p == 0:
		h.setRoot(y)
	case x == h.right(p):
		h.setRight(p, y)
	default:
		h.setLeft(p, y)
	}
	h.setRight(y, x)
	h.setParent(x, y)
}
