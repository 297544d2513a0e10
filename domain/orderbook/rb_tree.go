package orderbook

// RBTree is a red-black tree keyed by price, each node carrying the
// PriceLevel resting at that price. It replaces the insertion-ordered
// maps the prototype used for book sides: those iterate in arrival
// order, not price order, so best-bid/best-ask and depth walks were
// undefined without a sort on every read. A balanced tree gives O(log n)
// insert/remove. The best level on either side is not cached: BestMin
// and BestMax descend from the root, so best access is also O(log n).
type rbColor bool

const (
	red   rbColor = false
	black rbColor = true
)

type rbNode struct {
	key    int64
	level  *PriceLevel
	color  rbColor
	left   *rbNode
	right  *rbNode
	parent *rbNode
}

type RBTree struct {
	root *rbNode
	nilN *rbNode
	size int
}

func NewRBTree() *RBTree {
	sentinel := &rbNode{color: black}
	return &RBTree{root: sentinel, nilN: sentinel}
}

func (t *RBTree) Size() int { return t.size }

// ---- public API ----

// GetOrCreate returns the PriceLevel at price, creating and inserting an
// empty one if none exists yet.
func (t *RBTree) GetOrCreate(price int64) *PriceLevel {
	n := t.find(price)
	if n != t.nilN {
		return n.level
	}
	lvl := &PriceLevel{Price: price}
	t.insert(price, lvl)
	return lvl
}

func (t *RBTree) Find(price int64) *PriceLevel {
	n := t.find(price)
	if n == t.nilN {
		return nil
	}
	return n.level
}

// Delete removes the level at price, if present. Returns whether a
// level was removed.
func (t *RBTree) Delete(price int64) bool {
	n := t.find(price)
	if n == t.nilN {
		return false
	}
	t.deleteNode(n)
	t.size--
	return true
}

// BestMin returns the lowest-priced level (best ask side).
func (t *RBTree) BestMin() *PriceLevel {
	n := t.min(t.root)
	if n == t.nilN {
		return nil
	}
	return n.level
}

// BestMax returns the highest-priced level (best bid side).
func (t *RBTree) BestMax() *PriceLevel {
	n := t.max(t.root)
	if n == t.nilN {
		return nil
	}
	return n.level
}

// ---- walkers ----

// WalkAsc visits levels from lowest to highest price. fn returning false
// stops the walk early.
func (t *RBTree) WalkAsc(fn func(*PriceLevel) bool) {
	for n := t.min(t.root); n != t.nilN; n = t.next(n) {
		if !fn(n.level) {
			return
		}
	}
}

// WalkDesc visits levels from highest to lowest price.
func (t *RBTree) WalkDesc(fn func(*PriceLevel) bool) {
	for n := t.max(t.root); n != t.nilN; n = t.prev(n) {
		if !fn(n.level) {
			return
		}
	}
}

// ---- internal search/traversal helpers ----

func (t *RBTree) find(price int64) *rbNode {
	n := t.root
	for n != t.nilN {
		switch {
		case price < n.key:
			n = n.left
		case price > n.key:
			n = n.right
		default:
			return n
		}
	}
	return t.nilN
}

func (t *RBTree) min(n *rbNode) *rbNode {
	for n != t.nilN && n.left != t.nilN {
		n = n.left
	}
	return n
}

func (t *RBTree) max(n *rbNode) *rbNode {
	for n != t.nilN && n.right != t.nilN {
		n = n.right
	}
	return n
}

func (t *RBTree) next(n *rbNode) *rbNode {
	if n.right != t.nilN {
		return t.min(n.right)
	}
	p := n.parent
	for p != t.nilN && n == p.right {
		n = p
		p = p.parent
	}
	return p
}

func (t *RBTree) prev(n *rbNode) *rbNode {
	if n.left != t.nilN {
		return t.max(n.left)
	}
	p := n.parent
	for p != t.nilN && n == p.left {
		n = p
		p = p.parent
	}
	return p
}

// ---- insertion ----

func (t *RBTree) insert(price int64, lvl *PriceLevel) {
	y := t.nilN
	x := t.root
	for x != t.nilN {
		y = x
		if price < x.key {
			x = x.left
		} else {
			x = x.right
		}
	}

	z := &rbNode{key: price, level: lvl, color: red, left: t.nilN, right: t.nilN, parent: y}
	if y == t.nilN {
		t.root = z
	} else if price < y.key {
		y.left = z
	} else {
		y.right = z
	}
	t.size++
	t.insertFixup(z)
}

func (t *RBTree) insertFixup(z *rbNode) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

// ---- deletion ----

func (t *RBTree) deleteNode(z *rbNode) {
	y := z
	yOriginalColor := y.color
	var x *rbNode

	if z.left == t.nilN {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilN {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.min(z.right)
		yOriginalColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOriginalColor == black {
		t.deleteFixup(x)
	}
}

func (t *RBTree) transplant(u, v *rbNode) {
	if u.parent == t.nilN {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

func (t *RBTree) deleteFixup(x *rbNode) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rotateRight(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.rotateLeft(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.rotateLeft(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rotateRight(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}

// ---- rotations ----

func (t *RBTree) rotateLeft(x *rbNode) {
	y := x.right
	x.right = y.left
	if y.left != t.nilN {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *RBTree) rotateRight(x *rbNode) {
	y := x.left
	x.left = y.right
	if y.right != t.nilN {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}
