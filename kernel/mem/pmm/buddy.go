package pmm

import "physmem/kernel/mem/bitmap"

// buddyNode covers the page range [start, start+size) of a pool. A node is a
// leaf when it has no children; only leaves carry a meaningful inUse flag.
// The children of a split node are owned by it and are dropped again when
// both become free leaves.
type buddyNode struct {
	start, size int

	// inUse is set on leaves handed out by allocate. pages records the
	// page count the leaf was allocated for, which may be less than size.
	inUse bool
	pages int

	left, right *buddyNode
}

func newBuddyTree(size int) *buddyNode {
	return &buddyNode{size: size}
}

func (n *buddyNode) isLeaf() bool {
	return n.left == nil && n.right == nil
}

// available reports whether a request may be routed into this node. Split
// nodes always qualify since their subtrees may still have room.
func (n *buddyNode) available() bool {
	return !n.isLeaf() || !n.inUse
}

// split turns a free leaf into a parent of two free leaves. The right child
// absorbs the odd page when size is odd.
func (n *buddyNode) split() {
	half := n.size / 2
	n.left = &buddyNode{start: n.start, size: half}
	n.right = &buddyNode{start: n.start + half, size: n.size - half}
}

// allocate reserves a leaf able to hold count pages and returns the index of
// its first page or bitmap.NotFound.
func (n *buddyNode) allocate(count int) int {
	if count <= 0 || count > n.size {
		return bitmap.NotFound
	}

	if count > n.size/2 {
		if !n.isLeaf() || n.inUse {
			return bitmap.NotFound
		}
		n.inUse, n.pages = true, count
		return n.start
	}

	if n.isLeaf() {
		if n.inUse {
			return bitmap.NotFound
		}
		n.split()
		return n.left.allocate(count)
	}

	leftOK, rightOK := n.left.available(), n.right.available()
	switch {
	case !leftOK && !rightOK:
		return bitmap.NotFound
	case !leftOK:
		return n.right.allocate(count)
	case !rightOK:
		return n.left.allocate(count)
	}

	if idx := n.left.allocate(count); idx != bitmap.NotFound {
		return idx
	}
	return n.right.allocate(count)
}

// free releases the in-use leaf that starts at start and was allocated for
// count pages, collapsing every ancestor whose children are both free leaves
// on the way back up. It returns false if no such leaf exists.
func (n *buddyNode) free(start, count int) bool {
	if start < n.start || start >= n.start+n.size {
		return false
	}

	if n.isLeaf() {
		if !n.inUse || n.start != start || n.pages != count {
			return false
		}
		n.inUse, n.pages = false, 0
		return true
	}

	if !n.left.free(start, count) && !n.right.free(start, count) {
		return false
	}

	if n.left.isLeaf() && !n.left.inUse && n.right.isLeaf() && !n.right.inUse {
		n.left, n.right = nil, nil
	}
	return true
}

// walk visits the leaves of the tree in address order.
func (n *buddyNode) walk(fn func(leaf *buddyNode)) {
	if n.isLeaf() {
		fn(n)
		return
	}
	n.left.walk(fn)
	n.right.walk(fn)
}

// leafCount returns the number of leaves in the tree.
func (n *buddyNode) leafCount() int {
	var count int
	n.walk(func(*buddyNode) { count++ })
	return count
}
