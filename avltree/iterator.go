package avltree

// Iterator is a position in a Tree. Advancing it with Next does not take
// the Tree's structural lock -- only the purge barrier, held briefly and
// only in shared mode -- so Next can run concurrently with an unrelated
// Insert or Erase elsewhere in the tree.
//
// Go has no destructor to run when an Iterator goes out of scope, so its
// lifecycle is explicit: Close must be called exactly once when the
// iterator is no longer needed, and Clone must be used (not a plain
// assignment) to produce an independent copy.
type Iterator[K, V any] struct {
	tree *Tree[K, V]
	node *node[K, V]
}

// iteratorAt pins n and returns an Iterator positioned there.
func (t *Tree[K, V]) iteratorAt(n *node[K, V]) *Iterator[K, V] {
	n.pin()
	return &Iterator[K, V]{tree: t, node: n}
}

// Value returns the value at the iterator's current position. Calling it
// on an iterator positioned at End returns the zero value of V.
func (it *Iterator[K, V]) Value() V {
	return it.node.value
}

// Key returns the key at the iterator's current position.
func (it *Iterator[K, V]) Key() K {
	return it.node.key
}

// AtEnd reports whether the iterator has reached the fixed END sentinel.
func (it *Iterator[K, V]) AtEnd() bool {
	return it.node.isEnd()
}

// Equal reports whether it and other are positioned at the same node.
func (it *Iterator[K, V]) Equal(other *Iterator[K, V]) bool {
	return it.node == other.node
}

// Next advances the iterator to the in-order successor of its current
// position. Advancing an iterator already at End is a no-op: End is a
// fixed point.
//
// If the current node has already been DELETED, its retained link
// snapshot from the moment of deletion is used to find the successor --
// spec.md §4.5's "advancing from a DELETED node uses that node's
// still-valid link snapshot to reach its original neighbor."
func (it *Iterator[K, V]) Next() {
	if it.node.isEnd() {
		return
	}

	prev := it.node
	it.tree.purgeBarrier.SLock()
	next := it.tree.successor(prev)
	next.pin()
	it.tree.purgeBarrier.SUnlock()

	it.node = next
	prev.release(it.tree.purgatory)
}

// Close releases the iterator's hold on its current node. It must be
// called exactly once; calling any other method on it afterward is
// undefined.
func (it *Iterator[K, V]) Close() {
	if it.node == nil {
		return
	}
	it.node.release(it.tree.purgatory)
	it.node = nil
}

// Clone returns an independent iterator positioned at the same node as it.
// The two iterators may then be advanced or closed independently.
func (it *Iterator[K, V]) Clone() *Iterator[K, V] {
	it.node.pin()
	return &Iterator[K, V]{tree: it.tree, node: it.node}
}

// Rebind repositions it to the same node other is positioned at, pinning
// other's node before releasing its own previous node. It is equivalent to
// Close followed by Clone,
// but avoids the intermediate allocation.
func (it *Iterator[K, V]) Rebind(other *Iterator[K, V]) {
	other.node.pin()
	it.node.release(it.tree.purgatory)
	it.tree = other.tree
	it.node = other.node
}

// successor returns n's in-order successor: the leftmost node of n's right
// subtree if it has one, otherwise the nearest ancestor for which n lies in
// the left subtree, or END if there is no such ancestor. This is the
// textbook unconditional rule -- it does not special-case whether n itself
// is ACTIVE or DELETED, since a DELETED node's retained links are exactly
// as valid for this walk as a live node's.
func (t *Tree[K, V]) successor(n *node[K, V]) *node[K, V] {
	if r := realChild(n.right.Load()); r != nil {
		return leftmost(r)
	}
	cur := n
	p := cur.parent.Load()
	for p != nil && realChild(p.right.Load()) == cur {
		cur = p
		p = cur.parent.Load()
	}
	if p == nil {
		return t.end
	}
	return p
}
