package list

// Iterator is a position in a List. It is bidirectional: both Next and Prev
// are supported, unlike avltree's forward-only Iterator. As with the map,
// Go's lack of destructors makes the pin/unpin lifecycle explicit: Close
// must be called exactly once, and Clone (not plain assignment) produces an
// independent copy.
type Iterator[T any] struct {
	list *List[T]
	node *node[T]
}

// Value returns a snapshot of the value at the iterator's current
// position, read under the node's shared lock so it is never observed
// torn against a concurrent Set.
func (it *Iterator[T]) Value() T {
	it.node.lock.RLock()
	defer it.node.lock.RUnlock()
	return it.node.value
}

// Set updates the value at the iterator's current position in place,
// under the node's exclusive lock. Calling Set on an iterator positioned
// at a sentinel has no effect a caller should rely on.
func (it *Iterator[T]) Set(v T) {
	it.node.lock.Lock()
	defer it.node.lock.Unlock()
	it.node.value = v
}

// AtEnd reports whether the iterator has reached the fixed END sentinel.
func (it *Iterator[T]) AtEnd() bool {
	return it.node == it.list.end
}

// AtBegin reports whether the iterator has reached the fixed BEGIN
// sentinel.
func (it *Iterator[T]) AtBegin() bool {
	return it.node == it.list.begin
}

// Equal reports whether it and other are positioned at the same node.
func (it *Iterator[T]) Equal(other *Iterator[T]) bool {
	return it.node == other.node
}

// Next advances the iterator to its right neighbor. Advancing an iterator
// already at END is a no-op: END is a fixed point.
func (it *Iterator[T]) Next() {
	if it.node == it.list.end {
		return
	}
	prev := it.node
	it.list.purgeBarrier.SLock()
	next := prev.right.Load()
	next.pin()
	it.list.purgeBarrier.SUnlock()

	it.node = next
	prev.release(it.list.purgatory)
}

// Prev moves the iterator to its left neighbor. Moving an iterator already
// at BEGIN is a no-op: BEGIN is a fixed point.
func (it *Iterator[T]) Prev() {
	if it.node == it.list.begin {
		return
	}
	prev := it.node
	it.list.purgeBarrier.SLock()
	next := prev.left.Load()
	next.pin()
	it.list.purgeBarrier.SUnlock()

	it.node = next
	prev.release(it.list.purgatory)
}

// Close releases the iterator's hold on its current node. It must be
// called exactly once; calling any other method on it afterward is
// undefined.
func (it *Iterator[T]) Close() {
	if it.node == nil {
		return
	}
	it.node.release(it.list.purgatory)
	it.node = nil
}

// Clone returns an independent iterator positioned at the same node as it.
func (it *Iterator[T]) Clone() *Iterator[T] {
	it.node.pin()
	return &Iterator[T]{list: it.list, node: it.node}
}

// Rebind repositions it to the same node other is positioned at, pinning
// other's node before releasing its own previous node.
func (it *Iterator[T]) Rebind(other *Iterator[T]) {
	other.node.pin()
	it.node.release(it.list.purgatory)
	it.list = other.list
	it.node = other.node
}
