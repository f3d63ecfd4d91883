// Package avltree implements a concurrent ordered map backed by an AVL
// tree. A single collection-wide structural lock serializes Insert/Erase
// against each other and against the Size/Empty/Begin/End/Find
// accessors, but an Iterator's Next does not retake that lock: it walks
// atomic link fields directly, coordinating with concurrent structural
// edits only through the purgatory's purge barrier (see the purgatory
// package).
package avltree

import (
	"sync/atomic"

	"github.com/dijkstracula/go-cds/ilock"
	"github.com/dijkstracula/go-cds/purgatory"
)

// Pair is a key/value tuple, used by NewFromSeq and InsertAll to build or
// extend a Tree from a batch of entries at once.
type Pair[K, V any] struct {
	Key   K
	Value V
}

// Tree is a concurrent ordered map from K to V. The zero value is not
// usable; construct one with New or NewFromSeq.
type Tree[K, V any] struct {
	cmp Comparator[K]

	// structLock serializes Insert, Erase, Clear and Close against each
	// other and against Size/Empty/Begin/End/Find. It is taken only in its
	// S and X states.
	structLock *ilock.Mutex

	// purgeBarrier separates an iterator reading a neighbor link (held S)
	// from the purgatory deciding what is safe to free (held X). It is
	// never the same Mutex as structLock: spec.md §4.3 requires that
	// Next not retake the structural lock at all.
	purgeBarrier *ilock.Mutex

	purgatory *purgatory.Purgatory

	root *node[K, V]
	end  *node[K, V]
	size int

	live atomic.Int64
}

// New constructs an empty Tree ordered by cmp.
func New[K, V any](cmp Comparator[K]) *Tree[K, V] {
	t := &Tree[K, V]{
		cmp:          cmp,
		structLock:   ilock.New(),
		purgeBarrier: ilock.New(),
	}
	t.end = newEndNode[K, V](&t.live)
	t.purgatory = purgatory.New(t.purgeBarrier)
	return t
}

// NewFromSeq constructs a Tree ordered by cmp and populated with pairs, in
// order. A later duplicate key is a no-op, same as calling Insert directly.
func NewFromSeq[K, V any](cmp Comparator[K], pairs []Pair[K, V]) *Tree[K, V] {
	t := New[K, V](cmp)
	t.InsertAll(pairs)
	return t
}

// Size returns the number of ACTIVE entries in the map.
func (t *Tree[K, V]) Size() int {
	t.structLock.SLock()
	defer t.structLock.SUnlock()
	return t.size
}

// Empty reports whether the map holds no ACTIVE entries.
func (t *Tree[K, V]) Empty() bool {
	return t.Size() == 0
}

// Begin returns an iterator over the smallest key in the map, or End if the
// map is empty.
func (t *Tree[K, V]) Begin() *Iterator[K, V] {
	t.structLock.SLock()
	defer t.structLock.SUnlock()
	if t.root == nil {
		return t.iteratorAt(t.end)
	}
	return t.iteratorAt(leftmost(t.root))
}

// End returns an iterator over the fixed END sentinel.
func (t *Tree[K, V]) End() *Iterator[K, V] {
	t.structLock.SLock()
	defer t.structLock.SUnlock()
	return t.iteratorAt(t.end)
}

// Find returns an iterator over key, or End if no ACTIVE entry has that
// key.
func (t *Tree[K, V]) Find(key K) *Iterator[K, V] {
	t.structLock.SLock()
	defer t.structLock.SUnlock()
	if t.root == nil {
		return t.iteratorAt(t.end)
	}
	n, cmp := t.descend(key)
	if cmp != 0 || !n.isActive() {
		return t.iteratorAt(t.end)
	}
	return t.iteratorAt(n)
}

// Insert adds key/value if key is not already present. A duplicate key is
// a no-op: it does not overwrite the existing value.
func (t *Tree[K, V]) Insert(key K, value V) {
	t.structLock.XLock()
	defer t.structLock.XUnlock()

	if t.root == nil {
		n := newActiveNode[K, V](key, value, &t.live)
		t.root = n
		t.size++
		t.relinkEnd()
		return
	}

	parent, cmp := t.descend(key)
	if cmp == 0 {
		return
	}

	n := newActiveNode[K, V](key, value, &t.live)
	n.parent.Store(parent)
	if cmp < 0 {
		parent.left.Store(n)
	} else {
		parent.right.Store(n)
	}
	t.size++

	t.rebalance(parent)
	t.relinkEnd()
}

// InsertPair is a convenience wrapper around Insert for a Pair.
func (t *Tree[K, V]) InsertPair(p Pair[K, V]) {
	t.Insert(p.Key, p.Value)
}

// InsertAll inserts every pair in order, same as calling Insert in a loop.
func (t *Tree[K, V]) InsertAll(pairs []Pair[K, V]) {
	for _, p := range pairs {
		t.Insert(p.Key, p.Value)
	}
}

// Erase removes key if present. It is a no-op if the key is absent. If a
// live iterator is sitting on the removed node, the node is kept as a
// DELETED waypoint -- reachable from that iterator, but not from the map
// itself -- until the iterator lets go of it.
func (t *Tree[K, V]) Erase(key K) {
	t.structLock.XLock()
	defer t.structLock.XUnlock()

	if t.root == nil {
		return
	}
	target, cmp := t.descend(key)
	if cmp != 0 || !target.isActive() {
		return
	}

	t.size--
	rebalanceFrom := t.spliceOut(target)
	target.tag.Store(int32(deleted))

	if target.Pins() == 0 {
		t.purgatory.Push(target)
	} else {
		t.retainNeighbors(target)
	}

	t.rebalance(rebalanceFrom)
	t.relinkEnd()
}

// retainNeighbors bumps the reference count of a just-DELETED node's
// parent/left/right so that they cannot be freed out from under its
// retained snapshot while some iterator is still using it as a waypoint.
func (t *Tree[K, V]) retainNeighbors(n *node[K, V]) {
	for _, nb := range [3]*node[K, V]{n.parent.Load(), n.left.Load(), n.right.Load()} {
		if nb != nil && !nb.isEnd() {
			nb.pin()
		}
	}
}

// Clear removes every entry. An iterator that outlives Clear remains safe
// to dereference, close, or advance -- advancing it will eventually reach
// End.
func (t *Tree[K, V]) Clear() {
	t.structLock.XLock()
	defer t.structLock.XUnlock()

	if t.root == nil {
		return
	}

	var all []*node[K, V]
	var walk func(n *node[K, V])
	walk = func(n *node[K, V]) {
		if n == nil {
			return
		}
		walk(realChild(n.left.Load()))
		r := realChild(n.right.Load())
		all = append(all, n)
		walk(r)
	}
	walk(t.root)

	t.root = nil
	t.size = 0
	t.end.parent.Store(nil)

	// Decide, up front and from each node's own pre-teardown reference
	// count, which nodes a live iterator is sitting on. Every such node's
	// neighbors must be protected before anything is pushed to the
	// purgatory, or a node kept alive only by a not-yet-applied bump could
	// be freed first.
	retained := make([]bool, len(all))
	for i, n := range all {
		n.tag.Store(int32(deleted))
		retained[i] = n.Pins() != 0
	}
	for i, n := range all {
		if retained[i] {
			t.retainNeighbors(n)
		}
	}
	for i, n := range all {
		if !retained[i] && n.Pins() == 0 {
			t.purgatory.Push(n)
		}
	}
}

// Close tears the map down: every entry is released through the same path
// as Clear, the purgatory's worker is stopped and drained, and finally the
// END sentinel itself is freed -- END is never tagged DELETED, so it never
// passes through the purgatory on its own, and Close is the one place
// responsible for bringing LiveNodes to zero. Close does not wait for
// iterators the caller has not yet closed -- those, including any
// outstanding End() iterator, must be closed first, same as any other
// resource-owning type.
func (t *Tree[K, V]) Close() {
	t.Clear()
	t.purgatory.Close()
	t.end.Free()
}

// LiveNodes reports the number of node allocations this Tree has made that
// have not yet been freed, including the END sentinel. Intended for tests
// asserting that reclamation eventually reaches zero.
func (t *Tree[K, V]) LiveNodes() int64 {
	return t.live.Load()
}

// descend walks from the root toward key. An exact match is returned with
// cmp == 0. Otherwise the last node visited before falling off the real
// tree is returned, with cmp giving the side a new key would attach to.
func (t *Tree[K, V]) descend(key K) (n *node[K, V], cmp int) {
	cur := t.root
	for {
		c := t.cmp(key, cur.key)
		switch {
		case c == 0:
			return cur, 0
		case c < 0:
			if l := realChild(cur.left.Load()); l != nil {
				cur = l
				continue
			}
			return cur, -1
		default:
			if r := realChild(cur.right.Load()); r != nil {
				cur = r
				continue
			}
			return cur, 1
		}
	}
}

func leftmost[K, V any](n *node[K, V]) *node[K, V] {
	for {
		l := realChild(n.left.Load())
		if l == nil {
			return n
		}
		n = l
	}
}

func maximum[K, V any](n *node[K, V]) *node[K, V] {
	for {
		r := realChild(n.right.Load())
		if r == nil {
			return n
		}
		n = r
	}
}

// relinkEnd attaches the END sentinel as the right child of the current
// maximum ACTIVE node (or detaches it entirely if the tree is empty), so
// that END is always reachable as the rightmost descendant of root.
func (t *Tree[K, V]) relinkEnd() {
	if t.root == nil {
		t.end.parent.Store(nil)
		return
	}
	max := maximum(t.root)
	t.end.parent.Store(max)
	max.right.Store(t.end)
}

// transplant replaces the subtree rooted at u with the subtree rooted at v
// in u's parent (or at the tree root, if u had none). It does not touch
// u's own link fields.
func (t *Tree[K, V]) transplant(u, v *node[K, V]) {
	up := u.parent.Load()
	switch {
	case up == nil:
		t.root = v
	case up.left.Load() == u:
		up.left.Store(v)
	default:
		up.right.Store(v)
	}
	if v != nil {
		v.parent.Store(up)
	}
}

// spliceOut unlinks z from the tree using the standard two-children
// deletion-by-predecessor splice, and returns the node from which
// rebalancing should proceed upward. It never writes to z's own link
// fields, so a DELETED node with outstanding iterators retains a valid
// snapshot of its pre-deletion neighbors for free.
func (t *Tree[K, V]) spliceOut(z *node[K, V]) *node[K, V] {
	left := realChild(z.left.Load())
	right := realChild(z.right.Load())

	var rebalanceFrom *node[K, V]

	switch {
	case left == nil:
		rebalanceFrom = z.parent.Load()
		t.transplant(z, right)
	case right == nil:
		rebalanceFrom = z.parent.Load()
		t.transplant(z, left)
	default:
		y := maximum(left)
		if yp := y.parent.Load(); yp != z {
			rebalanceFrom = yp
			yl := realChild(y.left.Load())
			t.transplant(y, yl)
			y.left.Store(left)
			left.parent.Store(y)
		} else {
			rebalanceFrom = y
		}
		t.transplant(z, y)
		y.right.Store(right)
		right.parent.Store(y)
	}
	return rebalanceFrom
}

// rebalance walks from start up to the root, recomputing each ancestor's
// height and applying a rotation wherever the AVL balance invariant has
// been violated. It is shared by Insert and Erase.
func (t *Tree[K, V]) rebalance(start *node[K, V]) {
	n := start
	for n != nil {
		recomputeHeight(n)
		bf := balanceFactor(n)

		switch {
		case bf > 1:
			if balanceFactor(realChild(n.left.Load())) < 0 {
				n = t.rotateLeftRight(n)
			} else {
				n = t.rotateRight(n)
			}
		case bf < -1:
			if balanceFactor(realChild(n.right.Load())) > 0 {
				n = t.rotateRightLeft(n)
			} else {
				n = t.rotateLeft(n)
			}
		}
		n = n.parent.Load()
	}
}

// reparent fixes up parent's child pointer (or the tree root) after n has
// been replaced by pivot at that structural position.
func (t *Tree[K, V]) reparent(parent, n, pivot *node[K, V]) {
	switch {
	case parent == nil:
		t.root = pivot
	case parent.left.Load() == n:
		parent.left.Store(pivot)
	default:
		parent.right.Store(pivot)
	}
}

// rotateRight rotates n's left child up into n's position. Returns the new
// subtree root.
func (t *Tree[K, V]) rotateRight(n *node[K, V]) *node[K, V] {
	pivot := realChild(n.left.Load())
	parent := n.parent.Load()

	n.left.Store(pivot.right.Load())
	if l := realChild(n.left.Load()); l != nil {
		l.parent.Store(n)
	}
	pivot.right.Store(n)
	n.parent.Store(pivot)
	pivot.parent.Store(parent)

	t.reparent(parent, n, pivot)

	recomputeHeight(n)
	recomputeHeight(pivot)
	return pivot
}

// rotateLeft rotates n's right child up into n's position. Returns the new
// subtree root.
//
// Because END is only ever linked as the right child of the global
// maximum, and that maximum's own right pointer is never touched by this
// rotation (only n's right and pivot's left are rewired), END rides along
// correctly with no special-casing: whichever node holds it keeps holding
// it, and relinkEnd fixes up the final position once rebalancing settles.
func (t *Tree[K, V]) rotateLeft(n *node[K, V]) *node[K, V] {
	pivot := realChild(n.right.Load())
	parent := n.parent.Load()

	n.right.Store(pivot.left.Load())
	if r := realChild(n.right.Load()); r != nil {
		r.parent.Store(n)
	}
	pivot.left.Store(n)
	n.parent.Store(pivot)
	pivot.parent.Store(parent)

	t.reparent(parent, n, pivot)

	recomputeHeight(n)
	recomputeHeight(pivot)
	return pivot
}

func (t *Tree[K, V]) rotateLeftRight(n *node[K, V]) *node[K, V] {
	n.left.Store(t.rotateLeft(realChild(n.left.Load())))
	return t.rotateRight(n)
}

func (t *Tree[K, V]) rotateRightLeft(n *node[K, V]) *node[K, V] {
	n.right.Store(t.rotateRight(realChild(n.right.Load())))
	return t.rotateLeft(n)
}
