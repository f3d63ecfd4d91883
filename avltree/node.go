package avltree

import (
	"sync/atomic"

	"github.com/dijkstracula/go-cds/purgatory"
)

// Comparator orders two keys the way a less-than operator would: negative
// if a < b, zero if a == b, positive if a > b.
type Comparator[K any] func(a, b K) int

// tag mirrors spec.md §3's node lifecycle: ACTIVE, DELETED, or the fixed END
// sentinel. There is no BEGIN sentinel in the map -- the leftmost ACTIVE
// node (or END itself, if the tree is empty) plays that role implicitly.
type tag int32

const (
	active tag = iota
	deleted
	sentinelEnd
)

// node is a single position in the tree. Height is read and written only
// while the tree's structural lock is held, but the link fields are atomic
// pointers: spec.md §4.3 requires that an iterator's traversal not retake
// the structural lock, so a Next() call and a concurrent insert/erase can
// legitimately race over these fields, and only atomics make that race
// free of undefined behavior.
type node[K, V any] struct {
	key   K
	value V

	parent atomic.Pointer[node[K, V]]
	left   atomic.Pointer[node[K, V]]
	right  atomic.Pointer[node[K, V]]

	height int32 // guarded by the owning Tree's structLock

	tag    atomic.Int32
	refs   atomic.Int32
	purged atomic.Bool

	// live is the owning Tree's allocation counter. Every node constructor
	// bumps it; Free brings it back down, so the "live node count reaches
	// zero once the collection and every iterator on it are gone" property
	// in SPEC_FULL.md §11 can be checked directly instead of inferred.
	live *atomic.Int64
}

func newActiveNode[K, V any](key K, value V, live *atomic.Int64) *node[K, V] {
	n := &node[K, V]{key: key, value: value, live: live}
	n.tag.Store(int32(active))
	live.Add(1)
	return n
}

func newEndNode[K, V any](live *atomic.Int64) *node[K, V] {
	n := &node[K, V]{live: live}
	n.tag.Store(int32(sentinelEnd))
	live.Add(1)
	return n
}

func (n *node[K, V]) isActive() bool { return n != nil && tag(n.tag.Load()) == active }
func (n *node[K, V]) isEnd() bool    { return n != nil && tag(n.tag.Load()) == sentinelEnd }
func (n *node[K, V]) isDeleted() bool {
	return n != nil && tag(n.tag.Load()) == deleted
}

// pin increments the node's reference count, pinning it against
// reclamation. Called whenever an iterator begins referencing a node.
func (n *node[K, V]) pin() { n.refs.Add(1) }

// release decrements the reference count and, if it reaches zero on a node
// that has already been unlinked (DELETED), hands the node to the
// purgatory for deferred reclamation. ACTIVE nodes and sentinels dropping
// to a zero iterator-count simply stay part of the live structure.
func (n *node[K, V]) release(p *purgatory.Purgatory) {
	if n.refs.Add(-1) == 0 && n.isDeleted() {
		p.Push(n)
	}
}

// getHeight treats both a nil pointer and the END sentinel as "no real
// child here": END never participates in balancing, only in the linkage
// iterators use to find it.
func getHeight[K, V any](n *node[K, V]) int32 {
	if n == nil || n.isEnd() {
		return -1
	}
	return n.height
}

// realChild normalizes a raw link load for structural code: nil and the END
// sentinel are equivalent "absent" values everywhere except the rightmost
// node's own right pointer, which is the one place END is deliberately
// linked in.
func realChild[K, V any](n *node[K, V]) *node[K, V] {
	if n == nil || n.isEnd() {
		return nil
	}
	return n
}

func recomputeHeight[K, V any](n *node[K, V]) {
	lh := getHeight(n.left.Load())
	rh := getHeight(n.right.Load())
	if lh > rh {
		n.height = lh + 1
	} else {
		n.height = rh + 1
	}
}

func balanceFactor[K, V any](n *node[K, V]) int {
	if n == nil {
		return 0
	}
	return int(getHeight(n.left.Load()) - getHeight(n.right.Load()))
}

// --- purgatory.Retireable -------------------------------------------------

func (n *node[K, V]) Pins() int32   { return n.refs.Load() }
func (n *node[K, V]) Purged() bool  { return n.purged.Load() }
func (n *node[K, V]) SetPurged()    { n.purged.Store(true) }
func (n *node[K, V]) Unpin() int32  { return n.refs.Add(-1) }
func (n *node[K, V]) Retired() bool { return n.isDeleted() }

// Neighbors returns the structural references a DELETED node was still
// holding on its former parent/left/right at the moment it was unlinked
// (see (*Tree).spliceOut), so the purgatory can release them once this node
// is actually freed. END is deliberately excluded: retainNeighbors never
// pins it in the first place (END is immune to reclamation by construction,
// never tagged DELETED), so Neighbors must not hand it to reclaim for an
// unmatched Unpin either, or its reference count would be driven negative
// out from under a concurrently outstanding End() iterator.
func (n *node[K, V]) Neighbors() []purgatory.Retireable {
	var out []purgatory.Retireable
	if p := n.parent.Load(); p != nil && !p.isEnd() {
		out = append(out, p)
	}
	if l := n.left.Load(); l != nil && !l.isEnd() {
		out = append(out, l)
	}
	if r := n.right.Load(); r != nil && !r.isEnd() {
		out = append(out, r)
	}
	return out
}

// Free severs this node's own links once reclamation is certain to be
// safe, so nothing can walk into it from a stale neighbor after this point.
func (n *node[K, V]) Free() {
	n.parent.Store(nil)
	n.left.Store(nil)
	n.right.Store(nil)
	n.live.Add(-1)
}
