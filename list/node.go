// Package list implements a concurrent doubly-linked list sharing the
// purgatory deferred-reclamation discipline with the avltree package.
// Unlike the map, structural edits use fine-grained per-node locking
// (internal/spinlock.RW) in a fixed left-to-right order rather than a
// single collection-wide lock, since push_front and push_back on a list
// never need to contend with each other.
package list

import (
	"sync/atomic"

	"github.com/dijkstracula/go-cds/internal/spinlock"
	"github.com/dijkstracula/go-cds/purgatory"
)

// Equal reports whether two values should be considered the same for
// Find's purposes.
type Equal[T any] func(a, b T) bool

type tag int32

const (
	active tag = iota
	deleted
	sentinel
)

// node is a single position in the list. left/right are atomic so an
// iterator's traversal -- which deliberately does not take the list's own
// per-node write locks, only the purge barrier -- can read them free of
// data races while a concurrent insert or erase is rewriting them under
// lock elsewhere.
type node[T any] struct {
	value T
	lock  spinlock.RW

	left  atomic.Pointer[node[T]]
	right atomic.Pointer[node[T]]

	tag    atomic.Int32
	refs   atomic.Int32
	purged atomic.Bool

	live *atomic.Int64
}

func newActiveNode[T any](value T, live *atomic.Int64) *node[T] {
	n := &node[T]{value: value, live: live}
	n.tag.Store(int32(active))
	live.Add(1)
	return n
}

func newSentinelNode[T any](live *atomic.Int64) *node[T] {
	n := &node[T]{live: live}
	n.tag.Store(int32(sentinel))
	live.Add(1)
	return n
}

func (n *node[T]) isActive() bool  { return n != nil && tag(n.tag.Load()) == active }
func (n *node[T]) isDeleted() bool { return n != nil && tag(n.tag.Load()) == deleted }

func (n *node[T]) pin() { n.refs.Add(1) }

func (n *node[T]) release(p *purgatory.Purgatory) {
	if n.refs.Add(-1) == 0 && n.isDeleted() {
		p.Push(n)
	}
}

// --- purgatory.Retireable -------------------------------------------------

func (n *node[T]) Pins() int32   { return n.refs.Load() }
func (n *node[T]) Purged() bool  { return n.purged.Load() }
func (n *node[T]) SetPurged()    { n.purged.Store(true) }
func (n *node[T]) Unpin() int32  { return n.refs.Add(-1) }
func (n *node[T]) Retired() bool { return n.isDeleted() }

func (n *node[T]) Neighbors() []purgatory.Retireable {
	var out []purgatory.Retireable
	if l := n.left.Load(); l != nil {
		out = append(out, l)
	}
	if r := n.right.Load(); r != nil {
		out = append(out, r)
	}
	return out
}

func (n *node[T]) Free() {
	n.left.Store(nil)
	n.right.Store(nil)
	n.live.Add(-1)
}
