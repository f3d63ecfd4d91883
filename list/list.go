package list

import (
	"runtime"
	"sync/atomic"

	"github.com/dijkstracula/go-cds/ilock"
	"github.com/dijkstracula/go-cds/purgatory"
)

// List is a concurrent doubly-linked sequence of T. The zero value is not
// usable; construct one with New or NewFromSeq.
type List[T any] struct {
	eq Equal[T]

	// purgeBarrier separates an iterator reading a neighbor link (held S)
	// from the purgatory deciding what is safe to free (held X), same
	// role as avltree.Tree's purgeBarrier.
	purgeBarrier *ilock.Mutex
	purgatory    *purgatory.Purgatory

	begin *node[T]
	end   *node[T]

	size atomic.Int64
	live atomic.Int64
}

// New constructs an empty List. eq is used by Find to compare values.
func New[T any](eq Equal[T]) *List[T] {
	l := &List[T]{eq: eq, purgeBarrier: ilock.New()}
	l.begin = newSentinelNode[T](&l.live)
	l.end = newSentinelNode[T](&l.live)
	l.begin.right.Store(l.end)
	l.end.left.Store(l.begin)
	l.purgatory = purgatory.New(l.purgeBarrier)
	return l
}

// NewFromSeq constructs a List and pushes each value onto the back, in
// order.
func NewFromSeq[T any](eq Equal[T], values []T) *List[T] {
	l := New[T](eq)
	for _, v := range values {
		l.PushBack(v)
	}
	return l
}

// Size returns the number of ACTIVE nodes in the list.
func (l *List[T]) Size() int {
	return int(l.size.Load())
}

// Empty reports whether the list holds no ACTIVE nodes.
func (l *List[T]) Empty() bool {
	return l.Size() == 0
}

// Begin returns an iterator over the first ACTIVE node, or End if the list
// is empty.
func (l *List[T]) Begin() *Iterator[T] {
	l.purgeBarrier.SLock()
	n := l.begin.right.Load()
	n.pin()
	l.purgeBarrier.SUnlock()
	return &Iterator[T]{list: l, node: n}
}

// End returns an iterator over the fixed END sentinel.
func (l *List[T]) End() *Iterator[T] {
	l.end.pin()
	return &Iterator[T]{list: l, node: l.end}
}

// Find returns an iterator over the first ACTIVE node equal to v (per the
// List's Equal function), or End if none matches.
func (l *List[T]) Find(v T) *Iterator[T] {
	it := l.Begin()
	for !it.AtEnd() {
		if l.eq(it.Value(), v) {
			return it
		}
		it.Next()
	}
	return it
}

// PushFront inserts v as the new first element.
func (l *List[T]) PushFront(v T) {
	l.insertAfterNode(l.begin, v)
}

// PushBack inserts v as the new last element.
func (l *List[T]) PushBack(v T) {
	l.insertBeforeNode(l.end, v)
}

// Insert inserts v immediately before the position referenced by it. If it
// references BEGIN, this is equivalent to PushFront; if it references END,
// equivalent to PushBack (insertBeforeNode(end, ...) is exactly PushBack's
// own implementation). If it references a DELETED node, Insert is a no-op.
func (l *List[T]) Insert(it *Iterator[T], v T) {
	n := it.node
	if n.isDeleted() {
		return
	}
	if n == l.begin {
		l.PushFront(v)
		return
	}
	l.insertBeforeNode(n, v)
}

// insertBeforeNode inserts v immediately before the fixed node R, reading
// and re-reading R's current left neighbor until an uncontended insert
// succeeds. Locks are always taken left-to-right (spec.md §4.4/§5's
// deadlock-avoidance rule).
func (l *List[T]) insertBeforeNode(R *node[T], v T) *node[T] {
	for {
		L := R.left.Load()
		L.lock.Lock()
		R.lock.Lock()
		if L.right.Load() == R && R.left.Load() == L {
			n := l.spliceIn(L, R, v)
			R.lock.Unlock()
			L.lock.Unlock()
			return n
		}
		R.lock.Unlock()
		L.lock.Unlock()
		runtime.Gosched()
	}
}

// insertAfterNode inserts v immediately after the fixed node L.
func (l *List[T]) insertAfterNode(L *node[T], v T) *node[T] {
	for {
		R := L.right.Load()
		L.lock.Lock()
		R.lock.Lock()
		if L.right.Load() == R && R.left.Load() == L {
			n := l.spliceIn(L, R, v)
			R.lock.Unlock()
			L.lock.Unlock()
			return n
		}
		R.lock.Unlock()
		L.lock.Unlock()
		runtime.Gosched()
	}
}

// spliceIn links a freshly allocated node between L and R. Callers must
// hold both L.lock and R.lock, and must already have validated
// L.right == R && R.left == L.
func (l *List[T]) spliceIn(L, R *node[T], v T) *node[T] {
	n := newActiveNode[T](v, &l.live)
	n.left.Store(L)
	n.right.Store(R)
	L.right.Store(n)
	R.left.Store(n)
	l.size.Add(1)
	return n
}

// Erase unlinks the ACTIVE node it references and retires it to the
// purgatory. It is a no-op if it does not reference an ACTIVE node.
//
// Per spec.md §4.4's erase sequence: lock L, N, R left-to-right; revalidate;
// retag N DELETED; relink L.right = R, R.left = L. N's own left/right
// fields are left untouched by this splice, which is exactly what preserves
// them as a valid traversal snapshot for any iterator still sitting on N.
// If no iterator currently holds N, it is pushed to the purgatory
// immediately; otherwise L and R are pinned on N's behalf, since N's
// retained snapshot now depends on them outliving their own removal from
// the live list.
func (l *List[T]) Erase(it *Iterator[T]) {
	n := it.node
	if !n.isActive() {
		return
	}
	for {
		L := n.left.Load()
		R := n.right.Load()
		L.lock.Lock()
		n.lock.Lock()
		R.lock.Lock()
		if L.right.Load() == n && R.left.Load() == n {
			n.tag.Store(int32(deleted))
			L.right.Store(R)
			R.left.Store(L)
			l.size.Add(-1)

			R.lock.Unlock()
			n.lock.Unlock()
			L.lock.Unlock()

			if n.Pins() == 0 {
				l.purgatory.Push(n)
			} else {
				L.pin()
				R.pin()
			}
			return
		}
		R.lock.Unlock()
		n.lock.Unlock()
		L.lock.Unlock()
		runtime.Gosched()
	}
}

// PopBack erases the node immediately left of END. It is a no-op on an
// empty list.
func (l *List[T]) PopBack() {
	l.purgeBarrier.SLock()
	n := l.end.left.Load()
	if n == l.begin {
		l.purgeBarrier.SUnlock()
		return
	}
	n.pin()
	l.purgeBarrier.SUnlock()

	it := &Iterator[T]{list: l, node: n}
	l.Erase(it)
	it.Close()
}

// Close tears the list down: every entry is erased, the purgatory's worker
// is stopped and drained, and finally the BEGIN and END sentinels
// themselves are freed -- neither is ever tagged DELETED, so neither passes
// through the purgatory on its own, and Close is the one place responsible
// for bringing LiveNodes to zero. Close does not wait for iterators the
// caller has not yet closed.
func (l *List[T]) Close() {
	for {
		it := l.Begin()
		if it.AtEnd() {
			it.Close()
			break
		}
		l.Erase(it)
		it.Close()
	}
	l.purgatory.Close()
	l.begin.Free()
	l.end.Free()
}

// LiveNodes reports the number of node allocations this List has made that
// have not yet been freed, including both sentinels.
func (l *List[T]) LiveNodes() int64 {
	return l.live.Load()
}
