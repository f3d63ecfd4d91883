// Package purgatory implements the deferred-reclamation discipline shared by
// the avltree and list packages: a node that has been unlinked from its
// collection (tagged DELETED) cannot be freed the moment its last iterator
// drops it, because another goroutine may be mid-traversal, holding a raw
// pointer to that node that it obtained just before the drop but has not
// yet pinned. Freeing immediately would leave that goroutine dereferencing
// freed memory.
//
// Instead, a node whose reference count reaches zero is pushed into a
// per-collection Purgatory. A single background worker periodically scans
// the purgatory and only frees a node once it has observed that node at a
// ref count of zero on two separate scans -- the node's first zero-ref
// sighting is recorded (but not acted on); only a second, later sighting of
// the same zero-ref state frees it. Anything that re-pins the node in
// between (a structural reference from a neighbor, or a fresh iterator)
// resets that clock: the node simply drops out of consideration until it
// next reaches zero and is pushed again.
//
// A purge barrier -- an *ilock.Mutex used purely in its S/X states --
// separates a scan's decision to free a node from any traversal that might
// be about to read a pointer to it: traversal holds the barrier shared
// while it reads a neighbor link and pins it, and a scan holds the barrier
// exclusive while it takes its snapshot of newly-retired nodes. Because
// those two critical sections can never overlap, a scan never observes (and
// therefore never frees) a node that a traversal is in the middle of
// reaching.
package purgatory

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dijkstracula/go-cds/ilock"
)

// Retireable is implemented by a collection's node type to participate in
// deferred reclamation. A collection calls Push the instant a node's own
// reference count drops to zero; everything else is driven by the
// Purgatory's worker.
type Retireable interface {
	// Pins reports the node's current reference count.
	Pins() int32
	// Purged reports whether a previous scan has already recorded this
	// node at a zero ref count.
	Purged() bool
	// SetPurged records that this scan found the node at a zero ref
	// count, starting its one-scan grace period.
	SetPurged()
	// Neighbors returns the structural references this node was still
	// holding (its DELETED-node links to its former neighbors). These
	// must be released -- and may themselves cascade into the purgatory
	// -- once the node is freed.
	Neighbors() []Retireable
	// Unpin atomically decrements the node's reference count and
	// returns the value after the decrement.
	Unpin() int32
	// Retired reports whether this node has itself been unlinked from
	// its collection. A neighbor returned by Neighbors is very often
	// still a live, reachable part of the collection -- retaining it was
	// only ever about keeping it from vanishing out from under a
	// DELETED node's stale snapshot, not about marking it for
	// reclamation -- so reclaim must never queue a Neighbors entry for
	// which this reports false, no matter what its ref count reads.
	Retired() bool
	// Free performs any node-specific teardown once reclamation is
	// certain to be safe. After Free returns, nothing may touch the
	// node again.
	Free()
}

// record is one entry in the lock-free, multi-producer stack that
// collections push retired nodes onto. Its next field is set by the
// producer before the record is published and, from that point on, is only
// read by the single purgatory worker goroutine -- so it needs no further
// synchronization once it has left the shared, atomically-updated head.
type record struct {
	node Retireable
	next *record
}

// Purgatory is the per-collection deferred-reclamation queue and worker
// described in spec.md §4.2. Each collection (an avltree.Tree or a
// list.List) owns exactly one Purgatory and exactly one purge-barrier
// *ilock.Mutex; they are never shared across collections.
type Purgatory struct {
	head    atomic.Pointer[record]
	barrier *ilock.Mutex
	interval time.Duration

	// pending holds nodes marked Purged() on a prior scan, awaiting
	// reconfirmation. It is touched only by the worker goroutine (or by
	// Close, after the worker has been joined), so it needs no lock of
	// its own.
	pending []Retireable

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once

	freed int64
}

// Option configures a Purgatory at construction time.
type Option func(*Purgatory)

// WithInterval overrides the default 100ms idle sleep between scans.
func WithInterval(d time.Duration) Option {
	return func(p *Purgatory) { p.interval = d }
}

// New creates a Purgatory guarded by barrier and starts its background
// worker. barrier must be the same *ilock.Mutex the owning collection takes
// in S mode around every traversal step that reads a neighbor pointer.
func New(barrier *ilock.Mutex, opts ...Option) *Purgatory {
	p := &Purgatory{
		barrier:  barrier,
		interval: 100 * time.Millisecond,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Push enqueues a node the instant its reference count has reached zero.
func (p *Purgatory) Push(n Retireable) {
	if n == nil {
		return
	}
	r := &record{node: n}
	for {
		old := p.head.Load()
		r.next = old
		if p.head.CompareAndSwap(old, r) {
			return
		}
	}
}

// Freed returns the number of nodes this Purgatory has reclaimed so far.
// Intended for tests and the "live allocations reach zero" validator.
func (p *Purgatory) Freed() int64 {
	return atomic.LoadInt64(&p.freed)
}

func (p *Purgatory) run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.scan()
		}
	}
}

// Close stops the worker and synchronously drains every node still tracked
// by the purgatory -- including nodes mid-way through their one-scan grace
// period -- before returning. This is the Go analogue of spec.md §4.2 and
// §5's shutdown protocol: "set a flag, wake or join the worker, drain
// outstanding retired nodes synchronously, then tear down sentinels."
func (p *Purgatory) Close() {
	p.once.Do(func() {
		close(p.stop)
		<-p.stopped
	})
	for p.head.Load() != nil || len(p.pending) != 0 {
		p.scan()
	}
}

// scan implements the two-phase mark/sweep pass of spec.md §4.2: a node
// must be observed at a zero reference count on two separate scans before
// it is freed. The first sighting is recorded in p.pending; only a second
// sighting -- of a node already in p.pending -- is acted on.
//
// Every record currently queued is snapshotted out from under the shared
// head in a single atomic swap, taken while the purge barrier is held
// exclusive. Anything a producer pushes after that swap begins a fresh
// chain rooted at a nil head and is left entirely for the next scan --
// equivalent to spec.md's "records added between H1 and H2 remain for the
// next pass," achieved with one swap instead of two snapshots compared
// under the barrier.
func (p *Purgatory) scan() {
	p.barrier.XLock()
	batch := p.head.Swap(nil)
	p.barrier.XUnlock()

	if batch == nil && len(p.pending) == 0 {
		return
	}

	var freshlyMarked []Retireable
	var toFree []Retireable

	for cur := batch; cur != nil; cur = cur.next {
		switch {
		case cur.node.Pins() != 0:
			// Re-pinned since it was retired; a future zero-crossing
			// will push it again.
		case cur.node.Purged():
			// A duplicate record for a node already marked earlier in
			// this same batch, or already tracked in p.pending from a
			// prior scan -- drop it, the existing tracking suffices.
			//
			// If a node were re-pinned after SetPurged but before this
			// batch is processed, it would land here too and its
			// "purged" marker would never clear, so a later re-push
			// once it drops back to zero would be dropped as a
			// duplicate instead of restarting its grace period. Neither
			// collection can produce that sequence today -- a node only
			// reaches Push after being unlinked (DELETED), and nothing
			// DELETED is ever re-reached to be re-pinned -- but a future
			// Retireable that can be revived after retirement would need
			// SetPurged's marker cleared on re-pin to stay correct.
		default:
			cur.node.SetPurged()
			freshlyMarked = append(freshlyMarked, cur.node)
		}
	}

	still := p.pending[:0]
	for _, n := range p.pending {
		if n.Pins() != 0 {
			continue
		}
		toFree = append(toFree, n)
	}
	p.pending = append(still, freshlyMarked...)

	for _, n := range toFree {
		p.reclaim(n)
	}
}

// reclaim releases the structural references a DELETED node was still
// holding on its former neighbors -- cascading into the purgatory again if
// that drops an already-Retired neighbor's own ref count to zero -- and then
// frees the node.
//
// A neighbor is always unpinned, since retainNeighbors always pinned it, but
// it is only ever pushed if Retired also reports true: most neighbors
// returned by Neighbors are still live, reachable parts of the collection,
// and their ref count reaching zero here means only that nothing is
// currently using them as a retained snapshot target, not that they are
// eligible for reclamation. Pushing an unretired neighbor would let a scan
// later Free a node the collection still considers live.
func (p *Purgatory) reclaim(n Retireable) {
	for _, neighbor := range n.Neighbors() {
		if neighbor == nil {
			continue
		}
		if neighbor.Unpin() == 0 && neighbor.Retired() {
			p.Push(neighbor)
		}
	}
	n.Free()
	atomic.AddInt64(&p.freed, 1)
}
