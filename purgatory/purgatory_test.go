package purgatory

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dijkstracula/go-cds/ilock"
)

// fakeNode is a minimal Retireable used to exercise the purgatory in
// isolation from any real collection.
type fakeNode struct {
	id        int
	refs      int32
	purged    int32
	neighbors []Retireable
	retired   bool
	freed     int32
}

func (n *fakeNode) Pins() int32 { return atomic.LoadInt32(&n.refs) }
func (n *fakeNode) Purged() bool {
	return atomic.LoadInt32(&n.purged) != 0
}
func (n *fakeNode) SetPurged() { atomic.StoreInt32(&n.purged, 1) }
func (n *fakeNode) Neighbors() []Retireable { return n.neighbors }
func (n *fakeNode) Unpin() int32 {
	return atomic.AddInt32(&n.refs, -1)
}
func (n *fakeNode) Retired() bool { return n.retired }
func (n *fakeNode) Free()         { atomic.StoreInt32(&n.freed, 1) }

// newPurgatory returns a Purgatory whose background worker effectively never
// fires, so a test can drive scan() itself without racing the worker.
func newPurgatory(t *testing.T) *Purgatory {
	t.Helper()
	return New(ilock.New(), WithInterval(time.Hour))
}

func TestNodeSurvivesOneFullScanBeforeFreeing(t *testing.T) {
	p := newPurgatory(t)
	defer p.Close()

	n := &fakeNode{id: 1, retired: true}
	p.Push(n)

	p.scan()
	assert.True(t, n.Purged(), "first scan should mark a zero-ref node, not free it")
	assert.Zero(t, n.freed, "a node must not be freed on its first zero-ref sighting")

	p.scan()
	assert.Equal(t, int32(1), n.freed, "a node seen at zero ref on two scans must be freed")
}

func TestRepinBetweenScansPreventsReclaim(t *testing.T) {
	p := newPurgatory(t)
	defer p.Close()

	n := &fakeNode{id: 1, retired: true}
	p.Push(n)
	p.scan()
	require.True(t, n.Purged())

	atomic.StoreInt32(&n.refs, 1) // an iterator re-pinned it
	p.scan()
	assert.Zero(t, n.freed, "a re-pinned node must not be freed")

	atomic.StoreInt32(&n.refs, 0)
	p.Push(n) // re-enters the purgatory once it drops to zero again
	p.scan()
	p.scan()
	assert.Equal(t, int32(1), n.freed)
}

func TestReclaimCascadesIntoNeighbors(t *testing.T) {
	p := newPurgatory(t)
	defer p.Close()

	neighbor := &fakeNode{id: 2, refs: 1, retired: true}
	n := &fakeNode{id: 1, retired: true, neighbors: []Retireable{neighbor}}
	p.Push(n)

	p.scan()
	p.scan()
	assert.Equal(t, int32(1), n.freed)

	// Freeing n pushes the neighbor back into the purgatory, where it gets
	// its own one-scan grace period before it is freed.
	p.scan()
	p.scan()
	assert.Equal(t, int32(1), neighbor.freed, "releasing n's last structural reference should free its neighbor too")
}

// TestReclaimNeverFreesAnUnretiredNeighbor guards against a regression
// where a retained neighbor's ref count dropping to zero was enough on its
// own to queue it for reclamation, even though that neighbor -- an END
// sentinel, or any other node still reachable from the collection -- was
// never itself unlinked. Only Retired()==true makes a zero-ref neighbor
// eligible.
func TestReclaimNeverFreesAnUnretiredNeighbor(t *testing.T) {
	p := newPurgatory(t)
	defer p.Close()

	sentinel := &fakeNode{id: 2, refs: 1, retired: false}
	n := &fakeNode{id: 1, retired: true, neighbors: []Retireable{sentinel}}
	p.Push(n)

	p.scan()
	p.scan()
	assert.Equal(t, int32(1), n.freed)
	assert.Zero(t, sentinel.freed, "an unretired neighbor must survive even after its ref count is unpinned to zero")
	assert.Equal(t, int32(0), sentinel.Pins(), "the neighbor's ref count is still unpinned on n's behalf")
}

func TestCloseDrainsOutstandingNodesSynchronously(t *testing.T) {
	p := New(ilock.New(), WithInterval(time.Hour))
	n := &fakeNode{id: 1, retired: true}
	p.Push(n)

	p.Close()
	assert.Equal(t, int32(1), n.freed, "Close must drain the purgatory without waiting for the scan interval")
	assert.Equal(t, int64(1), p.Freed())
}

func TestConcurrentPushesAreAllEventuallyFreed(t *testing.T) {
	p := New(ilock.New(), WithInterval(5*time.Millisecond))
	defer p.Close()

	const count = 200
	nodes := make([]*fakeNode, count)
	for i := range nodes {
		nodes[i] = &fakeNode{id: i, retired: true}
	}

	done := make(chan struct{}, count)
	for _, n := range nodes {
		n := n
		go func() {
			p.Push(n)
			done <- struct{}{}
		}()
	}
	for range nodes {
		<-done
	}

	require.Eventually(t, func() bool {
		for _, n := range nodes {
			if atomic.LoadInt32(&n.freed) == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}
