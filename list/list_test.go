package list

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func intEq(a, b int) bool { return a == b }

func values(l *List[int]) []int {
	var out []int
	for it := l.Begin(); !it.AtEnd(); it.Next() {
		out = append(out, it.Value())
	}
	return out
}

func TestEmptyListBeginEqualsEnd(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()

	b := l.Begin()
	defer b.Close()
	e := l.End()
	defer e.Close()

	assert.True(t, b.Equal(e))
	assert.True(t, l.Empty())
}

// Scenario 4 (spec.md §8): construct {1,2,3,4}, push_back 5, push_front 0,
// insert-before-end 6, then insert-before-that-node 7. Forward iteration
// must yield 0,1,2,3,4,5,7,6.
func TestScenario4MixedInsertOrdering(t *testing.T) {
	l := NewFromSeq[int](intEq, []int{1, 2, 3, 4})
	defer l.Close()

	l.PushBack(5)
	l.PushFront(0)

	end := l.End()
	l.Insert(end, 6)
	end.Close()

	at6 := l.Find(6)
	l.Insert(at6, 7)
	at6.Close()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 7, 6}, values(l))
	assert.Equal(t, 8, l.Size())
}

// Scenario 5 (spec.md §8), scaled down to keep the suite fast; see
// stress_test.go for a build-tag-gated variant at the full magnitude.
func TestScenario5ConcurrentPushBack(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()

	const workers = 4
	const perWorker = 2500

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < perWorker; i++ {
				l.PushBack(i)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, workers*perWorker, l.Size())

	var count int
	for it := l.Begin(); !it.AtEnd(); it.Next() {
		count++
	}
	assert.Equal(t, workers*perWorker, count)
}

// Scenario 6 (spec.md §8): pre-load N nodes, then run concurrent
// erase-front and walk-to-end goroutines gated on a start barrier. The walk
// goroutines must complete without touching freed memory (race detector
// catches any lapse), and size must end up >= N - erases performed.
func TestScenario6ConcurrentEraseFrontVsWalk(t *testing.T) {
	const n = 2000
	l := New[int](intEq)
	defer l.Close()
	for i := 0; i < n; i++ {
		l.PushBack(i)
	}

	var start sync.WaitGroup
	start.Add(1)

	var g errgroup.Group
	var erased [2]int32

	eraseFront := func(slot int) func() error {
		return func() error {
			start.Wait()
			count := 0
			for i := 0; i < n/4; i++ {
				it := l.Begin()
				if it.AtEnd() {
					it.Close()
					break
				}
				l.Erase(it)
				it.Close()
				count++
			}
			erased[slot] = int32(count)
			return nil
		}
	}
	walk := func() func() error {
		return func() error {
			start.Wait()
			for it := l.Begin(); !it.AtEnd(); it.Next() {
				_ = it.Value()
			}
			return nil
		}
	}

	g.Go(eraseFront(0))
	g.Go(eraseFront(1))
	g.Go(walk())
	g.Go(walk())

	start.Done()
	require.NoError(t, g.Wait())

	totalErased := int(erased[0] + erased[1])
	assert.GreaterOrEqual(t, l.Size(), n-totalErased)
}

func TestPushFrontPushBackOrdering(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()

	l.PushBack(2)
	l.PushBack(3)
	l.PushFront(1)
	l.PushFront(0)

	assert.Equal(t, []int{0, 1, 2, 3}, values(l))
}

func TestFindAbsentValueReturnsEnd(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()
	l.PushBack(1)

	it := l.Find(99)
	defer it.Close()
	assert.True(t, it.AtEnd())
}

func TestEraseAbsentIsNoOpOnDeletedNode(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()
	l.PushBack(1)

	it := l.Find(1)
	l.Erase(it)
	assert.Equal(t, 0, l.Size())

	l.Erase(it) // already DELETED: no-op
	assert.Equal(t, 0, l.Size())
	it.Close()
}

func TestEraseThenAdvanceReachesSuccessor(t *testing.T) {
	l := NewFromSeq[int](intEq, []int{1, 2, 3})
	defer l.Close()

	it := l.Find(2)
	l.Erase(it)
	it.Next()

	assert.Equal(t, 3, it.Value())
	it.Close()
}

func TestPushBackPopBackRestoresSizeAndSequence(t *testing.T) {
	l := NewFromSeq[int](intEq, []int{1, 2, 3})
	defer l.Close()
	before := values(l)

	l.PushBack(99)
	l.PopBack()

	assert.Equal(t, 3, l.Size())
	assert.Equal(t, before, values(l))
}

func TestPopBackOnEmptyListIsNoOp(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()
	l.PopBack()
	assert.Equal(t, 0, l.Size())
}

func TestBidirectionalIteration(t *testing.T) {
	l := NewFromSeq[int](intEq, []int{1, 2, 3})
	defer l.Close()

	it := l.End()
	it.Prev()
	var rev []int
	for !it.AtBegin() {
		rev = append(rev, it.Value())
		it.Prev()
	}
	it.Close()
	assert.Equal(t, []int{3, 2, 1}, rev)
}

func TestSetUpdatesValueInPlace(t *testing.T) {
	l := NewFromSeq[int](intEq, []int{1, 2, 3})
	defer l.Close()

	it := l.Find(2)
	it.Set(42)
	it.Close()

	assert.Equal(t, []int{1, 42, 3}, values(l))
}
