package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertValid walks the list in both directions and checks the universal
// invariants from spec.md §8: walking right from BEGIN visits exactly
// Size() ACTIVE nodes before reaching END; walking left from END visits the
// exact reverse sequence; and every adjacent pair agrees on both directions
// of the link (a.right == b iff b.left == a).
func assertValid[T any](t *testing.T, l *List[T]) {
	t.Helper()

	var forward []*node[T]
	cur := l.begin.right.Load()
	for cur != l.end {
		require.True(t, cur.isActive(), "a non-ACTIVE node must not be reachable by walking the list")
		forward = append(forward, cur)
		cur = cur.right.Load()
	}
	assert.Equal(t, l.Size(), len(forward))

	var backward []*node[T]
	cur = l.end.left.Load()
	for cur != l.begin {
		backward = append(backward, cur)
		cur = cur.left.Load()
	}
	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.Same(t, forward[i], backward[len(backward)-1-i], "reverse walk must be the mirror of the forward walk")
	}

	all := append([]*node[T]{l.begin}, append(append([]*node[T]{}, forward...), l.end)...)
	for i := 0; i+1 < len(all); i++ {
		a, b := all[i], all[i+1]
		assert.Same(t, b, a.right.Load(), "a.right must point to its successor")
		assert.Same(t, a, b.left.Load(), "b.left must point back to its predecessor")
	}
}

func TestValidatorHoldsAfterInterleavedPushEraseList(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()

	for i := 0; i < 20; i++ {
		l.PushBack(i)
		assertValid(t, l)
	}
	for _, v := range []int{5, 0, 19, 10} {
		it := l.Find(v)
		l.Erase(it)
		it.Close()
		assertValid(t, l)
	}
	l.PushFront(-1)
	l.PushBack(100)
	assertValid(t, l)
}

// The purgatory "live allocations reach zero" property from spec.md §8,
// exercised against a real List rather than a fake Retireable.
func TestListLiveNodesReachZeroAfterClose(t *testing.T) {
	l := New[int](intEq)
	for i := 0; i < 100; i++ {
		l.PushBack(i)
	}
	for i := 0; i < 50; i++ {
		it := l.Find(i)
		l.Erase(it)
		it.Close()
	}
	require.Greater(t, l.LiveNodes(), int64(0))

	l.Close()
	assert.Equal(t, int64(0), l.LiveNodes())
}
