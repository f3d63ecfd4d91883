//go:build stress

package list

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// TestScenario5ConcurrentPushBackFullScale runs spec.md §8 scenario 5 at its
// full stated magnitude (4 workers x 250,000 push_backs). Excluded from the
// default test run by the stress build tag; run with -tags=stress.
func TestScenario5ConcurrentPushBackFullScale(t *testing.T) {
	l := New[int](intEq)
	defer l.Close()

	const workers = 4
	const perWorker = 250_000

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
