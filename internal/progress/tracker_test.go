package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIncrementStaysWithinTotal(t *testing.T) {
	t.Parallel()

	tr := NewTracker(2)
	require.NoError(t, tr.Increment())
	require.NoError(t, tr.Increment())

	err := tr.Increment()
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceed total")

	current, total, _, _ := tr.Snapshot()
	require.Equal(t, 2, current)
	require.Equal(t, 2, total)
}

func TestAddToTotalGrowsMonotonically(t *testing.T) {
	t.Parallel()

	tr := NewTracker(1)
	tr.AddToTotal(3)
	tr.AddToTotal(-5) // ignored
	tr.AddToTotal(0)  // ignored

	_, total, _, _ := tr.Snapshot()
	require.Equal(t, 4, total)
}

func TestStringFormat(t *testing.T) {
	t.Parallel()

	tr := NewTracker(5)
	require.NoError(t, tr.Increment())
	require.Equal(t, "[1/5]", tr.String())
}

func TestConcurrentCounters(t *testing.T) {
	t.Parallel()

	tr := NewTracker(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, tr.Increment())
			tr.IncPages()
			tr.IncImages()
		}()
	}
	wg.Wait()

	current, total, pages, images := tr.Snapshot()
	require.Equal(t, 100, current)
	require.Equal(t, 100, total)
	require.Equal(t, 100, pages)
	require.Equal(t, 100, images)
}
