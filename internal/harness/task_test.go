package harness

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunTaskSuccess(t *testing.T) {
	s := NewState()
	s.AddWorkers(1)

	RunTask(s, "worker-1", func() error { return nil })

	snap := s.Snapshot()
	require.Empty(t, snap.Failures)
	require.Equal(t, 0, snap.ActiveWorkers)
}

func TestRunTaskError(t *testing.T) {
	s := NewState()
	s.AddWorkers(1)

	RunTask(s, "worker-1", func() error { return errors.New("send refused") })

	snap := s.Snapshot()
	require.Equal(t, []string{"Error thrown in worker-1: send refused"}, snap.Failures)
	require.Equal(t, 0, snap.ActiveWorkers)
}

func TestRunTaskPanic(t *testing.T) {
	s := NewState()
	s.AddWorkers(1)

	RunTask(s, "worker-1", func() error { panic("lost the plot") })

	snap := s.Snapshot()
	require.Len(t, snap.Failures, 1)
	require.Contains(t, snap.Failures[0], "Error thrown in worker-1")
	require.Contains(t, snap.Failures[0], "lost the plot")
	require.Equal(t, 0, snap.ActiveWorkers)
}

// Every task decrements exactly once no matter how it ends, so the count
// drains to zero even when some tasks fail.
func TestRunTaskAlwaysDecrements(t *testing.T) {
	s := NewState()

	const n = 60
	s.AddWorkers(n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			RunTask(s, "worker", func() error {
				switch i % 3 {
				case 0:
					return errors.New("boom")
				case 1:
					panic("boom")
				default:
					return nil
				}
			})
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Equal(t, 0, snap.ActiveWorkers)
	require.Len(t, snap.Failures, 2*n/3)
}
