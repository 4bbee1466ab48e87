package ioqueue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestQueue_TasksWaitUntilStart verifies that tasks enqueued before Start
// accumulate without executing, then all dispatch once Start is called.
func TestQueue_TasksWaitUntilStart(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)

	var ran atomic.Int32
	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		futures = append(futures, q.Enqueue(func() (any, error) {
			ran.Add(1)
			return nil, nil
		}))
	}

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), ran.Load(), "tasks must not run before Start")

	q.Start()
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}
	require.Equal(t, int32(5), ran.Load())
	q.Close()
}

// TestQueue_ResultsRouteToTheirCallers verifies that each future resolves
// to exactly its own task's value.
func TestQueue_ResultsRouteToTheirCallers(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)
	q.Start()
	defer q.Close()

	futures := make([]*Future, 64)
	for i := range futures {
		i := i
		futures[i] = q.Enqueue(func() (any, error) {
			return i * 10, nil
		})
	}
	for i, f := range futures {
		value, err := f.Wait()
		require.NoError(t, err)
		require.Equal(t, i*10, value)
	}
}

// TestQueue_InFlightCeiling issues far more tasks than the concurrency
// ceiling and checks that no more than MaxInFlight ever run at once while
// all of them still complete.
func TestQueue_InFlightCeiling(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)
	q.Start()
	defer q.Close()

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		f := q.Enqueue(func() (any, error) {
			current := inFlight.Add(1)
			for {
				observed := maxInFlight.Load()
				if current <= observed || maxInFlight.CompareAndSwap(observed, current) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return nil, nil
		})
		go func() {
			defer wg.Done()
			_, err := f.Wait()
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, maxInFlight.Load(), int32(MaxInFlight))
	require.Greater(t, maxInFlight.Load(), int32(1), "expected some concurrency")
}

// TestQueue_FailureDoesNotPoison verifies that a task error is reported
// only to its caller and subsequent tasks still run.
func TestQueue_FailureDoesNotPoison(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)
	q.Start()
	defer q.Close()

	boom := errors.New("disk on fire")
	failed := q.Enqueue(func() (any, error) { return nil, boom })
	ok := q.Enqueue(func() (any, error) { return "fine", nil })

	_, err := failed.Wait()
	require.ErrorIs(t, err, boom)

	value, err := ok.Wait()
	require.NoError(t, err)
	require.Equal(t, "fine", value)
}

// TestQueue_CloseDrainsPendingTasks verifies that Close runs every
// already-enqueued task to completion before returning.
func TestQueue_CloseDrainsPendingTasks(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)
	q.Start()

	var ran atomic.Int32
	futures := make([]*Future, 0, 32)
	for i := 0; i < 32; i++ {
		futures = append(futures, q.Enqueue(func() (any, error) {
			time.Sleep(time.Millisecond)
			ran.Add(1)
			return nil, nil
		}))
	}
	q.Close()
	require.Equal(t, int32(32), ran.Load())
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}
}

// TestQueue_CloseWithoutStart verifies that pending tasks on a queue that
// never started resolve with ErrClosed instead of running.
func TestQueue_CloseWithoutStart(t *testing.T) {
	q := NewQueue(zap.NewNop(), nil)
	f := q.Enqueue(func() (any, error) { return "never", nil })
	q.Close()

	_, err := f.Wait()
	require.ErrorIs(t, err, ErrClosed)

	_, err = q.Enqueue(func() (any, error) { return nil, nil }).Wait()
	require.ErrorIs(t, err, ErrClosed)
}
