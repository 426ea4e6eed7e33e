package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWorker(t *testing.T, w *Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-w.Done()
	})
}

func TestWorkerRunsRequestsInOrder(t *testing.T) {
	w := NewWorker(32, time.Second, 0, nil)

	var mu sync.Mutex
	order := []int{}
	responses := []<-chan error{}
	for i := 0; i < 10; i++ {
		i := i
		resp, err := w.Submit("append", func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
			return nil
		})
		require.NoError(t, err)
		responses = append(responses, resp)
	}
	startWorker(t, w)

	for _, resp := range responses {
		assert.NoError(t, <-resp)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestWorkerQueueFull(t *testing.T) {
	w := NewWorker(1, 10*time.Millisecond, 0, nil)
	noop := func(context.Context) error { return nil }

	_, err := w.Submit("first", noop)
	require.NoError(t, err)
	_, err = w.Submit("second", noop)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestWorkerSurvivesFailures(t *testing.T) {
	w := NewWorker(4, time.Second, 0, nil)
	startWorker(t, w)
	ctx := context.Background()

	err := w.Do(ctx, "boom", func(context.Context) error { panic("boom") })
	assert.ErrorContains(t, err, "panicked")

	failure := errors.New("write failed")
	err = w.Do(ctx, "fail", func(context.Context) error { return failure })
	assert.ErrorIs(t, err, failure)

	assert.NoError(t, w.Do(ctx, "ok", func(context.Context) error { return nil }))
}

func TestWorkerTicks(t *testing.T) {
	var mu sync.Mutex
	ticks := 0
	w := NewWorker(4, time.Second, 5*time.Millisecond, func(context.Context) {
		mu.Lock()
		defer mu.Unlock()
		ticks++
	})
	startWorker(t, w)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerStopped(t *testing.T) {
	w := NewWorker(4, time.Second, 0, nil)
	resp, err := w.Submit("queued", func(context.Context) error { return nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Run(ctx)

	assert.ErrorIs(t, <-resp, ErrWorkerStopped)
	_, err = w.Submit("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

func TestSubmitDuringShutdownIsAlwaysAnswered(t *testing.T) {
	for i := 0; i < 50; i++ {
		w := NewWorker(4, 10*time.Millisecond, 0, nil)
		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)

		var wg sync.WaitGroup
		for j := 0; j < 8; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp, err := w.Submit("noop", func(context.Context) error { return nil })
				if err != nil {
					return
				}
				select {
				case <-resp:
				case <-time.After(time.Second):
					t.Error("accepted request never got a response")
				}
			}()
		}
		cancel()
		wg.Wait()
		<-w.Done()

		_, err := w.Submit("late", func(context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrWorkerStopped)
	}
}
