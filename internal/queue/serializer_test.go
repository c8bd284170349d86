package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_ReturnsValue(t *testing.T) {
	s := NewSerializer(zerolog.Nop())

	v, err := Do(context.Background(), s, "answer", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_PropagatesError(t *testing.T) {
	s := NewSerializer(zerolog.Nop())
	boom := errors.New("boom")

	_, err := Do(context.Background(), s, "fail", func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	// The queue keeps working after a failure
	v, err := Do(context.Background(), s, "next", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	assert.Eventually(t, func() bool {
		st := s.Stats()
		return st.Failed == 1 && st.Completed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDo_RecoversPanic(t *testing.T) {
	s := NewSerializer(zerolog.Nop())

	_, err := Do(context.Background(), s, "panics", func(ctx context.Context) (int, error) {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	v, err := Do(context.Background(), s, "after", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDo_NeverOverlapsAndKeepsOrder(t *testing.T) {
	s := NewSerializer(zerolog.Nop())

	var (
		active  int32
		overlap int32
		mu      sync.Mutex
		order   []int
	)

	// Hold the queue so every submission below is pending at once
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Do(context.Background(), s, "gate", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Do(context.Background(), s, "work", func(ctx context.Context) (int, error) {
				if atomic.AddInt32(&active, 1) > 1 {
					atomic.StoreInt32(&overlap, 1)
				}
				time.Sleep(time.Millisecond)
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				atomic.AddInt32(&active, -1)
				return i, nil
			})
		}()
		// Wait until the submission is queued so the order is deterministic
		require.Eventually(t, func() bool { return s.Stats().Pending == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlap))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestDo_CallerCancellationDoesNotCancelTask(t *testing.T) {
	s := NewSerializer(zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Do(context.Background(), s, "gate", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := make(chan error, 1)
	errCh := make(chan error, 1)
	go func() {
		_, err := Do(ctx, s, "abandoned", func(taskCtx context.Context) (int, error) {
			ran <- taskCtx.Err()
			return 1, nil
		})
		errCh <- err
	}()

	require.Eventually(t, func() bool { return s.Stats().Pending == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	select {
	case taskErr := <-ran:
		assert.NoError(t, taskErr)
	case <-time.After(time.Second):
		t.Fatal("abandoned task never ran")
	}
}

func TestDepth(t *testing.T) {
	s := NewSerializer(zerolog.Nop())
	assert.Zero(t, s.Depth())

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = Do(context.Background(), s, "slow", func(ctx context.Context) (int, error) {
			close(started)
			<-release
			return 0, nil
		})
		close(done)
	}()
	<-started

	assert.Equal(t, 1, s.Depth())
	assert.Equal(t, "slow", s.Stats().Running)

	close(release)
	<-done
	assert.Eventually(t, func() bool { return s.Depth() == 0 }, time.Second, time.Millisecond)
}
