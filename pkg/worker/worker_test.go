// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-sessionkey.
//
// go-sessionkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

func newTestSerial(t *testing.T, config *Config) *Serial {
	t.Helper()
	if config == nil {
		config = &Config{}
	}
	config.Logger = logging.Discard()
	s := NewSerial(config)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// block occupies the worker until the returned release func is called.
func block(t *testing.T, e Executor) (release func(), finished <-chan error) {
	t.Helper()
	started := make(chan struct{})
	gate := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- e.Do(context.Background(), func(context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }, done
}

func TestExecutors_ReturnTaskError(t *testing.T) {
	boom := errors.New("boom")
	executors := map[string]Executor{
		"Serial":      newTestSerial(t, nil),
		"Synchronous": NewSynchronous(),
	}
	for name, e := range executors {
		t.Run(name, func(t *testing.T) {
			err := e.Do(context.Background(), func(context.Context) error { return boom })
			assert.ErrorIs(t, err, boom)

			err = e.Do(context.Background(), func(context.Context) error { return nil })
			assert.NoError(t, err)
		})
	}
}

func TestExecutors_RejectReentrant(t *testing.T) {
	executors := map[string]Executor{
		"Serial":      newTestSerial(t, nil),
		"Synchronous": NewSynchronous(),
	}
	for name, e := range executors {
		t.Run(name, func(t *testing.T) {
			var inner error
			err := e.Do(context.Background(), func(ctx context.Context) error {
				inner = e.Do(ctx, func(context.Context) error { return nil })
				return nil
			})
			require.NoError(t, err)
			assert.ErrorIs(t, inner, ErrReentrant)
		})
	}
}

func TestExecutors_NestedDifferentExecutor(t *testing.T) {
	outer := newTestSerial(t, nil)
	inner := NewSynchronous()

	ran := false
	err := outer.Do(context.Background(), func(ctx context.Context) error {
		return inner.Do(ctx, func(context.Context) error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestExecutors_RecoverPanic(t *testing.T) {
	executors := map[string]Executor{
		"Serial":      newTestSerial(t, nil),
		"Synchronous": NewSynchronous(),
	}
	for name, e := range executors {
		t.Run(name, func(t *testing.T) {
			err := e.Do(context.Background(), func(context.Context) error { panic("bad task") })
			assert.ErrorIs(t, err, ErrPanic)

			// The executor keeps working after a panic.
			assert.NoError(t, e.Do(context.Background(), func(context.Context) error { return nil }))
		})
	}
}

func TestExecutors_CanceledBeforeSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executors := map[string]Executor{
		"Serial":      newTestSerial(t, nil),
		"Synchronous": NewSynchronous(),
	}
	for name, e := range executors {
		t.Run(name, func(t *testing.T) {
			ran := false
			err := e.Do(ctx, func(context.Context) error {
				ran = true
				return nil
			})
			assert.ErrorIs(t, err, context.Canceled)
			assert.False(t, ran)
		})
	}
}

func TestSerial_FIFO(t *testing.T) {
	s := newTestSerial(t, nil)
	release, finished := block(t, s)

	const n = 20
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		// Wait for the submission to land in the queue before the next one.
		require.Eventually(t, func() bool { return len(s.jobs) == i+1 }, time.Second, time.Millisecond)
	}

	release()
	require.NoError(t, <-finished)
	wg.Wait()

	require.Len(t, order, n)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestSerial_OneAtATime(t *testing.T) {
	s := newTestSerial(t, nil)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), func(context.Context) error {
				cur := running.Add(1)
				for {
					old := peak.Load()
					if cur <= old || peak.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSerial_CancelWhileQueuedSkipsTask(t *testing.T) {
	s := newTestSerial(t, nil)
	release, finished := block(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	result := make(chan error, 1)
	go func() {
		result <- s.Do(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return len(s.jobs) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)

	release()
	require.NoError(t, <-finished)
	require.NoError(t, s.Do(context.Background(), func(context.Context) error { return nil }))
	assert.False(t, ran.Load())
}

func TestSerial_CancelAfterStartWaits(t *testing.T) {
	s := newTestSerial(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	var taskCtxErr error
	err := s.Do(ctx, func(taskCtx context.Context) error {
		close(started)
		cancel()
		time.Sleep(10 * time.Millisecond)
		taskCtxErr = taskCtx.Err()
		return errors.New("completed")
	})
	assert.EqualError(t, err, "completed")
	assert.NoError(t, taskCtxErr)
}

func TestSerial_Close(t *testing.T) {
	s := NewSerial(&Config{Logger: logging.Discard()})
	release, finished := block(t, s)

	var ran atomic.Bool
	queued := make(chan error, 1)
	go func() {
		queued <- s.Do(context.Background(), func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return len(s.jobs) == 1 }, time.Second, time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	release()
	require.NoError(t, <-finished)
	require.NoError(t, <-queued)
	require.NoError(t, <-closed)
	assert.True(t, ran.Load())

	err := s.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSerial_RateLimited(t *testing.T) {
	s := newTestSerial(t, &Config{RatePerSecond: 50, Burst: 1})
	require.NotNil(t, s.limiter)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Do(context.Background(), func(context.Context) error { return nil }))
	}
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestNewSerial_Defaults(t *testing.T) {
	s := newTestSerial(t, nil)
	assert.Equal(t, DefaultQueueSize, cap(s.jobs))
	assert.Nil(t, s.limiter)
}

func TestCall(t *testing.T) {
	executors := map[string]Executor{
		"Serial":      newTestSerial(t, nil),
		"Synchronous": NewSynchronous(),
	}
	for name, e := range executors {
		t.Run(name, func(t *testing.T) {
			v, err := Call(context.Background(), e, func(context.Context) (int, error) { return 42, nil })
			require.NoError(t, err)
			assert.Equal(t, 42, v)

			_, err = Call(context.Background(), e, func(context.Context) (string, error) {
				return "", errors.New("nope")
			})
			assert.EqualError(t, err, "nope")
		})
	}
}
