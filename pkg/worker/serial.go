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
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

// DefaultQueueSize is the number of tasks that may wait for a Serial
// worker before Do blocks on submission.
const DefaultQueueSize = 64

const (
	stateQueued int32 = iota
	stateStarted
	stateAbandoned
)

// Config configures a Serial executor.
type Config struct {
	// QueueSize bounds pending tasks. Defaults to DefaultQueueSize.
	QueueSize int

	// RatePerSecond throttles task starts. Zero disables throttling.
	RatePerSecond float64

	// Burst is the number of tasks allowed to start back to back.
	// Defaults to 1 when throttling is enabled.
	Burst int

	Logger *logging.Logger
}

type job struct {
	ctx   context.Context
	task  Task
	state atomic.Int32
	done  chan error
}

// Serial runs tasks one at a time on a dedicated goroutine in FIFO order.
type Serial struct {
	mu      sync.RWMutex
	closed  bool
	jobs    chan *job
	stopped chan struct{}
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewSerial starts a serial worker. Close stops it.
func NewSerial(config *Config) *Serial {
	if config == nil {
		config = &Config{}
	}
	size := config.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	s := &Serial{
		jobs:    make(chan *job, size),
		stopped: make(chan struct{}),
		logger:  logging.OrDefault(config.Logger),
	}
	if config.RatePerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}

	go s.loop()
	return s
}

// Do queues task and waits for it to finish. If ctx ends while the task is
// still queued the task is skipped and ctx.Err() is returned. Once started,
// Do waits for the task regardless of ctx.
func (s *Serial) Do(ctx context.Context, task Task) error {
	if entered(ctx, s) {
		return ErrReentrant
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	j := &job{ctx: ctx, task: task, done: make(chan error, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.jobs <- j:
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	s.mu.RUnlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(stateQueued, stateAbandoned) {
			return ctx.Err()
		}
		return <-j.done
	}
}

// Close stops accepting tasks, runs the ones already queued and waits for
// the worker to exit. It must not be called from a task.
func (s *Serial) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()

	<-s.stopped
	return nil
}

func (s *Serial) loop() {
	defer close(s.stopped)
	for j := range s.jobs {
		if j.state.Load() == stateAbandoned {
			continue
		}
		if s.limiter != nil {
			// A Background context never makes Wait fail.
			_ = s.limiter.Wait(context.Background())
		}
		if !j.state.CompareAndSwap(stateQueued, stateStarted) {
			s.logger.Debug("abandoned task skipped")
			continue
		}
		j.done <- run(enter(j.ctx, s), j.task)
	}
}

var _ Executor = (*Serial)(nil)
