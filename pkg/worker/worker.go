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

// Package worker provides the execution contexts session operations run
// on. An Executor runs one task at a time in submission order, and a task
// that has started always runs to completion.
package worker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Do after the executor has been closed.
	ErrClosed = errors.New("worker: executor is closed")

	// ErrReentrant is returned when a task submits to the executor that is
	// already running it.
	ErrReentrant = errors.New("worker: reentrant submission")

	// ErrPanic wraps a panic raised by a task.
	ErrPanic = errors.New("worker: task panicked")
)

// Task is a unit of work. The context passed to a task is never canceled;
// it only carries values from the submitting context.
type Task func(ctx context.Context) error

// Executor serializes tasks.
type Executor interface {
	// Do runs task and returns its error. ctx bounds only the wait before
	// the task starts.
	Do(ctx context.Context, task Task) error
}

// Call runs fn on e and returns its result.
func Call[T any](ctx context.Context, e Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

type frameKey struct{}

// frame records the executors a goroutine is currently running tasks for.
type frame struct {
	executor any
	parent   *frame
}

func entered(ctx context.Context, executor any) bool {
	f, _ := ctx.Value(frameKey{}).(*frame)
	for ; f != nil; f = f.parent {
		if f.executor == executor {
			return true
		}
	}
	return false
}

func enter(ctx context.Context, executor any) context.Context {
	parent, _ := ctx.Value(frameKey{}).(*frame)
	ctx = context.WithoutCancel(ctx)
	return context.WithValue(ctx, frameKey{}, &frame{executor: executor, parent: parent})
}

func run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task(ctx)
}
