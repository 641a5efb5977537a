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
)

// Synchronous runs each task on the calling goroutine while holding a
// mutex. Tests use it for deterministic execution.
type Synchronous struct {
	mu sync.Mutex
}

// NewSynchronous returns a synchronous executor.
func NewSynchronous() *Synchronous {
	return &Synchronous{}
}

func (s *Synchronous) Do(ctx context.Context, task Task) error {
	if entered(ctx, s) {
		return ErrReentrant
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return run(enter(ctx, s), task)
}

var _ Executor = (*Synchronous)(nil)
