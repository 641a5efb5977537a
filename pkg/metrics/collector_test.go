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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectOnce(t *testing.T) {
	Enable()
	Goroutines.Set(0)
	MemoryAllocBytes.Set(0)
	CollectOnce()
	if testutil.ToFloat64(Goroutines) < 1 {
		t.Error("Expected at least one goroutine")
	}
	if testutil.ToFloat64(MemoryAllocBytes) == 0 {
		t.Error("Expected memory gauge to be sampled")
	}
}

func TestCollectOnceWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	Goroutines.Set(0)

	CollectOnce()
	if got := testutil.ToFloat64(Goroutines); got != 0 {
		t.Errorf("Expected no sample while disabled, got %v", got)
	}
}
