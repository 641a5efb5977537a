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

package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterCheck(t *testing.T) {
	checker := NewChecker()

	check := func(ctx context.Context) CheckResult {
		return CheckResult{Name: "test", Status: StatusHealthy}
	}
	checker.RegisterCheck("test", check)

	checks := checker.GetAllChecks()
	if len(checks) != 1 {
		t.Fatalf("expected 1 check, got %d", len(checks))
	}
	if checks[0] != "test" {
		t.Errorf("expected check name 'test', got %s", checks[0])
	}

	// Register nil check (should be ignored)
	checker.RegisterCheck("nil", nil)
	if got := len(checker.GetAllChecks()); got != 1 {
		t.Errorf("expected 1 check after registering nil, got %d", got)
	}

	// Replace existing check
	checker.RegisterCheck("test", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusDegraded}
	})
	if got := len(checker.GetAllChecks()); got != 1 {
		t.Errorf("expected 1 check after replacement, got %d", got)
	}
	if status := checker.Run(context.Background()).Status; status != StatusDegraded {
		t.Errorf("expected replaced check to run, got %s", status)
	}
}

func TestUnregisterCheck(t *testing.T) {
	checker := NewChecker()
	healthy := func(ctx context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }
	checker.RegisterCheck("a", healthy)
	checker.RegisterCheck("b", healthy)
	checker.RegisterCheck("c", healthy)

	checker.UnregisterCheck("b")
	checker.UnregisterCheck("missing")

	got := checker.GetAllChecks()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("checks = %v, want [a c]", got)
	}
}

func TestRun_Order(t *testing.T) {
	checker := NewChecker()
	for _, name := range []string{"storage", "keystore", "random", "session"} {
		checker.RegisterCheck(name, func(ctx context.Context) CheckResult {
			return CheckResult{Status: StatusHealthy}
		})
	}

	report := checker.Run(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	want := []string{"storage", "keystore", "random", "session"}
	for i, r := range report.Checks {
		if r.Name != want[i] {
			t.Errorf("check %d = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestRun_Latency(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("slow", func(ctx context.Context) CheckResult {
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})

	report := checker.Run(context.Background())
	if report.Checks[0].Latency < 10*time.Millisecond {
		t.Errorf("latency = %v, want >= 10ms", report.Checks[0].Latency)
	}
}

func TestRun_Canceled(t *testing.T) {
	checker := NewChecker()
	ran := false
	checker.RegisterCheck("never", func(ctx context.Context) CheckResult {
		ran = true
		return CheckResult{Status: StatusHealthy}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := checker.Run(ctx)
	if ran {
		t.Error("check ran with a canceled context")
	}
	if report.Status != StatusUnhealthy {
		t.Errorf("status = %s, want unhealthy", report.Status)
	}
	if report.Checks[0].Error != context.Canceled.Error() {
		t.Errorf("error = %q", report.Checks[0].Error)
	}
}

func TestRun_Empty(t *testing.T) {
	report := NewChecker().Run(context.Background())
	if report.Status != StatusHealthy {
		t.Errorf("status = %s, want healthy", report.Status)
	}
	if len(report.Checks) != 0 {
		t.Errorf("expected no results, got %d", len(report.Checks))
	}
}

func TestIsHealthy(t *testing.T) {
	checker := NewChecker()
	checker.RegisterCheck("ok", func(ctx context.Context) CheckResult {
		return CheckResult{Status: StatusHealthy}
	})
	if !checker.IsHealthy(context.Background()) {
		t.Error("expected healthy")
	}

	checker.RegisterCheck("broken", func(ctx context.Context) CheckResult {
		return unhealthy("broken", errors.New("boom"))
	})
	if checker.IsHealthy(context.Background()) {
		t.Error("expected unhealthy")
	}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"one unhealthy", []Status{StatusHealthy, StatusUnhealthy}, StatusUnhealthy},
		{"unhealthy wins", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make([]CheckResult, len(tt.statuses))
			for i, s := range tt.statuses {
				results[i] = CheckResult{Status: s}
			}
			if got := AggregateStatus(results); got != tt.want {
				t.Errorf("AggregateStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}
