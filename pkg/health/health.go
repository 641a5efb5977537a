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

// Package health runs diagnostic checks against the components a session
// password depends on and aggregates their results.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusHealthy indicates the component is operating normally.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates the component works but does not meet the
	// configured policy.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a single health check.
type CheckResult struct {
	// Name is the identifier for this health check.
	Name string `json:"name"`
	// Status is the health status of the component.
	Status Status `json:"status"`
	// Message provides additional context about the status.
	Message string `json:"message,omitempty"`
	// Latency is how long the check took to execute.
	Latency time.Duration `json:"latency"`
	// Error contains error details if the check failed.
	Error string `json:"error,omitempty"`
}

// Report is the outcome of running every registered check.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) CheckResult

type namedCheck struct {
	name  string
	check CheckFunc
}

// Checker runs checks in registration order. Later checks often depend on
// earlier ones (storage before the key store before the sealed password),
// so the order is part of the report.
type Checker struct {
	mu     sync.RWMutex
	checks []namedCheck
}

// NewChecker creates a new health checker.
func NewChecker() *Checker {
	return &Checker{}
}

// RegisterCheck adds a health check with the given name.
// If a check with this name already exists, it is replaced in place.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	if check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].check = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// UnregisterCheck removes a health check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks = append(c.checks[:i], c.checks[i+1:]...)
			return
		}
	}
}

// GetAllChecks returns the names of all registered checks.
func (c *Checker) GetAllChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for _, nc := range c.checks {
		names = append(names, nc.name)
	}
	return names
}

// Run executes every check and aggregates the results. A canceled context
// marks the remaining checks unhealthy without running them.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	results := make([]CheckResult, 0, len(checks))
	for _, nc := range checks {
		if err := ctx.Err(); err != nil {
			results = append(results, CheckResult{
				Name:   nc.name,
				Status: StatusUnhealthy,
				Error:  err.Error(),
			})
			continue
		}
		start := time.Now()
		result := nc.check(ctx)
		result.Latency = time.Since(start)
		// Ensure name is set even if check doesn't set it
		if result.Name == "" {
			result.Name = nc.name
		}
		results = append(results, result)
	}
	return &Report{Status: AggregateStatus(results), Checks: results}
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return c.Run(ctx).Status == StatusHealthy
}

// AggregateStatus returns the overall status based on check results.
// Any unhealthy result makes the whole unhealthy; otherwise any degraded
// result makes it degraded.
func AggregateStatus(results []CheckResult) Status {
	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
