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

// Package metrics provides Prometheus instrumentation for session key
// operations: provisioning and unseal outcomes, latencies, quality gate
// rejections and the last observed hardware assurance level per alias.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

const (
	// Namespace is the Prometheus namespace for all session key metrics
	Namespace = "sessionkey"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelAlias     = "alias"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpProvision = "provision"
	OpUnseal    = "unseal"
	OpStatus    = "status"
	OpReset     = "reset"
)

var (
	// OperationsTotal tracks session key operations by type, backend, and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of session key operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// OperationDuration tracks the duration of session key operations in
	// seconds. RSA key generation on a TPM or HSM takes seconds, so the
	// buckets reach further than usual.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of session key operations in seconds",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// ErrorsTotal tracks errors by operation, backend, and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, backend, and error type",
		},
		[]string{LabelOperation, LabelBackend, LabelErrorType},
	)

	// SecretRejectionsTotal counts degenerate draws discarded by the
	// secret quality gate.
	SecretRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "secret_rejections_total",
			Help:      "Total number of all-zero random draws rejected by the quality gate",
		},
	)

	// AssuranceLevel is the last assurance level observed for an alias,
	// 0 (none) through 3 (dedicated secure module).
	AssuranceLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "assurance_level",
			Help:      "Last observed hardware assurance level of the key pair under an alias",
		},
		[]string{LabelAlias},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	enabled atomic.Bool
)

// Metrics are enabled by default.
func init() {
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
//
//	start := time.Now()
//	err := manager.CreateSessionPassword(ctx, true)
//	RecordOperation(OpProvision, "tpm2", StatusFor(err), time.Since(start).Seconds())
func RecordOperation(operation, backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(duration)
}

// RecordError records an error event, e.g. RecordError(OpUnseal, "tpm2",
// "decryption_failed").
func RecordError(operation, backend, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, backend, errorType).Inc()
}

// RecordSecretRejection counts one rejected draw.
func RecordSecretRejection() {
	if !enabled.Load() {
		return
	}
	SecretRejectionsTotal.Inc()
}

// SetAssuranceLevel records the level observed for alias.
func SetAssuranceLevel(alias string, level types.AssuranceLevel) {
	if !enabled.Load() {
		return
	}
	AssuranceLevel.WithLabelValues(alias).Set(float64(level))
}

// StatusFor maps an error to a status label value.
func StatusFor(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}

// Recorder receives the measurements of the session key manager and the
// secret quality gate. Prometheus records into the package collectors; Nop
// drops everything.
type Recorder interface {
	RecordOperation(operation, backend string, err error, duration time.Duration)
	RecordError(operation, backend, errorType string)
	RecordSecretRejection()
	SetAssuranceLevel(alias string, level types.AssuranceLevel)
}

// Prometheus is the Recorder backed by the package collectors.
type Prometheus struct{}

func (Prometheus) RecordOperation(operation, backend string, err error, duration time.Duration) {
	RecordOperation(operation, backend, StatusFor(err), duration.Seconds())
}

func (Prometheus) RecordError(operation, backend, errorType string) {
	RecordError(operation, backend, errorType)
}

func (Prometheus) RecordSecretRejection() {
	RecordSecretRejection()
}

func (Prometheus) SetAssuranceLevel(alias string, level types.AssuranceLevel) {
	SetAssuranceLevel(alias, level)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordOperation(string, string, error, time.Duration) {}
func (Nop) RecordError(string, string, string)                   {}
func (Nop) RecordSecretRejection()                               {}
func (Nop) SetAssuranceLevel(string, types.AssuranceLevel)       {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

var (
	_ Recorder = Prometheus{}
	_ Recorder = Nop{}
)
