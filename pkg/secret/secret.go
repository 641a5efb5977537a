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

// Package secret draws session secrets from a random source behind a
// quality gate that discards degenerate (all-zero) draws.
package secret

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-sessionkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/metrics"
)

// DefaultLength is the size of a session secret in bytes.
const DefaultLength = 64

var (
	// ErrDegenerateSource is returned when MaxAttempts consecutive draws
	// were all degenerate.
	ErrDegenerateSource = errors.New("secret: random source produced only degenerate output")

	// ErrInvalidLength is returned for a non-positive secret length.
	ErrInvalidLength = errors.New("secret: invalid length")
)

// Secret is raw secret material. Callers Zero it once it is no longer
// needed.
type Secret []byte

// Zero overwrites the secret in place.
func (s Secret) Zero() {
	clear(s)
}

// IsDegenerate reports whether every byte of b is zero.
func IsDegenerate(b []byte) bool {
	return subtle.ConstantTimeCompare(b, make([]byte, len(b))) == 1
}

// Config configures a Gate.
type Config struct {
	// Source supplies the random bytes. Nil selects crypto/rand.
	Source io.Reader

	// MaxAttempts bounds the number of draws. Zero retries until a
	// non-degenerate draw arrives.
	MaxAttempts int

	Logger  *logging.Logger
	Metrics metrics.Recorder
}

// Gate draws secrets and rejects degenerate ones.
type Gate struct {
	source      io.Reader
	maxAttempts int
	logger      *logging.Logger
	metrics     metrics.Recorder
}

// NewGate creates a gate. A nil config uses crypto/rand with no attempt
// limit.
func NewGate(config *Config) (*Gate, error) {
	if config == nil {
		config = &Config{}
	}
	if config.MaxAttempts < 0 {
		return nil, fmt.Errorf("secret: negative MaxAttempts %d", config.MaxAttempts)
	}
	source := config.Source
	if source == nil {
		source = rand.NewSoftwareResolver()
	}
	return &Gate{
		source:      source,
		maxAttempts: config.MaxAttempts,
		logger:      logging.OrDefault(config.Logger),
		metrics:     metrics.OrNop(config.Metrics),
	}, nil
}

// Generate returns n random bytes that are not all zero. Degenerate draws
// are discarded and the source is asked again immediately. Source errors
// end the call without a retry.
func (g *Gate) Generate(n int) (Secret, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLength, n)
	}
	buf := make(Secret, n)
	for attempt := 1; ; attempt++ {
		if _, err := io.ReadFull(g.source, buf); err != nil {
			buf.Zero()
			return nil, fmt.Errorf("secret: read random source: %w", err)
		}
		if !IsDegenerate(buf) {
			if attempt > 1 {
				g.logger.Debug("secret accepted after rejections", "attempts", attempt)
			}
			return buf, nil
		}

		g.metrics.RecordSecretRejection()
		g.logger.Warn("degenerate secret rejected", "attempt", attempt, "length", n)
		if g.maxAttempts > 0 && attempt >= g.maxAttempts {
			return nil, fmt.Errorf("%w: %d attempts", ErrDegenerateSource, attempt)
		}
	}
}
