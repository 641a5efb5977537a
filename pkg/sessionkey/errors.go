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

package sessionkey

import (
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/seal"
	"github.com/jeremyhahn/go-sessionkey/pkg/secret"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
	"github.com/jeremyhahn/go-sessionkey/pkg/worker"
)

var (
	// ErrSecureHardwareRequired matches every SecureHardwareRequiredError.
	ErrSecureHardwareRequired = errors.New("sessionkey: secure hardware required")

	// ErrInvalidConfig is returned by New for an unusable Config.
	ErrInvalidConfig = errors.New("sessionkey: invalid config")
)

// SecureHardwareRequiredError is returned when provisioning required
// secure hardware and the key store could not provide it. Nothing was
// changed when this error is returned.
type SecureHardwareRequiredError struct {
	Alias string
	Level types.AssuranceLevel
}

func (e *SecureHardwareRequiredError) Error() string {
	return fmt.Sprintf("sessionkey: secure hardware required for %q, assurance level is %s", e.Alias, e.Level)
}

func (e *SecureHardwareRequiredError) Is(target error) bool {
	return target == ErrSecureHardwareRequired
}

// IsPolicyViolation reports whether err is an expected policy failure
// rather than a key store or crypto failure.
func IsPolicyViolation(err error) bool {
	var sre *SecureHardwareRequiredError
	return errors.As(err, &sre)
}

// errorType labels err for metrics.
func errorType(err error) string {
	switch {
	case IsPolicyViolation(err):
		return "policy"
	case keystore.IsKeyGenerationError(err):
		return "key_generation"
	case errors.Is(err, seal.ErrEncryptionFailed):
		return "encryption"
	case errors.Is(err, seal.ErrDecryptionFailed):
		return "decryption"
	case errors.Is(err, seal.ErrPersist):
		return "persist"
	case errors.Is(err, secret.ErrDegenerateSource):
		return "secret"
	case errors.Is(err, worker.ErrClosed), errors.Is(err, worker.ErrReentrant):
		return "executor"
	default:
		return "other"
	}
}
