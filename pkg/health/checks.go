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
	"fmt"
	"io"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/secret"
	"github.com/jeremyhahn/go-sessionkey/pkg/sessionkey"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// ProbeKey is written and removed by StorageCheck.
const ProbeKey = "health/probe"

// randomSampleSize is the number of bytes RandomCheck draws.
const randomSampleSize = 32

func unhealthy(name string, err error) CheckResult {
	return CheckResult{Name: name, Status: StatusUnhealthy, Error: err.Error()}
}

// StorageCheck writes, reads back and deletes a probe entry.
func StorageCheck(b storage.Backend) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "storage"
		want := []byte("ok")
		if err := b.Put(ProbeKey, want, nil); err != nil {
			return unhealthy(name, fmt.Errorf("write: %w", err))
		}
		got, err := b.Get(ProbeKey)
		if err != nil {
			return unhealthy(name, fmt.Errorf("read: %w", err))
		}
		if string(got) != string(want) {
			return unhealthy(name, errors.New("read back a different value"))
		}
		if err := storage.DeleteIfExists(b, ProbeKey); err != nil {
			return unhealthy(name, fmt.Errorf("delete: %w", err))
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: "read/write ok"}
	}
}

// KeystoreCheck lists the key store and reports the isolation of alias.
// When requireSecureHardware is set, a key outside secure hardware is
// reported as degraded.
func KeystoreCheck(store *keystore.Store, alias string, requireSecureHardware bool) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "keystore"
		backend := store.Backend().Type()
		if _, err := store.Aliases(); err != nil {
			return unhealthy(name, fmt.Errorf("%s: %w", backend, err))
		}
		ok, err := store.HasKey(alias)
		if err != nil {
			return unhealthy(name, fmt.Errorf("%s: %w", backend, err))
		}
		if !ok {
			return CheckResult{
				Name:    name,
				Status:  StatusHealthy,
				Message: fmt.Sprintf("%s reachable, no key for %s", backend, alias),
			}
		}
		level := store.AssuranceLevel(alias)
		result := CheckResult{
			Name:    name,
			Status:  StatusHealthy,
			Message: fmt.Sprintf("%s key %s at %s", backend, alias, level),
		}
		if requireSecureHardware && !level.IsSecureHardware() {
			result.Status = StatusDegraded
		}
		return result
	}
}

// RandomCheck draws a sample from r and rejects an all-zero sample.
func RandomCheck(r io.Reader) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "random"
		buf := make([]byte, randomSampleSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return unhealthy(name, err)
		}
		if secret.IsDegenerate(buf) {
			return unhealthy(name, secret.ErrDegenerateSource)
		}
		return CheckResult{Name: name, Status: StatusHealthy, Message: fmt.Sprintf("%d bytes drawn", randomSampleSize)}
	}
}

// SessionCheck unseals the session password, if one is provisioned, and
// discards it. A missing session password is degraded, not unhealthy.
func SessionCheck(m *sessionkey.Manager) CheckFunc {
	return func(ctx context.Context) CheckResult {
		const name = "session"
		state, err := m.State(ctx)
		if err != nil {
			return unhealthy(name, err)
		}
		if state != sessionkey.StateProvisioned {
			return CheckResult{Name: name, Status: StatusDegraded, Message: "no session password provisioned"}
		}
		pw, err := m.UnsealSessionPassword(ctx)
		if err != nil {
			return unhealthy(name, err)
		}
		n := pw.Len()
		pw.Destroy()
		return CheckResult{Name: name, Status: StatusHealthy, Message: fmt.Sprintf("unsealed %d bytes", n)}
	}
}
