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

// Package software is a key store backend that keeps RSA keys as PKCS#8
// documents in a storage.Backend. Without a password the key is plain
// PKCS#8 and reports AssuranceNone; with a password it is encrypted with
// PBES2 and reports AssuranceSoftwareIsolated.
package software

import (
	"fmt"
	"io"
	"time"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// PresenceFunc asks the user to confirm presence for alias. A nil error
// means the user confirmed.
type PresenceFunc func(alias string) error

// Config contains configuration for the software backend.
type Config struct {
	// Storage holds key material and metadata.
	Storage storage.Backend

	// Password encrypts keys at rest when non-empty.
	Password []byte

	// Random is the entropy source for key generation. Defaults to
	// crypto/rand.
	Random io.Reader

	// Presence confirms user presence for keys generated with a
	// UserPresenceWindow.
	Presence PresenceFunc

	// Now is the clock used for presence windows. Defaults to time.Now.
	Now func() time.Time

	Logger *logging.Logger
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("software: config is nil")
	}
	if c.Storage == nil {
		return fmt.Errorf("software: Storage is required")
	}
	return nil
}
