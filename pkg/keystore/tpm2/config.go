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

//go:build tpm2

// Package tpm2 is a key store backend that keeps RSA decryption keys inside
// a TPM 2.0. Keys are created as children of a persistent storage root key;
// only the TPM-wrapped private blob and the public area leave the chip, and
// both are kept in a storage.Backend.
package tpm2

import (
	"fmt"

	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// DefaultSRKHandle is the TCG-recommended persistent handle for the RSA SRK.
const DefaultSRKHandle uint32 = 0x81000001

// Config contains configuration for the TPM backend.
type Config struct {
	// Transport is an open TPM. The backend does not close it.
	Transport transport.TPM

	// Simulated marks a software TPM. Keys on a simulated TPM never report
	// more than AssuranceSoftwareIsolated.
	Simulated bool

	// Storage holds the wrapped key blobs.
	Storage storage.Backend

	// SRKHandle is where the storage root key is persisted.
	SRKHandle uint32

	// OwnerAuth is the owner hierarchy password, needed only when the SRK
	// has to be created.
	OwnerAuth []byte

	Logger *logging.Logger
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("tpm2: config is nil")
	}
	if c.Transport == nil {
		return fmt.Errorf("tpm2: Transport is required")
	}
	if c.Storage == nil {
		return fmt.Errorf("tpm2: Storage is required")
	}
	if c.SRKHandle == 0 {
		c.SRKHandle = DefaultSRKHandle
	}
	if c.SRKHandle>>24 != 0x81 {
		return fmt.Errorf("tpm2: SRK handle 0x%08x is not a persistent handle", c.SRKHandle)
	}
	return nil
}
