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

// Package keystore adapts a platform secure key store to the operations the
// session key manager needs: alias-indexed RSA key pairs whose private half
// is reachable only through an opaque decrypt capability, plus a best-effort
// query of how well that private half is isolated.
package keystore

import (
	"crypto/rsa"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// Backend is a platform key store driver. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Type identifies the backend.
	Type() types.BackendType

	// Exists reports whether a key pair is stored under alias.
	Exists(alias string) (bool, error)

	// Generate creates a key pair under alias. It returns ErrKeyExists if
	// one is already present.
	Generate(alias string, spec *types.KeySpec) error

	// Delete destroys the key pair. It returns ErrKeyNotFound if absent.
	Delete(alias string) error

	// PublicKey returns the exportable public half.
	PublicKey(alias string) (*rsa.PublicKey, error)

	// PrivateKey returns the opaque private capability.
	PrivateKey(alias string) (PrivateKeyHandle, error)

	Close() error
}

// PrivateKeyHandle is a capability over a private key that never leaves
// its store. Raw key bytes are never exposed.
type PrivateKeyHandle interface {
	// Decrypt performs RSA-OAEP decryption inside the store.
	Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error)

	// AssuranceLevel reports the isolation of the live key.
	AssuranceLevel() (types.AssuranceLevel, error)
}

// Lister is implemented by backends that can enumerate their aliases.
type Lister interface {
	Aliases() ([]string, error)
}

// KeyPair is a public key together with the handle to its private half.
type KeyPair struct {
	Alias   string
	Public  *rsa.PublicKey
	Private PrivateKeyHandle
}
