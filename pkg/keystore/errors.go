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

package keystore

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound indicates no key pair exists under the alias.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyExists indicates a key pair already exists under the alias.
	ErrKeyExists = errors.New("keystore: key already exists")

	// ErrInvalidAlias indicates the alias is empty, too long or contains
	// characters outside [A-Za-z0-9._-].
	ErrInvalidAlias = errors.New("keystore: invalid alias")

	// ErrInvalidKeySpec indicates the key spec was rejected.
	ErrInvalidKeySpec = errors.New("keystore: invalid key spec")

	// ErrUnsupportedPadding indicates a decrypt request for anything but
	// RSA-OAEP with SHA-1 and an empty label.
	ErrUnsupportedPadding = errors.New("keystore: unsupported padding")

	// ErrNotSupported indicates the backend cannot honor a requested
	// feature.
	ErrNotSupported = errors.New("keystore: operation not supported")

	// ErrUserPresenceRequired indicates the key requires a fresh user
	// presence confirmation that was not obtained.
	ErrUserPresenceRequired = errors.New("keystore: user presence required")

	// ErrBackendClosed indicates the backend has been closed.
	ErrBackendClosed = errors.New("keystore: backend is closed")

	// ErrDecryptionFailed indicates the store rejected the ciphertext.
	ErrDecryptionFailed = errors.New("keystore: decryption failed")
)

// KeyGenerationError reports a key store failure while creating or
// deleting a key pair.
type KeyGenerationError struct {
	Alias string
	Op    string
	Err   error
}

func (e *KeyGenerationError) Error() string {
	return fmt.Sprintf("keystore: %s key %q: %v", e.Op, e.Alias, e.Err)
}

func (e *KeyGenerationError) Unwrap() error {
	return e.Err
}

// IsKeyGenerationError reports whether err carries a KeyGenerationError.
func IsKeyGenerationError(err error) bool {
	var kge *KeyGenerationError
	return errors.As(err, &kge)
}
