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

// Package seal encrypts session secrets under an RSA public key and stores
// the ciphertext as base64 text in a persistence slot.
//
// The scheme is fixed: RSA-OAEP with SHA-1 for both the label hash and
// MGF1, and an empty label. Hardware key stores commonly support only this
// OAEP variant. Stored values carry no version; changing the scheme
// invalidates every blob already written.
package seal

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 - OAEP-SHA1 is the scheme hardware key stores accept
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// Blob is a sealed secret.
type Blob []byte

// String returns the text form written to the slot.
func (b Blob) String() string {
	return base64.StdEncoding.EncodeToString(b)
}

// ParseBlob decodes the text form of a blob.
func ParseBlob(text string) (Blob, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, decryptionError("parse", err)
	}
	if len(data) == 0 {
		return nil, decryptionError("parse", errors.New("empty blob"))
	}
	return Blob(data), nil
}

// Scheme returns the padding options handed to private key handles.
func Scheme() *rsa.OAEPOptions {
	return keystore.SealingOAEP()
}

// MaxSecretLength is the longest secret that fits a single RSA-OAEP-SHA1
// block under a keyBits modulus.
func MaxSecretLength(keyBits int) int {
	return keyBits/8 - 2*sha1.Size - 2
}

// Engine seals secrets into a single slot.
type Engine struct {
	slot   storage.Slot
	random io.Reader
}

// NewEngine returns an engine writing to slot. A nil random selects
// crypto/rand for the OAEP seed.
func NewEngine(slot storage.Slot, random io.Reader) (*Engine, error) {
	if slot == nil {
		return nil, fmt.Errorf("seal: slot is required")
	}
	if random == nil {
		random = rand.Reader
	}
	return &Engine{slot: slot, random: random}, nil
}

// Seal encrypts secret under pub and persists the result. Nothing is
// written when encryption fails.
func (e *Engine) Seal(secret []byte, pub *rsa.PublicKey) (Blob, error) {
	if pub == nil {
		return nil, encryptionError("seal", errors.New("nil public key"))
	}
	ciphertext, err := rsa.EncryptOAEP(sha1.New(), e.random, pub, secret, nil)
	if err != nil {
		return nil, encryptionError("seal", err)
	}
	blob := Blob(ciphertext)
	if err := e.slot.Write(blob.String()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return blob, nil
}

// Load reads the persisted blob. A missing or malformed slot is reported
// as a decryption failure; any other read error is returned as is so that
// a storage outage is not mistaken for a lost secret.
func (e *Engine) Load() (Blob, error) {
	text, err := e.slot.Read()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, decryptionError("load", err)
		}
		return nil, fmt.Errorf("seal: load: %w", err)
	}
	return ParseBlob(text)
}

// Unseal decrypts blob with the private key behind handle. A blob sealed
// under another key pair fails with a DecryptionFailed CryptoError. Errors
// that leave the secret recoverable, such as a refused presence check or
// an unreachable key store, are returned unwrapped.
func (e *Engine) Unseal(blob Blob, handle keystore.PrivateKeyHandle) ([]byte, error) {
	if handle == nil {
		return nil, decryptionError("unseal", keystore.ErrKeyNotFound)
	}
	if len(blob) == 0 {
		return nil, decryptionError("unseal", errors.New("empty blob"))
	}
	plaintext, err := handle.Decrypt(blob, Scheme())
	if err != nil {
		if isUnrecoverable(err) {
			return nil, decryptionError("unseal", err)
		}
		return nil, fmt.Errorf("seal: unseal: %w", err)
	}
	return plaintext, nil
}

// isUnrecoverable reports whether err means the blob can never be opened
// with the current key pair.
func isUnrecoverable(err error) bool {
	return errors.Is(err, keystore.ErrKeyNotFound) ||
		errors.Is(err, keystore.ErrDecryptionFailed) ||
		errors.Is(err, rsa.ErrDecryption)
}

// Exists reports whether a blob is persisted.
func (e *Engine) Exists() (bool, error) {
	_, err := e.slot.Read()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Clear removes the persisted blob.
func (e *Engine) Clear() error {
	return e.slot.Clear()
}
