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

package seal

import (
	"errors"
	"fmt"
)

// Kind classifies a CryptoError.
type Kind int

const (
	EncryptionFailed Kind = iota + 1
	DecryptionFailed
)

func (k Kind) String() string {
	switch k {
	case EncryptionFailed:
		return "encryption failed"
	case DecryptionFailed:
		return "decryption failed"
	default:
		return "unknown"
	}
}

var (
	// ErrEncryptionFailed matches any CryptoError of kind EncryptionFailed.
	ErrEncryptionFailed = errors.New("seal: encryption failed")

	// ErrDecryptionFailed matches any CryptoError of kind DecryptionFailed.
	// It is the signal that the session has to be provisioned again.
	ErrDecryptionFailed = errors.New("seal: decryption failed")

	// ErrPersist wraps failures writing the sealed blob to its slot.
	ErrPersist = errors.New("seal: persist sealed blob")
)

// CryptoError reports a sealing or unsealing failure.
type CryptoError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("seal: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("seal: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *CryptoError) Is(target error) bool {
	switch target {
	case ErrEncryptionFailed:
		return e.Kind == EncryptionFailed
	case ErrDecryptionFailed:
		return e.Kind == DecryptionFailed
	}
	return false
}

func encryptionError(op string, err error) error {
	return &CryptoError{Kind: EncryptionFailed, Op: op, Err: err}
}

func decryptionError(op string, err error) error {
	return &CryptoError{Kind: DecryptionFailed, Op: op, Err: err}
}
