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

package types

import (
	"crypto"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidAssuranceLevel = errors.New("types: invalid assurance level")
	ErrInvalidKeySpec        = errors.New("types: invalid key spec")
)

const (
	// DefaultKeySize is the RSA modulus size used for sealing keys.
	DefaultKeySize = 2048

	// MinKeySize is the smallest RSA modulus accepted by any backend.
	MinKeySize = 2048
)

// KeyPurpose is a bit set of operations a key pair may be used for.
type KeyPurpose uint8

const (
	PurposeEncrypt KeyPurpose = 1 << iota
	PurposeDecrypt
	PurposeSign
	PurposeVerify
)

// Has reports whether every bit in other is set in p.
func (p KeyPurpose) Has(other KeyPurpose) bool {
	return p&other == other
}

func (p KeyPurpose) String() string {
	if p == 0 {
		return "none"
	}
	var parts []string
	for _, entry := range []struct {
		bit  KeyPurpose
		name string
	}{
		{PurposeEncrypt, "encrypt"},
		{PurposeDecrypt, "decrypt"},
		{PurposeSign, "sign"},
		{PurposeVerify, "verify"},
	} {
		if p.Has(entry.bit) {
			parts = append(parts, entry.name)
		}
	}
	return strings.Join(parts, "|")
}

// Padding names an asymmetric encryption padding scheme.
type Padding string

const (
	PaddingOAEP Padding = "oaep"
)

// KeySpec describes the key pair a backend is asked to generate.
type KeySpec struct {
	// Purpose must include PurposeDecrypt for sealing keys.
	Purpose KeyPurpose

	// SizeBits is the RSA modulus size.
	SizeBits int

	// Digest is the OAEP and MGF1 hash.
	Digest crypto.Hash

	// Padding is the encryption padding the key is restricted to.
	Padding Padding

	// UserPresenceWindow, when non-zero, requires the user to confirm
	// presence before a private key operation unless a confirmation
	// happened within the window.
	UserPresenceWindow time.Duration
}

// SealingKeySpec returns the key spec used to seal session secrets:
// RSA-2048 restricted to OAEP with SHA-1.
func SealingKeySpec() *KeySpec {
	return &KeySpec{
		Purpose:  PurposeEncrypt | PurposeDecrypt,
		SizeBits: DefaultKeySize,
		Digest:   crypto.SHA1,
		Padding:  PaddingOAEP,
	}
}

// Validate checks the spec and fills in defaults for zero fields.
func (s *KeySpec) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil spec", ErrInvalidKeySpec)
	}
	if s.SizeBits == 0 {
		s.SizeBits = DefaultKeySize
	}
	if s.Digest == 0 {
		s.Digest = crypto.SHA1
	}
	if s.Padding == "" {
		s.Padding = PaddingOAEP
	}
	if s.SizeBits < MinKeySize {
		return fmt.Errorf("%w: key size %d below minimum %d", ErrInvalidKeySpec, s.SizeBits, MinKeySize)
	}
	if !s.Purpose.Has(PurposeDecrypt) {
		return fmt.Errorf("%w: purpose %s does not allow decryption", ErrInvalidKeySpec, s.Purpose)
	}
	if s.Digest != crypto.SHA1 {
		return fmt.Errorf("%w: OAEP digest must be SHA-1, got %s", ErrInvalidKeySpec, s.Digest)
	}
	if s.Padding != PaddingOAEP {
		return fmt.Errorf("%w: unsupported padding %q", ErrInvalidKeySpec, s.Padding)
	}
	if s.UserPresenceWindow < 0 {
		return fmt.Errorf("%w: negative user presence window", ErrInvalidKeySpec)
	}
	return nil
}
