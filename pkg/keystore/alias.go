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
	"crypto"
	"crypto/rsa"
	"fmt"
	"regexp"
)

// MaxAliasLength bounds alias length so every backend can derive a
// native key name from it.
const MaxAliasLength = 128

// ProbeAlias is reserved for the throwaway key used by ProbeAssurance.
const ProbeAlias = "sessionkey-assurance-probe"

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)

// ValidateAlias checks alias against the portable alias grammar.
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAlias)
	}
	if len(alias) > MaxAliasLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidAlias, MaxAliasLength)
	}
	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	if alias == ProbeAlias {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, alias)
	}
	return nil
}

// SealingOAEP returns the only decrypt scheme backends accept.
func SealingOAEP() *rsa.OAEPOptions {
	return &rsa.OAEPOptions{Hash: crypto.SHA1, MGFHash: crypto.SHA1}
}

// CheckOAEP normalizes opts and rejects anything other than OAEP with
// SHA-1 for both the label hash and MGF1 and an empty label. A nil opts
// selects the sealing scheme.
func CheckOAEP(opts *rsa.OAEPOptions) (*rsa.OAEPOptions, error) {
	if opts == nil {
		return SealingOAEP(), nil
	}
	if opts.Hash != crypto.SHA1 {
		return nil, fmt.Errorf("%w: OAEP hash %s", ErrUnsupportedPadding, opts.Hash)
	}
	if opts.MGFHash != 0 && opts.MGFHash != crypto.SHA1 {
		return nil, fmt.Errorf("%w: MGF1 hash %s", ErrUnsupportedPadding, opts.MGFHash)
	}
	if len(opts.Label) != 0 {
		return nil, fmt.Errorf("%w: non-empty OAEP label", ErrUnsupportedPadding)
	}
	return SealingOAEP(), nil
}
