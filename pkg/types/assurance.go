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
	"fmt"
	"strings"
)

// AssuranceLevel classifies how isolated a private key is from the general
// operating environment. It is always derived from a live key and never
// persisted on its own.
type AssuranceLevel int

const (
	// AssuranceNone means the key material is reachable by the host OS, or
	// the isolation could not be determined.
	AssuranceNone AssuranceLevel = iota

	// AssuranceSoftwareIsolated means the key is protected by software only
	// (an encrypted keystore, a software HSM or a TPM simulator).
	AssuranceSoftwareIsolated

	// AssuranceTrustedEnvironment means the key lives in a trusted execution
	// environment such as a firmware TPM.
	AssuranceTrustedEnvironment

	// AssuranceDedicatedSecureModule means the key lives in a discrete secure
	// element or HSM.
	AssuranceDedicatedSecureModule
)

var assuranceNames = map[AssuranceLevel]string{
	AssuranceNone:                  "none",
	AssuranceSoftwareIsolated:      "software-isolated",
	AssuranceTrustedEnvironment:    "trusted-environment",
	AssuranceDedicatedSecureModule: "dedicated-secure-module",
}

// String returns the canonical lowercase name of the level.
func (l AssuranceLevel) String() string {
	if name, ok := assuranceNames[l]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(l))
}

// IsSecureHardware reports whether the level satisfies a secure hardware
// requirement. Only TrustedEnvironment and DedicatedSecureModule qualify.
func (l AssuranceLevel) IsSecureHardware() bool {
	return l == AssuranceTrustedEnvironment || l == AssuranceDedicatedSecureModule
}

// ParseAssuranceLevel converts a name produced by String back into a level.
// Underscores and case are ignored so "TRUSTED_ENVIRONMENT" parses too.
func ParseAssuranceLevel(s string) (AssuranceLevel, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for level, name := range assuranceNames {
		if name == normalized {
			return level, nil
		}
	}
	return AssuranceNone, fmt.Errorf("%w: %q", ErrInvalidAssuranceLevel, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l AssuranceLevel) MarshalText() ([]byte, error) {
	if _, ok := assuranceNames[l]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAssuranceLevel, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *AssuranceLevel) UnmarshalText(text []byte) error {
	level, err := ParseAssuranceLevel(string(text))
	if err != nil {
		return err
	}
	*l = level
	return nil
}
