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

// Package pkcs11 is a key store backend for PKCS#11 tokens. Key pairs are
// generated on the token through crypto11 and never leave it; attribute and
// token queries use the raw miekg/pkcs11 API.
package pkcs11

import (
	"strings"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// keyAttributes is what the token reports about a private key object.
type keyAttributes struct {
	Extractable bool
	Sensitive   bool
}

// tokenInfo identifies the token a key lives on.
type tokenInfo struct {
	ManufacturerID string
	Model          string
}

// softTokens are tokens implemented entirely in host software.
var softTokens = []string{"softhsm", "opencryptoki ica", "kryoptic"}

func (t tokenInfo) software() bool {
	id := strings.ToLower(t.ManufacturerID + " " + t.Model)
	for _, name := range softTokens {
		if strings.Contains(id, name) {
			return true
		}
	}
	return false
}

// classify maps key attributes and the hosting token to an assurance level.
// A key that can be exported in the clear is not isolated, whatever the
// token.
func classify(attrs keyAttributes, token tokenInfo) types.AssuranceLevel {
	if attrs.Extractable || !attrs.Sensitive {
		return types.AssuranceNone
	}
	if token.software() {
		return types.AssuranceSoftwareIsolated
	}
	return types.AssuranceDedicatedSecureModule
}
