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

import "strings"

// BackendType identifies a key store backend implementation.
type BackendType string

const (
	BackendSoftware BackendType = "software"
	BackendTPM2     BackendType = "tpm2"
	BackendPKCS11   BackendType = "pkcs11"
	BackendAWSKMS   BackendType = "awskms"
	BackendGCPKMS   BackendType = "gcpkms"
	BackendAzureKV  BackendType = "azurekv"
)

// BackendTypes lists every backend type in display order.
var BackendTypes = []BackendType{
	BackendSoftware,
	BackendTPM2,
	BackendPKCS11,
	BackendAWSKMS,
	BackendGCPKMS,
	BackendAzureKV,
}

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is recognized.
func (bt BackendType) IsValid() bool {
	for _, known := range BackendTypes {
		if bt == known {
			return true
		}
	}
	return false
}

// ParseBackendType converts a string to a BackendType. The "pkcs8" alias
// maps to the software backend.
func ParseBackendType(s string) BackendType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "pkcs8" {
		return BackendSoftware
	}
	return BackendType(s)
}
