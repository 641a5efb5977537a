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

//go:build gcpkms

package gcpkms

import (
	"hash/crc32"

	"cloud.google.com/go/kms/apiv1/kmspb"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// classifyProtection maps a version's protection level to an assurance
// level. External keys are held by a third-party manager outside Google's
// attestation.
func classifyProtection(level kmspb.ProtectionLevel) types.AssuranceLevel {
	switch level {
	case kmspb.ProtectionLevel_HSM:
		return types.AssuranceDedicatedSecureModule
	case kmspb.ProtectionLevel_SOFTWARE:
		return types.AssuranceSoftwareIsolated
	default:
		return types.AssuranceNone
	}
}

// algorithmFor maps an RSA modulus size to the OAEP-SHA1 decrypt algorithm.
func algorithmFor(bits int) (kmspb.CryptoKeyVersion_CryptoKeyVersionAlgorithm, bool) {
	switch bits {
	case 2048:
		return kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_2048_SHA1, true
	case 3072:
		return kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_3072_SHA1, true
	case 4096:
		return kmspb.CryptoKeyVersion_RSA_DECRYPT_OAEP_4096_SHA1, true
	}
	return kmspb.CryptoKeyVersion_CRYPTO_KEY_VERSION_ALGORITHM_UNSPECIFIED, false
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32c(data []byte) int64 {
	return int64(crc32.Checksum(data, crc32cTable))
}
