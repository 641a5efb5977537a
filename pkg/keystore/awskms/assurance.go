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

//go:build awskms

package awskms

import (
	awstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// classifyOrigin maps the origin of a key's material to an assurance level.
// KMS generates and uses its own keys inside FIPS validated HSMs; imported
// material existed outside them first.
func classifyOrigin(origin awstypes.OriginType) types.AssuranceLevel {
	switch origin {
	case awstypes.OriginTypeAwsKms, awstypes.OriginTypeAwsCloudhsm:
		return types.AssuranceDedicatedSecureModule
	case awstypes.OriginTypeExternal, awstypes.OriginTypeExternalKeyStore:
		return types.AssuranceSoftwareIsolated
	default:
		return types.AssuranceNone
	}
}

// keySpecFor maps an RSA modulus size to a KMS key spec.
func keySpecFor(bits int) (awstypes.KeySpec, bool) {
	switch bits {
	case 2048:
		return awstypes.KeySpecRsa2048, true
	case 3072:
		return awstypes.KeySpecRsa3072, true
	case 4096:
		return awstypes.KeySpecRsa4096, true
	}
	return "", false
}
