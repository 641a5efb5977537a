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

//go:build azurekv

package azurekv

import (
	"crypto/rsa"
	"fmt"
	"math/big"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// classify maps a key bundle to an assurance level. An exportable key is
// not isolated whatever its protection.
func classify(kty azkeys.KeyType, exportable bool) types.AssuranceLevel {
	if exportable {
		return types.AssuranceNone
	}
	switch kty {
	case azkeys.KeyTypeRSAHSM:
		return types.AssuranceDedicatedSecureModule
	case azkeys.KeyTypeRSA:
		return types.AssuranceSoftwareIsolated
	}
	return types.AssuranceNone
}

// jwkToRSA converts the public half of a JWK.
func jwkToRSA(jwk *azkeys.JSONWebKey) (*rsa.PublicKey, error) {
	if jwk == nil || jwk.Kty == nil {
		return nil, fmt.Errorf("JWK is nil")
	}
	switch *jwk.Kty {
	case azkeys.KeyTypeRSA, azkeys.KeyTypeRSAHSM:
	default:
		return nil, fmt.Errorf("unsupported key type %s", *jwk.Kty)
	}
	if jwk.N == nil || jwk.E == nil {
		return nil, fmt.Errorf("RSA key missing N or E")
	}
	e := new(big.Int).SetBytes(jwk.E)
	if !e.IsInt64() || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("RSA exponent too large")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(jwk.N), E: int(e.Int64())}, nil
}
