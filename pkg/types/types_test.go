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
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssuranceLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level AssuranceLevel
		want  string
	}{
		{"None", AssuranceNone, "none"},
		{"SoftwareIsolated", AssuranceSoftwareIsolated, "software-isolated"},
		{"TrustedEnvironment", AssuranceTrustedEnvironment, "trusted-environment"},
		{"DedicatedSecureModule", AssuranceDedicatedSecureModule, "dedicated-secure-module"},
		{"OutOfRange", AssuranceLevel(42), "unknown(42)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestAssuranceLevel_IsSecureHardware(t *testing.T) {
	assert.False(t, AssuranceNone.IsSecureHardware())
	assert.False(t, AssuranceSoftwareIsolated.IsSecureHardware())
	assert.True(t, AssuranceTrustedEnvironment.IsSecureHardware())
	assert.True(t, AssuranceDedicatedSecureModule.IsSecureHardware())
	assert.False(t, AssuranceLevel(-1).IsSecureHardware())
}

func TestParseAssuranceLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    AssuranceLevel
		wantErr bool
	}{
		{"none", AssuranceNone, false},
		{"software-isolated", AssuranceSoftwareIsolated, false},
		{"TRUSTED_ENVIRONMENT", AssuranceTrustedEnvironment, false},
		{"  dedicated-secure-module ", AssuranceDedicatedSecureModule, false},
		{"tee", AssuranceNone, true},
		{"", AssuranceNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAssuranceLevel(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAssuranceLevel))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAssuranceLevel_JSON(t *testing.T) {
	type wrapper struct {
		Level AssuranceLevel `json:"level"`
	}

	data, err := json.Marshal(wrapper{Level: AssuranceTrustedEnvironment})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"trusted-environment"}`, string(data))

	var decoded wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"level":"dedicated-secure-module"}`), &decoded))
	assert.Equal(t, AssuranceDedicatedSecureModule, decoded.Level)

	_, err = json.Marshal(wrapper{Level: AssuranceLevel(9)})
	assert.Error(t, err)
}

func TestKeyPurpose(t *testing.T) {
	p := PurposeEncrypt | PurposeDecrypt
	assert.True(t, p.Has(PurposeDecrypt))
	assert.True(t, p.Has(PurposeEncrypt|PurposeDecrypt))
	assert.False(t, p.Has(PurposeSign))
	assert.Equal(t, "encrypt|decrypt", p.String())
	assert.Equal(t, "none", KeyPurpose(0).String())
}

func TestSealingKeySpec(t *testing.T) {
	spec := SealingKeySpec()
	require.NoError(t, spec.Validate())
	assert.Equal(t, 2048, spec.SizeBits)
	assert.Equal(t, crypto.SHA1, spec.Digest)
	assert.Equal(t, PaddingOAEP, spec.Padding)
	assert.Zero(t, spec.UserPresenceWindow)
}

func TestKeySpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    *KeySpec
		wantErr bool
	}{
		{"Nil", nil, true},
		{"DefaultsApplied", &KeySpec{Purpose: PurposeDecrypt}, false},
		{"TooSmall", &KeySpec{Purpose: PurposeDecrypt, SizeBits: 1024}, true},
		{"SignOnly", &KeySpec{Purpose: PurposeSign}, true},
		{"SHA256Digest", &KeySpec{Purpose: PurposeDecrypt, Digest: crypto.SHA256}, true},
		{"BadPadding", &KeySpec{Purpose: PurposeDecrypt, Padding: "pkcs1v15"}, true},
		{"NegativeWindow", &KeySpec{Purpose: PurposeDecrypt, UserPresenceWindow: -time.Second}, true},
		{"WithWindow", &KeySpec{Purpose: PurposeDecrypt, UserPresenceWindow: time.Minute}, false},
		{"Larger", &KeySpec{Purpose: PurposeDecrypt, SizeBits: 4096}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidKeySpec))
				return
			}
			require.NoError(t, err)
			assert.GreaterOrEqual(t, tt.spec.SizeBits, MinKeySize)
			assert.Equal(t, crypto.SHA1, tt.spec.Digest)
		})
	}
}

func TestBackendType(t *testing.T) {
	for _, bt := range BackendTypes {
		assert.True(t, bt.IsValid(), bt.String())
	}
	assert.False(t, BackendType("vault").IsValid())
	assert.Equal(t, BackendSoftware, ParseBackendType("PKCS8"))
	assert.Equal(t, BackendTPM2, ParseBackendType(" tpm2 "))
}
