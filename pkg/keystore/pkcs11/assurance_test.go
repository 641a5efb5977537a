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

package pkcs11

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func TestClassify(t *testing.T) {
	softhsm := tokenInfo{ManufacturerID: "SoftHSM project", Model: "SoftHSM v2"}
	hsm := tokenInfo{ManufacturerID: "Thales", Model: "Luna K7"}

	tests := []struct {
		name     string
		attrs    keyAttributes
		token    tokenInfo
		expected types.AssuranceLevel
	}{
		{"Extractable", keyAttributes{Extractable: true, Sensitive: true}, hsm, types.AssuranceNone},
		{"NotSensitive", keyAttributes{Sensitive: false}, hsm, types.AssuranceNone},
		{"SoftHSM", keyAttributes{Sensitive: true}, softhsm, types.AssuranceSoftwareIsolated},
		{"Hardware", keyAttributes{Sensitive: true}, hsm, types.AssuranceDedicatedSecureModule},
		{"ExtractableOnSoftHSM", keyAttributes{Extractable: true, Sensitive: true}, softhsm, types.AssuranceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classify(tt.attrs, tt.token))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "libfake.so")
	assert.NoError(t, os.WriteFile(lib, nil, 0600))
	slot := 0

	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"Nil", nil, ErrInvalidConfig},
		{"NoLibrary", &Config{TokenLabel: "t"}, ErrInvalidConfig},
		{"MissingLibrary", &Config{Library: lib + ".missing", TokenLabel: "t"}, ErrLibraryNotFound},
		{"NoToken", &Config{Library: lib}, ErrInvalidConfig},
		{"ShortPIN", &Config{Library: lib, TokenLabel: "t", PIN: "12"}, ErrInvalidConfig},
		{"Label", &Config{Library: lib, TokenLabel: "t", PIN: "1234"}, nil},
		{"Slot", &Config{Library: lib, Slot: &slot}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
