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

//go:build !tpm2 && !pkcs11

package rand

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHardwareModes_NotCompiled(t *testing.T) {
	_, err := NewResolver(&Config{Mode: ModeTPM2})
	assert.True(t, errors.Is(err, ErrNotCompiled))

	_, err = NewResolver(&Config{Mode: ModePKCS11, PKCS11: &PKCS11Config{Module: "/usr/lib/softhsm/libsofthsm2.so"}})
	assert.True(t, errors.Is(err, ErrNotCompiled))

	r, err := NewResolver(&Config{Mode: ModeAuto, TPM2: &TPM2Config{}})
	assert.NoError(t, err)
	assert.Equal(t, ModeSoftware, r.Mode())
}
