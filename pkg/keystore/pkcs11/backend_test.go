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

//go:build pkcs11

package pkcs11

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// newSoftHSMBackend connects to an initialized SoftHSM token. The token is
// described by SESSIONKEY_TEST_PKCS11_LIB, SESSIONKEY_TEST_PKCS11_LABEL and
// SESSIONKEY_TEST_PKCS11_PIN.
func newSoftHSMBackend(t *testing.T) *Backend {
	t.Helper()
	lib := os.Getenv("SESSIONKEY_TEST_PKCS11_LIB")
	if lib == "" {
		t.Skip("SESSIONKEY_TEST_PKCS11_LIB not set")
	}
	b, err := NewBackend(&Config{
		Library:    lib,
		TokenLabel: os.Getenv("SESSIONKEY_TEST_PKCS11_LABEL"),
		PIN:        os.Getenv("SESSIONKEY_TEST_PKCS11_PIN"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend_SoftHSMRoundTrip(t *testing.T) {
	b := newSoftHSMBackend(t)
	alias := "pkcs11-roundtrip"
	_ = b.Delete(alias)
	t.Cleanup(func() { _ = b.Delete(alias) })

	require.NoError(t, b.Generate(alias, types.SealingKeySpec()))
	assert.ErrorIs(t, b.Generate(alias, types.SealingKeySpec()), keystore.ErrKeyExists)

	exists, err := b.Exists(alias)
	require.NoError(t, err)
	assert.True(t, exists)

	pub, err := b.PublicKey(alias)
	require.NoError(t, err)
	secret := []byte("pkcs11 sealed secret")
	ct, err := rsa.EncryptOAEP(keystore.SealingOAEP().Hash.New(), rand.Reader, pub, secret, nil)
	require.NoError(t, err)

	h, err := b.PrivateKey(alias)
	require.NoError(t, err)
	pt, err := h.Decrypt(ct, nil)
	require.NoError(t, err)
	assert.Equal(t, secret, pt)

	level, err := h.AssuranceLevel()
	require.NoError(t, err)
	assert.Equal(t, types.AssuranceSoftwareIsolated, level)

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Contains(t, aliases, alias)

	require.NoError(t, b.Delete(alias))
	assert.ErrorIs(t, b.Delete(alias), keystore.ErrKeyNotFound)
	_, err = b.PrivateKey(alias)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestBackend_RejectsPresenceWindow(t *testing.T) {
	b := newSoftHSMBackend(t)
	spec := types.SealingKeySpec()
	spec.UserPresenceWindow = 1
	assert.ErrorIs(t, b.Generate("pkcs11-presence", spec), keystore.ErrNotSupported)
}

func TestRejectsCiphertext(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"BadPadding", pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_INVALID), true},
		{"WrongLength", fmt.Errorf("decrypt: %w", pkcs11.Error(pkcs11.CKR_ENCRYPTED_DATA_LEN_RANGE)), true},
		{"TokenRemoved", pkcs11.Error(pkcs11.CKR_DEVICE_REMOVED), false},
		{"NotLoggedIn", pkcs11.Error(pkcs11.CKR_USER_NOT_LOGGED_IN), false},
		{"NotAnRV", errors.New("io failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rejectsCiphertext(tt.err))
		})
	}
}
