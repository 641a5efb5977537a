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

//go:build tpm2

package tpm2

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage/memory"
	"github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func newSimulatorBackend(t *testing.T) *Backend {
	t.Helper()
	h, err := tpmdevice.Open(&tpmdevice.Config{UseSimulator: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	b, err := NewBackend(&Config{
		Transport: h,
		Simulated: h.Simulated,
		Storage:   memory.New(),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestConfig_Validate(t *testing.T) {
	var nilCfg *Config
	assert.Error(t, nilCfg.Validate())
	assert.Error(t, (&Config{}).Validate())
}

func TestDecodeManufacturer(t *testing.T) {
	assert.Equal(t, "INTC", decodeManufacturer(0x494E5443))
	assert.Equal(t, "AMD", decodeManufacturer(0x414D4400))
	assert.Equal(t, "IFX", decodeManufacturer(0x49465800))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		simulated    bool
		fixedTPM     bool
		manufacturer string
		want         types.AssuranceLevel
	}{
		{"NotFixed", false, false, "IFX", types.AssuranceNone},
		{"Simulator", true, true, "IBM", types.AssuranceSoftwareIsolated},
		{"IntelPTT", false, true, "INTC", types.AssuranceTrustedEnvironment},
		{"AMDfTPM", false, true, "AMD", types.AssuranceTrustedEnvironment},
		{"Infineon", false, true, "IFX", types.AssuranceDedicatedSecureModule},
		{"Nuvoton", false, true, "NTC", types.AssuranceDedicatedSecureModule},
		{"LibtpmsOnDevice", false, true, "IBM", types.AssuranceSoftwareIsolated},
		{"ReferenceSimulator", true, true, "MSFT", types.AssuranceSoftwareIsolated},
		{"HyperVvTPM", false, true, "MSFT", types.AssuranceTrustedEnvironment},
		{"UnknownVendor", false, true, "ACME", types.AssuranceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.simulated, tt.fixedTPM, tt.manufacturer))
		})
	}
}

func TestBackend_RoundTrip(t *testing.T) {
	b := newSimulatorBackend(t)
	assert.Equal(t, types.BackendTPM2, b.Type())
	assert.NotEmpty(t, b.Manufacturer())

	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))
	assert.True(t, errors.Is(b.Generate("s1", types.SealingKeySpec()), keystore.ErrKeyExists))

	pub, err := b.PublicKey("s1")
	require.NoError(t, err)
	assert.Equal(t, 2048, pub.N.BitLen())

	secret := make([]byte, 64)
	_, err = rand.Read(secret)
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, secret, nil)
	require.NoError(t, err)

	h, err := b.PrivateKey("s1")
	require.NoError(t, err)
	out, err := h.Decrypt(ct, keystore.SealingOAEP())
	require.NoError(t, err)
	assert.Equal(t, secret, out)

	level, err := h.AssuranceLevel()
	require.NoError(t, err)
	assert.Equal(t, types.AssuranceSoftwareIsolated, level)

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, aliases)

	require.NoError(t, b.Delete("s1"))
	assert.True(t, errors.Is(b.Delete("s1"), keystore.ErrKeyNotFound))
	_, err = h.Decrypt(ct, nil)
	assert.True(t, errors.Is(err, keystore.ErrKeyNotFound))
}

func TestBackend_RegeneratedKeyCannotDecrypt(t *testing.T) {
	b := newSimulatorBackend(t)
	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))
	pub, err := b.PublicKey("s1")
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte("secret"), nil)
	require.NoError(t, err)

	require.NoError(t, b.Delete("s1"))
	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))

	h, err := b.PrivateKey("s1")
	require.NoError(t, err)
	_, err = h.Decrypt(ct, nil)
	assert.True(t, errors.Is(err, keystore.ErrDecryptionFailed))
}

func TestBackend_RejectsPresenceWindow(t *testing.T) {
	b := newSimulatorBackend(t)
	spec := types.SealingKeySpec()
	spec.UserPresenceWindow = time.Minute
	assert.True(t, errors.Is(b.Generate("s1", spec), keystore.ErrNotSupported))
}
