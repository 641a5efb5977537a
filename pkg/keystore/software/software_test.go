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

package software

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage/memory"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func newTestBackend(t *testing.T, password []byte) (*Backend, *memory.Storage) {
	t.Helper()
	store := memory.New()
	b, err := NewBackend(&Config{
		Storage:  store,
		Password: password,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, store
}

func seal(t *testing.T, pub *rsa.PublicKey, msg []byte) []byte {
	t.Helper()
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, msg, nil)
	require.NoError(t, err)
	return ct
}

func TestNewBackend_InvalidConfig(t *testing.T) {
	_, err := NewBackend(nil)
	assert.Error(t, err)
	_, err = NewBackend(&Config{})
	assert.Error(t, err)
}

func TestBackend_Lifecycle(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	assert.Equal(t, types.BackendSoftware, b.Type())

	exists, err := b.Exists("s1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))

	exists, err = b.Exists("s1")
	require.NoError(t, err)
	assert.True(t, exists)

	err = b.Generate("s1", types.SealingKeySpec())
	assert.True(t, errors.Is(err, keystore.ErrKeyExists))

	pub, err := b.PublicKey("s1")
	require.NoError(t, err)
	assert.Equal(t, 2048, pub.N.BitLen())

	handle, err := b.PrivateKey("s1")
	require.NoError(t, err)

	secret := []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	plaintext, err := handle.Decrypt(seal(t, pub, secret), nil)
	require.NoError(t, err)
	assert.Equal(t, secret, plaintext)

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, aliases)

	require.NoError(t, b.Delete("s1"))
	assert.True(t, errors.Is(b.Delete("s1"), keystore.ErrKeyNotFound))

	_, err = b.PublicKey("s1")
	assert.True(t, errors.Is(err, keystore.ErrKeyNotFound))
	_, err = b.PrivateKey("s1")
	assert.True(t, errors.Is(err, keystore.ErrKeyNotFound))
}

func TestBackend_InvalidSpec(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	err := b.Generate("s1", &types.KeySpec{Purpose: types.PurposeSign})
	assert.True(t, errors.Is(err, keystore.ErrInvalidKeySpec))
}

func TestBackend_AssuranceLevel(t *testing.T) {
	tests := []struct {
		name     string
		password []byte
		want     types.AssuranceLevel
	}{
		{"Plain", nil, types.AssuranceNone},
		{"PasswordEncrypted", []byte("correct horse"), types.AssuranceSoftwareIsolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, tt.password)
			require.NoError(t, b.Generate("s1", types.SealingKeySpec()))
			handle, err := b.PrivateKey("s1")
			require.NoError(t, err)
			level, err := handle.AssuranceLevel()
			require.NoError(t, err)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestBackend_EncryptedAtRest(t *testing.T) {
	b, store := newTestBackend(t, []byte("correct horse"))
	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))

	der, err := store.Get(storage.KeyPath("software", "s1", extPrivate))
	require.NoError(t, err)
	_, err = x509.ParsePKCS8PrivateKey(der)
	assert.Error(t, err, "encrypted key must not parse as plain PKCS#8")

	pub, err := b.PublicKey("s1")
	require.NoError(t, err)
	handle, err := b.PrivateKey("s1")
	require.NoError(t, err)
	out, err := handle.Decrypt(seal(t, pub, []byte("secret")), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), out)

	// A backend opened with the wrong password cannot use the key.
	wrong, err := NewBackend(&Config{Storage: store, Password: []byte("wrong"), Logger: logging.Discard()})
	require.NoError(t, err)
	h2, err := wrong.PrivateKey("s1")
	require.NoError(t, err)
	_, err = h2.Decrypt(seal(t, pub, []byte("secret")), nil)
	assert.Error(t, err)
}

func TestHandle_RejectsOtherPadding(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	require.NoError(t, b.Generate("s1", types.SealingKeySpec()))
	handle, err := b.PrivateKey("s1")
	require.NoError(t, err)

	tests := []struct {
		name string
		opts *rsa.OAEPOptions
	}{
		{"SHA256", &rsa.OAEPOptions{Hash: crypto.SHA256}},
		{"MGF256", &rsa.OAEPOptions{Hash: crypto.SHA1, MGFHash: crypto.SHA256}},
		{"Label", &rsa.OAEPOptions{Hash: crypto.SHA1, Label: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handle.Decrypt([]byte("irrelevant"), tt.opts)
			assert.True(t, errors.Is(err, keystore.ErrUnsupportedPadding))
		})
	}
}

func TestHandle_WrongKey(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	require.NoError(t, b.Generate("a", types.SealingKeySpec()))
	require.NoError(t, b.Generate("b", types.SealingKeySpec()))

	pubA, err := b.PublicKey("a")
	require.NoError(t, err)
	handleB, err := b.PrivateKey("b")
	require.NoError(t, err)

	_, err = handleB.Decrypt(seal(t, pubA, []byte("secret")), keystore.SealingOAEP())
	assert.True(t, errors.Is(err, keystore.ErrDecryptionFailed))
}

func TestHandle_UserPresenceWindow(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	var deny bool

	b, err := NewBackend(&Config{
		Storage: memory.New(),
		Logger:  logging.Discard(),
		Now:     func() time.Time { return now },
		Presence: func(alias string) error {
			calls++
			if deny {
				return errors.New("user declined")
			}
			return nil
		},
	})
	require.NoError(t, err)

	spec := types.SealingKeySpec()
	spec.UserPresenceWindow = 30 * time.Second
	require.NoError(t, b.Generate("s1", spec))

	pub, err := b.PublicKey("s1")
	require.NoError(t, err)
	handle, err := b.PrivateKey("s1")
	require.NoError(t, err)
	ct := seal(t, pub, []byte("secret"))

	_, err = handle.Decrypt(ct, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	now = now.Add(10 * time.Second)
	_, err = handle.Decrypt(ct, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "confirmation inside the window is reused")

	now = now.Add(time.Minute)
	deny = true
	_, err = handle.Decrypt(ct, nil)
	assert.True(t, errors.Is(err, keystore.ErrUserPresenceRequired))
	assert.Equal(t, 2, calls)
}

func TestHandle_UserPresenceWithoutConfirmer(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	spec := types.SealingKeySpec()
	spec.UserPresenceWindow = time.Second
	require.NoError(t, b.Generate("s1", spec))

	handle, err := b.PrivateKey("s1")
	require.NoError(t, err)
	_, err = handle.Decrypt([]byte("x"), nil)
	assert.True(t, errors.Is(err, keystore.ErrUserPresenceRequired))
}

func TestBackend_Closed(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, err := b.Exists("s1")
	assert.True(t, errors.Is(err, keystore.ErrBackendClosed))
	assert.True(t, errors.Is(b.Generate("s1", types.SealingKeySpec()), keystore.ErrBackendClosed))
}
