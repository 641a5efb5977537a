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

package memory

import (
	"errors"
	"testing"

	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_CRUD(t *testing.T) {
	s := New()

	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.Put("keys/software/a.pkcs8", []byte("one"), nil))
	require.NoError(t, s.Put("keys/software/b.pkcs8", []byte("two"), nil))
	require.NoError(t, s.Put("session/user-secret", []byte("blob"), nil))

	got, err := s.Get("keys/software/a.pkcs8")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	exists, err := s.Exists("keys/software/b.pkcs8")
	require.NoError(t, err)
	assert.True(t, exists)

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/software/a.pkcs8", "keys/software/b.pkcs8"}, keys)

	require.NoError(t, s.Delete("keys/software/a.pkcs8"))
	assert.True(t, errors.Is(s.Delete("keys/software/a.pkcs8"), storage.ErrNotFound))

	assert.True(t, errors.Is(s.Put("", []byte("x"), nil), storage.ErrInvalidKey))
}

func TestStorage_DefensiveCopies(t *testing.T) {
	s := New()
	value := []byte("secret")
	require.NoError(t, s.Put("k", value, nil))

	value[0] = 'X'
	got, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got)

	got[0] = 'Y'
	again, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), again)
}

func TestStorage_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Put("k", []byte("v"), nil))
	require.NoError(t, s.Close())

	_, err := s.Get("k")
	assert.True(t, errors.Is(err, storage.ErrClosed))
	assert.True(t, errors.Is(s.Put("k", nil, nil), storage.ErrClosed))
	assert.True(t, errors.Is(s.Delete("k"), storage.ErrClosed))
	_, err = s.List("")
	assert.True(t, errors.Is(err, storage.ErrClosed))
	_, err = s.Exists("k")
	assert.True(t, errors.Is(err, storage.ErrClosed))
	require.NoError(t, s.Close())
}

func TestSlot_OverMemory(t *testing.T) {
	slot := storage.NewSlot(New(), "")
	assert.Equal(t, storage.DefaultSlotKey, slot.Key())

	_, err := slot.Read()
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, slot.Write("c2VhbGVk"))
	text, err := slot.Read()
	require.NoError(t, err)
	assert.Equal(t, "c2VhbGVk", text)

	require.NoError(t, slot.Clear())
	require.NoError(t, slot.Clear())
	_, err = slot.Read()
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestListAliases(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(storage.KeyPath("tpm2", "s1", "pub"), []byte("p"), nil))
	require.NoError(t, s.Put(storage.KeyPath("tpm2", "s1", "priv"), []byte("p"), nil))
	require.NoError(t, s.Put(storage.KeyPath("tpm2", "s2", "pub"), []byte("p"), nil))
	require.NoError(t, s.Put(storage.KeyPath("software", "s3", "pkcs8"), []byte("p"), nil))

	aliases, err := storage.ListAliases(s, "tpm2", "pub")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, aliases)

	require.NoError(t, storage.DeleteIfExists(s, storage.KeyPath("tpm2", "s9", "pub")))
}
