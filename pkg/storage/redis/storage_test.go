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

package redis

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// Integration tests need a live server; set SESSIONKEY_TEST_REDIS_ADDR to
// run them.
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()
	addr := os.Getenv("SESSIONKEY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SESSIONKEY_TEST_REDIS_ADDR not set")
	}
	s, err := New(context.Background(), Config{
		Addr:      addr,
		Namespace: "sessionkey-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := s.List("")
		for _, k := range keys {
			_ = s.Delete(k)
		}
		_ = s.Close()
	})
	return s
}

func TestNewWithClient_DefaultNamespace(t *testing.T) {
	s := NewWithClient(nil, "")
	assert.Equal(t, DefaultNamespace, s.namespace)
	assert.Equal(t, DefaultNamespace+"session/user-secret", s.k(storage.DefaultSlotKey))
}

func TestStorage_CRUD(t *testing.T) {
	s := setupTestStorage(t)

	require.NoError(t, s.Put("keys/software/a.pkcs8", []byte("a"), nil))
	require.NoError(t, s.Put("keys/software/b.pkcs8", []byte("b"), nil))
	require.NoError(t, s.Put(storage.DefaultSlotKey, []byte("blob"), nil))

	got, err := s.Get(storage.DefaultSlotKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), got)

	keys, err := s.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/software/a.pkcs8", "keys/software/b.pkcs8"}, keys)

	require.NoError(t, s.Delete(storage.DefaultSlotKey))
	assert.True(t, errors.Is(s.Delete(storage.DefaultSlotKey), storage.ErrNotFound))

	_, err = s.Get(storage.DefaultSlotKey)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
