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

package file

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	return fs
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestFileStorage_CRUD(t *testing.T) {
	fs := createTestStorage(t)

	require.NoError(t, fs.Put("session/user-secret", []byte("c2VhbGVk"), nil))

	got, err := fs.Get("session/user-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("c2VhbGVk"), got)

	info, err := os.Stat(filepath.Join(fs.Root(), "session", "user-secret"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	exists, err := fs.Exists("session/user-secret")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, fs.Delete("session/user-secret"))
	assert.True(t, errors.Is(fs.Delete("session/user-secret"), storage.ErrNotFound))

	_, err = fs.Get("session/user-secret")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	exists, err = fs.Exists("session/user-secret")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStorage_Overwrite(t *testing.T) {
	fs := createTestStorage(t)
	require.NoError(t, fs.Put("k", []byte("first"), nil))
	require.NoError(t, fs.Put("k", []byte("second"), nil))

	got, err := fs.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)

	entries, err := os.ReadDir(fs.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), tempSuffix)
	}
}

func TestFileStorage_List(t *testing.T) {
	fs := createTestStorage(t)
	require.NoError(t, fs.Put("keys/software/b.pkcs8", []byte("b"), nil))
	require.NoError(t, fs.Put("keys/software/a.pkcs8", []byte("a"), nil))
	require.NoError(t, fs.Put("session/user-secret", []byte("s"), nil))

	keys, err := fs.List("keys/")
	require.NoError(t, err)
	assert.Equal(t, []string{"keys/software/a.pkcs8", "keys/software/b.pkcs8"}, keys)

	all, err := fs.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFileStorage_InvalidKeys(t *testing.T) {
	fs := createTestStorage(t)

	tests := []struct {
		name string
		key  string
	}{
		{"Empty", ""},
		{"Absolute", "/etc/passwd"},
		{"Traversal", "../escape"},
		{"NestedTraversal", "keys/../../escape"},
		{"NullByte", "keys/\x00bad"},
		{"TempSuffix", "keys/a.tmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.Put(tt.key, []byte("x"), nil)
			assert.True(t, errors.Is(err, storage.ErrInvalidKey), "got %v", err)
		})
	}
}

func TestFileStorage_Closed(t *testing.T) {
	fs := createTestStorage(t)
	require.NoError(t, fs.Close())

	_, err := fs.Get("k")
	assert.True(t, errors.Is(err, storage.ErrClosed))
	_, err = fs.List("")
	assert.True(t, errors.Is(err, storage.ErrClosed))
}
