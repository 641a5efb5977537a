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

package rand

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"
)

func TestTPM2Resolver_Simulator(t *testing.T) {
	r, err := NewResolver(&Config{
		Mode: ModeTPM2,
		TPM2: &TPM2Config{Device: tpmdevice.Config{UseSimulator: true}, MaxRequestSize: 16},
	})
	require.NoError(t, err)

	assert.Equal(t, ModeTPM2, r.Mode())
	assert.True(t, r.Available())

	// Larger than MaxRequestSize to exercise chunking.
	out, err := r.Rand(64)
	require.NoError(t, err)
	assert.Len(t, out, 64)

	buf := make([]byte, 33)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 33, n)

	require.NoError(t, r.Close())
	assert.False(t, r.Available())
	_, err = r.Rand(8)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewTPM2Resolver_SharedTransport(t *testing.T) {
	h, err := tpmdevice.Open(&tpmdevice.Config{UseSimulator: true})
	require.NoError(t, err)
	defer h.Close()

	r := NewTPM2Resolver(h, 0)
	out, err := r.Rand(48)
	require.NoError(t, err)
	assert.Len(t, out, 48)

	// Closing the resolver leaves the shared transport usable.
	require.NoError(t, r.Close())
	r2 := NewTPM2Resolver(h, 0)
	_, err = r2.Rand(8)
	assert.NoError(t, err)
}
