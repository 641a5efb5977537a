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

package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndGetCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "op-1")
	assert.Equal(t, "op-1", GetCorrelationID(ctx))
	assert.Equal(t, "", GetCorrelationID(context.Background()))

	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, "", GetCorrelationID(nil))
}

func TestNewID(t *testing.T) {
	id := NewID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewID())
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetCorrelationID(ctx))

	again, same := Ensure(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)
}
