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

//go:build azurekv

package cli

import (
	"context"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore/azurekv"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func init() {
	registerBackend(types.BackendAzureKV, func(_ context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
		c := cfg.Keystore.AzureKV
		b, err := azurekv.NewBackend(&azurekv.Config{
			VaultURL:     c.VaultURL,
			TenantID:     c.TenantID,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			KeyType:      c.KeyType,
			KeyPrefix:    c.KeyPrefix,
			Timeout:      c.Timeout,
			Logger:       deps.logger,
		})
		if err != nil {
			return nil, err
		}
		return &openedBackend{Backend: b}, nil
	})
}
