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

package cli

import (
	"context"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore/pkcs11"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func init() {
	registerBackend(types.BackendPKCS11, func(_ context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
		c := cfg.Keystore.PKCS11
		b, err := pkcs11.NewBackend(&pkcs11.Config{
			Library:    c.Library,
			TokenLabel: c.TokenLabel,
			PIN:        c.PIN,
			Slot:       c.Slot,
			Logger:     deps.logger,
		})
		if err != nil {
			return nil, err
		}
		return &openedBackend{Backend: b}, nil
	})
}
