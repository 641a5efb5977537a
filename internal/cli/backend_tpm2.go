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

package cli

import (
	"context"
	"io"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore/tpm2"
	"github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func init() {
	registerBackend(types.BackendTPM2, func(_ context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
		device := cfg.Keystore.TPM2.Config
		handle, err := tpmdevice.Open(&device)
		if err != nil {
			return nil, err
		}
		b, err := tpm2.NewBackend(&tpm2.Config{
			Transport: handle,
			Simulated: handle.Simulated,
			Storage:   deps.storage,
			SRKHandle: cfg.Keystore.TPM2.SRKHandle,
			OwnerAuth: []byte(cfg.Keystore.TPM2.OwnerAuth),
			Logger:    deps.logger,
		})
		if err != nil {
			_ = handle.Close()
			return nil, err
		}
		return &openedBackend{
			Backend: b,
			random:  rand.NewTPM2Resolver(handle, 0),
			closers: []io.Closer{handle},
		}, nil
	})
}
