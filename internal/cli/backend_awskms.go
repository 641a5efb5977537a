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

//go:build awskms

package cli

import (
	"context"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore/awskms"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

func init() {
	registerBackend(types.BackendAWSKMS, func(ctx context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
		c := cfg.Keystore.AWSKMS
		b, err := awskms.NewBackend(ctx, &awskms.Config{
			Region:            c.Region,
			AccessKeyID:       c.AccessKeyID,
			SecretAccessKey:   c.SecretAccessKey,
			SessionToken:      c.SessionToken,
			Endpoint:          c.Endpoint,
			AliasPrefix:       c.AliasPrefix,
			PendingWindowDays: c.PendingWindowDays,
			Timeout:           c.Timeout,
			Logger:            deps.logger,
		})
		if err != nil {
			return nil, err
		}
		return &openedBackend{Backend: b}, nil
	})
}
