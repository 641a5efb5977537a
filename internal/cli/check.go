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

package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-sessionkey/pkg/health"
)

var errUnhealthy = errors.New("one or more checks failed")

// checkCmd runs diagnostics against the configured stack
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check storage, key store, random source and session password",
	Long: `Run diagnostics against the configured stack. The storage check writes
and removes a probe entry; the session check unseals the session password
and discards it. Degraded results do not fail the command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		checker := health.NewChecker()
		checker.RegisterCheck("storage", health.StorageCheck(s.storage))
		checker.RegisterCheck("keystore", health.KeystoreCheck(s.store, s.manager.Alias(), appConfig.RequireSecureHardware))
		checker.RegisterCheck("random", health.RandomCheck(s.random))
		checker.RegisterCheck("session", health.SessionCheck(s.manager))

		report := checker.Run(cmd.Context())
		if err := NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintHealth(report); err != nil {
			return err
		}
		if report.Status == health.StatusUnhealthy {
			return errUnhealthy
		}
		return nil
	},
}
