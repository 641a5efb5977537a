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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-sessionkey/internal/encoding"
)

var (
	requireHardware bool
	revealSecret    bool
)

// provisionCmd creates a key pair and seals a fresh session password
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Generate and seal a new session password",
	Long: `Generate a new RSA key pair under the configured alias, draw a random
session password and seal it with the public key. Any existing key pair
and sealed password are replaced.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		require := requireHardware || appConfig.RequireSecureHardware
		printVerbose(cmd, "provisioning %s (secure hardware required: %t)", s.manager.Alias(), require)
		if err := s.manager.CreateSessionPassword(cmd.Context(), require); err != nil {
			return err
		}
		return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).
			PrintSuccess(fmt.Sprintf("Session password provisioned for %s", s.manager.Alias()))
	},
}

// unsealCmd decrypts the stored session password
var unsealCmd = &cobra.Command{
	Use:   "unseal",
	Short: "Unseal the stored session password",
	Long: `Unseal the stored session password with the private key. By default only
its length and a fingerprint are printed; --reveal prints the base64
encoded secret.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		pw, err := s.manager.UnsealSessionPassword(cmd.Context())
		if err != nil {
			return err
		}
		defer pw.Destroy()
		return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintUnsealed(s.manager.Alias(), pw, revealSecret)
	},
}

// statusCmd reports whether a session password is provisioned
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session password state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		st, err := s.manager.Status(cmd.Context())
		if err != nil {
			return err
		}
		return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).PrintStatus(st)
	},
}

// resetCmd deletes the key pair and the sealed password
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the key pair and the sealed session password",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		if err := s.manager.Reset(cmd.Context()); err != nil {
			return err
		}
		return NewPrinter(opts.OutputFormat, cmd.OutOrStdout()).
			PrintSuccess(fmt.Sprintf("Session password for %s removed", s.manager.Alias()))
	},
}

// pubkeyCmd exports the sealing public key
var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the sealing public key as PEM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), appConfig, logger)
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()

		pub, err := s.store.PublicKey(s.manager.Alias())
		if err != nil {
			return err
		}
		pemData, err := encoding.EncodePublicKeyPEM(pub)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(pemData)
		return err
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&requireHardware, "require-hardware", false,
		"fail unless the key is held in secure hardware")
	unsealCmd.Flags().BoolVar(&revealSecret, "reveal", false,
		"print the base64 encoded session password")
}
