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

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// assuranceNote describes when a backend reports a given level.
type assuranceNote struct {
	Level types.AssuranceLevel `json:"level"`
	When  string               `json:"when"`
}

// backendInfo describes a key store backend.
type backendInfo struct {
	Name      types.BackendType `json:"name"`
	Compiled  bool              `json:"compiled"`
	BuildTag  string            `json:"build_tag"`
	Assurance []assuranceNote   `json:"assurance"`
}

// backendsCmd represents the backends command
var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List available key store backends",
	Long:  `List key store backends and how each classifies key isolation`,
}

// backendsListCmd lists all available backends
var backendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the backends compiled into this binary",
	RunE: func(cmd *cobra.Command, args []string) error {
		printer := NewPrinter(opts.OutputFormat, cmd.OutOrStdout())
		return printer.PrintBackendList(compiledBackends(), appConfig.BackendType())
	},
}

// backendsInfoCmd shows information about a specific backend
var backendsInfoCmd = &cobra.Command{
	Use:   "info <backend>",
	Short: "Show information about a specific backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := getBackendInfo(types.ParseBackendType(args[0]))
		if err != nil {
			return fmt.Errorf("failed to get backend info: %w", err)
		}
		printer := NewPrinter(opts.OutputFormat, cmd.OutOrStdout())
		return printer.PrintBackendInfo(info)
	},
}

func init() {
	backendsCmd.AddCommand(backendsListCmd)
	backendsCmd.AddCommand(backendsInfoCmd)
}

// getBackendInfo returns the assurance classification for a backend
func getBackendInfo(bt types.BackendType) (*backendInfo, error) {
	info := &backendInfo{
		Name:     bt,
		Compiled: isCompiled(bt),
		BuildTag: string(bt),
	}
	switch bt {
	case types.BackendSoftware:
		info.BuildTag = "none"
		info.Assurance = []assuranceNote{
			{types.AssuranceSoftwareIsolated, "keys encrypted with a password"},
			{types.AssuranceNone, "keys stored unencrypted"},
		}
	case types.BackendTPM2:
		info.Assurance = []assuranceNote{
			{types.AssuranceDedicatedSecureModule, "discrete TPM chip from a known vendor"},
			{types.AssuranceTrustedEnvironment, "firmware TPM (Intel PTT, AMD fTPM, Pluton)"},
			{types.AssuranceSoftwareIsolated, "swtpm, a socket without hardware: true, or the embedded simulator"},
			{types.AssuranceNone, "unknown TPM vendor"},
		}
	case types.BackendPKCS11:
		info.Assurance = []assuranceNote{
			{types.AssuranceDedicatedSecureModule, "token reports a hardware slot"},
			{types.AssuranceSoftwareIsolated, "software token such as SoftHSM"},
		}
	case types.BackendAWSKMS:
		info.Assurance = []assuranceNote{
			{types.AssuranceDedicatedSecureModule, "AWS_KMS or AWS_CLOUDHSM origin"},
			{types.AssuranceSoftwareIsolated, "imported or external key material"},
		}
	case types.BackendGCPKMS:
		info.Assurance = []assuranceNote{
			{types.AssuranceDedicatedSecureModule, "HSM or EXTERNAL protection level"},
			{types.AssuranceSoftwareIsolated, "SOFTWARE protection level"},
		}
	case types.BackendAzureKV:
		info.Assurance = []assuranceNote{
			{types.AssuranceDedicatedSecureModule, "RSA-HSM key type"},
			{types.AssuranceSoftwareIsolated, "RSA key type"},
		}
	default:
		return nil, fmt.Errorf("unknown backend: %s", bt)
	}
	return info, nil
}
