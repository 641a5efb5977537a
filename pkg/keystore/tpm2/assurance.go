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

package tpm2

import (
	"strings"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// firmwareVendors are TPM_PT_MANUFACTURER values of TPMs implemented in
// CPU or SoC firmware, whose keys live in a trusted execution environment
// rather than a discrete chip.
var firmwareVendors = map[string]bool{
	"INTC": true, // Intel PTT
	"AMD":  true, // AMD fTPM
	"MSFT": true, // Pluton, Hyper-V vTPM
	"GOOG": true, // Shielded VM vTPM
	"QCOM": true,
	"ROCC": true, // Rockchip
	"SMSN": true, // Samsung
}

// discreteVendors make standalone TPM chips.
var discreteVendors = map[string]bool{
	"IFX":  true, // Infineon
	"STM":  true, // STMicroelectronics
	"NTC":  true, // Nuvoton
	"NTZ":  true, // Nationz
	"ATML": true, // Atmel
	"BRCM": true, // Broadcom
	"NSM":  true, // National Semiconductor
	"SNS":  true, // Sinosun
	"TXN":  true, // Texas Instruments
	"WEC":  true, // Winbond
}

// softwareVendors are reported by software TPMs: libtpms (behind swtpm)
// reports IBM.
var softwareVendors = map[string]bool{
	"IBM": true,
}

// decodeManufacturer turns the packed four-character vendor ID into text.
func decodeManufacturer(v uint32) string {
	b := []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	return strings.TrimRight(string(b), " \x00")
}

// classify maps what is known about a key to an assurance level. A vendor
// not known to make hardware TPMs reports None.
func classify(simulated, fixedTPM bool, manufacturer string) types.AssuranceLevel {
	switch {
	case !fixedTPM:
		return types.AssuranceNone
	case simulated, softwareVendors[manufacturer]:
		return types.AssuranceSoftwareIsolated
	case firmwareVendors[manufacturer]:
		return types.AssuranceTrustedEnvironment
	case discreteVendors[manufacturer]:
		return types.AssuranceDedicatedSecureModule
	default:
		return types.AssuranceNone
	}
}
