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

package rand

import "github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"

// DefaultTPM2MaxRequest is the per-command GetRandom size. TPMs cap a
// single response at the size of their largest digest.
const DefaultTPM2MaxRequest = 32

// TPM2Config selects the TPM whose RNG is used.
type TPM2Config struct {
	Device         tpmdevice.Config
	MaxRequestSize int
}

func (c *TPM2Config) maxRequest() int {
	if c == nil || c.MaxRequestSize <= 0 {
		return DefaultTPM2MaxRequest
	}
	return c.MaxRequestSize
}
