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

//go:build !tpm2 || windows

package tpmdevice

import "io"

// Handle is an open TPM transport.
type Handle struct {
	io.Closer
	Simulated bool
}

// Open always fails without the tpm2 build tag.
func Open(*Config) (*Handle, error) {
	return nil, ErrNotCompiled
}
