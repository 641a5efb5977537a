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

// newAutoResolver tries the hardware sources that are both compiled in and
// configured, and settles on software when none opens.
func newAutoResolver(cfg *Config) (Resolver, error) {
	if tpm2Available() && cfg.TPM2 != nil {
		if r, err := newTPM2Resolver(cfg.TPM2); err == nil {
			if r.Available() {
				return r, nil
			}
			_ = r.Close()
		}
	}
	if pkcs11Available() && cfg.PKCS11 != nil && cfg.PKCS11.Module != "" {
		if r, err := newPKCS11Resolver(cfg.PKCS11); err == nil {
			if r.Available() {
				return r, nil
			}
			_ = r.Close()
		}
	}
	return NewSoftwareResolver(), nil
}
