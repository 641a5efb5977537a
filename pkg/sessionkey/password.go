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

package sessionkey

// SessionPassword is an unsealed session secret handed to the caller. The
// caller owns it and should call Destroy once it has been used.
type SessionPassword struct {
	b []byte
}

// NewSessionPassword takes ownership of b.
func NewSessionPassword(b []byte) *SessionPassword {
	return &SessionPassword{b: b}
}

// Bytes returns the secret. The slice is shared with the SessionPassword
// and is cleared by Destroy.
func (p *SessionPassword) Bytes() []byte {
	return p.b
}

// Len returns the secret length in bytes.
func (p *SessionPassword) Len() int {
	return len(p.b)
}

// Destroy zeroes the secret.
func (p *SessionPassword) Destroy() {
	clear(p.b)
	p.b = nil
}

// String never reveals the secret so a SessionPassword can be logged
// safely by accident.
func (p *SessionPassword) String() string {
	return "[REDACTED]"
}
