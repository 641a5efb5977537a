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

package tpmdevice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Kind(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want string
	}{
		{"Nil", nil, "device"},
		{"Default", &Config{}, "device"},
		{"Device", &Config{Device: "/dev/tpm0"}, "device"},
		{"Socket", &Config{Device: "/run/swtpm/tpm.sock"}, "socket"},
		{"Swtpm", &Config{SwtpmAddr: "localhost:2321"}, "swtpm"},
		{"SimulatorWins", &Config{UseSimulator: true, SwtpmAddr: "localhost:2321"}, "simulator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Kind())
		})
	}
}

func TestConfig_IsSoftware(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		want bool
	}{
		{"Device", &Config{Device: "/dev/tpmrm0"}, false},
		{"Socket", &Config{Device: "/run/swtpm/tpm.sock"}, true},
		{"SocketDeclaredHardware", &Config{Device: "/run/tpm2-abrmd/tpm.sock", Hardware: true}, false},
		{"Swtpm", &Config{SwtpmAddr: "localhost:2321"}, true},
		{"SwtpmIgnoresHardware", &Config{SwtpmAddr: "localhost:2321", Hardware: true}, true},
		{"Simulator", &Config{UseSimulator: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.IsSoftware())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	var nilCfg *Config
	assert.True(t, errors.Is(nilCfg.Validate(), ErrInvalidConfig))
	assert.True(t, errors.Is((&Config{SwtpmAddr: "localhost"}).Validate(), ErrInvalidConfig))
	assert.NoError(t, (&Config{SwtpmAddr: "localhost:2321"}).Validate())
	assert.NoError(t, (&Config{}).Validate())
}
