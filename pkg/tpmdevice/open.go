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

//go:build tpm2 && !windows

package tpmdevice

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/go-tpm-tools/simulator"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxtpm"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"
	"github.com/google/go-tpm/tpm2/transport/tcp"
)

// Handle is an open TPM transport. Simulated reports whether it reaches a
// software TPM.
type Handle struct {
	transport.TPMCloser
	Simulated bool
}

// Open opens the transport described by cfg. A nil cfg opens DefaultDevice.
func Open(cfg *Config) (*Handle, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Kind() {
	case "simulator":
		sim, err := simulator.GetWithFixedSeedInsecure(DefaultSimulatorSeed)
		if err != nil {
			return nil, fmt.Errorf("tpmdevice: open simulator: %w", err)
		}
		return &Handle{TPMCloser: transport.FromReadWriteCloser(sim), Simulated: true}, nil

	case "swtpm":
		host, port, err := net.SplitHostPort(cfg.SwtpmAddr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("%w: swtpm port %q", ErrInvalidConfig, port)
		}
		platform := net.JoinHostPort(host, strconv.Itoa(p+1))
		t, err := tcp.Open(tcp.Config{
			CommandAddress:  cfg.SwtpmAddr,
			PlatformAddress: platform,
		})
		if err != nil {
			return nil, fmt.Errorf("tpmdevice: connect swtpm at %s (platform %s): %w", cfg.SwtpmAddr, platform, err)
		}
		return &Handle{TPMCloser: t, Simulated: cfg.IsSoftware()}, nil

	case "socket":
		t, err := linuxudstpm.Open(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("tpmdevice: open socket %s: %w", cfg.Device, err)
		}
		return &Handle{TPMCloser: t, Simulated: cfg.IsSoftware()}, nil

	default:
		device := cfg.Device
		if device == "" {
			device = DefaultDevice
		}
		t, err := linuxtpm.Open(device)
		if err != nil {
			return nil, fmt.Errorf("tpmdevice: open %s: %w", device, err)
		}
		return &Handle{TPMCloser: t}, nil
	}
}
