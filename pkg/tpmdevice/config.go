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

// Package tpmdevice opens a TPM 2.0 transport from configuration: a
// character device, a Unix socket, an swtpm TCP endpoint or the embedded
// simulator. The embedded simulator is process-global, so callers that
// need the TPM in more than one component must share the returned
// transport rather than open it twice.
package tpmdevice

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultDevice is the kernel resource manager.
	DefaultDevice = "/dev/tpmrm0"

	// DefaultSimulatorSeed keeps the embedded simulator deterministic.
	DefaultSimulatorSeed int64 = 1234567890
)

var (
	// ErrNotCompiled is returned when the binary was built without the
	// tpm2 build tag.
	ErrNotCompiled = errors.New("tpmdevice: TPM 2.0 support not compiled (build with -tags tpm2)")

	ErrInvalidConfig = errors.New("tpmdevice: invalid config")
)

// Config selects the transport.
type Config struct {
	// Device is a character device or a Unix socket path ending in .sock.
	Device string `yaml:"device" json:"device" mapstructure:"device"`

	// SwtpmAddr is host:port of the swtpm command channel. The platform
	// channel is assumed on the next port.
	SwtpmAddr string `yaml:"swtpm_addr" json:"swtpm_addr" mapstructure:"swtpm_addr"`

	// UseSimulator selects the embedded simulator. It takes precedence
	// over Device and SwtpmAddr.
	UseSimulator bool `yaml:"simulator" json:"simulator" mapstructure:"simulator"`

	// Hardware asserts that a Unix socket fronts a hardware TPM, for
	// example a resource manager socket. Sockets are otherwise treated as
	// swtpm.
	Hardware bool `yaml:"hardware" json:"hardware" mapstructure:"hardware"`
}

// Kind describes which transport the config selects.
func (c *Config) Kind() string {
	switch {
	case c == nil:
		return "device"
	case c.UseSimulator:
		return "simulator"
	case c.SwtpmAddr != "":
		return "swtpm"
	case strings.HasSuffix(c.Device, ".sock"):
		return "socket"
	default:
		return "device"
	}
}

// IsSoftware reports whether the selected transport reaches a software TPM.
// Keys behind a software TPM never count as secure hardware.
func (c *Config) IsSoftware() bool {
	switch c.Kind() {
	case "simulator", "swtpm":
		return true
	case "socket":
		return !c.Hardware
	default:
		return false
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidConfig)
	}
	if c.SwtpmAddr != "" && !strings.Contains(c.SwtpmAddr, ":") {
		return fmt.Errorf("%w: swtpm_addr %q must be host:port", ErrInvalidConfig, c.SwtpmAddr)
	}
	return nil
}
