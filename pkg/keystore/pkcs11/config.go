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

package pkcs11

import (
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

var (
	// ErrInvalidConfig is returned when the configuration is incomplete.
	ErrInvalidConfig = errors.New("pkcs11: invalid configuration")

	// ErrLibraryNotFound is returned when the PKCS#11 module does not exist.
	ErrLibraryNotFound = errors.New("pkcs11: library not found")
)

// Config contains configuration for the PKCS#11 backend.
type Config struct {
	// Library is the path to the PKCS#11 module, e.g.
	// /usr/lib/softhsm/libsofthsm2.so.
	Library string `yaml:"library" json:"library" mapstructure:"library"`

	// TokenLabel selects the token.
	TokenLabel string `yaml:"label" json:"label" mapstructure:"label"`

	PIN string `yaml:"pin,omitempty" json:"pin,omitempty" mapstructure:"pin"`

	// Slot overrides token selection by label.
	Slot *int `yaml:"slot,omitempty" json:"slot,omitempty" mapstructure:"slot"`

	Logger *logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Library == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}
	if _, err := os.Stat(c.Library); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, c.Library)
	}
	if c.TokenLabel == "" && c.Slot == nil {
		return fmt.Errorf("%w: token label or slot is required", ErrInvalidConfig)
	}
	if c.PIN != "" && len(c.PIN) < 4 {
		return fmt.Errorf("%w: PIN must be at least 4 characters", ErrInvalidConfig)
	}
	return nil
}
