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

//go:build gcpkms

// Package gcpkms is a key store backend for Google Cloud KMS. Each alias
// is an ASYMMETRIC_DECRYPT CryptoKey using RSA-OAEP with SHA-1. Cloud KMS
// never deletes a CryptoKey, so the live key pair is the newest enabled
// version and deleting a key pair destroys its enabled versions.
package gcpkms

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/kms/apiv1/kmspb"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("gcpkms: invalid configuration")

	// ErrChecksumMismatch is returned when a CRC32C integrity check fails.
	ErrChecksumMismatch = errors.New("gcpkms: checksum mismatch")
)

// DefaultTimeout bounds every KMS call.
const DefaultTimeout = 30 * time.Second

// Config contains configuration for the Cloud KMS backend.
type Config struct {
	ProjectID  string `yaml:"project_id" json:"project_id" mapstructure:"project_id"`
	LocationID string `yaml:"location_id" json:"location_id" mapstructure:"location_id"`
	KeyRingID  string `yaml:"key_ring_id" json:"key_ring_id" mapstructure:"key_ring_id"`

	// CredentialsFile is a service account JSON file. Application default
	// credentials are used when empty.
	CredentialsFile string `yaml:"credentials_file,omitempty" json:"credentials_file,omitempty" mapstructure:"credentials_file"`

	// Endpoint overrides the API endpoint, e.g. for an emulator.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`

	// ProtectionLevel is HSM (default) or SOFTWARE.
	ProtectionLevel string `yaml:"protection_level,omitempty" json:"protection_level,omitempty" mapstructure:"protection_level"`

	// KeyPrefix is prepended to every alias to form the CryptoKey ID.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty" mapstructure:"key_prefix"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`

	Logger *logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.ProjectID == "" {
		return fmt.Errorf("%w: project ID is required", ErrInvalidConfig)
	}
	if c.LocationID == "" {
		return fmt.Errorf("%w: location ID is required", ErrInvalidConfig)
	}
	if c.KeyRingID == "" {
		return fmt.Errorf("%w: key ring ID is required", ErrInvalidConfig)
	}
	if c.CredentialsFile != "" {
		if _, err := os.Stat(c.CredentialsFile); os.IsNotExist(err) {
			return fmt.Errorf("%w: credentials file not found: %s", ErrInvalidConfig, c.CredentialsFile)
		}
	}
	if c.ProtectionLevel == "" {
		c.ProtectionLevel = kmspb.ProtectionLevel_HSM.String()
	}
	if _, err := c.protectionLevel(); err != nil {
		return err
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

func (c *Config) protectionLevel() (kmspb.ProtectionLevel, error) {
	switch strings.ToUpper(c.ProtectionLevel) {
	case "HSM":
		return kmspb.ProtectionLevel_HSM, nil
	case "SOFTWARE":
		return kmspb.ProtectionLevel_SOFTWARE, nil
	}
	return kmspb.ProtectionLevel_PROTECTION_LEVEL_UNSPECIFIED,
		fmt.Errorf("%w: unsupported protection level %q", ErrInvalidConfig, c.ProtectionLevel)
}

// KeyRingName returns the fully qualified key ring resource name.
func (c *Config) KeyRingName() string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s", c.ProjectID, c.LocationID, c.KeyRingID)
}
