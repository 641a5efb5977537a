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

//go:build azurekv

// Package azurekv is a key store backend for Azure Key Vault. Each alias is
// an RSA or RSA-HSM key. Key Vault soft-deletes keys and reserves their
// names, so deleting a key pair disables its current version and
// regenerating adds a new version.
package azurekv

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("azurekv: invalid configuration")
)

// DefaultTimeout bounds every Key Vault call.
const DefaultTimeout = 30 * time.Second

var keyNamePattern = regexp.MustCompile(`^[0-9A-Za-z-]{1,127}$`)

// Config contains configuration for the Azure Key Vault backend.
type Config struct {
	// VaultURL is e.g. https://myvault.vault.azure.net/.
	VaultURL string `yaml:"vault_url" json:"vault_url" mapstructure:"vault_url"`

	// TenantID, ClientID and ClientSecret select a service principal. When
	// all are empty DefaultAzureCredential is used.
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty" mapstructure:"tenant_id"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty" mapstructure:"client_secret"`

	// KeyType is RSA-HSM (default, Premium vaults and Managed HSM) or RSA.
	KeyType string `yaml:"key_type,omitempty" json:"key_type,omitempty" mapstructure:"key_type"`

	// KeyPrefix is prepended to every alias to form the key name.
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty" mapstructure:"key_prefix"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`

	Logger *logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.VaultURL == "" {
		return fmt.Errorf("%w: vault URL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.VaultURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: vault URL must be an https URL: %s", ErrInvalidConfig, c.VaultURL)
	}

	hasClientID := c.ClientID != ""
	hasClientSecret := c.ClientSecret != ""
	hasTenantID := c.TenantID != ""
	if (hasClientID || hasClientSecret || hasTenantID) && !(hasClientID && hasClientSecret && hasTenantID) {
		return fmt.Errorf("%w: tenant_id, client_id, and client_secret must all be provided together", ErrInvalidConfig)
	}

	if c.KeyType == "" {
		c.KeyType = string(azkeys.KeyTypeRSAHSM)
	}
	switch azkeys.KeyType(strings.ToUpper(c.KeyType)) {
	case azkeys.KeyTypeRSAHSM, azkeys.KeyTypeRSA:
	default:
		return fmt.Errorf("%w: unsupported key type %q", ErrInvalidConfig, c.KeyType)
	}
	if c.KeyPrefix != "" && !keyNamePattern.MatchString(c.KeyPrefix) {
		return fmt.Errorf("%w: key prefix %q is not a valid key name", ErrInvalidConfig, c.KeyPrefix)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

func (c *Config) keyType() azkeys.KeyType {
	return azkeys.KeyType(strings.ToUpper(c.KeyType))
}
