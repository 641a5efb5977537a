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

//go:build awskms

// Package awskms is a key store backend for AWS KMS. Each alias maps to an
// RSA ENCRYPT_DECRYPT customer managed key reachable as alias/<alias>;
// decryption happens inside KMS.
package awskms

import (
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("awskms: invalid configuration")
)

// DefaultTimeout bounds every KMS call.
const DefaultTimeout = 30 * time.Second

// DefaultPendingWindowDays is the shortest deletion window KMS allows.
const DefaultPendingWindowDays = 7

// Config contains configuration for the AWS KMS backend.
type Config struct {
	// Region is the AWS region where keys are managed, e.g. "us-east-1".
	Region string `yaml:"region" json:"region" mapstructure:"region"`

	// AccessKeyID and SecretAccessKey select static credentials. When both
	// are empty the default credential chain is used.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	SessionToken    string `yaml:"session_token,omitempty" json:"session_token,omitempty" mapstructure:"session_token"`

	// Endpoint overrides the KMS endpoint, e.g. http://localhost:4566 for
	// LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" mapstructure:"endpoint"`

	// AliasPrefix is prepended to every alias inside the alias/ namespace.
	AliasPrefix string `yaml:"alias_prefix,omitempty" json:"alias_prefix,omitempty" mapstructure:"alias_prefix"`

	// PendingWindowDays is the deletion waiting period, 7 to 30 days.
	PendingWindowDays int32 `yaml:"pending_window_days,omitempty" json:"pending_window_days,omitempty" mapstructure:"pending_window_days"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`

	Logger *logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Region == "" {
		return fmt.Errorf("%w: region is required", ErrInvalidConfig)
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access key ID and secret access key must be set together", ErrInvalidConfig)
	}
	if c.PendingWindowDays == 0 {
		c.PendingWindowDays = DefaultPendingWindowDays
	}
	if c.PendingWindowDays < 7 || c.PendingWindowDays > 30 {
		return fmt.Errorf("%w: pending window must be 7-30 days, got %d", ErrInvalidConfig, c.PendingWindowDays)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}
