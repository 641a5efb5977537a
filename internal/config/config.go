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

// Package config loads the sessionkey configuration from a YAML file,
// SESSIONKEY_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-sessionkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-sessionkey/pkg/seal"
	"github.com/jeremyhahn/go-sessionkey/pkg/secret"
	"github.com/jeremyhahn/go-sessionkey/pkg/sessionkey"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	redisstore "github.com/jeremyhahn/go-sessionkey/pkg/storage/redis"
	"github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
	"github.com/jeremyhahn/go-sessionkey/pkg/worker"
)

const (
	// EnvPrefix prefixes every environment override, e.g.
	// SESSIONKEY_KEYSTORE_TYPE=tpm2.
	EnvPrefix = "SESSIONKEY"

	// DefaultFileName is searched for in the working directory and in
	// DefaultDir when no path is given.
	DefaultFileName = "sessionkey.yaml"

	// DefaultDir is relative to the user's home directory.
	DefaultDir = ".sessionkey"
)

// Storage types.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageSQL    = "sql"
	StorageRedis  = "redis"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is the complete sessionkey configuration.
type Config struct {
	// Alias names the session key pair.
	Alias string `yaml:"alias" mapstructure:"alias"`

	// SecretLength is the session secret size in bytes.
	SecretLength int `yaml:"secret_length" mapstructure:"secret_length"`

	// RequireSecureHardware makes provisioning fail unless the key store
	// reports a trusted environment or a dedicated secure module.
	RequireSecureHardware bool `yaml:"require_secure_hardware" mapstructure:"require_secure_hardware"`

	// DisableProbe skips the throwaway-key assurance probe on first
	// provisioning.
	DisableProbe bool `yaml:"disable_probe" mapstructure:"disable_probe"`

	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" mapstructure:"metrics"`
	Gate     GateConfig     `yaml:"gate" mapstructure:"gate"`
	Worker   WorkerConfig   `yaml:"worker" mapstructure:"worker"`
	Random   RandomConfig   `yaml:"random" mapstructure:"random"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Keystore KeystoreConfig `yaml:"keystore" mapstructure:"keystore"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Debug  bool   `yaml:"debug" mapstructure:"debug"`
	Format string `yaml:"format" mapstructure:"format"` // text, json
}

// MetricsConfig controls metrics collection
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// GateConfig bounds the secret quality gate. Zero retries forever.
type GateConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// WorkerConfig configures the serial executor
type WorkerConfig struct {
	QueueSize     int     `yaml:"queue_size" mapstructure:"queue_size"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// RandomConfig selects the entropy source for session secrets
type RandomConfig struct {
	Mode     string             `yaml:"mode" mapstructure:"mode"`         // auto, software, tpm2, pkcs11
	Fallback string             `yaml:"fallback" mapstructure:"fallback"` // empty disables fallback
	PKCS11   RandomPKCS11Config `yaml:"pkcs11" mapstructure:"pkcs11"`
}

// RandomPKCS11Config selects the token RNG
type RandomPKCS11Config struct {
	Module string `yaml:"module" mapstructure:"module"`
	Slot   uint   `yaml:"slot" mapstructure:"slot"`
	PIN    string `yaml:"pin,omitempty" mapstructure:"pin"`
}

// StorageConfig selects where sealed blobs and wrapped key material live
type StorageConfig struct {
	Type    string            `yaml:"type" mapstructure:"type"` // memory, file, sql, redis
	Path    string            `yaml:"path" mapstructure:"path"`
	DSN     string            `yaml:"dsn,omitempty" mapstructure:"dsn"`
	SlotKey string            `yaml:"slot_key" mapstructure:"slot_key"`
	Redis   redisstore.Config `yaml:"redis" mapstructure:"redis"`
}

// KeystoreConfig selects the platform key store
type KeystoreConfig struct {
	Type     string         `yaml:"type" mapstructure:"type"`
	Software SoftwareConfig `yaml:"software" mapstructure:"software"`
	TPM2     TPM2Config     `yaml:"tpm2" mapstructure:"tpm2"`
	PKCS11   PKCS11Config   `yaml:"pkcs11" mapstructure:"pkcs11"`
	AWSKMS   AWSKMSConfig   `yaml:"awskms" mapstructure:"awskms"`
	GCPKMS   GCPKMSConfig   `yaml:"gcpkms" mapstructure:"gcpkms"`
	AzureKV  AzureKVConfig  `yaml:"azurekv" mapstructure:"azurekv"`
}

// SoftwareConfig contains software key store settings
type SoftwareConfig struct {
	// Password encrypts keys at rest. Prefer SESSIONKEY_KEYSTORE_SOFTWARE_PASSWORD
	// or PromptPassword over writing it to the file.
	Password       string `yaml:"password,omitempty" mapstructure:"password"`
	PromptPassword bool   `yaml:"prompt_password" mapstructure:"prompt_password"`
}

// TPM2Config contains TPM 2.0 key store settings
type TPM2Config struct {
	tpmdevice.Config `yaml:",inline" mapstructure:",squash"`
	SRKHandle        uint32 `yaml:"srk_handle" mapstructure:"srk_handle"`
	OwnerAuth        string `yaml:"owner_auth,omitempty" mapstructure:"owner_auth"`
}

// PKCS11Config contains PKCS#11 key store settings
type PKCS11Config struct {
	Library    string `yaml:"library" mapstructure:"library"`
	TokenLabel string `yaml:"label" mapstructure:"label"`
	PIN        string `yaml:"pin,omitempty" mapstructure:"pin"`
	Slot       *int   `yaml:"slot,omitempty" mapstructure:"slot"`
}

// AWSKMSConfig contains AWS KMS key store settings
type AWSKMSConfig struct {
	Region            string        `yaml:"region" mapstructure:"region"`
	AccessKeyID       string        `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey   string        `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	SessionToken      string        `yaml:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint          string        `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	AliasPrefix       string        `yaml:"alias_prefix,omitempty" mapstructure:"alias_prefix"`
	PendingWindowDays int32         `yaml:"pending_window_days,omitempty" mapstructure:"pending_window_days"`
	Timeout           time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// GCPKMSConfig contains GCP Cloud KMS key store settings
type GCPKMSConfig struct {
	ProjectID       string        `yaml:"project_id" mapstructure:"project_id"`
	LocationID      string        `yaml:"location_id" mapstructure:"location_id"`
	KeyRingID       string        `yaml:"key_ring_id" mapstructure:"key_ring_id"`
	CredentialsFile string        `yaml:"credentials_file,omitempty" mapstructure:"credentials_file"`
	Endpoint        string        `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ProtectionLevel string        `yaml:"protection_level,omitempty" mapstructure:"protection_level"`
	KeyPrefix       string        `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
	Timeout         time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// AzureKVConfig contains Azure Key Vault key store settings
type AzureKVConfig struct {
	VaultURL     string        `yaml:"vault_url" mapstructure:"vault_url"`
	TenantID     string        `yaml:"tenant_id,omitempty" mapstructure:"tenant_id"`
	ClientID     string        `yaml:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string        `yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	KeyType      string        `yaml:"key_type,omitempty" mapstructure:"key_type"`
	KeyPrefix    string        `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
	Timeout      time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// Default returns the configuration used when no file exists: a software
// key store and file storage under the user's home directory.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultDataDir returns ~/.sessionkey, or .sessionkey when the home
// directory cannot be determined.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDir
	}
	return filepath.Join(home, DefaultDir)
}

// LoadDotEnv loads KEY=value pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration. An empty path searches DefaultFileName in
// the working directory and DefaultDataDir, and falls back to defaults
// when neither exists. SESSIONKEY_* environment variables override file
// values, with nesting separated by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	registerKeys(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, filepath.Ext(DefaultFileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDataDir())
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// registerKeys makes every field of defaults known to v so that
// AutomaticEnv applies to keys absent from the file.
func registerKeys(v *viper.Viper, defaults *Config) {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return
	}
	setDefaults(v, "", tree)

	// Keys omitted from the marshaled defaults because they are empty.
	for _, key := range []string{
		"storage.dsn",
		"random.pkcs11.pin",
		"keystore.software.password",
		"keystore.tpm2.owner_auth",
		"keystore.pkcs11.pin",
		"keystore.pkcs11.slot",
		"keystore.awskms.access_key_id",
		"keystore.awskms.secret_access_key",
		"keystore.awskms.session_token",
		"keystore.awskms.endpoint",
		"keystore.awskms.alias_prefix",
		"keystore.gcpkms.credentials_file",
		"keystore.gcpkms.endpoint",
		"keystore.gcpkms.key_prefix",
		"keystore.azurekv.tenant_id",
		"keystore.azurekv.client_id",
		"keystore.azurekv.client_secret",
		"keystore.azurekv.key_prefix",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, nil)
		}
	}
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Alias == "" {
		cfg.Alias = sessionkey.DefaultAlias
	}
	if cfg.SecretLength == 0 {
		cfg.SecretLength = secret.DefaultLength
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = worker.DefaultQueueSize
	}
	if cfg.Random.Mode == "" {
		cfg.Random.Mode = string(rand.ModeAuto)
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = StorageFile
	}
	if cfg.Storage.Path == "" && cfg.Storage.Type == StorageFile {
		cfg.Storage.Path = filepath.Join(DefaultDataDir(), "data")
	}
	if cfg.Storage.SlotKey == "" {
		cfg.Storage.SlotKey = storage.DefaultSlotKey
	}
	if cfg.Storage.Redis.Addr == "" {
		cfg.Storage.Redis.Addr = "localhost:6379"
	}
	if cfg.Keystore.Type == "" {
		cfg.Keystore.Type = string(types.BackendSoftware)
	}
	if cfg.Keystore.TPM2.Device == "" {
		cfg.Keystore.TPM2.Device = tpmdevice.DefaultDevice
	}
	if cfg.Keystore.GCPKMS.LocationID == "" {
		cfg.Keystore.GCPKMS.LocationID = "global"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Alias == "" {
		return fmt.Errorf("%w: alias must be specified", ErrInvalidConfig)
	}
	if c.SecretLength < 16 {
		return fmt.Errorf("%w: secret_length %d is below 16 bytes", ErrInvalidConfig, c.SecretLength)
	}
	if limit := seal.MaxSecretLength(types.DefaultKeySize); c.SecretLength > limit {
		return fmt.Errorf("%w: secret_length %d exceeds %d bytes", ErrInvalidConfig, c.SecretLength, limit)
	}
	if c.Gate.MaxAttempts < 0 {
		return fmt.Errorf("%w: gate.max_attempts cannot be negative", ErrInvalidConfig)
	}
	if c.Worker.RatePerSecond < 0 || c.Worker.Burst < 0 || c.Worker.QueueSize < 0 {
		return fmt.Errorf("%w: worker settings cannot be negative", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format: %s (must be text or json)", ErrInvalidConfig, c.Logging.Format)
	}

	if _, err := rand.ParseMode(c.Random.Mode); err != nil {
		return fmt.Errorf("%w: random.mode: %v", ErrInvalidConfig, err)
	}
	if c.Random.Fallback != "" {
		if _, err := rand.ParseMode(c.Random.Fallback); err != nil {
			return fmt.Errorf("%w: random.fallback: %v", ErrInvalidConfig, err)
		}
	}

	switch c.Storage.Type {
	case StorageMemory, StorageRedis:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("%w: storage path must be specified", ErrInvalidConfig)
		}
	case StorageSQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage dsn must be specified for sql storage", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage type %q", ErrInvalidConfig, c.Storage.Type)
	}

	bt := types.ParseBackendType(c.Keystore.Type)
	if !bt.IsValid() {
		return fmt.Errorf("%w: unknown keystore type %q", ErrInvalidConfig, c.Keystore.Type)
	}
	switch bt {
	case types.BackendPKCS11:
		if c.Keystore.PKCS11.Library == "" {
			return fmt.Errorf("%w: keystore.pkcs11.library is required", ErrInvalidConfig)
		}
	case types.BackendAWSKMS:
		if c.Keystore.AWSKMS.Region == "" {
			return fmt.Errorf("%w: keystore.awskms.region is required", ErrInvalidConfig)
		}
	case types.BackendGCPKMS:
		if c.Keystore.GCPKMS.ProjectID == "" || c.Keystore.GCPKMS.KeyRingID == "" {
			return fmt.Errorf("%w: keystore.gcpkms.project_id and key_ring_id are required", ErrInvalidConfig)
		}
	case types.BackendAzureKV:
		if c.Keystore.AzureKV.VaultURL == "" {
			return fmt.Errorf("%w: keystore.azurekv.vault_url is required", ErrInvalidConfig)
		}
	}
	return nil
}

// BackendType returns the configured key store type.
func (c *Config) BackendType() types.BackendType {
	return types.ParseBackendType(c.Keystore.Type)
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy with credentials masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cp.Random.PKCS11.PIN)
	mask(&cp.Storage.Redis.Password)
	mask(&cp.Keystore.Software.Password)
	mask(&cp.Keystore.TPM2.OwnerAuth)
	mask(&cp.Keystore.PKCS11.PIN)
	mask(&cp.Keystore.AWSKMS.SecretAccessKey)
	mask(&cp.Keystore.AWSKMS.SessionToken)
	mask(&cp.Keystore.AzureKV.ClientSecret)
	if cp.Storage.DSN != "" && strings.Contains(cp.Storage.DSN, "@") {
		cp.Storage.DSN = "********"
	}
	return &cp
}
