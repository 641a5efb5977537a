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

package azurekv

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// KeyVaultClient is the subset of azkeys the backend uses.
type KeyVaultClient interface {
	CreateKey(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error)
	GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error)
	UpdateKey(ctx context.Context, name, version string, params azkeys.UpdateKeyParameters, options *azkeys.UpdateKeyOptions) (azkeys.UpdateKeyResponse, error)
	Decrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error)
	// ListKeyNames drains the key properties pager.
	ListKeyNames(ctx context.Context) ([]string, error)
}

// realKeyVaultClient adapts *azkeys.Client to KeyVaultClient.
type realKeyVaultClient struct {
	*azkeys.Client
}

func (r *realKeyVaultClient) ListKeyNames(ctx context.Context) ([]string, error) {
	var names []string
	pager := r.Client.NewListKeyPropertiesPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, props := range page.Value {
			if props.KID != nil {
				names = append(names, props.KID.Name())
			}
		}
	}
	return names, nil
}

// Backend is the Azure Key Vault key store backend.
type Backend struct {
	mu     sync.RWMutex
	config *Config
	client KeyVaultClient
	logger *logging.Logger
	closed bool
}

// NewBackend authenticates with a service principal when one is
// configured, otherwise with DefaultAzureCredential.
func NewBackend(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	var cred azcore.TokenCredential
	var err error
	if config.ClientID != "" {
		cred, err = azidentity.NewClientSecretCredential(config.TenantID, config.ClientID, config.ClientSecret, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
	}

	client, err := azkeys.NewClient(config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Key Vault client: %w", err)
	}
	return NewBackendWithClient(config, &realKeyVaultClient{Client: client})
}

// NewBackendWithClient uses an existing client.
func NewBackendWithClient(config *Config, client KeyVaultClient) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	return &Backend{
		config: config,
		client: client,
		logger: logging.OrDefault(config.Logger),
	}, nil
}

func (b *Backend) Type() types.BackendType {
	return types.BackendAzureKV
}

// keyName maps an alias to a Key Vault key name. Key names only allow
// alphanumerics and dashes.
func (b *Backend) keyName(alias string) (string, error) {
	name := b.config.KeyPrefix + alias
	if !keyNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q is not a valid Key Vault key name", keystore.ErrInvalidAlias, name)
	}
	return name, nil
}

func (b *Backend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.config.Timeout)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// current returns the latest version of the alias's key if it is enabled.
func (b *Backend) current(ctx context.Context, alias string) (*azkeys.KeyBundle, error) {
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	name, err := b.keyName(alias)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.GetKey(ctx, name, "", nil)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	if resp.Key == nil || resp.Key.KID == nil {
		return nil, fmt.Errorf("failed to get key: empty key bundle")
	}
	if resp.Attributes != nil && resp.Attributes.Enabled != nil && !*resp.Attributes.Enabled {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return &resp.KeyBundle, nil
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	_, err := b.current(ctx, alias)
	if errors.Is(err, keystore.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Backend) Generate(alias string, spec *types.KeySpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrInvalidKeySpec, err)
	}
	if spec.UserPresenceWindow > 0 {
		return fmt.Errorf("%w: Key Vault keys cannot carry a user presence window", keystore.ErrNotSupported)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := b.context()
	defer cancel()

	_, err := b.current(ctx, alias)
	if err == nil {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}
	if !errors.Is(err, keystore.ErrKeyNotFound) {
		return err
	}

	name, _ := b.keyName(alias)
	kty := b.config.keyType()
	_, err = b.client.CreateKey(ctx, name, azkeys.CreateKeyParameters{
		Kty:     &kty,
		KeySize: to.Ptr(int32(spec.SizeBits)),
		KeyOps: []*azkeys.KeyOperation{
			to.Ptr(azkeys.KeyOperationEncrypt),
			to.Ptr(azkeys.KeyOperationDecrypt),
		},
		KeyAttributes: &azkeys.KeyAttributes{
			Enabled:    to.Ptr(true),
			Exportable: to.Ptr(false),
		},
		Tags: map[string]*string{"managed-by": to.Ptr("go-sessionkey")},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to create key: %w", err)
	}
	b.logger.Debug("azurekv: key created", "alias", alias, "key_type", string(kty))
	return nil
}

// Delete disables the current version.
func (b *Backend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := b.context()
	defer cancel()

	bundle, err := b.current(ctx, alias)
	if err != nil {
		return err
	}
	_, err = b.client.UpdateKey(ctx, bundle.Key.KID.Name(), bundle.Key.KID.Version(), azkeys.UpdateKeyParameters{
		KeyAttributes: &azkeys.KeyAttributes{Enabled: to.Ptr(false)},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to disable key: %w", err)
	}
	return nil
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	bundle, err := b.current(ctx, alias)
	if err != nil {
		return nil, err
	}
	pub, err := jwkToRSA(bundle.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keystore.ErrInvalidKeySpec, err)
	}
	return pub, nil
}

func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	if _, err := b.current(ctx, alias); err != nil {
		return nil, err
	}
	return &handle{backend: b, alias: alias}, nil
}

// Aliases lists the enabled keys under the configured prefix.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	ctx, cancel := b.context()
	defer cancel()

	names, err := b.client.ListKeyNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	var aliases []string
	for _, name := range names {
		if !strings.HasPrefix(name, b.config.KeyPrefix) {
			continue
		}
		alias := strings.TrimPrefix(name, b.config.KeyPrefix)
		if keystore.ValidateAlias(alias) != nil {
			continue
		}
		if _, err := b.current(ctx, alias); err == nil {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type handle struct {
	backend *Backend
	alias   string
}

// Decrypt uses RSA-OAEP, which Key Vault defines with SHA-1 for both the
// digest and MGF1.
func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	if _, err := keystore.CheckOAEP(opts); err != nil {
		return nil, err
	}
	b := h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()

	bundle, err := b.current(ctx, h.alias)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Decrypt(ctx, bundle.Key.KID.Name(), bundle.Key.KID.Version(), azkeys.KeyOperationParameters{
		Algorithm: to.Ptr(azkeys.EncryptionAlgorithmRSAOAEP),
		Value:     ciphertext,
	}, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("azurekv: decrypt %s: %w", h.alias, err)
	}
	return resp.Result, nil
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	b := h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()

	bundle, err := b.current(ctx, h.alias)
	if err != nil {
		return types.AssuranceNone, err
	}
	if bundle.Key.Kty == nil {
		return types.AssuranceNone, nil
	}
	exportable := bundle.Attributes != nil && bundle.Attributes.Exportable != nil && *bundle.Attributes.Exportable
	return classify(*bundle.Key.Kty, exportable), nil
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
	_ KeyVaultClient   = (*realKeyVaultClient)(nil)
)
