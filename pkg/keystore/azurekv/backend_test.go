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
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

const testVault = "https://unit.vault.azure.net"

type mockVersion struct {
	id         azkeys.ID
	kty        azkeys.KeyType
	key        *rsa.PrivateKey
	enabled    bool
	exportable bool
}

// MockKeyVaultClient is an in-memory vault. Versions hold real RSA keys so
// that decryption round trips.
type MockKeyVaultClient struct {
	mu         sync.Mutex
	keys       map[string][]*mockVersion
	createErr  error
	decryptErr error
	exportable bool
}

func NewMockKeyVaultClient() *MockKeyVaultClient {
	return &MockKeyVaultClient{keys: make(map[string][]*mockVersion)}
}

func notFound() error {
	return &azcore.ResponseError{StatusCode: http.StatusNotFound, ErrorCode: "KeyNotFound"}
}

func (m *MockKeyVaultClient) bundle(v *mockVersion) azkeys.KeyBundle {
	return azkeys.KeyBundle{
		Key: &azkeys.JSONWebKey{
			KID: to.Ptr(v.id),
			Kty: to.Ptr(v.kty),
			N:   v.key.N.Bytes(),
			E:   big.NewInt(int64(v.key.E)).Bytes(),
		},
		Attributes: &azkeys.KeyAttributes{
			Enabled:    to.Ptr(v.enabled),
			Exportable: to.Ptr(v.exportable),
		},
	}
}

func (m *MockKeyVaultClient) find(name, version string) (*mockVersion, error) {
	versions := m.keys[name]
	if len(versions) == 0 {
		return nil, notFound()
	}
	if version == "" {
		return versions[len(versions)-1], nil
	}
	for _, v := range versions {
		if v.id.Version() == version {
			return v, nil
		}
	}
	return nil, notFound()
}

func (m *MockKeyVaultClient) CreateKey(ctx context.Context, name string, params azkeys.CreateKeyParameters, options *azkeys.CreateKeyOptions) (azkeys.CreateKeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return azkeys.CreateKeyResponse{}, m.createErr
	}
	key, err := rsa.GenerateKey(rand.Reader, int(*params.KeySize))
	if err != nil {
		return azkeys.CreateKeyResponse{}, err
	}
	v := &mockVersion{
		id:         azkeys.ID(fmt.Sprintf("%s/keys/%s/v%d", testVault, name, len(m.keys[name])+1)),
		kty:        *params.Kty,
		key:        key,
		enabled:    true,
		exportable: m.exportable,
	}
	m.keys[name] = append(m.keys[name], v)
	return azkeys.CreateKeyResponse{KeyBundle: m.bundle(v)}, nil
}

func (m *MockKeyVaultClient) GetKey(ctx context.Context, name, version string, options *azkeys.GetKeyOptions) (azkeys.GetKeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.find(name, version)
	if err != nil {
		return azkeys.GetKeyResponse{}, err
	}
	return azkeys.GetKeyResponse{KeyBundle: m.bundle(v)}, nil
}

func (m *MockKeyVaultClient) UpdateKey(ctx context.Context, name, version string, params azkeys.UpdateKeyParameters, options *azkeys.UpdateKeyOptions) (azkeys.UpdateKeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.find(name, version)
	if err != nil {
		return azkeys.UpdateKeyResponse{}, err
	}
	if params.KeyAttributes != nil && params.KeyAttributes.Enabled != nil {
		v.enabled = *params.KeyAttributes.Enabled
	}
	return azkeys.UpdateKeyResponse{KeyBundle: m.bundle(v)}, nil
}

func (m *MockKeyVaultClient) Decrypt(ctx context.Context, name, version string, params azkeys.KeyOperationParameters, options *azkeys.DecryptOptions) (azkeys.DecryptResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.decryptErr != nil {
		return azkeys.DecryptResponse{}, m.decryptErr
	}
	v, err := m.find(name, version)
	if err != nil {
		return azkeys.DecryptResponse{}, err
	}
	if !v.enabled {
		return azkeys.DecryptResponse{}, &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"}
	}
	if params.Algorithm == nil || *params.Algorithm != azkeys.EncryptionAlgorithmRSAOAEP {
		return azkeys.DecryptResponse{}, &azcore.ResponseError{StatusCode: http.StatusBadRequest, ErrorCode: "BadParameter"}
	}
	pt, err := rsa.DecryptOAEP(sha1.New(), nil, v.key, params.Value, nil)
	if err != nil {
		return azkeys.DecryptResponse{}, &azcore.ResponseError{StatusCode: http.StatusBadRequest, ErrorCode: "BadParameter"}
	}
	return azkeys.DecryptResponse{KeyOperationResult: azkeys.KeyOperationResult{KID: to.Ptr(v.id), Result: pt}}, nil
}

func (m *MockKeyVaultClient) ListKeyNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.keys {
		names = append(names, name)
	}
	return names, nil
}

func newTestBackend(t *testing.T, config *Config) (*Backend, *MockKeyVaultClient) {
	t.Helper()
	client := NewMockKeyVaultClient()
	b, err := NewBackendWithClient(config, client)
	require.NoError(t, err)
	return b, client
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"Nil", nil, true},
		{"NoURL", &Config{}, true},
		{"HTTP", &Config{VaultURL: "http://unit.vault.azure.net"}, true},
		{"PartialPrincipal", &Config{VaultURL: testVault, ClientID: "id"}, true},
		{"BadKeyType", &Config{VaultURL: testVault, KeyType: "EC-HSM"}, true},
		{"BadPrefix", &Config{VaultURL: testVault, KeyPrefix: "bad_prefix"}, true},
		{"Defaults", &Config{VaultURL: testVault}, false},
		{"Principal", &Config{VaultURL: testVault, TenantID: "t", ClientID: "c", ClientSecret: "s", KeyType: "rsa"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTimeout, tt.config.Timeout)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, types.AssuranceDedicatedSecureModule, classify(azkeys.KeyTypeRSAHSM, false))
	assert.Equal(t, types.AssuranceSoftwareIsolated, classify(azkeys.KeyTypeRSA, false))
	assert.Equal(t, types.AssuranceNone, classify(azkeys.KeyTypeRSAHSM, true))
	assert.Equal(t, types.AssuranceNone, classify(azkeys.KeyTypeEC, false))
}

func TestJWKToRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := jwkToRSA(&azkeys.JSONWebKey{
		Kty: to.Ptr(azkeys.KeyTypeRSAHSM),
		N:   key.N.Bytes(),
		E:   big.NewInt(int64(key.E)).Bytes(),
	})
	require.NoError(t, err)
	assert.True(t, key.PublicKey.Equal(pub))

	_, err = jwkToRSA(nil)
	assert.Error(t, err)
	_, err = jwkToRSA(&azkeys.JSONWebKey{Kty: to.Ptr(azkeys.KeyTypeEC)})
	assert.Error(t, err)
	_, err = jwkToRSA(&azkeys.JSONWebKey{Kty: to.Ptr(azkeys.KeyTypeRSA)})
	assert.Error(t, err)
}

func TestBackend_Lifecycle(t *testing.T) {
	b, _ := newTestBackend(t, &Config{VaultURL: testVault, KeyPrefix: "sk-"})
	alias := "session"

	exists, err := b.Exists(alias)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, b.Generate(alias, types.SealingKeySpec()))
	assert.ErrorIs(t, b.Generate(alias, types.SealingKeySpec()), keystore.ErrKeyExists)

	pub, err := b.PublicKey(alias)
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte("vault secret"), nil)
	require.NoError(t, err)

	h, err := b.PrivateKey(alias)
	require.NoError(t, err)
	pt, err := h.Decrypt(ct, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("vault secret"), pt)

	level, err := h.AssuranceLevel()
	require.NoError(t, err)
	assert.Equal(t, types.AssuranceDedicatedSecureModule, level)

	aliases, err := b.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{alias}, aliases)

	require.NoError(t, b.Delete(alias))
	exists, err = b.Exists(alias)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, b.Delete(alias), keystore.ErrKeyNotFound)

	_, err = h.Decrypt(ct, nil)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestBackend_RegenerateAddsVersion(t *testing.T) {
	b, client := newTestBackend(t, &Config{VaultURL: testVault})
	require.NoError(t, b.Generate("rotate", types.SealingKeySpec()))
	pub, err := b.PublicKey("rotate")
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte("old"), nil)
	require.NoError(t, err)

	require.NoError(t, b.Delete("rotate"))
	require.NoError(t, b.Generate("rotate", types.SealingKeySpec()))
	assert.Len(t, client.keys["rotate"], 2)

	h, err := b.PrivateKey("rotate")
	require.NoError(t, err)
	_, err = h.Decrypt(ct, nil)
	assert.ErrorIs(t, err, keystore.ErrDecryptionFailed)
}

func TestBackend_AssuranceByKeyType(t *testing.T) {
	tests := []struct {
		name       string
		keyType    string
		exportable bool
		expected   types.AssuranceLevel
	}{
		{"HSM", "RSA-HSM", false, types.AssuranceDedicatedSecureModule},
		{"Software", "RSA", false, types.AssuranceSoftwareIsolated},
		{"Exportable", "RSA-HSM", true, types.AssuranceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, client := newTestBackend(t, &Config{VaultURL: testVault, KeyType: tt.keyType})
			client.exportable = tt.exportable
			require.NoError(t, b.Generate("level", types.SealingKeySpec()))
			h, err := b.PrivateKey("level")
			require.NoError(t, err)
			level, err := h.AssuranceLevel()
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestBackend_AliasNotAValidKeyName(t *testing.T) {
	b, _ := newTestBackend(t, &Config{VaultURL: testVault})
	assert.ErrorIs(t, b.Generate("has.dot", types.SealingKeySpec()), keystore.ErrInvalidAlias)
	_, err := b.Exists("under_score")
	assert.ErrorIs(t, err, keystore.ErrInvalidAlias)
}

func TestBackend_GenerateFailure(t *testing.T) {
	b, client := newTestBackend(t, &Config{VaultURL: testVault})
	client.createErr = &azcore.ResponseError{StatusCode: http.StatusForbidden, ErrorCode: "Forbidden"}
	err := b.Generate("denied", types.SealingKeySpec())
	require.Error(t, err)
	assert.NotErrorIs(t, err, keystore.ErrKeyExists)

	presence := types.SealingKeySpec()
	presence.UserPresenceWindow = 1
	assert.ErrorIs(t, b.Generate("p", presence), keystore.ErrNotSupported)
}

func TestBackend_DecryptThrottled(t *testing.T) {
	b, client := newTestBackend(t, &Config{VaultURL: testVault})
	require.NoError(t, b.Generate("busy", types.SealingKeySpec()))
	pub, err := b.PublicKey("busy")
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, []byte("payload"), nil)
	require.NoError(t, err)

	client.decryptErr = &azcore.ResponseError{StatusCode: http.StatusTooManyRequests, ErrorCode: "Throttled"}
	h, err := b.PrivateKey("busy")
	require.NoError(t, err)
	_, err = h.Decrypt(ct, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, keystore.ErrDecryptionFailed)
}
