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

package gcpkms

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// KMSClient is the subset of Cloud KMS the backend uses. List calls
// return fully drained slices.
type KMSClient interface {
	CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest, opts ...interface{}) (*kmspb.CryptoKey, error)
	GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...interface{}) (*kmspb.CryptoKey, error)
	ListCryptoKeys(ctx context.Context, req *kmspb.ListCryptoKeysRequest, opts ...interface{}) ([]*kmspb.CryptoKey, error)
	CreateCryptoKeyVersion(ctx context.Context, req *kmspb.CreateCryptoKeyVersionRequest, opts ...interface{}) (*kmspb.CryptoKeyVersion, error)
	ListCryptoKeyVersions(ctx context.Context, req *kmspb.ListCryptoKeyVersionsRequest, opts ...interface{}) ([]*kmspb.CryptoKeyVersion, error)
	DestroyCryptoKeyVersion(ctx context.Context, req *kmspb.DestroyCryptoKeyVersionRequest, opts ...interface{}) (*kmspb.CryptoKeyVersion, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...interface{}) (*kmspb.PublicKey, error)
	AsymmetricDecrypt(ctx context.Context, req *kmspb.AsymmetricDecryptRequest, opts ...interface{}) (*kmspb.AsymmetricDecryptResponse, error)
	Close() error
}

// realKMSClient adapts *kms.KeyManagementClient to KMSClient.
type realKMSClient struct {
	*kms.KeyManagementClient
}

func (r *realKMSClient) CreateCryptoKey(ctx context.Context, req *kmspb.CreateCryptoKeyRequest, opts ...interface{}) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.CreateCryptoKey(ctx, req)
}

func (r *realKMSClient) GetCryptoKey(ctx context.Context, req *kmspb.GetCryptoKeyRequest, opts ...interface{}) (*kmspb.CryptoKey, error) {
	return r.KeyManagementClient.GetCryptoKey(ctx, req)
}

func (r *realKMSClient) ListCryptoKeys(ctx context.Context, req *kmspb.ListCryptoKeysRequest, opts ...interface{}) ([]*kmspb.CryptoKey, error) {
	it := r.KeyManagementClient.ListCryptoKeys(ctx, req)
	var keys []*kmspb.CryptoKey
	for {
		key, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (r *realKMSClient) CreateCryptoKeyVersion(ctx context.Context, req *kmspb.CreateCryptoKeyVersionRequest, opts ...interface{}) (*kmspb.CryptoKeyVersion, error) {
	return r.KeyManagementClient.CreateCryptoKeyVersion(ctx, req)
}

func (r *realKMSClient) ListCryptoKeyVersions(ctx context.Context, req *kmspb.ListCryptoKeyVersionsRequest, opts ...interface{}) ([]*kmspb.CryptoKeyVersion, error) {
	it := r.KeyManagementClient.ListCryptoKeyVersions(ctx, req)
	var versions []*kmspb.CryptoKeyVersion
	for {
		v, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (r *realKMSClient) DestroyCryptoKeyVersion(ctx context.Context, req *kmspb.DestroyCryptoKeyVersionRequest, opts ...interface{}) (*kmspb.CryptoKeyVersion, error) {
	return r.KeyManagementClient.DestroyCryptoKeyVersion(ctx, req)
}

func (r *realKMSClient) GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...interface{}) (*kmspb.PublicKey, error) {
	return r.KeyManagementClient.GetPublicKey(ctx, req)
}

func (r *realKMSClient) AsymmetricDecrypt(ctx context.Context, req *kmspb.AsymmetricDecryptRequest, opts ...interface{}) (*kmspb.AsymmetricDecryptResponse, error) {
	return r.KeyManagementClient.AsymmetricDecrypt(ctx, req)
}

// Backend is the Cloud KMS key store backend.
type Backend struct {
	mu         sync.RWMutex
	config     *Config
	client     KMSClient
	protection kmspb.ProtectionLevel
	logger     *logging.Logger
	closed     bool
}

// NewBackend connects to Cloud KMS.
func NewBackend(ctx context.Context, config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create KMS client: %w", err)
	}
	return NewBackendWithClient(config, &realKMSClient{KeyManagementClient: client})
}

// NewBackendWithClient uses an existing client.
func NewBackendWithClient(config *Config, client KMSClient) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("%w: client is required", ErrInvalidConfig)
	}
	protection, _ := config.protectionLevel()
	return &Backend{
		config:     config,
		client:     client,
		protection: protection,
		logger:     logging.OrDefault(config.Logger),
	}, nil
}

func (b *Backend) Type() types.BackendType {
	return types.BackendGCPKMS
}

func (b *Backend) keyName(alias string) string {
	return b.config.KeyRingName() + "/cryptoKeys/" + b.config.KeyPrefix + alias
}

func (b *Backend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.config.Timeout)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

// versionNumber extracts N from .../cryptoKeyVersions/N.
func versionNumber(name string) int {
	n, err := strconv.Atoi(name[strings.LastIndex(name, "/")+1:])
	if err != nil {
		return -1
	}
	return n
}

// liveVersion returns the newest enabled version of the alias's key. The
// CryptoKey itself is nil when it was never created.
func (b *Backend) liveVersion(ctx context.Context, alias string) (*kmspb.CryptoKey, *kmspb.CryptoKeyVersion, error) {
	if b.closed {
		return nil, nil, keystore.ErrBackendClosed
	}
	key, err := b.client.GetCryptoKey(ctx, &kmspb.GetCryptoKeyRequest{Name: b.keyName(alias)})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, nil, fmt.Errorf("failed to get crypto key: %w", err)
	}
	versions, err := b.client.ListCryptoKeyVersions(ctx, &kmspb.ListCryptoKeyVersionsRequest{
		Parent: key.Name,
		Filter: "state=ENABLED",
	})
	if err != nil {
		return key, nil, fmt.Errorf("failed to list key versions: %w", err)
	}
	var live *kmspb.CryptoKeyVersion
	for _, v := range versions {
		if v.State != kmspb.CryptoKeyVersion_ENABLED {
			continue
		}
		if live == nil || versionNumber(v.Name) > versionNumber(live.Name) {
			live = v
		}
	}
	if live == nil {
		return key, nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return key, live, nil
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	_, _, err := b.liveVersion(ctx, alias)
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
		return fmt.Errorf("%w: Cloud KMS keys cannot carry a user presence window", keystore.ErrNotSupported)
	}
	algorithm, ok := algorithmFor(spec.SizeBits)
	if !ok {
		return fmt.Errorf("%w: Cloud KMS does not offer RSA-%d OAEP", keystore.ErrInvalidKeySpec, spec.SizeBits)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := b.context()
	defer cancel()

	key, _, err := b.liveVersion(ctx, alias)
	if err == nil {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}
	if !errors.Is(err, keystore.ErrKeyNotFound) {
		return err
	}

	if key == nil {
		_, err = b.client.CreateCryptoKey(ctx, &kmspb.CreateCryptoKeyRequest{
			Parent:      b.config.KeyRingName(),
			CryptoKeyId: b.config.KeyPrefix + alias,
			CryptoKey: &kmspb.CryptoKey{
				Purpose: kmspb.CryptoKey_ASYMMETRIC_DECRYPT,
				VersionTemplate: &kmspb.CryptoKeyVersionTemplate{
					Algorithm:       algorithm,
					ProtectionLevel: b.protection,
				},
				Labels: map[string]string{"managed-by": "go-sessionkey"},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create crypto key: %w", err)
		}
		return nil
	}

	// The CryptoKey outlives its destroyed versions; add a fresh one.
	if key.VersionTemplate.GetAlgorithm() != algorithm {
		return fmt.Errorf("%w: existing crypto key %s uses %s", keystore.ErrInvalidKeySpec,
			key.Name, key.VersionTemplate.GetAlgorithm())
	}
	_, err = b.client.CreateCryptoKeyVersion(ctx, &kmspb.CreateCryptoKeyVersionRequest{
		Parent:           key.Name,
		CryptoKeyVersion: &kmspb.CryptoKeyVersion{},
	})
	if err != nil {
		return fmt.Errorf("failed to create key version: %w", err)
	}
	return nil
}

// Delete schedules destruction of every enabled version.
func (b *Backend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := b.context()
	defer cancel()

	key, _, err := b.liveVersion(ctx, alias)
	if err != nil {
		return err
	}
	versions, err := b.client.ListCryptoKeyVersions(ctx, &kmspb.ListCryptoKeyVersionsRequest{
		Parent: key.Name,
		Filter: "state=ENABLED",
	})
	if err != nil {
		return fmt.Errorf("failed to list key versions: %w", err)
	}
	for _, v := range versions {
		if _, err := b.client.DestroyCryptoKeyVersion(ctx, &kmspb.DestroyCryptoKeyVersionRequest{Name: v.Name}); err != nil {
			return fmt.Errorf("failed to destroy key version %s: %w", v.Name, err)
		}
	}
	return nil
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()

	_, version, err := b.liveVersion(ctx, alias)
	if err != nil {
		return nil, err
	}
	pub, err := b.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: version.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	if pub.PemCrc32C != nil && pub.PemCrc32C.Value != crc32c([]byte(pub.Pem)) {
		return nil, fmt.Errorf("%w: public key", ErrChecksumMismatch)
	}
	block, _ := pem.Decode([]byte(pub.Pem))
	if block == nil {
		return nil, fmt.Errorf("failed to decode public key PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", keystore.ErrInvalidKeySpec, alias)
	}
	return rsaPub, nil
}

func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	if _, _, err := b.liveVersion(ctx, alias); err != nil {
		return nil, err
	}
	return &handle{backend: b, alias: alias}, nil
}

// Aliases lists the CryptoKeys under the configured prefix that have a live
// version.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	ctx, cancel := b.context()
	defer cancel()

	keys, err := b.client.ListCryptoKeys(ctx, &kmspb.ListCryptoKeysRequest{Parent: b.config.KeyRingName()})
	if err != nil {
		return nil, fmt.Errorf("failed to list crypto keys: %w", err)
	}
	prefix := b.keyName("")
	var aliases []string
	for _, key := range keys {
		if key.Purpose != kmspb.CryptoKey_ASYMMETRIC_DECRYPT || !strings.HasPrefix(key.Name, prefix) {
			continue
		}
		alias := strings.TrimPrefix(key.Name, prefix)
		if keystore.ValidateAlias(alias) != nil {
			continue
		}
		if _, _, err := b.liveVersion(ctx, alias); err == nil {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

type handle struct {
	backend *Backend
	alias   string
}

func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	if _, err := keystore.CheckOAEP(opts); err != nil {
		return nil, err
	}
	b := h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()

	_, version, err := b.liveVersion(ctx, h.alias)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.AsymmetricDecrypt(ctx, &kmspb.AsymmetricDecryptRequest{
		Name:             version.Name,
		Ciphertext:       ciphertext,
		CiphertextCrc32C: wrapperspb.Int64(crc32c(ciphertext)),
	})
	if err != nil {
		if status.Code(err) == codes.InvalidArgument {
			return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("gcpkms: decrypt %s: %w", h.alias, err)
	}
	if resp.PlaintextCrc32C != nil && resp.PlaintextCrc32C.Value != crc32c(resp.Plaintext) {
		return nil, fmt.Errorf("gcpkms: decrypt %s: %w", h.alias, ErrChecksumMismatch)
	}
	return resp.Plaintext, nil
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	b := h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	ctx, cancel := b.context()
	defer cancel()
	_, version, err := b.liveVersion(ctx, h.alias)
	if err != nil {
		return types.AssuranceNone, err
	}
	return classifyProtection(version.ProtectionLevel), nil
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
)
