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

package awskms

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	awstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// KMSClient is the subset of the KMS API the backend uses. *kms.Client
// satisfies it.
type KMSClient interface {
	CreateKey(ctx context.Context, params *kms.CreateKeyInput, optFns ...func(*kms.Options)) (*kms.CreateKeyOutput, error)
	CreateAlias(ctx context.Context, params *kms.CreateAliasInput, optFns ...func(*kms.Options)) (*kms.CreateAliasOutput, error)
	DeleteAlias(ctx context.Context, params *kms.DeleteAliasInput, optFns ...func(*kms.Options)) (*kms.DeleteAliasOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
	ScheduleKeyDeletion(ctx context.Context, params *kms.ScheduleKeyDeletionInput, optFns ...func(*kms.Options)) (*kms.ScheduleKeyDeletionOutput, error)
	ListAliases(ctx context.Context, params *kms.ListAliasesInput, optFns ...func(*kms.Options)) (*kms.ListAliasesOutput, error)
}

// Backend is the AWS KMS key store backend.
type Backend struct {
	mu     sync.RWMutex
	config *Config
	client KMSClient
	logger *logging.Logger
	closed bool
}

// NewBackend builds a KMS client from the default AWS configuration chain.
func NewBackend(ctx context.Context, config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" {
		creds := credentials.NewStaticCredentialsProvider(
			config.AccessKeyID,
			config.SecretAccessKey,
			config.SessionToken,
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*kms.Options)
	if config.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(config.Endpoint)
		})
	}
	return NewBackendWithClient(config, kms.NewFromConfig(cfg, clientOpts...))
}

// NewBackendWithClient uses an existing client.
func NewBackendWithClient(config *Config, client KMSClient) (*Backend, error) {
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
	return types.BackendAWSKMS
}

func (b *Backend) aliasName(alias string) string {
	return "alias/" + b.config.AliasPrefix + alias
}

func (b *Backend) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.config.Timeout)
}

func isNotFound(err error) bool {
	var nf *awstypes.NotFoundException
	return errors.As(err, &nf)
}

// describe returns the metadata of the key behind alias. Keys pending
// deletion count as absent.
func (b *Backend) describe(alias string) (*awstypes.KeyMetadata, error) {
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	ctx, cancel := b.context()
	defer cancel()
	out, err := b.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(b.aliasName(alias))})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to describe key: %w", err)
	}
	if out == nil || out.KeyMetadata == nil || out.KeyMetadata.KeyState == awstypes.KeyStatePendingDeletion {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return out.KeyMetadata, nil
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.describe(alias)
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
		return fmt.Errorf("%w: KMS keys cannot carry a user presence window", keystore.ErrNotSupported)
	}
	keySpec, ok := keySpecFor(spec.SizeBits)
	if !ok {
		return fmt.Errorf("%w: KMS does not offer RSA-%d", keystore.ErrInvalidKeySpec, spec.SizeBits)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.describe(alias)
	if err == nil {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}
	if !errors.Is(err, keystore.ErrKeyNotFound) {
		return err
	}

	ctx, cancel := b.context()
	defer cancel()
	created, err := b.client.CreateKey(ctx, &kms.CreateKeyInput{
		KeySpec:     keySpec,
		KeyUsage:    awstypes.KeyUsageTypeEncryptDecrypt,
		Description: aws.String("go-sessionkey sealing key " + alias),
		Tags: []awstypes.Tag{
			{TagKey: aws.String("sessionkey:alias"), TagValue: aws.String(alias)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create KMS key: %w", err)
	}
	if created == nil || created.KeyMetadata == nil || created.KeyMetadata.KeyId == nil {
		return fmt.Errorf("failed to create KMS key: empty response")
	}
	keyID := created.KeyMetadata.KeyId

	_, err = b.client.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(b.aliasName(alias)),
		TargetKeyId: keyID,
	})
	if err != nil {
		// Without an alias the key is unreachable.
		if _, derr := b.client.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
			KeyId:               keyID,
			PendingWindowInDays: aws.Int32(b.config.PendingWindowDays),
		}); derr != nil {
			b.logger.Warn("awskms: orphaned key not scheduled for deletion", "key_id", aws.ToString(keyID), "error", derr)
		}
		return fmt.Errorf("failed to create alias: %w", err)
	}
	b.logger.Debug("awskms: key created", "alias", alias, "key_id", aws.ToString(keyID))
	return nil
}

// Delete removes the alias and schedules the key for deletion. KMS never
// deletes a key immediately, but once the alias is gone the key is no
// longer reachable under it.
func (b *Backend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	meta, err := b.describe(alias)
	if err != nil {
		return err
	}

	ctx, cancel := b.context()
	defer cancel()
	if _, err := b.client.DeleteAlias(ctx, &kms.DeleteAliasInput{AliasName: aws.String(b.aliasName(alias))}); err != nil {
		return fmt.Errorf("failed to delete alias: %w", err)
	}
	if _, err := b.client.ScheduleKeyDeletion(ctx, &kms.ScheduleKeyDeletionInput{
		KeyId:               meta.KeyId,
		PendingWindowInDays: aws.Int32(b.config.PendingWindowDays),
	}); err != nil {
		return fmt.Errorf("failed to schedule key deletion: %w", err)
	}
	return nil
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	ctx, cancel := b.context()
	defer cancel()
	out, err := b.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(b.aliasName(alias))})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", keystore.ErrInvalidKeySpec, alias)
	}
	return rsaPub, nil
}

func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, err := b.describe(alias); err != nil {
		return nil, err
	}
	return &handle{backend: b, alias: alias}, nil
}

// Aliases lists the aliases under the configured prefix.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	prefix := b.aliasName("")

	ctx, cancel := b.context()
	defer cancel()
	var aliases []string
	input := &kms.ListAliasesInput{}
	for {
		out, err := b.client.ListAliases(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list aliases: %w", err)
		}
		for _, entry := range out.Aliases {
			name := aws.ToString(entry.AliasName)
			if !strings.HasPrefix(name, prefix) || strings.HasPrefix(name, "alias/aws/") {
				continue
			}
			alias := strings.TrimPrefix(name, prefix)
			if keystore.ValidateAlias(alias) == nil {
				aliases = append(aliases, alias)
			}
		}
		if !out.Truncated || out.NextMarker == nil {
			break
		}
		input.Marker = out.NextMarker
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

func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	if _, err := keystore.CheckOAEP(opts); err != nil {
		return nil, err
	}
	b := h.backend
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}

	ctx, cancel := b.context()
	defer cancel()
	out, err := b.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:               aws.String(b.aliasName(h.alias)),
		CiphertextBlob:      ciphertext,
		EncryptionAlgorithm: awstypes.EncryptionAlgorithmSpecRsaesOaepSha1,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, h.alias)
		}
		var invalid *awstypes.InvalidCiphertextException
		if errors.As(err, &invalid) {
			return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("awskms: decrypt %s: %w", h.alias, err)
	}
	return out.Plaintext, nil
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	h.backend.mu.RLock()
	defer h.backend.mu.RUnlock()
	meta, err := h.backend.describe(h.alias)
	if err != nil {
		return types.AssuranceNone, err
	}
	return classifyOrigin(meta.Origin), nil
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
	_ KMSClient        = (*kms.Client)(nil)
)
