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

package software

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/jeremyhahn/go-sessionkey/internal/encoding"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

const (
	extPrivate = "pkcs8"
	extPublic  = "pub"
	extMeta    = "meta"
)

// metadata is stored next to each key.
type metadata struct {
	SizeBits           int           `json:"size_bits"`
	Purpose            string        `json:"purpose"`
	Encrypted          bool          `json:"encrypted"`
	UserPresenceWindow time.Duration `json:"user_presence_window,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Backend is the software key store backend.
type Backend struct {
	mu       sync.RWMutex
	storage  storage.Backend
	password []byte
	random   io.Reader
	presence PresenceFunc
	now      func() time.Time
	logger   *logging.Logger
	closed   bool

	// confirmed records the last presence confirmation per alias.
	confirmed map[string]time.Time
}

// NewBackend creates a software backend.
func NewBackend(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	b := &Backend{
		storage:   config.Storage,
		password:  append([]byte(nil), config.Password...),
		random:    config.Random,
		presence:  config.Presence,
		now:       config.Now,
		logger:    logging.OrDefault(config.Logger),
		confirmed: make(map[string]time.Time),
	}
	if b.random == nil {
		b.random = rand.Reader
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

func (b *Backend) Type() types.BackendType {
	return types.BackendSoftware
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false, keystore.ErrBackendClosed
	}
	return b.storage.Exists(storage.KeyPath(string(types.BackendSoftware), alias, extPrivate))
}

func (b *Backend) Generate(alias string, spec *types.KeySpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return keystore.ErrBackendClosed
	}
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrInvalidKeySpec, err)
	}

	privPath := b.path(alias, extPrivate)
	exists, err := b.storage.Exists(privPath)
	if err != nil {
		return fmt.Errorf("failed to check key existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}

	key, err := rsa.GenerateKey(b.random, spec.SizeBits)
	if err != nil {
		return fmt.Errorf("key generation failed: %w", err)
	}

	der, err := encoding.EncodePrivateKey(key, b.password)
	if err != nil {
		return fmt.Errorf("failed to encode private key: %w", err)
	}
	pubDER, err := encoding.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to encode public key: %w", err)
	}
	meta, err := json.Marshal(&metadata{
		SizeBits:           spec.SizeBits,
		Purpose:            spec.Purpose.String(),
		Encrypted:          len(b.password) > 0,
		UserPresenceWindow: spec.UserPresenceWindow,
		CreatedAt:          b.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	// The private key is written last; its presence defines existence.
	opts := storage.DefaultOptions()
	if err := b.storage.Put(b.path(alias, extMeta), meta, opts); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}
	if err := b.storage.Put(b.path(alias, extPublic), pubDER, opts); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	if err := b.storage.Put(privPath, der, opts); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	delete(b.confirmed, alias)
	return nil
}

func (b *Backend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return keystore.ErrBackendClosed
	}

	err := b.storage.Delete(b.path(alias, extPrivate))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if err := storage.DeleteIfExists(b.storage, b.path(alias, extPublic)); err != nil {
		return err
	}
	if err := storage.DeleteIfExists(b.storage, b.path(alias, extMeta)); err != nil {
		return err
	}
	delete(b.confirmed, alias)
	return nil
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}

	der, err := b.storage.Get(b.path(alias, extPublic))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to retrieve public key: %w", err)
	}
	pub, err := encoding.DecodePublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key for %s: %w", alias, err)
	}
	return pub, nil
}

// PrivateKey returns a handle that loads and decodes the key on each use,
// so the decoded key lives only for the duration of a decrypt.
func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	meta, err := b.loadMeta(alias)
	if err != nil {
		return nil, err
	}
	return &handle{backend: b, alias: alias, meta: meta}, nil
}

// Aliases lists stored aliases.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	return storage.ListAliases(b.storage, string(types.BackendSoftware), extPrivate)
}

// Close wipes the cached password. The storage backend is owned by the
// caller and left open.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	clear(b.password)
	b.closed = true
	return nil
}

func (b *Backend) path(alias, ext string) string {
	return storage.KeyPath(string(types.BackendSoftware), alias, ext)
}

func (b *Backend) loadMeta(alias string) (*metadata, error) {
	raw, err := b.storage.Get(b.path(alias, extMeta))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to retrieve metadata: %w", err)
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata for %s: %v", storage.ErrInvalidData, alias, err)
	}
	return &meta, nil
}

func (b *Backend) loadKey(alias string) (*rsa.PrivateKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}

	der, err := b.storage.Get(b.path(alias, extPrivate))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to retrieve key: %w", err)
	}

	key, err := encoding.DecodePrivateKey(der, b.password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key for %s: %w", alias, err)
	}
	return key, nil
}

// confirmPresence enforces the presence window for alias.
func (b *Backend) confirmPresence(alias string, window time.Duration) error {
	if window <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if last, ok := b.confirmed[alias]; ok && now.Sub(last) <= window {
		return nil
	}
	if b.presence == nil {
		return fmt.Errorf("%w: no presence confirmer configured", keystore.ErrUserPresenceRequired)
	}
	if err := b.presence(alias); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrUserPresenceRequired, err)
	}
	b.confirmed[alias] = now
	b.logger.Debug("user presence confirmed", "alias", alias)
	return nil
}

type handle struct {
	backend *Backend
	alias   string
	meta    *metadata
}

func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	opts, err := keystore.CheckOAEP(opts)
	if err != nil {
		return nil, err
	}
	if err := h.backend.confirmPresence(h.alias, h.meta.UserPresenceWindow); err != nil {
		return nil, err
	}
	key, err := h.backend.loadKey(h.alias)
	if err != nil {
		return nil, err
	}
	defer zeroKey(key)

	plaintext, err := rsa.DecryptOAEP(sha1.New(), nil, key, ciphertext, opts.Label)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	if h.meta.Encrypted {
		return types.AssuranceSoftwareIsolated, nil
	}
	return types.AssuranceNone, nil
}

// zeroKey clears the private exponent and primes of a decoded key.
func zeroKey(key *rsa.PrivateKey) {
	if key.D != nil {
		key.D.SetInt64(0)
	}
	for _, p := range key.Primes {
		p.SetInt64(0)
	}
	for _, v := range []*big.Int{key.Precomputed.Dp, key.Precomputed.Dq, key.Precomputed.Qinv} {
		if v != nil {
			v.SetInt64(0)
		}
	}
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
)
