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

//go:build tpm2

package tpm2

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

const (
	extPublic  = "tpm2pub"
	extPrivate = "tpm2priv"
)

// Backend is the TPM 2.0 key store backend.
type Backend struct {
	mu        sync.Mutex
	tpm       transport.TPM
	simulated bool
	storage   storage.Backend
	srk       tpm2.NamedHandle
	logger    *logging.Logger
	closed    bool

	manufacturer string
}

// NewBackend connects to the TPM and makes sure the SRK is persisted.
func NewBackend(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	b := &Backend{
		tpm:       config.Transport,
		simulated: config.Simulated,
		storage:   config.Storage,
		logger:    logging.OrDefault(config.Logger),
	}

	srk, err := b.ensureSRK(tpm2.TPMHandle(config.SRKHandle), config.OwnerAuth)
	if err != nil {
		return nil, err
	}
	b.srk = srk

	manufacturer, err := b.readManufacturer()
	if err != nil {
		return nil, err
	}
	b.manufacturer = manufacturer
	b.logger.Debug("tpm: backend ready",
		"srk", fmt.Sprintf("0x%08x", uint32(srk.Handle)),
		"manufacturer", manufacturer,
		"simulated", b.simulated)
	return b, nil
}

// ensureSRK reads the persistent SRK, creating and persisting it on first
// use.
func (b *Backend) ensureSRK(handle tpm2.TPMHandle, ownerAuth []byte) (tpm2.NamedHandle, error) {
	rsp, err := tpm2.ReadPublic{ObjectHandle: handle}.Execute(b.tpm)
	if err == nil {
		return tpm2.NamedHandle{Handle: handle, Name: rsp.Name}, nil
	}

	b.logger.Info("tpm: creating storage root key", "handle", fmt.Sprintf("0x%08x", uint32(handle)))
	primary, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(ownerAuth),
		},
		InPublic: tpm2.New2B(tpm2.RSASRKTemplate),
	}.Execute(b.tpm)
	if err != nil {
		return tpm2.NamedHandle{}, fmt.Errorf("tpm2: create SRK: %w", err)
	}
	defer b.flush(primary.ObjectHandle)

	_, err = tpm2.EvictControl{
		Auth: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(ownerAuth),
		},
		ObjectHandle: &tpm2.NamedHandle{
			Handle: primary.ObjectHandle,
			Name:   primary.Name,
		},
		PersistentHandle: handle,
	}.Execute(b.tpm)
	if err != nil {
		return tpm2.NamedHandle{}, fmt.Errorf("tpm2: persist SRK: %w", err)
	}
	return tpm2.NamedHandle{Handle: handle, Name: primary.Name}, nil
}

func (b *Backend) readManufacturer() (string, error) {
	rsp, err := tpm2.GetCapability{
		Capability:    tpm2.TPMCapTPMProperties,
		Property:      uint32(tpm2.TPMPTManufacturer),
		PropertyCount: 1,
	}.Execute(b.tpm)
	if err != nil {
		return "", fmt.Errorf("tpm2: read manufacturer: %w", err)
	}
	props, err := rsp.CapabilityData.Data.TPMProperties()
	if err != nil {
		return "", fmt.Errorf("tpm2: read manufacturer: %w", err)
	}
	for _, p := range props.TPMProperty {
		if p.Property == tpm2.TPMPTManufacturer {
			return decodeManufacturer(p.Value), nil
		}
	}
	return "", fmt.Errorf("tpm2: manufacturer property missing")
}

// Manufacturer returns the TPM vendor ID, e.g. "IFX" or "INTC".
func (b *Backend) Manufacturer() string {
	return b.manufacturer
}

func (b *Backend) Type() types.BackendType {
	return types.BackendTPM2
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, keystore.ErrBackendClosed
	}
	return b.storage.Exists(b.path(alias, extPrivate))
}

// keyTemplate describes an unrestricted RSA decryption key bound to
// OAEP-SHA1, so the TPM itself refuses any other scheme.
func keyTemplate(bits int) tpm2.TPMTPublic {
	return tpm2.TPMTPublic{
		Type:    tpm2.TPMAlgRSA,
		NameAlg: tpm2.TPMAlgSHA256,
		ObjectAttributes: tpm2.TPMAObject{
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
			UserWithAuth:        true,
			Decrypt:             true,
		},
		Parameters: tpm2.NewTPMUPublicParms(
			tpm2.TPMAlgRSA,
			&tpm2.TPMSRSAParms{
				Symmetric: tpm2.TPMTSymDefObject{Algorithm: tpm2.TPMAlgNull},
				Scheme: tpm2.TPMTRSAScheme{
					Scheme: tpm2.TPMAlgOAEP,
					Details: tpm2.NewTPMUAsymScheme(
						tpm2.TPMAlgOAEP,
						&tpm2.TPMSEncSchemeOAEP{HashAlg: tpm2.TPMAlgSHA1},
					),
				},
				KeyBits: tpm2.TPMKeyBits(bits),
			},
		),
		Unique: tpm2.NewTPMUPublicID(
			tpm2.TPMAlgRSA,
			&tpm2.TPM2BPublicKeyRSA{Buffer: make([]byte, bits/8)},
		),
	}
}

func (b *Backend) Generate(alias string, spec *types.KeySpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrInvalidKeySpec, err)
	}
	if spec.UserPresenceWindow > 0 {
		return fmt.Errorf("%w: tpm2 keys cannot carry a user presence window", keystore.ErrNotSupported)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return keystore.ErrBackendClosed
	}

	privPath := b.path(alias, extPrivate)
	exists, err := b.storage.Exists(privPath)
	if err != nil {
		return fmt.Errorf("failed to check key existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}

	rsp, err := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: b.srk.Handle,
			Name:   b.srk.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(keyTemplate(spec.SizeBits)),
	}.Execute(b.tpm)
	if err != nil {
		return fmt.Errorf("tpm2: create key: %w", err)
	}

	opts := storage.DefaultOptions()
	if err := b.storage.Put(b.path(alias, extPublic), tpm2.Marshal(rsp.OutPublic), opts); err != nil {
		return fmt.Errorf("failed to save public area: %w", err)
	}
	if err := b.storage.Put(privPath, tpm2.Marshal(rsp.OutPrivate), opts); err != nil {
		return fmt.Errorf("failed to save private blob: %w", err)
	}
	return nil
}

// Delete removes the wrapped blobs. Without them the TPM can no longer
// load the key, which destroys it.
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
	return storage.DeleteIfExists(b.storage, b.path(alias, extPublic))
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	pub, err := b.loadPublic(alias)
	if err != nil {
		return nil, err
	}
	return rsaPublic(pub)
}

func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	if _, err := b.loadPublic(alias); err != nil {
		return nil, err
	}
	return &handle{backend: b, alias: alias}, nil
}

// Aliases lists stored aliases.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}
	return storage.ListAliases(b.storage, string(types.BackendTPM2), extPrivate)
}

// Close marks the backend closed. The transport belongs to the caller.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) path(alias, ext string) string {
	return storage.KeyPath(string(types.BackendTPM2), alias, ext)
}

func (b *Backend) loadPublic(alias string) (*tpm2.TPM2BPublic, error) {
	data, err := b.storage.Get(b.path(alias, extPublic))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to retrieve public area: %w", err)
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](data)
	if err != nil {
		return nil, fmt.Errorf("%w: public area for %s: %v", storage.ErrInvalidData, alias, err)
	}
	return pub, nil
}

func (b *Backend) loadPrivate(alias string) (*tpm2.TPM2BPrivate, error) {
	data, err := b.storage.Get(b.path(alias, extPrivate))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		return nil, fmt.Errorf("failed to retrieve private blob: %w", err)
	}
	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](data)
	if err != nil {
		return nil, fmt.Errorf("%w: private blob for %s: %v", storage.ErrInvalidData, alias, err)
	}
	return priv, nil
}

// decrypt loads the key under the SRK, runs TPM2_RSA_Decrypt and flushes
// the transient object.
func (b *Backend) decrypt(alias string, ciphertext []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, keystore.ErrBackendClosed
	}

	pub, err := b.loadPublic(alias)
	if err != nil {
		return nil, err
	}
	priv, err := b.loadPrivate(alias)
	if err != nil {
		return nil, err
	}

	loaded, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: b.srk.Handle,
			Name:   b.srk.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: *priv,
		InPublic:  *pub,
	}.Execute(b.tpm)
	if err != nil {
		return nil, fmt.Errorf("tpm2: load key %s: %w", alias, err)
	}
	defer b.flush(loaded.ObjectHandle)

	rsp, err := tpm2.RSADecrypt{
		KeyHandle: tpm2.AuthHandle{
			Handle: loaded.ObjectHandle,
			Name:   loaded.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
		CipherText: tpm2.TPM2BPublicKeyRSA{Buffer: ciphertext},
		InScheme: tpm2.TPMTRSADecrypt{
			Scheme: tpm2.TPMAlgOAEP,
			Details: tpm2.NewTPMUAsymScheme(
				tpm2.TPMAlgOAEP,
				&tpm2.TPMSEncSchemeOAEP{HashAlg: tpm2.TPMAlgSHA1},
			),
		},
	}.Execute(b.tpm)
	if err != nil {
		// Warnings such as lockout or retry are transient.
		var rc tpm2.TPMRC
		if errors.As(err, &rc) && !rc.IsWarning() {
			return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("tpm2: decrypt %s: %w", alias, err)
	}
	return rsp.Message.Buffer, nil
}

func (b *Backend) assurance(alias string) (types.AssuranceLevel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return types.AssuranceNone, keystore.ErrBackendClosed
	}
	pub, err := b.loadPublic(alias)
	if err != nil {
		return types.AssuranceNone, err
	}
	contents, err := pub.Contents()
	if err != nil {
		return types.AssuranceNone, fmt.Errorf("tpm2: decode public area: %w", err)
	}
	return classify(b.simulated, contents.ObjectAttributes.FixedTPM, b.manufacturer), nil
}

func (b *Backend) flush(h tpm2.TPMHandle) {
	if _, err := (tpm2.FlushContext{FlushHandle: h}).Execute(b.tpm); err != nil {
		b.logger.Debugf("tpm: flush 0x%08x: %v", uint32(h), err)
	}
}

func rsaPublic(pub *tpm2.TPM2BPublic) (*rsa.PublicKey, error) {
	contents, err := pub.Contents()
	if err != nil {
		return nil, fmt.Errorf("tpm2: decode public area: %w", err)
	}
	parms, err := contents.Parameters.RSADetail()
	if err != nil {
		return nil, fmt.Errorf("tpm2: not an RSA key: %w", err)
	}
	unique, err := contents.Unique.RSA()
	if err != nil {
		return nil, fmt.Errorf("tpm2: not an RSA key: %w", err)
	}
	return tpm2.RSAPub(parms, unique)
}

type handle struct {
	backend *Backend
	alias   string
}

func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	if _, err := keystore.CheckOAEP(opts); err != nil {
		return nil, err
	}
	return h.backend.decrypt(h.alias, ciphertext)
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	return h.backend.assurance(h.alias)
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
)
