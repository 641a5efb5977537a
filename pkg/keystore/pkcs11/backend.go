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

//go:build pkcs11

package pkcs11

import (
	"crypto"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ThalesGroup/crypto11"
	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// Backend is the PKCS#11 key store backend. Keys are addressed by CKA_ID
// and CKA_LABEL, both set to the alias.
type Backend struct {
	mu     sync.RWMutex
	config *Config
	ctx    *crypto11.Context
	p11ctx *pkcs11.Ctx
	logger *logging.Logger
}

// NewBackend loads the module and logs into the token.
func NewBackend(config *Config) (*Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:       config.Library,
		TokenLabel: config.TokenLabel,
		SlotNumber: config.Slot,
		Pin:        config.PIN,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to configure PKCS#11: %w", err)
	}

	// crypto11 already initialized the module; the raw context shares it.
	p := pkcs11.New(config.Library)
	if p == nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("%w: %s", ErrLibraryNotFound, config.Library)
	}
	if err := p.Initialize(); err != nil && err != pkcs11.Error(pkcs11.CKR_CRYPTOKI_ALREADY_INITIALIZED) {
		_ = ctx.Close()
		return nil, fmt.Errorf("failed to initialize PKCS#11: %w", err)
	}

	b := &Backend{
		config: config,
		ctx:    ctx,
		p11ctx: p,
		logger: logging.OrDefault(config.Logger),
	}
	b.logger.Debug("pkcs11: backend ready", "library", config.Library, "token", config.TokenLabel)
	return b, nil
}

func (b *Backend) Type() types.BackendType {
	return types.BackendPKCS11
}

func (b *Backend) findKeyPair(alias string) (crypto11.Signer, error) {
	if b.ctx == nil {
		return nil, keystore.ErrBackendClosed
	}
	signer, err := b.ctx.FindKeyPair([]byte(alias), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to find key: %w", err)
	}
	return signer, nil
}

func (b *Backend) Exists(alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	signer, err := b.findKeyPair(alias)
	if err != nil {
		return false, err
	}
	return signer != nil, nil
}

func (b *Backend) Generate(alias string, spec *types.KeySpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("%w: %v", keystore.ErrInvalidKeySpec, err)
	}
	if spec.UserPresenceWindow > 0 {
		return fmt.Errorf("%w: pkcs11 keys cannot carry a user presence window", keystore.ErrNotSupported)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	existing, err := b.findKeyPair(alias)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", keystore.ErrKeyExists, alias)
	}

	id := []byte(alias)
	if _, err := b.ctx.GenerateRSAKeyPairWithLabel(id, id, spec.SizeBits); err != nil {
		return fmt.Errorf("failed to generate RSA key on token: %w", err)
	}
	return nil
}

// Delete destroys the private and public key objects through a raw
// session.
func (b *Backend) Delete(alias string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return keystore.ErrBackendClosed
	}

	var destroyed int
	err := b.withSession(func(session pkcs11.SessionHandle) error {
		for _, class := range []uint{pkcs11.CKO_PRIVATE_KEY, pkcs11.CKO_PUBLIC_KEY} {
			objs, err := b.findObjects(session, class, []byte(alias))
			if err != nil {
				return err
			}
			for _, obj := range objs {
				if err := b.p11ctx.DestroyObject(session, obj); err != nil {
					return fmt.Errorf("failed to destroy key object: %w", err)
				}
				destroyed++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if destroyed == 0 {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return nil
}

func (b *Backend) PublicKey(alias string) (*rsa.PublicKey, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	signer, err := b.findKeyPair(alias)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	pub, ok := signer.Public().(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an RSA key", keystore.ErrInvalidKeySpec, alias)
	}
	return pub, nil
}

func (b *Backend) PrivateKey(alias string) (keystore.PrivateKeyHandle, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	signer, err := b.findKeyPair(alias)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return &handle{backend: b, alias: alias}, nil
}

// Aliases lists the CKA_ID of every private key on the token that is a
// valid alias.
func (b *Backend) Aliases() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ctx == nil {
		return nil, keystore.ErrBackendClosed
	}

	var aliases []string
	err := b.withSession(func(session pkcs11.SessionHandle) error {
		objs, err := b.findObjects(session, pkcs11.CKO_PRIVATE_KEY, nil)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			attrs, err := b.p11ctx.GetAttributeValue(session, obj, []*pkcs11.Attribute{
				pkcs11.NewAttribute(pkcs11.CKA_ID, nil),
			})
			if err != nil || len(attrs) == 0 {
				continue
			}
			alias := string(attrs[0].Value)
			if keystore.ValidateAlias(alias) == nil {
				aliases = append(aliases, alias)
			}
		}
		return nil
	})
	return aliases, err
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Close()
	b.ctx = nil
	// The raw context is not finalized: crypto11 owns module lifetime.
	b.p11ctx = nil
	return err
}

// slot resolves the configured slot, by number or by token label.
func (b *Backend) slot() (uint, error) {
	if b.config.Slot != nil {
		return uint(*b.config.Slot), nil
	}
	slots, err := b.p11ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	for _, s := range slots {
		info, err := b.p11ctx.GetTokenInfo(s)
		if err != nil {
			continue
		}
		if strings.TrimSpace(info.Label) == b.config.TokenLabel {
			return s, nil
		}
	}
	return 0, fmt.Errorf("pkcs11: no token labelled %q", b.config.TokenLabel)
}

// withSession opens a logged-in RW session for fn.
func (b *Backend) withSession(fn func(pkcs11.SessionHandle) error) error {
	slot, err := b.slot()
	if err != nil {
		return err
	}
	session, err := b.p11ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer b.p11ctx.CloseSession(session)

	// C_Logout would end crypto11's sessions too, so there is no logout.
	if b.config.PIN != "" {
		if err := b.p11ctx.Login(session, pkcs11.CKU_USER, b.config.PIN); err != nil &&
			err != pkcs11.Error(pkcs11.CKR_USER_ALREADY_LOGGED_IN) {
			return fmt.Errorf("failed to login: %w", err)
		}
	}
	return fn(session)
}

func (b *Backend) findObjects(session pkcs11.SessionHandle, class uint, id []byte) ([]pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, class)}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}
	if err := b.p11ctx.FindObjectsInit(session, template); err != nil {
		return nil, fmt.Errorf("failed to init object search: %w", err)
	}
	var all []pkcs11.ObjectHandle
	for {
		objs, _, err := b.p11ctx.FindObjects(session, 10)
		if err != nil {
			_ = b.p11ctx.FindObjectsFinal(session)
			return nil, fmt.Errorf("failed to find objects: %w", err)
		}
		if len(objs) == 0 {
			break
		}
		all = append(all, objs...)
	}
	if err := b.p11ctx.FindObjectsFinal(session); err != nil {
		return nil, fmt.Errorf("failed to finalize object search: %w", err)
	}
	return all, nil
}

// assurance reads the isolation attributes of the private key and the
// identity of the token holding it.
func (b *Backend) assurance(alias string) (types.AssuranceLevel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ctx == nil {
		return types.AssuranceNone, keystore.ErrBackendClosed
	}

	var level types.AssuranceLevel
	err := b.withSession(func(session pkcs11.SessionHandle) error {
		objs, err := b.findObjects(session, pkcs11.CKO_PRIVATE_KEY, []byte(alias))
		if err != nil {
			return err
		}
		if len(objs) == 0 {
			return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
		}
		values, err := b.p11ctx.GetAttributeValue(session, objs[0], []*pkcs11.Attribute{
			pkcs11.NewAttribute(pkcs11.CKA_EXTRACTABLE, nil),
			pkcs11.NewAttribute(pkcs11.CKA_SENSITIVE, nil),
		})
		if err != nil {
			return fmt.Errorf("failed to read key attributes: %w", err)
		}
		var attrs keyAttributes
		for _, v := range values {
			set := len(v.Value) > 0 && v.Value[0] != 0
			switch v.Type {
			case pkcs11.CKA_EXTRACTABLE:
				attrs.Extractable = set
			case pkcs11.CKA_SENSITIVE:
				attrs.Sensitive = set
			}
		}

		info, err := b.p11ctx.GetSessionInfo(session)
		if err != nil {
			return fmt.Errorf("failed to read session info: %w", err)
		}
		token, err := b.p11ctx.GetTokenInfo(info.SlotID)
		if err != nil {
			return fmt.Errorf("failed to read token info: %w", err)
		}
		level = classify(attrs, tokenInfo{ManufacturerID: token.ManufacturerID, Model: token.Model})
		return nil
	})
	return level, err
}

type handle struct {
	backend *Backend
	alias   string
}

func (h *handle) Decrypt(ciphertext []byte, opts *rsa.OAEPOptions) ([]byte, error) {
	opts, err := keystore.CheckOAEP(opts)
	if err != nil {
		return nil, err
	}
	h.backend.mu.RLock()
	defer h.backend.mu.RUnlock()
	signer, err := h.backend.findKeyPair(h.alias)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, h.alias)
	}
	decrypter, ok := signer.(crypto.Decrypter)
	if !ok {
		return nil, fmt.Errorf("%w: key does not support decryption", keystore.ErrNotSupported)
	}
	plaintext, err := decrypter.Decrypt(nil, ciphertext, opts)
	if err != nil {
		if rejectsCiphertext(err) {
			return nil, fmt.Errorf("%w: %v", keystore.ErrDecryptionFailed, err)
		}
		return nil, fmt.Errorf("pkcs11: decrypt %s: %w", h.alias, err)
	}
	return plaintext, nil
}

// transientErrors leave the key usable once the token or session recovers.
var transientErrors = map[pkcs11.Error]bool{
	pkcs11.CKR_DEVICE_ERROR:             true,
	pkcs11.CKR_DEVICE_MEMORY:            true,
	pkcs11.CKR_DEVICE_REMOVED:           true,
	pkcs11.CKR_HOST_MEMORY:              true,
	pkcs11.CKR_SESSION_CLOSED:           true,
	pkcs11.CKR_SESSION_HANDLE_INVALID:   true,
	pkcs11.CKR_TOKEN_NOT_PRESENT:        true,
	pkcs11.CKR_USER_NOT_LOGGED_IN:       true,
	pkcs11.CKR_PIN_EXPIRED:              true,
	pkcs11.CKR_PIN_LOCKED:               true,
	pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED: true,
}

// rejectsCiphertext reports whether the token refused the ciphertext
// itself rather than failing to run the operation.
func rejectsCiphertext(err error) bool {
	var rv pkcs11.Error
	if !errors.As(err, &rv) {
		return false
	}
	return !transientErrors[rv]
}

func (h *handle) AssuranceLevel() (types.AssuranceLevel, error) {
	return h.backend.assurance(h.alias)
}

var (
	_ keystore.Backend = (*Backend)(nil)
	_ keystore.Lister  = (*Backend)(nil)
)
