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

package keystore

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// Store is the adapter the session key manager talks to. It adds the
// adapter semantics (idempotent delete, generate-if-absent, assurance
// queries that never fail) on top of a Backend.
type Store struct {
	backend Backend
	logger  *logging.Logger
}

// NewStore wraps backend. A nil logger selects the default logger.
func NewStore(backend Backend, logger *logging.Logger) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("keystore: backend is required")
	}
	logger = logging.OrDefault(logger).With("backend", backend.Type().String())
	return &Store{backend: backend, logger: logger}, nil
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// HasKey reports whether a key pair exists under alias.
func (s *Store) HasKey(alias string) (bool, error) {
	if err := ValidateAlias(alias); err != nil {
		return false, err
	}
	return s.backend.Exists(alias)
}

// DeleteKey removes the key pair under alias. Deleting an absent alias is
// not an error.
func (s *Store) DeleteKey(alias string) error {
	if err := ValidateAlias(alias); err != nil {
		return err
	}
	if err := s.backend.Delete(alias); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			s.logger.Debug("delete of absent key ignored", "alias", alias)
			return nil
		}
		return &KeyGenerationError{Alias: alias, Op: "delete", Err: err}
	}
	s.logger.Debug("key deleted", "alias", alias)
	return nil
}

// CreateKeyPair generates a key pair under alias if none exists and
// returns the pair stored under alias. An existing pair is reused
// unchanged; rotation requires a prior DeleteKey.
func (s *Store) CreateKeyPair(alias string, spec *types.KeySpec) (*KeyPair, error) {
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}
	if spec == nil {
		spec = types.SealingKeySpec()
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySpec, err)
	}

	exists, err := s.backend.Exists(alias)
	if err != nil {
		return nil, &KeyGenerationError{Alias: alias, Op: "generate", Err: err}
	}
	if !exists {
		if err := s.backend.Generate(alias, spec); err != nil {
			if errors.Is(err, ErrNotSupported) || errors.Is(err, ErrInvalidKeySpec) {
				return nil, err
			}
			return nil, &KeyGenerationError{Alias: alias, Op: "generate", Err: err}
		}
		s.logger.Info("key pair generated", "alias", alias, "bits", spec.SizeBits)
	}

	pub, err := s.backend.PublicKey(alias)
	if err != nil {
		return nil, &KeyGenerationError{Alias: alias, Op: "generate", Err: err}
	}
	priv, err := s.backend.PrivateKey(alias)
	if err != nil {
		return nil, &KeyGenerationError{Alias: alias, Op: "generate", Err: err}
	}
	return &KeyPair{Alias: alias, Public: pub, Private: priv}, nil
}

// PublicKey returns the public half of the key pair under alias.
func (s *Store) PublicKey(alias string) (*rsa.PublicKey, error) {
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}
	return s.backend.PublicKey(alias)
}

// PrivateKeyHandle returns the private capability for alias, or
// ErrKeyNotFound when none exists.
func (s *Store) PrivateKeyHandle(alias string) (PrivateKeyHandle, error) {
	if err := ValidateAlias(alias); err != nil {
		return nil, err
	}
	exists, err := s.backend.Exists(alias)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, alias)
	}
	return s.backend.PrivateKey(alias)
}

// AssuranceLevel queries the live private key under alias. Every failure
// is logged and reported as AssuranceNone; a failed query is never taken
// as evidence of hardware isolation.
func (s *Store) AssuranceLevel(alias string) types.AssuranceLevel {
	handle, err := s.PrivateKeyHandle(alias)
	if err != nil {
		s.logger.Warn("assurance query failed", "alias", alias, "error", err)
		return types.AssuranceNone
	}
	return s.queryHandle(alias, handle)
}

// ProbeAssurance reports the assurance a freshly generated key would get
// from this backend, using a throwaway key under ProbeAlias. Failures are
// reported as AssuranceNone.
func (s *Store) ProbeAssurance(spec *types.KeySpec) types.AssuranceLevel {
	if spec == nil {
		spec = types.SealingKeySpec()
	} else {
		cp := *spec
		spec = &cp
	}
	if err := spec.Validate(); err != nil {
		s.logger.Warn("assurance probe skipped", "error", err)
		return types.AssuranceNone
	}

	if exists, err := s.backend.Exists(ProbeAlias); err == nil && exists {
		_ = s.backend.Delete(ProbeAlias)
	}
	if err := s.backend.Generate(ProbeAlias, spec); err != nil {
		s.logger.Warn("assurance probe failed", "error", err)
		return types.AssuranceNone
	}
	defer func() {
		if err := s.backend.Delete(ProbeAlias); err != nil {
			s.logger.Warn("assurance probe cleanup failed", "error", err)
		}
	}()

	handle, err := s.backend.PrivateKey(ProbeAlias)
	if err != nil {
		s.logger.Warn("assurance probe failed", "error", err)
		return types.AssuranceNone
	}
	return s.queryHandle(ProbeAlias, handle)
}

// Aliases lists stored aliases when the backend supports enumeration.
func (s *Store) Aliases() ([]string, error) {
	l, ok := s.backend.(Lister)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot list keys", ErrNotSupported, s.backend.Type())
	}
	aliases, err := l.Aliases()
	if err != nil {
		return nil, err
	}
	out := aliases[:0]
	for _, a := range aliases {
		if a != ProbeAlias {
			out = append(out, a)
		}
	}
	return out, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) queryHandle(alias string, handle PrivateKeyHandle) types.AssuranceLevel {
	level, err := handle.AssuranceLevel()
	if err != nil {
		s.logger.Warn("assurance query failed", "alias", alias, "error", err)
		return types.AssuranceNone
	}
	s.logger.Debug("assurance queried", "alias", alias, "level", level.String())
	return level
}
