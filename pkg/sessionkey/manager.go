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

// Package sessionkey provisions and unseals the session password. A
// provisioning cycle replaces the key pair under the alias, draws a fresh
// secret and seals it under the new public key, so every earlier sealed
// secret becomes unrecoverable.
//
// All operations run on a worker.Executor, one at a time. The Manager
// holds no locks of its own.
package sessionkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-sessionkey/pkg/correlation"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/metrics"
	"github.com/jeremyhahn/go-sessionkey/pkg/seal"
	"github.com/jeremyhahn/go-sessionkey/pkg/secret"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
	"github.com/jeremyhahn/go-sessionkey/pkg/worker"
)

// DefaultAlias names the session key pair when Config.Alias is empty.
const DefaultAlias = "session-key"

// Config configures a Manager.
type Config struct {
	// Alias names the key pair. Defaults to DefaultAlias.
	Alias string

	// Store is the key store adapter. Required.
	Store *keystore.Store

	// Engine seals secrets into the persistence slot. Required.
	Engine *seal.Engine

	// Gate draws secrets. Defaults to a gate over crypto/rand.
	Gate *secret.Gate

	// Executor serializes operations. Defaults to a worker.Serial owned
	// and closed by the Manager.
	Executor worker.Executor

	// KeySpec is used for new key pairs. Defaults to types.SealingKeySpec.
	KeySpec *types.KeySpec

	// SecretLength defaults to secret.DefaultLength.
	SecretLength int

	// DisableProbe makes a secure hardware check fail when the alias has
	// no key yet, instead of probing the store with a throwaway key.
	DisableProbe bool

	Logger  *logging.Logger
	Metrics metrics.Recorder
}

// Manager provisions and unseals the session password for one alias.
type Manager struct {
	alias        string
	backend      string
	store        *keystore.Store
	engine       *seal.Engine
	gate         *secret.Gate
	executor     worker.Executor
	ownsExecutor bool
	spec         *types.KeySpec
	length       int
	probe        bool
	logger       *logging.Logger
	metrics      metrics.Recorder
}

// New creates a Manager.
func New(config *Config) (*Manager, error) {
	if config == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if config.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if config.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInvalidConfig)
	}

	alias := config.Alias
	if alias == "" {
		alias = DefaultAlias
	}
	if err := keystore.ValidateAlias(alias); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	spec := types.SealingKeySpec()
	if config.KeySpec != nil {
		cp := *config.KeySpec
		spec = &cp
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	length := config.SecretLength
	if length == 0 {
		length = secret.DefaultLength
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: secret length %d", ErrInvalidConfig, length)
	}
	if limit := seal.MaxSecretLength(spec.SizeBits); length > limit {
		return nil, fmt.Errorf("%w: secret length %d exceeds %d bytes for a %d-bit key",
			ErrInvalidConfig, length, limit, spec.SizeBits)
	}

	logger := logging.OrDefault(config.Logger)
	recorder := metrics.OrNop(config.Metrics)

	gate := config.Gate
	if gate == nil {
		var err error
		gate, err = secret.NewGate(&secret.Config{Logger: logger, Metrics: recorder})
		if err != nil {
			return nil, err
		}
	}

	m := &Manager{
		alias:    alias,
		backend:  config.Store.Backend().Type().String(),
		store:    config.Store,
		engine:   config.Engine,
		gate:     gate,
		executor: config.Executor,
		spec:     spec,
		length:   length,
		probe:    !config.DisableProbe,
		logger:   logger.With("alias", alias),
		metrics:  recorder,
	}
	if m.executor == nil {
		m.executor = worker.NewSerial(&worker.Config{Logger: logger})
		m.ownsExecutor = true
	}
	return m, nil
}

// Alias returns the managed alias.
func (m *Manager) Alias() string {
	return m.alias
}

// CreateSessionPassword replaces the key pair under the alias and seals a
// fresh secret under it. With requireSecureHardware set, the call fails
// with a SecureHardwareRequiredError before anything is changed unless the
// store reports a trusted environment or a dedicated secure module.
//
// ctx only bounds the wait for the executor. A cycle that has started is
// never interrupted.
func (m *Manager) CreateSessionPassword(ctx context.Context, requireSecureHardware bool) error {
	ctx, log := m.begin(ctx)
	start := time.Now()
	err := m.executor.Do(ctx, func(context.Context) error {
		return m.provision(log, requireSecureHardware)
	})
	m.finish(log, metrics.OpProvision, err, start)
	if err == nil {
		log.Info("session password provisioned", "require_secure_hardware", requireSecureHardware)
	}
	return err
}

// UnsealSessionPassword decrypts the persisted secret. A missing key, a
// missing blob or a blob sealed under an earlier key pair all fail with
// seal.ErrDecryptionFailed; the caller recovers by provisioning again.
func (m *Manager) UnsealSessionPassword(ctx context.Context) (*SessionPassword, error) {
	ctx, log := m.begin(ctx)
	start := time.Now()
	pw, err := worker.Call(ctx, m.executor, func(context.Context) (*SessionPassword, error) {
		return m.unseal()
	})
	m.finish(log, metrics.OpUnseal, err, start)
	if err == nil {
		log.Debug("session password unsealed", "length", pw.Len())
	}
	return pw, err
}

// Status reports the alias state without changing it.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	ctx, log := m.begin(ctx)
	start := time.Now()
	st, err := worker.Call(ctx, m.executor, func(context.Context) (*Status, error) {
		return m.status()
	})
	m.finish(log, metrics.OpStatus, err, start)
	return st, err
}

// State returns StateProvisioned when both a key pair and a sealed blob
// exist.
func (m *Manager) State(ctx context.Context) (State, error) {
	st, err := m.Status(ctx)
	if err != nil {
		return StateNoKey, err
	}
	return st.State, nil
}

// Reset deletes the key pair and the sealed blob.
func (m *Manager) Reset(ctx context.Context) error {
	ctx, log := m.begin(ctx)
	start := time.Now()
	err := m.executor.Do(ctx, func(context.Context) error {
		if err := m.store.DeleteKey(m.alias); err != nil {
			return err
		}
		return m.engine.Clear()
	})
	m.finish(log, metrics.OpReset, err, start)
	if err == nil {
		log.Info("session reset")
	}
	return err
}

// Close stops the executor when the Manager created it. The store and
// the engine belong to the caller.
func (m *Manager) Close() error {
	if closer, ok := m.executor.(interface{ Close() error }); ok && m.ownsExecutor {
		return closer.Close()
	}
	return nil
}

func (m *Manager) provision(log *logging.Logger, requireSecureHardware bool) error {
	if requireSecureHardware {
		level := m.assurance(log)
		m.metrics.SetAssuranceLevel(m.alias, level)
		if !level.IsSecureHardware() {
			return &SecureHardwareRequiredError{Alias: m.alias, Level: level}
		}
	}

	if err := m.store.DeleteKey(m.alias); err != nil {
		return err
	}
	pair, err := m.store.CreateKeyPair(m.alias, m.spec)
	if err != nil {
		return err
	}

	s, err := m.gate.Generate(m.length)
	if err != nil {
		return err
	}
	defer s.Zero()

	if _, err := m.engine.Seal(s, pair.Public); err != nil {
		return err
	}
	return nil
}

// assurance reports the level of the live key, or of a probe key when the
// alias has none yet.
func (m *Manager) assurance(log *logging.Logger) types.AssuranceLevel {
	exists, err := m.store.HasKey(m.alias)
	if err != nil {
		log.Warn("key lookup failed during assurance check", "error", err)
		return types.AssuranceNone
	}
	if exists {
		return m.store.AssuranceLevel(m.alias)
	}
	if !m.probe {
		log.Debug("no key to query and probing disabled")
		return types.AssuranceNone
	}
	level := m.store.ProbeAssurance(m.spec)
	log.Debug("assurance probed", "level", level.String())
	return level
}

func (m *Manager) unseal() (*SessionPassword, error) {
	blob, err := m.engine.Load()
	if err != nil {
		return nil, err
	}
	handle, err := m.store.PrivateKeyHandle(m.alias)
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotFound) {
			return nil, &seal.CryptoError{Kind: seal.DecryptionFailed, Op: "unseal", Err: err}
		}
		return nil, err
	}
	plaintext, err := m.engine.Unseal(blob, handle)
	if err != nil {
		return nil, err
	}
	return NewSessionPassword(plaintext), nil
}

func (m *Manager) status() (*Status, error) {
	st := &Status{
		Alias:   m.alias,
		Backend: types.BackendType(m.backend),
	}
	var err error
	if st.HasKey, err = m.store.HasKey(m.alias); err != nil {
		return nil, err
	}
	if st.SealedBlob, err = m.engine.Exists(); err != nil {
		return nil, err
	}
	if st.HasKey {
		st.Assurance = m.store.AssuranceLevel(m.alias)
		m.metrics.SetAssuranceLevel(m.alias, st.Assurance)
	}
	if st.HasKey && st.SealedBlob {
		st.State = StateProvisioned
	}
	return st, nil
}

func (m *Manager) begin(ctx context.Context) (context.Context, *logging.Logger) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, id := correlation.Ensure(ctx)
	return ctx, m.logger.With(correlation.LogKey, id)
}

func (m *Manager) finish(log *logging.Logger, op string, err error, start time.Time) {
	m.metrics.RecordOperation(op, m.backend, err, time.Since(start))
	if err == nil {
		return
	}
	m.metrics.RecordError(op, m.backend, errorType(err))
	if IsPolicyViolation(err) {
		log.Warn("operation refused", "operation", op, "error", err)
		return
	}
	log.Error(err, "operation", op)
}
