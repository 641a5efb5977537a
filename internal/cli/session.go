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

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/metrics"
	"github.com/jeremyhahn/go-sessionkey/pkg/seal"
	"github.com/jeremyhahn/go-sessionkey/pkg/secret"
	"github.com/jeremyhahn/go-sessionkey/pkg/sessionkey"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage/file"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage/memory"
	redisstore "github.com/jeremyhahn/go-sessionkey/pkg/storage/redis"
	sqlstore "github.com/jeremyhahn/go-sessionkey/pkg/storage/sql"
	"github.com/jeremyhahn/go-sessionkey/pkg/worker"
)

// session wires a Manager from the configuration and owns everything it
// opened.
type session struct {
	manager  *sessionkey.Manager
	executor *worker.Serial
	store    *keystore.Store
	engine   *seal.Engine
	random   rand.Resolver
	storage  storage.Backend
}

func openStorage(ctx context.Context, cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Type {
	case config.StorageMemory:
		return memory.New(), nil
	case config.StorageFile:
		return file.New(cfg.Path)
	case config.StorageSQL:
		return sqlstore.Open(cfg.DSN)
	case config.StorageRedis:
		return redisstore.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

func openRandom(cfg *config.Config, backend *openedBackend) (rand.Resolver, error) {
	mode, err := rand.ParseMode(cfg.Random.Mode)
	if err != nil {
		return nil, err
	}
	if backend.random != nil && (mode == rand.ModeAuto || mode == rand.ModeTPM2) {
		return backend.random, nil
	}
	rc := &rand.Config{Mode: mode, Fallback: rand.Mode(cfg.Random.Fallback)}
	if mode == rand.ModeTPM2 {
		rc.TPM2 = &rand.TPM2Config{Device: cfg.Keystore.TPM2.Config}
	}
	if cfg.Random.PKCS11.Module != "" {
		rc.PKCS11 = &rand.PKCS11Config{
			Module: cfg.Random.PKCS11.Module,
			SlotID: cfg.Random.PKCS11.Slot,
			PIN:    cfg.Random.PKCS11.PIN,
		}
	}
	return rand.NewResolver(rc)
}

func recorder() metrics.Recorder {
	if metrics.IsEnabled() {
		return metrics.Prometheus{}
	}
	return metrics.Nop{}
}

// openSession builds the full stack described by cfg.
func openSession(ctx context.Context, cfg *config.Config, log *logging.Logger) (*session, error) {
	log = logging.OrDefault(log)
	s := &session{}

	var err error
	if s.storage, err = openStorage(ctx, &cfg.Storage); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	backend, err := openBackend(ctx, cfg, &backendDeps{
		storage:  s.storage,
		logger:   log,
		password: promptPassword,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	if s.store, err = keystore.NewStore(backend, log); err != nil {
		_ = backend.Close()
		_ = s.Close()
		return nil, err
	}

	if s.random, err = openRandom(cfg, backend); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open random source: %w", err)
	}
	printVerbose(rootCmd, "random source: %s", s.random.Mode())

	rec := recorder()
	gate, err := secret.NewGate(&secret.Config{
		Source:      s.random,
		MaxAttempts: cfg.Gate.MaxAttempts,
		Logger:      log,
		Metrics:     rec,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	if s.engine, err = seal.NewEngine(storage.NewSlot(s.storage, cfg.Storage.SlotKey), nil); err != nil {
		_ = s.Close()
		return nil, err
	}

	s.executor = worker.NewSerial(&worker.Config{
		QueueSize:     cfg.Worker.QueueSize,
		RatePerSecond: cfg.Worker.RatePerSecond,
		Burst:         cfg.Worker.Burst,
		Logger:        log,
	})
	s.manager, err = sessionkey.New(&sessionkey.Config{
		Alias:        cfg.Alias,
		Store:        s.store,
		Engine:       s.engine,
		Gate:         gate,
		Executor:     s.executor,
		SecretLength: cfg.SecretLength,
		DisableProbe: cfg.DisableProbe,
		Logger:       log,
		Metrics:      rec,
	})
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the executor, key store, random source and storage, in
// that order.
func (s *session) Close() error {
	var err error
	if s.executor != nil {
		err = errors.Join(err, s.executor.Close())
	}
	if s.store != nil {
		err = errors.Join(err, s.store.Close())
	}
	if s.random != nil {
		err = errors.Join(err, s.random.Close())
	}
	if s.storage != nil {
		err = errors.Join(err, s.storage.Close())
	}
	return err
}

// promptPassword reads the software key store password from
// SESSIONKEY_KEY_PASSWORD or the terminal.
func promptPassword() ([]byte, error) {
	if p := os.Getenv("SESSIONKEY_KEY_PASSWORD"); p != "" {
		return []byte(p), nil
	}
	return readPassword(os.Stdin, os.Stderr, "Key store password: ")
}
