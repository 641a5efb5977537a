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
	"io"
	"sort"

	"github.com/jeremyhahn/go-sessionkey/internal/config"
	"github.com/jeremyhahn/go-sessionkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore"
	"github.com/jeremyhahn/go-sessionkey/pkg/keystore/software"
	"github.com/jeremyhahn/go-sessionkey/pkg/logging"
	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// ErrBackendNotCompiled is returned for a key store whose build tag was not
// set when the binary was built.
var ErrBackendNotCompiled = errors.New("keystore backend not compiled into this binary")

// backendDeps are the resources a backend factory may use.
type backendDeps struct {
	storage  storage.Backend
	logger   *logging.Logger
	password func() ([]byte, error)
}

// openedBackend is a backend plus resources to release after it is closed.
// random is set by backends that expose their own RNG over the transport
// they already hold.
type openedBackend struct {
	keystore.Backend
	random  rand.Resolver
	closers []io.Closer
}

func (o *openedBackend) Close() error {
	err := o.Backend.Close()
	for i := len(o.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, o.closers[i].Close())
	}
	return err
}

// Aliases forwards enumeration to the wrapped backend. Embedding the
// interface alone would hide the concrete type's Lister method.
func (o *openedBackend) Aliases() ([]string, error) {
	l, ok := o.Backend.(keystore.Lister)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot list keys", keystore.ErrNotSupported, o.Backend.Type())
	}
	return l.Aliases()
}

type backendFactory func(ctx context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error)

var factories = map[types.BackendType]backendFactory{}

// registerBackend is called from init in the backend_*.go files, most of
// which carry a build tag.
func registerBackend(bt types.BackendType, f backendFactory) {
	factories[bt] = f
}

// compiledBackends lists the backends available in this binary.
func compiledBackends() []types.BackendType {
	out := make([]types.BackendType, 0, len(factories))
	for bt := range factories {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isCompiled(bt types.BackendType) bool {
	_, ok := factories[bt]
	return ok
}

func openBackend(ctx context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
	bt := cfg.BackendType()
	f, ok := factories[bt]
	if !ok {
		if bt.IsValid() {
			return nil, fmt.Errorf("%w: %s (build with -tags %s)", ErrBackendNotCompiled, bt, bt)
		}
		return nil, fmt.Errorf("unknown keystore type: %s", cfg.Keystore.Type)
	}
	return f(ctx, cfg, deps)
}

func init() {
	registerBackend(types.BackendSoftware, func(_ context.Context, cfg *config.Config, deps *backendDeps) (*openedBackend, error) {
		var password []byte
		switch {
		case cfg.Keystore.Software.Password != "":
			password = []byte(cfg.Keystore.Software.Password)
		case cfg.Keystore.Software.PromptPassword && deps.password != nil:
			p, err := deps.password()
			if err != nil {
				return nil, err
			}
			password = p
		}
		b, err := software.NewBackend(&software.Config{
			Storage:  deps.storage,
			Password: password,
			Logger:   deps.logger,
		})
		clear(password)
		if err != nil {
			return nil, err
		}
		return &openedBackend{Backend: b}, nil
	})
}
