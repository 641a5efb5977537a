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

package rand

import (
	"fmt"
	"sync"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-sessionkey/pkg/tpmdevice"
)

// tpm2Resolver draws bytes with TPM2_GetRandom.
type tpm2Resolver struct {
	mu         sync.Mutex
	tpm        transport.TPM
	owned      *tpmdevice.Handle
	maxRequest int
}

// NewTPM2Resolver wraps a transport the caller already holds. Close does
// not close a shared transport.
func NewTPM2Resolver(t transport.TPM, maxRequest int) Resolver {
	if maxRequest <= 0 {
		maxRequest = DefaultTPM2MaxRequest
	}
	return &tpm2Resolver{tpm: t, maxRequest: maxRequest}
}

func newTPM2Resolver(cfg *TPM2Config) (Resolver, error) {
	var dev *tpmdevice.Config
	if cfg != nil {
		dev = &cfg.Device
	}
	h, err := tpmdevice.Open(dev)
	if err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return &tpm2Resolver{tpm: h, owned: h, maxRequest: cfg.maxRequest()}, nil
}

func tpm2Available() bool {
	return true
}

func (t *tpm2Resolver) Rand(n int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.tpm == nil {
		return nil, ErrClosed
	}

	result := make([]byte, 0, n)
	for len(result) < n {
		chunk := min(n-len(result), t.maxRequest)
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(chunk)}.Execute(t.tpm)
		if err != nil {
			return nil, fmt.Errorf("rand: TPM2_GetRandom: %w", err)
		}
		if len(rsp.RandomBytes.Buffer) == 0 {
			return nil, fmt.Errorf("rand: TPM2_GetRandom returned no bytes")
		}
		result = append(result, rsp.RandomBytes.Buffer...)
	}
	return result[:n], nil
}

func (t *tpm2Resolver) Read(p []byte) (int, error) {
	return readFull(t, p)
}

func (t *tpm2Resolver) Mode() Mode {
	return ModeTPM2
}

func (t *tpm2Resolver) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tpm != nil
}

func (t *tpm2Resolver) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tpm = nil
	if t.owned != nil {
		err := t.owned.Close()
		t.owned = nil
		return err
	}
	return nil
}
