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

// Package rand resolves the entropy source used to draw session secrets.
// The TPM and PKCS#11 sources are compiled in with the tpm2 and pkcs11
// build tags; the software source is always present.
package rand

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Mode selects the random source.
type Mode string

const (
	// ModeAuto picks the best compiled-in and configured source.
	// Preference order: TPM2 > PKCS#11 > Software
	ModeAuto     Mode = "auto"
	ModeSoftware Mode = "software"
	ModeTPM2     Mode = "tpm2"
	ModePKCS11   Mode = "pkcs11"
)

var (
	ErrUnknownMode = errors.New("rand: unknown mode")
	ErrClosed      = errors.New("rand: resolver closed")
	ErrNotCompiled = errors.New("rand: source not compiled")
)

// ParseMode normalizes s. The empty string parses as ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeSoftware, ModeTPM2, ModePKCS11:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Config configures NewResolver.
type Config struct {
	Mode Mode

	// Fallback is tried when the primary source returns an error.
	// Empty means errors are returned to the caller.
	Fallback Mode

	TPM2   *TPM2Config
	PKCS11 *PKCS11Config
}

// PKCS11Config selects the token whose RNG is used.
type PKCS11Config struct {
	Module string
	SlotID uint
	PIN    string
}

// Resolver is an io.Reader over the selected source. Read always fills
// the whole buffer or returns an error.
type Resolver interface {
	io.Reader

	// Rand returns n fresh random bytes.
	Rand(n int) ([]byte, error)

	// Mode reports the source actually in use.
	Mode() Mode

	Available() bool
	Close() error
}

// NewResolver builds a resolver for cfg. A nil cfg selects ModeAuto.
func NewResolver(cfg *Config) (Resolver, error) {
	if cfg == nil {
		cfg = &Config{Mode: ModeAuto}
	}
	primary, err := newSource(cfg.Mode, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == "" || cfg.Fallback == primary.Mode() {
		return primary, nil
	}
	fallback, err := newSource(cfg.Fallback, cfg)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("rand: fallback: %w", err)
	}
	return &fallbackResolver{primary: primary, fallback: fallback}, nil
}

func newSource(mode Mode, cfg *Config) (Resolver, error) {
	switch mode {
	case "", ModeAuto:
		return newAutoResolver(cfg)
	case ModeSoftware:
		return NewSoftwareResolver(), nil
	case ModeTPM2:
		return newTPM2Resolver(cfg.TPM2)
	case ModePKCS11:
		return newPKCS11Resolver(cfg.PKCS11)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// readFull adapts a Rand(n) source to io.Reader semantics.
func readFull(r Resolver, p []byte) (int, error) {
	data, err := r.Rand(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) != len(p) {
		return 0, fmt.Errorf("rand: short read from %s: %d of %d bytes", r.Mode(), len(data), len(p))
	}
	copy(p, data)
	return len(p), nil
}

// SoftwareResolver reads from crypto/rand.
type SoftwareResolver struct{}

func NewSoftwareResolver() *SoftwareResolver {
	return &SoftwareResolver{}
}

func (*SoftwareResolver) Rand(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (*SoftwareResolver) Read(p []byte) (int, error) {
	return rand.Read(p)
}

func (*SoftwareResolver) Mode() Mode      { return ModeSoftware }
func (*SoftwareResolver) Available() bool { return true }
func (*SoftwareResolver) Close() error    { return nil }

type fallbackResolver struct {
	primary  Resolver
	fallback Resolver
}

func (f *fallbackResolver) Rand(n int) ([]byte, error) {
	data, err := f.primary.Rand(n)
	if err == nil {
		return data, nil
	}
	data, ferr := f.fallback.Rand(n)
	if ferr != nil {
		return nil, errors.Join(err, ferr)
	}
	return data, nil
}

func (f *fallbackResolver) Read(p []byte) (int, error) {
	return readFull(f, p)
}

func (f *fallbackResolver) Mode() Mode {
	return f.primary.Mode()
}

func (f *fallbackResolver) Available() bool {
	return f.primary.Available() || f.fallback.Available()
}

func (f *fallbackResolver) Close() error {
	return errors.Join(f.primary.Close(), f.fallback.Close())
}

var (
	_ Resolver = (*SoftwareResolver)(nil)
	_ Resolver = (*fallbackResolver)(nil)
)
