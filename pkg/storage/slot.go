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

package storage

import (
	"fmt"
)

// Slot is a single text-valued persistence slot. The session secret is
// written to it as base64 text and read back verbatim.
type Slot interface {
	// Read returns the stored text or ErrNotFound.
	Read() (string, error)

	// Write replaces the stored text.
	Write(value string) error

	// Clear removes the stored text. Clearing an empty slot is not an error.
	Clear() error
}

// BackendSlot stores a Slot value under one key of a Backend.
type BackendSlot struct {
	backend Backend
	key     string
}

// NewSlot returns a slot stored at key inside backend. An empty key selects
// DefaultSlotKey.
func NewSlot(backend Backend, key string) *BackendSlot {
	if key == "" {
		key = DefaultSlotKey
	}
	return &BackendSlot{backend: backend, key: key}
}

// Key returns the backend key the slot is stored under.
func (s *BackendSlot) Key() string {
	return s.key
}

func (s *BackendSlot) Read() (string, error) {
	data, err := s.backend.Get(s.key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *BackendSlot) Write(value string) error {
	if err := s.backend.Put(s.key, []byte(value), DefaultOptions()); err != nil {
		return fmt.Errorf("storage: write slot %s: %w", s.key, err)
	}
	return nil
}

func (s *BackendSlot) Clear() error {
	return DeleteIfExists(s.backend, s.key)
}

var _ Slot = (*BackendSlot)(nil)
