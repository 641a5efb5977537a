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

package sessionkey

import (
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-sessionkey/pkg/types"
)

// State is the provisioning state of an alias.
type State int

const (
	// StateNoKey means no usable key pair and sealed secret exist.
	StateNoKey State = iota

	// StateProvisioned means a key pair and a sealed secret are stored.
	StateProvisioned
)

func (s State) String() string {
	switch s {
	case StateNoKey:
		return "no-key"
	case StateProvisioned:
		return "provisioned"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "no-key":
		*s = StateNoKey
	case "provisioned":
		*s = StateProvisioned
	default:
		return fmt.Errorf("sessionkey: unknown state %q", text)
	}
	return nil
}

// Status is a read-only snapshot of an alias.
type Status struct {
	Alias      string               `json:"alias"`
	Backend    types.BackendType    `json:"backend"`
	State      State                `json:"state"`
	HasKey     bool                 `json:"has_key"`
	SealedBlob bool                 `json:"sealed_blob"`
	Assurance  types.AssuranceLevel `json:"assurance"`
}
