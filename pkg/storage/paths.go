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
	"errors"
	"fmt"
	"strings"
)

const (
	keysPrefix    = "keys/"
	sessionPrefix = "session/"

	// DefaultSlotKey is where the sealed session secret lives.
	DefaultSlotKey = sessionPrefix + "user-secret"
)

// KeyPath returns the storage path for a key store blob of an alias.
// The path follows the convention: keys/{backend}/{alias}.{ext}
func KeyPath(backend, alias, ext string) string {
	return keysPrefix + backend + "/" + alias + "." + ext
}

// ListAliases returns the aliases that have a blob with the given extension
// under keys/{backend}/.
func ListAliases(b Backend, backend, ext string) ([]string, error) {
	prefix := keysPrefix + backend + "/"
	keys, err := b.List(prefix)
	if err != nil {
		return nil, err
	}
	suffix := "." + ext
	aliases := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, suffix) {
			continue
		}
		alias := strings.TrimSuffix(strings.TrimPrefix(k, prefix), suffix)
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}

// DeleteIfExists removes key and ignores ErrNotFound.
func DeleteIfExists(b Backend, key string) error {
	if err := b.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}
