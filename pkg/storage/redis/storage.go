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

// Package redis stores key store blobs and the sealed session secret in
// Redis under a namespace prefix.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

// DefaultNamespace prefixes every key written by this backend.
const DefaultNamespace = "sessionkey:"

// Config holds connection settings.
type Config struct {
	Addr         string        `yaml:"addr" mapstructure:"addr"`
	Username     string        `yaml:"username" mapstructure:"username"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	TLS          bool          `yaml:"tls" mapstructure:"tls"`
	Namespace    string        `yaml:"namespace" mapstructure:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Storage is a Redis-backed storage.Backend.
type Storage struct {
	mu        sync.RWMutex
	client    goredis.UniversalClient
	namespace string
	timeout   time.Duration
	closed    bool
}

// New connects and pings Redis.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 3 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 3 * time.Second
	}

	opts := &goredis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis storage: ping %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Namespace), nil
}

// NewWithClient wraps an existing client. An empty namespace selects
// DefaultNamespace.
func NewWithClient(client goredis.UniversalClient, namespace string) *Storage {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Storage{
		client:    client,
		namespace: namespace,
		timeout:   5 * time.Second,
	}
}

func (s *Storage) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Storage) k(key string) string {
	return s.namespace + key
}

func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return nil, err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	val, err := s.client.Get(ctx, s.k(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("redis storage: get %q: %w", key, err)
	}
	return val, nil
}

// Put stores value without expiry. Options are ignored.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(key); err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	if err := s.client.Set(ctx, s.k(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis storage: put %q: %w", key, err)
	}
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(key); err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.client.Del(ctx, s.k(key)).Result()
	if err != nil {
		return fmt.Errorf("redis storage: delete %q: %w", key, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List scans the namespace. SCAN is used instead of KEYS so a large
// shared instance is not blocked.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}
	ctx, cancel := s.ctx()
	defer cancel()

	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, s.k(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.namespace)
		// Glob metacharacters in prefix may overmatch.
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis storage: list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.client.Exists(ctx, s.k(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis storage: exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *Storage) check(key string) error {
	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	return nil
}

var _ storage.Backend = (*Storage)(nil)
