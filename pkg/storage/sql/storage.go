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

// Package sql stores key store blobs and the sealed session secret in a
// relational database through gorm. SQLite is used for single-host
// deployments and tests; MySQL for shared deployments.
package sql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jeremyhahn/go-sessionkey/pkg/storage"
)

const (
	mysqlScheme  = "mysql://"
	sqliteScheme = "sqlite://"

	defaultTimeout = 10 * time.Second
)

// Entry is the gorm model backing one storage key.
type Entry struct {
	Key       string    `gorm:"column:key;type:varchar(255);primaryKey"`
	Value     []byte    `gorm:"column:value;type:blob;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the table name.
func (Entry) TableName() string {
	return "storage_entries"
}

// Storage is a gorm-backed storage.Backend.
type Storage struct {
	mu      sync.RWMutex
	db      *gorm.DB
	timeout time.Duration
	closed  bool
}

// Open connects to dsn and migrates the entries table. A dsn prefixed
// with mysql:// selects MySQL; anything else (sqlite://path, a bare file
// path or :memory:) selects SQLite.
func Open(dsn string) (*Storage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sql storage: dsn cannot be empty")
	}

	var dialector gorm.Dialector
	isSQLite := false
	switch {
	case strings.HasPrefix(dsn, mysqlScheme):
		dialector = mysql.Open(strings.TrimPrefix(dsn, mysqlScheme))
	default:
		dialector = sqlite.Open(strings.TrimPrefix(dsn, sqliteScheme))
		isSQLite = true
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sql storage: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql storage: pool: %w", err)
	}
	if isSQLite {
		// Every new connection to :memory: is a fresh database.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return NewWithDB(db)
}

// NewWithDB wraps an existing gorm handle and migrates the entries table.
func NewWithDB(db *gorm.DB) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("sql storage: db cannot be nil")
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("sql storage: migrate: %w", err)
	}
	return &Storage{db: db, timeout: defaultTimeout}, nil
}

func (s *Storage) session() (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	return s.db.WithContext(ctx), cancel
}

func keyEq(key string) clause.Eq {
	return clause.Eq{Column: clause.Column{Name: "key"}, Value: key}
}

func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return nil, err
	}

	db, cancel := s.session()
	defer cancel()

	var e Entry
	if err := db.Where(keyEq(key)).Take(&e).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sql storage: get %q: %w", key, err)
	}
	return e.Value, nil
}

// Put upserts value. Options are ignored; access control is the database's.
func (s *Storage) Put(key string, value []byte, _ *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(key); err != nil {
		return err
	}

	db, cancel := s.session()
	defer cancel()

	if value == nil {
		value = []byte{}
	}
	e := Entry{Key: key, Value: value}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("sql storage: put %q: %w", key, err)
	}
	return nil
}

func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(key); err != nil {
		return err
	}

	db, cancel := s.session()
	defer cancel()

	res := db.Where(keyEq(key)).Delete(&Entry{})
	if res.Error != nil {
		return fmt.Errorf("sql storage: delete %q: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storage.ErrClosed
	}

	db, cancel := s.session()
	defer cancel()

	var keys []string
	q := db.Model(&Entry{})
	if prefix != "" {
		q = q.Where(clause.Like{Column: clause.Column{Name: "key"}, Value: prefix + "%"})
	}
	if err := q.Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("sql storage: list %q: %w", prefix, err)
	}

	// LIKE treats '_' and '%' as wildcards; filter exactly.
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(key); err != nil {
		return false, err
	}

	db, cancel := s.session()
	defer cancel()

	var count int64
	if err := db.Model(&Entry{}).Where(keyEq(key)).Count(&count).Error; err != nil {
		return false, fmt.Errorf("sql storage: exists %q: %w", key, err)
	}
	return count > 0, nil
}

func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
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
