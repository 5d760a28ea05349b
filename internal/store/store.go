package store

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"github.com/mocknest/mocknest/internal/model"
)

// Sentinel errors mapped to admin-surface status codes.
var (
	ErrNotFound      = errors.New("store: not found")
	ErrDuplicatePath = errors.New("store: duplicate endpoint path")
)

const (
	// DBFilename is the per-tenant mock database file name.
	DBFilename = "mock.db"

	// rulesCacheCapacity bounds the per-tenant rules cache. One entry
	// per endpoint; tenants rarely hold more than a few dozen.
	rulesCacheCapacity = 1024

	// DefaultRulesCacheTTL is the read-through cache lifetime.
	DefaultRulesCacheTTL = 60 * time.Second
)

// Store wraps one tenant's mock.db and the rules read-through cache.
// The single SQLite write connection serializes all mutations for the
// tenant; the cache only ever holds what the database already returned.
type Store struct {
	db    *sql.DB
	rules otter.Cache[string, []model.Rule]
}

// Open opens (or creates) the tenant store under dir and brings the
// schema up to date. cacheTTL <= 0 selects DefaultRulesCacheTTL.
func Open(dir string, cacheTTL time.Duration) (*Store, error) {
	if cacheTTL <= 0 {
		cacheTTL = DefaultRulesCacheTTL
	}

	db, err := OpenDB(filepath.Join(dir, DBFilename))
	if err != nil {
		return nil, err
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	cache, err := otter.MustBuilder[string, []model.Rule](rulesCacheCapacity).
		Cost(func(_ string, _ []model.Rule) uint32 { return 1 }).
		WithTTL(cacheTTL).
		Build()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: build rules cache: %w", err)
	}

	return &Store{db: db, rules: cache}, nil
}

// Close closes the database and releases the cache.
func (s *Store) Close() error {
	s.rules.Close()
	return s.db.Close()
}

// DB exposes the underlying handle for migrations tests.
func (s *Store) DB() *sql.DB { return s.db }

// isUniquePathViolation detects the endpoints.path UNIQUE constraint.
func isUniquePathViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: endpoints.path")
}

// isForeignKeyViolation detects FK failures (unknown endpoint id on
// rule insert).
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
