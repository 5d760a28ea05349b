// Package tenant manages per-tenant runtime bundles: each tenant gets
// its own databases, rate limiter, inspector hub, and serving engine
// under its own directory, created lazily on first reference.
package tenant

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mocknest/mocknest/internal/engine"
	"github.com/mocknest/mocknest/internal/inspector"
	"github.com/mocknest/mocknest/internal/ratelimit"
	"github.com/mocknest/mocknest/internal/store"
)

var (
	// ErrInvalidName reports a tenant name that is not a valid DNS label.
	ErrInvalidName = errors.New("tenant: invalid tenant name")
	// ErrReservedName reports a tenant name the operator has reserved.
	ErrReservedName = errors.New("tenant: reserved tenant name")
	// ErrClosed reports use of a registry after Close.
	ErrClosed = errors.New("tenant: registry closed")
)

// maxNameLen matches the DNS label limit, since tenant names may ride
// on host labels.
const maxNameLen = 63

// Runtime is one tenant's live serving bundle.
type Runtime struct {
	Name    string
	Store   *store.Store
	Limiter *ratelimit.Limiter
	Hub     *inspector.Hub
	Engine  *engine.Engine
}

func (rt *Runtime) close() {
	rt.Hub.CloseAll()
	if err := rt.Limiter.Close(); err != nil {
		log.Printf("[tenant] warning: close limiter for %q: %v", rt.Name, err)
	}
	if err := rt.Store.Close(); err != nil {
		log.Printf("[tenant] warning: close store for %q: %v", rt.Name, err)
	}
}

// Options configure every tenant the registry creates.
type Options struct {
	// Window is the rate-limit window; <= 0 selects the default.
	Window time.Duration
	// RulesCacheTTL is the rules cache lifetime; <= 0 selects the default.
	RulesCacheTTL time.Duration
	// WSSendBuffer is the inspector per-session buffer; <= 0 selects
	// the default.
	WSSendBuffer int
	// Reserved names are rejected with ErrReservedName.
	Reserved []string
	// Geo resolves client countries for log enrichment; may be nil.
	Geo engine.CountryResolver
}

// Registry creates and caches tenant runtimes. A tenant's directory is
// dataDir/tenants/<name>.
type Registry struct {
	dataDir  string
	opts     Options
	reserved map[string]struct{}

	tenants *xsync.Map[string, *Runtime]

	// createMu serializes first-touch creation so two requests for a
	// new tenant cannot both open its databases.
	createMu sync.Mutex
	closed   bool
}

// NewRegistry creates a registry rooted at dataDir.
func NewRegistry(dataDir string, opts Options) *Registry {
	reserved := make(map[string]struct{}, len(opts.Reserved))
	for _, name := range opts.Reserved {
		reserved[name] = struct{}{}
	}
	return &Registry{
		dataDir:  dataDir,
		opts:     opts,
		reserved: reserved,
		tenants:  xsync.NewMap[string, *Runtime](),
	}
}

// Tenant returns the runtime for name, creating it on first use.
func (reg *Registry) Tenant(name string) (*Runtime, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, ok := reg.reserved[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrReservedName, name)
	}

	if rt, ok := reg.tenants.Load(name); ok {
		return rt, nil
	}

	reg.createMu.Lock()
	defer reg.createMu.Unlock()
	if reg.closed {
		return nil, ErrClosed
	}
	if rt, ok := reg.tenants.Load(name); ok {
		return rt, nil
	}

	rt, err := reg.create(name)
	if err != nil {
		return nil, err
	}
	reg.tenants.Store(name, rt)
	return rt, nil
}

func (reg *Registry) create(name string) (*Runtime, error) {
	dir := filepath.Join(reg.dataDir, "tenants", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tenant: create dir for %q: %w", name, err)
	}

	st, err := store.Open(dir, reg.opts.RulesCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("tenant: open store for %q: %w", name, err)
	}
	limiter, err := ratelimit.Open(dir, reg.opts.Window)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("tenant: open limiter for %q: %w", name, err)
	}
	hub := inspector.NewHub(st, reg.opts.WSSendBuffer)

	log.Printf("[tenant] initialized tenant %q at %s", name, dir)
	return &Runtime{
		Name:    name,
		Store:   st,
		Limiter: limiter,
		Hub:     hub,
		Engine:  engine.New(st, limiter, hub, reg.opts.Geo),
	}, nil
}

// Len returns the number of live tenants.
func (reg *Registry) Len() int { return reg.tenants.Size() }

// SweepCounters runs the rate-counter sweep across all live tenants.
func (reg *Registry) SweepCounters() {
	reg.tenants.Range(func(name string, rt *Runtime) bool {
		n, err := rt.Limiter.Sweep()
		if err != nil {
			log.Printf("[tenant] warning: counter sweep for %q: %v", name, err)
		} else if n > 0 {
			log.Printf("[tenant] swept %d expired counters for %q", n, name)
		}
		return true
	})
}

// Close shuts down every tenant runtime. The registry cannot be used
// afterwards.
func (reg *Registry) Close() {
	reg.createMu.Lock()
	reg.closed = true
	reg.createMu.Unlock()

	reg.tenants.Range(func(name string, rt *Runtime) bool {
		reg.tenants.Delete(name)
		rt.close()
		return true
	})
}

// ValidName reports whether name is an acceptable tenant name: a DNS
// label of lowercase letters, digits, and interior hyphens.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > maxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
			if i == 0 || i == len(name)-1 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
