package tenant

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry(t.TempDir(), Options{
		Window:        time.Minute,
		RulesCacheTTL: time.Minute,
		Reserved:      []string{"www", "admin"},
	})
	t.Cleanup(reg.Close)
	return reg
}

func TestTenantLazyCreation(t *testing.T) {
	reg := newTestRegistry(t)

	if reg.Len() != 0 {
		t.Fatalf("fresh registry has %d tenants", reg.Len())
	}

	rt, err := reg.Tenant("acme")
	if err != nil {
		t.Fatal(err)
	}
	if rt.Store == nil || rt.Limiter == nil || rt.Hub == nil || rt.Engine == nil {
		t.Fatalf("incomplete runtime: %+v", rt)
	}
	if reg.Len() != 1 {
		t.Fatalf("registry size = %d", reg.Len())
	}

	// Same name returns the same runtime.
	again, err := reg.Tenant("acme")
	if err != nil {
		t.Fatal(err)
	}
	if again != rt {
		t.Fatal("second lookup created a new runtime")
	}
}

func TestTenantDirectoryLayout(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, Options{Window: time.Minute, RulesCacheTTL: time.Minute})
	t.Cleanup(reg.Close)

	if _, err := reg.Tenant("acme"); err != nil {
		t.Fatal(err)
	}
	for _, file := range []string{"mock.db", "counters.db"} {
		if _, err := os.Stat(filepath.Join(dir, "tenants", "acme", file)); err != nil {
			t.Fatalf("expected %s under the tenant dir: %v", file, err)
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	reg := newTestRegistry(t)

	a, err := reg.Tenant("alpha")
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Tenant("beta")
	if err != nil {
		t.Fatal(err)
	}
	if a == b || a.Store == b.Store {
		t.Fatal("tenants must not share state")
	}
}

func TestTenantNameValidation(t *testing.T) {
	reg := newTestRegistry(t)

	invalid := []string{"", "UPPER", "has space", "has.dot", "-leading", "trailing-", strings.Repeat("a", 64)}
	for _, name := range invalid {
		if _, err := reg.Tenant(name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Tenant(%q): expected ErrInvalidName, got %v", name, err)
		}
	}

	valid := []string{"a", "acme", "acme-2", "a1b2"}
	for _, name := range valid {
		if _, err := reg.Tenant(name); err != nil {
			t.Errorf("Tenant(%q): %v", name, err)
		}
	}
}

func TestTenantReservedNames(t *testing.T) {
	reg := newTestRegistry(t)
	for _, name := range []string{"www", "admin"} {
		if _, err := reg.Tenant(name); !errors.Is(err, ErrReservedName) {
			t.Errorf("Tenant(%q): expected ErrReservedName, got %v", name, err)
		}
	}
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry(t.TempDir(), Options{Window: time.Minute, RulesCacheTTL: time.Minute})
	if _, err := reg.Tenant("acme"); err != nil {
		t.Fatal(err)
	}
	reg.Close()
	if reg.Len() != 0 {
		t.Fatalf("registry still holds %d tenants after Close", reg.Len())
	}
	if _, err := reg.Tenant("fresh"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSweepCounters(t *testing.T) {
	reg := newTestRegistry(t)
	rt, err := reg.Tenant("acme")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rt.Limiter.Allow("ep_1", 5); err != nil {
		t.Fatal(err)
	}
	// Nothing expired; the sweep is a no-op but must not fail.
	reg.SweepCounters()
}

func TestValidName(t *testing.T) {
	if ValidName("acme-prod") != true {
		t.Fatal("acme-prod must be valid")
	}
	if ValidName("Acme") || ValidName("-x") || ValidName("x-") || ValidName("") {
		t.Fatal("invalid names accepted")
	}
}
