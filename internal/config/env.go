// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mocknest/mocknest/internal/tenant"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	DataDir string

	// Network
	ListenAddress string
	MockPort      int
	InternalPort  int

	// Auth
	InternalAuthSecret string

	// Tenancy
	HostSuffix      string
	ReservedTenants []string

	// Serving
	RateLimitWindow      time.Duration
	RulesCacheTTL        time.Duration
	MaxBodyBytes         int
	WSSendBuffer         int
	CounterSweepSchedule string

	// Optional extras
	SeedFile  string
	GeoIPDB   string
}

// DefaultReservedTenants are names never served as tenants.
var DefaultReservedTenants = []string{"www", "api", "app", "admin", "mock"}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every invalid or missing value.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.DataDir = envStr("MOCKNEST_DATA_DIR", "/var/lib/mocknest")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("MOCKNEST_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.MockPort = envInt("MOCKNEST_MOCK_PORT", 8080, &errs)
	cfg.InternalPort = envInt("MOCKNEST_INTERNAL_PORT", 8081, &errs)

	// --- Auth ---
	secret, hasSecret := os.LookupEnv("MOCKNEST_INTERNAL_AUTH_SECRET")
	cfg.InternalAuthSecret = secret

	// --- Tenancy ---
	cfg.HostSuffix = normalizeHostSuffix(envStr("MOCKNEST_HOST_SUFFIX", ""))
	cfg.ReservedTenants = envCommaList("MOCKNEST_RESERVED_TENANTS", DefaultReservedTenants)

	// --- Serving ---
	cfg.RateLimitWindow = envDuration("MOCKNEST_RATE_LIMIT_WINDOW", 60*time.Second, &errs)
	cfg.RulesCacheTTL = envDuration("MOCKNEST_RULES_CACHE_TTL", 60*time.Second, &errs)
	cfg.MaxBodyBytes = envInt("MOCKNEST_MAX_BODY_BYTES", 1<<20, &errs)
	cfg.WSSendBuffer = envInt("MOCKNEST_WS_SEND_BUFFER", 64, &errs)
	cfg.CounterSweepSchedule = envStr("MOCKNEST_COUNTER_SWEEP_SCHEDULE", "*/5 * * * *")

	// --- Optional extras ---
	cfg.SeedFile = envStr("MOCKNEST_SEED_FILE", "")
	cfg.GeoIPDB = envStr("MOCKNEST_GEOIP_DB", "")

	// --- Validation ---
	if !hasSecret || cfg.InternalAuthSecret == "" {
		errs = append(errs, "MOCKNEST_INTERNAL_AUTH_SECRET must be defined and non-empty")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "MOCKNEST_LISTEN_ADDRESS must not be empty")
	}
	validatePort("MOCKNEST_MOCK_PORT", cfg.MockPort, &errs)
	validatePort("MOCKNEST_INTERNAL_PORT", cfg.InternalPort, &errs)
	if cfg.MockPort == cfg.InternalPort {
		errs = append(errs, "MOCKNEST_MOCK_PORT and MOCKNEST_INTERNAL_PORT must differ")
	}
	if cfg.RateLimitWindow < time.Second {
		errs = append(errs, "MOCKNEST_RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.RulesCacheTTL <= 0 {
		errs = append(errs, "MOCKNEST_RULES_CACHE_TTL must be positive")
	}
	validatePositive("MOCKNEST_MAX_BODY_BYTES", cfg.MaxBodyBytes, &errs)
	validatePositive("MOCKNEST_WS_SEND_BUFFER", cfg.WSSendBuffer, &errs)
	if _, err := cron.ParseStandard(cfg.CounterSweepSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("MOCKNEST_COUNTER_SWEEP_SCHEDULE: invalid cron expression %q: %v", cfg.CounterSweepSchedule, err))
	}
	for _, name := range cfg.ReservedTenants {
		if !tenant.ValidName(name) {
			errs = append(errs, fmt.Sprintf("MOCKNEST_RESERVED_TENANTS: invalid tenant name %q", name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// normalizeHostSuffix guarantees a leading dot on a non-empty suffix so
// "mock.example.com" and ".mock.example.com" behave the same.
func normalizeHostSuffix(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	return "." + strings.TrimPrefix(s, ".")
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envCommaList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
