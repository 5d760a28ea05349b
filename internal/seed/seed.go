// Package seed applies a declarative YAML bootstrap file on startup:
// tenants, endpoints, and rules. Each seeded endpoint carries a
// content fingerprint recorded in a sidecar file, so unchanged entries
// are skipped and operator edits made through the admin surface are
// only overwritten when the seed itself changes.
package seed

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/pathmatch"
	"github.com/mocknest/mocknest/internal/store"
	"github.com/mocknest/mocknest/internal/tenant"
)

// sumFilename is the per-tenant fingerprint sidecar.
const sumFilename = "seed.sum"

// File is the top-level seed document.
type File struct {
	Tenants []Tenant `yaml:"tenants"`
}

// Tenant seeds one tenant.
type Tenant struct {
	Name      string     `yaml:"name"`
	Endpoints []Endpoint `yaml:"endpoints"`
}

// Endpoint seeds one endpoint with its rules.
type Endpoint struct {
	Path         string `yaml:"path"`
	ResponseBody string `yaml:"response_body"`
	StatusCode   int    `yaml:"status_code"`
	DelayMs      int    `yaml:"delay_ms"`
	RateLimit    int    `yaml:"rate_limit"`
	Rules        []Rule `yaml:"rules"`
}

// Rule seeds one rule under its endpoint.
type Rule struct {
	Name            string            `yaml:"name"`
	Priority        int               `yaml:"priority"`
	MatchMethod     string            `yaml:"match_method"`
	MatchPath       string            `yaml:"match_path"`
	MatchHeaders    map[string]string `yaml:"match_headers"`
	ResponseBody    string            `yaml:"response_body"`
	ResponseHeaders map[string]string `yaml:"response_headers"`
	ResponseStatus  int               `yaml:"response_status"`
	ResponseDelayMs int               `yaml:"response_delay_ms"`
	Active          *bool             `yaml:"active"`
}

// Load parses a seed file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	for _, t := range f.Tenants {
		if !tenant.ValidName(t.Name) {
			return nil, fmt.Errorf("seed: invalid tenant name %q", t.Name)
		}
		for _, ep := range t.Endpoints {
			if ep.Path == "" {
				return nil, fmt.Errorf("seed: tenant %q: endpoint with empty path", t.Name)
			}
		}
	}
	return &f, nil
}

// Apply reconciles the seed into the registry. Endpoints whose
// fingerprint matches the sidecar are left untouched.
func Apply(reg *tenant.Registry, dataDir string, f *File) error {
	for _, t := range f.Tenants {
		rt, err := reg.Tenant(t.Name)
		if err != nil {
			return fmt.Errorf("seed: tenant %q: %w", t.Name, err)
		}
		if err := applyTenant(rt, filepath.Join(dataDir, "tenants", t.Name), t); err != nil {
			return err
		}
	}
	return nil
}

func applyTenant(rt *tenant.Runtime, dir string, t Tenant) error {
	sums, err := readSums(dir)
	if err != nil {
		log.Printf("[seed] warning: unreadable %s for %q, reseeding all: %v", sumFilename, t.Name, err)
		sums = map[string]string{}
	}

	changed := false
	for _, spec := range t.Endpoints {
		path := pathmatch.Normalize(spec.Path)
		sum := fingerprint(spec)
		if sums[path] == sum {
			continue
		}
		if err := applyEndpoint(rt.Store, path, spec); err != nil {
			return fmt.Errorf("seed: tenant %q endpoint %q: %w", t.Name, path, err)
		}
		log.Printf("[seed] applied endpoint %s for tenant %q", path, t.Name)
		sums[path] = sum
		changed = true
	}

	if changed {
		if err := writeSums(dir, sums); err != nil {
			return fmt.Errorf("seed: tenant %q: %w", t.Name, err)
		}
	}
	return nil
}

// applyEndpoint upserts the endpoint by path and replaces its rules.
func applyEndpoint(st *store.Store, path string, spec Endpoint) error {
	now := time.Now().UnixNano()

	ep, err := findByPath(st, path)
	if err != nil {
		return err
	}
	if ep == nil {
		created := model.Endpoint{
			ID:          model.NewEndpointID(),
			CreatedAtNs: now,
		}
		fillEndpoint(&created, path, spec, now)
		if err := st.CreateEndpoint(created); err != nil {
			return err
		}
		ep = &created
	} else {
		fillEndpoint(ep, path, spec, now)
		if err := st.UpdateEndpoint(*ep); err != nil {
			return err
		}
	}

	// Rules are replaced wholesale: the seed owns the rule set of the
	// endpoints it declares.
	existing, err := st.ListRules(ep.ID)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if err := st.DeleteRule(r.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	for _, rs := range spec.Rules {
		rule := model.Rule{
			ID:                  model.NewRuleID(),
			EndpointID:          ep.ID,
			Name:                rs.Name,
			Priority:            rs.Priority,
			MatchMethod:         optional(rs.MatchMethod),
			MatchPath:           optional(rs.MatchPath),
			MatchHeadersJSON:    encodeMap(rs.MatchHeaders),
			ResponseBody:        rs.ResponseBody,
			ResponseHeadersJSON: encodeMap(rs.ResponseHeaders),
			ResponseStatus:      orDefault(rs.ResponseStatus, 200),
			ResponseDelayMs:     rs.ResponseDelayMs,
			Active:              rs.Active == nil || *rs.Active,
			CreatedAtNs:         now,
			UpdatedAtNs:         now,
		}
		if err := st.CreateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func fillEndpoint(ep *model.Endpoint, path string, spec Endpoint, now int64) {
	ep.Path = path
	ep.ResponseBody = spec.ResponseBody
	ep.StatusCode = orDefault(spec.StatusCode, 200)
	ep.DelayMs = spec.DelayMs
	ep.RateLimit = orDefault(spec.RateLimit, 60)
	ep.UpdatedAtNs = now
}

func findByPath(st *store.Store, path string) (*model.Endpoint, error) {
	endpoints, err := st.ListEndpoints()
	if err != nil {
		return nil, err
	}
	for i := range endpoints {
		if endpoints[i].Path == path {
			return &endpoints[i], nil
		}
	}
	return nil, nil
}

// fingerprint hashes the canonical JSON form of an endpoint spec.
// json.Marshal sorts map keys, so equal specs hash equal.
func fingerprint(spec Endpoint) string {
	b, err := json.Marshal(spec)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.Hash(b))
}

func readSums(dir string) (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, sumFilename))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var sums map[string]string
	if err := json.Unmarshal(raw, &sums); err != nil {
		return nil, err
	}
	return sums, nil
}

func writeSums(dir string, sums map[string]string) error {
	b, err := json.MarshalIndent(sums, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sumFilename), b, 0o644)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func encodeMap(m map[string]string) *string {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	s := string(b)
	return &s
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
