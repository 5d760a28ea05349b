// Package geoip resolves client addresses to ISO country codes from a
// local MaxMind-format database, for request log enrichment.
package geoip

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// countryRecord is the subset of the mmdb document we decode.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Resolver wraps an mmdb reader behind an RWMutex so the database can
// be swapped at runtime while lookups are in flight.
type Resolver struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
	path   string
}

// Open loads the database at path.
func Open(path string) (*Resolver, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return &Resolver{reader: reader, path: path}, nil
}

// Country returns the ISO 3166-1 alpha-2 code for addr, or "" when the
// address is unknown or the database has no record for it.
func (r *Resolver) Country(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.reader == nil {
		return ""
	}
	var rec countryRecord
	if err := r.reader.Lookup(addr.AsSlice(), &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

// Reload reopens the database file, picking up a replaced copy on
// disk. Lookups in flight finish against the old reader.
func (r *Resolver) Reload() error {
	reader, err := maxminddb.Open(r.path)
	if err != nil {
		return fmt.Errorf("geoip: reload %s: %w", r.path, err)
	}
	r.mu.Lock()
	old := r.reader
	r.reader = reader
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the reader. Subsequent lookups return "".
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}
