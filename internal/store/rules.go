package store

import (
	"database/sql"
	"errors"

	"github.com/mocknest/mocknest/internal/model"
)

const ruleColumns = "id, endpoint_id, name, priority, match_method, match_path, match_headers_json, " +
	"response_body, response_headers_json, response_status, response_delay_ms, active, created_at_ns, updated_at_ns"

// RulesForEndpoint returns the endpoint's rules through the TTL cache.
// This is the hot-path read: a hit removes the storage round trip, a
// miss reads through and populates. The cache is never written except
// from a database read.
func (s *Store) RulesForEndpoint(endpointID string) ([]model.Rule, error) {
	if cached, ok := s.rules.Get(endpointID); ok {
		return cached, nil
	}
	rules, err := s.queryRules(endpointID)
	if err != nil {
		return nil, err
	}
	s.rules.Set(endpointID, rules)
	return rules, nil
}

// ListRules returns rules straight from the database, all of them when
// endpointID is empty. Used by the admin surface.
func (s *Store) ListRules(endpointID string) ([]model.Rule, error) {
	if endpointID != "" {
		return s.queryRules(endpointID)
	}
	rows, err := s.db.Query(`SELECT ` + ruleColumns + ` FROM mock_rules ORDER BY created_at_ns ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

// GetRule returns the rule with the given id, or ErrNotFound.
func (s *Store) GetRule(id string) (model.Rule, error) {
	row := s.db.QueryRow(`SELECT `+ruleColumns+` FROM mock_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Rule{}, ErrNotFound
	}
	return rule, err
}

// CreateRule inserts a rule. Returns ErrNotFound when the referenced
// endpoint does not exist.
func (s *Store) CreateRule(r model.Rule) error {
	_, err := s.db.Exec(
		`INSERT INTO mock_rules (`+ruleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.EndpointID, r.Name, r.Priority, r.MatchMethod, r.MatchPath, r.MatchHeadersJSON,
		r.ResponseBody, r.ResponseHeadersJSON, r.ResponseStatus, r.ResponseDelayMs,
		boolToInt(r.Active), r.CreatedAtNs, r.UpdatedAtNs,
	)
	if isForeignKeyViolation(err) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	s.rules.Delete(r.EndpointID)
	return nil
}

// UpdateRule overwrites the mutable rule fields. Returns ErrNotFound
// for an unknown id.
func (s *Store) UpdateRule(r model.Rule) error {
	res, err := s.db.Exec(
		`UPDATE mock_rules SET name = ?, priority = ?, match_method = ?, match_path = ?, match_headers_json = ?,
			response_body = ?, response_headers_json = ?, response_status = ?, response_delay_ms = ?, active = ?, updated_at_ns = ?
		 WHERE id = ?`,
		r.Name, r.Priority, r.MatchMethod, r.MatchPath, r.MatchHeadersJSON,
		r.ResponseBody, r.ResponseHeadersJSON, r.ResponseStatus, r.ResponseDelayMs,
		boolToInt(r.Active), r.UpdatedAtNs, r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.rules.Delete(r.EndpointID)
	return nil
}

// DeleteRule removes a rule by id. Returns ErrNotFound when absent.
func (s *Store) DeleteRule(id string) error {
	rule, err := s.GetRule(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM mock_rules WHERE id = ?`, id); err != nil {
		return err
	}
	s.rules.Delete(rule.EndpointID)
	return nil
}

func (s *Store) queryRules(endpointID string) ([]model.Rule, error) {
	rows, err := s.db.Query(
		`SELECT `+ruleColumns+` FROM mock_rules WHERE endpoint_id = ? ORDER BY created_at_ns ASC, id ASC`,
		endpointID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]model.Rule, error) {
	var result []model.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRule(row rowScanner) (model.Rule, error) {
	var (
		r      model.Rule
		active int
	)
	err := row.Scan(
		&r.ID, &r.EndpointID, &r.Name, &r.Priority, &r.MatchMethod, &r.MatchPath, &r.MatchHeadersJSON,
		&r.ResponseBody, &r.ResponseHeadersJSON, &r.ResponseStatus, &r.ResponseDelayMs,
		&active, &r.CreatedAtNs, &r.UpdatedAtNs,
	)
	if err != nil {
		return model.Rule{}, err
	}
	r.Active = active != 0
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
