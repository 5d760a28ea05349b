package store

import (
	"database/sql"
	"errors"

	"github.com/mocknest/mocknest/internal/model"
)

const endpointColumns = "id, path, response_body, status_code, delay_ms, rate_limit, created_at_ns, updated_at_ns"

// CreateEndpoint inserts a new endpoint. Returns ErrDuplicatePath when
// the path pattern is already registered for the tenant.
func (s *Store) CreateEndpoint(e model.Endpoint) error {
	_, err := s.db.Exec(
		`INSERT INTO endpoints (`+endpointColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.Path, e.ResponseBody, e.StatusCode, e.DelayMs, e.RateLimit, e.CreatedAtNs, e.UpdatedAtNs,
	)
	if isUniquePathViolation(err) {
		return ErrDuplicatePath
	}
	return err
}

// GetEndpoint returns the endpoint with the given id, or ErrNotFound.
func (s *Store) GetEndpoint(id string) (model.Endpoint, error) {
	row := s.db.QueryRow(`SELECT `+endpointColumns+` FROM endpoints WHERE id = ?`, id)
	return scanEndpoint(row)
}

// ListEndpoints returns all endpoints ordered by creation time
// ascending (id breaks timestamp ties deterministically).
func (s *Store) ListEndpoints() ([]model.Endpoint, error) {
	rows, err := s.db.Query(`SELECT ` + endpointColumns + ` FROM endpoints ORDER BY created_at_ns ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// UpdateEndpoint overwrites the mutable endpoint fields. Returns
// ErrNotFound for an unknown id and ErrDuplicatePath when the new path
// collides with another endpoint.
func (s *Store) UpdateEndpoint(e model.Endpoint) error {
	res, err := s.db.Exec(
		`UPDATE endpoints SET path = ?, response_body = ?, status_code = ?, delay_ms = ?, rate_limit = ?, updated_at_ns = ? WHERE id = ?`,
		e.Path, e.ResponseBody, e.StatusCode, e.DelayMs, e.RateLimit, e.UpdatedAtNs, e.ID,
	)
	if isUniquePathViolation(err) {
		return ErrDuplicatePath
	}
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
	return nil
}

// DeleteEndpoint removes an endpoint; rules and logs cascade away with
// it. The rules-cache entry is invalidated in the same call so a
// subsequent read cannot resurrect rules of a deleted endpoint.
func (s *Store) DeleteEndpoint(id string) error {
	res, err := s.db.Exec(`DELETE FROM endpoints WHERE id = ?`, id)
	if err != nil {
		return err
	}
	s.rules.Delete(id)
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (model.Endpoint, error) {
	var e model.Endpoint
	err := row.Scan(&e.ID, &e.Path, &e.ResponseBody, &e.StatusCode, &e.DelayMs, &e.RateLimit, &e.CreatedAtNs, &e.UpdatedAtNs)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Endpoint{}, ErrNotFound
	}
	return e, err
}
