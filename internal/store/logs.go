package store

import (
	"database/sql"
	"errors"

	"github.com/mocknest/mocknest/internal/model"
)

const logColumns = "id, endpoint_id, method, path, headers_json, body, matched_rule_id, matched_rule_name, " +
	"path_params_json, response_status, response_time_ms, client_country, created_at_ns"

// Log list limits. Callers may pass any limit; it is clamped here so
// every query path shares the same bounds.
const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

// InsertLog appends a request log entry. Entries are immutable once
// written.
func (s *Store) InsertLog(l model.RequestLog) error {
	_, err := s.db.Exec(
		`INSERT INTO request_logs (`+logColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.EndpointID, l.Method, l.Path, l.HeadersJSON, l.Body, l.MatchedRuleID, l.MatchedRuleName,
		l.PathParamsJSON, l.ResponseStatus, l.ResponseTimeMs, l.ClientCountry, l.CreatedAtNs,
	)
	return err
}

// ListLogs returns log entries ordered by timestamp descending,
// scoped to an endpoint when endpointID is non-empty. limit <= 0
// selects DefaultLogLimit; anything above MaxLogLimit is clamped.
func (s *Store) ListLogs(endpointID string, limit int) ([]model.RequestLog, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	if limit > MaxLogLimit {
		limit = MaxLogLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if endpointID != "" {
		rows, err = s.db.Query(
			`SELECT `+logColumns+` FROM request_logs WHERE endpoint_id = ? ORDER BY created_at_ns DESC, id ASC LIMIT ?`,
			endpointID, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT `+logColumns+` FROM request_logs ORDER BY created_at_ns DESC, id ASC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.RequestLog
	for rows.Next() {
		var l model.RequestLog
		if err := rows.Scan(
			&l.ID, &l.EndpointID, &l.Method, &l.Path, &l.HeadersJSON, &l.Body, &l.MatchedRuleID,
			&l.MatchedRuleName, &l.PathParamsJSON, &l.ResponseStatus, &l.ResponseTimeMs,
			&l.ClientCountry, &l.CreatedAtNs,
		); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// GetLog returns a single log entry by id, or ErrNotFound.
func (s *Store) GetLog(id string) (model.RequestLog, error) {
	row := s.db.QueryRow(`SELECT `+logColumns+` FROM request_logs WHERE id = ?`, id)
	var l model.RequestLog
	err := row.Scan(
		&l.ID, &l.EndpointID, &l.Method, &l.Path, &l.HeadersJSON, &l.Body, &l.MatchedRuleID,
		&l.MatchedRuleName, &l.PathParamsJSON, &l.ResponseStatus, &l.ResponseTimeMs,
		&l.ClientCountry, &l.CreatedAtNs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RequestLog{}, ErrNotFound
	}
	return l, err
}

// ClearLogs deletes log entries, scoped to an endpoint when endpointID
// is non-empty, tenant-wide otherwise.
func (s *Store) ClearLogs(endpointID string) error {
	var err error
	if endpointID != "" {
		_, err = s.db.Exec(`DELETE FROM request_logs WHERE endpoint_id = ?`, endpointID)
	} else {
		_, err = s.db.Exec(`DELETE FROM request_logs`)
	}
	return err
}

// CountLogs returns the number of retained log entries, optionally
// scoped to one endpoint.
func (s *Store) CountLogs(endpointID string) (int, error) {
	var (
		n   int
		err error
	)
	if endpointID != "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM request_logs WHERE endpoint_id = ?`, endpointID).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM request_logs`).Scan(&n)
	}
	return n, err
}
