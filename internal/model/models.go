// Package model defines domain structs shared across the storage and serving layers.
package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Endpoint is the coarse-grained routing target for a tenant: a path
// pattern with default response behavior.
type Endpoint struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	ResponseBody string `json:"response_body"`
	StatusCode   int    `json:"status_code"`
	DelayMs      int    `json:"delay_ms"`
	RateLimit    int    `json:"rate_limit"`
	CreatedAtNs  int64  `json:"created_at_ns"`
	UpdatedAtNs  int64  `json:"updated_at_ns"`
}

// Rule is a prioritized conditional override attached to an endpoint.
// Nil pointer fields mean "no constraint" (match side) or "absent"
// (response side).
type Rule struct {
	ID                  string  `json:"id"`
	EndpointID          string  `json:"endpoint_id"`
	Name                string  `json:"name"`
	Priority            int     `json:"priority"`
	MatchMethod         *string `json:"match_method"`
	MatchPath           *string `json:"match_path"`
	MatchHeadersJSON    *string `json:"match_headers_json"`
	ResponseBody        string  `json:"response_body"`
	ResponseHeadersJSON *string `json:"response_headers_json"`
	ResponseStatus      int     `json:"response_status"`
	ResponseDelayMs     int     `json:"response_delay_ms"`
	Active              bool    `json:"active"`
	CreatedAtNs         int64   `json:"created_at_ns"`
	UpdatedAtNs         int64   `json:"updated_at_ns"`
}

// MatchHeaders decodes the header-equality map. Nil JSON means no
// header constraint.
func (r *Rule) MatchHeaders() (map[string]string, error) {
	return decodeStringMap(r.MatchHeadersJSON)
}

// ResponseHeaders decodes the response header map.
func (r *Rule) ResponseHeaders() (map[string]string, error) {
	return decodeStringMap(r.ResponseHeadersJSON)
}

func decodeStringMap(raw *string) (map[string]string, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(*raw), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// RequestLog is the immutable record of a served request.
type RequestLog struct {
	ID              string  `json:"id"`
	EndpointID      string  `json:"endpoint_id"`
	Method          string  `json:"method"`
	Path            string  `json:"path"`
	HeadersJSON     string  `json:"headers_json"`
	Body            *string `json:"body"`
	MatchedRuleID   *string `json:"matched_rule_id"`
	MatchedRuleName *string `json:"matched_rule_name"`
	PathParamsJSON  *string `json:"path_params_json"`
	ResponseStatus  int     `json:"response_status"`
	ResponseTimeMs  int64   `json:"response_time_ms"`
	ClientCountry   string  `json:"client_country"`
	CreatedAtNs     int64   `json:"created_at_ns"`
}

// RequestLogView is the wire representation of a log entry, shared by
// the admin surface and the inspector hub.
type RequestLogView struct {
	ID              string  `json:"id"`
	EndpointID      string  `json:"endpoint_id"`
	Method          string  `json:"method"`
	Path            string  `json:"path"`
	Headers         string  `json:"headers"`
	Body            *string `json:"body"`
	Timestamp       string  `json:"timestamp"`
	MatchedRuleID   *string `json:"matched_rule_id"`
	MatchedRuleName *string `json:"matched_rule_name"`
	PathParams      *string `json:"path_params"`
	ResponseStatus  int     `json:"response_status"`
	ResponseTimeMs  int64   `json:"response_time_ms"`
	ClientCountry   string  `json:"client_country,omitempty"`
}

// View converts a log row to its wire form. Timestamps are ISO-8601 UTC.
func (l RequestLog) View() RequestLogView {
	return RequestLogView{
		ID:              l.ID,
		EndpointID:      l.EndpointID,
		Method:          l.Method,
		Path:            l.Path,
		Headers:         l.HeadersJSON,
		Body:            l.Body,
		Timestamp:       time.Unix(0, l.CreatedAtNs).UTC().Format(time.RFC3339Nano),
		MatchedRuleID:   l.MatchedRuleID,
		MatchedRuleName: l.MatchedRuleName,
		PathParams:      l.PathParamsJSON,
		ResponseStatus:  l.ResponseStatus,
		ResponseTimeMs:  l.ResponseTimeMs,
		ClientCountry:   l.ClientCountry,
	}
}

// NewEndpointID returns a fresh opaque endpoint id.
func NewEndpointID() string { return "ep_" + flatUUID() }

// NewRuleID returns a fresh opaque rule id.
func NewRuleID() string { return "rul_" + flatUUID() }

// NewRequestLogID returns a fresh opaque request log id.
func NewRequestLogID() string { return "req_" + flatUUID() }

func flatUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
