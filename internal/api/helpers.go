package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"golang.org/x/net/http/httpguts"

	"github.com/mocknest/mocknest/internal/template"
	"github.com/mocknest/mocknest/internal/tenant"
)

func isClientTenantError(err error) bool {
	return errors.Is(err, tenant.ErrInvalidName) || errors.Is(err, tenant.ErrReservedName)
}

type requestBodyTooLargeError struct {
	Limit int64
}

func (e *requestBodyTooLargeError) Error() string {
	return fmt.Sprintf("request body too large (max %d bytes)", e.Limit)
}

// DecodeBody decodes the JSON request body into v, rejecting unknown
// fields and trailing values.
func DecodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &requestBodyTooLargeError{Limit: maxErr.Limit}
		}
		return fmt.Errorf("invalid request body: must contain a single JSON value")
	}
	return nil
}

// writeDecodeError maps body-decoding failures to the right status.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *requestBodyTooLargeError
	if errors.As(err, &tooLarge) {
		WriteError(w, http.StatusRequestEntityTooLarge, tooLarge.Error())
		return
	}
	WriteError(w, http.StatusBadRequest, err.Error())
}

// validateTemplateBody checks that body parses as JSON once template
// tokens are replaced with placeholders.
func validateTemplateBody(field, body string) error {
	if body == "" {
		return fmt.Errorf("%s: is required", field)
	}
	if !json.Valid([]byte(template.StripForValidation(body))) {
		return fmt.Errorf("%s: must be valid JSON (template tokens allowed)", field)
	}
	return nil
}

func validateStatusCode(field string, status int) error {
	if status < 100 || status > 599 {
		return fmt.Errorf("%s: must be in [100,599]", field)
	}
	return nil
}

// validateHeaderMap rejects header names or values that cannot legally
// appear on an HTTP response.
func validateHeaderMap(field string, m map[string]string) error {
	for name, value := range m {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%s: invalid header name %q", field, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("%s: invalid value for header %q", field, name)
		}
	}
	return nil
}

// encodeStringMap serializes a header map for storage. Nil and empty
// maps collapse to nil, which means no constraint / no extra headers.
func encodeStringMap(m map[string]string) *string {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	s := string(b)
	return &s
}

// parseLimitQuery reads an optional positive integer limit.
func parseLimitQuery(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit: must be a positive integer")
	}
	return n, nil
}
