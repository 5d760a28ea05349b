package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/mocknest/mocknest/internal/tenant"
)

// AuthMiddleware validates the X-Internal-Auth shared secret. Missing
// or mismatched secrets get 401 with the standard error envelope.
func AuthMiddleware(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-Auth")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			WriteError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestBodyLimitMiddleware enforces a max request body size for
// downstream handlers.
func RequestBodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// resolveTenant selects the caller's tenant from the X-Mock-Tenant
// header. Writes the error response and returns false on failure.
func resolveTenant(reg *tenant.Registry, w http.ResponseWriter, r *http.Request) (*tenant.Runtime, bool) {
	name := r.Header.Get("X-Mock-Tenant")
	if name == "" {
		WriteError(w, http.StatusBadRequest, "X-Mock-Tenant header is required")
		return nil, false
	}
	rt, err := reg.Tenant(name)
	if err != nil {
		switch {
		case isClientTenantError(err):
			WriteError(w, http.StatusBadRequest, "Invalid tenant name")
		default:
			WriteError(w, http.StatusInternalServerError, "Internal server error")
		}
		return nil, false
	}
	return rt, true
}
