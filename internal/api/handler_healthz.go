package api

import (
	"net/http"

	"github.com/mocknest/mocknest/internal/buildinfo"
)

// HandleHealthz handles GET /healthz. Unauthenticated liveness probe.
func HandleHealthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": buildinfo.Version,
		})
	})
}
