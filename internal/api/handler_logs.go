package api

import (
	"errors"
	"net/http"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/store"
	"github.com/mocknest/mocknest/internal/tenant"
)

// HandleListLogs handles GET /__internal/logs?endpointId=&limit=.
// Entries come back newest first in wire form.
func HandleListLogs(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		limit, err := parseLimitQuery(r)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		logs, err := rt.Store.ListLogs(r.URL.Query().Get("endpointId"), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		views := make([]model.RequestLogView, 0, len(logs))
		for _, l := range logs {
			views = append(views, l.View())
		}
		WriteData(w, http.StatusOK, views)
	})
}

// HandleGetLog handles GET /__internal/logs/{id}.
func HandleGetLog(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		entry, err := rt.Store.GetLog(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Log entry not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteData(w, http.StatusOK, entry.View())
	})
}

// HandleClearLogs handles DELETE /__internal/logs?endpointId=. With no
// endpointId the tenant's whole history is cleared.
func HandleClearLogs(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		if err := rt.Store.ClearLogs(r.URL.Query().Get("endpointId")); err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteSuccess(w)
	})
}

// HandleStats handles GET /__internal/stats: a small tenant summary
// for dashboards.
func HandleStats(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		endpoints, err := rt.Store.ListEndpoints()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		logCount, err := rt.Store.CountLogs(r.URL.Query().Get("endpointId"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteData(w, http.StatusOK, map[string]any{
			"endpoints":          len(endpoints),
			"request_logs":       logCount,
			"inspector_sessions": rt.Hub.SessionCount(),
		})
	})
}
