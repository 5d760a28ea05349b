package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/pathmatch"
	"github.com/mocknest/mocknest/internal/store"
	"github.com/mocknest/mocknest/internal/tenant"
)

// Defaults applied when a create request omits optional fields.
const (
	defaultStatusCode = 200
	defaultRateLimit  = 60
)

// endpointRequest is the create/update body. Every field is a pointer:
// create requires path and response_body and fills defaults for the
// rest, update touches only the fields present in the body.
type endpointRequest struct {
	Path         *string `json:"path"`
	ResponseBody *string `json:"response_body"`
	StatusCode   *int    `json:"status_code"`
	DelayMs      *int    `json:"delay_ms"`
	RateLimit    *int    `json:"rate_limit"`
}

func (req *endpointRequest) validate(create bool) error {
	if create && req.Path == nil {
		return fmt.Errorf("path: is required")
	}
	if req.Path != nil {
		if *req.Path == "" {
			return fmt.Errorf("path: is required")
		}
		if !strings.HasPrefix(*req.Path, "/") {
			return fmt.Errorf("path: must start with /")
		}
	}
	if create && req.ResponseBody == nil {
		return fmt.Errorf("response_body: is required")
	}
	if req.ResponseBody != nil {
		if err := validateTemplateBody("response_body", *req.ResponseBody); err != nil {
			return err
		}
	}
	if req.StatusCode != nil {
		if err := validateStatusCode("status_code", *req.StatusCode); err != nil {
			return err
		}
	}
	if req.DelayMs != nil && *req.DelayMs < 0 {
		return fmt.Errorf("delay_ms: must be >= 0")
	}
	if req.RateLimit != nil && *req.RateLimit < 1 {
		return fmt.Errorf("rate_limit: must be >= 1")
	}
	return nil
}

// apply copies the present fields onto e; absent fields keep e's
// current values.
func (req *endpointRequest) apply(e *model.Endpoint) {
	if req.Path != nil {
		e.Path = pathmatch.Normalize(*req.Path)
	}
	if req.ResponseBody != nil {
		e.ResponseBody = *req.ResponseBody
	}
	if req.StatusCode != nil {
		e.StatusCode = *req.StatusCode
	}
	if req.DelayMs != nil {
		e.DelayMs = *req.DelayMs
	}
	if req.RateLimit != nil {
		e.RateLimit = *req.RateLimit
	}
}

// HandleListEndpoints handles GET /__internal/endpoints.
func HandleListEndpoints(reg *tenant.Registry) http.Handler {
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
		if endpoints == nil {
			endpoints = []model.Endpoint{}
		}
		WriteData(w, http.StatusOK, endpoints)
	})
}

// HandleCreateEndpoint handles POST /__internal/endpoints.
func HandleCreateEndpoint(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		var req endpointRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := req.validate(true); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		now := time.Now().UnixNano()
		ep := model.Endpoint{
			ID:          model.NewEndpointID(),
			StatusCode:  defaultStatusCode,
			RateLimit:   defaultRateLimit,
			CreatedAtNs: now,
			UpdatedAtNs: now,
		}
		req.apply(&ep)

		if err := rt.Store.CreateEndpoint(ep); err != nil {
			if errors.Is(err, store.ErrDuplicatePath) {
				WriteError(w, http.StatusConflict, "An endpoint with this path already exists")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteData(w, http.StatusCreated, ep)
	})
}

// HandleUpdateEndpoint handles PUT /__internal/endpoints/{id}. The
// update is partial: absent fields keep their current values.
func HandleUpdateEndpoint(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		id := r.PathValue("id")
		ep, err := rt.Store.GetEndpoint(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Endpoint not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		var req endpointRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := req.validate(false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		req.apply(&ep)
		ep.UpdatedAtNs = time.Now().UnixNano()

		if err := rt.Store.UpdateEndpoint(ep); err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicatePath):
				WriteError(w, http.StatusConflict, "An endpoint with this path already exists")
			case errors.Is(err, store.ErrNotFound):
				WriteError(w, http.StatusNotFound, "Endpoint not found")
			default:
				WriteError(w, http.StatusInternalServerError, "Internal server error")
			}
			return
		}
		WriteData(w, http.StatusOK, ep)
	})
}

// HandleDeleteEndpoint handles DELETE /__internal/endpoints/{id}.
// Rules and logs of the endpoint cascade away with it.
func HandleDeleteEndpoint(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		if err := rt.Store.DeleteEndpoint(r.PathValue("id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Endpoint not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteSuccess(w)
	})
}
