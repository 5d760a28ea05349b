package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/store"
	"github.com/mocknest/mocknest/internal/tenant"
)

// ruleRequest is the create/update body for rules. Header maps arrive
// as JSON objects and are stored serialized. Every field is a pointer
// (or a nilable map): create requires name and response_body, update
// touches only the fields present in the body. An empty match field
// clears that constraint.
type ruleRequest struct {
	EndpointID      string            `json:"endpoint_id"`
	Name            *string           `json:"name"`
	Priority        *int              `json:"priority"`
	MatchMethod     *string           `json:"match_method"`
	MatchPath       *string           `json:"match_path"`
	MatchHeaders    map[string]string `json:"match_headers"`
	ResponseBody    *string           `json:"response_body"`
	ResponseHeaders map[string]string `json:"response_headers"`
	ResponseStatus  *int              `json:"response_status"`
	ResponseDelayMs *int              `json:"response_delay_ms"`
	Active          *bool             `json:"active"`
}

func (req *ruleRequest) validate(create bool) error {
	if create && req.EndpointID == "" {
		return fmt.Errorf("endpoint_id: is required")
	}
	if create && req.Name == nil {
		return fmt.Errorf("name: is required")
	}
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name: is required")
	}
	if req.MatchPath != nil && *req.MatchPath != "" && !strings.HasPrefix(*req.MatchPath, "/") {
		return fmt.Errorf("match_path: must start with /")
	}
	if create && req.ResponseBody == nil {
		return fmt.Errorf("response_body: is required")
	}
	if req.ResponseBody != nil {
		if err := validateTemplateBody("response_body", *req.ResponseBody); err != nil {
			return err
		}
	}
	if req.ResponseStatus != nil {
		if err := validateStatusCode("response_status", *req.ResponseStatus); err != nil {
			return err
		}
	}
	if req.ResponseDelayMs != nil && *req.ResponseDelayMs < 0 {
		return fmt.Errorf("response_delay_ms: must be >= 0")
	}
	return validateHeaderMap("response_headers", req.ResponseHeaders)
}

// apply copies the present fields onto rule; absent fields keep rule's
// current values.
func (req *ruleRequest) apply(rule *model.Rule) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.MatchMethod != nil {
		rule.MatchMethod = nilIfEmpty(*req.MatchMethod)
	}
	if req.MatchPath != nil {
		rule.MatchPath = nilIfEmpty(*req.MatchPath)
	}
	if req.MatchHeaders != nil {
		rule.MatchHeadersJSON = encodeStringMap(req.MatchHeaders)
	}
	if req.ResponseBody != nil {
		rule.ResponseBody = *req.ResponseBody
	}
	if req.ResponseHeaders != nil {
		rule.ResponseHeadersJSON = encodeStringMap(req.ResponseHeaders)
	}
	if req.ResponseStatus != nil {
		rule.ResponseStatus = *req.ResponseStatus
	}
	if req.ResponseDelayMs != nil {
		rule.ResponseDelayMs = *req.ResponseDelayMs
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// HandleListRules handles GET /__internal/rules?endpointId=.
func HandleListRules(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		rules, err := rt.Store.ListRules(r.URL.Query().Get("endpointId"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if rules == nil {
			rules = []model.Rule{}
		}
		WriteData(w, http.StatusOK, rules)
	})
}

// HandleCreateRule handles POST /__internal/rules.
func HandleCreateRule(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		var req ruleRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := req.validate(true); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		now := time.Now().UnixNano()
		rule := model.Rule{
			ID:             model.NewRuleID(),
			EndpointID:     req.EndpointID,
			ResponseStatus: defaultStatusCode,
			Active:         true,
			CreatedAtNs:    now,
			UpdatedAtNs:    now,
		}
		req.apply(&rule)

		if err := rt.Store.CreateRule(rule); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Endpoint not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteData(w, http.StatusCreated, rule)
	})
}

// HandleUpdateRule handles PUT /__internal/rules/{id}. The update is
// partial: absent fields keep their current values. The rule's
// endpoint binding is immutable; endpoint_id in the body is ignored.
func HandleUpdateRule(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		id := r.PathValue("id")
		rule, err := rt.Store.GetRule(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Rule not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		var req ruleRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		if err := req.validate(false); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		req.apply(&rule)
		rule.UpdatedAtNs = time.Now().UnixNano()

		if err := rt.Store.UpdateRule(rule); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Rule not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteData(w, http.StatusOK, rule)
	})
}

// HandleDeleteRule handles DELETE /__internal/rules/{id}.
func HandleDeleteRule(reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt, ok := resolveTenant(reg, w, r)
		if !ok {
			return
		}
		if err := rt.Store.DeleteRule(r.PathValue("id")); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "Rule not found")
				return
			}
			WriteError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		WriteSuccess(w)
	})
}
