package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/tenant"
)

const (
	testSecret = "test-secret"
	testTenant = "acme"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	reg := tenant.NewRegistry(t.TempDir(), tenant.Options{
		Window:        time.Minute,
		RulesCacheTTL: time.Minute,
		Reserved:      []string{"admin"},
	})
	t.Cleanup(reg.Close)
	return NewServer("", 0, testSecret, reg, 1<<20)
}

// do issues an authenticated admin request for the test tenant.
func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("X-Internal-Auth", testSecret)
	r.Header.Set("X-Mock-Tenant", testTenant)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, w.Body.String())
	}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, w.Body.String())
	}
	return envelope.Error
}

func createEndpoint(t *testing.T, srv *Server, body string) model.Endpoint {
	t.Helper()
	w := do(t, srv, "POST", "/__internal/endpoints", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create endpoint: %d %s", w.Code, w.Body.String())
	}
	var ep model.Endpoint
	decodeData(t, w, &ep)
	return ep
}

// --- auth ---

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	r := httptest.NewRequest("GET", "/__internal/endpoints", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: %d", w.Code)
	}
	if errorMessage(t, w) != "Unauthorized" {
		t.Fatalf("body: %s", w.Body.String())
	}

	r = httptest.NewRequest("GET", "/__internal/endpoints", nil)
	r.Header.Set("X-Internal-Auth", "wrong")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong secret: %d", w.Code)
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
}

func TestTenantHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	r := httptest.NewRequest("GET", "/__internal/endpoints", nil)
	r.Header.Set("X-Internal-Auth", testSecret)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing tenant header: %d", w.Code)
	}

	// Reserved tenant names are rejected.
	r = httptest.NewRequest("GET", "/__internal/endpoints", nil)
	r.Header.Set("X-Internal-Auth", testSecret)
	r.Header.Set("X-Mock-Tenant", "admin")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("reserved tenant: %d", w.Code)
	}
}

// --- endpoints ---

func TestEndpointCRUD(t *testing.T) {
	srv := newTestServer(t)

	ep := createEndpoint(t, srv, `{"path": "/users/:id", "response_body": "{\"id\": \"{{id}}\"}"}`)
	if ep.Path != "/users/:id" || ep.StatusCode != 200 || ep.RateLimit != 60 {
		t.Fatalf("defaults not applied: %+v", ep)
	}
	if !strings.HasPrefix(ep.ID, "ep_") {
		t.Fatalf("id = %q", ep.ID)
	}

	var list []model.Endpoint
	w := do(t, srv, "GET", "/__internal/endpoints", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	decodeData(t, w, &list)
	if len(list) != 1 || list[0].ID != ep.ID {
		t.Fatalf("list: %+v", list)
	}

	w = do(t, srv, "PUT", "/__internal/endpoints/"+ep.ID,
		`{"path": "/users/:id", "response_body": "{}", "status_code": 418, "rate_limit": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	var updated model.Endpoint
	decodeData(t, w, &updated)
	if updated.StatusCode != 418 || updated.RateLimit != 5 {
		t.Fatalf("update: %+v", updated)
	}

	w = do(t, srv, "DELETE", "/__internal/endpoints/"+ep.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	var ok struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &ok); err != nil || !ok.Success {
		t.Fatalf("delete body: %s", w.Body.String())
	}

	w = do(t, srv, "DELETE", "/__internal/endpoints/"+ep.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("double delete: %d", w.Code)
	}
}

func TestEndpointDuplicatePath(t *testing.T) {
	srv := newTestServer(t)

	createEndpoint(t, srv, `{"path": "/dup", "response_body": "{}"}`)
	w := do(t, srv, "POST", "/__internal/endpoints", `{"path": "/dup", "response_body": "{}"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate path: %d %s", w.Code, w.Body.String())
	}
}

func TestEndpointValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name, body string
	}{
		{"missing path", `{"response_body": "{}"}`},
		{"relative path", `{"path": "users", "response_body": "{}"}`},
		{"missing body", `{"path": "/x"}`},
		{"invalid template json", `{"path": "/x", "response_body": "{broken"}`},
		{"bad status", `{"path": "/x", "response_body": "{}", "status_code": 99}`},
		{"negative delay", `{"path": "/x", "response_body": "{}", "delay_ms": -1}`},
		{"zero rate limit", `{"path": "/x", "response_body": "{}", "rate_limit": 0}`},
		{"unknown field", `{"path": "/x", "response_body": "{}", "bogus": 1}`},
	}
	for _, tt := range tests {
		w := do(t, srv, "POST", "/__internal/endpoints", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: %d %s", tt.name, w.Code, w.Body.String())
		}
	}

	// Template tokens in otherwise-valid JSON pass.
	w := do(t, srv, "POST", "/__internal/endpoints",
		`{"path": "/tpl", "response_body": "{\"n\": {{$randomInt}}}"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("template body rejected: %d %s", w.Code, w.Body.String())
	}
}

func TestEndpointPartialUpdate(t *testing.T) {
	srv := newTestServer(t)
	ep := createEndpoint(t, srv,
		`{"path": "/users/:id", "response_body": "{\"id\": \"{{id}}\"}", "status_code": 201}`)

	// A body naming only rate_limit leaves everything else alone.
	w := do(t, srv, "PUT", "/__internal/endpoints/"+ep.ID, `{"rate_limit": 5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("partial update: %d %s", w.Code, w.Body.String())
	}
	var updated model.Endpoint
	decodeData(t, w, &updated)
	if updated.RateLimit != 5 {
		t.Fatalf("rate_limit not applied: %+v", updated)
	}
	if updated.Path != "/users/:id" || updated.ResponseBody != `{"id": "{{id}}"}` || updated.StatusCode != 201 {
		t.Fatalf("absent fields must keep their values: %+v", updated)
	}

	// Present fields are still validated.
	w = do(t, srv, "PUT", "/__internal/endpoints/"+ep.ID, `{"status_code": 99}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid present field: %d %s", w.Code, w.Body.String())
	}
	w = do(t, srv, "PUT", "/__internal/endpoints/"+ep.ID, `{"path": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty path: %d %s", w.Code, w.Body.String())
	}
}

func TestEndpointPathNormalized(t *testing.T) {
	srv := newTestServer(t)
	ep := createEndpoint(t, srv, `{"path": "/users//42/", "response_body": "{}"}`)
	if ep.Path != "/users/42" {
		t.Fatalf("path = %q", ep.Path)
	}
}

// --- rules ---

func TestRuleCRUD(t *testing.T) {
	srv := newTestServer(t)
	ep := createEndpoint(t, srv, `{"path": "/orders", "response_body": "{}"}`)

	w := do(t, srv, "POST", "/__internal/rules",
		`{"endpoint_id": "`+ep.ID+`", "name": "created", "priority": 5, "match_method": "POST",
		  "response_body": "{\"ok\": true}", "response_status": 201,
		  "response_headers": {"X-Custom": "yes"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", w.Code, w.Body.String())
	}
	var rule model.Rule
	decodeData(t, w, &rule)
	if rule.Name != "created" || !rule.Active || rule.ResponseStatus != 201 {
		t.Fatalf("rule: %+v", rule)
	}
	if !strings.HasPrefix(rule.ID, "rul_") {
		t.Fatalf("id = %q", rule.ID)
	}

	var rules []model.Rule
	w = do(t, srv, "GET", "/__internal/rules?endpointId="+ep.ID, "")
	decodeData(t, w, &rules)
	if len(rules) != 1 {
		t.Fatalf("list: %+v", rules)
	}

	w = do(t, srv, "PUT", "/__internal/rules/"+rule.ID,
		`{"name": "renamed", "response_body": "{}", "active": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}
	var updated model.Rule
	decodeData(t, w, &updated)
	if updated.Name != "renamed" || updated.Active {
		t.Fatalf("update: %+v", updated)
	}

	w = do(t, srv, "DELETE", "/__internal/rules/"+rule.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w = do(t, srv, "DELETE", "/__internal/rules/"+rule.ID, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("double delete: %d", w.Code)
	}
}

func TestRuleUnknownEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := do(t, srv, "POST", "/__internal/rules",
		`{"endpoint_id": "ep_missing", "name": "orphan", "response_body": "{}"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown endpoint: %d %s", w.Code, w.Body.String())
	}
}

func TestRuleValidation(t *testing.T) {
	srv := newTestServer(t)
	ep := createEndpoint(t, srv, `{"path": "/v", "response_body": "{}"}`)

	tests := []struct {
		name, body string
	}{
		{"missing name", `{"endpoint_id": "` + ep.ID + `", "response_body": "{}"}`},
		{"missing body", `{"endpoint_id": "` + ep.ID + `", "name": "n"}`},
		{"bad status", `{"endpoint_id": "` + ep.ID + `", "name": "n", "response_body": "{}", "response_status": 700}`},
		{"bad header name", `{"endpoint_id": "` + ep.ID + `", "name": "n", "response_body": "{}", "response_headers": {"bad header": "v"}}`},
		{"header value with newline", `{"endpoint_id": "` + ep.ID + `", "name": "n", "response_body": "{}", "response_headers": {"X-Ok": "a\nb"}}`},
	}
	for _, tt := range tests {
		w := do(t, srv, "POST", "/__internal/rules", tt.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: %d %s", tt.name, w.Code, w.Body.String())
		}
	}
}

func TestRulePartialUpdate(t *testing.T) {
	srv := newTestServer(t)
	ep := createEndpoint(t, srv, `{"path": "/orders", "response_body": "{}"}`)

	w := do(t, srv, "POST", "/__internal/rules",
		`{"endpoint_id": "`+ep.ID+`", "name": "only-post", "match_method": "POST",
		  "response_body": "{\"ok\": true}", "response_status": 201}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: %d %s", w.Code, w.Body.String())
	}
	var rule model.Rule
	decodeData(t, w, &rule)

	// A body naming only active leaves everything else alone.
	w = do(t, srv, "PUT", "/__internal/rules/"+rule.ID, `{"active": false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("partial update: %d %s", w.Code, w.Body.String())
	}
	var updated model.Rule
	decodeData(t, w, &updated)
	if updated.Active {
		t.Fatalf("active not applied: %+v", updated)
	}
	if updated.Name != "only-post" || updated.ResponseBody != `{"ok": true}` || updated.ResponseStatus != 201 {
		t.Fatalf("absent fields must keep their values: %+v", updated)
	}
	if updated.MatchMethod == nil || *updated.MatchMethod != "POST" {
		t.Fatalf("absent match_method must keep its value: %+v", updated)
	}

	// An empty match field clears the constraint.
	w = do(t, srv, "PUT", "/__internal/rules/"+rule.ID, `{"match_method": ""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("clear match_method: %d %s", w.Code, w.Body.String())
	}
	decodeData(t, w, &updated)
	if updated.MatchMethod != nil {
		t.Fatalf("match_method must be cleared: %+v", updated)
	}

	// Present fields are still validated.
	w = do(t, srv, "PUT", "/__internal/rules/"+rule.ID, `{"name": ""}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty name: %d %s", w.Code, w.Body.String())
	}
}

// --- logs ---

func TestLogsEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := do(t, srv, "GET", "/__internal/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("empty list: %d", w.Code)
	}
	var views []model.RequestLogView
	decodeData(t, w, &views)
	if len(views) != 0 {
		t.Fatalf("expected empty history: %+v", views)
	}

	w = do(t, srv, "GET", "/__internal/logs?limit=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", w.Code)
	}

	w = do(t, srv, "DELETE", "/__internal/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d", w.Code)
	}

	w = do(t, srv, "GET", "/__internal/logs/req_missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing log: %d", w.Code)
	}
}

func TestTenantIsolation(t *testing.T) {
	srv := newTestServer(t)
	createEndpoint(t, srv, `{"path": "/mine", "response_body": "{}"}`)

	// Another tenant sees an empty collection.
	r := httptest.NewRequest("GET", "/__internal/endpoints", nil)
	r.Header.Set("X-Internal-Auth", testSecret)
	r.Header.Set("X-Mock-Tenant", "other")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("other tenant list: %d", w.Code)
	}
	var list []model.Endpoint
	decodeData(t, w, &list)
	if len(list) != 0 {
		t.Fatalf("tenants must not share endpoints: %+v", list)
	}
}
