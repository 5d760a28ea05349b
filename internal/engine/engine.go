// Package engine implements the per-tenant request-serving state
// machine: endpoint selection, rate limiting, rule selection, template
// rendering, logging, and broadcast.
package engine

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mocknest/mocknest/internal/model"
	"github.com/mocknest/mocknest/internal/pathmatch"
	"github.com/mocknest/mocknest/internal/ratelimit"
	"github.com/mocknest/mocknest/internal/store"
	"github.com/mocknest/mocknest/internal/template"
)

// Broadcaster receives each persisted log entry for fan-out to
// inspector sessions. Implementations must not block the caller.
type Broadcaster interface {
	Broadcast(view model.RequestLogView)
}

// CountryResolver maps a client address to an ISO country code, or ""
// when unknown.
type CountryResolver interface {
	Country(addr netip.Addr) string
}

// Engine serves mock traffic for one tenant.
type Engine struct {
	store   *store.Store
	limiter *ratelimit.Limiter
	hub     Broadcaster
	geo     CountryResolver
	now     func() time.Time

	// logMu serializes the persist+broadcast pair so entries reach the
	// database and every subscribed socket in the same arrival order.
	logMu sync.Mutex
}

// New creates an engine over the tenant's store and limiter. hub and
// geo may be nil.
func New(st *store.Store, limiter *ratelimit.Limiter, hub Broadcaster, geo CountryResolver) *Engine {
	return &Engine{
		store:   st,
		limiter: limiter,
		hub:     hub,
		geo:     geo,
		now:     time.Now,
	}
}

// Infrastructure headers stripped from persisted logs (case-insensitive).
var filteredLogHeaders = map[string]struct{}{
	"cf-connecting-ip":   {},
	"cf-ipcountry":       {},
	"cf-ray":             {},
	"cf-visitor":         {},
	"cf-request-id":      {},
	"cf-warp-tag-id":     {},
	"cf-ew-via":          {},
	"cf-pseudo-ipv4":     {},
	"cf-connecting-ipv6": {},
	"x-forwarded-proto":  {},
	"x-forwarded-for":    {},
	"x-real-ip":          {},
	"cdn-loop":           {},
}

// ServeHTTP runs the full state machine for one inbound mock request.
// r.URL.Path must already have any tenant prefix stripped.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := e.now()

	// 1. Read.
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	var body *string
	if len(raw) > 0 {
		s := string(raw)
		body = &s
	}

	// 2. Normalize.
	path := pathmatch.Normalize(r.URL.Path)

	// 3. Endpoint selection.
	ep, params, err := e.matchEndpoint(path)
	if err != nil {
		log.Printf("[engine] list endpoints: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if ep == nil {
		writeJSONError(w, http.StatusNotFound, "Endpoint not found")
		return
	}

	// 4. Rate limit.
	decision, err := e.limiter.Allow(ep.ID, ep.RateLimit)
	if err != nil {
		log.Printf("[engine] rate limit check for %s: %v", ep.ID, err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !decision.Allowed {
		writeRateLimited(w, decision)
		return
	}

	// 5. Rule selection.
	rules, err := e.store.RulesForEndpoint(ep.ID)
	if err != nil {
		log.Printf("[engine] load rules for %s: %v", ep.ID, err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	rule, ruleParams := selectRule(rules, r.Method, path, r.Header, params)

	// 6. Response computation.
	status := ep.StatusCode
	respBody := ep.ResponseBody
	delayMs := ep.DelayMs
	respHeaders := map[string]string{"Content-Type": "application/json"}
	if rule != nil {
		status = rule.ResponseStatus
		respBody = rule.ResponseBody
		delayMs = rule.ResponseDelayMs
		params = ruleParams
		extra, err := rule.ResponseHeaders()
		if err != nil {
			log.Printf("[engine] warning: rule %s has malformed response_headers_json: %v", rule.ID, err)
		}
		for k, v := range extra {
			respHeaders[k] = v
		}
	}

	// 7. Template render.
	rendered := template.Render(respBody, &template.Context{
		Method:      r.Method,
		Path:        path,
		Header:      r.Header,
		Query:       r.URL.Query(),
		Body:        body,
		ContentType: r.Header.Get("Content-Type"),
		PathParams:  params,
	})

	// 8. Timing: wall time up to here, excluding the artificial delay.
	elapsedMs := e.now().Sub(start).Milliseconds()

	// 9. Log, then broadcast.
	entry := e.buildLogEntry(ep, rule, r, path, body, params, status, elapsedMs)
	if err := e.persistAndBroadcast(&entry); err != nil {
		// The rate-limit slot stays consumed: over-counting is safer
		// than double-serving.
		log.Printf("[engine] insert log for %s: %v", ep.ID, err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// 10. Delay. A timer wait, not a critical section; abandon the
	// response if the client goes away.
	if delayMs > 0 {
		timer := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
		}
	}

	// 11. Return.
	h := w.Header()
	for k, v := range respHeaders {
		h.Set(k, v)
	}
	setRateLimitHeaders(h, decision)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, rendered)
}

// persistAndBroadcast stamps the entry's timestamp, writes it, and
// fans it out, all under logMu, so database order, timestamp order,
// and socket order agree.
func (e *Engine) persistAndBroadcast(entry *model.RequestLog) error {
	e.logMu.Lock()
	defer e.logMu.Unlock()
	entry.CreatedAtNs = e.now().UnixNano()
	if err := e.store.InsertLog(*entry); err != nil {
		return err
	}
	if e.hub != nil {
		e.hub.Broadcast(entry.View())
	}
	return nil
}

// matchEndpoint returns the most specific endpoint matching path, with
// its captured parameters. Specificity ties fall back to creation
// order, which the stable sort preserves from the store's ordering.
func (e *Engine) matchEndpoint(path string) (*model.Endpoint, map[string]string, error) {
	endpoints, err := e.store.ListEndpoints()
	if err != nil {
		return nil, nil, err
	}
	sort.SliceStable(endpoints, func(i, j int) bool {
		return pathmatch.Specificity(endpoints[i].Path) > pathmatch.Specificity(endpoints[j].Path)
	})
	for i := range endpoints {
		if params, ok := pathmatch.Match(endpoints[i].Path, path); ok {
			return &endpoints[i], params, nil
		}
	}
	return nil, nil, nil
}

func (e *Engine) buildLogEntry(
	ep *model.Endpoint,
	rule *model.Rule,
	r *http.Request,
	path string,
	body *string,
	params map[string]string,
	status int,
	elapsedMs int64,
) model.RequestLog {
	entry := model.RequestLog{
		ID:             model.NewRequestLogID(),
		EndpointID:     ep.ID,
		Method:         r.Method,
		Path:           path,
		HeadersJSON:    filteredHeadersJSON(r.Header),
		Body:           body,
		ResponseStatus: status,
		ResponseTimeMs: elapsedMs,
	}
	if rule != nil {
		id := rule.ID
		name := rule.Name
		entry.MatchedRuleID = &id
		entry.MatchedRuleName = &name
	}
	if len(params) > 0 {
		if b, err := json.Marshal(params); err == nil {
			s := string(b)
			entry.PathParamsJSON = &s
		}
	}
	if e.geo != nil {
		if addr, ok := clientAddr(r); ok {
			entry.ClientCountry = e.geo.Country(addr)
		}
	}
	return entry
}

// filteredHeadersJSON serializes request headers with infrastructure
// headers removed. Multi-valued headers join with ", ".
func filteredHeadersJSON(header http.Header) string {
	m := make(map[string]string, len(header))
	for name, values := range header {
		if _, drop := filteredLogHeaders[strings.ToLower(name)]; drop {
			continue
		}
		m[name] = strings.Join(values, ", ")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// clientAddr extracts the caller's address, preferring the headers the
// edge sets before they are stripped from the log.
func clientAddr(r *http.Request) (netip.Addr, bool) {
	for _, h := range []string{"CF-Connecting-IP", "X-Real-IP"} {
		if v := r.Header.Get(h); v != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(v)); err == nil {
				return addr, true
			}
		}
	}
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		first := strings.TrimSpace(strings.SplitN(v, ",", 2)[0])
		if addr, err := netip.ParseAddr(first); err == nil {
			return addr, true
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	return addr, err == nil
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnix, 10))
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Limit      int    `json:"limit"`
	RetryAfter int64  `json:"retryAfter"`
}

func writeRateLimited(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	setRateLimitHeaders(h, d)
	h.Set("Retry-After", strconv.FormatInt(d.RetryAfterSec, 10))
	w.WriteHeader(http.StatusTooManyRequests)
	// Marshal, not Encode: the contract body is byte-exact, with no
	// trailing newline.
	b, _ := json.Marshal(rateLimitedBody{
		Error:      "Rate limit exceeded",
		Code:       "RATE_LIMIT_EXCEEDED",
		Limit:      d.Limit,
		RetryAfter: d.RetryAfterSec,
	})
	_, _ = w.Write(b)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
