package main

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mocknest/mocknest/internal/tenant"
)

// pathTenantPrefix is the fallback tenant prefix on the public port
// when host-based resolution does not apply.
const pathTenantPrefix = "/m/"

// newInboundMux routes public mock traffic. Tenant resolution: the
// leftmost host label when the host carries hostSuffix, else the
// /m/{tenant} path prefix, which is stripped before matching. The
// admin surface is never reachable here.
func newInboundMux(hostSuffix string, reg *tenant.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, path, ok := resolveInbound(r, hostSuffix)
		if !ok {
			writeInboundNotFound(w)
			return
		}
		if strings.HasPrefix(path, "/__internal/") || path == "/__internal" {
			writeInboundNotFound(w)
			return
		}

		rt, err := reg.Tenant(name)
		if err != nil {
			// Invalid and reserved names are indistinguishable from
			// unknown ones on the public surface.
			writeInboundNotFound(w)
			return
		}

		r2 := r.Clone(r.Context())
		r2.URL.Path = path

		if isWebsocketUpgrade(r) {
			rt.Hub.ServeHTTP(w, r2)
			return
		}
		rt.Engine.ServeHTTP(w, r2)
	})
}

// resolveInbound extracts the tenant name and the tenant-relative path
// from a public request.
func resolveInbound(r *http.Request, hostSuffix string) (name, path string, ok bool) {
	if hostSuffix != "" {
		host := strings.ToLower(stripPort(r.Host))
		if rest, found := strings.CutSuffix(host, hostSuffix); found && rest != "" && !strings.Contains(rest, ".") {
			return rest, r.URL.Path, true
		}
	}

	if rest, found := strings.CutPrefix(r.URL.Path, pathTenantPrefix); found {
		name, remainder, _ := strings.Cut(rest, "/")
		if name == "" {
			return "", "", false
		}
		return name, "/" + remainder, true
	}
	return "", "", false
}

func stripPort(host string) string {
	if i := strings.LastIndexByte(host, ':'); i >= 0 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func writeInboundNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Endpoint not found"})
}
